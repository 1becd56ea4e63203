package model

import (
	"fmt"
	"time"
)

// Contract statuses
const (
	ContractDraft     = "draft"
	ContractActive    = "active"
	ContractCompleted = "completed"
	ContractCancelled = "cancelled"
)

// Milestone statuses
const (
	MilestonePending    = "pending"
	MilestoneInProgress = "in_progress"
	MilestoneSubmitted  = "submitted"
	MilestoneApproved   = "approved"
	MilestonePaid       = "paid"
)

// Role identifies which side of a contract an actor is on. Roles are always
// derived from the contract's party fields, never from client input.
type Role string

const (
	RoleEmployer   Role = "employer"
	RoleContractor Role = "contractor"
	RoleNone       Role = ""
)

// Contract is a two-party agreement between an employer and a contractor.
// Funds are held against the contract (or its milestones) until released by a
// confirmed payment. Contracts are never physically deleted; cancellation is
// a terminal status.
type Contract struct {
	ID               string `gorm:"primaryKey;size:36" json:"id"`
	EmployerID       string `gorm:"size:36;not null;index" json:"employer_id"`
	ContractorID     string `gorm:"size:36;not null;index" json:"contractor_id"`
	Title            string `gorm:"size:255" json:"title"`
	Status           string `gorm:"size:20;not null;index" json:"status"`
	EmployerSigned   bool   `gorm:"not null" json:"employer_signed"`
	ContractorSigned bool   `gorm:"not null" json:"contractor_signed"`
	// PaymentAmount is in minor currency units (cents); fixed at creation.
	PaymentAmount   int64  `gorm:"not null" json:"payment_amount"`
	PaymentCurrency string `gorm:"size:8;not null" json:"payment_currency"`
	// TotalPaid only ever grows, and never exceeds PaymentAmount.
	TotalPaid     int64  `gorm:"not null" json:"total_paid"`
	HasMilestones bool   `gorm:"not null" json:"has_milestones"`
	CancelReason  string `gorm:"type:text" json:"cancel_reason,omitempty"`
	// Version guards every write: a stale version is rejected and the
	// caller must re-fetch and retry.
	Version   int64     `gorm:"not null" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Contract) TableName() string {
	return "contracts"
}

// RoleOf returns the actor's role on this contract, or RoleNone if the actor
// is not a party to it.
func (c *Contract) RoleOf(userID string) Role {
	switch userID {
	case "":
		return RoleNone
	case c.EmployerID:
		return RoleEmployer
	case c.ContractorID:
		return RoleContractor
	}
	return RoleNone
}

// Terminal reports whether no further contract transitions are defined.
func (c *Contract) Terminal() bool {
	return c.Status == ContractCompleted || c.Status == ContractCancelled
}

// SignedBy reports whether the given party has already signed.
func (c *Contract) SignedBy(role Role) bool {
	switch role {
	case RoleEmployer:
		return c.EmployerSigned
	case RoleContractor:
		return c.ContractorSigned
	}
	return false
}

// Milestone is a slice of a contract's payment, gated by its own
// submit/approve/pay cycle. A milestone belongs to exactly one contract and
// its amount is fixed at contract creation. Once paid it is immutable.
type Milestone struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	ContractID string     `gorm:"size:36;not null;index" json:"contract_id"`
	Title      string     `gorm:"size:255" json:"title"`
	Amount     int64      `gorm:"not null" json:"amount"`
	Status     string     `gorm:"size:20;not null;index" json:"status"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	// Notes is the contractor's submission note.
	Notes string `gorm:"type:text" json:"notes,omitempty"`
	// Deliverable fields reference an object in blob storage, uploaded by
	// the contractor before or alongside submission.
	DeliverableObject string     `gorm:"type:text" json:"-"`
	DeliverableName   string     `gorm:"size:255" json:"deliverable_name,omitempty"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	Version           int64      `gorm:"not null" json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (Milestone) TableName() string {
	return "milestones"
}

// Validate checks the creation-time invariants of a contract and its
// milestones. It never inspects status fields; transitions are the state
// machines' concern.
func (c *Contract) Validate(milestones []*Milestone) error {
	if c.EmployerID == "" || c.ContractorID == "" {
		return fmt.Errorf("%w: both employer_id and contractor_id are required", ErrValidation)
	}
	if c.EmployerID == c.ContractorID {
		return fmt.Errorf("%w: employer and contractor must be different parties", ErrValidation)
	}
	if c.PaymentAmount <= 0 {
		return fmt.Errorf("%w: payment_amount must be positive", ErrValidation)
	}
	if c.PaymentCurrency == "" {
		return fmt.Errorf("%w: payment_currency is required", ErrValidation)
	}
	if c.HasMilestones != (len(milestones) > 0) {
		return fmt.Errorf("%w: has_milestones does not match the milestone list", ErrValidation)
	}
	var sum int64
	for _, m := range milestones {
		if m.Amount <= 0 {
			return fmt.Errorf("%w: milestone amount must be positive", ErrValidation)
		}
		sum += m.Amount
	}
	if c.HasMilestones && sum != c.PaymentAmount {
		return fmt.Errorf("%w: milestone amounts sum to %d, payment_amount is %d", ErrValidation, sum, c.PaymentAmount)
	}
	return nil
}
