package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/upshift01/upshift-sub003/model"
)

// ContractService is the contract-level state machine. Every transition
// consults the guard first and persists through the store's version check, so
// concurrent actions by the two parties on the same contract serialize
// cleanly: the stale writer gets Conflict and retries.
type ContractService struct {
	store    Store
	payments *PaymentService
}

func NewContractService(store Store, payments *PaymentService) *ContractService {
	return &ContractService{store: store, payments: payments}
}

type MilestoneInput struct {
	Title   string     `json:"title"`
	Amount  int64      `json:"amount"`
	DueDate *time.Time `json:"due_date,omitempty"`
}

type CreateContractInput struct {
	EmployerID      string           `json:"employer_id"`
	ContractorID    string           `json:"contractor_id"`
	Title           string           `json:"title"`
	PaymentAmount   int64            `json:"payment_amount"`
	PaymentCurrency string           `json:"payment_currency"`
	Milestones      []MilestoneInput `json:"milestones,omitempty"`
}

// PayResult is what a pay operation returns: either the already-settled
// state, or a pending session with the checkout URL the payer must visit.
type PayResult struct {
	Status  string                `json:"status"` // pending or paid
	Session *model.PaymentSession `json:"session"`
}

// Create validates and persists a new contract in draft, with its milestones
// when provided. Milestone amounts must sum exactly to the payment amount.
func (s *ContractService) Create(ctx context.Context, in *CreateContractInput) (*model.Contract, []*model.Milestone, error) {
	contract := &model.Contract{
		ID:              uuid.New().String(),
		EmployerID:      in.EmployerID,
		ContractorID:    in.ContractorID,
		Title:           in.Title,
		Status:          model.ContractDraft,
		PaymentAmount:   in.PaymentAmount,
		PaymentCurrency: in.PaymentCurrency,
		HasMilestones:   len(in.Milestones) > 0,
	}

	milestones := make([]*model.Milestone, 0, len(in.Milestones))
	for _, mi := range in.Milestones {
		milestones = append(milestones, &model.Milestone{
			ID:         uuid.New().String(),
			ContractID: contract.ID,
			Title:      mi.Title,
			Amount:     mi.Amount,
			Status:     model.MilestonePending,
			DueDate:    mi.DueDate,
		})
	}

	if err := contract.Validate(milestones); err != nil {
		return nil, nil, err
	}
	if err := s.store.CreateContract(ctx, contract, milestones); err != nil {
		return nil, nil, err
	}

	slog.Info("contract created",
		"contract_id", contract.ID,
		"employer_id", contract.EmployerID,
		"contractor_id", contract.ContractorID,
		"payment_amount", contract.PaymentAmount,
		"milestones", len(milestones),
	)
	return contract, milestones, nil
}

// Get returns a contract and its milestones, visible only to its parties.
func (s *ContractService) Get(ctx context.Context, contractID, actorID string) (*model.Contract, []*model.Milestone, error) {
	contract, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, nil, err
	}
	if contract.RoleOf(actorID) == model.RoleNone {
		return nil, nil, fmt.Errorf("%w: not a party to contract %s", model.ErrUnauthorized, contractID)
	}
	milestones, err := s.store.ListMilestones(ctx, contractID)
	if err != nil {
		return nil, nil, err
	}
	return contract, milestones, nil
}

// ListForUser returns the contracts the user is a party to.
func (s *ContractService) ListForUser(ctx context.Context, userID string) ([]*model.Contract, error) {
	return s.store.ListContractsByParty(ctx, userID)
}

// Sign records the actor's signature. When both parties have signed, the
// contract activates in the same write. Re-signing by the same party is a
// no-op returning the current state, not an error.
func (s *ContractService) Sign(ctx context.Context, contractID, actorID string) (*model.Contract, error) {
	contract, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}

	role := contract.RoleOf(actorID)
	if role == model.RoleNone {
		return nil, fmt.Errorf("%w: not a party to contract %s", model.ErrUnauthorized, contractID)
	}
	if contract.SignedBy(role) {
		return contract, nil
	}
	if err := CheckContract(role, contract.Status, ActionSign); err != nil {
		return nil, err
	}

	switch role {
	case model.RoleEmployer:
		contract.EmployerSigned = true
	case model.RoleContractor:
		contract.ContractorSigned = true
	}
	if contract.EmployerSigned && contract.ContractorSigned {
		contract.Status = model.ContractActive
	}

	if err := s.store.UpdateContract(ctx, contract); err != nil {
		return nil, err
	}

	slog.Info("contract signed",
		"contract_id", contract.ID,
		"role", role,
		"status", contract.Status,
	)
	return contract, nil
}

// Complete marks an active contract completed. Unpaid milestones do not
// block completion; they are logged so the discrepancy is visible.
func (s *ContractService) Complete(ctx context.Context, contractID, actorID string) (*model.Contract, error) {
	contract, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := CheckContract(contract.RoleOf(actorID), contract.Status, ActionComplete); err != nil {
		return nil, err
	}

	if contract.HasMilestones {
		milestones, err := s.store.ListMilestones(ctx, contractID)
		if err != nil {
			return nil, err
		}
		unpaid := 0
		for _, m := range milestones {
			if m.Status != model.MilestonePaid {
				unpaid++
			}
		}
		if unpaid > 0 {
			slog.Warn("contract completed with unpaid milestones",
				"contract_id", contractID,
				"unpaid_milestones", unpaid,
			)
		}
	}

	contract.Status = model.ContractCompleted
	if err := s.store.UpdateContract(ctx, contract); err != nil {
		return nil, err
	}

	slog.Info("contract completed", "contract_id", contract.ID)
	return contract, nil
}

// Cancel moves the contract to its cancelled terminal state. A non-empty
// reason is required. Already-paid milestones are not touched: cancellation
// never claws back settled funds.
func (s *ContractService) Cancel(ctx context.Context, contractID, actorID, reason string) (*model.Contract, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", model.ErrValidation)
	}

	contract, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	role := contract.RoleOf(actorID)
	if err := CheckContract(role, contract.Status, ActionCancel); err != nil {
		return nil, err
	}

	contract.Status = model.ContractCancelled
	contract.CancelReason = reason
	if err := s.store.UpdateContract(ctx, contract); err != nil {
		return nil, err
	}

	slog.Info("contract cancelled",
		"contract_id", contract.ID,
		"role", role,
		"reason", reason,
	)
	return contract, nil
}

// Pay opens (or returns the existing) checkout session for a contract paid
// as a whole. Contracts divided into milestones are paid per milestone.
func (s *ContractService) Pay(ctx context.Context, contractID, actorID string) (*PayResult, error) {
	contract, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}

	role := contract.RoleOf(actorID)
	if role != model.RoleEmployer {
		return nil, fmt.Errorf("%w: only the employer may pay contract %s", model.ErrUnauthorized, contractID)
	}
	if contract.HasMilestones {
		return nil, fmt.Errorf("%w: contract %s is paid per milestone", model.ErrInvalidTransition, contractID)
	}
	if contract.Status != model.ContractActive {
		return nil, fmt.Errorf("%w: cannot pay a contract in status %q", model.ErrInvalidTransition, contract.Status)
	}
	if contract.TotalPaid >= contract.PaymentAmount {
		return nil, fmt.Errorf("%w: contract %s is already fully paid", model.ErrInvalidTransition, contractID)
	}

	if existing, err := s.store.FindOpenSession(ctx, contractID, ""); err != nil {
		return nil, err
	} else if existing != nil {
		return &PayResult{Status: model.SessionPending, Session: existing}, nil
	}

	session, err := s.payments.CreateSession(ctx, contract, nil)
	if err != nil {
		return nil, err
	}
	return &PayResult{Status: model.SessionPending, Session: session}, nil
}
