package model

import "time"

// Payment session statuses, mirroring the provider's checkout lifecycle.
const (
	SessionPending   = "pending"
	SessionPaid      = "paid"
	SessionFailed    = "failed"
	SessionCancelled = "cancelled"
)

// PaymentSession tracks one checkout session at the payment provider. The
// provider-issued SessionID doubles as the idempotency key: reconciling the
// same session any number of times credits the target exactly once.
type PaymentSession struct {
	SessionID  string `gorm:"primaryKey;size:64" json:"session_id"`
	ContractID string `gorm:"size:36;not null;index" json:"contract_id"`
	// MilestoneID is empty for a contract-level payment.
	MilestoneID string `gorm:"size:36;index" json:"milestone_id,omitempty"`
	Amount      int64  `gorm:"not null" json:"amount"`
	Currency    string `gorm:"size:8;not null" json:"currency"`
	Status      string `gorm:"size:20;not null;index" json:"status"`
	// RedirectURL is where the payer completes the checkout.
	RedirectURL string    `gorm:"type:text" json:"redirect_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (PaymentSession) TableName() string {
	return "payment_sessions"
}

// Open reports whether the session may still settle.
func (s *PaymentSession) Open() bool {
	return s.Status == SessionPending
}
