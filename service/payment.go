package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/upshift01/upshift-sub003/config"
	"github.com/upshift01/upshift-sub003/model"
)

// PaymentService bridges the state machines and the payment provider. It
// owns the reconciliation protocol: every confirmed payment credits its
// target at most once, verification is retried a bounded number of times
// with exponential backoff, and ambiguous provider responses leave the
// session pending rather than guessing an outcome.
type PaymentService struct {
	store         Store
	provider      CheckoutProvider
	maxAttempts   int
	retryBase     time.Duration
	sessionMaxAge time.Duration
}

func NewPaymentService(store Store, provider CheckoutProvider, cfg *config.PaymentsConfig) *PaymentService {
	attempts := cfg.VerifyAttempts
	if attempts <= 0 {
		attempts = 3
	}
	retryBase := time.Duration(cfg.RetryBaseMillis) * time.Millisecond
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	maxAge := time.Duration(cfg.SessionMaxAgeMinutes) * time.Minute
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &PaymentService{
		store:         store,
		provider:      provider,
		maxAttempts:   attempts,
		retryBase:     retryBase,
		sessionMaxAge: maxAge,
	}
}

// CreateSession opens a checkout session for the contract, or for one of its
// milestones when milestone is non-nil, and records it as pending.
func (s *PaymentService) CreateSession(ctx context.Context, contract *model.Contract, milestone *model.Milestone) (*model.PaymentSession, error) {
	amount := contract.PaymentAmount
	milestoneID := ""
	reference := "contract:" + contract.ID
	description := fmt.Sprintf("Payment for contract %s", contract.ID)
	if milestone != nil {
		amount = milestone.Amount
		milestoneID = milestone.ID
		reference = "milestone:" + milestone.ID
		description = fmt.Sprintf("Payment for milestone %s of contract %s", milestone.ID, contract.ID)
	}

	checkout, err := s.provider.CreateCheckout(ctx, &CheckoutRequest{
		Amount:      amount,
		Currency:    contract.PaymentCurrency,
		Reference:   reference,
		Description: description,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	session := &model.PaymentSession{
		SessionID:   checkout.SessionID,
		ContractID:  contract.ID,
		MilestoneID: milestoneID,
		Amount:      amount,
		Currency:    contract.PaymentCurrency,
		Status:      model.SessionPending,
		RedirectURL: checkout.CheckoutURL,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	slog.Info("payment session created",
		"session_id", session.SessionID,
		"contract_id", session.ContractID,
		"milestone_id", session.MilestoneID,
		"amount", session.Amount,
		"currency", session.Currency,
	)
	return session, nil
}

// VerifyAndCommit fetches the authoritative session status from the provider
// and, on confirmation, atomically credits the target and advances it to
// paid. It is idempotent: re-verifying an already-paid session returns the
// existing result without re-crediting.
//
// Verification is bounded: provider errors and pending responses are retried
// with exponential backoff up to the configured attempt budget, then the
// session is left pending and model.ErrPaymentPending is returned. The query
// parameter flags on provider redirects are advisory only; this method is
// the single place a payment becomes true.
func (s *PaymentService) VerifyAndCommit(ctx context.Context, sessionID string) (*model.PaymentSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case model.SessionPaid:
		return session, nil
	case model.SessionFailed, model.SessionCancelled:
		return session, fmt.Errorf("%w: session %s is %s", model.ErrPaymentFailed, sessionID, session.Status)
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.retryBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return session, fmt.Errorf("%w: %v", model.ErrPaymentPending, ctx.Err())
			case <-time.After(backoff):
			}
		}

		status, err := s.provider.GetCheckout(ctx, sessionID)
		if err != nil {
			// Transient: the provider being unreachable never changes
			// entity state.
			slog.Warn("payment status query failed",
				"session_id", sessionID,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		switch status.Status {
		case model.SessionPaid:
			if status.Amount != 0 && (status.Amount != session.Amount || status.Currency != session.Currency) {
				slog.Error("payment amount mismatch, leaving session for manual reconciliation",
					"session_id", sessionID,
					"expected_amount", session.Amount,
					"provider_amount", status.Amount,
				)
				return session, fmt.Errorf("%w: session %s amount mismatch", model.ErrPaymentPending, sessionID)
			}
			committed, err := s.store.CommitPayment(ctx, sessionID)
			if err != nil {
				return session, err
			}
			slog.Info("payment committed",
				"session_id", sessionID,
				"contract_id", committed.ContractID,
				"milestone_id", committed.MilestoneID,
				"amount", committed.Amount,
			)
			return committed, nil

		case model.SessionFailed, model.SessionCancelled:
			session.Status = status.Status
			if err := s.store.UpdateSession(ctx, session); err != nil {
				return session, err
			}
			slog.Info("payment session closed without payment",
				"session_id", sessionID,
				"status", session.Status,
			)
			return session, fmt.Errorf("%w: session %s is %s", model.ErrPaymentFailed, sessionID, session.Status)

		case model.SessionPending:
			// Retry with backoff.

		default:
			// Ambiguous provider state: never guess an outcome.
			slog.Warn("unknown provider session status, leaving session pending",
				"session_id", sessionID,
				"provider_status", status.Status,
			)
			return session, fmt.Errorf("%w: session %s has unknown provider status %q", model.ErrPaymentPending, sessionID, status.Status)
		}
	}

	return session, fmt.Errorf("%w: session %s still pending after %d attempts", model.ErrPaymentPending, sessionID, s.maxAttempts)
}

// SweepPending re-verifies pending sessions that have had time to settle.
// Sessions older than the configured max age are reported for manual
// reconciliation instead of being polled forever. Returns the number of
// sessions that were committed.
func (s *PaymentService) SweepPending(ctx context.Context) int {
	const settleGrace = 30 * time.Second

	sessions, err := s.store.ListPendingSessions(ctx, time.Now().Add(-settleGrace))
	if err != nil {
		slog.Error("failed to list pending payment sessions", "error", err)
		return 0
	}

	committed := 0
	for _, session := range sessions {
		if time.Since(session.CreatedAt) > s.sessionMaxAge {
			slog.Warn("payment session exceeded max age, needs manual reconciliation",
				"session_id", session.SessionID,
				"contract_id", session.ContractID,
				"created_at", session.CreatedAt,
			)
			continue
		}

		result, err := s.VerifyAndCommit(ctx, session.SessionID)
		switch {
		case err == nil && result.Status == model.SessionPaid:
			committed++
		case errors.Is(err, model.ErrPaymentPending):
			// Still pending; the next sweep will retry.
		case errors.Is(err, model.ErrPaymentFailed):
			// Terminal; the target stays payable by a fresh session.
		case err != nil:
			slog.Error("payment sweep verification failed",
				"session_id", session.SessionID,
				"error", err,
			)
		}
	}

	if committed > 0 {
		slog.Info("payment sweep committed sessions", "count", committed)
	}
	return committed
}
