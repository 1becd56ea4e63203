package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/upshift01/upshift-sub003/model"
)

// MilestoneService is the milestone-level state machine. It shares the guard
// and store with the contract machine, and is the only component allowed to
// ask the payment service for a checkout session on a milestone.
type MilestoneService struct {
	store    Store
	payments *PaymentService
}

func NewMilestoneService(store Store, payments *PaymentService) *MilestoneService {
	return &MilestoneService{store: store, payments: payments}
}

// load fetches the contract and milestone and verifies ownership.
func (s *MilestoneService) load(ctx context.Context, contractID, milestoneID string) (*model.Contract, *model.Milestone, error) {
	contract, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, nil, err
	}
	milestone, err := s.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, nil, err
	}
	if milestone.ContractID != contract.ID {
		return nil, nil, fmt.Errorf("%w: milestone %s does not belong to contract %s", model.ErrNotFound, milestoneID, contractID)
	}
	return contract, milestone, nil
}

// Submit hands the milestone over for the employer's review.
func (s *MilestoneService) Submit(ctx context.Context, contractID, milestoneID, actorID, notes string) (*model.Milestone, error) {
	contract, milestone, err := s.load(ctx, contractID, milestoneID)
	if err != nil {
		return nil, err
	}
	role := contract.RoleOf(actorID)
	if err := CheckMilestone(role, contract.Status, milestone.Status, ActionSubmit); err != nil {
		return nil, err
	}

	now := time.Now()
	milestone.Status = model.MilestoneSubmitted
	milestone.Notes = notes
	milestone.SubmittedAt = &now
	if err := s.store.UpdateMilestone(ctx, milestone); err != nil {
		return nil, err
	}

	slog.Info("milestone submitted", "milestone_id", milestone.ID, "contract_id", contractID)
	return milestone, nil
}

// Approve accepts a submitted milestone, making it payable.
func (s *MilestoneService) Approve(ctx context.Context, contractID, milestoneID, actorID string) (*model.Milestone, error) {
	contract, milestone, err := s.load(ctx, contractID, milestoneID)
	if err != nil {
		return nil, err
	}
	role := contract.RoleOf(actorID)
	if err := CheckMilestone(role, contract.Status, milestone.Status, ActionApprove); err != nil {
		return nil, err
	}

	now := time.Now()
	milestone.Status = model.MilestoneApproved
	milestone.ApprovedAt = &now
	if err := s.store.UpdateMilestone(ctx, milestone); err != nil {
		return nil, err
	}

	slog.Info("milestone approved", "milestone_id", milestone.ID, "contract_id", contractID)
	return milestone, nil
}

// Reject sends a submitted milestone back to in_progress for rework. There
// is no rejected terminal state; the contractor may resubmit.
func (s *MilestoneService) Reject(ctx context.Context, contractID, milestoneID, actorID string) (*model.Milestone, error) {
	contract, milestone, err := s.load(ctx, contractID, milestoneID)
	if err != nil {
		return nil, err
	}
	role := contract.RoleOf(actorID)
	if err := CheckMilestone(role, contract.Status, milestone.Status, ActionReject); err != nil {
		return nil, err
	}

	milestone.Status = model.MilestoneInProgress
	milestone.SubmittedAt = nil
	if err := s.store.UpdateMilestone(ctx, milestone); err != nil {
		return nil, err
	}

	slog.Info("milestone rejected", "milestone_id", milestone.ID, "contract_id", contractID)
	return milestone, nil
}

// Pay opens (or returns the existing) checkout session for an approved
// milestone. The milestone does not become paid here: only a provider
// confirmation through VerifyAndCommit advances it.
func (s *MilestoneService) Pay(ctx context.Context, contractID, milestoneID, actorID string) (*PayResult, error) {
	contract, milestone, err := s.load(ctx, contractID, milestoneID)
	if err != nil {
		return nil, err
	}
	role := contract.RoleOf(actorID)
	if err := CheckMilestone(role, contract.Status, milestone.Status, ActionPay); err != nil {
		return nil, err
	}

	if existing, err := s.store.FindOpenSession(ctx, contract.ID, milestone.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return &PayResult{Status: model.SessionPending, Session: existing}, nil
	}

	session, err := s.payments.CreateSession(ctx, contract, milestone)
	if err != nil {
		return nil, err
	}
	return &PayResult{Status: model.SessionPending, Session: session}, nil
}

// AttachDeliverable records an uploaded deliverable object on the milestone.
// Only the contractor may attach, and only before the milestone is approved.
func (s *MilestoneService) AttachDeliverable(ctx context.Context, contractID, milestoneID, actorID, objectName, filename string) (*model.Milestone, error) {
	contract, milestone, err := s.load(ctx, contractID, milestoneID)
	if err != nil {
		return nil, err
	}
	if contract.RoleOf(actorID) != model.RoleContractor {
		return nil, fmt.Errorf("%w: only the contractor may attach a deliverable", model.ErrUnauthorized)
	}
	if contract.Status != model.ContractActive {
		return nil, fmt.Errorf("%w: cannot attach a deliverable while the contract is %q", model.ErrInvalidTransition, contract.Status)
	}
	switch milestone.Status {
	case model.MilestonePending, model.MilestoneInProgress, model.MilestoneSubmitted:
	default:
		return nil, fmt.Errorf("%w: cannot attach a deliverable to a milestone in status %q", model.ErrInvalidTransition, milestone.Status)
	}

	milestone.DeliverableObject = objectName
	milestone.DeliverableName = filename
	if err := s.store.UpdateMilestone(ctx, milestone); err != nil {
		return nil, err
	}

	slog.Info("milestone deliverable attached",
		"milestone_id", milestone.ID,
		"contract_id", contractID,
		"filename", filename,
	)
	return milestone, nil
}
