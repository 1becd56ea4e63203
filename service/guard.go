package service

import (
	"fmt"

	"github.com/upshift01/upshift-sub003/model"
)

// Contract actions
type ContractAction string

const (
	ActionSign     ContractAction = "sign"
	ActionComplete ContractAction = "complete"
	ActionCancel   ContractAction = "cancel"
)

// Milestone actions
type MilestoneAction string

const (
	ActionSubmit  MilestoneAction = "submit"
	ActionApprove MilestoneAction = "approve"
	ActionReject  MilestoneAction = "reject"
	ActionPay     MilestoneAction = "pay"
)

// The transition guard is a pure authorization matrix: (role, status, action)
// in, allow/deny out. It holds no state and touches no storage, so every row
// of the matrix can be tested in isolation. The state machines consult it
// before any write; a denied call never has a side effect.

func contractRoleAllowed(role model.Role, action ContractAction) bool {
	switch action {
	case ActionSign, ActionCancel:
		return role == model.RoleEmployer || role == model.RoleContractor
	case ActionComplete:
		return role == model.RoleEmployer
	}
	return false
}

func contractStatusAllowed(status string, action ContractAction) bool {
	switch action {
	case ActionSign:
		return status == model.ContractDraft
	case ActionComplete:
		return status == model.ContractActive
	case ActionCancel:
		return status != model.ContractCompleted && status != model.ContractCancelled
	}
	return false
}

// AllowContract reports whether the role may perform the action on a contract
// in the given status.
func AllowContract(role model.Role, status string, action ContractAction) bool {
	return contractRoleAllowed(role, action) && contractStatusAllowed(status, action)
}

// CheckContract is AllowContract with the error taxonomy applied: a wrong
// role is Unauthorized, a right role in a wrong status is InvalidTransition.
func CheckContract(role model.Role, status string, action ContractAction) error {
	if !contractRoleAllowed(role, action) {
		return fmt.Errorf("%w: role %q may not %s a contract", model.ErrUnauthorized, role, action)
	}
	if !contractStatusAllowed(status, action) {
		return fmt.Errorf("%w: cannot %s a contract in status %q", model.ErrInvalidTransition, action, status)
	}
	return nil
}

func milestoneRoleAllowed(role model.Role, action MilestoneAction) bool {
	switch action {
	case ActionSubmit:
		return role == model.RoleContractor
	case ActionApprove, ActionReject, ActionPay:
		return role == model.RoleEmployer
	}
	return false
}

func milestoneStatusAllowed(contractStatus, milestoneStatus string, action MilestoneAction) bool {
	// Every milestone action requires a live contract; in particular a
	// milestone may only reach paid while its contract is active.
	if contractStatus != model.ContractActive {
		return false
	}
	switch action {
	case ActionSubmit:
		return milestoneStatus == model.MilestonePending || milestoneStatus == model.MilestoneInProgress
	case ActionApprove, ActionReject:
		return milestoneStatus == model.MilestoneSubmitted
	case ActionPay:
		return milestoneStatus == model.MilestoneApproved
	}
	return false
}

// AllowMilestone reports whether the role may perform the action on a
// milestone, given both the milestone's and the parent contract's status.
func AllowMilestone(role model.Role, contractStatus, milestoneStatus string, action MilestoneAction) bool {
	return milestoneRoleAllowed(role, action) &&
		milestoneStatusAllowed(contractStatus, milestoneStatus, action)
}

// CheckMilestone is AllowMilestone with the error taxonomy applied.
func CheckMilestone(role model.Role, contractStatus, milestoneStatus string, action MilestoneAction) error {
	if !milestoneRoleAllowed(role, action) {
		return fmt.Errorf("%w: role %q may not %s a milestone", model.ErrUnauthorized, role, action)
	}
	if contractStatus != model.ContractActive {
		return fmt.Errorf("%w: cannot %s a milestone while the contract is %q", model.ErrInvalidTransition, action, contractStatus)
	}
	if !milestoneStatusAllowed(contractStatus, milestoneStatus, action) {
		return fmt.Errorf("%w: cannot %s a milestone in status %q", model.ErrInvalidTransition, action, milestoneStatus)
	}
	return nil
}
