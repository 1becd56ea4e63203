package model

import "errors"

// Error kinds for the contract engine. Handlers translate these to HTTP
// status codes; services wrap them with context via fmt.Errorf and %w so
// errors.Is keeps working across layers.
var (
	// ErrInvalidTransition: the action is not defined for the entity's
	// current status. Recoverable by re-reading the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrUnauthorized: the actor is not a party to the contract or lacks
	// the role the action requires.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict: optimistic version mismatch; the caller must re-fetch
	// and retry the whole operation.
	ErrConflict = errors.New("version conflict")
	// ErrPaymentPending: the provider has not confirmed the payment yet.
	ErrPaymentPending = errors.New("payment pending")
	// ErrPaymentFailed: the provider declined or the payer cancelled.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrValidation: missing or malformed input fields.
	ErrValidation = errors.New("validation error")
	// ErrNotFound: the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)

// ErrorCode maps an engine error to a stable machine-readable code for API
// responses.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrPaymentPending):
		return "payment_pending"
	case errors.Is(err, ErrPaymentFailed):
		return "payment_failed"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "internal_error"
}
