package shared

import "errors"

// Error categories. Domain packages wrap one of these so the HTTP and CLI
// boundaries can translate failures without knowing every sentinel.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the resource state forbids the request or a concurrent writer won.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState indicates an operation that the current resource state does not allow.
	ErrInvalidState = errors.New("invalid state")
	// ErrForbidden indicates the subject of the request may not be mutated.
	ErrForbidden = errors.New("forbidden")
	// ErrPaymentRequired indicates an exhausted prepaid balance.
	ErrPaymentRequired = errors.New("payment required")
	// ErrLocked indicates a resource switched off by an operator.
	ErrLocked = errors.New("locked")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
)

// OperationObserver counts domain operation outcomes.
type OperationObserver interface {
	ObserveOperation(op string, err error)
}

// Outcome labels err by category.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrPaymentRequired):
		return "payment_required"
	case errors.Is(err, ErrLocked):
		return "locked"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
