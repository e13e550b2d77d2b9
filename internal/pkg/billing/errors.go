package billing

import "errors"

// Stable machine-readable codes surfaced to API callers.
const (
	CodeDowngradeViaRequest  = "DOWNGRADE_VIA_REQUEST"
	CodeNoActiveSubscription = "NO_ACTIVE_SUBSCRIPTION"
	CodeTokenNotFound        = "DOWNGRADE_TOKEN_NOT_FOUND"
	CodeTokenExpired         = "DOWNGRADE_TOKEN_EXPIRED"
	CodeUnknownProvider      = "UNKNOWN_PROVIDER"
)

// NotFoundError marks lookups that failed without touching any state.
type NotFoundError struct {
	Code    string
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ConflictError marks requests the current state forbids, with a code
// telling the caller which workflow to use instead.
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

var (
	// ErrDowngradeViaRequest rejects instant self-cancellation of an
	// active paid subscription.
	ErrDowngradeViaRequest = &ConflictError{
		Code:    CodeDowngradeViaRequest,
		Message: "active subscriptions cannot be canceled instantly, request a downgrade instead",
	}

	ErrNoActiveSubscription = &NotFoundError{
		Code:    CodeNoActiveSubscription,
		Message: "no active subscription to downgrade",
	}

	ErrTokenNotFound = &NotFoundError{
		Code:    CodeTokenNotFound,
		Message: "downgrade token not found",
	}

	ErrTokenExpired = &NotFoundError{
		Code:    CodeTokenExpired,
		Message: "downgrade token expired",
	}
)

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// ErrorCode extracts the machine-readable code, empty for plain errors.
func ErrorCode(err error) string {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Code
	}
	var c *ConflictError
	if errors.As(err, &c) {
		return c.Code
	}
	return ""
}
