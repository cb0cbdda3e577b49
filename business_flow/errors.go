// Package businessflow contains the core business logic and use cases for broadcast dispatch workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Broadcast-related errors
	ErrBroadcastNotFound       = errors.New("broadcast not found")
	ErrBroadcastNotRunning     = errors.New("broadcast is not running")
	ErrBroadcastNotStartable   = errors.New("broadcast cannot be started from its current status")
	ErrBroadcastNotPausable    = errors.New("broadcast cannot be paused from its current status")
	ErrBroadcastNotStoppable   = errors.New("broadcast cannot be stopped from its current status")
	ErrBroadcastNameRequired   = errors.New("broadcast name is required")
	ErrBroadcastUUIDRequired   = errors.New("broadcast UUID is required")
	ErrBroadcastSpecInvalid    = errors.New("broadcast spec is invalid")
	ErrOutsideCallingHours     = errors.New("outside configured calling hours")
	ErrBroadcastStatusConflict = errors.New("broadcast status changed concurrently")

	// Dial target errors
	ErrDialTargetNotFound  = errors.New("dial target not found")
	ErrDuplicateTarget     = errors.New("an active entry for this number already exists")
	ErrPhoneNumberOnDNC    = errors.New("phone number is on the do-not-call registry")
	ErrPhoneNumberRequired = errors.New("phone number is required")

	// Call attempt errors
	ErrStaleCall     = errors.New("event references a call that is no longer live")
	ErrRaceCondition = errors.New("state changed concurrently; transition not applied")

	// Provider errors
	ErrNoProviderCapacity    = errors.New("no provider account has free capacity")
	ErrProviderNotFound      = errors.New("provider account not found")
	ErrProviderMisconfigured = errors.New("provider account is misconfigured")

	// Gateway errors
	ErrTriggerAccountNotFound = errors.New("trigger account not found")
	ErrTriggerAccountInactive = errors.New("trigger account is inactive")
	ErrInvalidSecretKey       = errors.New("invalid secret key")
	ErrRateLimited            = errors.New("rate limit exceeded")

	// Billing errors
	ErrCreditReservationFailed = errors.New("credit reservation failed")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsBroadcastNotFound(err error) bool {
	return errors.Is(err, ErrBroadcastNotFound)
}

func IsBroadcastNotRunning(err error) bool {
	return errors.Is(err, ErrBroadcastNotRunning)
}

func IsBroadcastSpecInvalid(err error) bool {
	return errors.Is(err, ErrBroadcastSpecInvalid)
}

func IsOutsideCallingHours(err error) bool {
	return errors.Is(err, ErrOutsideCallingHours)
}

func IsDialTargetNotFound(err error) bool {
	return errors.Is(err, ErrDialTargetNotFound)
}

func IsDuplicateTarget(err error) bool {
	return errors.Is(err, ErrDuplicateTarget)
}

func IsPhoneNumberOnDNC(err error) bool {
	return errors.Is(err, ErrPhoneNumberOnDNC)
}

func IsStaleCall(err error) bool {
	return errors.Is(err, ErrStaleCall)
}

func IsRaceCondition(err error) bool {
	return errors.Is(err, ErrRaceCondition)
}

func IsNoProviderCapacity(err error) bool {
	return errors.Is(err, ErrNoProviderCapacity)
}

func IsProviderMisconfigured(err error) bool {
	return errors.Is(err, ErrProviderMisconfigured)
}

func IsTriggerAccountNotFound(err error) bool {
	return errors.Is(err, ErrTriggerAccountNotFound)
}

func IsTriggerAccountInactive(err error) bool {
	return errors.Is(err, ErrTriggerAccountInactive)
}

func IsInvalidSecretKey(err error) bool {
	return errors.Is(err, ErrInvalidSecretKey)
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func IsCreditReservationFailed(err error) bool {
	return errors.Is(err, ErrCreditReservationFailed)
}
