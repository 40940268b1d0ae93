package service

import "errors"

// Errors returned by AuthService. Handlers map them to HTTP statuses with
// errors.Is; anything else is an internal error.
var (
	ErrValidation            = errors.New("validation failed")
	ErrInvalidCredentials    = errors.New("Invalid credentials")
	ErrInvalidOrExpiredToken = errors.New("Invalid or expired reset token")
	ErrEmailTaken            = errors.New("An account with this email already exists")
	ErrUnauthorized          = errors.New("invalid or expired token")
	ErrForbidden             = errors.New("insufficient permissions")
	ErrNotFound              = errors.New("not found")
	ErrEmailDelivery         = errors.New("email delivery failed")
	ErrInternal              = errors.New("Internal server error")
)

// ValidationError carries a user-facing message and matches ErrValidation
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}
