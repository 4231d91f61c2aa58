package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Admission and auth-surface errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrIPBlocked         = errors.New("ip address is blocked")
	ErrAccountLocked     = errors.New("account is temporarily locked")
	ErrMFACodeInvalid    = errors.New("invalid or expired mfa code")
)
