package auth

import (
	"errors"
	"fmt"
)

// Auth service errors. Handlers translate these into API error codes; any
// error outside this set is reported as an internal error.
var (
	ErrInvalidCredentials      = errors.New("invalid email or password")
	ErrAccountLocked           = errors.New("account temporarily locked")
	ErrAccountInactive         = errors.New("account is deactivated")
	ErrTwoFactorSessionExpired = errors.New("two-factor session expired or invalid")
	ErrTwoFactorSetupExpired   = errors.New("two-factor setup expired")
	ErrTwoFactorInvalidCode    = errors.New("invalid two-factor code")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication is not enabled")
	ErrTokenInvalid            = errors.New("invalid or revoked token")
	ErrTokenExpired            = errors.New("token has expired")
	ErrResetTokenInvalid       = errors.New("invalid password reset token")
	ErrResetTokenUsed          = errors.New("password reset token already used")
	ErrResetTokenExpired       = errors.New("password reset token expired")
	ErrSessionNotFound         = errors.New("session not found")
)

// Error codes for API responses
const (
	CodeValidationError         = "VALIDATION_ERROR"
	CodeInvalidCredentials      = "INVALID_CREDENTIALS"
	CodeAccountLocked           = "ACCOUNT_LOCKED"
	CodeAccountInactive         = "ACCOUNT_INACTIVE"
	CodeTwoFactorSessionExpired = "TWO_FACTOR_SESSION_EXPIRED"
	CodeTwoFactorSetupExpired   = "TWO_FACTOR_SETUP_EXPIRED"
	CodeTwoFactorInvalidCode    = "TWO_FACTOR_INVALID_CODE"
	CodeTwoFactorNotEnabled     = "TWO_FACTOR_NOT_ENABLED"
	CodeTokenInvalid            = "TOKEN_INVALID"
	CodeTokenExpired            = "TOKEN_EXPIRED"
	CodeResetTokenInvalid       = "RESET_TOKEN_INVALID"
	CodeResetTokenUsed          = "RESET_TOKEN_USED"
	CodeResetTokenExpired       = "RESET_TOKEN_EXPIRED"
	CodeSessionNotFound         = "SESSION_NOT_FOUND"
	CodeAuthTokenMissing        = "AUTH_TOKEN_MISSING"
	CodeAuthTokenInvalid        = "AUTH_TOKEN_INVALID"
	CodeInternalError           = "INTERNAL_ERROR"
)

// AccountLockedError reports a lockout together with how long the caller has
// to wait. errors.Is(err, ErrAccountLocked) matches it.
type AccountLockedError struct {
	RemainingMinutes int
}

// Error implements the error interface
func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account temporarily locked, try again in %d minutes", e.RemainingMinutes)
}

// Is reports whether target is the account locked sentinel
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
