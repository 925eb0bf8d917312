package auth

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the minimum required password length
	MinPasswordLength = 8
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// PasswordValidationError represents a specific password validation failure
type PasswordValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// passwordChecks is the complexity policy: every rule must pass.
var passwordChecks = []struct {
	message string
	ok      func(password string) bool
}{
	{"Password must be at least 8 characters long", func(p string) bool {
		return len(p) >= MinPasswordLength
	}},
	{"Password must contain at least one uppercase letter", func(p string) bool {
		return containsClass(p, unicode.IsUpper)
	}},
	{"Password must contain at least one lowercase letter", func(p string) bool {
		return containsClass(p, unicode.IsLower)
	}},
	{"Password must contain at least one number", func(p string) bool {
		return containsClass(p, unicode.IsDigit)
	}},
	{"Password must contain at least one special character", func(p string) bool {
		return containsClass(p, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
	}},
}

func containsClass(s string, is func(rune) bool) bool {
	for _, r := range s {
		if is(r) {
			return true
		}
	}
	return false
}

// PasswordValidator handles password policy checks and bcrypt hashing
type PasswordValidator struct{}

// NewPasswordValidator creates a new PasswordValidator instance
func NewPasswordValidator() *PasswordValidator {
	return &PasswordValidator{}
}

// ValidatePassword checks a password against the complexity policy and
// returns one error per violated rule (empty if the password is valid).
func (v *PasswordValidator) ValidatePassword(password string) []PasswordValidationError {
	var errs []PasswordValidationError
	for _, check := range passwordChecks {
		if !check.ok(password) {
			errs = append(errs, PasswordValidationError{
				Field:   "password",
				Message: check.message,
			})
		}
	}
	return errs
}

// IsValidPassword returns true if the password meets all requirements
func (v *PasswordValidator) IsValidPassword(password string) bool {
	return len(v.ValidatePassword(password)) == 0
}

// HashPassword creates a bcrypt hash of the password with cost factor 12
func (v *PasswordValidator) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a password with its bcrypt hash.
// Returns nil if they match, error otherwise.
func (v *PasswordValidator) VerifyPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// GetBcryptCost extracts the cost factor from a bcrypt hash
func GetBcryptCost(hash string) (int, error) {
	return bcrypt.Cost([]byte(hash))
}
