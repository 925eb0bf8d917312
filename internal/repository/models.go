package repository

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents one dental clinic (the tenant scope for every user and
// every access token issued by this service).
type Tenant struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Subdomain string    `db:"subdomain"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// User represents a staff account (dentist, assistant, receptionist, admin)
// within a tenant. The lockout and two-factor state live on this row and are
// mutated only by the auth service.
type User struct {
	ID                  uuid.UUID  `db:"id"`
	TenantID            uuid.UUID  `db:"tenant_id"`
	Email               string     `db:"email"`
	PasswordHash        string     `db:"password_hash"`
	FullName            string     `db:"full_name"`
	Role                string     `db:"role"`
	IsActive            bool       `db:"is_active"`
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	LockedUntil         *time.Time `db:"locked_until"`
	TwoFactorEnabled    bool       `db:"two_factor_enabled"`
	TwoFactorSecret     *string    `db:"two_factor_secret"`
	LastLoginAt         *time.Time `db:"last_login_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// Session represents one authenticated device or browser. The refresh token
// is stored as a SHA-256 hash; the raw value exists only on the wire. Both
// token columns are replaced in place when the session is rotated.
type Session struct {
	ID               uuid.UUID `db:"id"`
	UserID           uuid.UUID `db:"user_id"`
	AccessToken      string    `db:"access_token"`
	RefreshTokenHash string    `db:"refresh_token_hash"`
	IPAddress        *string   `db:"ip_address"`
	UserAgent        *string   `db:"user_agent"`
	RememberMe       bool      `db:"remember_me"`
	ExpiresAt        time.Time `db:"expires_at"`
	CreatedAt        time.Time `db:"created_at"`
}

// PasswordResetToken is a single-use, time-limited reset credential, keyed
// by email and stored as a SHA-256 hash. At most one unconsumed token exists
// per email: issuing a new one marks the previous ones used.
type PasswordResetToken struct {
	ID        uuid.UUID  `db:"id"`
	Email     string     `db:"email"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
}
