package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Common errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailAlreadyExists = errors.New("email already exists")
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	RecordFailedLogin(ctx context.Context, id uuid.UUID, lockThreshold int, lockUntil time.Time) (int, error)
	RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	EnableTwoFactor(ctx context.Context, id uuid.UUID, secret string) error
	DisableTwoFactor(ctx context.Context, id uuid.UUID) error
}

const userColumns = `id, tenant_id, email, password_hash, full_name, role, is_active,
		failed_login_attempts, locked_until, two_factor_enabled, two_factor_secret,
		last_login_at, created_at, updated_at`

// userRepository implements UserRepository using PostgreSQL
type userRepository struct {
	db DB
}

// NewUserRepository creates a new UserRepository instance
func NewUserRepository(db DB) UserRepository {
	return &userRepository{db: db}
}

// Create inserts a new user. The email is stored lowercase so lookups stay
// case-insensitive without an expression index.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (tenant_id, email, password_hash, full_name, role, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		user.TenantID,
		strings.ToLower(strings.TrimSpace(user.Email)),
		user.PasswordHash,
		user.FullName,
		user.Role,
		user.IsActive,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return ErrEmailAlreadyExists
		}
		return err
	}

	return nil
}

func (r *userRepository) scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.TenantID,
		&user.Email,
		&user.PasswordHash,
		&user.FullName,
		&user.Role,
		&user.IsActive,
		&user.FailedLoginAttempts,
		&user.LockedUntil,
		&user.TwoFactorEnabled,
		&user.TwoFactorSecret,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(r.db.QueryRow(ctx, query, id))
}

// GetByEmail retrieves a user by email, case-insensitively against the
// stored normalized form.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = LOWER($1)`
	return r.scanUser(r.db.QueryRow(ctx, query, strings.TrimSpace(email)))
}

// EmailExists checks if an email address is already registered
func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = LOWER($1))`

	var exists bool
	err := r.db.QueryRow(ctx, query, strings.TrimSpace(email)).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// RecordFailedLogin increments the failure counter in a single statement and
// sets locked_until once the counter reaches the threshold. Returns the
// counter value after the increment. Concurrent increments may race; the
// last write wins, which is acceptable for a best-effort lockout.
func (r *userRepository) RecordFailedLogin(ctx context.Context, id uuid.UUID, lockThreshold int, lockUntil time.Time) (int, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    locked_until = CASE
		        WHEN failed_login_attempts + 1 >= $2 THEN $3
		        ELSE locked_until
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts
	`

	var attempts int
	err := r.db.QueryRow(ctx, query, id, lockThreshold, lockUntil).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}

	return attempts, nil
}

// RecordSuccessfulLogin resets the failure counter, clears any lock, and
// stamps last_login_at. This is the only write that ever clears the counter.
func (r *userRepository) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0,
		    locked_until = NULL,
		    last_login_at = $2,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// UpdatePassword replaces the stored password hash
func (r *userRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// EnableTwoFactor persists a confirmed TOTP secret and flips the flag in one
// statement so a confirmed enrollment is never half-applied.
func (r *userRepository) EnableTwoFactor(ctx context.Context, id uuid.UUID, secret string) error {
	query := `
		UPDATE users
		SET two_factor_secret = $2,
		    two_factor_enabled = TRUE,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, secret)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// DisableTwoFactor clears the secret and the flag
func (r *userRepository) DisableTwoFactor(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET two_factor_secret = NULL,
		    two_factor_enabled = FALSE,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}
