package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Reset token repository errors
var (
	ErrResetTokenNotFound = errors.New("reset token not found")
)

// ResetTokenRepository defines the interface for password reset token
// persistence. Tokens are stored hashed; the raw token only travels to the
// user through the delivery channel.
type ResetTokenRepository interface {
	Create(ctx context.Context, token *PasswordResetToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*PasswordResetToken, error)
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	InvalidateActiveByEmail(ctx context.Context, email string, at time.Time) (int64, error)
	CleanupExpired(ctx context.Context, before time.Time) (int64, error)
}

// resetTokenRepository implements ResetTokenRepository using PostgreSQL
type resetTokenRepository struct {
	db *sqlx.DB
}

// NewResetTokenRepository creates a new ResetTokenRepository instance
func NewResetTokenRepository(db *sqlx.DB) ResetTokenRepository {
	return &resetTokenRepository{db: db}
}

// Create inserts a new reset token row
func (r *resetTokenRepository) Create(ctx context.Context, token *PasswordResetToken) error {
	query := `
		INSERT INTO password_reset_tokens (email, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	row := r.db.QueryRowContext(ctx, query,
		strings.ToLower(strings.TrimSpace(token.Email)),
		token.TokenHash,
		token.ExpiresAt,
	)
	if err := row.Scan(&token.ID, &token.CreatedAt); err != nil {
		return fmt.Errorf("failed to create reset token: %w", err)
	}

	return nil
}

// GetByTokenHash retrieves a reset token by the hash of its raw value
func (r *resetTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*PasswordResetToken, error) {
	query := `
		SELECT id, email, token_hash, expires_at, used_at, created_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`

	var token PasswordResetToken
	if err := r.db.GetContext(ctx, &token, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResetTokenNotFound
		}
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}

	return &token, nil
}

// MarkUsed stamps the token as consumed. The used_at guard makes consumption
// single-shot under concurrent requests; losing the race reports not found.
func (r *resetTokenRepository) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE password_reset_tokens
		SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark reset token used: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrResetTokenNotFound
	}

	return nil
}

// InvalidateActiveByEmail consumes every outstanding token for an email so
// that only the most recently issued one stays redeemable
func (r *resetTokenRepository) InvalidateActiveByEmail(ctx context.Context, email string, at time.Time) (int64, error) {
	query := `
		UPDATE password_reset_tokens
		SET used_at = $2
		WHERE email = LOWER($1) AND used_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, strings.TrimSpace(email), at)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate reset tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// CleanupExpired deletes tokens whose expiry passed before the given time
func (r *resetTokenRepository) CleanupExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM password_reset_tokens WHERE expires_at < $1`

	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired reset tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
