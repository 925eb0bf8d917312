package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Session repository errors
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository defines the interface for session data access
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	Rotate(ctx context.Context, id uuid.UUID, oldRefreshHash, newAccessToken, newRefreshHash string, expiresAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteOwned(ctx context.Context, id, userID uuid.UUID) error
	DeleteByRefreshTokenHash(ctx context.Context, tokenHash string) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) (int64, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*Session, error)
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

// sessionRepository implements SessionRepository using PostgreSQL
type sessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(db DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create inserts a new session row
func (r *sessionRepository) Create(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (user_id, access_token, refresh_token_hash, ip_address, user_agent, remember_me, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		session.UserID,
		session.AccessToken,
		session.RefreshTokenHash,
		session.IPAddress,
		session.UserAgent,
		session.RememberMe,
		session.ExpiresAt,
	).Scan(&session.ID, &session.CreatedAt)

	if err != nil {
		return err
	}

	return nil
}

// GetByRefreshTokenHash retrieves a session by the hash of its refresh token
func (r *sessionRepository) GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	query := `
		SELECT id, user_id, access_token, refresh_token_hash, ip_address, user_agent, remember_me, expires_at, created_at
		FROM sessions
		WHERE refresh_token_hash = $1
	`

	session := &Session{}
	err := r.db.QueryRow(ctx, query, tokenHash).Scan(
		&session.ID,
		&session.UserID,
		&session.AccessToken,
		&session.RefreshTokenHash,
		&session.IPAddress,
		&session.UserAgent,
		&session.RememberMe,
		&session.ExpiresAt,
		&session.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return session, nil
}

// Rotate replaces both token values on the session row and extends its
// expiry. The update is keyed by the session id AND the previous refresh
// hash: when two refresh calls race on the same token, exactly one matches
// and the other sees ErrSessionNotFound.
func (r *sessionRepository) Rotate(ctx context.Context, id uuid.UUID, oldRefreshHash, newAccessToken, newRefreshHash string, expiresAt time.Time) error {
	query := `
		UPDATE sessions
		SET access_token = $3,
		    refresh_token_hash = $4,
		    expires_at = $5
		WHERE id = $1 AND refresh_token_hash = $2
	`

	result, err := r.db.Exec(ctx, query, id, oldRefreshHash, newAccessToken, newRefreshHash, expiresAt)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// Delete removes a session by its ID
func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM sessions WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// DeleteOwned removes a session only when it belongs to the given user, so
// a caller can never revoke another user's session by guessing ids.
func (r *sessionRepository) DeleteOwned(ctx context.Context, id, userID uuid.UUID) error {
	query := `DELETE FROM sessions WHERE id = $1 AND user_id = $2`

	result, err := r.db.Exec(ctx, query, id, userID)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// DeleteByRefreshTokenHash removes the session holding the given refresh
// token hash (logout)
func (r *sessionRepository) DeleteByRefreshTokenHash(ctx context.Context, tokenHash string) error {
	query := `DELETE FROM sessions WHERE refresh_token_hash = $1`

	result, err := r.db.Exec(ctx, query, tokenHash)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// DeleteByUserID removes every session for a user and returns how many rows
// went away. Used by logout-all, password reset, and two-factor disable.
func (r *sessionRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `DELETE FROM sessions WHERE user_id = $1`

	result, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

// ListByUserID returns all sessions for a user, newest first
func (r *sessionRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*Session, error) {
	query := `
		SELECT id, user_id, access_token, refresh_token_hash, ip_address, user_agent, remember_me, expires_at, created_at
		FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session := &Session{}
		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.AccessToken,
			&session.RefreshTokenHash,
			&session.IPAddress,
			&session.UserAgent,
			&session.RememberMe,
			&session.ExpiresAt,
			&session.CreatedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// CleanupExpired removes all sessions past their expiry
func (r *sessionRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < $1`

	result, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}
