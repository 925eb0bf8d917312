package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	loginChallengePrefix = "2fa:login:"
	enrollmentPrefix     = "2fa:enroll:"
)

// PendingLoginChallenge is the ephemeral record between a successful password
// check and the matching one-time code. It never contains tokens; absence of
// the record is what expires the challenge.
type PendingLoginChallenge struct {
	UserID     uuid.UUID `json:"user_id"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	RememberMe bool      `json:"remember_me"`
	CreatedAt  time.Time `json:"created_at"`
}

// PendingEnrollment holds a generated TOTP secret until the user proves
// possession of it. The secret reaches the users table only on confirmation.
type PendingEnrollment struct {
	UserID    uuid.UUID `json:"user_id"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingStore keeps the short-lived two-factor records in Redis so expiry is
// enforced by key TTLs rather than sweeper jobs.
type PendingStore struct {
	redis         redis.UniversalClient
	challengeTTL  time.Duration
	enrollmentTTL time.Duration
}

// NewPendingStore creates a PendingStore with the given record lifetimes
func NewPendingStore(redisClient redis.UniversalClient, challengeTTL, enrollmentTTL time.Duration) *PendingStore {
	return &PendingStore{
		redis:         redisClient,
		challengeTTL:  challengeTTL,
		enrollmentTTL: enrollmentTTL,
	}
}

func challengeKey(userID uuid.UUID) string {
	return loginChallengePrefix + userID.String()
}

func enrollmentKey(userID uuid.UUID) string {
	return enrollmentPrefix + userID.String()
}

// SaveLoginChallenge stores a challenge for the user, replacing any previous one
func (s *PendingStore) SaveLoginChallenge(ctx context.Context, challenge *PendingLoginChallenge) error {
	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to encode login challenge: %w", err)
	}
	if err := s.redis.Set(ctx, challengeKey(challenge.UserID), data, s.challengeTTL).Err(); err != nil {
		return fmt.Errorf("failed to store login challenge: %w", err)
	}
	return nil
}

// ConsumeLoginChallenge atomically loads and deletes the challenge. Whoever
// wins the GETDEL owns the challenge; everyone else sees an expired session.
func (s *PendingStore) ConsumeLoginChallenge(ctx context.Context, userID uuid.UUID) (*PendingLoginChallenge, error) {
	data, err := s.redis.GetDel(ctx, challengeKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTwoFactorSessionExpired
		}
		return nil, fmt.Errorf("failed to consume login challenge: %w", err)
	}

	var challenge PendingLoginChallenge
	if err := json.Unmarshal(data, &challenge); err != nil {
		return nil, fmt.Errorf("failed to decode login challenge: %w", err)
	}
	return &challenge, nil
}

// SaveEnrollment stores a pending enrollment, replacing any previous one
func (s *PendingStore) SaveEnrollment(ctx context.Context, enrollment *PendingEnrollment) error {
	data, err := json.Marshal(enrollment)
	if err != nil {
		return fmt.Errorf("failed to encode enrollment: %w", err)
	}
	if err := s.redis.Set(ctx, enrollmentKey(enrollment.UserID), data, s.enrollmentTTL).Err(); err != nil {
		return fmt.Errorf("failed to store enrollment: %w", err)
	}
	return nil
}

// GetEnrollment returns the pending enrollment. The record stays in place so
// the user may retry a mistyped code until the TTL runs out.
func (s *PendingStore) GetEnrollment(ctx context.Context, userID uuid.UUID) (*PendingEnrollment, error) {
	data, err := s.redis.Get(ctx, enrollmentKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTwoFactorSetupExpired
		}
		return nil, fmt.Errorf("failed to load enrollment: %w", err)
	}

	var enrollment PendingEnrollment
	if err := json.Unmarshal(data, &enrollment); err != nil {
		return nil, fmt.Errorf("failed to decode enrollment: %w", err)
	}
	return &enrollment, nil
}

// DeleteEnrollment removes the pending enrollment after confirmation
func (s *PendingStore) DeleteEnrollment(ctx context.Context, userID uuid.UUID) error {
	if err := s.redis.Del(ctx, enrollmentKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete enrollment: %w", err)
	}
	return nil
}
