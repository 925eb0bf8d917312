package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/iwasthesword/dpm-v0-sub001/internal/repository"
)

// Mock implementations for testing

// mockUserRepository implements repository.UserRepository for testing
type mockUserRepository struct {
	users map[uuid.UUID]*repository.User
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: make(map[uuid.UUID]*repository.User)}
}

func (m *mockUserRepository) Create(ctx context.Context, user *repository.User) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	for _, u := range m.users {
		if u.Email == email {
			return repository.ErrEmailAlreadyExists
		}
	}
	user.ID = uuid.New()
	user.Email = email
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*repository.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := m.GetByEmail(ctx, email)
	if err == nil {
		return true, nil
	}
	return false, nil
}

func (m *mockUserRepository) RecordFailedLogin(ctx context.Context, id uuid.UUID, lockThreshold int, lockUntil time.Time) (int, error) {
	user, ok := m.users[id]
	if !ok {
		return 0, repository.ErrUserNotFound
	}
	user.FailedLoginAttempts++
	if user.FailedLoginAttempts >= lockThreshold {
		until := lockUntil
		user.LockedUntil = &until
	}
	return user.FailedLoginAttempts, nil
}

func (m *mockUserRepository) RecordSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	user, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	last := at
	user.LastLoginAt = &last
	return nil
}

func (m *mockUserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	user, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (m *mockUserRepository) EnableTwoFactor(ctx context.Context, id uuid.UUID, secret string) error {
	user, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.TwoFactorEnabled = true
	s := secret
	user.TwoFactorSecret = &s
	return nil
}

func (m *mockUserRepository) DisableTwoFactor(ctx context.Context, id uuid.UUID) error {
	user, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.TwoFactorEnabled = false
	user.TwoFactorSecret = nil
	return nil
}

// mockSessionRepository implements repository.SessionRepository for testing
type mockSessionRepository struct {
	sessions map[uuid.UUID]*repository.Session
	seq      int
}

func newMockSessionRepository() *mockSessionRepository {
	return &mockSessionRepository{sessions: make(map[uuid.UUID]*repository.Session)}
}

func (m *mockSessionRepository) Create(ctx context.Context, session *repository.Session) error {
	session.ID = uuid.New()
	// Distinct, monotonically increasing creation times so ordering is
	// deterministic
	m.seq++
	session.CreatedAt = time.Unix(int64(m.seq), 0).UTC()
	m.sessions[session.ID] = session
	return nil
}

func (m *mockSessionRepository) GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*repository.Session, error) {
	for _, session := range m.sessions {
		if session.RefreshTokenHash == tokenHash {
			return session, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (m *mockSessionRepository) Rotate(ctx context.Context, id uuid.UUID, oldRefreshHash, newAccessToken, newRefreshHash string, expiresAt time.Time) error {
	session, ok := m.sessions[id]
	if !ok || session.RefreshTokenHash != oldRefreshHash {
		return repository.ErrSessionNotFound
	}
	session.AccessToken = newAccessToken
	session.RefreshTokenHash = newRefreshHash
	session.ExpiresAt = expiresAt
	return nil
}

func (m *mockSessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.sessions[id]; !ok {
		return repository.ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *mockSessionRepository) DeleteOwned(ctx context.Context, id, userID uuid.UUID) error {
	session, ok := m.sessions[id]
	if !ok || session.UserID != userID {
		return repository.ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *mockSessionRepository) DeleteByRefreshTokenHash(ctx context.Context, tokenHash string) error {
	for id, session := range m.sessions {
		if session.RefreshTokenHash == tokenHash {
			delete(m.sessions, id)
			return nil
		}
	}
	return repository.ErrSessionNotFound
}

func (m *mockSessionRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	var deleted int64
	for id, session := range m.sessions {
		if session.UserID == userID {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockSessionRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*repository.Session, error) {
	var out []*repository.Session
	for _, session := range m.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *mockSessionRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	for id, session := range m.sessions {
		if session.ExpiresAt.Before(now) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockSessionRepository) count() int {
	return len(m.sessions)
}

// mockResetTokenRepository implements repository.ResetTokenRepository for testing
type mockResetTokenRepository struct {
	tokens map[uuid.UUID]*repository.PasswordResetToken
}

func newMockResetTokenRepository() *mockResetTokenRepository {
	return &mockResetTokenRepository{tokens: make(map[uuid.UUID]*repository.PasswordResetToken)}
}

func (m *mockResetTokenRepository) Create(ctx context.Context, token *repository.PasswordResetToken) error {
	token.ID = uuid.New()
	token.CreatedAt = time.Now().UTC()
	m.tokens[token.ID] = token
	return nil
}

func (m *mockResetTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*repository.PasswordResetToken, error) {
	for _, token := range m.tokens {
		if token.TokenHash == tokenHash {
			return token, nil
		}
	}
	return nil, repository.ErrResetTokenNotFound
}

func (m *mockResetTokenRepository) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	token, ok := m.tokens[id]
	if !ok || token.UsedAt != nil {
		return repository.ErrResetTokenNotFound
	}
	used := at
	token.UsedAt = &used
	return nil
}

func (m *mockResetTokenRepository) InvalidateActiveByEmail(ctx context.Context, email string, at time.Time) (int64, error) {
	var invalidated int64
	for _, token := range m.tokens {
		if token.Email == email && token.UsedAt == nil && token.ExpiresAt.After(at) {
			used := at
			token.UsedAt = &used
			invalidated++
		}
	}
	return invalidated, nil
}

func (m *mockResetTokenRepository) CleanupExpired(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	for id, token := range m.tokens {
		if token.ExpiresAt.Before(before) {
			delete(m.tokens, id)
			deleted++
		}
	}
	return deleted, nil
}

// captureNotifier records delivered reset tokens instead of sending them
type captureNotifier struct {
	emails []string
	tokens []string
	err    error
}

func (n *captureNotifier) SendResetToken(_ context.Context, email, token string, _ time.Time) error {
	if n.err != nil {
		return n.err
	}
	n.emails = append(n.emails, email)
	n.tokens = append(n.tokens, token)
	return nil
}

// Test fixtures

const testPassword = "Correct@Horse1"

var (
	testHashOnce sync.Once
	testHash     string
)

// testPasswordHash hashes testPassword once at bcrypt min cost so property
// tests stay fast. CompareHashAndPassword honors the cost embedded in the
// hash, so the production cost is not needed here.
func testPasswordHash(t testing.TB) string {
	t.Helper()
	testHashOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("failed to hash test password: %v", err)
		}
		testHash = string(hash)
	})
	return testHash
}

// seedUser inserts an active user with the shared test password
func seedUser(t testing.TB, users *mockUserRepository, email string) *repository.User {
	t.Helper()
	user := &repository.User{
		TenantID:     uuid.New(),
		Email:        email,
		PasswordHash: testPasswordHash(t),
		FullName:     "Test User",
		Role:         "staff",
		IsActive:     true,
	}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

// newTestRedis starts an in-process redis and returns a client bound to it
func newTestRedis(t testing.TB) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type authServiceFixture struct {
	service  *AuthService
	users    *mockUserRepository
	sessions *mockSessionRepository
	store    *PendingStore
	totp     *TOTP
	redis    *miniredis.Miniredis
}

func newAuthServiceFixture(t testing.TB) *authServiceFixture {
	t.Helper()

	mr, client := newTestRedis(t)
	users := newMockUserRepository()
	sessions := newMockSessionRepository()
	totp := NewTOTP("dental-pm-test")
	store := NewPendingStore(client, 5*time.Minute, 10*time.Minute)

	tokenService := NewTokenService(TokenServiceConfig{
		Secret:            "test-secret-at-least-32-bytes-long!!",
		AccessTokenExpiry: 15 * time.Minute,
		Issuer:            "dental-pm-test",
	})

	service := NewAuthService(users, sessions, tokenService, NewPasswordValidator(), store, totp, AuthServiceConfig{
		MaxFailedLogins: 5,
		LockoutDuration: 15 * time.Minute,
		SessionTTL:      7 * 24 * time.Hour,
		RememberMeTTL:   30 * 24 * time.Hour,
	}, nil)

	return &authServiceFixture{
		service:  service,
		users:    users,
		sessions: sessions,
		store:    store,
		totp:     totp,
		redis:    mr,
	}
}
