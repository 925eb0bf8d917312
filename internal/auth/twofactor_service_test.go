package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/iwasthesword/dpm-v0-sub001/internal/repository"
)

type twoFactorFixture struct {
	service  *TwoFactorService
	users    *mockUserRepository
	sessions *mockSessionRepository
	store    *PendingStore
	totp     *TOTP
	redis    *miniredis.Miniredis
}

func newTwoFactorFixture(t *testing.T) *twoFactorFixture {
	t.Helper()

	mr, client := newTestRedis(t)
	users := newMockUserRepository()
	sessions := newMockSessionRepository()
	totp := NewTOTP("dental-pm-test")
	store := NewPendingStore(client, 5*time.Minute, 10*time.Minute)

	service := NewTwoFactorService(users, sessions, store, totp, NewPasswordValidator(), nil)

	return &twoFactorFixture{
		service:  service,
		users:    users,
		sessions: sessions,
		store:    store,
		totp:     totp,
		redis:    mr,
	}
}

func TestBeginEnrollment(t *testing.T) {
	fx := newTwoFactorFixture(t)
	ctx := context.Background()
	user := seedUser(t, fx.users, "dentist@clinic.test")

	resp, err := fx.service.BeginEnrollment(ctx, user.ID, EnableTwoFactorRequest{Password: testPassword})
	if err != nil {
		t.Fatalf("enrollment failed: %v", err)
	}

	if resp.Secret == "" {
		t.Fatal("expected a secret")
	}
	if !strings.HasPrefix(resp.OTPAuthURL, "otpauth://totp/") {
		t.Errorf("unexpected provisioning URI: %s", resp.OTPAuthURL)
	}
	if !strings.Contains(resp.OTPAuthURL, "secret="+resp.Secret) {
		t.Error("provisioning URI should embed the secret")
	}
	if !strings.Contains(resp.OTPAuthURL, "dental-pm-test") {
		t.Error("provisioning URI should name the issuer")
	}

	// Nothing on the user changes until the code is confirmed
	if user.TwoFactorEnabled || user.TwoFactorSecret != nil {
		t.Error("enrollment must not touch the user row")
	}
}

func TestBeginEnrollment_RequiresPassword(t *testing.T) {
	fx := newTwoFactorFixture(t)
	user := seedUser(t, fx.users, "dentist@clinic.test")

	_, err := fx.service.BeginEnrollment(context.Background(), user.ID, EnableTwoFactorRequest{Password: "Wrong@Password1"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

// Starting again replaces the pending secret; only the newest one confirms
func TestBeginEnrollment_RestartReplacesSecret(t *testing.T) {
	fx := newTwoFactorFixture(t)
	ctx := context.Background()
	user := seedUser(t, fx.users, "dentist@clinic.test")

	first, err := fx.service.BeginEnrollment(ctx, user.ID, EnableTwoFactorRequest{Password: testPassword})
	if err != nil {
		t.Fatal(err)
	}
	second, err := fx.service.BeginEnrollment(ctx, user.ID, EnableTwoFactorRequest{Password: testPassword})
	if err != nil {
		t.Fatal(err)
	}
	if first.Secret == second.Secret {
		t.Fatal("restart should generate a fresh secret")
	}

	pending, err := fx.store.GetEnrollment(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if pending.Secret != second.Secret {
		t.Error("only the newest secret should be pending")
	}
}

func TestConfirmEnrollment(t *testing.T) {
	fx := newTwoFactorFixture(t)
	ctx := context.Background()
	user := seedUser(t, fx.users, "dentist@clinic.test")

	resp, err := fx.service.BeginEnrollment(ctx, user.ID, EnableTwoFactorRequest{Password: testPassword})
	if err != nil {
		t.Fatal(err)
	}

	code, err := fx.totp.CodeAt(resp.Secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	if err := fx.service.ConfirmEnrollment(ctx, user.ID, ConfirmTwoFactorRequest{Code: code}); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if !user.TwoFactorEnabled {
		t.Error("two-factor should be enabled")
	}
	if user.TwoFactorSecret == nil || *user.TwoFactorSecret != resp.Secret {
		t.Error("the confirmed secret should be stored on the user")
	}

	// The pending record is gone
	if _, err := fx.store.GetEnrollment(ctx, user.ID); !errors.Is(err, ErrTwoFactorSetupExpired) {
		t.Errorf("pending enrollment should be deleted, got %v", err)
	}
}

// A wrong code is rejected but leaves the enrollment in place for a retry
func TestConfirmEnrollment_WrongCodeAllowsRetry(t *testing.T) {
	fx := newTwoFactorFixture(t)
	ctx := context.Background()
	user := seedUser(t, fx.users, "dentist@clinic.test")

	resp, err := fx.service.BeginEnrollment(ctx, user.ID, EnableTwoFactorRequest{Password: testPassword})
	if err != nil {
		t.Fatal(err)
	}

	err = fx.service.ConfirmEnrollment(ctx, user.ID, ConfirmTwoFactorRequest{Code: "000000"})
	if !errors.Is(err, ErrTwoFactorInvalidCode) {
		t.Fatalf("expected ErrTwoFactorInvalidCode, got %v", err)
	}
	if user.TwoFactorEnabled {
		t.Error("a wrong code must not enable two-factor")
	}

	code, _ := fx.totp.CodeAt(resp.Secret, time.Now())
	if err := fx.service.ConfirmEnrollment(ctx, user.ID, ConfirmTwoFactorRequest{Code: code}); err != nil {
		t.Fatalf("retry with the right code should confirm: %v", err)
	}
}

func TestConfirmEnrollment_Expired(t *testing.T) {
	fx := newTwoFactorFixture(t)
	ctx := context.Background()
	user := seedUser(t, fx.users, "dentist@clinic.test")

	resp, err := fx.service.BeginEnrollment(ctx, user.ID, EnableTwoFactorRequest{Password: testPassword})
	if err != nil {
		t.Fatal(err)
	}

	fx.redis.FastForward(11 * time.Minute)

	code, _ := fx.totp.CodeAt(resp.Secret, time.Now())
	err = fx.service.ConfirmEnrollment(ctx, user.ID, ConfirmTwoFactorRequest{Code: code})
	if !errors.Is(err, ErrTwoFactorSetupExpired) {
		t.Errorf("expected ErrTwoFactorSetupExpired, got %v", err)
	}
}

func TestDisable(t *testing.T) {
	fx := newTwoFactorFixture(t)
	ctx := context.Background()
	user := seedUser(t, fx.users, "dentist@clinic.test")

	secret, _ := fx.totp.GenerateSecret()
	_ = fx.users.EnableTwoFactor(ctx, user.ID, secret)

	// Two active sessions that must all be revoked
	for i := 0; i < 2; i++ {
		err := fx.sessions.Create(ctx, &repository.Session{
			UserID:           user.ID,
			AccessToken:      fmt.Sprintf("access-%d", i),
			RefreshTokenHash: fmt.Sprintf("refresh-hash-%d", i),
			ExpiresAt:        time.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	code, _ := fx.totp.CodeAt(secret, time.Now())

	// Password alone is not enough
	err := fx.service.Disable(ctx, user.ID, DisableTwoFactorRequest{Password: testPassword, Code: "000000"})
	if !errors.Is(err, ErrTwoFactorInvalidCode) {
		t.Fatalf("expected ErrTwoFactorInvalidCode, got %v", err)
	}

	// Code alone is not enough either
	err = fx.service.Disable(ctx, user.ID, DisableTwoFactorRequest{Password: "Wrong@Password1", Code: code})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if !user.TwoFactorEnabled {
		t.Fatal("failed attempts must not disable two-factor")
	}

	if err := fx.service.Disable(ctx, user.ID, DisableTwoFactorRequest{Password: testPassword, Code: code}); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	if user.TwoFactorEnabled || user.TwoFactorSecret != nil {
		t.Error("two-factor should be off and the secret cleared")
	}
	if fx.sessions.count() != 0 {
		t.Error("disabling two-factor should revoke every session")
	}
}

func TestDisable_NotEnabled(t *testing.T) {
	fx := newTwoFactorFixture(t)
	user := seedUser(t, fx.users, "dentist@clinic.test")

	err := fx.service.Disable(context.Background(), user.ID, DisableTwoFactorRequest{
		Password: testPassword,
		Code:     "123456",
	})
	if !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Errorf("expected ErrTwoFactorNotEnabled, got %v", err)
	}
}
