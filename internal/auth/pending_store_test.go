package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestPendingStore(t *testing.T) (*PendingStore, func(time.Duration)) {
	t.Helper()
	mr, client := newTestRedis(t)
	store := NewPendingStore(client, 5*time.Minute, 10*time.Minute)
	return store, mr.FastForward
}

func TestPendingStore_ChallengeConsumedOnce(t *testing.T) {
	store, _ := newTestPendingStore(t)
	ctx := context.Background()
	userID := uuid.New()

	challenge := &PendingLoginChallenge{
		UserID:     userID,
		IPAddress:  "203.0.113.7",
		UserAgent:  "Mozilla/5.0",
		RememberMe: true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.SaveLoginChallenge(ctx, challenge); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.ConsumeLoginChallenge(ctx, userID)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if got.UserID != userID || got.IPAddress != "203.0.113.7" || !got.RememberMe {
		t.Error("challenge fields should round-trip")
	}

	// Gone after one consume
	if _, err := store.ConsumeLoginChallenge(ctx, userID); !errors.Is(err, ErrTwoFactorSessionExpired) {
		t.Errorf("second consume should report expiry, got %v", err)
	}
}

func TestPendingStore_ChallengeExpires(t *testing.T) {
	store, fastForward := newTestPendingStore(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := store.SaveLoginChallenge(ctx, &PendingLoginChallenge{UserID: userID}); err != nil {
		t.Fatal(err)
	}

	fastForward(5*time.Minute + time.Second)

	if _, err := store.ConsumeLoginChallenge(ctx, userID); !errors.Is(err, ErrTwoFactorSessionExpired) {
		t.Errorf("expected ErrTwoFactorSessionExpired, got %v", err)
	}
}

func TestPendingStore_ChallengeReplaced(t *testing.T) {
	store, _ := newTestPendingStore(t)
	ctx := context.Background()
	userID := uuid.New()

	_ = store.SaveLoginChallenge(ctx, &PendingLoginChallenge{UserID: userID, IPAddress: "first"})
	_ = store.SaveLoginChallenge(ctx, &PendingLoginChallenge{UserID: userID, IPAddress: "second"})

	got, err := store.ConsumeLoginChallenge(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IPAddress != "second" {
		t.Errorf("the newer challenge should win, got %q", got.IPAddress)
	}
}

// A consume takes exactly the challenge present at call time; one issued
// afterwards is untouched and consumable on its own.
func TestPendingStore_ReissuedChallengeSurvivesPriorConsume(t *testing.T) {
	store, _ := newTestPendingStore(t)
	ctx := context.Background()
	userID := uuid.New()

	_ = store.SaveLoginChallenge(ctx, &PendingLoginChallenge{UserID: userID, IPAddress: "first"})
	if _, err := store.ConsumeLoginChallenge(ctx, userID); err != nil {
		t.Fatal(err)
	}

	_ = store.SaveLoginChallenge(ctx, &PendingLoginChallenge{UserID: userID, IPAddress: "reissued"})

	got, err := store.ConsumeLoginChallenge(ctx, userID)
	if err != nil {
		t.Fatalf("re-issued challenge should be consumable: %v", err)
	}
	if got.IPAddress != "reissued" {
		t.Errorf("consume must return the current payload, got %q", got.IPAddress)
	}
}

func TestPendingStore_EnrollmentSurvivesReads(t *testing.T) {
	store, _ := newTestPendingStore(t)
	ctx := context.Background()
	userID := uuid.New()

	enrollment := &PendingEnrollment{
		UserID:    userID,
		Secret:    "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveEnrollment(ctx, enrollment); err != nil {
		t.Fatal(err)
	}

	// Unlike challenges, enrollments survive reads so a mistyped code can
	// be retried
	for i := 0; i < 2; i++ {
		got, err := store.GetEnrollment(ctx, userID)
		if err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
		if got.Secret != enrollment.Secret {
			t.Error("secret should round-trip")
		}
	}

	if err := store.DeleteEnrollment(ctx, userID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetEnrollment(ctx, userID); !errors.Is(err, ErrTwoFactorSetupExpired) {
		t.Errorf("expected ErrTwoFactorSetupExpired after delete, got %v", err)
	}
}

func TestPendingStore_EnrollmentExpires(t *testing.T) {
	store, fastForward := newTestPendingStore(t)
	ctx := context.Background()
	userID := uuid.New()

	if err := store.SaveEnrollment(ctx, &PendingEnrollment{UserID: userID, Secret: "AAAA"}); err != nil {
		t.Fatal(err)
	}

	fastForward(10*time.Minute + time.Second)

	if _, err := store.GetEnrollment(ctx, userID); !errors.Is(err, ErrTwoFactorSetupExpired) {
		t.Errorf("expected ErrTwoFactorSetupExpired, got %v", err)
	}
}

// Challenge and enrollment keys are independent per user
func TestPendingStore_KeysDoNotCollide(t *testing.T) {
	store, _ := newTestPendingStore(t)
	ctx := context.Background()
	userID := uuid.New()

	_ = store.SaveLoginChallenge(ctx, &PendingLoginChallenge{UserID: userID})
	_ = store.SaveEnrollment(ctx, &PendingEnrollment{UserID: userID, Secret: "AAAA"})

	if _, err := store.ConsumeLoginChallenge(ctx, userID); err != nil {
		t.Fatalf("challenge should exist: %v", err)
	}
	if _, err := store.GetEnrollment(ctx, userID); err != nil {
		t.Fatalf("enrollment should survive consuming the challenge: %v", err)
	}
}
