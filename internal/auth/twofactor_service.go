package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iwasthesword/dpm-v0-sub001/internal/repository"
)

// EnableTwoFactorRequest starts a two-factor enrollment. The password is
// re-verified even though the caller is already authenticated.
type EnableTwoFactorRequest struct {
	Password string `json:"password" validate:"required"`
}

// ConfirmTwoFactorRequest proves possession of the enrolled secret
type ConfirmTwoFactorRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableTwoFactorRequest turns two-factor off. Both the password and a
// current code are required.
type DisableTwoFactorRequest struct {
	Password string `json:"password" validate:"required"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
}

// EnrollmentResponse carries the provisioning material for authenticator
// apps. The secret is shown once and is not yet active.
type EnrollmentResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
}

// TwoFactorService handles TOTP enrollment lifecycle and disabling
type TwoFactorService struct {
	userRepo     repository.UserRepository
	sessionRepo  repository.SessionRepository
	pendingStore *PendingStore
	totp         *TOTP
	passwords    *PasswordValidator
	logger       *slog.Logger
	now          func() time.Time
}

// NewTwoFactorService creates a new TwoFactorService instance
func NewTwoFactorService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	pendingStore *PendingStore,
	totp *TOTP,
	passwords *PasswordValidator,
	logger *slog.Logger,
) *TwoFactorService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TwoFactorService{
		userRepo:     userRepo,
		sessionRepo:  sessionRepo,
		pendingStore: pendingStore,
		totp:         totp,
		passwords:    passwords,
		logger:       logger,
		now:          time.Now,
	}
}

// BeginEnrollment generates a fresh secret and parks it as a pending
// enrollment. Nothing on the user row changes until the secret is confirmed.
// Calling it again simply replaces the pending secret.
func (s *TwoFactorService) BeginEnrollment(ctx context.Context, userID uuid.UUID, req EnableTwoFactorRequest) (*EnrollmentResponse, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	if err := s.passwords.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	enrollment := &PendingEnrollment{
		UserID:    user.ID,
		Secret:    secret,
		CreatedAt: s.now(),
	}
	if err := s.pendingStore.SaveEnrollment(ctx, enrollment); err != nil {
		return nil, err
	}

	return &EnrollmentResponse{
		Secret:     secret,
		OTPAuthURL: s.totp.ProvisionURI(secret, user.Email),
	}, nil
}

// ConfirmEnrollment activates two-factor once the user proves they hold the
// pending secret. A wrong code leaves the enrollment in place for a retry.
func (s *TwoFactorService) ConfirmEnrollment(ctx context.Context, userID uuid.UUID, req ConfirmTwoFactorRequest) error {
	enrollment, err := s.pendingStore.GetEnrollment(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.totp.VerifyCode(enrollment.Secret, req.Code, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrTwoFactorInvalidCode
	}

	if err := s.userRepo.EnableTwoFactor(ctx, userID, enrollment.Secret); err != nil {
		return err
	}

	if err := s.pendingStore.DeleteEnrollment(ctx, userID); err != nil {
		// The secret is already active; a stale pending record only lives
		// until its TTL
		s.logger.Warn("failed to delete confirmed enrollment", "user_id", userID, "error", err)
	}

	s.logger.Info("two-factor enabled", "user_id", userID)
	return nil
}

// Disable turns two-factor off and revokes every session, forcing each
// device through a fresh password-only login
func (s *TwoFactorService) Disable(ctx context.Context, userID uuid.UUID, req DisableTwoFactorRequest) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}

	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return ErrTwoFactorNotEnabled
	}

	if err := s.passwords.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}

	ok, err := s.totp.VerifyCode(*user.TwoFactorSecret, req.Code, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrTwoFactorInvalidCode
	}

	if err := s.userRepo.DisableTwoFactor(ctx, userID); err != nil {
		return err
	}

	if _, err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("two-factor disabled", "user_id", userID)
	return nil
}
