package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/iwasthesword/dpm-v0-sub001/internal/repository"
)

// resetTokenBytes is the entropy of a raw reset token before encoding
const resetTokenBytes = 32

// ForgotPasswordRequest represents the reset request payload
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the reset confirmation payload
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// ResetNotifier delivers the raw reset token to the account owner. The
// service never returns the token to the HTTP caller.
type ResetNotifier interface {
	SendResetToken(ctx context.Context, email, token string, expiresAt time.Time) error
}

// LogResetNotifier writes reset tokens to the log. It stands in for the
// mail-sending worker in development and test environments.
type LogResetNotifier struct {
	logger *slog.Logger
}

// NewLogResetNotifier creates a LogResetNotifier
func NewLogResetNotifier(logger *slog.Logger) *LogResetNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogResetNotifier{logger: logger}
}

// SendResetToken logs the token instead of mailing it
func (n *LogResetNotifier) SendResetToken(_ context.Context, email, token string, expiresAt time.Time) error {
	n.logger.Info("password reset requested",
		"email", email, "reset_token", token, "expires_at", expiresAt)
	return nil
}

// ResetService handles the password reset flow
type ResetService struct {
	userRepo    repository.UserRepository
	resetRepo   repository.ResetTokenRepository
	sessionRepo repository.SessionRepository
	passwords   *PasswordValidator
	notifier    ResetNotifier
	tokenTTL    time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewResetService creates a new ResetService instance
func NewResetService(
	userRepo repository.UserRepository,
	resetRepo repository.ResetTokenRepository,
	sessionRepo repository.SessionRepository,
	passwords *PasswordValidator,
	notifier ResetNotifier,
	tokenTTL time.Duration,
	logger *slog.Logger,
) *ResetService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetService{
		userRepo:    userRepo,
		resetRepo:   resetRepo,
		sessionRepo: sessionRepo,
		passwords:   passwords,
		notifier:    notifier,
		tokenTTL:    tokenTTL,
		logger:      logger,
		now:         time.Now,
	}
}

// RequestReset issues a reset token for the email if an active account owns
// it. The response is identical either way, so the endpoint cannot be used
// to probe which emails exist. Any earlier unconsumed tokens are retired.
func (s *ResetService) RequestReset(ctx context.Context, req ForgotPasswordRequest) error {
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}
	if !user.IsActive {
		return nil
	}

	now := s.now()
	if _, err := s.resetRepo.InvalidateActiveByEmail(ctx, email, now); err != nil {
		return err
	}

	raw, err := newOpaqueToken(resetTokenBytes)
	if err != nil {
		return err
	}

	token := &repository.PasswordResetToken{
		Email:     email,
		TokenHash: hashToken(raw),
		ExpiresAt: now.Add(s.tokenTTL),
	}
	if err := s.resetRepo.Create(ctx, token); err != nil {
		return err
	}

	if err := s.notifier.SendResetToken(ctx, email, raw, token.ExpiresAt); err != nil {
		// Delivery failures must not change the response shape
		s.logger.Error("failed to deliver reset token", "email", email, "error", err)
	}

	return nil
}

// ResetPassword redeems a reset token. The checks run in a fixed order:
// a token that does not exist is invalid, an existing token that was already
// consumed reports used even after its expiry, and only a live unconsumed
// token is checked against the clock. On success every session of the user
// is revoked.
func (s *ResetService) ResetPassword(ctx context.Context, req ResetPasswordRequest) ([]ValidationError, error) {
	token, err := s.resetRepo.GetByTokenHash(ctx, hashToken(req.Token))
	if err != nil {
		if errors.Is(err, repository.ErrResetTokenNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, err
	}

	if token.UsedAt != nil {
		return nil, ErrResetTokenUsed
	}

	now := s.now()
	if now.After(token.ExpiresAt) {
		return nil, ErrResetTokenExpired
	}

	var validationErrors []ValidationError
	for _, verr := range s.passwords.ValidatePassword(req.NewPassword) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "new_password",
			Message: verr.Message,
		})
	}
	if len(validationErrors) > 0 {
		// The token stays unconsumed so the user can retry
		return validationErrors, nil
	}

	user, err := s.userRepo.GetByEmail(ctx, token.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, err
	}

	// Claim the token before touching the password, so under concurrent
	// redemption exactly one request proceeds
	if err := s.resetRepo.MarkUsed(ctx, token.ID, now); err != nil {
		if errors.Is(err, repository.ErrResetTokenNotFound) {
			return nil, ErrResetTokenUsed
		}
		return nil, err
	}

	passwordHash, err := s.passwords.HashPassword(req.NewPassword)
	if err != nil {
		return nil, err
	}
	if err := s.userRepo.UpdatePassword(ctx, user.ID, passwordHash); err != nil {
		return nil, err
	}

	if _, err := s.sessionRepo.DeleteByUserID(ctx, user.ID); err != nil {
		return nil, err
	}

	s.logger.Info("password reset completed", "user_id", user.ID)
	return nil, nil
}
