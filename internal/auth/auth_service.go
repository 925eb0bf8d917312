package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iwasthesword/dpm-v0-sub001/internal/metrics"
	"github.com/iwasthesword/dpm-v0-sub001/internal/repository"
)

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
}

// VerifyTwoFactorRequest represents the second step of a two-factor login
type VerifyTwoFactorRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
	Code   string `json:"code" validate:"required,len=6,numeric"`
}

// RefreshRequest represents the token refresh request payload
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest represents the logout request payload
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ChangePasswordRequest represents the change password request payload
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// TokenResponse represents the token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// UserResponse represents the user data in responses
type UserResponse struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	Email            string     `json:"email"`
	FullName         string     `json:"full_name"`
	Role             string     `json:"role"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	LastLogin        *time.Time `json:"last_login,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// LoginResponse represents the login response. Either Tokens is set, or
// RequiresTwoFactor is true and the client must call the two-factor verify
// endpoint with UserID and a code.
type LoginResponse struct {
	RequiresTwoFactor bool           `json:"requires_two_factor,omitempty"`
	UserID            string         `json:"user_id,omitempty"`
	User              *UserResponse  `json:"user,omitempty"`
	Tokens            *TokenResponse `json:"tokens,omitempty"`
}

// SessionResponse represents one active session in session listings
type SessionResponse struct {
	ID        string    `json:"id"`
	IPAddress *string   `json:"ip_address,omitempty"`
	UserAgent *string   `json:"user_agent,omitempty"`
	Current   bool      `json:"current"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AuthServiceConfig holds the lockout and session lifetime policy
type AuthServiceConfig struct {
	MaxFailedLogins int
	LockoutDuration time.Duration
	SessionTTL      time.Duration
	RememberMeTTL   time.Duration
}

// AuthService handles authentication business logic
type AuthService struct {
	userRepo          repository.UserRepository
	sessionRepo       repository.SessionRepository
	tokenService      *TokenService
	passwordValidator *PasswordValidator
	pendingStore      *PendingStore
	totp              *TOTP
	cfg               AuthServiceConfig
	logger            *slog.Logger
	now               func() time.Time
}

// NewAuthService creates a new AuthService instance
func NewAuthService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	tokenService *TokenService,
	passwordValidator *PasswordValidator,
	pendingStore *PendingStore,
	totp *TOTP,
	cfg AuthServiceConfig,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		userRepo:          userRepo,
		sessionRepo:       sessionRepo,
		tokenService:      tokenService,
		passwordValidator: passwordValidator,
		pendingStore:      pendingStore,
		totp:              totp,
		cfg:               cfg,
		logger:            logger,
		now:               time.Now,
	}
}

// Login authenticates a user by email and password. Accounts with two-factor
// enabled get a short-lived challenge instead of tokens; everyone else gets a
// full session.
//
// The lockout window is checked before the password is compared, so a locked
// account answers the same way whether or not the password is right.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, ipAddress, userAgent string) (*LoginResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Generic error to prevent account enumeration
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := s.now()

	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		return nil, &AccountLockedError{RemainingMinutes: remainingMinutes(*user.LockedUntil, now)}
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	if err := s.passwordValidator.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		attempts, recErr := s.userRepo.RecordFailedLogin(ctx, user.ID, s.cfg.MaxFailedLogins, now.Add(s.cfg.LockoutDuration))
		if recErr != nil {
			return nil, recErr
		}
		if attempts >= s.cfg.MaxFailedLogins {
			metrics.AccountLockoutsTotal.Inc()
			s.logger.Warn("account locked after repeated login failures",
				"user_id", user.ID, "attempts", attempts)
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.userRepo.RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}

	if user.TwoFactorEnabled {
		challenge := &PendingLoginChallenge{
			UserID:     user.ID,
			IPAddress:  ipAddress,
			UserAgent:  userAgent,
			RememberMe: req.RememberMe,
			CreatedAt:  now,
		}
		if err := s.pendingStore.SaveLoginChallenge(ctx, challenge); err != nil {
			return nil, err
		}
		return &LoginResponse{
			RequiresTwoFactor: true,
			UserID:            user.ID.String(),
		}, nil
	}

	tokens, err := s.createSession(ctx, user, ipAddress, userAgent, req.RememberMe)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", "user_id", user.ID, "tenant_id", user.TenantID)

	return &LoginResponse{
		User:   s.userResponse(user),
		Tokens: tokens,
	}, nil
}

// VerifyTwoFactor completes a two-factor login. The challenge is consumed
// before the code is checked, so each challenge admits exactly one attempt.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, req VerifyTwoFactorRequest) (*LoginResponse, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, ErrTwoFactorSessionExpired
	}

	challenge, err := s.pendingStore.ConsumeLoginChallenge(ctx, userID)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrTwoFactorSessionExpired
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return nil, ErrTwoFactorNotEnabled
	}

	ok, err := s.totp.VerifyCode(*user.TwoFactorSecret, req.Code, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTwoFactorInvalidCode
	}

	tokens, err := s.createSession(ctx, user, challenge.IPAddress, challenge.UserAgent, challenge.RememberMe)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in with two-factor", "user_id", user.ID, "tenant_id", user.TenantID)

	return &LoginResponse{
		User:   s.userResponse(user),
		Tokens: tokens,
	}, nil
}

// RefreshToken rotates the session identified by the refresh token. Both
// stored token values are replaced on the same row and the expiry extended,
// so a refresh token works at most once.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	tokenHash := s.tokenService.HashRefreshToken(refreshToken)

	session, err := s.sessionRepo.GetByRefreshTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	now := s.now()
	if now.After(session.ExpiresAt) {
		_ = s.sessionRepo.Delete(ctx, session.ID)
		return nil, ErrTokenExpired
	}

	user, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	tokenPair, err := s.tokenService.GenerateTokenPair(user.ID, user.TenantID, user.Role)
	if err != nil {
		return nil, err
	}

	newHash := s.tokenService.HashRefreshToken(tokenPair.RefreshToken)
	expiresAt := now.Add(s.sessionTTL(session.RememberMe))

	if err := s.sessionRepo.Rotate(ctx, session.ID, tokenHash, tokenPair.AccessToken, newHash, expiresAt); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			// Lost a race against a concurrent refresh of the same token
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		ExpiresIn:    tokenPair.ExpiresIn,
		TokenType:    "Bearer",
	}, nil
}

// Logout invalidates the session holding the given refresh token
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	tokenHash := s.tokenService.HashRefreshToken(refreshToken)
	if err := s.sessionRepo.DeleteByRefreshTokenHash(ctx, tokenHash); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// LogoutAll revokes every session of the user and returns how many there were
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	revoked, err := s.sessionRepo.DeleteByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("all sessions revoked", "user_id", userID, "count", revoked)
	return revoked, nil
}

// ChangePassword verifies the current password, applies the password policy
// to the new one, and revokes every session so other devices must sign in
// again. The failed-login counter is not touched here.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, req ChangePasswordRequest) ([]ValidationError, error) {
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

	if err := s.passwordValidator.VerifyPassword(req.CurrentPassword, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	var validationErrors []ValidationError
	for _, verr := range s.passwordValidator.ValidatePassword(req.NewPassword) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "new_password",
			Message: verr.Message,
		})
	}
	if len(validationErrors) > 0 {
		return validationErrors, nil
	}

	passwordHash, err := s.passwordValidator.HashPassword(req.NewPassword)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.UpdatePassword(ctx, userID, passwordHash); err != nil {
		return nil, err
	}

	if _, err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return nil, err
	}

	s.logger.Info("password changed", "user_id", userID)
	return nil, nil
}

// ListSessions returns the user's active sessions, newest first. The session
// whose access token matches the caller's is flagged as current.
func (s *AuthService) ListSessions(ctx context.Context, userID uuid.UUID, currentAccessToken string) ([]SessionResponse, error) {
	sessions, err := s.sessionRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	responses := make([]SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		responses = append(responses, SessionResponse{
			ID:        session.ID.String(),
			IPAddress: session.IPAddress,
			UserAgent: session.UserAgent,
			Current:   session.AccessToken == currentAccessToken,
			CreatedAt: session.CreatedAt,
			ExpiresAt: session.ExpiresAt,
		})
	}

	return responses, nil
}

// RevokeSession deletes one session of the caller. Sessions of other users
// are invisible here, so an id belonging to someone else reports not found.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	if err := s.sessionRepo.DeleteOwned(ctx, sessionID, userID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// GetCurrentUser returns the profile of the authenticated user
func (s *AuthService) GetCurrentUser(ctx context.Context, userID uuid.UUID) (*UserResponse, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	return s.userResponse(user), nil
}

// createSession issues a token pair and persists the session row
func (s *AuthService) createSession(ctx context.Context, user *repository.User, ipAddress, userAgent string, rememberMe bool) (*TokenResponse, error) {
	tokenPair, err := s.tokenService.GenerateTokenPair(user.ID, user.TenantID, user.Role)
	if err != nil {
		return nil, err
	}

	session := &repository.Session{
		UserID:           user.ID,
		AccessToken:      tokenPair.AccessToken,
		RefreshTokenHash: s.tokenService.HashRefreshToken(tokenPair.RefreshToken),
		IPAddress:        nullableString(ipAddress),
		UserAgent:        nullableString(userAgent),
		RememberMe:       rememberMe,
		ExpiresAt:        s.now().Add(s.sessionTTL(rememberMe)),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		ExpiresIn:    tokenPair.ExpiresIn,
		TokenType:    "Bearer",
	}, nil
}

func (s *AuthService) sessionTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return s.cfg.RememberMeTTL
	}
	return s.cfg.SessionTTL
}

func (s *AuthService) userResponse(user *repository.User) *UserResponse {
	return &UserResponse{
		ID:               user.ID.String(),
		TenantID:         user.TenantID.String(),
		Email:            user.Email,
		FullName:         user.FullName,
		Role:             user.Role,
		TwoFactorEnabled: user.TwoFactorEnabled,
		LastLogin:        user.LastLoginAt,
		CreatedAt:        user.CreatedAt,
	}
}

// remainingMinutes rounds the time left on a lock up to whole minutes, never
// reporting zero for an active lock
func remainingMinutes(until, now time.Time) int {
	mins := int((until.Sub(now) + time.Minute - 1) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	return mins
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
