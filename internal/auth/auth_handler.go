package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appctx "github.com/iwasthesword/dpm-v0-sub001/internal/context"
	"github.com/iwasthesword/dpm-v0-sub001/internal/metrics"
	"github.com/iwasthesword/dpm-v0-sub001/internal/sanitizer"
)

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// AuthHandler handles HTTP requests for authentication endpoints
type AuthHandler struct {
	authService  *AuthService
	resetService *ResetService
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(authService *AuthService, resetService *ResetService) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		resetService: resetService,
	}
}

// Login handles the first authentication step
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := ValidateRequest(req); details != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	ipAddress := sanitizer.CleanIPAddress(getClientIP(r))
	userAgent := sanitizer.CleanUserAgent(r.UserAgent())

	response, err := h.authService.Login(r.Context(), req, ipAddress, userAgent)
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	if response.RequiresTwoFactor {
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultTwoFactorPending).Inc()
	} else {
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	}
	writeSuccess(w, http.StatusOK, response)
}

// VerifyTwoFactor handles the second authentication step
// POST /api/v1/auth/login/2fa
func (h *AuthHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req VerifyTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := ValidateRequest(req); details != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	response, err := h.authService.VerifyTwoFactor(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrTwoFactorSessionExpired):
			metrics.TwoFactorVerificationsTotal.WithLabelValues(metrics.ResultExpired).Inc()
			writeError(w, http.StatusUnauthorized, CodeTwoFactorSessionExpired, "Two-factor session expired. Please log in again.", nil)
		case errors.Is(err, ErrTwoFactorInvalidCode):
			metrics.TwoFactorVerificationsTotal.WithLabelValues(metrics.ResultInvalidCode).Inc()
			writeError(w, http.StatusUnauthorized, CodeTwoFactorInvalidCode, "Invalid two-factor code. Please log in again.", nil)
		case errors.Is(err, ErrTwoFactorNotEnabled):
			writeError(w, http.StatusBadRequest, CodeTwoFactorNotEnabled, "Two-factor authentication is not enabled", nil)
		case errors.Is(err, ErrAccountInactive):
			writeError(w, http.StatusForbidden, CodeAccountInactive, "Account is deactivated", nil)
		default:
			metrics.TwoFactorVerificationsTotal.WithLabelValues(metrics.ResultError).Inc()
			writeInternalError(w)
		}
		return
	}

	metrics.TwoFactorVerificationsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	writeSuccess(w, http.StatusOK, response)
}

// Refresh handles token rotation
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := ValidateRequest(req); details != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	tokens, err := h.authService.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired):
			metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultExpired).Inc()
			writeError(w, http.StatusUnauthorized, CodeTokenExpired, "Refresh token has expired", nil)
		case errors.Is(err, ErrTokenInvalid):
			metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultInvalidToken).Inc()
			writeError(w, http.StatusUnauthorized, CodeTokenInvalid, "Invalid refresh token", nil)
		case errors.Is(err, ErrAccountInactive):
			metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultInactive).Inc()
			writeError(w, http.StatusForbidden, CodeAccountInactive, "Account is deactivated", nil)
		default:
			metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultError).Inc()
			writeInternalError(w)
		}
		return
	}

	metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"tokens": tokens,
	})
}

// Logout invalidates the session of the presented refresh token
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := ValidateRequest(req); details != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	if err := h.authService.Logout(r.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, http.StatusUnauthorized, CodeTokenInvalid, "Invalid refresh token", nil)
			return
		}
		writeInternalError(w)
		return
	}

	metrics.SessionsRevokedTotal.Inc()
	writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Successfully logged out",
	})
}

// LogoutAll revokes every session of the authenticated user
// POST /api/v1/auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	identity, ok := appctx.ExtractIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	revoked, err := h.authService.LogoutAll(r.Context(), identity.UserID)
	if err != nil {
		writeInternalError(w)
		return
	}

	metrics.SessionsRevokedTotal.Add(float64(revoked))
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"message":          "All sessions revoked",
		"revoked_sessions": revoked,
	})
}

// ForgotPassword starts the reset flow. The response does not reveal whether
// the email belongs to an account.
// POST /api/v1/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := ValidateRequest(req); details != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	if err := h.resetService.RequestReset(r.Context(), req); err != nil {
		writeInternalError(w)
		return
	}

	metrics.PasswordResetsTotal.WithLabelValues(metrics.StageRequested).Inc()
	writeSuccess(w, http.StatusOK, map[string]string{
		"message": "If an account exists for that email, a password reset link has been sent",
	})
}

// ResetPassword redeems a reset token
// POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := ValidateRequest(req); details != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	validationErrors, err := h.resetService.ResetPassword(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrResetTokenUsed):
			writeError(w, http.StatusBadRequest, CodeResetTokenUsed, "This reset link has already been used", nil)
		case errors.Is(err, ErrResetTokenExpired):
			writeError(w, http.StatusBadRequest, CodeResetTokenExpired, "This reset link has expired", nil)
		case errors.Is(err, ErrResetTokenInvalid):
			writeError(w, http.StatusBadRequest, CodeResetTokenInvalid, "Invalid reset link", nil)
		default:
			writeInternalError(w)
		}
		return
	}
	if len(validationErrors) > 0 {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(validationErrors))
		return
	}

	metrics.PasswordResetsTotal.WithLabelValues(metrics.StageCompleted).Inc()
	writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Password has been reset. Please log in with your new password.",
	})
}

// ChangePassword updates the password of the authenticated user and signs
// out every device
// POST /api/v1/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := appctx.ExtractIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := ValidateRequest(req); details != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	validationErrors, err := h.authService.ChangePassword(r.Context(), identity.UserID, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Current password is incorrect", nil)
		case errors.Is(err, ErrAccountInactive):
			writeError(w, http.StatusForbidden, CodeAccountInactive, "Account is deactivated", nil)
		default:
			writeInternalError(w)
		}
		return
	}
	if len(validationErrors) > 0 {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", validationDetails(validationErrors))
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Password changed. Please log in again on your other devices.",
	})
}

// ListSessions returns the active sessions of the authenticated user
// GET /api/v1/auth/sessions
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	identity, ok := appctx.ExtractIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	sessions, err := h.authService.ListSessions(r.Context(), identity.UserID, bearerToken(r))
	if err != nil {
		writeInternalError(w)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// RevokeSession deletes one session of the authenticated user
// DELETE /api/v1/auth/sessions/{id}
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := appctx.ExtractIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid session id", nil)
		return
	}

	if err := h.authService.RevokeSession(r.Context(), identity.UserID, sessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, CodeSessionNotFound, "Session not found", nil)
			return
		}
		writeInternalError(w)
		return
	}

	metrics.SessionsRevokedTotal.Inc()
	writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Session revoked",
	})
}

// GetMe returns the profile of the authenticated user
// GET /api/v1/auth/me
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := appctx.ExtractIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	user, err := h.authService.GetCurrentUser(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
			return
		}
		writeInternalError(w)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user": user,
	})
}

// writeLoginError maps login failures onto the API error vocabulary. Both
// login steps share the same mapping for credential-level failures.
func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	var locked *AccountLockedError
	switch {
	case errors.As(err, &locked):
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultLocked).Inc()
		details := map[string][]string{
			"retry_after_minutes": {strconv.Itoa(locked.RemainingMinutes)},
		}
		message := fmt.Sprintf("Account temporarily locked. Try again in %d minutes.", locked.RemainingMinutes)
		writeError(w, http.StatusTooManyRequests, CodeAccountLocked, message, details)
	case errors.Is(err, ErrInvalidCredentials):
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultInvalidCredentials).Inc()
		writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password", nil)
	case errors.Is(err, ErrAccountInactive):
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultInactive).Inc()
		writeError(w, http.StatusForbidden, CodeAccountInactive, "Account is deactivated", nil)
	default:
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.ResultError).Inc()
		writeInternalError(w)
	}
}

// writeSuccess writes a successful JSON response
func writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// writeError writes an error JSON response
func writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// writeInternalError hides unexpected failures behind a fixed message
func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
}

func validationDetails(validationErrors []ValidationError) map[string][]string {
	details := make(map[string][]string)
	for _, ve := range validationErrors {
		details[ve.Field] = append(details[ve.Field], ve.Message)
	}
	return details
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}

// bearerToken returns the raw token from the Authorization header, or ""
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
