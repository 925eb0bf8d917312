package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	appctx "github.com/iwasthesword/dpm-v0-sub001/internal/context"
)

// TwoFactorHandler handles HTTP requests for two-factor settings endpoints
type TwoFactorHandler struct {
	twoFactorService *TwoFactorService
}

// NewTwoFactorHandler creates a new TwoFactorHandler instance
func NewTwoFactorHandler(twoFactorService *TwoFactorService) *TwoFactorHandler {
	return &TwoFactorHandler{
		twoFactorService: twoFactorService,
	}
}

// Enable starts a two-factor enrollment for the authenticated user
// POST /api/v1/auth/2fa/enable
func (h *TwoFactorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	identity, ok := appctx.ExtractIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var req EnableTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := ValidateRequest(req); details != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	enrollment, err := h.twoFactorService.BeginEnrollment(r.Context(), identity.UserID, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Password is incorrect", nil)
		case errors.Is(err, ErrAccountInactive):
			writeError(w, http.StatusForbidden, CodeAccountInactive, "Account is deactivated", nil)
		default:
			writeInternalError(w)
		}
		return
	}

	writeSuccess(w, http.StatusOK, enrollment)
}

// Confirm completes a pending enrollment
// POST /api/v1/auth/2fa/confirm
func (h *TwoFactorHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	identity, ok := appctx.ExtractIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var req ConfirmTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := ValidateRequest(req); details != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	if err := h.twoFactorService.ConfirmEnrollment(r.Context(), identity.UserID, req); err != nil {
		switch {
		case errors.Is(err, ErrTwoFactorSetupExpired):
			writeError(w, http.StatusBadRequest, CodeTwoFactorSetupExpired, "Two-factor setup expired. Please start again.", nil)
		case errors.Is(err, ErrTwoFactorInvalidCode):
			writeError(w, http.StatusBadRequest, CodeTwoFactorInvalidCode, "Invalid two-factor code", nil)
		default:
			writeInternalError(w)
		}
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Two-factor authentication enabled",
	})
}

// Disable turns two-factor off for the authenticated user
// POST /api/v1/auth/2fa/disable
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	identity, ok := appctx.ExtractIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var req DisableTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if details := ValidateRequest(req); details != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	if err := h.twoFactorService.Disable(r.Context(), identity.UserID, req); err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Password is incorrect", nil)
		case errors.Is(err, ErrTwoFactorInvalidCode):
			writeError(w, http.StatusBadRequest, CodeTwoFactorInvalidCode, "Invalid two-factor code", nil)
		case errors.Is(err, ErrTwoFactorNotEnabled):
			writeError(w, http.StatusBadRequest, CodeTwoFactorNotEnabled, "Two-factor authentication is not enabled", nil)
		default:
			writeInternalError(w)
		}
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Two-factor authentication disabled. All sessions have been revoked.",
	})
}
