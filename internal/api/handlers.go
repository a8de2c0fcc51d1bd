/**
 * @description
 * This file implements the HTTP handlers for the identity-service. Handlers
 * decode and validate the request shape, delegate to the app layer, and
 * translate domain errors into HTTP statuses. No business rules live here.
 *
 * @dependencies
 * - internal/app: Authentication, MFA, and RBAC orchestration.
 * - internal/domain: Domain models and error taxonomy.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/voyago/identity-service/internal/app"
	"github.com/voyago/identity-service/internal/domain"
)

// AuthHandler handles the authentication endpoints.
type AuthHandler struct {
	auth *app.AuthService
	mfa  *app.MfaService
	rbac *app.RBACService
}

// NewAuthHandler creates a new handler with its dependencies.
func NewAuthHandler(auth *app.AuthService, mfa *app.MfaService, rbac *app.RBACService) *AuthHandler {
	return &AuthHandler{auth: auth, mfa: mfa, rbac: rbac}
}

type registerUserRequest struct {
	Email       string  `json:"email"`
	Phone       string  `json:"phone"`
	Password    string  `json:"password"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	DateOfBirth *string `json:"date_of_birth"`
	Nationality *string `json:"nationality"`
	Currency    string  `json:"currency"`
}

type registerAgencyRequest struct {
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Password     string `json:"password"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	AgencyName   string `json:"agency_name"`
	BusinessType string `json:"business_type"`
	Currency     string `json:"currency"`
}

// RegisterUser handles POST /auth/register/user.
func (h *AuthHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" {
		writeError(w, http.StatusBadRequest, "email, password, first_name and last_name are required")
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	profile, err := json.Marshal(domain.UserProfile{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth,
		Nationality: req.Nationality,
		Currency:    req.Currency,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.register(w, r, app.RegisterInput{
		Kind:     domain.UserAccount,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		Profile:  profile,
		Device:   deviceFrom(r),
	})
}

// RegisterAgency handles POST /auth/register/agency.
func (h *AuthHandler) RegisterAgency(w http.ResponseWriter, r *http.Request) {
	var req registerAgencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" || req.AgencyName == "" || req.BusinessType == "" {
		writeError(w, http.StatusBadRequest, "email, password, agency_name and business_type are required")
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	profile, err := json.Marshal(domain.AgencyProfile{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		AgencyName:   req.AgencyName,
		BusinessType: req.BusinessType,
		Currency:     req.Currency,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.register(w, r, app.RegisterInput{
		Kind:     domain.AgencyAccount,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		Profile:  profile,
		Device:   deviceFrom(r),
	})
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request, input app.RegisterInput) {
	result, err := h.auth.Register(r.Context(), input)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type loginRequest struct {
	AccountType domain.AccountKind `json:"account_type"`
	Email       string             `json:"email"`
	Password    string             `json:"password"`
	MfaCode     string             `json:"mfa_code"`
	BackupCode  string             `json:"backup_code"`
}

// Login handles POST /auth/login, including the MFA second phase when the
// body carries mfa_code or backup_code.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AccountType == "" {
		req.AccountType = domain.UserAccount
	}
	if !req.AccountType.Valid() || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "account_type, email and password are required")
		return
	}

	result, err := h.auth.Login(r.Context(), req.AccountType, req.Email, req.Password, req.MfaCode, req.BackupCode, deviceFrom(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	result, err := h.auth.Refresh(r.Context(), req.RefreshToken, deviceFrom(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Logout handles POST /auth/logout. Idempotent by design.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		log.Printf("Logout error: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// LogoutAll handles POST /auth/logout-all.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	revoked, err := h.auth.LogoutAll(r.Context(), principal.AccountKind, principal.AccountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"revoked": revoked})
}

// ListSessions handles GET /auth/sessions.
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	sessions, err := h.auth.ListSessions(r.Context(), principal.AccountKind, principal.AccountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// RevokeSession handles DELETE /auth/sessions/{sessionID}.
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required")
		return
	}
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	if err := h.auth.RevokeSession(r.Context(), principal.AccountKind, principal.AccountID, sessionID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session revoked"})
}

// MfaEnroll handles POST /auth/mfa/enroll.
func (h *AuthHandler) MfaEnroll(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	enrollment, err := h.mfa.GenerateSecret(r.Context(), principal.AccountKind, principal.AccountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

// MfaEnable handles POST /auth/mfa/enable: the enrollment confirmation.
func (h *AuthHandler) MfaEnable(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	var req mfaCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	codes, err := h.mfa.ConfirmEnable(r.Context(), principal.AccountKind, principal.AccountID, req.Code)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "MFA enabled",
		"backupCodes": codes,
	})
}

type passwordRequest struct {
	Password string `json:"password"`
}

// MfaDisable handles POST /auth/mfa/disable.
func (h *AuthHandler) MfaDisable(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	if err := h.mfa.Disable(r.Context(), principal.AccountKind, principal.AccountID, req.Password); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "MFA disabled"})
}

// MfaBackupCodes handles POST /auth/mfa/backup-codes: regenerate the set.
func (h *AuthHandler) MfaBackupCodes(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	codes, err := h.mfa.RegenerateBackupCodes(r.Context(), principal.AccountKind, principal.AccountID, req.Password)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"backupCodes": codes})
}

// MfaBackupCodesRemaining handles GET /auth/mfa/backup-codes.
func (h *AuthHandler) MfaBackupCodesRemaining(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	remaining, err := h.mfa.RemainingBackupCodes(r.Context(), principal.AccountKind, principal.AccountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"remaining": remaining})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword handles POST /auth/change-password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "current_password and new_password are required")
		return
	}

	if err := h.auth.ChangePassword(r.Context(), principal.AccountKind, principal.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed, please log in again"})
}

type forgotPasswordRequest struct {
	AccountType domain.AccountKind `json:"account_type"`
	Email       string             `json:"email"`
}

// ForgotPassword handles POST /auth/forgot-password. The response body is
// identical whether or not the email is registered.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if req.AccountType == "" {
		req.AccountType = domain.UserAccount
	}
	if !req.AccountType.Valid() {
		writeError(w, http.StatusBadRequest, "invalid account_type")
		return
	}

	if err := h.auth.ForgotPassword(r.Context(), req.AccountType, req.Email); err != nil {
		log.Printf("Forgot-password error for %s: %v", req.AccountType, err)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the email is registered, a reset code has been sent",
	})
}

type resetPasswordRequest struct {
	AccountType domain.AccountKind `json:"account_type"`
	Email       string             `json:"email"`
	Code        string             `json:"code"`
	NewPassword string             `json:"new_password"`
}

// ResetPassword handles POST /auth/reset-password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Code == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "email, code and new_password are required")
		return
	}
	if req.AccountType == "" {
		req.AccountType = domain.UserAccount
	}
	if !req.AccountType.Valid() {
		writeError(w, http.StatusBadRequest, "invalid account_type")
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.AccountType, req.Email, req.Code, req.NewPassword); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset, please log in again"})
}

type verifyCodeRequest struct {
	Code string `json:"code"`
}

// VerifyEmail handles POST /auth/verify-email.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.auth.VerifyEmail(r.Context(), principal.AccountKind, principal.AccountID, req.Code); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified"})
}

// VerifyPhone handles POST /auth/verify-phone.
func (h *AuthHandler) VerifyPhone(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.auth.VerifyPhone(r.Context(), principal.AccountKind, principal.AccountID, req.Code); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Phone verified"})
}

type resendVerificationRequest struct {
	Channel string `json:"channel"`
}

// ResendVerification handles POST /auth/resend-verification.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	var req resendVerificationRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	purpose := domain.OtpEmailVerification
	if req.Channel == "phone" {
		purpose = domain.OtpPhoneVerification
	}

	if err := h.auth.ResendVerification(r.Context(), principal.AccountKind, principal.AccountID, purpose); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Verification code sent"})
}

// Profile handles GET /auth/profile.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required")
		return
	}

	account, err := h.auth.Profile(r.Context(), principal.AccountKind, principal.AccountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	roles, err := h.rbac.RolesOf(r.Context(), principal.AccountKind, principal.AccountID)
	if err != nil {
		log.Printf("Failed to resolve roles for account %s: %v", principal.AccountID, err)
		roles = nil
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"roles":   roles,
	})
}

// writeDomainError maps domain errors to HTTP statuses. Everything not in
// the taxonomy is a 500 with a generic body; internals never leak.
func (h *AuthHandler) writeDomainError(w http.ResponseWriter, err error) {
	var weak *domain.WeakCredentialError
	var locked *domain.AccountLockedError
	var roleMissing *domain.RoleNotFoundError

	switch {
	case errors.As(err, &weak):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":      "password does not meet the strength policy",
			"violations": weak.Violations,
		})
	case errors.As(err, &locked):
		writeJSON(w, http.StatusLocked, map[string]interface{}{
			"error":            locked.Error(),
			"minutesRemaining": locked.MinutesRemaining,
		})
	case errors.As(err, &roleMissing):
		writeError(w, http.StatusNotFound, roleMissing.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrAccountBlocked),
		errors.Is(err, domain.ErrAccountDormant),
		errors.Is(err, domain.ErrInvalidMfaCode),
		errors.Is(err, domain.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrInvalidOrExpiredOtp):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("Internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response body: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func deviceFrom(r *http.Request) domain.Device {
	return domain.Device{
		UserAgent: r.UserAgent(),
		IPAddress: clientAddr(r),
	}
}
