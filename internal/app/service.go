/**
 * @description
 * This file implements the authentication orchestrator: registration,
 * the login state machine (lockout, password, account status, MFA),
 * token refresh, session management, and the password lifecycle. Every
 * flow that must notify downstream services does so through the
 * transactional outbox in the same transaction as its state change.
 *
 * @dependencies
 * - internal/token: Token pair issuance and rotation.
 * - internal/store: Persistence interfaces.
 * - golang.org/x/crypto/bcrypt: (via credentials.go) password hashing.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/voyago/identity-service/internal/domain"
	"github.com/voyago/identity-service/internal/store"
	"github.com/voyago/identity-service/internal/token"
)

// IdentityExchange is the topic exchange carrying account lifecycle events.
const IdentityExchange = "identity_events"

// AuthService orchestrates the full authentication surface.
type AuthService struct {
	accounts store.AccountRepository
	sessions store.SessionRepository
	tokens   *token.Service
	policy   PasswordPolicy
	lockout  *LockoutGuard
	otp      *OtpService
	mfa      *MfaService
}

// NewAuthService wires the orchestrator.
func NewAuthService(
	accounts store.AccountRepository,
	sessions store.SessionRepository,
	tokens *token.Service,
	policy PasswordPolicy,
	lockout *LockoutGuard,
	otp *OtpService,
	mfa *MfaService,
) *AuthService {
	return &AuthService{
		accounts: accounts,
		sessions: sessions,
		tokens:   tokens,
		policy:   policy,
		lockout:  lockout,
		otp:      otp,
		mfa:      mfa,
	}
}

// RegisterInput carries the common registration fields; Profile holds the
// kind-specific variant already marshaled by the handler.
type RegisterInput struct {
	Kind     domain.AccountKind
	Email    string
	Phone    string
	Password string
	Profile  json.RawMessage
	Device   domain.Device
}

// AuthResult is the successful outcome of login, registration, or refresh.
// When MfaRequired is set the token fields are empty and the caller must
// complete the second phase.
type AuthResult struct {
	Account      *domain.Account `json:"account,omitempty"`
	AccessToken  string          `json:"accessToken,omitempty"`
	RefreshToken string          `json:"refreshToken,omitempty"`
	TokenType    string          `json:"tokenType,omitempty"`
	ExpiresIn    int             `json:"expiresIn,omitempty"`
	MfaRequired  bool            `json:"mfaRequired,omitempty"`
	MfaMethod    string          `json:"mfaMethod,omitempty"`
}

// Register creates an account, issues its first token pair, and enqueues
// both the lifecycle announcement and an email verification code. The new
// account is usable immediately; verification gates nothing but the
// verified badge.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	if !input.Kind.Valid() {
		return nil, domain.ErrUnauthorized
	}
	if err := s.policy.checkPassword(input.Password); err != nil {
		return nil, err
	}

	hash, err := s.policy.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	email := normalizeEmail(input.Email)
	account := &domain.Account{
		ID:           uuid.NewString(),
		Kind:         input.Kind,
		Email:        email,
		PasswordHash: hash,
		Status:       domain.StatusActive,
		Profile:      input.Profile,
	}
	if input.Phone != "" {
		account.Phone = &input.Phone
	}

	event := domain.AccountRegisteredEvent{AccountID: account.ID, AccountKind: input.Kind, Email: email}
	id, err := s.accounts.CreateAccountAndEnqueueEvent(ctx, account, IdentityExchange, "account.registered", &event)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domain.ErrConflict
		}
		return nil, err
	}
	account.ID = id

	if err := s.otp.Send(ctx, input.Kind, id, domain.OtpEmailVerification, email); err != nil {
		// The account exists; a failed code enqueue must not fail signup.
		log.Printf("Failed to enqueue verification code for account %s: %v", id, err)
	}

	pair, err := s.tokens.Issue(ctx, id, input.Kind, input.Device)
	if err != nil {
		return nil, err
	}
	return s.result(account, pair), nil
}

// Login runs the full credential state machine. Order matters:
//  1. lockout check, before anything that could leak credential validity
//  2. account lookup and password check (both failures look identical)
//  3. account status gates
//  4. MFA: enabled accounts get MfaRequired with no tokens; the caller
//     retries with a TOTP or backup code to complete the second phase
func (s *AuthService) Login(
	ctx context.Context,
	kind domain.AccountKind,
	email, password, mfaCode, backupCode string,
	device domain.Device,
) (*AuthResult, error) {
	email = normalizeEmail(email)

	if err := s.lockout.Check(ctx, kind, email); err != nil {
		return nil, err
	}

	account, err := s.accounts.FindAccountByEmail(ctx, kind, email)
	if err != nil {
		return nil, err
	}
	if account == nil || !VerifyPassword(password, account.PasswordHash) {
		if account != nil {
			s.lockout.RecordFailure(ctx, kind, email)
		}
		return nil, domain.ErrUnauthorized
	}

	switch account.Status {
	case domain.StatusBlocked, domain.StatusSuspended, domain.StatusClosed:
		return nil, domain.ErrAccountBlocked
	case domain.StatusDormant:
		return nil, domain.ErrAccountDormant
	}

	if account.MfaEnabled {
		switch {
		case mfaCode != "":
			if err := s.mfa.Verify(account, mfaCode); err != nil {
				s.lockout.RecordFailure(ctx, kind, email)
				return nil, err
			}
		case backupCode != "":
			if err := s.mfa.VerifyBackupCode(ctx, kind, account.ID, backupCode); err != nil {
				s.lockout.RecordFailure(ctx, kind, email)
				return nil, err
			}
		default:
			// Password was correct; tell the caller to come back with a code.
			return &AuthResult{MfaRequired: true, MfaMethod: "totp"}, nil
		}
	}

	s.lockout.RecordSuccess(ctx, kind, email)
	if err := s.accounts.TouchLastLogin(ctx, kind, account.ID); err != nil {
		log.Printf("Failed to record last login for account %s: %v", account.ID, err)
	}

	pair, err := s.tokens.Issue(ctx, account.ID, kind, device)
	if err != nil {
		return nil, err
	}
	return s.result(account, pair), nil
}

// Refresh rotates a refresh token for a new pair. The presented token's
// session is revoked as part of rotation, so each refresh token works once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, device domain.Device) (*AuthResult, error) {
	pair, claims, err := s.tokens.Rotate(ctx, refreshToken, device)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	account, err := s.accounts.FindAccountByID(ctx, claims.AccountKind, claims.Subject)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Status != domain.StatusActive {
		return nil, domain.ErrInvalidToken
	}
	return s.result(account, pair), nil
}

// Logout revokes the session holding the presented refresh token. Unknown
// or already-revoked tokens are treated as success; logout is idempotent.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeSessionByRefreshToken(ctx, refreshToken)
}

// LogoutAll revokes every active session of the account and returns how
// many were revoked. The bulk revocation event rides the same transaction,
// so downstream caches only hear about revocations that actually happened.
func (s *AuthService) LogoutAll(ctx context.Context, kind domain.AccountKind, accountID string) (int64, error) {
	event := domain.SessionsRevokedEvent{AccountID: accountID, AccountKind: kind, Reason: "logout_all"}
	return s.sessions.RevokeAllSessionsAndEnqueueEvent(ctx, kind, accountID, IdentityExchange, "sessions.revoked", &event)
}

// ListSessions lists the account's active, unexpired sessions.
func (s *AuthService) ListSessions(ctx context.Context, kind domain.AccountKind, accountID string) ([]domain.Session, error) {
	return s.sessions.ListActiveSessions(ctx, kind, accountID)
}

// RevokeSession revokes one of the account's sessions by id. Revoking a
// session the account does not own fails with ErrNotFound rather than
// leaking that the id exists.
func (s *AuthService) RevokeSession(ctx context.Context, kind domain.AccountKind, accountID, sessionID string) error {
	return s.sessions.RevokeSession(ctx, kind, accountID, sessionID)
}

// ChangePassword re-proves the current password, validates the new one,
// and atomically updates the hash, revokes every session, and enqueues the
// change event. The caller must log in again afterwards.
func (s *AuthService) ChangePassword(ctx context.Context, kind domain.AccountKind, accountID, currentPassword, newPassword string) error {
	account, err := s.accounts.FindAccountByID(ctx, kind, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return domain.ErrNotFound
	}
	if !VerifyPassword(currentPassword, account.PasswordHash) {
		return domain.ErrUnauthorized
	}
	if err := s.policy.checkPassword(newPassword); err != nil {
		return err
	}

	hash, err := s.policy.Hash(newPassword)
	if err != nil {
		return err
	}

	event := domain.PasswordChangedEvent{AccountID: accountID, AccountKind: kind, Reset: false}
	return s.accounts.UpdatePasswordRevokeSessionsAndEnqueueEvent(
		ctx, kind, accountID, hash, IdentityExchange, "account.password_changed", &event,
	)
}

// ForgotPassword sends a password reset code when the email matches an
// account. The response is identical either way, so the endpoint cannot be
// used to probe which emails are registered.
func (s *AuthService) ForgotPassword(ctx context.Context, kind domain.AccountKind, email string) error {
	email = normalizeEmail(email)
	account, err := s.accounts.FindAccountByEmail(ctx, kind, email)
	if err != nil {
		return err
	}
	if account == nil {
		return nil
	}
	return s.otp.Send(ctx, kind, account.ID, domain.OtpPasswordReset, email)
}

// ResetPassword consumes a reset code and, in the same transaction, swaps
// the password hash, revokes every session, and enqueues the change event.
// An invalid code leaves everything untouched.
func (s *AuthService) ResetPassword(ctx context.Context, kind domain.AccountKind, email, code, newPassword string) error {
	email = normalizeEmail(email)
	account, err := s.accounts.FindAccountByEmail(ctx, kind, email)
	if err != nil {
		return err
	}
	if account == nil {
		return domain.ErrInvalidOrExpiredOtp
	}
	if err := s.policy.checkPassword(newPassword); err != nil {
		return err
	}

	hash, err := s.policy.Hash(newPassword)
	if err != nil {
		return err
	}

	event := domain.PasswordChangedEvent{AccountID: account.ID, AccountKind: kind, Reset: true}
	consumed, err := s.accounts.ConsumeOtpUpdatePasswordAndEnqueueEvent(
		ctx, kind, account.ID, domain.OtpPasswordReset, code, hash,
		IdentityExchange, "account.password_changed", &event,
	)
	if err != nil {
		return err
	}
	if !consumed {
		return domain.ErrInvalidOrExpiredOtp
	}

	s.lockout.RecordSuccess(ctx, kind, email)
	return nil
}

// VerifyEmail consumes an email verification code and marks the address
// verified.
func (s *AuthService) VerifyEmail(ctx context.Context, kind domain.AccountKind, accountID, code string) error {
	if err := s.otp.Verify(ctx, kind, accountID, domain.OtpEmailVerification, code); err != nil {
		return err
	}
	return s.accounts.MarkEmailVerified(ctx, kind, accountID)
}

// VerifyPhone consumes a phone verification code and marks the number
// verified.
func (s *AuthService) VerifyPhone(ctx context.Context, kind domain.AccountKind, accountID, code string) error {
	if err := s.otp.Verify(ctx, kind, accountID, domain.OtpPhoneVerification, code); err != nil {
		return err
	}
	return s.accounts.MarkPhoneVerified(ctx, kind, accountID)
}

// ResendVerification issues a fresh verification code for the channel.
// Already-verified channels and missing phone numbers are conflicts.
func (s *AuthService) ResendVerification(ctx context.Context, kind domain.AccountKind, accountID string, purpose domain.OtpPurpose) error {
	account, err := s.accounts.FindAccountByID(ctx, kind, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return domain.ErrNotFound
	}

	switch purpose {
	case domain.OtpEmailVerification:
		if account.EmailVerified {
			return domain.ErrConflict
		}
		return s.otp.Send(ctx, kind, accountID, purpose, account.Email)
	case domain.OtpPhoneVerification:
		if account.Phone == nil {
			return domain.ErrNotFound
		}
		if account.PhoneVerified {
			return domain.ErrConflict
		}
		return s.otp.Send(ctx, kind, accountID, purpose, *account.Phone)
	default:
		return domain.ErrInvalidOrExpiredOtp
	}
}

// Profile fetches the account for the authenticated principal.
func (s *AuthService) Profile(ctx context.Context, kind domain.AccountKind, accountID string) (*domain.Account, error) {
	account, err := s.accounts.FindAccountByID(ctx, kind, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrNotFound
	}
	return account, nil
}

func (s *AuthService) result(account *domain.Account, pair token.Pair) *AuthResult {
	return &AuthResult{
		Account:      account,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.tokens.AccessTTL() / time.Second),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
