package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voyago/identity-service/internal/domain"
	"github.com/voyago/identity-service/internal/token"
	"github.com/voyago/identity-service/internal/totp"
)

func newTestAuthService(fake *fakeStore) *AuthService {
	tokens := token.NewService("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour, 7*24*time.Hour, fake)
	policy := PasswordPolicy{MinLength: 12, Cost: 4}
	lockout := NewLockoutGuard(fake, 5, 30*time.Minute)
	otp := NewOtpService(fake, 10*time.Minute)
	mfa := NewMfaService(fake, fake, "Voyago", 10*time.Minute)
	return NewAuthService(fake, fake, tokens, policy, lockout, otp, mfa)
}

func registerTestUser(t *testing.T, svc *AuthService) *AuthResult {
	t.Helper()
	profile, _ := json.Marshal(domain.UserProfile{FirstName: "Ada", LastName: "Obi", Currency: "USD"})
	result, err := svc.Register(context.Background(), RegisterInput{
		Kind:     domain.UserAccount,
		Email:    "Ada@Example.com",
		Password: "Str0ng!Passw0rd",
		Profile:  profile,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return result
}

func TestRegisterThenLogin(t *testing.T) {
	fake := newFakeStore()
	svc := newTestAuthService(fake)
	ctx := context.Background()

	result := registerTestUser(t, svc)
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("registration must issue a token pair")
	}
	if result.ExpiresIn != 900 {
		t.Fatalf("expiresIn = %d, want 900", result.ExpiresIn)
	}
	if result.TokenType != "Bearer" {
		t.Fatalf("tokenType = %q, want Bearer", result.TokenType)
	}
	if result.Account.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %q", result.Account.Email)
	}

	// Registration enqueues the lifecycle event and the verification code.
	var registered *domain.AccountRegisteredEvent
	var sawOtp bool
	for _, entry := range fake.outbox {
		switch entry.routingKey {
		case "account.registered":
			registered = &domain.AccountRegisteredEvent{}
			if err := json.Unmarshal(entry.payload, registered); err != nil {
				t.Fatalf("bad account.registered payload: %v", err)
			}
		case "otp.requested":
			sawOtp = true
		}
	}
	if registered == nil || !sawOtp {
		t.Fatalf("outbox missing lifecycle events: %+v", fake.outbox)
	}
	// Downstream consumers correlate by account id; it must be populated.
	if registered.AccountID == "" || registered.AccountID != result.Account.ID {
		t.Fatalf("account.registered carries id %q, want %q", registered.AccountID, result.Account.ID)
	}

	login, err := svc.Login(ctx, domain.UserAccount, "ada@example.com", "Str0ng!Passw0rd", "", "", domain.Device{})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if login.AccessToken == "" || login.Account.ID != result.Account.ID {
		t.Fatalf("unexpected login result: %+v", login)
	}
	if login.Account.LastLoginAt == nil {
		t.Fatal("expected lastLoginAt to be stamped on login")
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	svc := newTestAuthService(newFakeStore())

	_, err := svc.Register(context.Background(), RegisterInput{
		Kind:     domain.UserAccount,
		Email:    "ada@example.com",
		Password: "short",
	})
	var weak *domain.WeakCredentialError
	if !errors.As(err, &weak) {
		t.Fatalf("Register() = %v, want WeakCredentialError", err)
	}
	if len(weak.Violations) == 0 {
		t.Fatal("expected the violation list to be populated")
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	fake := newFakeStore()
	svc := newTestAuthService(fake)

	registerTestUser(t, svc)
	_, err := svc.Register(context.Background(), RegisterInput{
		Kind:     domain.UserAccount,
		Email:    "ada@example.com",
		Password: "Str0ng!Passw0rd",
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Register() = %v, want ErrConflict", err)
	}
}

func TestLoginWrongPasswordIsGenericAndCounted(t *testing.T) {
	fake := newFakeStore()
	svc := newTestAuthService(fake)
	ctx := context.Background()
	registerTestUser(t, svc)

	_, err := svc.Login(ctx, domain.UserAccount, "ada@example.com", "Wr0ng!Passw0rd", "", "", domain.Device{})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Login() = %v, want ErrUnauthorized", err)
	}

	lockout := fake.lockouts["user/ada@example.com"]
	if lockout == nil || lockout.FailedAttempts != 1 {
		t.Fatalf("expected one recorded failure, got %+v", lockout)
	}

	// Unknown email reads identically to a wrong password.
	_, err = svc.Login(ctx, domain.UserAccount, "nobody@example.com", "Wr0ng!Passw0rd", "", "", domain.Device{})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Login() unknown email = %v, want ErrUnauthorized", err)
	}
}

func TestLoginLockedAccountShortCircuits(t *testing.T) {
	fake := newFakeStore()
	svc := newTestAuthService(fake)
	ctx := context.Background()
	registerTestUser(t, svc)

	for i := 0; i < 5; i++ {
		_, _ = svc.Login(ctx, domain.UserAccount, "ada@example.com", "Wr0ng!Passw0rd", "", "", domain.Device{})
	}

	// Even the correct password is refused while locked.
	_, err := svc.Login(ctx, domain.UserAccount, "ada@example.com", "Str0ng!Passw0rd", "", "", domain.Device{})
	var locked *domain.AccountLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("Login() while locked = %v, want AccountLockedError", err)
	}
}

func TestLoginBlockedAccount(t *testing.T) {
	fake := newFakeStore()
	svc := newTestAuthService(fake)
	ctx := context.Background()
	result := registerTestUser(t, svc)

	fake.accounts[accountKey(domain.UserAccount, result.Account.ID)].Status = domain.StatusBlocked

	_, err := svc.Login(ctx, domain.UserAccount, "ada@example.com", "Str0ng!Passw0rd", "", "", domain.Device{})
	if !errors.Is(err, domain.ErrAccountBlocked) {
		t.Fatalf("Login() = %v, want ErrAccountBlocked", err)
	}
}

func TestLoginTwoPhaseMfa(t *testing.T) {
	fake := newFakeStore()
	svc := newTestAuthService(fake)
	ctx := context.Background()
	result := registerTestUser(t, svc)

	mfa := NewMfaService(fake, fake, "Voyago", 10*time.Minute)
	enrollment, err := mfa.GenerateSecret(ctx, domain.UserAccount, result.Account.ID)
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	code, _ := totp.GenerateCode(enrollment.Secret, time.Now())
	if _, err := mfa.ConfirmEnable(ctx, domain.UserAccount, result.Account.ID, code); err != nil {
		t.Fatalf("ConfirmEnable() error = %v", err)
	}

	// Phase one: password only. No tokens, just the MFA challenge.
	phase1, err := svc.Login(ctx, domain.UserAccount, "ada@example.com", "Str0ng!Passw0rd", "", "", domain.Device{})
	if err != nil {
		t.Fatalf("phase one Login() error = %v", err)
	}
	if !phase1.MfaRequired || phase1.AccessToken != "" || phase1.RefreshToken != "" {
		t.Fatalf("expected bare MFA challenge, got %+v", phase1)
	}
	if phase1.MfaMethod != "totp" {
		t.Fatalf("mfaMethod = %q, want totp", phase1.MfaMethod)
	}

	// Wrong code counts as a failure.
	if _, err := svc.Login(ctx, domain.UserAccount, "ada@example.com", "Str0ng!Passw0rd", "000000", "", domain.Device{}); !errors.Is(err, domain.ErrInvalidMfaCode) {
		t.Fatalf("bad code Login() = %v, want ErrInvalidMfaCode", err)
	}
	if fake.lockouts["user/ada@example.com"] == nil {
		t.Fatal("expected a failed MFA attempt to be counted")
	}

	// Phase two with a valid code issues tokens.
	code, _ = totp.GenerateCode(enrollment.Secret, time.Now())
	phase2, err := svc.Login(ctx, domain.UserAccount, "ada@example.com", "Str0ng!Passw0rd", code, "", domain.Device{})
	if err != nil {
		t.Fatalf("phase two Login() error = %v", err)
	}
	if phase2.AccessToken == "" || phase2.MfaRequired {
		t.Fatalf("expected a full token pair, got %+v", phase2)
	}
}

func TestRefreshRotatesAndRevokesOldToken(t *testing.T) {
	fake := newFakeStore()
	svc := newTestAuthService(fake)
	ctx := context.Background()
	result := registerTestUser(t, svc)

	refreshed, err := svc.Refresh(ctx, result.RefreshToken, domain.Device{})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.RefreshToken == result.RefreshToken {
		t.Fatal("rotation must mint a new refresh token")
	}

	// The old token died with its session.
	if _, err := svc.Refresh(ctx, result.RefreshToken, domain.Device{}); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("replayed Refresh() = %v, want ErrInvalidToken", err)
	}

	// The new one still works.
	if _, err := svc.Refresh(ctx, refreshed.RefreshToken, domain.Device{}); err != nil {
		t.Fatalf("Refresh() with rotated token error = %v", err)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	fake := newFakeStore()
	svc := newTestAuthService(fake)
	ctx := context.Background()
	result := registerTestUser(t, svc)

	// A second device logs in.
	if _, err := svc.Login(ctx, domain.UserAccount, "ada@example.com", "Str0ng!Passw0rd", "", "", domain.Device{UserAgent: "cli"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	sessions, err := svc.ListSessions(ctx, domain.UserAccount, result.Account.ID)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(sessions))
	}

	revoked, err := svc.LogoutAll(ctx, domain.UserAccount, result.Account.ID)
	if err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}
	if revoked != 2 {
		t.Fatalf("LogoutAll() revoked %d, want 2", revoked)
	}

	sessions, _ = svc.ListSessions(ctx, domain.UserAccount, result.Account.ID)
	if len(sessions) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(sessions))
	}

	// The bulk revocation is announced through the outbox.
	var revokedEvent *domain.SessionsRevokedEvent
	for _, entry := range fake.outbox {
		if entry.routingKey == "sessions.revoked" {
			revokedEvent = &domain.SessionsRevokedEvent{}
			if err := json.Unmarshal(entry.payload, revokedEvent); err != nil {
				t.Fatalf("bad sessions.revoked payload: %v", err)
			}
		}
	}
	if revokedEvent == nil {
		t.Fatalf("outbox missing sessions.revoked event: %+v", fake.outbox)
	}
	if revokedEvent.AccountID != result.Account.ID || revokedEvent.Reason != "logout_all" {
		t.Fatalf("unexpected sessions.revoked payload: %+v", revokedEvent)
	}

	// A second logout-all has nothing to revoke and stays silent.
	eventsBefore := len(fake.outbox)
	if n, err := svc.LogoutAll(ctx, domain.UserAccount, result.Account.ID); err != nil || n != 0 {
		t.Fatalf("second LogoutAll() = %d, %v; want 0, nil", n, err)
	}
	if len(fake.outbox) != eventsBefore {
		t.Fatal("an empty logout-all must not enqueue an event")
	}
}

func TestAuthResultPayloadFields(t *testing.T) {
	fake := newFakeStore()
	svc := newTestAuthService(fake)
	result := registerTestUser(t, svc)

	body, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(body), `"tokenType":"Bearer"`) {
		t.Fatalf("success payload missing tokenType: %s", body)
	}
	if strings.Contains(string(body), "mfaMethod") {
		t.Fatalf("success payload must omit mfaMethod: %s", body)
	}

	challenge, err := json.Marshal(&AuthResult{MfaRequired: true, MfaMethod: "totp"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(challenge), `"mfaMethod":"totp"`) {
		t.Fatalf("challenge payload missing mfaMethod: %s", challenge)
	}
	if strings.Contains(string(challenge), "tokenType") {
		t.Fatalf("challenge payload must omit tokenType: %s", challenge)
	}
}

func TestRevokeSessionScopedToOwner(t *testing.T) {
	fake := newFakeStore()
	svc := newTestAuthService(fake)
	ctx := context.Background()
	result := registerTestUser(t, svc)

	sessions, _ := svc.ListSessions(ctx, domain.UserAccount, result.Account.ID)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}

	// Someone else's principal cannot revoke it.
	err := svc.RevokeSession(ctx, domain.UserAccount, "acct-other", sessions[0].ID)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign RevokeSession() = %v, want ErrNotFound", err)
	}

	if err := svc.RevokeSession(ctx, domain.UserAccount, result.Account.ID, sessions[0].ID); err != nil {
		t.Fatalf("owner RevokeSession() error = %v", err)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	fake := newFakeStore()
	svc := newTestAuthService(fake)
	ctx := context.Background()
	result := registerTestUser(t, svc)

	if err := svc.ChangePassword(ctx, domain.UserAccount, result.Account.ID, "Wr0ng!Passw0rd", "N3w!Passw0rdX"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("ChangePassword() wrong current = %v, want ErrUnauthorized", err)
	}

	if err := svc.ChangePassword(ctx, domain.UserAccount, result.Account.ID, "Str0ng!Passw0rd", "N3w!Passw0rdX"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	sessions, _ := svc.ListSessions(ctx, domain.UserAccount, result.Account.ID)
	if len(sessions) != 0 {
		t.Fatalf("expected all sessions revoked, %d remain", len(sessions))
	}

	if _, err := svc.Login(ctx, domain.UserAccount, "ada@example.com", "Str0ng!Passw0rd", "", "", domain.Device{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("old password Login() = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Login(ctx, domain.UserAccount, "ada@example.com", "N3w!Passw0rdX", "", "", domain.Device{}); err != nil {
		t.Fatalf("new password Login() error = %v", err)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	fake := newFakeStore()
	svc := newTestAuthService(fake)
	ctx := context.Background()
	registerTestUser(t, svc)

	// Unknown email succeeds silently and issues nothing.
	codesBefore := len(fake.otps)
	if err := svc.ForgotPassword(ctx, domain.UserAccount, "nobody@example.com"); err != nil {
		t.Fatalf("ForgotPassword() unknown email error = %v", err)
	}
	if len(fake.otps) != codesBefore {
		t.Fatal("unknown email must not mint a reset code")
	}

	if err := svc.ForgotPassword(ctx, domain.UserAccount, "ada@example.com"); err != nil {
		t.Fatalf("ForgotPassword() error = %v", err)
	}
	resetCode := fake.otps[len(fake.otps)-1].Code

	if err := svc.ResetPassword(ctx, domain.UserAccount, "ada@example.com", "999999", "N3w!Passw0rdX"); !errors.Is(err, domain.ErrInvalidOrExpiredOtp) {
		t.Fatalf("ResetPassword() bad code = %v, want ErrInvalidOrExpiredOtp", err)
	}
	if err := svc.ResetPassword(ctx, domain.UserAccount, "ada@example.com", resetCode, "N3w!Passw0rdX"); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}

	// The code is spent.
	if err := svc.ResetPassword(ctx, domain.UserAccount, "ada@example.com", resetCode, "An0ther!Passw0rd"); !errors.Is(err, domain.ErrInvalidOrExpiredOtp) {
		t.Fatalf("replayed ResetPassword() = %v, want ErrInvalidOrExpiredOtp", err)
	}

	if _, err := svc.Login(ctx, domain.UserAccount, "ada@example.com", "N3w!Passw0rdX", "", "", domain.Device{}); err != nil {
		t.Fatalf("Login() after reset error = %v", err)
	}
}

func TestVerifyEmailFlow(t *testing.T) {
	fake := newFakeStore()
	svc := newTestAuthService(fake)
	ctx := context.Background()
	result := registerTestUser(t, svc)

	code := fake.otps[0].Code
	if err := svc.VerifyEmail(ctx, domain.UserAccount, result.Account.ID, code); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	account, err := svc.Profile(ctx, domain.UserAccount, result.Account.ID)
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if !account.EmailVerified {
		t.Fatal("expected email_verified to be set")
	}

	// Resending for an already-verified channel conflicts.
	if err := svc.ResendVerification(ctx, domain.UserAccount, result.Account.ID, domain.OtpEmailVerification); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("ResendVerification() = %v, want ErrConflict", err)
	}
}

func TestProfileUnknownAccount(t *testing.T) {
	svc := newTestAuthService(newFakeStore())
	if _, err := svc.Profile(context.Background(), domain.UserAccount, "acct-missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Profile() = %v, want ErrNotFound", err)
	}
}
