/**
 * @description
 * This file implements the multi-factor enrollment and verification flow.
 * Enrollment is two-phase: GenerateSecret stores a pending secret
 * server-side and hands back the otpauth URI for the QR code; ConfirmEnable
 * only flips the account to MFA-enabled after the owner proves possession
 * of a valid code, at which point a fresh set of backup codes is minted.
 * The pending secret is never carried through the client between the two
 * phases.
 *
 * @dependencies
 * - internal/totp: RFC 6238 code generation and verification.
 * - internal/store: Enrollment, secret, and backup code persistence.
 */

package app

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/voyago/identity-service/internal/domain"
	"github.com/voyago/identity-service/internal/store"
	"github.com/voyago/identity-service/internal/totp"
)

const (
	backupCodeCount  = 10
	backupCodeLength = 8
)

const backupCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// MfaService manages TOTP enrollment, verification, and backup codes.
type MfaService struct {
	accounts  store.AccountRepository
	repo      store.MfaRepository
	issuer    string
	enrollTTL time.Duration
	now       func() time.Time
}

// NewMfaService creates the flow with the configured issuer name and
// pending-enrollment lifetime.
func NewMfaService(accounts store.AccountRepository, repo store.MfaRepository, issuer string, enrollTTL time.Duration) *MfaService {
	if issuer == "" {
		issuer = "Voyago"
	}
	if enrollTTL <= 0 {
		enrollTTL = 10 * time.Minute
	}
	return &MfaService{
		accounts:  accounts,
		repo:      repo,
		issuer:    issuer,
		enrollTTL: enrollTTL,
		now:       time.Now,
	}
}

// Enrollment is what GenerateSecret hands back to the client: the secret
// for manual entry plus the otpauth URI to render as a QR code.
type Enrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauth_url"`
}

// GenerateSecret starts enrollment. The generated secret is stored as a
// pending enrollment keyed by the account; calling it again before
// confirmation replaces the pending secret. Already-enabled accounts are
// rejected so a live secret can never be silently swapped.
func (s *MfaService) GenerateSecret(ctx context.Context, kind domain.AccountKind, accountID string) (*Enrollment, error) {
	account, err := s.accounts.FindAccountByID(ctx, kind, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrNotFound
	}
	if account.MfaEnabled {
		return nil, domain.ErrConflict
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	enrollment := &domain.MfaEnrollment{
		AccountID:   accountID,
		AccountKind: kind,
		Secret:      secret,
		ExpiresAt:   s.now().Add(s.enrollTTL),
	}
	if err := s.repo.UpsertMfaEnrollment(ctx, enrollment); err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret: secret,
		URI:    totp.EnrollmentURI(s.issuer, account.Email, secret),
	}, nil
}

// ConfirmEnable completes enrollment: the submitted code is verified
// against the pending secret, and only then does the account flip to
// MFA-enabled with a fresh set of backup codes. The backup codes are
// returned exactly once, here.
func (s *MfaService) ConfirmEnable(ctx context.Context, kind domain.AccountKind, accountID, code string) ([]string, error) {
	enrollment, err := s.repo.FindMfaEnrollment(ctx, kind, accountID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, domain.ErrInvalidMfaCode
	}
	if !totp.Verify(enrollment.Secret, code, s.now()) {
		// A failed confirmation burns the pending secret; the owner must
		// restart enrollment instead of retrying against the same secret.
		if err := s.repo.DeleteMfaEnrollment(ctx, kind, accountID); err != nil {
			return nil, err
		}
		return nil, domain.ErrInvalidMfaCode
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.repo.EnableMfaWithBackupCodes(ctx, kind, accountID, enrollment.Secret, codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Verify checks a TOTP code against the account's enabled secret.
func (s *MfaService) Verify(account *domain.Account, code string) error {
	if !account.MfaEnabled || account.MfaSecret == nil {
		return domain.ErrInvalidMfaCode
	}
	if !totp.Verify(*account.MfaSecret, code, s.now()) {
		return domain.ErrInvalidMfaCode
	}
	return nil
}

// VerifyBackupCode consumes a single-use backup code. The lookup and the
// used flag flip happen in one statement, so two concurrent presentations
// of the same code cannot both succeed.
func (s *MfaService) VerifyBackupCode(ctx context.Context, kind domain.AccountKind, accountID, code string) error {
	consumed, err := s.repo.ConsumeBackupCode(ctx, kind, accountID, normalizeBackupCode(code))
	if err != nil {
		return err
	}
	if !consumed {
		return domain.ErrInvalidMfaCode
	}
	return nil
}

// Disable turns MFA off after re-proving the account password. The secret
// and all backup codes are wiped together.
func (s *MfaService) Disable(ctx context.Context, kind domain.AccountKind, accountID, password string) error {
	account, err := s.accounts.FindAccountByID(ctx, kind, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return domain.ErrNotFound
	}
	if !VerifyPassword(password, account.PasswordHash) {
		return domain.ErrUnauthorized
	}
	if !account.MfaEnabled {
		return domain.ErrConflict
	}
	return s.repo.DisableMfa(ctx, kind, accountID)
}

// RegenerateBackupCodes replaces every backup code, used or not, with a
// fresh set after re-proving the account password.
func (s *MfaService) RegenerateBackupCodes(ctx context.Context, kind domain.AccountKind, accountID, password string) ([]string, error) {
	account, err := s.accounts.FindAccountByID(ctx, kind, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrNotFound
	}
	if !VerifyPassword(password, account.PasswordHash) {
		return nil, domain.ErrUnauthorized
	}
	if !account.MfaEnabled {
		return nil, domain.ErrConflict
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceBackupCodes(ctx, kind, accountID, codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// RemainingBackupCodes reports how many unused codes the account has left.
func (s *MfaService) RemainingBackupCodes(ctx context.Context, kind domain.AccountKind, accountID string) (int, error) {
	codes, err := s.repo.ListUnusedBackupCodes(ctx, kind, accountID)
	if err != nil {
		return 0, err
	}
	return len(codes), nil
}

func generateBackupCodes() ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		code, err := randomBackupCode()
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// randomBackupCode draws backupCodeLength characters from the A-Z0-9
// alphabet with rejection sampling to keep the distribution uniform.
func randomBackupCode() (string, error) {
	out := make([]byte, 0, backupCodeLength)
	buf := make([]byte, 1)
	max := byte(256 - (256 % len(backupCodeAlphabet)))
	for len(out) < backupCodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		if buf[0] >= max {
			continue
		}
		out = append(out, backupCodeAlphabet[int(buf[0])%len(backupCodeAlphabet)])
	}
	return string(out), nil
}

// normalizeBackupCode uppercases and strips separators users tend to add
// when copying codes out of their password manager.
func normalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.ReplaceAll(strings.ReplaceAll(code, "-", ""), " ", "")
}
