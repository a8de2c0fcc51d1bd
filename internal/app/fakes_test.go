package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voyago/identity-service/internal/domain"
	"github.com/voyago/identity-service/internal/store"
)

// fakeStore is an in-memory implementation of every repository interface,
// shared across the app-layer tests.
type fakeStore struct {
	accounts    map[string]*domain.Account
	sessions    map[string]*domain.Session
	otps        []*domain.OtpCode
	enrollments map[string]*domain.MfaEnrollment
	backupCodes map[string][]*domain.BackupCode
	lockouts    map[string]*domain.AccountLockout
	outbox      []fakeOutboxEntry
	nextID      int
	now         func() time.Time
}

type fakeOutboxEntry struct {
	exchange   string
	routingKey string
	payload    []byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:    map[string]*domain.Account{},
		sessions:    map[string]*domain.Session{},
		enrollments: map[string]*domain.MfaEnrollment{},
		backupCodes: map[string][]*domain.BackupCode{},
		lockouts:    map[string]*domain.AccountLockout{},
		now:         time.Now,
	}
}

func accountKey(kind domain.AccountKind, id string) string {
	return string(kind) + "/" + id
}

func (f *fakeStore) enqueue(exchange, routingKey string, payload interface{}) {
	body, _ := json.Marshal(payload)
	f.outbox = append(f.outbox, fakeOutboxEntry{exchange: exchange, routingKey: routingKey, payload: body})
}

func (f *fakeStore) CreateAccountAndEnqueueEvent(_ context.Context, account *domain.Account, exchange, routingKey string, payload interface{}) (string, error) {
	for _, existing := range f.accounts {
		if existing.Kind == account.Kind && existing.Email == account.Email {
			return "", store.ErrDuplicate
		}
	}
	id := account.ID
	if id == "" {
		f.nextID++
		id = fmt.Sprintf("acct-%d", f.nextID)
		account.ID = id
	}
	account.CreatedAt = f.now()
	f.accounts[accountKey(account.Kind, id)] = account
	f.enqueue(exchange, routingKey, payload)
	return id, nil
}

func (f *fakeStore) FindAccountByEmail(_ context.Context, kind domain.AccountKind, email string) (*domain.Account, error) {
	for _, account := range f.accounts {
		if account.Kind == kind && account.Email == email {
			return account, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindAccountByID(_ context.Context, kind domain.AccountKind, id string) (*domain.Account, error) {
	return f.accounts[accountKey(kind, id)], nil
}

func (f *fakeStore) TouchLastLogin(_ context.Context, kind domain.AccountKind, id string) error {
	if account := f.accounts[accountKey(kind, id)]; account != nil {
		now := f.now()
		account.LastLoginAt = &now
	}
	return nil
}

func (f *fakeStore) MarkEmailVerified(_ context.Context, kind domain.AccountKind, id string) error {
	if account := f.accounts[accountKey(kind, id)]; account != nil {
		account.EmailVerified = true
	}
	return nil
}

func (f *fakeStore) MarkPhoneVerified(_ context.Context, kind domain.AccountKind, id string) error {
	if account := f.accounts[accountKey(kind, id)]; account != nil {
		account.PhoneVerified = true
	}
	return nil
}

func (f *fakeStore) UpdatePasswordRevokeSessionsAndEnqueueEvent(ctx context.Context, kind domain.AccountKind, id, passwordHash, exchange, routingKey string, payload interface{}) error {
	account := f.accounts[accountKey(kind, id)]
	if account == nil {
		return domain.ErrNotFound
	}
	account.PasswordHash = passwordHash
	_, _ = f.RevokeAllSessions(ctx, kind, id)
	f.enqueue(exchange, routingKey, payload)
	return nil
}

func (f *fakeStore) ConsumeOtpUpdatePasswordAndEnqueueEvent(ctx context.Context, kind domain.AccountKind, id string, purpose domain.OtpPurpose, code, passwordHash, exchange, routingKey string, payload interface{}) (bool, error) {
	consumed, err := f.ConsumeOtp(ctx, kind, id, purpose, code)
	if err != nil || !consumed {
		return false, err
	}
	return true, f.UpdatePasswordRevokeSessionsAndEnqueueEvent(ctx, kind, id, passwordHash, exchange, routingKey, payload)
}

func (f *fakeStore) CreateSession(_ context.Context, session *domain.Session) error {
	session.IsActive = true
	session.CreatedAt = f.now()
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeStore) ListActiveSessions(_ context.Context, kind domain.AccountKind, accountID string) ([]domain.Session, error) {
	var out []domain.Session
	for _, session := range f.sessions {
		if session.AccountKind == kind && session.AccountID == accountID &&
			session.IsActive && session.ExpiresAt.After(f.now()) {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (f *fakeStore) RevokeSession(_ context.Context, kind domain.AccountKind, accountID, sessionID string) error {
	session := f.sessions[sessionID]
	if session == nil || session.AccountKind != kind || session.AccountID != accountID || !session.IsActive {
		return domain.ErrNotFound
	}
	session.IsActive = false
	return nil
}

func (f *fakeStore) RevokeAllSessions(_ context.Context, kind domain.AccountKind, accountID string) (int64, error) {
	var revoked int64
	for _, session := range f.sessions {
		if session.AccountKind == kind && session.AccountID == accountID && session.IsActive {
			session.IsActive = false
			revoked++
		}
	}
	return revoked, nil
}

func (f *fakeStore) RevokeAllSessionsAndEnqueueEvent(ctx context.Context, kind domain.AccountKind, accountID, exchange, routingKey string, payload interface{}) (int64, error) {
	revoked, err := f.RevokeAllSessions(ctx, kind, accountID)
	if err != nil {
		return 0, err
	}
	if revoked > 0 {
		f.enqueue(exchange, routingKey, payload)
	}
	return revoked, nil
}

func (f *fakeStore) FindSessionByRefreshToken(_ context.Context, refreshToken string) (*domain.Session, error) {
	for _, session := range f.sessions {
		if session.RefreshToken == refreshToken && session.IsActive && session.ExpiresAt.After(f.now()) {
			return session, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) RevokeSessionByRefreshToken(_ context.Context, refreshToken string) error {
	for _, session := range f.sessions {
		if session.RefreshToken == refreshToken {
			session.IsActive = false
		}
	}
	return nil
}

func (f *fakeStore) CreateOtpAndEnqueueEvent(_ context.Context, otp *domain.OtpCode, exchange, routingKey string, payload interface{}) error {
	otp.CreatedAt = f.now()
	f.otps = append(f.otps, otp)
	f.enqueue(exchange, routingKey, payload)
	return nil
}

func (f *fakeStore) ConsumeOtp(_ context.Context, kind domain.AccountKind, accountID string, purpose domain.OtpPurpose, code string) (bool, error) {
	for i := len(f.otps) - 1; i >= 0; i-- {
		otp := f.otps[i]
		if otp.AccountKind == kind && otp.AccountID == accountID && otp.Purpose == purpose &&
			otp.Code == code && !otp.IsUsed && otp.ExpiresAt.After(f.now()) {
			otp.IsUsed = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) UpsertMfaEnrollment(_ context.Context, enrollment *domain.MfaEnrollment) error {
	f.enrollments[accountKey(enrollment.AccountKind, enrollment.AccountID)] = enrollment
	return nil
}

func (f *fakeStore) FindMfaEnrollment(_ context.Context, kind domain.AccountKind, accountID string) (*domain.MfaEnrollment, error) {
	enrollment := f.enrollments[accountKey(kind, accountID)]
	if enrollment == nil || !enrollment.ExpiresAt.After(f.now()) {
		return nil, nil
	}
	return enrollment, nil
}

func (f *fakeStore) DeleteMfaEnrollment(_ context.Context, kind domain.AccountKind, accountID string) error {
	delete(f.enrollments, accountKey(kind, accountID))
	return nil
}

func (f *fakeStore) EnableMfaWithBackupCodes(ctx context.Context, kind domain.AccountKind, accountID, secret string, backupCodes []string) error {
	account := f.accounts[accountKey(kind, accountID)]
	if account == nil {
		return domain.ErrNotFound
	}
	account.MfaEnabled = true
	account.MfaSecret = &secret
	delete(f.enrollments, accountKey(kind, accountID))
	return f.ReplaceBackupCodes(ctx, kind, accountID, backupCodes)
}

func (f *fakeStore) DisableMfa(_ context.Context, kind domain.AccountKind, accountID string) error {
	account := f.accounts[accountKey(kind, accountID)]
	if account == nil {
		return domain.ErrNotFound
	}
	account.MfaEnabled = false
	account.MfaSecret = nil
	delete(f.backupCodes, accountKey(kind, accountID))
	return nil
}

func (f *fakeStore) ConsumeBackupCode(_ context.Context, kind domain.AccountKind, accountID, code string) (bool, error) {
	for _, backup := range f.backupCodes[accountKey(kind, accountID)] {
		if backup.Code == code && !backup.IsUsed {
			backup.IsUsed = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ReplaceBackupCodes(_ context.Context, kind domain.AccountKind, accountID string, codes []string) error {
	fresh := make([]*domain.BackupCode, 0, len(codes))
	for _, code := range codes {
		fresh = append(fresh, &domain.BackupCode{AccountID: accountID, AccountKind: kind, Code: code})
	}
	f.backupCodes[accountKey(kind, accountID)] = fresh
	return nil
}

func (f *fakeStore) ListUnusedBackupCodes(_ context.Context, kind domain.AccountKind, accountID string) ([]string, error) {
	var out []string
	for _, backup := range f.backupCodes[accountKey(kind, accountID)] {
		if !backup.IsUsed {
			out = append(out, backup.Code)
		}
	}
	return out, nil
}

func (f *fakeStore) FindLockout(_ context.Context, kind domain.AccountKind, email string) (*domain.AccountLockout, error) {
	return f.lockouts[string(kind)+"/"+email], nil
}

func (f *fakeStore) RecordFailedAttempt(_ context.Context, kind domain.AccountKind, email string, threshold int, lockFor time.Duration) (*domain.AccountLockout, error) {
	key := string(kind) + "/" + email
	lockout := f.lockouts[key]
	if lockout == nil {
		lockout = &domain.AccountLockout{Email: email, AccountKind: kind}
		f.lockouts[key] = lockout
	}
	lockout.FailedAttempts++
	lockout.LastAttemptAt = f.now()
	if lockout.FailedAttempts >= threshold {
		until := f.now().Add(lockFor)
		lockout.LockedUntil = &until
	}
	return lockout, nil
}

func (f *fakeStore) ResetFailedAttempts(_ context.Context, kind domain.AccountKind, email string) error {
	delete(f.lockouts, string(kind)+"/"+email)
	return nil
}
