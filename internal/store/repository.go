/**
 * @description
 * This file defines the data access interfaces for the identity-service and
 * the shared types used across the PostgreSQL implementations. The business
 * layer depends only on these interfaces, which keeps it testable with
 * in-memory fakes.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voyago/identity-service/internal/domain"
)

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
// The app layer maps it to domain.ErrConflict.
var ErrDuplicate = errors.New("duplicate record")

// OutboxMessage is a claimed event_outbox row ready for publishing.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// AccountRepository persists the unified account model.
type AccountRepository interface {
	CreateAccountAndEnqueueEvent(ctx context.Context, account *domain.Account, exchange, routingKey string, payload interface{}) (string, error)
	FindAccountByEmail(ctx context.Context, kind domain.AccountKind, email string) (*domain.Account, error)
	FindAccountByID(ctx context.Context, kind domain.AccountKind, id string) (*domain.Account, error)
	TouchLastLogin(ctx context.Context, kind domain.AccountKind, id string) error
	MarkEmailVerified(ctx context.Context, kind domain.AccountKind, id string) error
	MarkPhoneVerified(ctx context.Context, kind domain.AccountKind, id string) error
	UpdatePasswordRevokeSessionsAndEnqueueEvent(ctx context.Context, kind domain.AccountKind, id, passwordHash, exchange, routingKey string, payload interface{}) error
	ConsumeOtpUpdatePasswordAndEnqueueEvent(ctx context.Context, kind domain.AccountKind, id string, purpose domain.OtpPurpose, code, passwordHash, exchange, routingKey string, payload interface{}) (bool, error)
}

// SessionRepository persists one row per issued refresh token.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	ListActiveSessions(ctx context.Context, kind domain.AccountKind, accountID string) ([]domain.Session, error)
	RevokeSession(ctx context.Context, kind domain.AccountKind, accountID, sessionID string) error
	RevokeAllSessions(ctx context.Context, kind domain.AccountKind, accountID string) (int64, error)
	RevokeAllSessionsAndEnqueueEvent(ctx context.Context, kind domain.AccountKind, accountID, exchange, routingKey string, payload interface{}) (int64, error)
	FindSessionByRefreshToken(ctx context.Context, refreshToken string) (*domain.Session, error)
	RevokeSessionByRefreshToken(ctx context.Context, refreshToken string) error
}

// OtpRepository persists short-lived single-use verification codes.
type OtpRepository interface {
	CreateOtpAndEnqueueEvent(ctx context.Context, otp *domain.OtpCode, exchange, routingKey string, payload interface{}) error
	ConsumeOtp(ctx context.Context, kind domain.AccountKind, accountID string, purpose domain.OtpPurpose, code string) (bool, error)
}

// MfaRepository persists pending enrollments, the enabled secret, and
// backup codes.
type MfaRepository interface {
	UpsertMfaEnrollment(ctx context.Context, enrollment *domain.MfaEnrollment) error
	FindMfaEnrollment(ctx context.Context, kind domain.AccountKind, accountID string) (*domain.MfaEnrollment, error)
	DeleteMfaEnrollment(ctx context.Context, kind domain.AccountKind, accountID string) error
	EnableMfaWithBackupCodes(ctx context.Context, kind domain.AccountKind, accountID, secret string, backupCodes []string) error
	DisableMfa(ctx context.Context, kind domain.AccountKind, accountID string) error
	ConsumeBackupCode(ctx context.Context, kind domain.AccountKind, accountID, code string) (bool, error)
	ReplaceBackupCodes(ctx context.Context, kind domain.AccountKind, accountID string, codes []string) error
	ListUnusedBackupCodes(ctx context.Context, kind domain.AccountKind, accountID string) ([]string, error)
}

// LockoutRepository tracks failed login attempts per (email, kind).
type LockoutRepository interface {
	FindLockout(ctx context.Context, kind domain.AccountKind, email string) (*domain.AccountLockout, error)
	RecordFailedAttempt(ctx context.Context, kind domain.AccountKind, email string, threshold int, lockFor time.Duration) (*domain.AccountLockout, error)
	ResetFailedAttempts(ctx context.Context, kind domain.AccountKind, email string) error
}

// RBACRepository resolves roles and permissions through role assignments.
type RBACRepository interface {
	FindRoleByName(ctx context.Context, name string) (*domain.Role, error)
	RolesOf(ctx context.Context, kind domain.AccountKind, accountID string) ([]string, error)
	PermissionsOf(ctx context.Context, kind domain.AccountKind, accountID string) ([]string, error)
	UpsertRoleAssignment(ctx context.Context, assignment *domain.RoleAssignment) error
	DeleteRoleAssignment(ctx context.Context, kind domain.AccountKind, accountID, roleID string) error
	EnsureRoleWithPermissions(ctx context.Context, name, description string, systemRole bool, permissions []string) error
}

// OutboxRepository claims and settles pending outbox events.
type OutboxRepository interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

// PostgresRepository is the PostgreSQL implementation of every repository
// interface above. Methods are spread across the *_repository.go files in
// this package.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}
