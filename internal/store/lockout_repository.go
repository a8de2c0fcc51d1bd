package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/voyago/identity-service/internal/domain"
)

// FindLockout returns the lockout row for (email, kind), or nil when the
// identifier has never failed a login.
func (r *PostgresRepository) FindLockout(
	ctx context.Context,
	kind domain.AccountKind,
	email string,
) (*domain.AccountLockout, error) {
	var l domain.AccountLockout
	err := r.db.QueryRow(ctx, `
		SELECT email, account_type, failed_attempts, last_attempt_at, locked_until
		FROM account_lockouts
		WHERE email = $1 AND account_type = $2
	`, email, kind).Scan(&l.Email, &l.AccountKind, &l.FailedAttempts, &l.LastAttemptAt, &l.LockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// RecordFailedAttempt bumps the counter and, when the post-increment count
// reaches the threshold, sets locked_until — in a single upsert statement.
// Doing the increment and the threshold side effect in one statement keeps
// concurrent failures from racing past the lock the way a read-then-write
// sequence would.
func (r *PostgresRepository) RecordFailedAttempt(
	ctx context.Context,
	kind domain.AccountKind,
	email string,
	threshold int,
	lockFor time.Duration,
) (*domain.AccountLockout, error) {
	lockMinutes := int(lockFor.Minutes())
	var l domain.AccountLockout
	err := r.db.QueryRow(ctx, `
		INSERT INTO account_lockouts (email, account_type, failed_attempts, last_attempt_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (email, account_type) DO UPDATE SET
			failed_attempts = account_lockouts.failed_attempts + 1,
			last_attempt_at = NOW(),
			locked_until = CASE
				WHEN account_lockouts.failed_attempts + 1 >= $3
					THEN NOW() + ($4 * INTERVAL '1 minute')
				ELSE account_lockouts.locked_until
			END
		RETURNING email, account_type, failed_attempts, last_attempt_at, locked_until
	`, email, kind, threshold, lockMinutes).Scan(
		&l.Email, &l.AccountKind, &l.FailedAttempts, &l.LastAttemptAt, &l.LockedUntil,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ResetFailedAttempts clears the counter and the lock after any successful
// authentication.
func (r *PostgresRepository) ResetFailedAttempts(
	ctx context.Context,
	kind domain.AccountKind,
	email string,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE account_lockouts
		SET failed_attempts = 0, locked_until = NULL, last_attempt_at = NOW()
		WHERE email = $1 AND account_type = $2
	`, email, kind)
	return err
}
