package store

import (
	"context"
	"errors"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/voyago/identity-service/internal/domain"
)

const accountColumns = `
	id, account_type, email, phone, password_hash, status, mfa_enabled,
	mfa_secret, email_verified, phone_verified, last_login_at, profile,
	created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID,
		&a.Kind,
		&a.Email,
		&a.Phone,
		&a.PasswordHash,
		&a.Status,
		&a.MfaEnabled,
		&a.MfaSecret,
		&a.EmailVerified,
		&a.PhoneVerified,
		&a.LastLoginAt,
		&a.Profile,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// CreateAccountAndEnqueueEvent inserts a new account and its registration
// event in one transaction, so downstream services never miss a signup.
// It returns the new account's UUID.
func (r *PostgresRepository) CreateAccountAndEnqueueEvent(
	ctx context.Context,
	account *domain.Account,
	exchange, routingKey string,
	payload interface{},
) (string, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO accounts (id, account_type, email, phone, password_hash, status, profile)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		RETURNING id
	`
	var accountID string
	if err := tx.QueryRow(ctx, query,
		account.ID,
		account.Kind,
		account.Email,
		account.Phone,
		account.PasswordHash,
		domain.StatusActive,
		account.Profile,
	).Scan(&accountID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			log.Printf("Error creating account: unique constraint violation on %s", pgErr.ConstraintName)
			return "", ErrDuplicate
		}
		return "", err
	}

	if err := enqueueEventTx(ctx, tx, exchange, routingKey, payload); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return accountID, nil
}

// FindAccountByEmail returns the account for (email, kind), or nil when no
// such account exists.
func (r *PostgresRepository) FindAccountByEmail(
	ctx context.Context,
	kind domain.AccountKind,
	email string,
) (*domain.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE email = $1 AND account_type = $2`
	return scanAccount(r.db.QueryRow(ctx, query, email, kind))
}

// FindAccountByID returns the account for (id, kind), or nil when absent.
func (r *PostgresRepository) FindAccountByID(
	ctx context.Context,
	kind domain.AccountKind,
	id string,
) (*domain.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts WHERE id = $1 AND account_type = $2`
	return scanAccount(r.db.QueryRow(ctx, query, id, kind))
}

// TouchLastLogin stamps last_login_at after a successful authentication.
func (r *PostgresRepository) TouchLastLogin(ctx context.Context, kind domain.AccountKind, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts SET last_login_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND account_type = $2
	`, id, kind)
	return err
}

// MarkEmailVerified flips email_verified once the verification OTP clears.
func (r *PostgresRepository) MarkEmailVerified(ctx context.Context, kind domain.AccountKind, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts SET email_verified = TRUE, updated_at = NOW()
		WHERE id = $1 AND account_type = $2
	`, id, kind)
	return err
}

// MarkPhoneVerified flips phone_verified once the verification OTP clears.
func (r *PostgresRepository) MarkPhoneVerified(ctx context.Context, kind domain.AccountKind, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts SET phone_verified = TRUE, updated_at = NOW()
		WHERE id = $1 AND account_type = $2
	`, id, kind)
	return err
}

// UpdatePasswordRevokeSessionsAndEnqueueEvent rotates the password hash,
// invalidates every active session, and records the change event, all in
// one transaction. A password change must never leave stale sessions alive.
func (r *PostgresRepository) UpdatePasswordRevokeSessionsAndEnqueueEvent(
	ctx context.Context,
	kind domain.AccountKind,
	id, passwordHash, exchange, routingKey string,
	payload interface{},
) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updatePasswordTx(ctx, tx, kind, id, passwordHash); err != nil {
		return err
	}
	if err := revokeAllSessionsTx(ctx, tx, kind, id); err != nil {
		return err
	}
	if err := enqueueEventTx(ctx, tx, exchange, routingKey, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ConsumeOtpUpdatePasswordAndEnqueueEvent atomically marks a password-reset
// code used and applies the new hash. It returns false without touching the
// account when no valid unused code matches; a code is accepted only once
// even under concurrent resets.
func (r *PostgresRepository) ConsumeOtpUpdatePasswordAndEnqueueEvent(
	ctx context.Context,
	kind domain.AccountKind,
	id string,
	purpose domain.OtpPurpose,
	code, passwordHash, exchange, routingKey string,
	payload interface{},
) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	consumed, err := consumeOtpTx(ctx, tx, kind, id, purpose, code)
	if err != nil {
		return false, err
	}
	if !consumed {
		return false, nil
	}

	if err := updatePasswordTx(ctx, tx, kind, id, passwordHash); err != nil {
		return false, err
	}
	if err := revokeAllSessionsTx(ctx, tx, kind, id); err != nil {
		return false, err
	}
	if err := enqueueEventTx(ctx, tx, exchange, routingKey, payload); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func updatePasswordTx(ctx context.Context, tx pgx.Tx, kind domain.AccountKind, id, passwordHash string) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts SET password_hash = $1, updated_at = NOW()
		WHERE id = $2 AND account_type = $3
	`, passwordHash, id, kind)
	return err
}

func revokeAllSessionsTx(ctx context.Context, tx pgx.Tx, kind domain.AccountKind, accountID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE, updated_at = NOW()
		WHERE account_id = $1 AND account_type = $2 AND is_active = TRUE
	`, accountID, kind)
	return err
}
