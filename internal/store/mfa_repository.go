package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/voyago/identity-service/internal/domain"
)

// UpsertMfaEnrollment stores (or replaces) the pending TOTP secret for an
// account. The secret never leaves the server between the generate and
// confirm steps; a new generate call simply overwrites the previous one.
func (r *PostgresRepository) UpsertMfaEnrollment(ctx context.Context, enrollment *domain.MfaEnrollment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO mfa_enrollments (account_id, account_type, secret, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, account_type)
		DO UPDATE SET secret = EXCLUDED.secret, expires_at = EXCLUDED.expires_at, created_at = NOW()
	`, enrollment.AccountID, enrollment.AccountKind, enrollment.Secret, enrollment.ExpiresAt)
	return err
}

// FindMfaEnrollment returns the unexpired pending enrollment, or nil.
func (r *PostgresRepository) FindMfaEnrollment(
	ctx context.Context,
	kind domain.AccountKind,
	accountID string,
) (*domain.MfaEnrollment, error) {
	var e domain.MfaEnrollment
	err := r.db.QueryRow(ctx, `
		SELECT account_id, account_type, secret, expires_at, created_at
		FROM mfa_enrollments
		WHERE account_id = $1 AND account_type = $2 AND expires_at > NOW()
	`, accountID, kind).Scan(&e.AccountID, &e.AccountKind, &e.Secret, &e.ExpiresAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// DeleteMfaEnrollment discards the pending secret, expired or not.
func (r *PostgresRepository) DeleteMfaEnrollment(ctx context.Context, kind domain.AccountKind, accountID string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM mfa_enrollments WHERE account_id = $1 AND account_type = $2
	`, accountID, kind)
	return err
}

// EnableMfaWithBackupCodes commits the confirmed secret, clears the pending
// enrollment, and issues a fresh set of backup codes in one transaction.
func (r *PostgresRepository) EnableMfaWithBackupCodes(
	ctx context.Context,
	kind domain.AccountKind,
	accountID, secret string,
	backupCodes []string,
) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET mfa_enabled = TRUE, mfa_secret = $1, updated_at = NOW()
		WHERE id = $2 AND account_type = $3
	`, secret, accountID, kind); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM mfa_enrollments WHERE account_id = $1 AND account_type = $2
	`, accountID, kind); err != nil {
		return err
	}

	if err := replaceBackupCodesTx(ctx, tx, kind, accountID, backupCodes); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DisableMfa clears the secret and deletes every backup code atomically.
func (r *PostgresRepository) DisableMfa(ctx context.Context, kind domain.AccountKind, accountID string) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET mfa_enabled = FALSE, mfa_secret = NULL, updated_at = NOW()
		WHERE id = $1 AND account_type = $2
	`, accountID, kind); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM backup_codes WHERE account_id = $1 AND account_type = $2
	`, accountID, kind); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ConsumeBackupCode spends one matching unused code. The is_used guard in
// the WHERE clause makes double-spend impossible under concurrent calls.
func (r *PostgresRepository) ConsumeBackupCode(
	ctx context.Context,
	kind domain.AccountKind,
	accountID, code string,
) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE backup_codes SET is_used = TRUE, used_at = NOW()
		WHERE id = (
			SELECT id FROM backup_codes
			WHERE account_id = $1 AND account_type = $2 AND code = $3 AND is_used = FALSE
			LIMIT 1
		) AND is_used = FALSE
	`, accountID, kind, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceBackupCodes deletes every existing code for the account and stores
// a new set; regeneration leaves no old code spendable.
func (r *PostgresRepository) ReplaceBackupCodes(
	ctx context.Context,
	kind domain.AccountKind,
	accountID string,
	codes []string,
) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := replaceBackupCodesTx(ctx, tx, kind, accountID, codes); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListUnusedBackupCodes returns the remaining spendable codes.
func (r *PostgresRepository) ListUnusedBackupCodes(
	ctx context.Context,
	kind domain.AccountKind,
	accountID string,
) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT code FROM backup_codes
		WHERE account_id = $1 AND account_type = $2 AND is_used = FALSE
		ORDER BY created_at
	`, accountID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func replaceBackupCodesTx(
	ctx context.Context,
	tx pgx.Tx,
	kind domain.AccountKind,
	accountID string,
	codes []string,
) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM backup_codes WHERE account_id = $1 AND account_type = $2
	`, accountID, kind); err != nil {
		return err
	}
	for _, code := range codes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO backup_codes (account_id, account_type, code)
			VALUES ($1, $2, $3)
		`, accountID, kind, code); err != nil {
			return err
		}
	}
	return nil
}
