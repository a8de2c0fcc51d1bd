package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/voyago/identity-service/internal/domain"
)

// CreateOtpAndEnqueueEvent stores a fresh code and its delivery request in
// one transaction. The notification service picks the event up from the
// outbox; the caller never learns whether delivery succeeded.
func (r *PostgresRepository) CreateOtpAndEnqueueEvent(
	ctx context.Context,
	otp *domain.OtpCode,
	exchange, routingKey string,
	payload interface{},
) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO otp_codes (account_id, account_type, purpose, code, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, otp.AccountID, otp.AccountKind, otp.Purpose, otp.Code, otp.ExpiresAt)
	if err != nil {
		return err
	}

	if err := enqueueEventTx(ctx, tx, exchange, routingKey, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ConsumeOtp marks the newest matching unused, unexpired code as used and
// reports whether one was found. The conditional update keys on is_used so
// a correctly guessed code can still only ever be spent once, even under
// concurrent verification calls.
func (r *PostgresRepository) ConsumeOtp(
	ctx context.Context,
	kind domain.AccountKind,
	accountID string,
	purpose domain.OtpPurpose,
	code string,
) (bool, error) {
	tag, err := r.db.Exec(ctx, consumeOtpQuery, accountID, kind, purpose, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// consumeOtpTx is the transactional variant used when the consumption must
// commit together with other writes (e.g. password reset).
func consumeOtpTx(
	ctx context.Context,
	tx pgx.Tx,
	kind domain.AccountKind,
	accountID string,
	purpose domain.OtpPurpose,
	code string,
) (bool, error) {
	tag, err := tx.Exec(ctx, consumeOtpQuery, accountID, kind, purpose, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const consumeOtpQuery = `
	UPDATE otp_codes SET is_used = TRUE
	WHERE id = (
		SELECT id FROM otp_codes
		WHERE account_id = $1 AND account_type = $2 AND purpose = $3
		  AND code = $4 AND is_used = FALSE AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	) AND is_used = FALSE
`
