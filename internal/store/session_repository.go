package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/voyago/identity-service/internal/domain"
)

// CreateSession persists a new session row for an issued refresh token.
func (r *PostgresRepository) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, account_id, account_type, session_token, refresh_token, user_agent, ip_address, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		session.ID,
		session.AccountID,
		session.AccountKind,
		session.SessionToken,
		session.RefreshToken,
		session.UserAgent,
		session.IPAddress,
		session.ExpiresAt,
	)
	return err
}

// ListActiveSessions returns the account's active sessions, newest first.
// Rows past their expiry are filtered out even if is_active was never
// flipped; the device-management UI should not show dead sessions.
func (r *PostgresRepository) ListActiveSessions(
	ctx context.Context,
	kind domain.AccountKind,
	accountID string,
) ([]domain.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, account_type, user_agent, ip_address, is_active, expires_at, created_at, updated_at
		FROM sessions
		WHERE account_id = $1 AND account_type = $2 AND is_active = TRUE AND expires_at > NOW()
		ORDER BY created_at DESC
	`, accountID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(
			&s.ID,
			&s.AccountID,
			&s.AccountKind,
			&s.UserAgent,
			&s.IPAddress,
			&s.IsActive,
			&s.ExpiresAt,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// RevokeSession flips is_active for exactly one session, scoped to the
// owning account so one account can never revoke another's device.
func (r *PostgresRepository) RevokeSession(
	ctx context.Context,
	kind domain.AccountKind,
	accountID, sessionID string,
) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND account_id = $2 AND account_type = $3 AND is_active = TRUE
	`, sessionID, accountID, kind)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RevokeAllSessions invalidates every active session of an account and
// returns how many were revoked.
func (r *PostgresRepository) RevokeAllSessions(
	ctx context.Context,
	kind domain.AccountKind,
	accountID string,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE, updated_at = NOW()
		WHERE account_id = $1 AND account_type = $2 AND is_active = TRUE
	`, accountID, kind)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RevokeAllSessionsAndEnqueueEvent invalidates every active session and
// records the bulk revocation event in the same transaction. The event is
// skipped when there was nothing to revoke.
func (r *PostgresRepository) RevokeAllSessionsAndEnqueueEvent(
	ctx context.Context,
	kind domain.AccountKind,
	accountID, exchange, routingKey string,
	payload interface{},
) (int64, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE, updated_at = NOW()
		WHERE account_id = $1 AND account_type = $2 AND is_active = TRUE
	`, accountID, kind)
	if err != nil {
		return 0, err
	}
	revoked := tag.RowsAffected()
	if revoked > 0 {
		if err := enqueueEventTx(ctx, tx, exchange, routingKey, payload); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return revoked, nil
}

// FindSessionByRefreshToken returns the active, unexpired session holding
// the exact token string, or nil. A valid signature is never enough on its
// own; this lookup is what makes revocation effective.
func (r *PostgresRepository) FindSessionByRefreshToken(
	ctx context.Context,
	refreshToken string,
) (*domain.Session, error) {
	var s domain.Session
	err := r.db.QueryRow(ctx, `
		SELECT id, account_id, account_type, is_active, expires_at, created_at, updated_at
		FROM sessions
		WHERE refresh_token = $1 AND is_active = TRUE AND expires_at > NOW()
	`, refreshToken).Scan(
		&s.ID,
		&s.AccountID,
		&s.AccountKind,
		&s.IsActive,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// RevokeSessionByRefreshToken invalidates the session holding the token.
// Used by logout and by rotation, which retires the old refresh token.
func (r *PostgresRepository) RevokeSessionByRefreshToken(ctx context.Context, refreshToken string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE, updated_at = NOW()
		WHERE refresh_token = $1 AND is_active = TRUE
	`, refreshToken)
	return err
}
