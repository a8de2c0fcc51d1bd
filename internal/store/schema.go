package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the identity tables if they do not exist yet.
// Idempotent; called once at startup.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY,
			account_type TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT,
			password_hash TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			mfa_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			mfa_secret TEXT,
			email_verified BOOLEAN NOT NULL DEFAULT FALSE,
			phone_verified BOOLEAN NOT NULL DEFAULT FALSE,
			last_login_at TIMESTAMPTZ,
			profile JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (email, account_type),
			UNIQUE (phone, account_type)
		);
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			account_id UUID NOT NULL,
			account_type TEXT NOT NULL,
			session_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL UNIQUE,
			user_agent TEXT,
			ip_address TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions (account_id, account_type, is_active);
		CREATE TABLE IF NOT EXISTS otp_codes (
			id BIGSERIAL PRIMARY KEY,
			account_id UUID NOT NULL,
			account_type TEXT NOT NULL,
			purpose TEXT NOT NULL,
			code TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			is_used BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_otp_codes_lookup ON otp_codes (account_id, account_type, purpose, is_used);
		CREATE TABLE IF NOT EXISTS mfa_enrollments (
			account_id UUID NOT NULL,
			account_type TEXT NOT NULL,
			secret TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (account_id, account_type)
		);
		CREATE TABLE IF NOT EXISTS backup_codes (
			id BIGSERIAL PRIMARY KEY,
			account_id UUID NOT NULL,
			account_type TEXT NOT NULL,
			code TEXT NOT NULL,
			is_used BOOLEAN NOT NULL DEFAULT FALSE,
			used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_backup_codes_account ON backup_codes (account_id, account_type, is_used);
		CREATE TABLE IF NOT EXISTS account_lockouts (
			email TEXT NOT NULL,
			account_type TEXT NOT NULL,
			failed_attempts INT NOT NULL DEFAULT 0,
			last_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			locked_until TIMESTAMPTZ,
			PRIMARY KEY (email, account_type)
		);
		CREATE TABLE IF NOT EXISTS roles (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			is_system_role BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE TABLE IF NOT EXISTS permissions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL UNIQUE,
			resource TEXT,
			action TEXT
		);
		CREATE TABLE IF NOT EXISTS role_permissions (
			role_id UUID NOT NULL,
			permission_id UUID NOT NULL,
			PRIMARY KEY (role_id, permission_id)
		);
		CREATE TABLE IF NOT EXISTS role_assignments (
			account_id UUID NOT NULL,
			account_type TEXT NOT NULL,
			role_id UUID NOT NULL,
			assigned_by TEXT,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (account_id, account_type, role_id)
		);
		CREATE TABLE IF NOT EXISTS event_outbox (
			id BIGSERIAL PRIMARY KEY,
			exchange TEXT NOT NULL,
			routing_key TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processing_started_at TIMESTAMPTZ,
			published_at TIMESTAMPTZ,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_event_outbox_due ON event_outbox (status, next_attempt_at);
	`)
	return err
}
