package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/voyago/identity-service/internal/domain"
)

// FindRoleByName looks up a role by its unique name, or returns nil.
func (r *PostgresRepository) FindRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	var role domain.Role
	err := r.db.QueryRow(ctx, `
		SELECT id, name, description, is_system_role FROM roles WHERE name = $1
	`, name).Scan(&role.ID, &role.Name, &role.Description, &role.IsSystemRole)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &role, nil
}

// RolesOf returns the names of every role whose assignment is unexpired.
// Expired assignments stay in the table but contribute nothing here.
func (r *PostgresRepository) RolesOf(
	ctx context.Context,
	kind domain.AccountKind,
	accountID string,
) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT r.name
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		WHERE ra.account_id = $1 AND ra.account_type = $2
		  AND (ra.expires_at IS NULL OR ra.expires_at > NOW())
		ORDER BY r.name
	`, accountID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// PermissionsOf returns the deduplicated union of every permission granted
// through the account's currently valid roles.
func (r *PostgresRepository) PermissionsOf(
	ctx context.Context,
	kind domain.AccountKind,
	accountID string,
) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT p.name
		FROM role_assignments ra
		JOIN role_permissions rp ON rp.role_id = ra.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ra.account_id = $1 AND ra.account_type = $2
		  AND (ra.expires_at IS NULL OR ra.expires_at > NOW())
		ORDER BY p.name
	`, accountID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// UpsertRoleAssignment binds an account to a role; re-assigning updates the
// expiry and assigner rather than duplicating the row.
func (r *PostgresRepository) UpsertRoleAssignment(ctx context.Context, assignment *domain.RoleAssignment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO role_assignments (account_id, account_type, role_id, assigned_by, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, account_type, role_id)
		DO UPDATE SET assigned_by = EXCLUDED.assigned_by, expires_at = EXCLUDED.expires_at
	`,
		assignment.AccountID,
		assignment.AccountKind,
		assignment.RoleID,
		assignment.AssignedBy,
		assignment.ExpiresAt,
	)
	return err
}

// DeleteRoleAssignment removes the binding; deleting a binding that does
// not exist is a no-op.
func (r *PostgresRepository) DeleteRoleAssignment(
	ctx context.Context,
	kind domain.AccountKind,
	accountID, roleID string,
) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM role_assignments
		WHERE account_id = $1 AND account_type = $2 AND role_id = $3
	`, accountID, kind, roleID)
	return err
}

// EnsureRoleWithPermissions idempotently seeds a role, its permissions, and
// their links. Used at startup for the platform's system roles.
func (r *PostgresRepository) EnsureRoleWithPermissions(
	ctx context.Context,
	name, description string,
	systemRole bool,
	permissions []string,
) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var roleID string
	if err := tx.QueryRow(ctx, `
		INSERT INTO roles (name, description, is_system_role)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		RETURNING id
	`, name, description, systemRole).Scan(&roleID); err != nil {
		return err
	}

	for _, perm := range permissions {
		var permID string
		if err := tx.QueryRow(ctx, `
			INSERT INTO permissions (name)
			VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, perm).Scan(&permID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, roleID, permID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
