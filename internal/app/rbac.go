package app

import (
	"context"
	"log"

	"github.com/voyago/identity-service/internal/domain"
	"github.com/voyago/identity-service/internal/store"
)

// RBACService resolves effective roles and permissions for an account.
// Permissions flow exclusively through role assignments; there is no
// per-account permission grant.
type RBACService struct {
	repo store.RBACRepository
}

// NewRBACService creates the resolver.
func NewRBACService(repo store.RBACRepository) *RBACService {
	return &RBACService{repo: repo}
}

// RolesOf lists the names of the account's live role assignments.
func (s *RBACService) RolesOf(ctx context.Context, kind domain.AccountKind, accountID string) ([]string, error) {
	return s.repo.RolesOf(ctx, kind, accountID)
}

// PermissionsOf resolves the deduplicated union of permissions across the
// account's live role assignments.
func (s *RBACService) PermissionsOf(ctx context.Context, kind domain.AccountKind, accountID string) ([]string, error) {
	return s.repo.PermissionsOf(ctx, kind, accountID)
}

// HasPermission reports whether the account holds the named permission.
func (s *RBACService) HasPermission(ctx context.Context, kind domain.AccountKind, accountID, permission string) (bool, error) {
	permissions, err := s.repo.PermissionsOf(ctx, kind, accountID)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyPermission reports whether the account holds at least one of the
// named permissions. An empty list is vacuously false.
func (s *RBACService) HasAnyPermission(ctx context.Context, kind domain.AccountKind, accountID string, required []string) (bool, error) {
	held, err := s.permissionSet(ctx, kind, accountID)
	if err != nil {
		return false, err
	}
	for _, p := range required {
		if held[p] {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether the account holds every named
// permission. An empty list is vacuously true.
func (s *RBACService) HasAllPermissions(ctx context.Context, kind domain.AccountKind, accountID string, required []string) (bool, error) {
	held, err := s.permissionSet(ctx, kind, accountID)
	if err != nil {
		return false, err
	}
	for _, p := range required {
		if !held[p] {
			return false, nil
		}
	}
	return true, nil
}

// AssignRole binds the account to the named role. Re-assigning an existing
// role refreshes its expiry rather than failing.
func (s *RBACService) AssignRole(ctx context.Context, assignment *domain.RoleAssignment, roleName string) error {
	role, err := s.repo.FindRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	if role == nil {
		return &domain.RoleNotFoundError{Name: roleName}
	}
	assignment.RoleID = role.ID
	return s.repo.UpsertRoleAssignment(ctx, assignment)
}

// RemoveRole drops the account's assignment of the named role. Removing a
// role the account never held is a no-op.
func (s *RBACService) RemoveRole(ctx context.Context, kind domain.AccountKind, accountID, roleName string) error {
	role, err := s.repo.FindRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	if role == nil {
		return &domain.RoleNotFoundError{Name: roleName}
	}
	return s.repo.DeleteRoleAssignment(ctx, kind, accountID, role.ID)
}

// SeedSystemRoles upserts the built-in roles on startup. Idempotent; a
// failure is logged and skipped so a race between replicas starting at the
// same time never blocks boot.
func (s *RBACService) SeedSystemRoles(ctx context.Context) {
	seeds := []struct {
		name        string
		description string
		permissions []string
	}{
		{"admin", "Full platform administration", []string{
			"accounts:read", "accounts:write", "accounts:suspend",
			"roles:read", "roles:assign", "sessions:revoke",
		}},
		{"support", "Customer support operations", []string{
			"accounts:read", "sessions:revoke",
		}},
		{"agency_owner", "Agency account management", []string{
			"agency:manage", "agency:staff:invite",
		}},
	}
	for _, seed := range seeds {
		if err := s.repo.EnsureRoleWithPermissions(ctx, seed.name, seed.description, true, seed.permissions); err != nil {
			log.Printf("Failed to seed role %s: %v", seed.name, err)
		}
	}
}

func (s *RBACService) permissionSet(ctx context.Context, kind domain.AccountKind, accountID string) (map[string]bool, error) {
	permissions, err := s.repo.PermissionsOf(ctx, kind, accountID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		set[p] = true
	}
	return set, nil
}
