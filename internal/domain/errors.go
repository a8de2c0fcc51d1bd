package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the identity core. Handlers translate these to HTTP
// statuses; none of them are retried internally.
var (
	// ErrConflict signals a duplicate identity (email/phone/agency name).
	ErrConflict = errors.New("account with this email or phone already exists")

	// ErrUnauthorized is deliberately generic so callers cannot distinguish
	// an unknown email from a wrong password.
	ErrUnauthorized = errors.New("invalid credentials")

	ErrAccountBlocked = errors.New("account is blocked")
	ErrAccountDormant = errors.New("account is dormant, recovery required")

	ErrInvalidMfaCode      = errors.New("invalid MFA code")
	ErrInvalidOrExpiredOtp = errors.New("invalid or expired verification code")
	ErrInvalidToken        = errors.New("invalid token")
	ErrNotFound            = errors.New("account not found")
)

// WeakCredentialError carries every policy violation, not just the first.
type WeakCredentialError struct {
	Violations []string
}

func (e *WeakCredentialError) Error() string {
	return "password does not meet the strength policy: " + strings.Join(e.Violations, "; ")
}

// AccountLockedError reports how long the caller must wait before retrying.
type AccountLockedError struct {
	MinutesRemaining int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf(
		"account is locked due to too many failed login attempts, try again in %d minutes",
		e.MinutesRemaining,
	)
}

// RoleNotFoundError names the unknown role.
type RoleNotFoundError struct {
	Name string
}

func (e *RoleNotFoundError) Error() string {
	return fmt.Sprintf("role %q not found", e.Name)
}
