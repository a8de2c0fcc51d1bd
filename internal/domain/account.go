package domain

import (
	"encoding/json"
	"time"
)

// AccountKind discriminates the two principals the platform serves.
type AccountKind string

const (
	UserAccount   AccountKind = "user"
	AgencyAccount AccountKind = "agency"
)

// Valid reports whether the kind is one of the known discriminators.
func (k AccountKind) Valid() bool {
	return k == UserAccount || k == AgencyAccount
}

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusActive    AccountStatus = "ACTIVE"
	StatusSuspended AccountStatus = "SUSPENDED"
	StatusBlocked   AccountStatus = "BLOCKED"
	StatusDormant   AccountStatus = "DORMANT"
	StatusClosed    AccountStatus = "CLOSED"
)

// Account is the unified identity record for both users and agencies.
// Kind-specific profile data lives in the Profile variant so downstream
// services never branch on the account kind.
type Account struct {
	ID            string          `json:"id"`
	Kind          AccountKind     `json:"account_type"`
	Email         string          `json:"email"`
	Phone         *string         `json:"phone,omitempty"`
	PasswordHash  string          `json:"-"`
	Status        AccountStatus   `json:"status"`
	MfaEnabled    bool            `json:"mfa_enabled"`
	MfaSecret     *string         `json:"-"`
	EmailVerified bool            `json:"email_verified"`
	PhoneVerified bool            `json:"phone_verified"`
	LastLoginAt   *time.Time      `json:"last_login_at,omitempty"`
	Profile       json.RawMessage `json:"profile,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// UserProfile is the profile variant stored for user accounts.
type UserProfile struct {
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	DateOfBirth  *string `json:"date_of_birth,omitempty"`
	Gender       *string `json:"gender,omitempty"`
	Nationality  *string `json:"nationality,omitempty"`
	ProfilePhoto *string `json:"profile_photo,omitempty"`
	Currency     string  `json:"currency"`
}

// AgencyProfile is the profile variant stored for agency accounts.
type AgencyProfile struct {
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	AgencyName     string   `json:"agency_name"`
	BusinessType   string   `json:"business_type"`
	Grade          string   `json:"grade,omitempty"`
	Logo           *string  `json:"logo,omitempty"`
	Description    *string  `json:"description,omitempty"`
	Languages      []string `json:"supported_languages,omitempty"`
	BusinessRegNum *string  `json:"business_reg_number,omitempty"`
	TaxIDNumber    *string  `json:"tax_id_number,omitempty"`
	Currency       string   `json:"currency"`
}

// Session binds a refresh token to an account and device. A session is
// trusted only while IsActive is true AND ExpiresAt is in the future; both
// conditions are always checked because revocation flips the flag without
// touching the expiry.
type Session struct {
	ID           string      `json:"id"`
	AccountID    string      `json:"account_id"`
	AccountKind  AccountKind `json:"account_type"`
	SessionToken string      `json:"-"`
	RefreshToken string      `json:"-"`
	UserAgent    *string     `json:"user_agent,omitempty"`
	IPAddress    *string     `json:"ip_address,omitempty"`
	IsActive     bool        `json:"is_active"`
	ExpiresAt    time.Time   `json:"expires_at"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Device captures the request metadata recorded on a new session.
type Device struct {
	UserAgent string
	IPAddress string
}

// OtpPurpose scopes a one-time code to the flow that requested it.
type OtpPurpose string

const (
	OtpSignup            OtpPurpose = "signup"
	OtpLogin             OtpPurpose = "login"
	OtpPasswordReset     OtpPurpose = "password_reset"
	OtpEmailVerification OtpPurpose = "email_verification"
	OtpPhoneVerification OtpPurpose = "phone_verification"
	OtpMfaVerification   OtpPurpose = "mfa_verification"
)

// OtpCode is a short-lived single-use verification code.
type OtpCode struct {
	ID          int64       `json:"id"`
	AccountID   string      `json:"account_id"`
	AccountKind AccountKind `json:"account_type"`
	Purpose     OtpPurpose  `json:"purpose"`
	Code        string      `json:"-"`
	ExpiresAt   time.Time   `json:"expires_at"`
	IsUsed      bool        `json:"is_used"`
	CreatedAt   time.Time   `json:"created_at"`
}

// BackupCode is a single-use MFA fallback credential.
type BackupCode struct {
	ID          int64       `json:"id"`
	AccountID   string      `json:"account_id"`
	AccountKind AccountKind `json:"account_type"`
	Code        string      `json:"code"`
	IsUsed      bool        `json:"is_used"`
	UsedAt      *time.Time  `json:"used_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AccountLockout tracks failed login attempts per (email, kind).
type AccountLockout struct {
	Email          string      `json:"email"`
	AccountKind    AccountKind `json:"account_type"`
	FailedAttempts int         `json:"failed_attempts"`
	LastAttemptAt  time.Time   `json:"last_attempt_at"`
	LockedUntil    *time.Time  `json:"locked_until,omitempty"`
}

// MfaEnrollment holds a generated-but-unconfirmed TOTP secret server-side.
// The account stays MFA-disabled until the owner proves possession of a
// valid code; the pending row expires on its own if they never do.
type MfaEnrollment struct {
	AccountID   string      `json:"account_id"`
	AccountKind AccountKind `json:"account_type"`
	Secret      string      `json:"-"`
	ExpiresAt   time.Time   `json:"expires_at"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Role groups permissions; accounts only ever hold permissions through roles.
type Role struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  *string  `json:"description,omitempty"`
	IsSystemRole bool     `json:"is_system_role"`
	Permissions  []string `json:"permissions,omitempty"`
}

// RoleAssignment binds an account to a role, optionally until ExpiresAt.
// Expired assignments contribute nothing to resolution but are kept.
type RoleAssignment struct {
	AccountID   string      `json:"account_id"`
	AccountKind AccountKind `json:"account_type"`
	RoleID      string      `json:"role_id"`
	AssignedBy  *string     `json:"assigned_by,omitempty"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
