package domain

// Events published through the transactional outbox. Routing keys follow
// the `<entity>.<action>` convention used across the platform exchanges.

// AccountRegisteredEvent announces a new account to downstream services.
type AccountRegisteredEvent struct {
	AccountID   string      `json:"account_id"`
	AccountKind AccountKind `json:"account_type"`
	Email       string      `json:"email"`
}

// OtpRequestedEvent asks the notification service to deliver a one-time
// code. Delivery is best-effort; the auth flow never waits on it.
type OtpRequestedEvent struct {
	AccountID   string      `json:"account_id"`
	AccountKind AccountKind `json:"account_type"`
	Purpose     OtpPurpose  `json:"purpose"`
	Destination string      `json:"destination"`
	Code        string      `json:"code"`
	ExpiresAt   string      `json:"expires_at"`
}

// PasswordChangedEvent is emitted after a change or reset so other services
// can drop cached credentials or notify the owner.
type PasswordChangedEvent struct {
	AccountID   string      `json:"account_id"`
	AccountKind AccountKind `json:"account_type"`
	Reset       bool        `json:"reset"`
}

// SessionsRevokedEvent is emitted when every session of an account is
// invalidated at once (logout-all). Password changes announce themselves
// through PasswordChangedEvent instead.
type SessionsRevokedEvent struct {
	AccountID   string      `json:"account_id"`
	AccountKind AccountKind `json:"account_type"`
	Reason      string      `json:"reason"`
}
