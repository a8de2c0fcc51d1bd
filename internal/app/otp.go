package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/voyago/identity-service/internal/domain"
	"github.com/voyago/identity-service/internal/store"
)

// NotificationExchange is the topic exchange the notification service
// consumes delivery requests from.
const NotificationExchange = "notification_events"

// OtpService issues and verifies short-lived single-use codes for the
// out-of-band verification flows (email, phone, password reset). Distinct
// from MFA: these codes are delivered, not derived from a shared secret.
type OtpService struct {
	repo store.OtpRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewOtpService creates the flow with the configured code lifetime.
func NewOtpService(repo store.OtpRepository, ttl time.Duration) *OtpService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &OtpService{repo: repo, ttl: ttl, now: time.Now}
}

// Send generates a 6-digit code, persists it, and enqueues the delivery
// request on the outbox. The caller always sees success; a delivery failure
// downstream is the notification service's problem and must never leak
// account existence through this API's error channel.
func (s *OtpService) Send(
	ctx context.Context,
	kind domain.AccountKind,
	accountID string,
	purpose domain.OtpPurpose,
	destination string,
) error {
	code, err := generateNumericCode()
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(s.ttl)

	otp := &domain.OtpCode{
		AccountID:   accountID,
		AccountKind: kind,
		Purpose:     purpose,
		Code:        code,
		ExpiresAt:   expiresAt,
	}
	event := domain.OtpRequestedEvent{
		AccountID:   accountID,
		AccountKind: kind,
		Purpose:     purpose,
		Destination: destination,
		Code:        code,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}
	return s.repo.CreateOtpAndEnqueueEvent(ctx, otp, NotificationExchange, "otp.requested", event)
}

// Verify consumes the newest matching unused, unexpired code. A code is
// accepted exactly once; a second presentation of the same code fails even
// if it was guessed correctly.
func (s *OtpService) Verify(
	ctx context.Context,
	kind domain.AccountKind,
	accountID string,
	purpose domain.OtpPurpose,
	code string,
) error {
	consumed, err := s.repo.ConsumeOtp(ctx, kind, accountID, purpose, code)
	if err != nil {
		return err
	}
	if !consumed {
		return domain.ErrInvalidOrExpiredOtp
	}
	return nil
}

// generateNumericCode draws a uniform 6-digit code from crypto/rand.
func generateNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
