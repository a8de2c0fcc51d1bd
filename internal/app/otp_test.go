package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voyago/identity-service/internal/domain"
)

func TestOtpSendAndVerify(t *testing.T) {
	fake := newFakeStore()
	svc := NewOtpService(fake, 10*time.Minute)
	ctx := context.Background()

	if err := svc.Send(ctx, domain.UserAccount, "acct-1", domain.OtpEmailVerification, "user@example.com"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(fake.otps) != 1 {
		t.Fatalf("expected 1 stored code, got %d", len(fake.otps))
	}
	code := fake.otps[0].Code
	if len(code) != 6 {
		t.Fatalf("expected a 6-digit code, got %q", code)
	}

	// Delivery request must ride the outbox, not a direct publish.
	if len(fake.outbox) != 1 || fake.outbox[0].routingKey != "otp.requested" {
		t.Fatalf("expected one otp.requested outbox entry, got %+v", fake.outbox)
	}

	if err := svc.Verify(ctx, domain.UserAccount, "acct-1", domain.OtpEmailVerification, code); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestOtpSingleUse(t *testing.T) {
	fake := newFakeStore()
	svc := NewOtpService(fake, 10*time.Minute)
	ctx := context.Background()

	if err := svc.Send(ctx, domain.UserAccount, "acct-1", domain.OtpPasswordReset, "user@example.com"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	code := fake.otps[0].Code

	if err := svc.Verify(ctx, domain.UserAccount, "acct-1", domain.OtpPasswordReset, code); err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}
	err := svc.Verify(ctx, domain.UserAccount, "acct-1", domain.OtpPasswordReset, code)
	if !errors.Is(err, domain.ErrInvalidOrExpiredOtp) {
		t.Fatalf("second Verify() = %v, want ErrInvalidOrExpiredOtp", err)
	}
}

func TestOtpExpiry(t *testing.T) {
	fake := newFakeStore()
	svc := NewOtpService(fake, 10*time.Minute)
	ctx := context.Background()

	if err := svc.Send(ctx, domain.UserAccount, "acct-1", domain.OtpEmailVerification, "user@example.com"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	code := fake.otps[0].Code

	fake.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	err := svc.Verify(ctx, domain.UserAccount, "acct-1", domain.OtpEmailVerification, code)
	if !errors.Is(err, domain.ErrInvalidOrExpiredOtp) {
		t.Fatalf("Verify() after expiry = %v, want ErrInvalidOrExpiredOtp", err)
	}
}

func TestOtpPurposeScoped(t *testing.T) {
	fake := newFakeStore()
	svc := NewOtpService(fake, 10*time.Minute)
	ctx := context.Background()

	if err := svc.Send(ctx, domain.UserAccount, "acct-1", domain.OtpEmailVerification, "user@example.com"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	code := fake.otps[0].Code

	// A code issued for email verification must not reset a password.
	err := svc.Verify(ctx, domain.UserAccount, "acct-1", domain.OtpPasswordReset, code)
	if !errors.Is(err, domain.ErrInvalidOrExpiredOtp) {
		t.Fatalf("cross-purpose Verify() = %v, want ErrInvalidOrExpiredOtp", err)
	}
}
