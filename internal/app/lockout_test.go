package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voyago/identity-service/internal/domain"
)

func TestLockoutGuardLocksAtThreshold(t *testing.T) {
	fake := newFakeStore()
	guard := NewLockoutGuard(fake, 5, 30*time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		guard.RecordFailure(ctx, domain.UserAccount, "user@example.com")
		if err := guard.Check(ctx, domain.UserAccount, "user@example.com"); err != nil {
			t.Fatalf("attempt %d: expected no lock yet, got %v", i+1, err)
		}
	}

	guard.RecordFailure(ctx, domain.UserAccount, "user@example.com")

	err := guard.Check(ctx, domain.UserAccount, "user@example.com")
	var locked *domain.AccountLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected AccountLockedError after 5 failures, got %v", err)
	}
	if locked.MinutesRemaining < 1 || locked.MinutesRemaining > 30 {
		t.Fatalf("unexpected minutes remaining: %d", locked.MinutesRemaining)
	}
}

func TestLockoutGuardSuccessResetsCounter(t *testing.T) {
	fake := newFakeStore()
	guard := NewLockoutGuard(fake, 5, 30*time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		guard.RecordFailure(ctx, domain.UserAccount, "user@example.com")
	}
	guard.RecordSuccess(ctx, domain.UserAccount, "user@example.com")

	// The counter starts over; one more failure must not lock.
	guard.RecordFailure(ctx, domain.UserAccount, "user@example.com")
	if err := guard.Check(ctx, domain.UserAccount, "user@example.com"); err != nil {
		t.Fatalf("expected no lock after reset, got %v", err)
	}
}

func TestLockoutGuardExpiredLockAllowsLogin(t *testing.T) {
	fake := newFakeStore()
	guard := NewLockoutGuard(fake, 2, 30*time.Minute)
	ctx := context.Background()

	guard.RecordFailure(ctx, domain.UserAccount, "user@example.com")
	guard.RecordFailure(ctx, domain.UserAccount, "user@example.com")

	if err := guard.Check(ctx, domain.UserAccount, "user@example.com"); err == nil {
		t.Fatal("expected an active lock")
	}

	// Move the guard's clock past the lock window.
	guard.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	if err := guard.Check(ctx, domain.UserAccount, "user@example.com"); err != nil {
		t.Fatalf("expected expired lock to pass, got %v", err)
	}
}

func TestLockoutGuardIsolatedPerKind(t *testing.T) {
	fake := newFakeStore()
	guard := NewLockoutGuard(fake, 2, 30*time.Minute)
	ctx := context.Background()

	guard.RecordFailure(ctx, domain.UserAccount, "shared@example.com")
	guard.RecordFailure(ctx, domain.UserAccount, "shared@example.com")

	if err := guard.Check(ctx, domain.UserAccount, "shared@example.com"); err == nil {
		t.Fatal("expected user account to be locked")
	}
	if err := guard.Check(ctx, domain.AgencyAccount, "shared@example.com"); err != nil {
		t.Fatalf("agency account with same email must not be locked, got %v", err)
	}
}
