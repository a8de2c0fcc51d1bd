package app

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/voyago/identity-service/internal/domain"
	"github.com/voyago/identity-service/internal/store"
)

// LockoutGuard gates login attempts per (identifier, account kind). It runs
// before the password check so a locked account never leaks whether the
// submitted password was correct.
type LockoutGuard struct {
	repo         store.LockoutRepository
	maxAttempts  int
	lockDuration time.Duration
	now          func() time.Time
}

// NewLockoutGuard creates a guard with the configured threshold and
// duration (defaults: 5 attempts, 30 minutes).
func NewLockoutGuard(repo store.LockoutRepository, maxAttempts int, lockDuration time.Duration) *LockoutGuard {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if lockDuration <= 0 {
		lockDuration = 30 * time.Minute
	}
	return &LockoutGuard{
		repo:         repo,
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
		now:          time.Now,
	}
}

// Check fails with AccountLockedError while locked_until is in the future.
func (g *LockoutGuard) Check(ctx context.Context, kind domain.AccountKind, email string) error {
	lockout, err := g.repo.FindLockout(ctx, kind, email)
	if err != nil {
		return err
	}
	if lockout == nil || lockout.LockedUntil == nil {
		return nil
	}

	now := g.now()
	if lockout.LockedUntil.After(now) {
		minutes := int(math.Ceil(lockout.LockedUntil.Sub(now).Minutes()))
		if minutes < 1 {
			minutes = 1
		}
		return &domain.AccountLockedError{MinutesRemaining: minutes}
	}
	return nil
}

// RecordFailure bumps the failure counter; the storage layer applies the
// threshold side effect in the same statement.
func (g *LockoutGuard) RecordFailure(ctx context.Context, kind domain.AccountKind, email string) {
	lockout, err := g.repo.RecordFailedAttempt(ctx, kind, email, g.maxAttempts, g.lockDuration)
	if err != nil {
		log.Printf("Failed to record login failure for %s/%s: %v", kind, email, err)
		return
	}
	if lockout.LockedUntil != nil {
		log.Printf("Account %s/%s locked until %s after %d failed attempts",
			kind, email, lockout.LockedUntil.Format(time.RFC3339), lockout.FailedAttempts)
	}
}

// RecordSuccess clears the counter and any active lock.
func (g *LockoutGuard) RecordSuccess(ctx context.Context, kind domain.AccountKind, email string) {
	if err := g.repo.ResetFailedAttempts(ctx, kind, email); err != nil {
		log.Printf("Failed to reset login failures for %s/%s: %v", kind, email, err)
	}
}
