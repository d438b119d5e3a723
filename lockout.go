package authcore

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// lockoutGuard implements the brute-force lock on the account record: the
// failure counter and lock expiry are persisted columns, so the lock
// holds across processes without shared cache state.
type lockoutGuard struct {
	accounts AccountStore
	clock    clockwork.Clock
	config   LockoutConfig
}

// check returns a *LockedError while the account's lock is active. An
// expired lock is treated as no lock; the stale columns are cleared by
// the next success or failure write.
func (g *lockoutGuard) check(account *Account) error {
	if account.LockedUntil == nil {
		return nil
	}
	remaining := account.LockedUntil.Sub(g.clock.Now())
	if remaining <= 0 {
		return nil
	}
	return &LockedError{RetryAfter: remaining}
}

// recordFailure bumps the counter and, at the threshold, sets the lock.
// A failure after an expired lock starts a fresh count of one.
func (g *lockoutGuard) recordFailure(ctx context.Context, account *Account) error {
	attempts := account.FailedAttempts + 1
	if account.LockedUntil != nil && !g.clock.Now().Before(*account.LockedUntil) {
		attempts = 1
	}

	var lockedUntil *time.Time
	if attempts >= g.config.MaxFailedAttempts {
		until := g.clock.Now().Add(g.config.LockDuration)
		lockedUntil = &until
	}

	return g.accounts.RecordLoginFailure(ctx, account.ID, attempts, lockedUntil)
}
