// Package lock serializes read-modify-write sequences across independent
// worker processes with an advisory file lock over the board directory.
package lock

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"

	"crewboard/internal/domain"
)

// LockFileName is the lock file kept inside the board directory.
const LockFileName = ".cb.lock"

// Manager guards the board directory. Acquisition retries with bounded
// exponential backoff and gives up with LOCK_TIMEOUT after Timeout.
type Manager struct {
	Path         string
	Timeout      time.Duration
	InitialDelay time.Duration
}

// New returns a Manager for the given board directory.
func New(dir string, timeout, initialDelay time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if initialDelay <= 0 {
		initialDelay = 25 * time.Millisecond
	}
	return &Manager{
		Path:         filepath.Join(dir, LockFileName),
		Timeout:      timeout,
		InitialDelay: initialDelay,
	}
}

var errLockHeld = errors.New("lock held by another process")

// WithLock runs fn while holding the lock. The lock is released on every
// exit path, including when fn returns an error or panics.
func (m *Manager) WithLock(ctx context.Context, fn func() error) error {
	fl := flock.New(m.Path)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.InitialDelay
	policy.MaxInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = m.Timeout

	acquire := func() error {
		ok, err := fl.TryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockHeld
		}
		return nil
	}
	if err := backoff.Retry(acquire, backoff.WithContext(policy, ctx)); err != nil {
		if errors.Is(err, errLockHeld) || errors.Is(err, context.DeadlineExceeded) {
			return domain.Errf(domain.CodeLockTimeout, "",
				"could not acquire board lock within %s; retry", m.Timeout)
		}
		return domain.Errf(domain.CodeServerError, "", "acquire board lock: %v", err)
	}
	defer fl.Unlock()

	return fn()
}
