package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
)

const lockDelay = 50 * time.Millisecond

// RunLock is the exclusive right to mutate one tracking database.
type RunLock struct {
	name     string
	releaser mutex.Releaser
}

// LockName derives the machine-wide mutex name guarding the database at path.
func LockName(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(abs))
	return "ghbackup-" + hex.EncodeToString(sum[:])[:16]
}

// AcquireRunLock takes the lock for the database at path, waiting at most timeout.
// A concurrent holder yields a StoreConflictError.
func AcquireRunLock(ctx context.Context, path string, timeout time.Duration, clk clock.Clock) (*RunLock, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	if timeout <= 0 {
		timeout = lockDelay
	}
	name := LockName(path)
	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    name,
		Clock:   clk,
		Delay:   lockDelay,
		Timeout: timeout,
		Cancel:  ctx.Done(),
	})
	switch {
	case err == nil:
		return &RunLock{name: name, releaser: releaser}, nil
	case stderrors.Is(err, mutex.ErrTimeout):
		return nil, errors.StoreConflictError("another run holds the tracking database").
			WithContext("path", path).
			WithContext("lock", name).
			Build()
	case stderrors.Is(err, mutex.ErrCancelled):
		return nil, ctx.Err()
	default:
		return nil, errors.WrapError(err, errors.CategoryStoreConflict, "acquire run lock").
			WithContext("path", path).Build()
	}
}

// Name returns the mutex name.
func (l *RunLock) Name() string { return l.name }

// Release gives up the lock. It is safe to call more than once.
func (l *RunLock) Release() {
	if l == nil || l.releaser == nil {
		return
	}
	l.releaser.Release()
	l.releaser = nil
}
