package state

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/ghbackup/internal/foundation/errors"
)

func TestLockName(t *testing.T) {
	dir := t.TempDir()
	a := LockName(filepath.Join(dir, "a.db"))
	b := LockName(filepath.Join(dir, "b.db"))

	require.NotEqual(t, a, b)
	require.Equal(t, a, LockName(filepath.Join(dir, "a.db")))
	require.LessOrEqual(t, len(a), 40)
	require.Regexp(t, regexp.MustCompile(`^[a-z]+[a-z0-9.-]*$`), a)
}

func TestAcquireRunLock_ConflictIsStoreConflict(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "track.db")

	first, err := AcquireRunLock(ctx, path, time.Second, clock.WallClock)
	require.NoError(t, err)

	_, err = AcquireRunLock(ctx, path, 200*time.Millisecond, clock.WallClock)
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryStoreConflict))

	first.Release()
	first.Release()

	again, err := AcquireRunLock(ctx, path, time.Second, nil)
	require.NoError(t, err)
	again.Release()
}
