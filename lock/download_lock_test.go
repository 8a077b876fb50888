package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/deckdock/romcache/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadLock(t *testing.T) {
	t.Run("test AcquireRelease", testAcquireRelease)
	t.Run("test Contention", testContention)
	t.Run("test ReleaseNotHeld", testReleaseNotHeld)
}

func testAcquireRelease(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run", "romcache.lock")
	lock := NewDownloadLock(lockPath)

	require.NoError(t, lock.TryAcquire())
	assert.True(t, lock.IsHeld())

	holder, err := ReadHolder(lockPath)
	assert.NoError(t, err)
	assert.Equal(t, os.Getpid(), holder.PID)
	assert.NotEmpty(t, holder.Since)

	lock.Release()
	assert.False(t, lock.IsHeld())

	// lock file stays
	_, err = os.Stat(lockPath)
	assert.NoError(t, err)

	require.NoError(t, lock.TryAcquire())
	lock.Release()
}

func testContention(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "romcache.lock")
	first := NewDownloadLock(lockPath)
	second := NewDownloadLock(lockPath)

	require.NoError(t, first.TryAcquire())

	err := second.TryAcquire()
	assert.True(t, types.IsBusyError(err))

	busyErr, ok := err.(*types.BusyError)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), busyErr.HolderPID)

	err = first.TryAcquire()
	assert.True(t, types.IsBusyError(err))

	first.Release()
	require.NoError(t, second.TryAcquire())
	second.Release()
}

func testReleaseNotHeld(t *testing.T) {
	lock := NewDownloadLock(filepath.Join(t.TempDir(), "romcache.lock"))
	lock.Release()
	assert.False(t, lock.IsHeld())

	_, err := ReadHolder(lock.GetPath())
	assert.Error(t, err)
}
