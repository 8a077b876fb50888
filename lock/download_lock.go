package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/deckdock/romcache/types"
	"github.com/deckdock/romcache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// DownloadLock is the system-wide download lock, an advisory flock on a lock file.
// Acquisition never blocks. The lock file records the holder and is left in place on release.
type DownloadLock struct {
	path  string
	file  *os.File
	mutex sync.Mutex
}

// HolderInfo describes the current holder, as recorded in the lock file
type HolderInfo struct {
	PID   int
	Since string
}

// NewDownloadLock creates a new DownloadLock
func NewDownloadLock(path string) *DownloadLock {
	return &DownloadLock{
		path: path,
	}
}

// GetPath returns the lock file path
func (lock *DownloadLock) GetPath() string {
	return lock.path
}

// IsHeld returns true if this instance holds the lock
func (lock *DownloadLock) IsHeld() bool {
	lock.mutex.Lock()
	defer lock.mutex.Unlock()

	return lock.file != nil
}

// TryAcquire acquires the lock or returns BusyError immediately
func (lock *DownloadLock) TryAcquire() error {
	logger := log.WithFields(log.Fields{
		"package":  "lock",
		"struct":   "DownloadLock",
		"function": "TryAcquire",
	})

	lock.mutex.Lock()
	defer lock.mutex.Unlock()

	if lock.file != nil {
		return types.NewBusyError(lock.path, os.Getpid(), "")
	}

	err := os.MkdirAll(filepath.Dir(lock.path), 0755)
	if err != nil {
		return xerrors.Errorf("failed to make lock dir for %s: %w", lock.path, err)
	}

	f, err := os.OpenFile(lock.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return xerrors.Errorf("failed to open lock file %s: %w", lock.path, err)
	}

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) {
			holder, _ := ReadHolder(lock.path)
			logger.Debugf("Lock %s is held by %+v", lock.path, holder)
			if holder != nil {
				return types.NewBusyError(lock.path, holder.PID, holder.Since)
			}
			return types.NewBusyError(lock.path, 0, "")
		}
		return xerrors.Errorf("failed to lock %s: %w", lock.path, err)
	}

	// holder info is best effort
	err = f.Truncate(0)
	if err == nil {
		_, err = f.WriteAt([]byte(fmt.Sprintf("%d %s\n", os.Getpid(), utils.MakeTimeToString(time.Now()))), 0)
	}
	if err != nil {
		logger.WithError(err).Warnf("failed to record lock holder in %s", lock.path)
	}

	lock.file = f
	logger.Debugf("Acquired lock %s", lock.path)
	return nil
}

// Release releases the lock. Releasing a lock not held is a no-op.
func (lock *DownloadLock) Release() {
	logger := log.WithFields(log.Fields{
		"package":  "lock",
		"struct":   "DownloadLock",
		"function": "Release",
	})

	lock.mutex.Lock()
	defer lock.mutex.Unlock()

	if lock.file == nil {
		return
	}

	err := lock.file.Truncate(0)
	if err != nil {
		logger.WithError(err).Debugf("failed to clear lock holder in %s", lock.path)
	}

	// closing the descriptor drops the flock
	err = lock.file.Close()
	if err != nil {
		logger.WithError(err).Warnf("failed to close lock file %s", lock.path)
	}

	lock.file = nil
	logger.Debugf("Released lock %s", lock.path)
}

// ReadHolder reads holder info recorded in the lock file
func ReadHolder(path string) (*HolderInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read lock file %s: %w", path, err)
	}

	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return nil, xerrors.Errorf("lock file %s has no holder info", path)
	}

	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, xerrors.Errorf("failed to parse holder pid %q: %w", fields[0], err)
	}

	return &HolderInfo{
		PID:   pid,
		Since: fields[1],
	}, nil
}
