package fetch

import (
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// SpaceProbe reports free space available to unprivileged writers
type SpaceProbe interface {
	Available(dirPath string) (int64, error)
}

// StatfsProbe reads free space with statfs
type StatfsProbe struct{}

// NewStatfsProbe creates a new StatfsProbe
func NewStatfsProbe() *StatfsProbe {
	return &StatfsProbe{}
}

// Available returns available bytes of the filesystem holding dirPath
func (probe *StatfsProbe) Available(dirPath string) (int64, error) {
	stat := unix.Statfs_t{}
	err := unix.Statfs(dirPath, &stat)
	if err != nil {
		return 0, xerrors.Errorf("failed to statfs %s: %w", dirPath, err)
	}

	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// FixedSpaceProbe reports a fixed amount of free space
type FixedSpaceProbe struct {
	available int64
}

// NewFixedSpaceProbe creates a new FixedSpaceProbe
func NewFixedSpaceProbe(available int64) *FixedSpaceProbe {
	return &FixedSpaceProbe{
		available: available,
	}
}

// Available returns the fixed amount
func (probe *FixedSpaceProbe) Available(dirPath string) (int64, error) {
	return probe.available, nil
}
