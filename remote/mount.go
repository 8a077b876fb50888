package remote

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/deckdock/romcache/types"
	"github.com/deckdock/romcache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// MountClient implements Client over the locally mounted backing store (sshfs, nfs, rclone mount).
// Used when no direct transport is configured; liveness checks go through the mount.
type MountClient struct {
	mountRoot string
}

// NewMountClient creates Client using MountClient
func NewMountClient(mountRoot string) Client {
	return &MountClient{
		mountRoot: mountRoot,
	}
}

// Release releases resources
func (client *MountClient) Release() {
}

// GetName returns client name
func (client *MountClient) GetName() string {
	return "mount"
}

func (client *MountClient) checkPath(p string) error {
	if !utils.IsPathUnder(client.mountRoot, p) {
		return xerrors.Errorf("path %s is not under backing store mount root %s", p, client.mountRoot)
	}
	return nil
}

// isMountPoint checks the mount root is on a different device than its parent
func (client *MountClient) isMountPoint() (bool, error) {
	var rootStat, parentStat unix.Stat_t
	err := unix.Stat(client.mountRoot, &rootStat)
	if err != nil {
		return false, err
	}

	err = unix.Stat(filepath.Dir(client.mountRoot), &parentStat)
	if err != nil {
		return false, err
	}
	return rootStat.Dev != parentStat.Dev, nil
}

// checkMounted tells a file missing from a live mount from a mount that is gone.
// The mount is live when the root is a mount point or the namespace dir of p exists.
func (client *MountClient) checkMounted(p string) error {
	mounted, err := client.isMountPoint()
	if err != nil {
		return types.NewUnreachableError(p, xerrors.Errorf("failed to stat backing store mount root %s: %w", client.mountRoot, err))
	}

	if mounted {
		return nil
	}

	namespaceDir := client.mountRoot
	relPath, err := filepath.Rel(client.mountRoot, p)
	if err == nil && relPath != "." {
		namespaceDir = filepath.Join(client.mountRoot, strings.Split(filepath.ToSlash(relPath), "/")[0])
	}

	st, err := os.Stat(namespaceDir)
	if err != nil || !st.IsDir() {
		return types.NewUnreachableError(p, xerrors.Errorf("backing store is not mounted at %s", client.mountRoot))
	}
	return nil
}

// classifyError separates a missing file from a broken mount
func (client *MountClient) classifyError(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		mountErr := client.checkMounted(p)
		if mountErr != nil {
			return mountErr
		}
		return xerrors.Errorf("failed to find %s: %w", p, err)
	}
	return types.NewUnreachableError(p, err)
}

// Exists checks existence of a file
func (client *MountClient) Exists(ctx context.Context, p string) (bool, error) {
	if err := client.checkPath(p); err != nil {
		return false, err
	}

	st, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			mountErr := client.checkMounted(p)
			if mountErr != nil {
				return false, mountErr
			}
			return false, nil
		}
		return false, types.NewUnreachableError(p, err)
	}
	return st.Mode().IsRegular(), nil
}

// Size returns the size of a file
func (client *MountClient) Size(ctx context.Context, p string) (int64, error) {
	if err := client.checkPath(p); err != nil {
		return 0, err
	}

	st, err := os.Stat(p)
	if err != nil {
		return 0, client.classifyError(p, err)
	}

	if !st.Mode().IsRegular() {
		return 0, xerrors.Errorf("path %s is not a file: %w", p, fs.ErrNotExist)
	}
	return st.Size(), nil
}

// ReadLines reads text lines of a file
func (client *MountClient) ReadLines(ctx context.Context, p string) ([]string, error) {
	if err := client.checkPath(p); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, client.classifyError(p, err)
	}
	return splitLines(data), nil
}

// List lists names in a directory
func (client *MountClient) List(ctx context.Context, dirPath string) ([]string, error) {
	if err := client.checkPath(dirPath); err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, client.classifyError(dirPath, err)
	}

	names := make([]string, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		names = append(names, dirEntry.Name())
	}
	return names, nil
}

// Transfer copies a file to the local destination path
func (client *MountClient) Transfer(ctx context.Context, srcPath string, dstPath string) error {
	logger := log.WithFields(log.Fields{
		"package":  "remote",
		"struct":   "MountClient",
		"function": "Transfer",
	})

	if err := client.checkPath(srcPath); err != nil {
		return err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return client.classifyError(srcPath, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return xerrors.Errorf("failed to create %s: %w", dstPath, err)
	}

	logger.Debugf("Copying %s to %s", srcPath, dstPath)
	_, err = io.Copy(dst, &contextReader{ctx: ctx, reader: src})
	if err != nil {
		dst.Close()
		return xerrors.Errorf("failed to copy %s to %s: %w", srcPath, dstPath, err)
	}

	err = dst.Close()
	if err != nil {
		return xerrors.Errorf("failed to close %s: %w", dstPath, err)
	}
	return nil
}

// contextReader stops a copy once the context is done
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (reader *contextReader) Read(buffer []byte) (int, error) {
	if err := reader.ctx.Err(); err != nil {
		return 0, err
	}
	return reader.reader.Read(buffer)
}
