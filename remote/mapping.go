package remote

import (
	"path"
	"strings"

	"github.com/deckdock/romcache/utils"
	"golang.org/x/xerrors"
)

// PathMapping maps paths under the backing store mount root to paths of a remote namespace
type PathMapping struct {
	MountRoot  string
	RemoteRoot string
}

// NewPathMapping creates a new PathMapping
func NewPathMapping(mountRoot string, remoteRoot string) *PathMapping {
	return &PathMapping{
		MountRoot:  mountRoot,
		RemoteRoot: remoteRoot,
	}
}

// GetRemotePath returns the remote path for the given mount path
func (mapping *PathMapping) GetRemotePath(mountPath string) (string, error) {
	if !utils.IsPathUnder(mapping.MountRoot, mountPath) {
		return "", xerrors.Errorf("path %s is not under backing store mount root %s", mountPath, mapping.MountRoot)
	}

	relPath, err := utils.GetRelativePath(mapping.MountRoot, mountPath)
	if err != nil {
		return "", xerrors.Errorf("failed to compute relative path: %w", err)
	}

	if relPath == "." {
		return mapping.RemoteRoot, nil
	}

	if mapping.RemoteRoot == "" {
		return relPath, nil
	}
	return path.Join(mapping.RemoteRoot, relPath), nil
}

// GetObjectKey returns an object key (no leading slash) for the given mount path
func (mapping *PathMapping) GetObjectKey(mountPath string) (string, error) {
	remotePath, err := mapping.GetRemotePath(mountPath)
	if err != nil {
		return "", err
	}

	return strings.TrimPrefix(remotePath, "/"), nil
}

// splitLines splits text content into lines, dropping carriage returns and a leading BOM
func splitLines(data []byte) []string {
	text := strings.TrimPrefix(string(data), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
