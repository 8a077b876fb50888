package utils

import (
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
)

// JoinPath makes the path from dir and file paths
func JoinPath(dirPath string, filePath string) string {
	if filePath == "" {
		return filepath.Clean(dirPath)
	}

	if filepath.IsAbs(filePath) {
		return filepath.Clean(filePath)
	}

	return filepath.Join(dirPath, filePath)
}

// GetFileName returns the last element of the path
func GetFileName(p string) string {
	return filepath.Base(p)
}

// GetDirName returns the parent directory of the path
func GetDirName(p string) string {
	return filepath.Dir(p)
}

// IsAbsolutePath returns true if the given path is absolute
func IsAbsolutePath(p string) bool {
	return filepath.IsAbs(p)
}

// GetRelativePath returns relative path of target from base
func GetRelativePath(basePath string, targetPath string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(basePath), filepath.Clean(targetPath))
	if err != nil {
		return "", xerrors.Errorf("failed to compute relative path from %s to %s: %w", basePath, targetPath, err)
	}
	return filepath.ToSlash(rel), nil
}

// IsPathUnder returns true if the target path is the root path or under it
func IsPathUnder(rootPath string, targetPath string) bool {
	rel, err := GetRelativePath(rootPath, targetPath)
	if err != nil {
		return false
	}

	if rel == ".." || strings.HasPrefix(rel, "../") {
		return false
	}
	return true
}

// ResolveLinkTarget makes a link target absolute. Relative targets are
// resolved against the directory holding the link.
func ResolveLinkTarget(linkPath string, target string) string {
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Join(filepath.Dir(linkPath), target)
}

// IsHiddenFile returns true if the file name starts with a dot
func IsHiddenFile(p string) bool {
	return strings.HasPrefix(GetFileName(p), ".")
}
