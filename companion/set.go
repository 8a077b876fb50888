package companion

import (
	"path"
	"strings"
)

// CompanionSet is an ordered list of paths making up one catalog entry.
// The primary comes first.
type CompanionSet []string

// GetPrimary returns the primary path
func (set CompanionSet) GetPrimary() string {
	if len(set) == 0 {
		return ""
	}
	return set[0]
}

// GetCompanions returns members other than the primary
func (set CompanionSet) GetCompanions() []string {
	if len(set) <= 1 {
		return []string{}
	}
	return set[1:]
}

// Contains checks if the set has the path
func (set CompanionSet) Contains(p string) bool {
	cleanPath := path.Clean(p)
	for _, member := range set {
		if member == cleanPath {
			return true
		}
	}
	return false
}

// RelativeTo returns the member paths relative to the given directory.
// Members outside the directory are returned as they are.
func (set CompanionSet) RelativeTo(dirPath string) []string {
	prefix := strings.TrimSuffix(path.Clean(dirPath), "/") + "/"

	relPaths := make([]string, 0, len(set))
	for _, member := range set {
		relPaths = append(relPaths, strings.TrimPrefix(member, prefix))
	}
	return relPaths
}

func (set *CompanionSet) add(p string) bool {
	cleanPath := path.Clean(p)
	if set.Contains(cleanPath) {
		return false
	}

	*set = append(*set, cleanPath)
	return true
}
