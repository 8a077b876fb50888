package companion

import (
	"strings"

	"golang.org/x/xerrors"
)

// ParseManifest returns filenames listed in a disc list.
// Blank lines and lines starting with '#' are skipped.
func ParseManifest(lines []string) []string {
	names := []string{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, normalizeName(line))
	}
	return names
}

// ParseCueSheet returns data filenames named by FILE directives
func ParseCueSheet(lines []string) []string {
	names := []string{}
	for _, line := range lines {
		fields := strings.TrimSpace(line)
		if len(fields) < 5 || !strings.EqualFold(fields[:4], "FILE") {
			continue
		}

		rest := fields[4:]
		if rest[0] != ' ' && rest[0] != '\t' {
			continue
		}

		name, ok := readToken(strings.TrimSpace(rest))
		if ok && len(name) > 0 {
			names = append(names, normalizeName(name))
		}
	}
	return names
}

// ParseGDI returns track filenames of a GD-ROM track list.
// The first line is the track count, each following line is
// "<track> <lba> <type> <sector size> <filename> <offset>".
func ParseGDI(lines []string) ([]string, error) {
	names := []string{}
	header := true
	for lineNo, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		if header {
			// track count
			header = false
			continue
		}

		rest := line
		for i := 0; i < 4; i++ {
			_, next, ok := cutField(rest)
			if !ok {
				return nil, xerrors.Errorf("malformed track line %d: %q", lineNo+1, line)
			}
			rest = next
		}

		name, ok := readToken(rest)
		if !ok || len(name) == 0 {
			return nil, xerrors.Errorf("malformed track line %d: %q", lineNo+1, line)
		}
		names = append(names, normalizeName(name))
	}
	return names, nil
}

// readToken reads a leading, possibly double-quoted, token
func readToken(s string) (string, bool) {
	if len(s) == 0 {
		return "", false
	}

	if s[0] == '"' {
		end := strings.IndexByte(s[1:], '"')
		if end < 0 {
			return "", false
		}
		return s[1 : end+1], true
	}

	// unquoted names with spaces are allowed when a type keyword follows
	idx := strings.LastIndexAny(s, " \t")
	if idx < 0 {
		return s, true
	}

	head := strings.TrimSpace(s[:idx])
	if len(head) == 0 {
		return s, true
	}
	return head, true
}

func cutField(s string) (string, string, bool) {
	s = strings.TrimLeft(s, " \t")
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], strings.TrimLeft(s[idx:], " \t"), true
}

func normalizeName(name string) string {
	return strings.ReplaceAll(name, "\\", "/")
}
