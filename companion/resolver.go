package companion

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/deckdock/romcache/types"
	"github.com/deckdock/romcache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	// DefaultMaxDepth is the default nesting limit of manifests referencing manifests
	DefaultMaxDepth int = 4
)

// LineReader reads text lines of a file.
// Every remote.Client satisfies it.
type LineReader interface {
	ReadLines(ctx context.Context, p string) ([]string, error)
}

// LocalReader reads lines from the local filesystem
type LocalReader struct {
	cachedOnly bool
}

// NewLocalReader creates a new LocalReader
func NewLocalReader() *LocalReader {
	return &LocalReader{}
}

// NewCachedOnlyReader creates a LocalReader that reads only regular files.
// Links and missing files read as empty, so their companions are not expanded.
func NewCachedOnlyReader() *LocalReader {
	return &LocalReader{
		cachedOnly: true,
	}
}

// ReadLines reads text lines of a local file
func (reader *LocalReader) ReadLines(ctx context.Context, p string) ([]string, error) {
	if reader.cachedOnly {
		st, err := os.Lstat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return []string{}, nil
			}
			return nil, xerrors.Errorf("failed to stat %s: %w", p, err)
		}

		if !st.Mode().IsRegular() {
			return []string{}, nil
		}
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, xerrors.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	lines := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if len(lines) == 0 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		lines = append(lines, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", p, err)
	}
	return lines, nil
}

// Resolver derives the companion set of a primary file
type Resolver struct {
	maxDepth int
}

// NewResolver creates a new Resolver
func NewResolver(maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	return &Resolver{
		maxDepth: maxDepth,
	}
}

// Resolve returns the companion set of the primary path.
// Container files are read through the reader, companions are resolved
// against the directory of the file naming them. Existence of companions
// is not checked here.
func (resolver *Resolver) Resolve(ctx context.Context, reader LineReader, primary string) (CompanionSet, error) {
	logger := log.WithFields(log.Fields{
		"package":  "companion",
		"struct":   "Resolver",
		"function": "Resolve",
	})

	set := CompanionSet{}
	set.add(primary)

	err := resolver.expand(ctx, reader, path.Clean(primary), &set, 0)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Resolved %d file(s) for %s", len(set), primary)
	return set, nil
}

func (resolver *Resolver) expand(ctx context.Context, reader LineReader, p string, set *CompanionSet, depth int) error {
	format := types.GetFileFormat(p)
	if !format.HasCompanions() {
		return nil
	}

	if depth >= resolver.maxDepth {
		return xerrors.Errorf("failed to resolve %s: container nesting exceeds %d", p, resolver.maxDepth)
	}

	lines, err := reader.ReadLines(ctx, p)
	if err != nil {
		if depth > 0 && errors.Is(err, fs.ErrNotExist) {
			return types.NewCompanionMissingError(set.GetPrimary(), p)
		}
		return xerrors.Errorf("failed to read %s: %w", p, err)
	}

	var names []string
	switch format {
	case types.FormatManifest:
		names = ParseManifest(lines)
	case types.FormatCueSheet:
		names = ParseCueSheet(lines)
	case types.FormatGDI:
		names, err = ParseGDI(lines)
		if err != nil {
			return xerrors.Errorf("failed to parse %s: %w", p, err)
		}
	}

	dirPath := utils.GetDirName(p)
	for _, name := range names {
		memberPath := path.Clean(name)
		if !path.IsAbs(memberPath) {
			memberPath = utils.JoinPath(dirPath, memberPath)
		}

		if !set.add(memberPath) {
			continue
		}

		// disc lists may name cue sheets whose data files are needed too
		if format == types.FormatManifest {
			err = resolver.expand(ctx, reader, memberPath, set, depth+1)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
