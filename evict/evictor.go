package evict

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/deckdock/romcache/catalog"
	"github.com/deckdock/romcache/companion"
	"github.com/deckdock/romcache/fetch"
	"github.com/deckdock/romcache/remote"
	"github.com/deckdock/romcache/report"
	"github.com/deckdock/romcache/types"
	"github.com/deckdock/romcache/utils"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Evictor deletes cached files and restores presence links
type Evictor struct {
	catalog    *catalog.Catalog
	listing    *remote.ListingCache
	resolver   *companion.Resolver
	notifier   fetch.Notifier
	metrics    *report.Metrics
	removeFile func(name string) error
}

// NewEvictor creates a new Evictor
func NewEvictor(cat *catalog.Catalog, listing *remote.ListingCache, maxCompanionDepth int) *Evictor {
	return &Evictor{
		catalog:    cat,
		listing:    listing,
		resolver:   companion.NewResolver(maxCompanionDepth),
		removeFile: os.Remove,
	}
}

// SetNotifier sets the notifier fired after a batch evicting anything
func (evictor *Evictor) SetNotifier(notifier fetch.Notifier) {
	evictor.notifier = notifier
}

// SetMetrics sets metrics
func (evictor *Evictor) SetMetrics(metrics *report.Metrics) {
	evictor.metrics = metrics
}

func (evictor *Evictor) backingPathOf(namespace string, relPath string) string {
	return filepath.Join(evictor.catalog.BackingDir(namespace), filepath.FromSlash(relPath))
}

// Scan returns cached files that also exist on the backing store.
// Files only present locally are never candidates. Companions of a
// candidate are folded into it instead of being listed separately.
func (evictor *Evictor) Scan(ctx context.Context) ([]CacheCandidate, error) {
	logger := log.WithFields(log.Fields{
		"package":  "evict",
		"struct":   "Evictor",
		"function": "Scan",
	})

	defer utils.StackTraceFromPanic(logger)

	namespaces, err := evictor.catalog.Namespaces()
	if err != nil {
		return nil, err
	}

	candidates := []CacheCandidate{}
	for _, namespace := range namespaces {
		found, err := evictor.scanNamespace(ctx, namespace)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, found...)
	}

	logger.Debugf("Found %d candidate(s) in %d namespace(s)", len(candidates), len(namespaces))
	return candidates, nil
}

func (evictor *Evictor) scanNamespace(ctx context.Context, namespace string) ([]CacheCandidate, error) {
	namespaceDir := evictor.catalog.NamespaceDir(namespace)

	found := []CacheCandidate{}
	err := filepath.WalkDir(namespaceDir, func(p string, dirEntry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if p == namespaceDir {
			return nil
		}

		if utils.IsHiddenFile(dirEntry.Name()) {
			if dirEntry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		// links are not cached, WalkDir does not follow them
		if !dirEntry.Type().IsRegular() || strings.HasSuffix(dirEntry.Name(), fetch.TempSuffix) {
			return nil
		}

		relPath, err := utils.GetRelativePath(namespaceDir, p)
		if err != nil {
			return err
		}

		backingPath := evictor.backingPathOf(namespace, relPath)
		onBacking, err := evictor.listing.Contains(ctx, backingPath)
		if err != nil {
			return xerrors.Errorf("failed to check %s on backing store: %w", backingPath, err)
		}

		if !onBacking {
			return nil
		}

		info, err := dirEntry.Info()
		if err != nil {
			return xerrors.Errorf("failed to stat %s: %w", p, err)
		}

		found = append(found, CacheCandidate{
			Namespace:   namespace,
			Path:        p,
			RelPath:     relPath,
			BackingPath: backingPath,
			Size:        info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to scan namespace %s: %w", namespace, err)
	}

	return evictor.foldCompanions(ctx, found), nil
}

// foldCompanions merges candidates that are companions of another candidate into it
func (evictor *Evictor) foldCompanions(ctx context.Context, found []CacheCandidate) []CacheCandidate {
	logger := log.WithFields(log.Fields{
		"package":  "evict",
		"struct":   "Evictor",
		"function": "foldCompanions",
	})

	indexByPath := map[string]int{}
	for idx, candidate := range found {
		indexByPath[candidate.Path] = idx
	}

	owner := map[int]int{}
	for idx := range found {
		if !types.GetFileFormat(found[idx].Path).HasCompanions() {
			continue
		}

		set, err := evictor.resolver.Resolve(ctx, companion.NewCachedOnlyReader(), found[idx].Path)
		if err != nil {
			logger.WithError(err).Warnf("failed to resolve companions of %s", found[idx].Path)
			continue
		}

		for _, member := range set.GetCompanions() {
			memberIdx, ok := indexByPath[member]
			if !ok || memberIdx == idx {
				continue
			}

			if _, claimed := owner[memberIdx]; !claimed {
				owner[memberIdx] = idx
			}
		}
	}

	// a container listed by another container, e.g. a cue in a disc list, folds into the outermost one
	rootOf := func(idx int) int {
		for depth := 0; depth < len(found); depth++ {
			parent, ok := owner[idx]
			if !ok || parent == idx {
				return idx
			}
			idx = parent
		}
		return idx
	}

	folded := []CacheCandidate{}
	positions := map[int]int{}
	for idx := range found {
		if _, ok := owner[idx]; ok {
			continue
		}
		positions[idx] = len(folded)
		folded = append(folded, found[idx])
	}

	for idx := range found {
		if _, ok := owner[idx]; !ok {
			continue
		}

		root := rootOf(idx)
		position, ok := positions[root]
		if !ok {
			// cyclic references; keep the file as its own candidate
			folded = append(folded, found[idx])
			continue
		}

		folded[position].Size += found[idx].Size
		folded[position].Companions = append(folded[position].Companions, found[idx].RelPath)
	}
	return folded
}

// Select picks candidates by local path
func (evictor *Evictor) Select(candidates []CacheCandidate, paths []string) ([]CacheCandidate, error) {
	byPath := map[string]CacheCandidate{}
	for _, candidate := range candidates {
		byPath[candidate.Path] = candidate
	}

	selection := []CacheCandidate{}
	for _, p := range paths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			return nil, xerrors.Errorf("failed to get absolute path of %s: %w", p, err)
		}

		candidate, ok := byPath[absPath]
		if !ok {
			return nil, types.NewNotCachedError(absPath)
		}
		selection = append(selection, candidate)
	}
	return selection, nil
}

// Evict deletes the selected candidates in order and restores their links.
// A failing candidate is recorded and does not stop the batch.
func (evictor *Evictor) Evict(ctx context.Context, selection []CacheCandidate) *EvictionResult {
	logger := log.WithFields(log.Fields{
		"package":  "evict",
		"struct":   "Evictor",
		"function": "Evict",
	})

	defer utils.StackTraceFromPanic(logger)

	result := NewEvictionResult()
	for _, candidate := range selection {
		freed, links, err := evictor.evictOne(ctx, candidate)
		result.FreedBytes += freed
		result.RestoredLinks = append(result.RestoredLinks, links...)

		if err != nil {
			logger.WithError(err).Errorf("failed to evict %s", candidate.Path)
			result.Failed = append(result.Failed, CandidateFailure{
				Candidate: candidate,
				Err:       err,
			})
			if evictor.metrics != nil {
				evictor.metrics.RecordEviction(report.ResultFailure, freed)
			}
			continue
		}

		logger.Infof("Evicted %s (%s)", candidate.Path, humanize.IBytes(uint64(freed)))
		result.Evicted = append(result.Evicted, candidate)
		if evictor.metrics != nil {
			evictor.metrics.RecordEviction(report.ResultSuccess, freed)
		}
	}

	if len(result.Evicted) > 0 && evictor.notifier != nil {
		evictor.notifier.Fire("evict")
	}

	logger.Debugf("Eviction done: %s", result.ToString())
	return result
}

// evictOne deletes one candidate and its companions. Returns freed bytes and links created.
func (evictor *Evictor) evictOne(ctx context.Context, candidate CacheCandidate) (int64, []string, error) {
	logger := log.WithFields(log.Fields{
		"package":  "evict",
		"struct":   "Evictor",
		"function": "evictOne",
	})

	st, err := os.Lstat(candidate.Path)
	if err != nil {
		return 0, nil, xerrors.Errorf("failed to stat %s: %w", candidate.Path, err)
	}

	if !st.Mode().IsRegular() {
		return 0, nil, types.NewNotCachedError(candidate.Path)
	}

	// resolve before anything is deleted
	set, err := evictor.resolver.Resolve(ctx, companion.NewCachedOnlyReader(), candidate.Path)
	if err != nil {
		return 0, nil, xerrors.Errorf("failed to resolve companions of %s: %w", candidate.Path, err)
	}

	namespaceDir := evictor.catalog.NamespaceDir(candidate.Namespace)
	relPaths := []string{}
	for idx, member := range set {
		relPath, err := utils.GetRelativePath(namespaceDir, member)
		if err != nil || relPath == ".." || strings.HasPrefix(relPath, "../") {
			if idx == 0 {
				return 0, nil, xerrors.Errorf("%s is outside of namespace %s", member, candidate.Namespace)
			}
			logger.Warnf("Skipping companion %s outside of namespace %s", member, candidate.Namespace)
			continue
		}

		onBacking := true
		if idx > 0 {
			onBacking, err = evictor.listing.Contains(ctx, evictor.backingPathOf(candidate.Namespace, relPath))
			if err != nil {
				return 0, nil, xerrors.Errorf("failed to check companion %s on backing store: %w", member, err)
			}
		}

		if !onBacking {
			// deleting it would lose the only copy
			logger.Warnf("Keeping companion %s, it is not on the backing store", member)
			continue
		}
		relPaths = append(relPaths, relPath)
	}

	// companions go first so a failure leaves the primary a local file
	order := append(append([]string{}, relPaths[1:]...), relPaths[0])

	var freed int64
	deleted := []string{}
	for _, relPath := range order {
		p := filepath.Join(namespaceDir, filepath.FromSlash(relPath))
		memberStat, err := os.Lstat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			links := evictor.restoreDeleted(candidate.Namespace, deleted)
			return freed, links, xerrors.Errorf("failed to stat %s: %w", p, err)
		}

		if !memberStat.Mode().IsRegular() {
			continue
		}

		err = evictor.removeFile(p)
		if err != nil {
			links := evictor.restoreDeleted(candidate.Namespace, deleted)
			return freed, links, xerrors.Errorf("failed to delete %s: %w", p, err)
		}
		deleted = append(deleted, relPath)
		freed += memberStat.Size()
	}

	links := []string{}
	for _, relPath := range relPaths {
		created, err := evictor.restoreLinks(candidate.Namespace, relPath)
		links = append(links, created...)
		if err != nil {
			return freed, links, err
		}
	}
	return freed, links, nil
}

// restoreDeleted puts links back for members deleted before a failure
func (evictor *Evictor) restoreDeleted(namespace string, relPaths []string) []string {
	logger := log.WithFields(log.Fields{
		"package":  "evict",
		"struct":   "Evictor",
		"function": "restoreDeleted",
	})

	links := []string{}
	for _, relPath := range relPaths {
		created, err := evictor.restoreLinks(namespace, relPath)
		links = append(links, created...)
		if err != nil {
			logger.WithError(err).Errorf("failed to restore link of %s in %s", relPath, namespace)
		}
	}
	return links
}

// restoreLinks creates the presence link in the source namespace and
// links through it in every alias namespace, skipping paths that exist
func (evictor *Evictor) restoreLinks(namespace string, relPath string) ([]string, error) {
	source := evictor.catalog.SourceNamespace(namespace)
	sourceLocal := filepath.Join(evictor.catalog.NamespaceDir(source), filepath.FromSlash(relPath))
	backingPath := evictor.backingPathOf(source, relPath)

	created := []string{}
	ok, err := ensureLink(sourceLocal, backingPath)
	if err != nil {
		return created, err
	}
	if ok {
		created = append(created, sourceLocal)
	}

	aliases, err := evictor.aliasNamespaces(source)
	if err != nil {
		return created, err
	}

	for _, alias := range aliases {
		aliasLocal := filepath.Join(evictor.catalog.NamespaceDir(alias), filepath.FromSlash(relPath))
		target, err := filepath.Rel(filepath.Dir(aliasLocal), sourceLocal)
		if err != nil {
			return created, xerrors.Errorf("failed to make link target for %s: %w", aliasLocal, err)
		}

		ok, err := ensureLink(aliasLocal, target)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, aliasLocal)
		}
	}
	return created, nil
}

// aliasNamespaces returns existing namespace dirs served by the source namespace
func (evictor *Evictor) aliasNamespaces(source string) ([]string, error) {
	namespaces, err := evictor.catalog.Namespaces()
	if err != nil {
		return nil, err
	}

	aliases := []string{}
	for _, namespace := range namespaces {
		if namespace != source && evictor.catalog.IsAlias(namespace) && evictor.catalog.SourceNamespace(namespace) == source {
			aliases = append(aliases, namespace)
		}
	}
	return aliases, nil
}

// ensureLink creates a link at p unless something is already there
func ensureLink(p string, target string) (bool, error) {
	_, err := os.Lstat(p)
	if err == nil {
		return false, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return false, xerrors.Errorf("failed to stat %s: %w", p, err)
	}

	err = os.MkdirAll(filepath.Dir(p), 0755)
	if err != nil {
		return false, xerrors.Errorf("failed to make dir for %s: %w", p, err)
	}

	err = os.Symlink(target, p)
	if err != nil {
		return false, xerrors.Errorf("failed to link %s to %s: %w", p, target, err)
	}
	return true, nil
}
