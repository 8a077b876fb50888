package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deckdock/romcache/catalog"
	"github.com/deckdock/romcache/companion"
	"github.com/deckdock/romcache/lock"
	"github.com/deckdock/romcache/remote"
	"github.com/deckdock/romcache/report"
	"github.com/deckdock/romcache/types"
	"github.com/deckdock/romcache/utils"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

const (
	// DefaultSafetyMargin is the headroom kept free on the local filesystem
	DefaultSafetyMargin int64 = 512 * 1024 * 1024
)

// Notifier is told about library changes
type Notifier interface {
	Fire(reason string)
}

// Config is a configuration of Orchestrator
type Config struct {
	// SafetyMargin is added to the required bytes before comparing with free space
	SafetyMargin      int64
	PollInterval      time.Duration
	MaxCompanionDepth int
}

// NewDefaultConfig returns a default Config
func NewDefaultConfig() *Config {
	return &Config{
		SafetyMargin:      DefaultSafetyMargin,
		PollInterval:      DefaultPollInterval,
		MaxCompanionDepth: companion.DefaultMaxDepth,
	}
}

// Orchestrator materializes catalog entries from the backing store
type Orchestrator struct {
	config   *Config
	catalog  *catalog.Catalog
	client   remote.Client
	resolver *companion.Resolver
	lock     *lock.DownloadLock
	space    SpaceProbe
	reporter report.ProgressReporter
	notifier Notifier
	metrics  *report.Metrics
	rename   func(oldPath string, newPath string) error
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(config *Config, cat *catalog.Catalog, downloadLock *lock.DownloadLock) *Orchestrator {
	if config == nil {
		config = NewDefaultConfig()
	}

	return &Orchestrator{
		config:   config,
		catalog:  cat,
		client:   cat.GetClient(),
		resolver: companion.NewResolver(config.MaxCompanionDepth),
		lock:     downloadLock,
		space:    NewStatfsProbe(),
		reporter: report.NewNilReporter(),
		rename:   os.Rename,
	}
}

// SetSpaceProbe sets the free space probe
func (orchestrator *Orchestrator) SetSpaceProbe(probe SpaceProbe) {
	orchestrator.space = probe
}

// SetReporter sets the progress reporter
func (orchestrator *Orchestrator) SetReporter(reporter report.ProgressReporter) {
	orchestrator.reporter = reporter
}

// SetNotifier sets the notifier fired after a successful fetch
func (orchestrator *Orchestrator) SetNotifier(notifier Notifier) {
	orchestrator.notifier = notifier
}

// SetMetrics sets metrics
func (orchestrator *Orchestrator) SetMetrics(metrics *report.Metrics) {
	orchestrator.metrics = metrics
}

func (orchestrator *Orchestrator) getPollInterval() time.Duration {
	if orchestrator.config.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return orchestrator.config.PollInterval
}

func (orchestrator *Orchestrator) recordFetch(result string, bytes int64) {
	if orchestrator.metrics != nil {
		orchestrator.metrics.RecordFetch(result, bytes)
	}
}

// Fetch makes the path a local file.
// A path already local returns immediately without contacting the backing store.
func (orchestrator *Orchestrator) Fetch(ctx context.Context, p string) error {
	logger := log.WithFields(log.Fields{
		"package":  "fetch",
		"struct":   "Orchestrator",
		"function": "Fetch",
	})

	defer utils.StackTraceFromPanic(logger)

	absPath, err := filepath.Abs(p)
	if err != nil {
		return xerrors.Errorf("failed to get absolute path of %s: %w", p, err)
	}

	job, err := orchestrator.prepare(ctx, absPath)
	if err != nil {
		orchestrator.recordFetch(report.ResultFailure, 0)
		return err
	}

	if job == nil {
		orchestrator.recordFetch(report.ResultNoop, 0)
		return nil
	}

	err = orchestrator.run(ctx, job)
	if err != nil {
		orchestrator.recordFetch(report.ResultFailure, 0)
		return err
	}

	err = orchestrator.linkAlias(absPath, job.Link)
	if err != nil {
		logger.WithError(err).Warnf("failed to repoint alias link %s", absPath)
	}

	logger.Infof("Fetched %s (%s in %d file(s), job %s, %s)", job.Link, humanize.IBytes(uint64(job.TotalBytes)), len(job.Files), job.ID, time.Since(job.StartTime).Round(time.Millisecond))
	orchestrator.recordFetch(report.ResultSuccess, job.TotalBytes)

	if orchestrator.notifier != nil {
		orchestrator.notifier.Fire("fetch")
	}
	return nil
}

// prepare classifies the path and resolves the job. Returns nil job for a local path.
func (orchestrator *Orchestrator) prepare(ctx context.Context, p string) (*DownloadJob, error) {
	logger := log.WithFields(log.Fields{
		"package":  "fetch",
		"struct":   "Orchestrator",
		"function": "prepare",
	})

	classification, err := orchestrator.catalog.Classify(ctx, p)
	if err != nil {
		return nil, xerrors.Errorf("failed to classify %s: %w", p, err)
	}

	switch classification.State {
	case types.PresenceLocal:
		logger.Debugf("%s is already local", p)
		return nil, nil
	case types.PresenceOrphaned:
		return nil, types.NewAssetRemovedError(p)
	}

	link, backingPath, err := orchestrator.catalog.ResolveAliasChain(p)
	if err != nil {
		return nil, xerrors.Errorf("failed to resolve alias chain of %s: %w", p, err)
	}

	link, cached, err := orchestrator.canonicalLink(link)
	if err != nil {
		return nil, err
	}

	if cached {
		// the alias link skips a file already cached under the source namespace
		logger.Debugf("%s is already local, relinking %s", link, p)
		err = orchestrator.linkAlias(p, link)
		if err != nil {
			return nil, xerrors.Errorf("failed to relink %s: %w", p, err)
		}
		return nil, nil
	}

	set, err := orchestrator.resolver.Resolve(ctx, orchestrator.client, backingPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.NewAssetRemovedError(p)
		}
		return nil, xerrors.Errorf("failed to resolve companions of %s: %w", backingPath, err)
	}

	job := NewDownloadJob(p, link, backingPath, set)

	destDir := filepath.Dir(link)
	backingDir := filepath.Dir(backingPath)
	for idx, member := range set {
		finalPath := link
		if idx > 0 {
			relPath, err := filepath.Rel(backingDir, member)
			if err != nil || relPath == ".." || strings.HasPrefix(relPath, "../") {
				return nil, xerrors.Errorf("companion %s is outside of entry directory %s", member, backingDir)
			}
			finalPath = filepath.Join(destDir, relPath)
		}

		job.Files = append(job.Files, &FileTransfer{
			SourcePath: member,
			TempPath:   finalPath + TempSuffix,
			FinalPath:  finalPath,
		})
	}

	logger.Debugf("Prepared %s", job.ToString())
	return job, nil
}

// canonicalLink returns the source namespace counterpart of a link found in an alias namespace.
// The bool is true when the counterpart is already a local file.
func (orchestrator *Orchestrator) canonicalLink(link string) (string, bool, error) {
	entry, err := orchestrator.catalog.Entry(link)
	if err != nil {
		return "", false, xerrors.Errorf("failed to get catalog entry of %s: %w", link, err)
	}

	if !orchestrator.catalog.IsAlias(entry.Namespace) {
		return link, false, nil
	}

	source := orchestrator.catalog.SourceNamespace(entry.Namespace)
	canonical := filepath.Join(orchestrator.catalog.NamespaceDir(source), entry.Filename)

	st, err := os.Lstat(canonical)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return canonical, false, nil
		}
		return "", false, xerrors.Errorf("failed to stat %s: %w", canonical, err)
	}

	return canonical, st.Mode().IsRegular(), nil
}

// linkAlias points an alias link at the materialized file in the source namespace
func (orchestrator *Orchestrator) linkAlias(requestPath string, materialized string) error {
	if requestPath == materialized {
		return nil
	}

	st, err := os.Lstat(requestPath)
	if err != nil {
		return xerrors.Errorf("failed to stat %s: %w", requestPath, err)
	}

	if st.Mode()&fs.ModeSymlink == 0 {
		return nil
	}

	if resolvesTo(requestPath, materialized) {
		return nil
	}

	target, err := filepath.Rel(filepath.Dir(requestPath), materialized)
	if err != nil {
		return xerrors.Errorf("failed to make link target for %s: %w", requestPath, err)
	}

	err = os.Remove(requestPath)
	if err != nil {
		return xerrors.Errorf("failed to remove link %s: %w", requestPath, err)
	}

	err = os.Symlink(target, requestPath)
	if err != nil {
		return xerrors.Errorf("failed to link %s to %s: %w", requestPath, target, err)
	}
	return nil
}

// resolvesTo checks the link chain of p ends at target
func resolvesTo(p string, target string) bool {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return false
	}

	resolvedTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		return false
	}
	return resolved == resolvedTarget
}

// run executes the job under the download lock
func (orchestrator *Orchestrator) run(ctx context.Context, job *DownloadJob) error {
	logger := log.WithFields(log.Fields{
		"package":  "fetch",
		"struct":   "Orchestrator",
		"function": "run",
	})

	err := orchestrator.lock.TryAcquire()
	if err != nil {
		return err
	}
	defer orchestrator.lock.Release()

	exists, err := orchestrator.client.Exists(ctx, job.BackingPath)
	if err != nil {
		return xerrors.Errorf("failed to check %s: %w", job.BackingPath, err)
	}

	if !exists {
		return types.NewAssetRemovedError(job.RequestPath)
	}

	err = orchestrator.admit(ctx, job)
	if err != nil {
		return err
	}

	orchestrator.sweep(job)

	for idx, file := range job.Files {
		err = os.MkdirAll(filepath.Dir(file.TempPath), 0755)
		if err == nil {
			err = orchestrator.transfer(ctx, file, fmt.Sprintf("Downloading %s (%d/%d)", filepath.Base(file.FinalPath), idx+1, len(job.Files)))
		}

		if err != nil {
			orchestrator.removeTemps(job)
			return types.NewDownloadFailedError(job.RequestPath, file.SourcePath, nil, err)
		}
	}

	materialized, err := orchestrator.commit(job)
	if err != nil {
		orchestrator.removeTemps(job)
		return types.NewDownloadFailedError(job.RequestPath, job.BackingPath, nil, err)
	}

	logger.Debugf("Committed %d file(s) of job %s", len(materialized), job.ID)
	return nil
}

// admit sizes every file and checks free space. Nothing is written.
func (orchestrator *Orchestrator) admit(ctx context.Context, job *DownloadJob) error {
	logger := log.WithFields(log.Fields{
		"package":  "fetch",
		"struct":   "Orchestrator",
		"function": "admit",
	})

	job.TotalBytes = 0
	for idx, file := range job.Files {
		size, err := orchestrator.client.Size(ctx, file.SourcePath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				if idx == 0 {
					return types.NewAssetRemovedError(job.RequestPath)
				}
				return types.NewCompanionMissingError(job.BackingPath, file.SourcePath)
			}
			return xerrors.Errorf("failed to get size of %s: %w", file.SourcePath, err)
		}

		file.Size = size
		job.TotalBytes += size
	}

	destDir := existingDir(filepath.Dir(job.Link))
	available, err := orchestrator.space.Available(destDir)
	if err != nil {
		return xerrors.Errorf("failed to get free space of %s: %w", destDir, err)
	}

	required := job.TotalBytes + orchestrator.config.SafetyMargin
	logger.Debugf("Job %s requires %d bytes (%d available)", job.ID, required, available)

	if required > available {
		return types.NewInsufficientSpaceError(job.RequestPath, required, available)
	}
	return nil
}

// existingDir returns the dir or its nearest existing parent
func existingDir(dirPath string) string {
	for {
		st, err := os.Stat(dirPath)
		if err == nil && st.IsDir() {
			return dirPath
		}

		parent := filepath.Dir(dirPath)
		if parent == dirPath {
			return dirPath
		}
		dirPath = parent
	}
}

// sweep removes leftover temp files of aborted fetches
func (orchestrator *Orchestrator) sweep(job *DownloadJob) {
	logger := log.WithFields(log.Fields{
		"package":  "fetch",
		"struct":   "Orchestrator",
		"function": "sweep",
	})

	dirs := map[string]bool{}
	for _, file := range job.Files {
		dirs[filepath.Dir(file.TempPath)] = true
	}

	for dir := range dirs {
		removed, err := SweepTempFiles(dir)
		if err != nil {
			logger.WithError(err).Warnf("failed to sweep temp files in %s", dir)
		}

		for _, p := range removed {
			logger.Infof("Removed leftover temp file %s", p)
		}
	}
}

// SweepTempFiles removes temp-suffixed files directly under the dir
func SweepTempFiles(dirPath string) ([]string, error) {
	dirEntries, err := os.ReadDir(dirPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, xerrors.Errorf("failed to read dir %s: %w", dirPath, err)
	}

	removed := []string{}
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), TempSuffix) {
			continue
		}

		p := filepath.Join(dirPath, dirEntry.Name())
		err = os.Remove(p)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, xerrors.Errorf("failed to remove %s: %w", p, err)
		}
		removed = append(removed, p)
	}
	return removed, nil
}

// transfer copies one file to its temp path while reporting progress
func (orchestrator *Orchestrator) transfer(ctx context.Context, file *FileTransfer, label string) error {
	logger := log.WithFields(log.Fields{
		"package":  "fetch",
		"struct":   "Orchestrator",
		"function": "transfer",
	})

	err := orchestrator.reporter.StartFile(label)
	if err != nil {
		logger.WithError(err).Debug("failed to report file start")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	pollCtx, stopPoll := context.WithCancel(groupCtx)
	defer stopPoll()

	group.Go(func() error {
		defer stopPoll()
		return orchestrator.client.Transfer(groupCtx, file.SourcePath, file.TempPath)
	})

	group.Go(func() error {
		pollProgress(pollCtx, orchestrator.reporter, file.TempPath, file.Size, orchestrator.getPollInterval())
		return nil
	})

	err = group.Wait()
	if err != nil {
		return xerrors.Errorf("failed to transfer %s: %w", file.SourcePath, err)
	}

	st, err := os.Stat(file.TempPath)
	if err != nil {
		return xerrors.Errorf("failed to stat %s: %w", file.TempPath, err)
	}

	if st.Size() != file.Size {
		return xerrors.Errorf("transferred %d bytes of %s, expected %d", st.Size(), file.SourcePath, file.Size)
	}

	file.Done = true

	err = orchestrator.reporter.DoneFile()
	if err != nil {
		logger.WithError(err).Debug("failed to report file done")
	}
	return nil
}

// committedFile remembers what a rename replaced so it can be put back.
// A replaced local copy is left as the new file.
type committedFile struct {
	file         *FileTransfer
	linkTarget   string
	replacedFile bool
}

// commit renames temp files into place, companions first and the primary last,
// so the presence link is replaced only when everything else is in place.
// A failed rename moves already committed files back and restores the links they replaced.
func (orchestrator *Orchestrator) commit(job *DownloadJob) ([]string, error) {
	primary := job.Files[0]
	st, err := os.Lstat(primary.FinalPath)
	if err == nil && st.Mode()&fs.ModeSymlink == 0 {
		return nil, xerrors.Errorf("presence link %s was replaced during fetch", primary.FinalPath)
	}

	committed := []committedFile{}
	for idx := len(job.Files) - 1; idx >= 0; idx-- {
		file := job.Files[idx]

		linkTarget := ""
		replacedFile := false
		st, err := os.Lstat(file.FinalPath)
		if err == nil && st.Mode().IsRegular() {
			replacedFile = true
		}
		if err == nil && st.Mode()&fs.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(file.FinalPath)
			if err != nil {
				orchestrator.rollback(committed)
				return nil, xerrors.Errorf("failed to read link %s: %w", file.FinalPath, err)
			}
		}

		err = orchestrator.rename(file.TempPath, file.FinalPath)
		if err != nil {
			orchestrator.rollback(committed)
			return nil, xerrors.Errorf("failed to rename %s to %s: %w", file.TempPath, file.FinalPath, err)
		}
		committed = append(committed, committedFile{file: file, linkTarget: linkTarget, replacedFile: replacedFile})
	}

	materialized := make([]string, 0, len(committed))
	for _, c := range committed {
		materialized = append(materialized, c.file.FinalPath)
	}
	return materialized, nil
}

// rollback undoes renames in reverse order
func (orchestrator *Orchestrator) rollback(committed []committedFile) {
	logger := log.WithFields(log.Fields{
		"package":  "fetch",
		"struct":   "Orchestrator",
		"function": "rollback",
	})

	for idx := len(committed) - 1; idx >= 0; idx-- {
		c := committed[idx]
		if c.replacedFile {
			continue
		}

		err := os.Rename(c.file.FinalPath, c.file.TempPath)
		if err != nil {
			logger.WithError(err).Errorf("failed to move %s back to %s", c.file.FinalPath, c.file.TempPath)
			continue
		}

		if len(c.linkTarget) > 0 {
			err = os.Symlink(c.linkTarget, c.file.FinalPath)
			if err != nil {
				logger.WithError(err).Errorf("failed to restore link %s", c.file.FinalPath)
			}
		}
	}
}

func (orchestrator *Orchestrator) removeTemps(job *DownloadJob) {
	logger := log.WithFields(log.Fields{
		"package":  "fetch",
		"struct":   "Orchestrator",
		"function": "removeTemps",
	})

	for _, p := range job.GetTempPaths() {
		err := os.Remove(p)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.WithError(err).Warnf("failed to remove temp file %s", p)
		}
	}
}
