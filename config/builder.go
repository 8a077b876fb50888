package config

import (
	"context"
	"os"

	"github.com/deckdock/romcache/catalog"
	"github.com/deckdock/romcache/evict"
	"github.com/deckdock/romcache/fetch"
	"github.com/deckdock/romcache/hook"
	"github.com/deckdock/romcache/lock"
	"github.com/deckdock/romcache/remote"
	"github.com/deckdock/romcache/report"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// BuildClient creates the backing store client selected by the backend type
func (config *Config) BuildClient(ctx context.Context) (remote.Client, error) {
	switch config.Backend.Type {
	case BackendMount, "":
		return remote.NewMountClient(config.MountRoot), nil
	case BackendSSH:
		return remote.NewSSHClient(config.Backend.SSH, config.MountRoot)
	case BackendIRODS:
		return remote.NewIRODSClient(config.Backend.IRODS, config.MountRoot)
	case BackendS3:
		return remote.NewS3Client(ctx, config.Backend.S3, config.MountRoot)
	default:
		return nil, xerrors.Errorf("unknown backend type %q", config.Backend.Type)
	}
}

// BuildReporter creates the progress reporter for the progress mode
func (config *Config) BuildReporter() report.ProgressReporter {
	switch config.Progress.Mode {
	case ProgressDialog:
		return report.NewDialogReporter(config.Progress.DialogCommand, true)
	case ProgressLog:
		return report.NewLogReporter(10)
	case ProgressNone:
		return report.NewNilReporter()
	default:
		return report.NewTerminalReporter(os.Stderr)
	}
}

// BuildRunner creates a hook runner with the configured actions
func (config *Config) BuildRunner(launcher hook.Launcher) (*hook.Runner, error) {
	runner := hook.NewRunner(launcher)
	for _, action := range config.Hooks.Actions {
		commandHook, err := hook.NewCommandHook(action.Name, action.Command, action.Timeout)
		if err != nil {
			return nil, xerrors.Errorf("failed to make hook %s: %w", action.Name, err)
		}
		runner.Register(commandHook)
	}
	return runner, nil
}

// Runtime holds the components built from Config
type Runtime struct {
	Config       *Config
	Client       remote.Client
	Catalog      *catalog.Catalog
	Listing      *remote.ListingCache
	Orchestrator *fetch.Orchestrator
	Evictor      *evict.Evictor
	Runner       *hook.Runner
	Reporter     report.ProgressReporter
	Metrics      *report.Metrics
}

// NewRuntime builds every component. The launcher decides how hooks are run.
func NewRuntime(ctx context.Context, config *Config, launcher hook.Launcher) (*Runtime, error) {
	err := config.Validate()
	if err != nil {
		return nil, xerrors.Errorf("invalid config: %w", err)
	}

	safetyMargin, err := config.GetSafetyMargin()
	if err != nil {
		return nil, err
	}

	client, err := config.BuildClient(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to make backing store client: %w", err)
	}

	cat, err := catalog.NewCatalog(config.GetCatalogConfig(), client)
	if err != nil {
		client.Release()
		return nil, xerrors.Errorf("failed to make catalog: %w", err)
	}

	listing, err := remote.NewListingCache(client, config.ListingCacheSize)
	if err != nil {
		client.Release()
		return nil, xerrors.Errorf("failed to make listing cache: %w", err)
	}

	runner, err := config.BuildRunner(launcher)
	if err != nil {
		client.Release()
		return nil, err
	}

	metrics := report.NewMetrics()
	runner.SetMetrics(metrics)

	reporter := config.BuildReporter()

	orchestrator := fetch.NewOrchestrator(&fetch.Config{
		SafetyMargin: safetyMargin,
		PollInterval: config.PollInterval,
	}, cat, lock.NewDownloadLock(config.LockFile))
	orchestrator.SetReporter(reporter)
	orchestrator.SetNotifier(runner)
	orchestrator.SetMetrics(metrics)

	evictor := evict.NewEvictor(cat, listing, 0)
	evictor.SetNotifier(runner)
	evictor.SetMetrics(metrics)

	return &Runtime{
		Config:       config,
		Client:       client,
		Catalog:      cat,
		Listing:      listing,
		Orchestrator: orchestrator,
		Evictor:      evictor,
		Runner:       runner,
		Reporter:     reporter,
		Metrics:      metrics,
	}, nil
}

// Release releases resources and writes metrics when configured
func (runtime *Runtime) Release() {
	logger := log.WithFields(log.Fields{
		"package":  "config",
		"struct":   "Runtime",
		"function": "Release",
	})

	if len(runtime.Config.MetricsFile) > 0 {
		err := runtime.Metrics.WriteToTextfile(runtime.Config.MetricsFile)
		if err != nil {
			logger.WithError(err).Warn("failed to write metrics")
		}
	}

	runtime.Reporter.Release()
	runtime.Client.Release()
}
