package hook

import (
	"context"
	"sync"
	"time"

	"github.com/deckdock/romcache/report"
	"github.com/deckdock/romcache/utils"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Runner holds registered hooks and fires them after fetch and eviction
type Runner struct {
	hooks    []Hook
	launcher Launcher
	metrics  *report.Metrics
	mutex    sync.Mutex
}

// NewRunner creates a new Runner. Fire uses the launcher to start a run.
func NewRunner(launcher Launcher) *Runner {
	if launcher == nil {
		launcher = NewInlineLauncher()
	}

	return &Runner{
		hooks:    []Hook{},
		launcher: launcher,
	}
}

// SetMetrics sets metrics to record hook runs to
func (runner *Runner) SetMetrics(metrics *report.Metrics) {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()

	runner.metrics = metrics
}

// Register adds a hook. Hooks run in registration order.
func (runner *Runner) Register(hook Hook) {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()

	runner.hooks = append(runner.hooks, hook)
}

// GetHooks returns registered hooks
func (runner *Runner) GetHooks() []Hook {
	runner.mutex.Lock()
	defer runner.mutex.Unlock()

	hooks := make([]Hook, len(runner.hooks))
	copy(hooks, runner.hooks)
	return hooks
}

// GetLauncher returns the launcher
func (runner *Runner) GetLauncher() Launcher {
	return runner.launcher
}

// Fire starts a hook run in the background. Failures are logged, never returned.
func (runner *Runner) Fire(reason string) {
	logger := log.WithFields(log.Fields{
		"package":  "hook",
		"struct":   "Runner",
		"function": "Fire",
	})

	if len(runner.GetHooks()) == 0 {
		logger.Debugf("No hooks registered, skipping run for %s", reason)
		return
	}

	err := runner.launcher.Launch(runner, reason)
	if err != nil {
		logger.WithError(err).Errorf("failed to launch post-mutation hooks for %s", reason)
		return
	}

	logger.Debugf("Launched %d hook(s) for %s (detached %t)", len(runner.GetHooks()), reason, runner.launcher.IsDetached())
}

// RunAll runs every hook in order. A failing hook does not stop later ones.
func (runner *Runner) RunAll(ctx context.Context, reason string) error {
	logger := log.WithFields(log.Fields{
		"package":  "hook",
		"struct":   "Runner",
		"function": "RunAll",
	})

	defer utils.StackTraceFromPanic(logger)

	runID := xid.New().String()
	ctx = WithReason(ctx, reason)

	failed := []string{}
	for _, hook := range runner.GetHooks() {
		hookLogger := logger.WithFields(log.Fields{
			"run":  runID,
			"hook": hook.GetName(),
		})

		startTime := time.Now()
		err := hook.Run(ctx)
		result := report.ResultSuccess
		if err != nil {
			result = report.ResultFailure
			failed = append(failed, hook.GetName())
			hookLogger.WithError(err).Errorf("hook failed after %s", time.Since(startTime))
		} else {
			hookLogger.Infof("hook done in %s", time.Since(startTime))
		}

		runner.mutex.Lock()
		metrics := runner.metrics
		runner.mutex.Unlock()
		if metrics != nil {
			metrics.RecordHookRun(hook.GetName(), result)
		}
	}

	if len(failed) > 0 {
		return xerrors.Errorf("%d hook(s) failed: %v", len(failed), failed)
	}
	return nil
}
