package hook

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Launcher starts a hook run
type Launcher interface {
	Launch(runner *Runner, reason string) error
	// IsDetached returns true if runs happen outside this process
	IsDetached() bool
}

// ProcessLauncher re-executes the binary in a new session so the run
// survives the caller being killed by its supervisor
type ProcessLauncher struct {
	executable string
	args       []string
	logPath    string
}

// NewProcessLauncher creates a new ProcessLauncher.
// The child runs "<executable> <args...> <reason>" with stdout and stderr appended to logPath.
func NewProcessLauncher(executable string, args []string, logPath string) *ProcessLauncher {
	return &ProcessLauncher{
		executable: executable,
		args:       args,
		logPath:    logPath,
	}
}

// IsDetached returns true
func (launcher *ProcessLauncher) IsDetached() bool {
	return true
}

// Launch starts the child and does not wait for it
func (launcher *ProcessLauncher) Launch(runner *Runner, reason string) error {
	logger := log.WithFields(log.Fields{
		"package":  "hook",
		"struct":   "ProcessLauncher",
		"function": "Launch",
	})

	var output *os.File
	if len(launcher.logPath) > 0 {
		err := os.MkdirAll(filepath.Dir(launcher.logPath), 0755)
		if err != nil {
			return xerrors.Errorf("failed to make hook log dir: %w", err)
		}

		output, err = os.OpenFile(launcher.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return xerrors.Errorf("failed to open hook log %s: %w", launcher.logPath, err)
		}
		defer output.Close()
	}

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return xerrors.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	args := append([]string{}, launcher.args...)
	args = append(args, reason)

	cmd := exec.Command(launcher.executable, args...)
	cmd.Stdin = devNull
	if output != nil {
		cmd.Stdout = output
		cmd.Stderr = output
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	err = cmd.Start()
	if err != nil {
		return xerrors.Errorf("failed to start hook process %s: %w", launcher.executable, err)
	}

	logger.Debugf("Started hook process %d for %s", cmd.Process.Pid, reason)

	// the child is reparented once we exit; nobody waits for it here
	err = cmd.Process.Release()
	if err != nil {
		return xerrors.Errorf("failed to release hook process: %w", err)
	}
	return nil
}

// InlineLauncher runs hooks in a goroutine of this process
type InlineLauncher struct {
	waitGroup sync.WaitGroup
}

// NewInlineLauncher creates a new InlineLauncher
func NewInlineLauncher() *InlineLauncher {
	return &InlineLauncher{}
}

// IsDetached returns false
func (launcher *InlineLauncher) IsDetached() bool {
	return false
}

// Launch starts a goroutine running all hooks
func (launcher *InlineLauncher) Launch(runner *Runner, reason string) error {
	logger := log.WithFields(log.Fields{
		"package":  "hook",
		"struct":   "InlineLauncher",
		"function": "Launch",
	})

	launcher.waitGroup.Add(1)
	go func() {
		defer launcher.waitGroup.Done()

		err := runner.RunAll(context.Background(), reason)
		if err != nil {
			logger.WithError(err).Errorf("post-mutation hooks failed for %s", reason)
		}
	}()
	return nil
}

// Wait waits for launched runs to finish
func (launcher *InlineLauncher) Wait() {
	launcher.waitGroup.Wait()
}
