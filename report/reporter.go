package report

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/deckdock/romcache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	terminalBarWidth int = 40
)

func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// TerminalReporter draws a progress bar on a terminal
type TerminalReporter struct {
	output      io.Writer
	bar         progress.Model
	label       string
	lastPercent int
	mutex       sync.Mutex
}

// NewTerminalReporter creates a new TerminalReporter writing to output
func NewTerminalReporter(output io.Writer) ProgressReporter {
	return &TerminalReporter{
		output:      output,
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithWidth(terminalBarWidth)),
		lastPercent: -1,
	}
}

// Release releases resources used
func (reporter *TerminalReporter) Release() {
}

// StartFile starts a new bar
func (reporter *TerminalReporter) StartFile(label string) error {
	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	reporter.label = label
	reporter.lastPercent = -1
	return reporter.draw(0)
}

// Progress redraws the bar when the percentage changes
func (reporter *TerminalReporter) Progress(percent int) error {
	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	percent = clampPercent(percent)
	if percent == reporter.lastPercent {
		return nil
	}
	return reporter.draw(percent)
}

// DoneFile completes the bar
func (reporter *TerminalReporter) DoneFile() error {
	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	err := reporter.draw(100)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(reporter.output)
	if err != nil {
		return xerrors.Errorf("failed to write progress: %w", err)
	}
	return nil
}

func (reporter *TerminalReporter) draw(percent int) error {
	reporter.lastPercent = percent
	_, err := fmt.Fprintf(reporter.output, "\r%s %s", reporter.label, reporter.bar.ViewAs(float64(percent)/100))
	if err != nil {
		return xerrors.Errorf("failed to write progress: %w", err)
	}
	return nil
}

// LogReporter writes progress to the log
type LogReporter struct {
	label       string
	lastPercent int
	step        int
}

// NewLogReporter creates a new LogReporter logging every step percent
func NewLogReporter(step int) ProgressReporter {
	if step <= 0 {
		step = 10
	}

	return &LogReporter{
		step: step,
	}
}

// Release releases resources used
func (reporter *LogReporter) Release() {
}

// StartFile logs the label
func (reporter *LogReporter) StartFile(label string) error {
	reporter.label = label
	reporter.lastPercent = 0
	log.Info(label)
	return nil
}

// Progress logs progress at step boundaries
func (reporter *LogReporter) Progress(percent int) error {
	percent = clampPercent(percent)
	if percent-reporter.lastPercent < reporter.step {
		return nil
	}

	reporter.lastPercent = percent
	log.Infof("%s: %d%%", reporter.label, percent)
	return nil
}

// DoneFile logs completion
func (reporter *LogReporter) DoneFile() error {
	log.Infof("%s: done", reporter.label)
	return nil
}

// DialogReporter feeds a dialog process speaking the zenity --progress protocol:
// lines starting with '#' set the label, bare numbers set the percentage.
type DialogReporter struct {
	command     []string
	ignoreError bool
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	failed      bool
	mutex       sync.Mutex
}

// NewDialogReporter creates a new DialogReporter.
// The dialog process is started on the first file.
func NewDialogReporter(command []string, ignoreError bool) ProgressReporter {
	return &DialogReporter{
		command:     command,
		ignoreError: ignoreError,
	}
}

// Release closes the dialog
func (reporter *DialogReporter) Release() {
	logger := log.WithFields(log.Fields{
		"package":  "report",
		"struct":   "DialogReporter",
		"function": "Release",
	})

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	if reporter.stdin != nil {
		reporter.stdin.Close()
		reporter.stdin = nil
	}

	if reporter.cmd != nil {
		err := reporter.cmd.Wait()
		if err != nil {
			logger.WithError(err).Debug("dialog exited with error")
		}
		reporter.cmd = nil
	}
}

func (reporter *DialogReporter) start() error {
	if reporter.cmd != nil {
		return nil
	}

	if len(reporter.command) == 0 {
		return xerrors.Errorf("dialog command is empty")
	}

	cmd := exec.Command(reporter.command[0], reporter.command[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return xerrors.Errorf("failed to make stdin pipe for dialog: %w", err)
	}

	err = cmd.Start()
	if err != nil {
		stdin.Close()
		return xerrors.Errorf("failed to start dialog %s: %w", reporter.command[0], err)
	}

	reporter.cmd = cmd
	reporter.stdin = stdin
	return nil
}

func (reporter *DialogReporter) send(line string) error {
	logger := log.WithFields(log.Fields{
		"package":  "report",
		"struct":   "DialogReporter",
		"function": "send",
	})

	defer utils.StackTraceFromPanic(logger)

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	if reporter.failed {
		if reporter.ignoreError {
			return nil
		}
		return xerrors.Errorf("dialog has failed earlier")
	}

	err := reporter.start()
	if err == nil {
		_, err = io.WriteString(reporter.stdin, line+"\n")
	}

	if err != nil {
		// the user may close the dialog at any time
		logger.WithError(err).Warn("failed to update progress dialog")
		reporter.failed = true
		if reporter.ignoreError {
			return nil
		}
		return xerrors.Errorf("failed to update progress dialog: %w", err)
	}
	return nil
}

// StartFile sets the dialog label and resets the percentage
func (reporter *DialogReporter) StartFile(label string) error {
	err := reporter.send("# " + label)
	if err != nil {
		return err
	}
	return reporter.send("0")
}

// Progress sets the dialog percentage
func (reporter *DialogReporter) Progress(percent int) error {
	return reporter.send(fmt.Sprintf("%d", clampPercent(percent)))
}

// DoneFile sets the dialog to 100%
func (reporter *DialogReporter) DoneFile() error {
	return reporter.send("100")
}
