package hook

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

const (
	// ReasonEnvKey is the environment variable carrying the trigger of a hook run
	ReasonEnvKey string = "ROMCACHE_HOOK_REASON"
	// DefaultHookTimeout is the timeout of a command hook without an explicit one
	DefaultHookTimeout time.Duration = 5 * time.Minute
)

// Hook is an idempotent action run after the library changes
type Hook interface {
	GetName() string
	Run(ctx context.Context) error
}

// CommandHook runs an external command
type CommandHook struct {
	name    string
	command []string
	timeout time.Duration
}

// NewCommandHook creates a new CommandHook
func NewCommandHook(name string, command []string, timeout time.Duration) (*CommandHook, error) {
	if len(name) == 0 {
		return nil, xerrors.Errorf("hook name is empty")
	}

	if len(command) == 0 || len(command[0]) == 0 {
		return nil, xerrors.Errorf("hook %s has no command", name)
	}

	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}

	return &CommandHook{
		name:    name,
		command: command,
		timeout: timeout,
	}, nil
}

// GetName returns the hook name
func (hook *CommandHook) GetName() string {
	return hook.name
}

// GetCommand returns the command line
func (hook *CommandHook) GetCommand() []string {
	return hook.command
}

// Run runs the command, failing on non-zero exit or timeout
func (hook *CommandHook) Run(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, hook.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, hook.command[0], hook.command[1:]...)
	cmd.Env = os.Environ()
	if reason, ok := ctx.Value(reasonKey{}).(string); ok {
		cmd.Env = append(cmd.Env, ReasonEnvKey+"="+reason)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return xerrors.Errorf("hook %s timed out after %s: %w", hook.name, hook.timeout, err)
		}
		return xerrors.Errorf("hook %s failed (%s): %w", hook.name, strings.TrimSpace(string(output)), err)
	}
	return nil
}

// FuncHook runs a function
type FuncHook struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncHook creates a new FuncHook
func NewFuncHook(name string, fn func(ctx context.Context) error) *FuncHook {
	return &FuncHook{
		name: name,
		fn:   fn,
	}
}

// GetName returns the hook name
func (hook *FuncHook) GetName() string {
	return hook.name
}

// Run calls the function
func (hook *FuncHook) Run(ctx context.Context) error {
	return hook.fn(ctx)
}

type reasonKey struct{}

// WithReason returns a context carrying the trigger of a hook run
func WithReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, reasonKey{}, reason)
}
