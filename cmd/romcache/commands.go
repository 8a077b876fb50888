package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"

	"github.com/deckdock/romcache/config"
	"github.com/deckdock/romcache/evict"
	"github.com/deckdock/romcache/hook"
	"github.com/deckdock/romcache/types"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

const (
	romPlaceholder string = "%ROM%"
	runHooksName   string = "run-hooks"
)

// commonOptions are accepted by every command
type commonOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func (options *commonOptions) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&options.configPath, "config", "c", "", "config file path (default $XDG_CONFIG_HOME/romcache/config.yaml)")
	flagSet.StringVar(&options.envFile, "env-file", "", "DeckDock config.env to import NAS settings from")
	flagSet.StringVar(&options.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
}

func (options *commonOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(options.configPath)
	if err != nil {
		return nil, err
	}

	if len(options.envFile) > 0 {
		err = cfg.ImportEnvFile(options.envFile)
		if err != nil {
			return nil, err
		}
	}

	if len(options.logLevel) > 0 {
		cfg.LogLevel = options.logLevel
	}

	err = cfg.ConfigureLogging()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// hookLauncherArgs returns args re-executing this binary as the hook runner
func (options *commonOptions) hookLauncherArgs() []string {
	args := []string{runHooksName}
	if len(options.configPath) > 0 {
		args = append(args, "--config", options.configPath)
	}
	if len(options.envFile) > 0 {
		args = append(args, "--env-file", options.envFile)
	}
	return args
}

func (options *commonOptions) newRuntime(ctx context.Context) (*config.Runtime, error) {
	cfg, err := options.loadConfig()
	if err != nil {
		return nil, err
	}

	var launcher hook.Launcher
	if cfg.Hooks.Detach {
		executable, err := os.Executable()
		if err != nil {
			return nil, xerrors.Errorf("failed to get executable path: %w", err)
		}
		launcher = hook.NewProcessLauncher(executable, options.hookLauncherArgs(), cfg.Hooks.LogFile)
	} else {
		launcher = hook.NewInlineLauncher()
	}

	return config.NewRuntime(ctx, cfg, launcher)
}

// waitHooks waits for in-process hook runs before exiting
func waitHooks(runtime *config.Runtime) {
	if inline, ok := runtime.Runner.GetLauncher().(*hook.InlineLauncher); ok {
		inline.Wait()
	}
}

func rootCommand(ctx context.Context) *Command {
	return &Command{
		Name:    "romcache",
		Summary: "Fetch and evict ROMs between the local library and the backing store",
		Subcommands: []*Command{
			fetchCommand(ctx),
			launchCommand(ctx),
			statusCommand(ctx),
			scanCommand(ctx),
			evictCommand(ctx),
			runHooksCommand(ctx),
		},
	}
}

func fetchCommand(ctx context.Context) *Command {
	options := &commonOptions{}

	return &Command{
		Name:    "fetch",
		Summary: "Download an entry and its companions if it is not cached",
		Usage:   "romcache fetch [flags] <path>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
			options.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string, extra []string) error {
			if len(args) != 1 {
				return fmt.Errorf("fetch takes exactly one path")
			}

			runtime, err := options.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer runtime.Release()
			defer waitHooks(runtime)

			return runtime.Orchestrator.Fetch(ctx, args[0])
		},
	}
}

func launchCommand(ctx context.Context) *Command {
	options := &commonOptions{}

	return &Command{
		Name:    "launch",
		Summary: "Fetch an entry, then replace this process with the emulator",
		Usage:   "romcache launch [flags] <path> -- <command> [args...]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("launch", pflag.ContinueOnError)
			options.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string, extra []string) error {
			if len(args) != 1 || len(extra) == 0 {
				return fmt.Errorf("launch takes a path and a command after --")
			}

			runtime, err := options.newRuntime(ctx)
			if err != nil {
				return err
			}

			err = runtime.Orchestrator.Fetch(ctx, args[0])
			waitHooks(runtime)
			runtime.Release()
			if err != nil {
				return err
			}

			argv := buildLaunchArgs(extra, args[0])
			binary, err := exec.LookPath(argv[0])
			if err != nil {
				return xerrors.Errorf("failed to find %s: %w", argv[0], err)
			}

			log.Debugf("Launching %v", argv)
			err = unix.Exec(binary, argv, os.Environ())
			return xerrors.Errorf("failed to exec %s: %w", binary, err)
		},
	}
}

// buildLaunchArgs substitutes the ROM path for %ROM%, or appends it when absent
func buildLaunchArgs(command []string, romPath string) []string {
	argv := make([]string, 0, len(command)+1)
	substituted := false
	for _, arg := range command {
		if strings.Contains(arg, romPlaceholder) {
			arg = strings.ReplaceAll(arg, romPlaceholder, romPath)
			substituted = true
		}
		argv = append(argv, arg)
	}

	if !substituted {
		argv = append(argv, romPath)
	}
	return argv
}

func statusCommand(ctx context.Context) *Command {
	options := &commonOptions{}

	return &Command{
		Name:    "status",
		Summary: "Show presence state of paths",
		Usage:   "romcache status [flags] <path>...",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			options.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string, extra []string) error {
			if len(args) == 0 {
				return fmt.Errorf("status takes at least one path")
			}

			runtime, err := options.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer runtime.Release()

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			defer tw.Flush()

			var lastErr error
			for _, p := range args {
				classification, err := runtime.Catalog.Classify(ctx, p)
				if err != nil {
					fmt.Fprintf(tw, "error\t%s\t%s\n", p, userMessage(err))
					lastErr = err
					continue
				}

				if len(classification.BackingPath) > 0 {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", classification.State, p, classification.BackingPath)
				} else {
					fmt.Fprintf(tw, "%s\t%s\t\n", classification.State, p)
				}
			}
			return lastErr
		},
	}
}

func scanCommand(ctx context.Context) *Command {
	options := &commonOptions{}
	jsonOutput := false

	return &Command{
		Name:    "scan",
		Summary: "List cached entries that can be evicted",
		Usage:   "romcache scan [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("scan", pflag.ContinueOnError)
			options.addFlags(flagSet)
			flagSet.BoolVar(&jsonOutput, "json", false, "print candidates as JSON")
			return flagSet
		},
		Run: func(args []string, extra []string) error {
			runtime, err := options.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer runtime.Release()

			candidates, err := runtime.Evictor.Scan(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(candidates)
			}

			printCandidates(candidates)
			return nil
		},
	}
}

func printCandidates(candidates []evict.CacheCandidate) {
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
	defer tw.Flush()

	var total int64
	for _, candidate := range candidates {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", humanize.IBytes(uint64(candidate.Size)), candidate.Namespace, candidate.RelPath)
		total += candidate.Size
	}
	fmt.Fprintf(tw, "%s\ttotal\t%d entries\n", humanize.IBytes(uint64(total)), len(candidates))
}

func evictCommand(ctx context.Context) *Command {
	options := &commonOptions{}
	all := false

	return &Command{
		Name:    "evict",
		Summary: "Delete cached entries and restore their links",
		Usage:   "romcache evict [flags] (--all | <path>...)",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("evict", pflag.ContinueOnError)
			options.addFlags(flagSet)
			flagSet.BoolVar(&all, "all", false, "evict every candidate")
			return flagSet
		},
		Run: func(args []string, extra []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("evict takes paths or --all")
			}

			runtime, err := options.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer runtime.Release()
			defer waitHooks(runtime)

			candidates, err := runtime.Evictor.Scan(ctx)
			if err != nil {
				return err
			}

			selection := candidates
			if !all {
				selection, err = runtime.Evictor.Select(candidates, args)
				if err != nil {
					return err
				}
			}

			result := runtime.Evictor.Evict(ctx, selection)
			for _, failure := range result.Failed {
				fmt.Fprintf(os.Stderr, "failed: %s: %v\n", failure.Candidate.Path, failure.Err)
			}
			fmt.Fprintf(os.Stdout, "Evicted %d of %d, freed %s\n", len(result.Evicted), result.GetTotal(), humanize.IBytes(uint64(result.FreedBytes)))
			return result.Err()
		},
	}
}

func runHooksCommand(ctx context.Context) *Command {
	options := &commonOptions{}

	return &Command{
		Name:    runHooksName,
		Summary: "Run post-mutation hooks in the foreground",
		Usage:   "romcache run-hooks [flags] [reason]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(runHooksName, pflag.ContinueOnError)
			options.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string, extra []string) error {
			reason := "manual"
			if len(args) > 0 {
				reason = args[0]
			}

			cfg, err := options.loadConfig()
			if err != nil {
				return err
			}

			runner, err := cfg.BuildRunner(hook.NewInlineLauncher())
			if err != nil {
				return err
			}

			log.Infof("Running %d hook(s) for %s", len(runner.GetHooks()), reason)
			return runner.RunAll(ctx, reason)
		},
	}
}

// describeError prints the error for the user and returns the exit code
func describeError(err error) int {
	code := exitCodeOf(err)
	if code == ExitOK {
		return code
	}

	log.WithError(err).Debug("command failed")
	fmt.Fprintln(os.Stderr, userMessage(err))
	if code == ExitOther || types.IsDownloadFailedError(err) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return code
}
