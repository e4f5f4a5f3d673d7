package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"setup-wsl/internal/config"
	"setup-wsl/internal/logger"
	"setup-wsl/internal/provision"
	"setup-wsl/internal/runner"
	"setup-wsl/internal/state"
)

// DefaultLogDir is where the log file and the run record go unless
// --log-dir says otherwise.
const DefaultLogDir = "/var/log/setup-wsl"

// options holds the values of the command-line flags.
type options struct {
	manifestPath string
	logDir       string
	statePath    string
	timeout      time.Duration
	debug        bool
}

// exitCode carries a non-zero process exit code out of RunE. It is not
// printed; the run has already logged why it failed.
type exitCode int

func (c exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(c))
}

// NewRootCmd builds the `setup-wsl` command.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "setup-wsl [flags] <username>",
		Short: "Provision an XFCE desktop over xRDP inside WSL",
		Long: `setup-wsl configures a WSL distribution for remote desktop access:
it writes the WSL boot and xRDP configuration, sets up the user's XFCE
session and keyboard layout, installs the desktop and tool packages and
the GPU compute stack matching the detected hardware.

It must run as root. Every step is safe to repeat, so a failed run is
fixed by running it again.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.manifestPath, "manifest", "m", "", "Path to a provisioning manifest (default: built-in)")
	flags.StringVar(&opts.logDir, "log-dir", DefaultLogDir, "Directory for the log file and run record; empty disables both")
	flags.StringVar(&opts.statePath, "state", "", "Path of the run record (default: <log-dir>/last-run.json)")
	flags.DurationVar(&opts.timeout, "timeout", runner.DefaultTimeout, "Timeout for each command")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	return cmd
}

// Execute runs the CLI and returns the process exit code. SIGINT and
// SIGTERM cancel the command in flight.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
	fmt.Fprintln(os.Stderr, "Usage: setup-wsl [flags] <username>")
	return 1
}

func run(cmd *cobra.Command, opts *options, username string) error {
	log := logger.New(logger.WithConsole(cmd.OutOrStdout()), logger.WithDebug(opts.debug))
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("Failed to close log file: %v", err))
		}
	}()

	m, err := config.Load(opts.manifestPath)
	if err != nil {
		log.Error("%v", err)
		return exitCode(1)
	}

	// Without privilege VALIDATE_PRIVILEGE aborts the run before any
	// command is issued, so the runner is built unelevated.
	priv, privErr := runner.AcquirePrivilege()
	runnerOpts := []runner.Option{runner.WithDefaultTimeout(opts.timeout)}
	if privErr == nil {
		runnerOpts = append(runnerOpts, runner.WithPrivilege(priv))
		if opts.logDir != "" {
			if path, err := log.OpenFile(opts.logDir); err != nil {
				log.Warn("Logging to console only: %v", err)
			} else {
				log.Info("Log file: %s", path)
			}
		}
	}

	statePath := opts.statePath
	if statePath == "" && opts.logDir != "" {
		statePath = filepath.Join(opts.logDir, "last-run.json")
	}
	if statePath != "" {
		if prev, err := state.Load(statePath); err != nil {
			log.Warn("Ignoring previous run record: %v", err)
		} else if prev != nil {
			log.Info("Previous run for %s finished %s with exit code %d", prev.User, prev.FinishedAt.Local().Format(logger.TimeFormat), prev.ExitCode)
		}
	}

	seq := provision.New(runner.New(log, runnerOpts...), log, m,
		provision.WithPrivilegeCheck(func() error { return privErr }),
		provision.WithStatePath(statePath),
	)
	if code := seq.Run(cmd.Context(), username); code != 0 {
		return exitCode(code)
	}
	return nil
}
