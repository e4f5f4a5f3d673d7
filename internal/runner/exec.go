package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"setup-wsl/internal/logger"
)

// waitDelay bounds how long Run waits for output pipes after the process
// has been killed on timeout.
const waitDelay = 5 * time.Second

// Exec runs commands with os/exec.
type Exec struct {
	log     *logger.Logger
	priv    *Privilege
	timeout time.Duration
}

// Option configures an Exec runner.
type Option func(*Exec)

// WithPrivilege allows the runner to execute elevated commands.
func WithPrivilege(p *Privilege) Option {
	return func(e *Exec) { e.priv = p }
}

// WithDefaultTimeout sets the timeout for commands that do not carry one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Exec) { e.timeout = d }
}

// New returns an Exec runner logging to log.
func New(log *logger.Logger, opts ...Option) *Exec {
	e := &Exec{log: log, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Elevated reports whether the runner holds a Privilege.
func (e *Exec) Elevated() bool {
	return e.priv != nil
}

// Run executes cmd and waits for it to finish or time out.
func (e *Exec) Run(ctx context.Context, cmd Command) (Result, error) {
	argv := append([]string{cmd.Name}, cmd.Args...)
	if cmd.Elevate {
		if e.priv == nil {
			res := Result{Command: JoinArgs(argv), ExitCode: -1}
			e.log.Error("Refusing to run %s: %v", res.Command, ErrNotPrivileged)
			return res, &CommandError{Result: res, Err: ErrNotPrivileged}
		}
		argv = e.priv.wrap(argv)
	}
	line := JoinArgs(argv)

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	c.WaitDelay = waitDelay
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	e.log.Info("Running: %s", line)
	err := c.Run()

	res := Result{
		Command: line,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		res.ExitCode = -1
		e.log.Error("Command timed out after %v: %s", timeout, line)
		return res, &CommandError{Result: res, Err: fmt.Errorf("%w: %w", ErrTimeout, ctxErr)}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// Not started: binary missing, permission denied and so on.
			res.ExitCode = -1
			if res.Stderr == "" {
				res.Stderr = err.Error()
			}
		}
	}
	e.log.Debug("Command completed with exit code %d: %s", res.ExitCode, line)

	if checkErr := CheckResult(cmd, res); checkErr != nil {
		e.log.Error("Command failed: %s", line)
		e.log.Error("   Exit code: %d", res.ExitCode)
		if s := strings.TrimSpace(res.Stderr); s != "" {
			e.log.Error("   Stderr: %s", s)
		}
		return res, checkErr
	}
	return res, nil
}
