// Package runner executes external commands for the provisioning steps.
//
// A command is either checked, where a non-zero exit is returned as an error
// the caller must treat as fatal, or unchecked, where the exit status is
// handed back in the Result for the caller to inspect. Elevated commands
// need a Privilege, which can only be obtained by a process that is already
// running as root.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout applies when neither the command nor the runner set one.
const DefaultTimeout = 30 * time.Minute

var (
	// ErrNonZeroExit is returned for a checked command that exited non-zero
	// or could not be started.
	ErrNonZeroExit = errors.New("command exited with non-zero status")

	// ErrTimeout is returned when a command outlives its timeout or its
	// context is cancelled. It is returned whether or not the command is
	// checked.
	ErrTimeout = errors.New("command timed out")

	// ErrNotPrivileged is returned for an elevated command on a runner
	// constructed without a Privilege, and by AcquirePrivilege when the
	// process is not root.
	ErrNotPrivileged = errors.New("elevated privilege required")
)

// Command describes one external command invocation.
type Command struct {
	Name    string
	Args    []string
	Elevate bool          // prefix with the privilege wrapper
	Check   bool          // non-zero exit is an error
	Stdin   string        // fed to the process when non-empty
	Env     []string      // appended to the inherited environment
	Timeout time.Duration // 0 uses the runner default
}

// String renders the command line without the privilege wrapper.
func (c Command) String() string {
	return JoinArgs(append([]string{c.Name}, c.Args...))
}

// Result is the outcome of a command. It is a value and is never modified
// after Run returns it.
type Result struct {
	Command  string // resolved command line, including any wrapper
	ExitCode int    // -1 when the process could not be started
	Stdout   string
	Stderr   string
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// CommandError carries the Result of a failed command alongside the error
// kind (ErrNonZeroExit, ErrTimeout or ErrNotPrivileged).
type CommandError struct {
	Result Result
	Err    error
}

func (e *CommandError) Error() string {
	if e.Result.ExitCode != 0 && errors.Is(e.Err, ErrNonZeroExit) {
		return fmt.Sprintf("%s: %v (exit code %d)", e.Result.Command, e.Err, e.Result.ExitCode)
	}
	return fmt.Sprintf("%s: %v", e.Result.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Runner runs a single command and blocks until it completes.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// CheckResult applies checked-mode semantics to a completed command: it
// returns a *CommandError for a checked command with a non-zero exit code
// and nil otherwise.
func CheckResult(cmd Command, res Result) error {
	if cmd.Check && !res.OK() {
		return &CommandError{Result: res, Err: ErrNonZeroExit}
	}
	return nil
}

// JoinArgs joins argv into a shell-readable line, quoting arguments that
// contain whitespace or shell metacharacters.
func JoinArgs(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = quoteArg(arg)
	}
	return strings.Join(quoted, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t\n\"'$;&|<>()*?`\\") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
