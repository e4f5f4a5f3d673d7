// Package runnertest provides a scripted runner.Runner for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"setup-wsl/internal/runner"
)

type rule struct {
	prefix string
	result runner.Result
	err    error
}

// Fake answers commands from a list of prefix rules and records every call.
// A command matches a rule when its unelevated command line starts with the
// rule's prefix. Rules added later take precedence. Unmatched commands
// succeed with empty output.
type Fake struct {
	mu    sync.Mutex
	rules []rule
	calls []runner.Command
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{}
}

// Stdout makes commands matching prefix succeed with the given output.
func (f *Fake) Stdout(prefix, stdout string) *Fake {
	return f.add(rule{prefix: prefix, result: runner.Result{Stdout: stdout}})
}

// Fail makes commands matching prefix exit with code and stderr.
func (f *Fake) Fail(prefix string, code int, stderr string) *Fake {
	return f.add(rule{prefix: prefix, result: runner.Result{ExitCode: code, Stderr: stderr}})
}

// Error makes commands matching prefix return err, as a timeout would.
func (f *Fake) Error(prefix string, err error) *Fake {
	return f.add(rule{prefix: prefix, result: runner.Result{ExitCode: -1}, err: err})
}

func (f *Fake) add(r rule) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, r)
	return f
}

// Run implements runner.Runner.
func (f *Fake) Run(_ context.Context, cmd runner.Command) (runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, cmd)
	line := cmd.String()

	res := runner.Result{}
	var err error
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, f.rules[i].prefix) {
			res, err = f.rules[i].result, f.rules[i].err
			break
		}
	}
	res.Command = line
	if cmd.Elevate {
		res.Command = "sudo " + line
	}
	if err != nil {
		return res, &runner.CommandError{Result: res, Err: err}
	}
	return res, runner.CheckResult(cmd, res)
}

// Calls returns every command received so far.
func (f *Fake) Calls() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Command(nil), f.calls...)
}

// Lines returns the unelevated command line of every call.
func (f *Fake) Lines() []string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}

// Ran reports whether any call's command line starts with prefix.
func (f *Fake) Ran(prefix string) bool {
	for _, line := range f.Lines() {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// Find returns the first call whose command line starts with prefix.
func (f *Fake) Find(prefix string) (runner.Command, bool) {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c.String(), prefix) {
			return c, true
		}
	}
	return runner.Command{}, false
}
