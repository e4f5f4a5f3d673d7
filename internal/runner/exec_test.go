package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setup-wsl/internal/logger"
)

func TestExec_RunCapturesOutput(t *testing.T) {
	log := logger.Discard()
	r := New(log)

	res, err := r.Run(context.Background(), Command{Name: "echo", Args: []string{"hello"}, Check: true})

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "echo hello", res.Command)
	assert.True(t, log.Contains("Running: echo hello"))
}

func TestExec_UncheckedNonZeroIsReturned(t *testing.T) {
	r := New(logger.Discard())

	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}})

	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.OK())
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestExec_CheckedNonZeroIsError(t *testing.T) {
	log := logger.Discard()
	r := New(log)

	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo broken >&2; exit 2"}, Check: true})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonZeroExit)
	assert.NotErrorIs(t, err, ErrTimeout)
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 2, cmdErr.Result.ExitCode)
	assert.Equal(t, 2, res.ExitCode)
	assert.Contains(t, err.Error(), "exit code 2")

	assert.True(t, log.Contains("Command failed"))
	assert.True(t, log.Contains("Exit code: 2"))
	assert.True(t, log.Contains("Stderr: broken"))
}

func TestExec_CommandNotFound(t *testing.T) {
	r := New(logger.Discard())

	res, err := r.Run(context.Background(), Command{Name: "nonexistentcommand12345"})
	require.NoError(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.NotEmpty(t, res.Stderr)

	_, err = r.Run(context.Background(), Command{Name: "nonexistentcommand12345", Check: true})
	assert.ErrorIs(t, err, ErrNonZeroExit)
}

func TestExec_TimeoutIsDistinctError(t *testing.T) {
	r := New(logger.Discard())

	start := time.Now()
	res, err := r.Run(context.Background(), Command{
		Name:    "sleep",
		Args:    []string{"5"},
		Timeout: 100 * time.Millisecond,
	})

	require.Error(t, err, "timeouts are errors even in unchecked mode")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrNonZeroExit)
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestExec_DefaultTimeoutOption(t *testing.T) {
	r := New(logger.Discard(), WithDefaultTimeout(100*time.Millisecond))

	_, err := r.Run(context.Background(), Command{Name: "sleep", Args: []string{"5"}})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExec_CancelledContext(t *testing.T) {
	r := New(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, Command{Name: "sleep", Args: []string{"5"}})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExec_ElevateWithoutPrivilege(t *testing.T) {
	log := logger.Discard()
	r := New(log)
	assert.False(t, r.Elevated())

	res, err := r.Run(context.Background(), Command{Name: "echo", Args: []string{"hi"}, Elevate: true})

	assert.ErrorIs(t, err, ErrNotPrivileged)
	assert.Equal(t, -1, res.ExitCode)
	assert.False(t, log.Contains("Running:"), "no command may run without the capability")
}

func TestExec_ElevateUsesWrapper(t *testing.T) {
	// env(1) execs its arguments, standing in for sudo.
	priv := &Privilege{wrapper: []string{"env"}}
	r := New(logger.Discard(), WithPrivilege(priv))
	require.True(t, r.Elevated())

	res, err := r.Run(context.Background(), Command{Name: "echo", Args: []string{"elevated"}, Elevate: true, Check: true})

	require.NoError(t, err)
	assert.Equal(t, "env echo elevated", res.Command)
	assert.Equal(t, "elevated\n", res.Stdout)
}

func TestExec_StdinAndEnv(t *testing.T) {
	r := New(logger.Discard())

	res, err := r.Run(context.Background(), Command{
		Name:  "sh",
		Args:  []string{"-c", "cat; echo $SETUP_WSL_TEST"},
		Stdin: "from-stdin\n",
		Env:   []string{"SETUP_WSL_TEST=from-env"},
		Check: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "from-stdin\nfrom-env\n", res.Stdout)
}
