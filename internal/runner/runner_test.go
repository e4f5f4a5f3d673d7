package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		argv []string
		want string
	}{
		{[]string{"apt-get", "install", "-y", "htop"}, "apt-get install -y htop"},
		{[]string{"sh", "-c", "echo hi > /tmp/x"}, "sh -c 'echo hi > /tmp/x'"},
		{[]string{"echo", "it's"}, `echo 'it'\''s'`},
		{[]string{"printf", ""}, "printf ''"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JoinArgs(tt.argv))
	}
}

func TestCommand_StringOmitsWrapper(t *testing.T) {
	c := Command{Name: "cp", Args: []string{"/tmp/a", "/etc/wsl.conf"}, Elevate: true}
	assert.Equal(t, "cp /tmp/a /etc/wsl.conf", c.String())
}

func TestCheckResult(t *testing.T) {
	failed := Result{Command: "false", ExitCode: 1}

	assert.NoError(t, CheckResult(Command{Name: "false"}, failed))
	assert.NoError(t, CheckResult(Command{Name: "true", Check: true}, Result{Command: "true"}))

	err := CheckResult(Command{Name: "false", Check: true}, failed)
	assert.ErrorIs(t, err, ErrNonZeroExit)
	assert.Equal(t, "false: command exited with non-zero status (exit code 1)", err.Error())
}

func TestAcquire(t *testing.T) {
	_, err := acquire(func() int { return 1000 }, nil)
	assert.ErrorIs(t, err, ErrNotPrivileged)
	assert.Contains(t, err.Error(), "uid 1000")

	p, err := acquire(func() int { return 0 }, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sudo", "id"}, p.wrap([]string{"id"}))

	p, err = acquire(func() int { return 0 }, []string{"doas"})
	require.NoError(t, err)
	assert.Equal(t, []string{"doas", "id", "-u"}, p.wrap([]string{"id", "-u"}))
}
