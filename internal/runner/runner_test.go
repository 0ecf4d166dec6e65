package runner_test

import (
	"os/exec"
	"testing"
	"time"

	"github.com/CZERTAINLY/vcgencmd-node/internal/runner"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunner(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	r := runner.New()
	t.Cleanup(r.Close)
	ctx := t.Context()

	results := make(chan runner.Result, 1)
	done := func(res runner.Result) {
		results <- res
	}

	cmd := runner.Command{
		Path: sh,
		Args: []string{"-c", "sleep 0.2; echo 'temp=42.8'\"'\"'C'; echo oops 1>&2"},
	}

	var pid int
	t.Run("start", func(t *testing.T) {
		pid, err = r.Start(ctx, cmd, done)
		require.NoError(t, err)
		require.Greater(t, pid, 0)
		require.True(t, r.Running())
	})

	t.Run("in progress", func(t *testing.T) {
		_, err := r.Start(ctx, cmd, done)
		require.ErrorIs(t, err, runner.ErrInProgress)
	})

	t.Run("wait", func(t *testing.T) {
		res := <-results
		require.NoError(t, res.Err)
		require.Equal(t, sh, res.Path)
		require.Equal(t, pid, res.Pid)
		require.NotZero(t, res.Started)
		require.GreaterOrEqual(t, res.Stopped.Sub(res.Started), 200*time.Millisecond)
		require.Equal(t, "temp=42.8'C\n", res.Stdout.String())
		require.Equal(t, "oops\n", res.Stderr.String())
		require.False(t, r.Running())
	})

	t.Run("exit code", func(t *testing.T) {
		_, err := r.Start(ctx, runner.Command{Path: sh, Args: []string{"-c", "exit 3"}}, done)
		require.NoError(t, err)
		res := <-results
		var exitErr *exec.ExitError
		require.ErrorAs(t, res.Err, &exitErr)
		require.Equal(t, 3, exitErr.ExitCode())
	})

	t.Run("exec error", func(t *testing.T) {
		noCmd := runner.Command{
			Path: "does not exist",
		}
		_, err := r.Start(ctx, noCmd, done)
		require.Error(t, err)
		var execErr *exec.Error
		require.ErrorAs(t, err, &execErr)
		require.Equal(t, noCmd.Path, execErr.Name)
		require.False(t, r.Running())
	})
}

func TestRunner_Kill(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	r := runner.New()
	called := make(chan struct{}, 1)
	_, err = r.Start(t.Context(), runner.Command{Path: sh, Args: []string{"-c", "exec sleep 10"}}, func(runner.Result) {
		called <- struct{}{}
	})
	require.NoError(t, err)
	require.True(t, r.Running())

	r.Close()
	require.False(t, r.Running())
	select {
	case <-called:
		t.Fatal("done must not be called after kill")
	default:
	}

	// the slot is free again
	ch := make(chan runner.Result, 1)
	_, err = r.Start(t.Context(), runner.Command{Path: sh, Args: []string{"-c", "echo ok"}}, func(res runner.Result) {
		ch <- res
	})
	require.NoError(t, err)
	res := <-ch
	require.NoError(t, res.Err)
	require.Equal(t, "ok\n", res.Stdout.String())
	r.Close()
}
