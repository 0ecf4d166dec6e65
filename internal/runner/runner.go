package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

var ErrInProgress = errors.New("process in progress")

const waitDelay = time.Second

// DoneFunc receives the result of a finished process. It is called from the
// goroutine waiting on the process, after the runner has been released.
type DoneFunc func(Result)

// Runner runs at most one external process at a time.
type Runner struct {
	mx  sync.Mutex
	cmd *exec.Cmd
	wg  sync.WaitGroup
}

func New() *Runner {
	return &Runner{}
}

type Command struct {
	Path string
	Args []string
	Env  []string
}

type Result struct {
	Path    string
	Args    []string
	Pid     int
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Stdout  *bytes.Buffer
	Stderr  *bytes.Buffer
	Err     error
}

// Start runs the process and returns its pid. It ensures only a single
// process is active and returns ErrInProgress otherwise. Start does NOT wait
// for the process, done is called once it exits. done is not called if the
// process was stopped by Kill.
func (r *Runner) Start(ctx context.Context, proto Command, done DoneFunc) (int, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return 0, ErrInProgress
	}

	result := Result{
		Path:   proto.Path,
		Args:   append([]string(nil), proto.Args...),
		Stdout: &bytes.Buffer{},
		Stderr: &bytes.Buffer{},
	}

	cmd := exec.Command(result.Path, result.Args...)
	if len(proto.Env) > 0 {
		cmd.Env = append([]string(nil), proto.Env...)
	}
	cmd.Stdout = result.Stdout
	cmd.Stderr = result.Stderr
	// children inheriting the pipes must not block Wait after a kill
	cmd.WaitDelay = waitDelay

	result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	result.Pid = cmd.Process.Pid
	slog.DebugContext(ctx, "process started", "path", result.Path, "args", result.Args, "pid", result.Pid)

	r.cmd = cmd
	r.wg.Add(1)
	go r.wait(cmd, result, done)
	return result.Pid, nil
}

func (r *Runner) wait(cmd *exec.Cmd, result Result, done DoneFunc) {
	defer r.wg.Done()
	err := cmd.Wait()

	r.mx.Lock()
	killed := r.cmd != cmd
	if !killed {
		r.cmd = nil
	}
	r.mx.Unlock()

	if killed || done == nil {
		return
	}
	result.Stopped = time.Now().UTC()
	result.State = cmd.ProcessState
	result.Err = err
	done(result)
}

// Running reports whether a process is in flight.
func (r *Runner) Running() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.cmd != nil
}

// Kill terminates the process in flight, if any, and releases the runner.
func (r *Runner) Kill() {
	r.mx.Lock()
	cmd := r.cmd
	r.cmd = nil
	r.mx.Unlock()
	if cmd == nil {
		return
	}
	// the process may have exited already
	_ = cmd.Process.Kill()
}

// Close kills the process in flight and waits until it is reaped.
func (r *Runner) Close() {
	r.Kill()
	r.wg.Wait()
}
