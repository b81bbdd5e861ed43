package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrNotStarted    = errors.New("process not started")
	ErrRunInProgress = errors.New("process is running")
	ErrProcessDone   = errors.New("process already finished")
	ErrTimeout       = errors.New("process timed out")
)

// LineFunc receives one trimmed line of process output.
type LineFunc func(ctx context.Context, line string)

// Command is everything needed to execute a process once.
type Command struct {
	Path    string
	Args    []string
	Env     []string
	Dir     string
	Timeout time.Duration // zero means no timeout
	Grace   time.Duration // between terminate and kill
}

// Result of a process execution.
type Result struct {
	Path    string
	Args    []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	// Err is the start or wait error, *exec.ExitError for non zero exit codes.
	Err error
	// Cause is set when the process was signalled because its context ended,
	// it is the context cause (ErrTimeout for an expired Timeout).
	Cause error
}

// Runner is a thin wrapper around os/exec which streams stdout and stderr
// line by line and stops the process gracefully when its context ends.
type Runner struct {
	mx     sync.RWMutex
	cmd    *exec.Cmd
	result Result
	done   chan struct{}
}

func NewRunner() *Runner {
	done := make(chan struct{})
	close(done)
	return &Runner{
		result: Result{Err: ErrNotStarted},
		done:   done,
	}
}

// Start runs the process and returns once it has been started, it returns
// ErrRunInProgress when a previous process is still running. Both streams
// are read concurrently, a nil LineFunc discards the stream.
//
// When ctx ends, the process group gets a terminate signal and, after
// proto.Grace, a kill signal.
func (r *Runner) Start(ctx context.Context, proto Command, stdoutFunc, stderrFunc LineFunc) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return ErrRunInProgress
	}

	r.result = Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
		Err:  ErrRunInProgress,
	}

	cancel := context.CancelFunc(func() {})
	if proto.Timeout > 0 {
		ctx, cancel = context.WithTimeoutCause(ctx, proto.Timeout, ErrTimeout)
	}

	cmd := exec.Command(r.result.Path, r.result.Args...)
	cmd.Env = proto.Env
	cmd.Dir = proto.Dir
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return r.startFailed(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return r.startFailed(err)
	}

	r.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		cancel()
		return r.startFailed(err)
	}
	slog.DebugContext(ctx, "process started", "path", proto.Path, "pid", cmd.Process.Pid)

	r.cmd = cmd
	r.done = make(chan struct{})
	go r.wait(ctx, cancel, cmd, proto.Grace, streams{
		{stdout, stdoutFunc},
		{stderr, stderrFunc},
	})
	return nil
}

func (r *Runner) startFailed(err error) error {
	r.result.Stopped = time.Now().UTC()
	r.result.Err = err
	return err
}

type stream struct {
	r  io.Reader
	fn LineFunc
}

type streams []stream

func (r *Runner) wait(ctx context.Context, cancel context.CancelFunc, cmd *exec.Cmd, grace time.Duration, ss streams) {
	defer cancel()

	exited := make(chan struct{})
	var signalled atomic.Bool
	var wg sync.WaitGroup
	wg.Go(func() {
		signalled.Store(stop(ctx, cmd.Process, grace, exited))
	})

	var g errgroup.Group
	for _, s := range ss {
		g.Go(func() error {
			return readLines(ctx, s.r, s.fn)
		})
	}
	if err := g.Wait(); err != nil {
		slog.WarnContext(ctx, "reading process output", "error", err)
	}

	err := cmd.Wait()
	close(exited)
	wg.Wait()
	stopped := time.Now().UTC()

	r.mx.Lock()
	defer r.mx.Unlock()
	r.result.Stopped = stopped
	r.result.State = cmd.ProcessState
	r.result.Err = err
	if signalled.Load() {
		r.result.Cause = context.Cause(ctx)
	}
	r.cmd = nil
	close(r.done)
}

// stop waits until the process exits or ctx ends. In the latter case it
// escalates from terminate to kill and reports true.
func stop(ctx context.Context, p *os.Process, grace time.Duration, exited <-chan struct{}) bool {
	select {
	case <-exited:
		return false
	case <-ctx.Done():
	}

	slog.DebugContext(ctx, "terminating process", "pid", p.Pid, "cause", context.Cause(ctx))
	if err := terminate(p); err != nil {
		if errors.Is(err, ErrProcessDone) {
			return true
		}
		slog.WarnContext(ctx, "terminating process", "pid", p.Pid, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-exited:
		return true
	case <-timer.C:
	}

	slog.WarnContext(ctx, "process ignored terminate: killing", "pid", p.Pid, "grace", grace)
	if err := kill(p); err != nil && !errors.Is(err, ErrProcessDone) {
		slog.ErrorContext(ctx, "killing process", "pid", p.Pid, "error", err)
	}
	return true
}

// Done is closed when the last started process has exited and its output
// has been consumed.
func (r *Runner) Done() <-chan struct{} {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return r.done
}

// Result returns the last result, its Err is ErrNotStarted before the first
// Start and ErrRunInProgress while a process runs.
func (r *Runner) Result() Result {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return r.result
}
