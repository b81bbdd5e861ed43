package service_test

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/RepoStats/internal/service"
	"github.com/stretchr/testify/require"
)

type lines struct {
	mx    sync.Mutex
	lines []string
}

func (l *lines) add(_ context.Context, line string) {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.lines = append(l.lines, line)
}

func (l *lines) get() []string {
	l.mx.Lock()
	defer l.mx.Unlock()
	return append([]string(nil), l.lines...)
}

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting")
	}
}

func TestRunner(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	runner := service.NewRunner()
	t.Run("not yet started", func(t *testing.T) {
		require.ErrorIs(t, runner.Result().Err, service.ErrNotStarted)
		waitDone(t, runner.Done())
	})

	cmd := service.Command{
		Path: sh,
		Args: []string{"-c", "echo stdout; printf '  padded  \\n\\nstderr\\n' >&2; sleep 0.2"},
		Env:  []string{"LC_ALL=C"},
	}
	var stdout, stderr lines

	t.Run("start", func(t *testing.T) {
		err := runner.Start(t.Context(), cmd, stdout.add, stderr.add)
		require.NoError(t, err)
		require.ErrorIs(t, runner.Result().Err, service.ErrRunInProgress)
	})
	t.Run("in progress", func(t *testing.T) {
		err := runner.Start(t.Context(), cmd, nil, nil)
		require.ErrorIs(t, err, service.ErrRunInProgress)
	})
	t.Run("wait", func(t *testing.T) {
		waitDone(t, runner.Done())
		res := runner.Result()
		require.NoError(t, res.Err)
		require.NoError(t, res.Cause)
		require.Equal(t, sh, res.Path)
		require.NotZero(t, res.Started)
		require.GreaterOrEqual(t, res.Stopped.Sub(res.Started), 200*time.Millisecond)
		require.Equal(t, 0, res.State.ExitCode())
		require.Equal(t, []string{"stdout"}, stdout.get())
		require.Equal(t, []string{"padded", "", "stderr"}, stderr.get())
	})
	t.Run("exec error", func(t *testing.T) {
		err := runner.Start(t.Context(), service.Command{Path: "does not exist"}, nil, nil)
		var execErr *exec.Error
		require.ErrorAs(t, err, &execErr)
		require.Equal(t, "does not exist", execErr.Name)
		require.ErrorAs(t, runner.Result().Err, &execErr)
	})
}

func TestRunnerExitCode(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	runner := service.NewRunner()
	err := runner.Start(t.Context(), service.Command{Path: sh, Args: []string{"-c", "exit 7"}}, nil, nil)
	require.NoError(t, err)
	waitDone(t, runner.Done())
	res := runner.Result()
	var exitErr *exec.ExitError
	require.ErrorAs(t, res.Err, &exitErr)
	require.Equal(t, 7, res.State.ExitCode())
	require.NoError(t, res.Cause)
}

func TestRunnerDecoding(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	var stderr lines
	runner := service.NewRunner()
	script := `printf 'a\377b\n' >&2; head -c 100000 /dev/zero | tr '\0' x >&2; printf '\nno newline' >&2`
	require.NoError(t, runner.Start(t.Context(), service.Command{Path: sh, Args: []string{"-c", script}}, nil, stderr.add))
	waitDone(t, runner.Done())

	got := stderr.get()
	require.Len(t, got, 3)
	require.Equal(t, "a\ufffdb", got[0])
	require.Len(t, got[1], 100000)
	require.Equal(t, "no newline", got[2])
}

// Both pipes are drained concurrently: a tool filling one pipe past its
// buffer while the other is still open must not stall.
func TestRunnerFloodsEitherStream(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	var testCases = []struct {
		scenario string
		given    string
		stdout   []int
		stderr   []int
	}{
		{"stdout flood", `head -c 200000 /dev/zero | tr '\0' x; echo; echo done >&2`, []int{200000}, []int{4}},
		{"stderr flood", `head -c 200000 /dev/zero | tr '\0' x >&2; echo >&2; echo done`, []int{4}, []int{200000}},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			var stdout, stderr lines
			runner := service.NewRunner()
			require.NoError(t, runner.Start(t.Context(), service.Command{Path: sh, Args: []string{"-c", tt.given}}, stdout.add, stderr.add))
			waitDone(t, runner.Done())

			res := runner.Result()
			require.NoError(t, res.Err)
			require.Equal(t, 0, res.State.ExitCode())
			require.Equal(t, tt.stdout, lengths(stdout.get()))
			require.Equal(t, tt.stderr, lengths(stderr.get()))
		})
	}
}

func lengths(got []string) []int {
	ret := make([]int, len(got))
	for i, l := range got {
		ret[i] = len(l)
	}
	return ret
}

func TestRunnerCancel(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	var testCases = []struct {
		scenario string
		script   string
		minWait  time.Duration
	}{
		{"graceful", "trap 'exit 143' TERM; echo ready >&2; while true; do sleep 0.05; done", 0},
		{"ignores terminate", "trap '' TERM; echo ready >&2; while true; do sleep 0.05; done", 300 * time.Millisecond},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithCancelCause(t.Context())
			defer cancel(nil)

			ready := make(chan struct{})
			var once sync.Once
			onStderr := func(_ context.Context, line string) {
				if line == "ready" {
					once.Do(func() { close(ready) })
				}
			}

			runner := service.NewRunner()
			cmd := service.Command{Path: sh, Args: []string{"-c", tt.script}, Grace: 300 * time.Millisecond}
			require.NoError(t, runner.Start(ctx, cmd, nil, onStderr))
			waitDone(t, ready)

			stopped := time.Now()
			cancel(service.ErrCancelled)
			waitDone(t, runner.Done())
			require.GreaterOrEqual(t, time.Since(stopped), tt.minWait)

			res := runner.Result()
			require.ErrorIs(t, res.Cause, service.ErrCancelled)
			require.NotNil(t, res.State)
			require.NotEqual(t, 0, res.State.ExitCode())
		})
	}
}

func TestRunnerTimeout(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	runner := service.NewRunner()
	cmd := service.Command{
		Path:    sh,
		Args:    []string{"-c", "while true; do sleep 0.05; done"},
		Timeout: 100 * time.Millisecond,
		Grace:   time.Second,
	}
	require.NoError(t, runner.Start(t.Context(), cmd, nil, nil))
	waitDone(t, runner.Done())
	res := runner.Result()
	require.ErrorIs(t, res.Cause, service.ErrTimeout)
	require.True(t, strings.Contains(res.Err.Error(), "signal"), res.Err.Error())
}
