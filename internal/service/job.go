package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CZERTAINLY/RepoStats/internal/model"
	"github.com/CZERTAINLY/RepoStats/internal/progress"
	"github.com/CZERTAINLY/RepoStats/internal/results"
	"github.com/CZERTAINLY/RepoStats/internal/ring"
)

const (
	outputLines    = 500
	stderrTailSize = 10

	cancelMarker = ">>> Analysis cancelled by user <<<"
)

// Stream tells where an output line came from.
type Stream int

const (
	StreamStderr Stream = iota
	StreamStdout
	// StreamSystem lines are written by the service itself.
	StreamSystem
)

type OutputLine struct {
	Stream Stream
	Text   string
}

func (l OutputLine) String() string {
	if l.Stream == StreamStdout {
		return "[stdout] " + l.Text
	}
	return l.Text
}

// Job is a single analysis. Fields are guarded by mx, callers read them
// through Snapshot or the accessors.
type Job struct {
	id      string
	seq     uint64
	config  model.AnalysisConfig
	created time.Time

	mx              sync.RWMutex
	status          Status
	progress        progress.State
	errors          []string
	results         []results.Record
	output          *ring.Buffer[OutputLine]
	stderrTail      *ring.Buffer[string]
	startedAt       time.Time
	completedAt     time.Time
	cancelRequested bool
	runner          *Runner
	cancel          context.CancelCauseFunc
	done            chan struct{}
}

func newJob(id string, seq uint64, cfg model.AnalysisConfig, now time.Time) *Job {
	return &Job{
		id:         id,
		seq:        seq,
		config:     cfg.Clone(),
		created:    now,
		status:     StatusPending,
		output:     ring.New[OutputLine](outputLines),
		stderrTail: ring.New[string](stderrTailSize),
		done:       make(chan struct{}),
	}
}

func (j *Job) ID() string {
	return j.id
}

// Config returns a copy of the immutable configuration.
func (j *Job) Config() model.AnalysisConfig {
	return j.config.Clone()
}

func (j *Job) Status() Status {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return j.status
}

// Done is closed once the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Results are only available for completed jobs.
func (j *Job) Results() []results.Record {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return append([]results.Record(nil), j.results...)
}

func (j *Job) Errors() []string {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return append([]string(nil), j.errors...)
}

// Output returns the retained output lines, oldest first.
func (j *Job) Output() []string {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return j.outputLocked()
}

func (j *Job) outputLocked() []string {
	lines := j.output.Slice()
	ret := make([]string, len(lines))
	for i, l := range lines {
		ret[i] = l.String()
	}
	return ret
}

// Snapshot is a consistent, immutable view of a job.
type Snapshot struct {
	ID             string     `json:"job_id"`
	Status         Status     `json:"status"`
	Progress       int        `json:"progress"`
	Message        string     `json:"message"`
	Errors         []string   `json:"errors"`
	ResultCount    int        `json:"result_count"`
	CurrentRepo    *string    `json:"current_repo"`
	TotalRepos     int        `json:"total_repos"`
	ProcessedRepos int        `json:"processed_repos"`
	Organizations  []string   `json:"organizations"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	OutputLines    []string   `json:"output_lines,omitempty"`
}

func (j *Job) Snapshot(withOutput bool) Snapshot {
	j.mx.RLock()
	defer j.mx.RUnlock()
	s := Snapshot{
		ID:             j.id,
		Status:         j.status,
		Progress:       j.progress.Percent,
		Message:        j.progress.Message,
		Errors:         append([]string{}, j.errors...),
		ResultCount:    len(j.results),
		TotalRepos:     j.progress.Total,
		ProcessedRepos: j.progress.Processed,
		Organizations:  append([]string{}, j.config.Organizations...),
		StartedAt:      timePtr(j.startedAt),
		CompletedAt:    timePtr(j.completedAt),
	}
	if j.progress.Item != "" {
		item := j.progress.Item
		s.CurrentRepo = &item
	}
	if withOutput {
		s.OutputLines = j.outputLocked()
	}
	return s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (j *Job) started() (time.Time, bool) {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return j.startedAt, !j.startedAt.IsZero()
}

func (j *Job) completed() (time.Time, bool) {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return j.completedAt, j.status.Terminal()
}

// begin moves a pending job to running.
func (j *Job) begin(cancel context.CancelCauseFunc, now time.Time) error {
	j.mx.Lock()
	defer j.mx.Unlock()
	if !j.status.canTransition(StatusRunning) {
		return fmt.Errorf("%w (current status: %s)", ErrJobNotPending, j.status)
	}
	j.status = StatusRunning
	j.startedAt = now
	j.cancel = cancel
	j.progress.Message = "Starting analysis..."
	return nil
}

func (j *Job) setMessage(msg string) {
	j.mx.Lock()
	defer j.mx.Unlock()
	j.progress.Message = msg
}

func (j *Job) setTotal(total int) {
	j.mx.Lock()
	defer j.mx.Unlock()
	j.progress.Total = total
}

func (j *Job) attach(r *Runner) {
	j.mx.Lock()
	defer j.mx.Unlock()
	j.runner = r
}

// onStderr records a diagnostic line and applies the progress it carries.
// Progress is frozen once a cancel was requested.
func (j *Job) onStderr(ctx context.Context, line string) {
	j.mx.Lock()
	defer j.mx.Unlock()
	j.stderrTail.Push(line)
	if line != "" {
		j.output.Push(OutputLine{Stream: StreamStderr, Text: line})
	}
	if j.cancelRequested {
		return
	}
	if ev, ok := progress.Parse(line); ok {
		j.progress = j.progress.Apply(ev)
		slog.DebugContext(ctx, "progress", "job_id", j.id, "kind", ev.Kind.String(), "percent", j.progress.Percent)
	}
}

func (j *Job) onStdout(_ context.Context, line string) {
	if line == "" {
		return
	}
	j.mx.Lock()
	defer j.mx.Unlock()
	j.output.Push(OutputLine{Stream: StreamStdout, Text: line})
}

// requestCancel flags a running job and returns the cancel func of its run.
func (j *Job) requestCancel() (context.CancelCauseFunc, error) {
	j.mx.Lock()
	defer j.mx.Unlock()
	if j.status != StatusRunning {
		return nil, &NotRunningError{Status: j.status}
	}
	j.cancelRequested = true
	j.progress.Message = "Cancelling..."
	return j.cancel, nil
}

// Running reports whether a process is attached to the job.
func (j *Job) Running() bool {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return j.runner != nil
}

func (j *Job) isCancelRequested() bool {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return j.cancelRequested
}

func (j *Job) tail() []string {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return j.stderrTail.Slice()
}

// outcome is the terminal state of a job.
type outcome struct {
	status  Status
	message string
	errors  []string
	results []results.Record
	marker  string
}

// finish applies a terminal outcome. It is a no-op for a job which is
// already terminal.
func (j *Job) finish(o outcome, now time.Time) bool {
	j.mx.Lock()
	defer j.mx.Unlock()
	if !j.status.canTransition(o.status) {
		return false
	}
	j.status = o.status
	j.progress.Message = o.message
	j.progress.Item = ""
	j.errors = append(j.errors, o.errors...)
	if o.marker != "" {
		j.output.Push(OutputLine{Stream: StreamSystem, Text: o.marker})
	}
	if o.status == StatusCompleted {
		j.results = o.results
		j.progress.Percent = 100
		if o.results != nil {
			j.progress.Processed = len(o.results)
			j.progress.Total = len(o.results)
		}
	}
	j.runner = nil
	j.cancel = nil
	j.completedAt = now
	close(j.done)
	return true
}
