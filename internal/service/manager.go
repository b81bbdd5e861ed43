package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/RepoStats/internal/log"
	"github.com/CZERTAINLY/RepoStats/internal/model"
	"github.com/CZERTAINLY/RepoStats/internal/results"
)

// Manager drives jobs through their lifecycle: it prepares the working
// directory, runs gh-repo-stats, feeds its output into the job and finally
// ingests the artifact.
type Manager struct {
	registry *Registry
	tool     Tool
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewManager(registry *Registry, tool Tool) *Manager {
	return &Manager{
		registry: registry,
		tool:     tool,
		now:      time.Now,
	}
}

// Create validates cfg and registers a pending job. Invalid configurations
// never reach the registry.
func (m *Manager) Create(cfg model.AnalysisConfig) (*Job, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return m.registry.Create(cfg)
}

func (m *Manager) Get(id string) (*Job, bool) {
	return m.registry.Get(id)
}

// Recent returns up to limit jobs, most recently started first.
func (m *Manager) Recent(limit int) []*Job {
	return m.registry.List(limit)
}

// Start runs the job in the background. The job lives as long as ctx,
// Wait blocks until every started job has finished.
func (m *Manager) Start(ctx context.Context, id string) error {
	job, ok := m.registry.Get(id)
	if !ok {
		return ErrJobNotFound
	}
	if st := job.Status(); st != StatusPending {
		return fmt.Errorf("%w (current status: %s)", ErrJobNotPending, st)
	}
	m.wg.Go(func() {
		if err := m.Run(ctx, id); err != nil {
			slog.ErrorContext(ctx, "job run failed", "job_id", id, "error", err)
		}
	})
	return nil
}

// Wait blocks until all jobs started by Start are done.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Run executes a pending job and returns once it is terminal. Failures of
// the analysis itself are recorded in the job, the returned error is only
// about the lifecycle (unknown or already started job, internal errors).
func (m *Manager) Run(ctx context.Context, id string) (err error) {
	job, ok := m.registry.Get(id)
	if !ok {
		return ErrJobNotFound
	}
	ctx = log.ContextAttrs(ctx, slog.String("job_id", id))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if err := job.begin(cancel, m.now()); err != nil {
		return err
	}
	slog.InfoContext(ctx, "analysis started", "organizations", job.config.Organizations)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			m.fail(ctx, job, err)
		}
	}()

	o, err := m.execute(runCtx, job)
	if err != nil {
		m.fail(ctx, job, err)
		return err
	}
	job.finish(o, m.now())
	slog.InfoContext(ctx, "analysis finished", "status", o.status, "message", o.message, "results", len(o.results))
	return nil
}

func (m *Manager) fail(ctx context.Context, job *Job, err error) {
	job.finish(outcome{
		status:  StatusFailed,
		message: "Analysis failed: " + err.Error(),
		errors:  []string{err.Error()},
	}, m.now())
	slog.ErrorContext(ctx, "analysis failed", "error", err)
}

func (m *Manager) execute(ctx context.Context, job *Job) (outcome, error) {
	cfg := job.Config()

	dir, err := os.MkdirTemp(m.tool.WorkDir, "repostats-")
	if err != nil {
		return outcome{}, fmt.Errorf("creating working directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.WarnContext(ctx, "removing working directory", "dir", dir, "error", err)
		}
	}()

	if len(cfg.Repositories) > 0 {
		job.setTotal(len(cfg.Repositories))
	}
	cmd, err := m.tool.Command(dir, cfg)
	if err != nil {
		return outcome{}, err
	}

	job.setMessage(fmt.Sprintf("Running analysis on %s...", strings.Join(cfg.Organizations, ", ")))
	runner := NewRunner()
	job.attach(runner)
	if err := runner.Start(ctx, cmd, job.onStdout, job.onStderr); err != nil {
		return outcome{}, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	<-runner.Done()
	return m.conclude(ctx, job, dir, runner.Result())
}

// conclude maps a finished process to the terminal outcome of the job.
func (m *Manager) conclude(ctx context.Context, job *Job, dir string, res Result) (outcome, error) {
	slog.DebugContext(ctx, "process finished", "state", res.State, "error", res.Err, "cause", res.Cause)
	switch {
	case job.isCancelRequested():
		return outcome{
			status:  StatusFailed,
			message: "Analysis cancelled by user",
			marker:  cancelMarker,
		}, nil
	case errors.Is(res.Cause, ErrTimeout):
		return outcome{
			status:  StatusFailed,
			message: "Analysis timed out",
			errors:  []string{fmt.Sprintf("Analysis exceeded the timeout of %s", m.tool.Timeout)},
		}, nil
	case res.Cause != nil:
		return outcome{
			status:  StatusFailed,
			message: "Analysis interrupted",
			errors:  []string{"Analysis interrupted: " + res.Cause.Error()},
		}, nil
	case res.State == nil:
		return outcome{}, fmt.Errorf("waiting for %s: %w", res.Path, res.Err)
	case res.State.ExitCode() != 0:
		errs := []string{fmt.Sprintf("Script failed with code %d", res.State.ExitCode())}
		if tail := job.tail(); len(tail) > 0 {
			errs = append(errs, strings.Join(tail, "\n"))
		}
		return outcome{
			status:  StatusFailed,
			message: "Analysis failed",
			errors:  errs,
		}, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, results.ArtifactPattern))
	if err != nil {
		return outcome{}, fmt.Errorf("looking up artifact: %w", err)
	}
	if len(matches) == 0 {
		return outcome{
			status:  StatusCompleted,
			message: "Analysis complete but no output file found.",
		}, nil
	}
	slices.Sort(matches)
	records := results.ParseArtifact(ctx, matches[0])
	return outcome{
		status:  StatusCompleted,
		message: fmt.Sprintf("Analysis complete. Found %d repositories.", len(records)),
		results: records,
	}, nil
}

// Cancel stops a running job and waits until its process has exited or
// ctx ends. It fails with ErrJobNotFound, or with a *NotRunningError
// matching ErrJobNotRunning without touching the job.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	job, ok := m.registry.Get(id)
	if !ok {
		return ErrJobNotFound
	}
	cancel, err := job.requestCancel()
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "cancelling analysis", "job_id", id)
	cancel(ErrCancelled)

	select {
	case <-job.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
