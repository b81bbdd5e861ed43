package service

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/RepoStats/internal/model"
)

// Registry owns every job of the process. Jobs are never evicted unless
// Evict is called.
type Registry struct {
	mx   sync.RWMutex
	jobs map[string]*Job
	seq  uint64
	now  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// Create registers a pending job under a fresh random identifier.
func (r *Registry) Create(cfg model.AnalysisConfig) (*Job, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	for {
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, fmt.Errorf("generating job id: %w", err)
		}
		if _, ok := r.jobs[id.String()]; ok {
			continue
		}
		r.seq++
		job := newJob(id.String(), r.seq, cfg, r.now())
		r.jobs[job.id] = job
		return job, nil
	}
}

func (r *Registry) Get(id string) (*Job, bool) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// List returns jobs ordered by start time, most recent first. Jobs which
// have not started come last, ties keep creation order. limit <= 0 returns
// every job.
func (r *Registry) List(limit int) []*Job {
	r.mx.RLock()
	type entry struct {
		job     *Job
		started time.Time
		ok      bool
	}
	entries := make([]entry, 0, len(r.jobs))
	for _, j := range r.jobs {
		started, ok := j.started()
		entries = append(entries, entry{job: j, started: started, ok: ok})
	}
	r.mx.RUnlock()

	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.ok && !b.ok:
			return -1
		case !a.ok && b.ok:
			return 1
		}
		if c := b.started.Compare(a.started); c != 0 {
			return c
		}
		return cmp.Compare(a.job.seq, b.job.seq)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	ret := make([]*Job, len(entries))
	for i, e := range entries {
		ret[i] = e.job
	}
	return ret
}

func (r *Registry) Len() int {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return len(r.jobs)
}

// Evict drops terminal jobs completed before cutoff and returns how many
// were removed.
func (r *Registry) Evict(cutoff time.Time) int {
	r.mx.Lock()
	defer r.mx.Unlock()
	var n int
	for id, j := range r.jobs {
		if completed, ok := j.completed(); ok && completed.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n
}
