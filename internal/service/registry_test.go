package service_test

import (
	"testing"
	"time"

	"github.com/CZERTAINLY/RepoStats/internal/model"
	"github.com/CZERTAINLY/RepoStats/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreate(t *testing.T) {
	t.Parallel()
	r := service.NewRegistry()

	seen := make(map[string]struct{})
	for range 100 {
		job, err := r.Create(model.AnalysisConfig{Organizations: []string{"acme"}})
		require.NoError(t, err)
		_, err = uuid.Parse(job.ID())
		require.NoError(t, err)
		require.NotContains(t, seen, job.ID())
		seen[job.ID()] = struct{}{}
		require.Equal(t, service.StatusPending, job.Status())
	}
	require.Equal(t, 100, r.Len())

	_, ok := r.Get("missing")
	require.False(t, ok)
}

func TestRegistryConfigIsCopied(t *testing.T) {
	t.Parallel()
	r := service.NewRegistry()
	cfg := model.AnalysisConfig{Organizations: []string{"acme"}}
	job, err := r.Create(cfg)
	require.NoError(t, err)
	cfg.Organizations[0] = "changed"
	require.Equal(t, []string{"acme"}, job.Config().Organizations)
}

func TestRegistryListAndEvict(t *testing.T) {
	t.Parallel()
	tool := fakeTool(t, "exit 0")
	registry := service.NewRegistry()
	m := service.NewManager(registry, tool)

	create := func() *service.Job {
		job, err := m.Create(acme())
		require.NoError(t, err)
		return job
	}
	pending1 := create()
	first := create()
	pending2 := create()
	second := create()

	require.NoError(t, m.Run(t.Context(), first.ID()))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.Run(t.Context(), second.ID()))

	ids := func(jobs []*service.Job) []string {
		var ret []string
		for _, j := range jobs {
			ret = append(ret, j.ID())
		}
		return ret
	}
	require.Equal(t, []string{second.ID(), first.ID(), pending1.ID(), pending2.ID()}, ids(registry.List(0)))
	require.Equal(t, []string{second.ID(), first.ID()}, ids(m.Recent(2)))

	require.Zero(t, registry.Evict(time.Now().Add(-time.Hour)))
	require.Equal(t, 2, registry.Evict(time.Now().Add(time.Second)))
	require.Equal(t, []string{pending1.ID(), pending2.ID()}, ids(registry.List(-1)))
}
