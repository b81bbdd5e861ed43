package service_test

import (
	"testing"
	"time"

	"github.com/CZERTAINLY/RepoStats/internal/model"
	"github.com/CZERTAINLY/RepoStats/internal/service"
	"github.com/stretchr/testify/require"
)

func TestNewRetention(t *testing.T) {
	t.Parallel()
	registry := service.NewRegistry()

	t.Run("disabled", func(t *testing.T) {
		s, err := service.NewRetention(t.Context(), registry, model.DefaultConfig().Retention)
		require.NoError(t, err)
		require.Nil(t, s)
	})

	var testCases = []struct {
		scenario string
		given    model.Retention
		then     string
	}{
		{"bad max age", model.Retention{Enabled: true, MaxAge: "forever", Schedule: model.Schedule{Duration: "PT1H"}}, "retention.max_age"},
		{"bad cron", model.Retention{Enabled: true, MaxAge: "1h", Schedule: model.Schedule{Cron: "61 * * * *"}}, "retention.schedule.cron"},
		{"bad duration", model.Retention{Enabled: true, MaxAge: "1h", Schedule: model.Schedule{Duration: "1 hour"}}, "retention.schedule.duration"},
		{"no schedule", model.Retention{Enabled: true, MaxAge: "1h"}, "both cron and duration are empty"},
	}
	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			_, err := service.NewRetention(t.Context(), registry, tt.given)
			require.ErrorContains(t, err, tt.then)
		})
	}
}

func TestRetentionSweeps(t *testing.T) {
	t.Parallel()
	registry := service.NewRegistry()
	m := service.NewManager(registry, fakeTool(t, "exit 0"))
	job, err := m.Create(acme())
	require.NoError(t, err)
	require.NoError(t, m.Run(t.Context(), job.ID()))
	_, err = m.Create(acme())
	require.NoError(t, err)

	s, err := service.NewRetention(t.Context(), registry, model.Retention{
		Enabled:  true,
		MaxAge:   "0s",
		Schedule: model.Schedule{Duration: "PT0.1S"},
	})
	require.NoError(t, err)
	s.Start()
	t.Cleanup(func() {
		require.NoError(t, s.Shutdown())
	})

	require.Eventually(t, func() bool {
		return registry.Len() == 1
	}, 5*time.Second, 20*time.Millisecond)
	_, ok := registry.Get(job.ID())
	require.False(t, ok)
}
