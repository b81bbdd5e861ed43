package service_test

import (
	"testing"

	"github.com/CZERTAINLY/RepoStats/internal/service"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	t.Parallel()
	for s, name := range map[service.Status]string{
		service.StatusPending:   "pending",
		service.StatusRunning:   "running",
		service.StatusCompleted: "completed",
		service.StatusFailed:    "failed",
	} {
		require.Equal(t, name, s.String())
		b, err := s.MarshalText()
		require.NoError(t, err)
		require.Equal(t, name, string(b))
	}
	require.True(t, service.StatusFailed.Terminal())
	require.False(t, service.StatusRunning.Terminal())

	_, err := service.Status(42).MarshalText()
	require.Error(t, err)
}
