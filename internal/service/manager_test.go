package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/RepoStats/internal/model"
	"github.com/CZERTAINLY/RepoStats/internal/service"
	"github.com/stretchr/testify/require"
)

const csvArtifact = `cat > acme-all_repos-202401011200.csv <<'CSV'
Org_Name,Repo_Name,Repo_Size(mb),PR_Count,isFork
acme,alpha,10,3,false
acme,beta,20,4,true
CSV
`

// fakeTool returns a tool running script with sh in place of gh-repo-stats.
func fakeTool(t *testing.T, script string) service.Tool {
	t.Helper()
	sh := shell(t)
	path := filepath.Join(t.TempDir(), "gh-repo-stats.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o600))
	return service.Tool{
		Path:    sh,
		Args:    []string{path},
		Grace:   300 * time.Millisecond,
		WorkDir: t.TempDir(),
	}
}

func acme() model.AnalysisConfig {
	return model.AnalysisConfig{Organizations: []string{"acme"}}
}

func run(t *testing.T, tool service.Tool, cfg model.AnalysisConfig) *service.Job {
	t.Helper()
	m := service.NewManager(service.NewRegistry(), tool)
	job, err := m.Create(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Run(t.Context(), job.ID()))
	return job
}

func TestManagerCompleted(t *testing.T) {
	t.Parallel()
	tool := fakeTool(t, `
echo "Found 2 repositories to analyze" >&2
echo "Processing 1/2: alpha" >&2
echo "hello from stdout"
`+csvArtifact)

	job := run(t, tool, acme())
	snap := job.Snapshot(true)
	require.Equal(t, service.StatusCompleted, snap.Status)
	require.Equal(t, 100, snap.Progress)
	require.Equal(t, "Analysis complete. Found 2 repositories.", snap.Message)
	require.Equal(t, 2, snap.ResultCount)
	require.Equal(t, 2, snap.TotalRepos)
	require.Equal(t, 2, snap.ProcessedRepos)
	require.Nil(t, snap.CurrentRepo)
	require.NotNil(t, snap.StartedAt)
	require.NotNil(t, snap.CompletedAt)
	require.Empty(t, snap.Errors)
	require.Equal(t, []string{
		"Found 2 repositories to analyze",
		"Processing 1/2: alpha",
		"[stdout] hello from stdout",
	}, sortedStreams(snap.OutputLines))
	require.False(t, job.Running())

	records := job.Results()
	require.Len(t, records, 2)
	require.Equal(t, "beta", records[1].String("Repo_Name"))
	require.True(t, records[1].Bool("isFork"))
	require.Equal(t, 20, records[1].Int("Repo_Size(mb)"))

	entries, err := os.ReadDir(tool.WorkDir)
	require.NoError(t, err)
	require.Empty(t, entries, "working directory must be removed")

	select {
	case <-job.Done():
	default:
		t.Fatal("done must be closed")
	}
}

// sortedStreams puts stderr lines before stdout lines, the two streams are
// read concurrently so only the order within a stream is stable.
func sortedStreams(lines []string) []string {
	ret := slices.Clone(lines)
	slices.SortStableFunc(ret, func(a, b string) int {
		return boolInt(strings.HasPrefix(a, "[stdout] ")) - boolInt(strings.HasPrefix(b, "[stdout] "))
	})
	return ret
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestManagerArguments(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    model.AnalysisConfig
		then     []string
	}{
		{
			"single organization",
			acme(),
			[]string{"[stdout] -o acme -O CSV -p 10 -e 50 -y user"},
		},
		{
			"everything",
			model.AnalysisConfig{
				Organizations:        []string{"acme", "umbrella"},
				Repositories:         []string{"alpha", "beta"},
				Hostname:             "ghe.example.com",
				RepoPageSize:         5,
				ExtraPageSize:        25,
				TokenType:            model.TokenTypeApp,
				AnalyzeRepoConflicts: true,
				AnalyzeTeamConflicts: true,
			},
			[]string{
				"[stdout] -i orgs.txt -H ghe.example.com -O CSV -p 5 -e 25 -y app -r -T -rl repos.txt",
				"[stdout] acme",
				"[stdout] umbrella",
				"[stdout] alpha",
				"[stdout] beta",
			},
		},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			tool := fakeTool(t, `
args=""
for a in "$@"; do
  case "$a" in
    */orgs.txt) args="$args orgs.txt" ;;
    */repos.txt) args="$args repos.txt" ;;
    *) args="$args $a" ;;
  esac
done
echo $args
[ -f orgs.txt ] && cat orgs.txt && echo
[ -f repos.txt ] && cat repos.txt && echo
exit 0
`)
			job := run(t, tool, tt.given)
			require.Equal(t, service.StatusCompleted, job.Status())
			require.Equal(t, tt.then, job.Output())
		})
	}
}

func TestManagerEnvironment(t *testing.T) {
	tool := fakeTool(t, `echo "token=$GH_TOKEN host=$GH_HOST extra=$GH_EXTRA home=$REPOSTATS_TEST_HOME"`)
	t.Setenv("REPOSTATS_TEST_HOME", "/home/test")
	t.Setenv("REPOSTATS_TEST_VALUE", "expanded")
	tool.Env = map[string]string{"gh_extra": "$REPOSTATS_TEST_VALUE"}

	cfg := acme()
	cfg.Token = "s3cret"
	job := run(t, tool, cfg)
	require.Equal(t, []string{"[stdout] token=s3cret host=github.com extra=expanded home=/home/test"}, job.Output())

	require.NotEqual(t, "s3cret", os.Getenv("GH_TOKEN"), "process environment must not change")
}

func TestManagerFailed(t *testing.T) {
	t.Parallel()
	tool := fakeTool(t, `
i=1
while [ $i -le 12 ]; do
  echo "error line $i" >&2
  i=$((i+1))
done
exit 3
`)
	job := run(t, tool, acme())
	snap := job.Snapshot(false)
	require.Equal(t, service.StatusFailed, snap.Status)
	require.Equal(t, "Analysis failed", snap.Message)
	require.Len(t, snap.Errors, 2)
	require.Equal(t, "Script failed with code 3", snap.Errors[0])
	var tail []string
	for i := 3; i <= 12; i++ {
		tail = append(tail, fmt.Sprintf("error line %d", i))
	}
	require.Equal(t, strings.Join(tail, "\n"), snap.Errors[1])
	require.Zero(t, snap.ResultCount)
	require.Nil(t, snap.OutputLines)
	require.NotNil(t, snap.CompletedAt)
}

func TestManagerNoArtifact(t *testing.T) {
	t.Parallel()
	tool := fakeTool(t, `echo "Found 3 repositories" >&2`)
	job := run(t, tool, acme())
	snap := job.Snapshot(false)
	require.Equal(t, service.StatusCompleted, snap.Status)
	require.Equal(t, "Analysis complete but no output file found.", snap.Message)
	require.Equal(t, 100, snap.Progress)
	require.Equal(t, 3, snap.TotalRepos)
	require.Empty(t, job.Results())
}

func TestManagerMalformedArtifact(t *testing.T) {
	t.Parallel()
	tool := fakeTool(t, `printf 'a,b\n"broken,1\n' > acme-all_repos-1.csv`)
	job := run(t, tool, acme())
	snap := job.Snapshot(false)
	require.Equal(t, service.StatusCompleted, snap.Status)
	require.Equal(t, "Analysis complete. Found 0 repositories.", snap.Message)
	require.Zero(t, snap.TotalRepos)
}

func TestManagerStartFailure(t *testing.T) {
	t.Parallel()
	tool := service.Tool{Path: filepath.Join(t.TempDir(), "missing"), Grace: time.Second, WorkDir: t.TempDir()}
	m := service.NewManager(service.NewRegistry(), tool)
	job, err := m.Create(acme())
	require.NoError(t, err)
	err = m.Run(t.Context(), job.ID())
	require.Error(t, err)

	snap := job.Snapshot(false)
	require.Equal(t, service.StatusFailed, snap.Status)
	require.True(t, strings.HasPrefix(snap.Message, "Analysis failed: starting "), snap.Message)
	require.Len(t, snap.Errors, 1)
	require.False(t, job.Running())
}

func TestManagerOutputCap(t *testing.T) {
	t.Parallel()
	tool := fakeTool(t, `
i=0
while [ $i -lt 600 ]; do
  echo "line $i" >&2
  i=$((i+1))
done
`)
	job := run(t, tool, acme())
	out := job.Output()
	require.Len(t, out, 500)
	require.Equal(t, "line 100", out[0])
	require.Equal(t, "line 599", out[499])
}

func TestManagerCreateInvalid(t *testing.T) {
	t.Parallel()
	registry := service.NewRegistry()
	m := service.NewManager(registry, service.Tool{})
	_, err := m.Create(model.AnalysisConfig{Organizations: []string{" "}})
	require.ErrorIs(t, err, model.ErrInvalidConfig)
	require.Zero(t, registry.Len())
}

func TestManagerRunTwice(t *testing.T) {
	t.Parallel()
	tool := fakeTool(t, `exit 0`)
	m := service.NewManager(service.NewRegistry(), tool)
	job, err := m.Create(acme())
	require.NoError(t, err)
	require.NoError(t, m.Run(t.Context(), job.ID()))
	require.ErrorIs(t, m.Run(t.Context(), job.ID()), service.ErrJobNotPending)
	require.ErrorIs(t, m.Start(t.Context(), job.ID()), service.ErrJobNotPending)
	require.ErrorIs(t, m.Run(t.Context(), "nope"), service.ErrJobNotFound)
	require.ErrorIs(t, m.Start(t.Context(), "nope"), service.ErrJobNotFound)
}

// startRunning starts a job whose tool prints a progress line and then runs
// until it is signalled.
func startRunning(t *testing.T, ctx context.Context, tool service.Tool) (*service.Manager, *service.Job) {
	t.Helper()
	m := service.NewManager(service.NewRegistry(), tool)
	t.Cleanup(m.Wait)
	job, err := m.Create(acme())
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, job.ID()))
	require.Eventually(t, func() bool {
		return slices.Contains(job.Output(), "Processing 1/4: alpha")
	}, 10*time.Second, 10*time.Millisecond)
	require.Equal(t, service.StatusRunning, job.Status())
	require.True(t, job.Running())
	return m, job
}

const loopScript = `
echo "Processing 1/4: alpha" >&2
while true; do sleep 0.05; done
`

func TestManagerCancel(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		script   string
	}{
		{"graceful", "trap 'echo Processing 3/4: gamma >&2; exit 143' TERM" + loopScript},
		{"ignores terminate", "trap '' TERM" + loopScript},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			m, job := startRunning(t, t.Context(), fakeTool(t, tt.script))

			require.NoError(t, m.Cancel(t.Context(), job.ID()))
			snap := job.Snapshot(true)
			require.Equal(t, service.StatusFailed, snap.Status)
			require.Equal(t, "Analysis cancelled by user", snap.Message)
			require.Equal(t, ">>> Analysis cancelled by user <<<", snap.OutputLines[len(snap.OutputLines)-1])
			require.Equal(t, 25, snap.Progress, "progress is frozen once cancel is requested")
			require.Nil(t, snap.CurrentRepo)
			require.Empty(t, snap.Errors)
			require.False(t, job.Running())

			err := m.Cancel(t.Context(), job.ID())
			require.ErrorIs(t, err, service.ErrJobNotRunning)
			require.EqualError(t, err, "Job is not running (current status: failed)")
		})
	}
}

func TestManagerCancelNotRunning(t *testing.T) {
	t.Parallel()
	m := service.NewManager(service.NewRegistry(), service.Tool{})
	job, err := m.Create(acme())
	require.NoError(t, err)

	err = m.Cancel(t.Context(), job.ID())
	require.ErrorIs(t, err, service.ErrJobNotRunning)
	require.EqualError(t, err, "Job is not running (current status: pending)")
	require.Equal(t, service.StatusPending, job.Status())
	require.Empty(t, job.Snapshot(false).Message)

	require.ErrorIs(t, m.Cancel(t.Context(), "unknown"), service.ErrJobNotFound)
}

func TestManagerTimeout(t *testing.T) {
	t.Parallel()
	tool := fakeTool(t, loopScript)
	tool.Timeout = 200 * time.Millisecond

	job := run(t, tool, acme())
	snap := job.Snapshot(false)
	require.Equal(t, service.StatusFailed, snap.Status)
	require.Equal(t, "Analysis timed out", snap.Message)
	require.Equal(t, []string{"Analysis exceeded the timeout of 200ms"}, snap.Errors)
}

func TestManagerShutdown(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	m, job := startRunning(t, ctx, fakeTool(t, loopScript))

	cancel()
	m.Wait()
	snap := job.Snapshot(false)
	require.Equal(t, service.StatusFailed, snap.Status)
	require.Equal(t, "Analysis interrupted", snap.Message)
	require.Equal(t, []string{"Analysis interrupted: context canceled"}, snap.Errors)
}

func TestSnapshotJSON(t *testing.T) {
	t.Parallel()
	m := service.NewManager(service.NewRegistry(), service.Tool{})
	job, err := m.Create(acme())
	require.NoError(t, err)

	b, err := json.Marshal(job.Snapshot(false))
	require.NoError(t, err)
	require.JSONEq(t, fmt.Sprintf(`{
		"job_id": %q,
		"status": "pending",
		"progress": 0,
		"message": "",
		"errors": [],
		"result_count": 0,
		"current_repo": null,
		"total_repos": 0,
		"processed_repos": 0,
		"organizations": ["acme"],
		"started_at": null,
		"completed_at": null
	}`, job.ID()), string(b))
}
