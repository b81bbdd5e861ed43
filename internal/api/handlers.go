package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/CZERTAINLY/RepoStats/internal/model"
	"github.com/CZERTAINLY/RepoStats/internal/results"
	"github.com/CZERTAINLY/RepoStats/internal/service"
)

const (
	defaultJobsLimit = 10
	sampleID         = "sample"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": s.version,
	})
}

type analyzeResponse struct {
	JobID   string         `json:"job_id"`
	Status  service.Status `json:"status"`
	Message string         `json:"message"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := analysisConfig(r)
	if err != nil {
		writeJSON(ctx, w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if len(cfg.Organizations) == 0 {
		writeJSON(ctx, w, http.StatusBadRequest, errorBody{Error: "At least one organization is required"})
		return
	}

	job, err := s.manager.Create(cfg)
	if errors.Is(err, model.ErrInvalidConfig) {
		writeJSON(ctx, w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "creating job", "error", err)
		writeJSON(ctx, w, http.StatusInternalServerError, errorBody{Error: "Failed to create job"})
		return
	}
	if err := s.manager.Start(s.ctx, job.ID()); err != nil {
		slog.ErrorContext(ctx, "starting job", "job_id", job.ID(), "error", err)
		writeJSON(ctx, w, http.StatusInternalServerError, errorBody{Error: "Failed to start job"})
		return
	}
	slog.InfoContext(ctx, "analysis accepted", "job_id", job.ID(), "organizations", cfg.Organizations)
	writeJSON(ctx, w, http.StatusOK, analyzeResponse{
		JobID:   job.ID(),
		Status:  service.StatusPending,
		Message: "Analysis started",
	})
}

// analysisConfig reads an analysis request from a urlencoded or multipart
// form. Organizations come from the organizations field and the optional
// org_file upload, one name per line.
func analysisConfig(r *http.Request) (model.AnalysisConfig, error) {
	var cfg model.AnalysisConfig
	if err := r.ParseMultipartForm(maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return cfg, fmt.Errorf("Invalid form: %w", err)
	}

	cfg.Organizations = model.SplitList(r.FormValue("organizations"))
	if f, _, err := r.FormFile("org_file"); err == nil {
		b, err := io.ReadAll(io.LimitReader(f, maxUpload))
		_ = f.Close()
		if err != nil {
			return cfg, fmt.Errorf("Invalid org_file: %w", err)
		}
		cfg.Organizations = append(cfg.Organizations, model.SplitList(string(b))...)
	}
	cfg.Repositories = model.SplitList(r.FormValue("repo_list"))
	cfg.Hostname = r.FormValue("hostname")
	cfg.TokenType = r.FormValue("token_type")
	cfg.Token = r.FormValue("token")

	var err error
	if cfg.RepoPageSize, err = formInt(r, "repo_page_size"); err != nil {
		return cfg, err
	}
	if cfg.ExtraPageSize, err = formInt(r, "extra_page_size"); err != nil {
		return cfg, err
	}
	cfg.AnalyzeRepoConflicts = formBool(r, "analyze_repo_conflicts")
	cfg.AnalyzeTeamConflicts = formBool(r, "analyze_team_conflicts")
	return cfg, nil
}

func formInt(r *http.Request, name string) (int, error) {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("Invalid %s: %q is not a number", name, v)
	}
	return n, nil
}

func formBool(r *http.Request, name string) bool {
	switch strings.ToLower(strings.TrimSpace(r.FormValue(name))) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}

type statusResponse struct {
	service.Snapshot
	OutputLines []string `json:"output_lines"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	job, ok := s.job(w, r)
	if !ok {
		return
	}
	if !strings.EqualFold(r.URL.Query().Get("output"), "true") {
		writeJSON(r.Context(), w, http.StatusOK, job.Snapshot(false))
		return
	}
	snap := job.Snapshot(true)
	lines := snap.OutputLines
	if lines == nil {
		lines = []string{}
	}
	writeJSON(r.Context(), w, http.StatusOK, statusResponse{Snapshot: snap, OutputLines: lines})
}

type cancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := s.manager.Cancel(ctx, mux.Vars(r)["id"])
	switch {
	case err == nil:
		writeJSON(ctx, w, http.StatusOK, cancelResponse{Success: true, Message: "Job cancellation requested"})
	case errors.Is(err, service.ErrJobNotFound):
		writeJSON(ctx, w, http.StatusNotFound, cancelResponse{Error: "Job not found"})
	case errors.Is(err, service.ErrJobNotRunning):
		writeJSON(ctx, w, http.StatusBadRequest, cancelResponse{Error: err.Error()})
	default:
		// the request went away before the process exited, the job still stops
		slog.WarnContext(ctx, "waiting for cancellation", "error", err)
		writeJSON(ctx, w, http.StatusAccepted, cancelResponse{Success: true, Message: "Job cancellation requested"})
	}
}

type resultsResponse struct {
	JobID   string           `json:"job_id"`
	Status  service.Status   `json:"status"`
	Results []results.Record `json:"results"`
	Summary results.Summary  `json:"summary"`
	Errors  []string         `json:"errors"`
}

func (s *Server) results(w http.ResponseWriter, r *http.Request) {
	job, ok := s.job(w, r)
	if !ok {
		return
	}
	st := job.Status()
	if !st.Terminal() {
		writeJSON(r.Context(), w, http.StatusOK, analyzeResponse{
			JobID:   job.ID(),
			Status:  st,
			Message: "Job is still running",
		})
		return
	}
	records := job.Results()
	if records == nil {
		records = []results.Record{}
	}
	errs := job.Errors()
	if errs == nil {
		errs = []string{}
	}
	writeJSON(r.Context(), w, http.StatusOK, resultsResponse{
		JobID:   job.ID(),
		Status:  st,
		Results: records,
		Summary: results.Summarize(records),
		Errors:  errs,
	})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == sampleID {
		writeCSV(w, r, "sample-repo-stats.csv", results.Sample())
		return
	}
	job, ok := s.job(w, r)
	if !ok {
		return
	}
	if job.Status() != service.StatusCompleted {
		writeJSON(r.Context(), w, http.StatusBadRequest, errorBody{Error: "Job not completed"})
		return
	}
	writeCSV(w, r, results.DownloadName(job.Config().Organizations), job.Results())
}

func writeCSV(w http.ResponseWriter, r *http.Request, name string, records []results.Record) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	if err := results.WriteCSV(w, records); err != nil {
		slog.DebugContext(r.Context(), "writing csv", "error", err)
	}
}

type jobEntry struct {
	ID             string         `json:"job_id"`
	Status         service.Status `json:"status"`
	Progress       int            `json:"progress"`
	Message        string         `json:"message"`
	Organizations  []string       `json:"organizations"`
	ResultCount    int            `json:"result_count"`
	TotalRepos     int            `json:"total_repos"`
	ProcessedRepos int            `json:"processed_repos"`
	StartedAt      *time.Time     `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at"`
}

type jobsResponse struct {
	Jobs []jobEntry `json:"jobs"`
}

func (s *Server) jobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(r.Context(), w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative number"})
			return
		}
		limit = n
	}

	resp := jobsResponse{Jobs: []jobEntry{}}
	for _, job := range s.manager.Recent(limit) {
		snap := job.Snapshot(false)
		resp.Jobs = append(resp.Jobs, jobEntry{
			ID:             snap.ID,
			Status:         snap.Status,
			Progress:       snap.Progress,
			Message:        snap.Message,
			Organizations:  snap.Organizations,
			ResultCount:    snap.ResultCount,
			TotalRepos:     snap.TotalRepos,
			ProcessedRepos: snap.ProcessedRepos,
			StartedAt:      snap.StartedAt,
			CompletedAt:    snap.CompletedAt,
		})
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

type sampleResponse struct {
	Results []results.Record `json:"results"`
	Summary results.Summary  `json:"summary"`
}

func (s *Server) sample(w http.ResponseWriter, r *http.Request) {
	records := results.Sample()
	writeJSON(r.Context(), w, http.StatusOK, sampleResponse{
		Results: records,
		Summary: results.Summarize(records),
	})
}

func (s *Server) validateToken(w http.ResponseWriter, r *http.Request) {
	token, host := credentials(r)
	if token == "" {
		writeJSON(r.Context(), w, http.StatusBadRequest, map[string]any{
			"valid":   false,
			"message": "No token provided",
		})
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, s.github.ValidateToken(r.Context(), token, host))
}

func (s *Server) rateLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, host := credentials(r)
	if token == "" {
		writeJSON(ctx, w, http.StatusBadRequest, errorBody{Error: "No token provided"})
		return
	}
	rl, err := s.github.RateLimit(ctx, token, host)
	if err != nil {
		slog.WarnContext(ctx, "fetching rate limit", "host", host, "error", err)
		writeJSON(ctx, w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	writeJSON(ctx, w, http.StatusOK, rl)
}

func credentials(r *http.Request) (token, host string) {
	_ = r.ParseMultipartForm(maxUpload)
	token = strings.TrimSpace(r.FormValue("token"))
	host = strings.TrimSpace(r.FormValue("hostname"))
	if host == "" {
		host = model.DefaultHostname
	}
	return token, host
}

// job resolves the {id} route variable and answers 404 for unknown ids.
func (s *Server) job(w http.ResponseWriter, r *http.Request) (*service.Job, bool) {
	job, ok := s.manager.Get(mux.Vars(r)["id"])
	if !ok {
		writeJSON(r.Context(), w, http.StatusNotFound, errorBody{Error: "Job not found"})
	}
	return job, ok
}
