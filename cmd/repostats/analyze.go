package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/RepoStats/internal/log"
	"github.com/CZERTAINLY/RepoStats/internal/model"
	"github.com/CZERTAINLY/RepoStats/internal/results"
	"github.com/CZERTAINLY/RepoStats/internal/service"
)

var (
	analyzeCfg model.AnalysisConfig
	flagOut    string
)

func init() {
	f := analyzeCmd.Flags()
	f.StringSliceVar(&analyzeCfg.Organizations, "org", nil, "organization to analyze, repeatable or comma separated")
	f.StringSliceVar(&analyzeCfg.Repositories, "repo", nil, "limit the analysis to these repositories")
	f.StringVar(&analyzeCfg.Hostname, "hostname", model.DefaultHostname, "GitHub host")
	f.IntVar(&analyzeCfg.RepoPageSize, "repo-page-size", model.DefaultRepoPageSize, "repositories per GraphQL page")
	f.IntVar(&analyzeCfg.ExtraPageSize, "extra-page-size", model.DefaultExtraPageSize, "items per page for issues and pull requests")
	f.StringVar(&analyzeCfg.TokenType, "token-type", model.TokenTypeUser, "token type, user or app")
	f.BoolVar(&analyzeCfg.AnalyzeRepoConflicts, "repo-conflicts", false, "report repository name conflicts")
	f.BoolVar(&analyzeCfg.AnalyzeTeamConflicts, "team-conflicts", false, "report team name conflicts")
	f.StringVar(&flagOut, "out", "", "write the results as CSV to this file")
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "analyze runs a single analysis in the foreground and prints its summary",
	Long: `analyze runs gh-repo-stats once and prints the final job status and
summary as JSON. The token is taken from GH_TOKEN.`,
	RunE: doAnalyze,
}

type analyzeReport struct {
	service.Snapshot
	Summary results.Summary `json:"summary"`
}

func doAnalyze(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tool, err := service.ToolFromConfig(config.Tool)
	if err != nil {
		return err
	}
	manager := service.NewManager(service.NewRegistry(), tool)
	job, err := manager.Create(analyzeCfg)
	if err != nil {
		return err
	}

	attrs := slog.Group("repostats",
		slog.String("cmd", "analyze"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)
	if err := manager.Run(ctx, job.ID()); err != nil {
		return err
	}

	records := job.Results()
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(analyzeReport{
		Snapshot: job.Snapshot(false),
		Summary:  results.Summarize(records),
	}); err != nil {
		return err
	}

	if job.Status() != service.StatusCompleted {
		return fmt.Errorf("analysis %s: %s", job.Status(), job.Snapshot(false).Message)
	}
	if flagOut == "" {
		return nil
	}
	if err := os.WriteFile(flagOut, []byte(results.CSV(records)), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", flagOut, err)
	}
	slog.InfoContext(ctx, "results written", "path", flagOut, "count", len(records))
	return nil
}
