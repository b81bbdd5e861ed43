package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/CZERTAINLY/RepoStats/internal/model"
)

const (
	orgsFile  = "orgs.txt"
	reposFile = "repos.txt"
)

// Tool is the resolved gh-repo-stats configuration.
type Tool struct {
	Path    string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
	Grace   time.Duration
	WorkDir string
}

func ToolFromConfig(cfg model.Tool) (Tool, error) {
	timeout, err := model.OptionalCueDuration(cfg.Timeout)
	if err != nil {
		return Tool{}, fmt.Errorf("parsing tool.timeout: %w", err)
	}
	grace, err := model.OptionalCueDuration(cfg.GracePeriod)
	if err != nil {
		return Tool{}, fmt.Errorf("parsing tool.grace_period: %w", err)
	}
	if grace == 0 {
		grace = 5 * time.Second
	}
	return Tool{
		Path:    cfg.Path,
		Args:    cfg.Args,
		Env:     cfg.Env,
		Timeout: timeout,
		Grace:   grace,
		WorkDir: cfg.WorkDir,
	}, nil
}

// Command writes the input files of cfg into dir and returns the
// invocation. The process environment is inherited, never modified.
func (t Tool) Command(dir string, cfg model.AnalysisConfig) (Command, error) {
	args := append([]string(nil), t.Args...)

	if len(cfg.Organizations) > 1 {
		path := filepath.Join(dir, orgsFile)
		if err := writeList(path, cfg.Organizations); err != nil {
			return Command{}, err
		}
		args = append(args, "-i", path)
	} else if len(cfg.Organizations) == 1 {
		args = append(args, "-o", cfg.Organizations[0])
	}

	if cfg.Hostname != model.DefaultHostname {
		args = append(args, "-H", cfg.Hostname)
	}
	args = append(args,
		"-O", "CSV",
		"-p", strconv.Itoa(cfg.RepoPageSize),
		"-e", strconv.Itoa(cfg.ExtraPageSize),
		"-y", cfg.TokenType,
	)
	if cfg.AnalyzeRepoConflicts {
		args = append(args, "-r")
	}
	if cfg.AnalyzeTeamConflicts {
		args = append(args, "-T")
	}
	if len(cfg.Repositories) > 0 {
		path := filepath.Join(dir, reposFile)
		if err := writeList(path, cfg.Repositories); err != nil {
			return Command{}, err
		}
		args = append(args, "-rl", path)
	}

	return Command{
		Path:    t.Path,
		Args:    args,
		Env:     t.environ(cfg),
		Dir:     dir,
		Timeout: t.Timeout,
		Grace:   t.Grace,
	}, nil
}

// environ is os.Environ with the configured variables and the credentials
// of cfg on top. Keys are upper cased, values starting with $ are expanded.
func (t Tool) environ(cfg model.AnalysisConfig) []string {
	env := os.Environ()
	for k, v := range t.Env {
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	if cfg.Token != "" {
		env = append(env, "GH_TOKEN="+cfg.Token)
	}
	if cfg.Hostname != "" {
		env = append(env, "GH_HOST="+cfg.Hostname)
	}
	return env
}

func writeList(path string, items []string) error {
	if err := os.WriteFile(path, []byte(strings.Join(items, "\n")), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
