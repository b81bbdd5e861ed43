package model

import (
	"fmt"
	"slices"
	"strings"
)

const (
	DefaultHostname      = "github.com"
	DefaultRepoPageSize  = 10
	DefaultExtraPageSize = 50

	TokenTypeUser = "user"
	TokenTypeApp  = "app"
)

// AnalysisConfig describes a single gh-repo-stats invocation. It is not
// modified once a job has been created from it.
type AnalysisConfig struct {
	Organizations        []string `json:"organizations"`
	Repositories         []string `json:"repositories,omitempty"`
	Hostname             string   `json:"hostname"`
	RepoPageSize         int      `json:"repo_page_size"`
	ExtraPageSize        int      `json:"extra_page_size"`
	TokenType            string   `json:"token_type"`
	AnalyzeRepoConflicts bool     `json:"analyze_repo_conflicts"`
	AnalyzeTeamConflicts bool     `json:"analyze_team_conflicts"`

	// Token is handed to the tool through GH_TOKEN and never serialized.
	Token string `json:"-"`
}

// WithDefaults returns a copy with zero values replaced by defaults and
// names trimmed.
func (c AnalysisConfig) WithDefaults() AnalysisConfig {
	c = c.Clone()
	c.Organizations = trimAll(c.Organizations)
	c.Repositories = trimAll(c.Repositories)
	c.Hostname = strings.TrimSpace(c.Hostname)
	if c.Hostname == "" {
		c.Hostname = DefaultHostname
	}
	if c.RepoPageSize == 0 {
		c.RepoPageSize = DefaultRepoPageSize
	}
	if c.ExtraPageSize == 0 {
		c.ExtraPageSize = DefaultExtraPageSize
	}
	if c.TokenType == "" {
		c.TokenType = TokenTypeUser
	}
	c.Token = strings.TrimSpace(c.Token)
	return c
}

// Validate reports every problem at once, the returned error wraps
// ErrInvalidConfig.
func (c AnalysisConfig) Validate() error {
	var problems []string
	if len(c.Organizations) == 0 {
		problems = append(problems, "at least one organization is required")
	}
	if slices.ContainsFunc(c.Organizations, isBlank) {
		problems = append(problems, "organization names must not be blank")
	}
	if slices.ContainsFunc(c.Repositories, isBlank) {
		problems = append(problems, "repository names must not be blank")
	}
	if c.Hostname == "" {
		problems = append(problems, "hostname is required")
	}
	if c.RepoPageSize <= 0 {
		problems = append(problems, fmt.Sprintf("repo_page_size must be positive, got %d", c.RepoPageSize))
	}
	if c.ExtraPageSize <= 0 {
		problems = append(problems, fmt.Sprintf("extra_page_size must be positive, got %d", c.ExtraPageSize))
	}
	switch c.TokenType {
	case TokenTypeUser, TokenTypeApp:
	default:
		problems = append(problems, fmt.Sprintf("token_type must be %s or %s, got %q", TokenTypeUser, TokenTypeApp, c.TokenType))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// Clone returns a deep copy.
func (c AnalysisConfig) Clone() AnalysisConfig {
	c.Organizations = slices.Clone(c.Organizations)
	c.Repositories = slices.Clone(c.Repositories)
	return c
}

// SplitList splits user input separated by commas or newlines and drops
// empty entries.
func SplitList(s string) []string {
	var ret []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	}) {
		if f = strings.TrimSpace(f); f != "" {
			ret = append(ret, f)
		}
	}
	return ret
}

func trimAll(in []string) []string {
	for i := range in {
		in[i] = strings.TrimSpace(in[i])
	}
	return in
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
