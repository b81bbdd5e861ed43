// Package results ingests the CSV artifact written by gh-repo-stats and
// summarizes it.
package results

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	ColOrgName        = "Org_Name"
	ColRepoName       = "Repo_Name"
	ColRepoSize       = "Repo_Size(mb)"
	ColRecordCount    = "Record_Count"
	ColIssueCount     = "Issue_Count"
	ColPRCount        = "PR_Count"
	ColIsEmpty        = "Is_Empty"
	ColIsFork         = "isFork"
	ColIsArchived     = "isArchived"
	ColHasWiki        = "Has_Wiki"
	ColMigrationIssue = "Migration_Issue"
)

// ArtifactPattern matches the file name gh-repo-stats writes in CSV mode.
const ArtifactPattern = "*-all_repos-*.csv"

var numericColumns = map[string]struct{}{
	ColRepoSize:               {},
	ColRecordCount:            {},
	"Collaborator_Count":      {},
	"Protected_Branch_Count":  {},
	"PR_Review_Count":         {},
	"Milestone_Count":         {},
	ColIssueCount:             {},
	ColPRCount:                {},
	"PR_Review_Comment_Count": {},
	"Commit_Comment_Count":    {},
	"Issue_Comment_Count":     {},
	"Issue_Event_Count":       {},
	"Release_Count":           {},
	"Project_Count":           {},
	"Branch_Count":            {},
	"Tag_Count":               {},
	"Discussion_Count":        {},
}

var boolColumns = map[string]struct{}{
	ColIsEmpty:    {},
	ColIsFork:     {},
	ColIsArchived: {},
	ColHasWiki:    {},
}

// Parse reads a CSV document with a header row. Known numeric columns become
// int when they parse, known boolean columns compare against "true" ignoring
// case, everything else stays a string. Short rows get empty values.
func Parse(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var ret []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return ret, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(ret)+1, err)
		}
		fields := make([]Field, len(header))
		for i, name := range header {
			var raw string
			if i < len(row) {
				raw = row[i]
			}
			fields[i] = Field{Name: name, Value: coerce(name, raw)}
		}
		ret = append(ret, Record{fields: fields})
	}
}

func coerce(name, raw string) any {
	if _, ok := numericColumns[name]; ok && raw != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			return n
		}
		return raw
	}
	if _, ok := boolColumns[name]; ok {
		return strings.EqualFold(raw, "true")
	}
	return raw
}

// ParseArtifact parses the CSV file at path. Unreadable or malformed files
// yield no records, the job still ends with a "no results" outcome.
func ParseArtifact(ctx context.Context, path string) []Record {
	f, err := os.Open(path)
	if err != nil {
		slog.WarnContext(ctx, "opening artifact", "path", path, "error", err)
		return []Record{}
	}
	defer func() {
		_ = f.Close()
	}()

	records, err := Parse(f)
	if err != nil {
		slog.WarnContext(ctx, "parsing artifact", "path", path, "error", err)
		return []Record{}
	}
	if records == nil {
		records = []Record{}
	}
	return records
}

type Summary struct {
	TotalRepos      int `json:"total_repos"`
	TotalSizeMB     int `json:"total_size_mb"`
	ReposWithIssues int `json:"repos_with_issues"`
	AvgRecordCount  int `json:"avg_record_count"`
	EmptyRepos      int `json:"empty_repos"`
	ArchivedRepos   int `json:"archived_repos"`
	ForkedRepos     int `json:"forked_repos"`
	TotalPRs        int `json:"total_prs"`
	TotalIssues     int `json:"total_issues"`
}

// Summarize aggregates records. Missing or non numeric counts add zero.
func Summarize(records []Record) Summary {
	var s Summary
	if len(records) == 0 {
		return s
	}

	var totalRecords int
	for _, r := range records {
		s.TotalSizeMB += r.Int(ColRepoSize)
		totalRecords += r.Int(ColRecordCount)
		if v, ok := r.Get(ColMigrationIssue); ok {
			if str, ok := v.(string); ok && strings.EqualFold(str, "TRUE") {
				s.ReposWithIssues++
			}
		}
		if r.Bool(ColIsEmpty) {
			s.EmptyRepos++
		}
		if r.Bool(ColIsArchived) {
			s.ArchivedRepos++
		}
		if r.Bool(ColIsFork) {
			s.ForkedRepos++
		}
		s.TotalPRs += r.Int(ColPRCount)
		s.TotalIssues += r.Int(ColIssueCount)
	}
	s.TotalRepos = len(records)
	s.AvgRecordCount = int(math.RoundToEven(float64(totalRecords) / float64(len(records))))
	return s
}

// WriteCSV writes a header taken from the first record followed by one row
// per record. Nothing is written for no records.
func WriteCSV(w io.Writer, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	header := records[0].Keys()
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for _, r := range records {
		for i, name := range header {
			row[i] = r.String(name)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSV is WriteCSV into a string.
func CSV(records []Record) string {
	var sb strings.Builder
	_ = WriteCSV(&sb, records) // strings.Builder never fails
	return sb.String()
}

// DownloadName is the attachment name for the results of orgs.
func DownloadName(orgs []string) string {
	shown := orgs
	if len(shown) > 3 {
		shown = shown[:3]
	}
	name := strings.Join(shown, "-")
	if len(orgs) > 3 {
		name += fmt.Sprintf("-and-%d-more", len(orgs)-3)
	}
	return name + "-repo-stats.csv"
}
