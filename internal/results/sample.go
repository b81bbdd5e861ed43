package results

var sampleColumns = []string{
	ColOrgName, ColRepoName, ColIsEmpty, "Last_Push", "Last_Update", ColIsFork, ColIsArchived,
	ColRepoSize, ColRecordCount, "Collaborator_Count", "Protected_Branch_Count", "PR_Review_Count",
	"Milestone_Count", ColIssueCount, ColPRCount, "PR_Review_Comment_Count", "Commit_Comment_Count",
	"Issue_Comment_Count", "Issue_Event_Count", "Release_Count", "Project_Count", "Branch_Count",
	"Tag_Count", "Discussion_Count", ColHasWiki, "Full_URL", ColMigrationIssue, "Created",
}

var sampleRows = [][]any{
	{"sample-org", "sample-repo-1", false, "2024-01-15T10:30:00Z", "2024-01-15T10:30:00Z", false, false,
		25, 1500, 15, 2, 45, 3, 120, 85, 230, 12, 450, 890, 15, 2, 8, 15, 5, true,
		"https://github.com/sample-org/sample-repo-1", "FALSE", "2020-03-15T08:00:00Z"},
	{"sample-org", "sample-repo-2", false, "2024-01-10T14:20:00Z", "2024-01-10T14:20:00Z", true, false,
		150, 65000, 45, 5, 200, 8, 500, 350, 1200, 50, 2000, 4500, 40, 5, 25, 40, 30, true,
		"https://github.com/sample-org/sample-repo-2", "TRUE", "2019-06-20T12:00:00Z"},
	{"sample-org", "archived-repo", false, "2022-05-01T09:00:00Z", "2022-05-01T09:00:00Z", false, true,
		5, 200, 3, 0, 10, 1, 20, 15, 30, 5, 40, 100, 3, 0, 2, 3, 0, false,
		"https://github.com/sample-org/archived-repo", "FALSE", "2018-01-10T16:00:00Z"},
	{"sample-org", "empty-repo", true, "", "2024-01-01T08:00:00Z", false, false,
		0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, true,
		"https://github.com/sample-org/empty-repo", "FALSE", "2024-01-01T08:00:00Z"},
}

// Sample returns demo results, used when no tool run is available.
func Sample() []Record {
	ret := make([]Record, 0, len(sampleRows))
	for _, row := range sampleRows {
		fields := make([]Field, len(sampleColumns))
		for i, name := range sampleColumns {
			fields[i] = Field{Name: name, Value: row[i]}
		}
		ret = append(ret, Record{fields: fields})
	}
	return ret
}
