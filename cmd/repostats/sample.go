package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/RepoStats/internal/results"
)

var flagSampleJSON bool

func init() {
	sampleCmd.Flags().BoolVar(&flagSampleJSON, "json", false, "print records and summary as JSON instead of CSV")
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "sample prints demo results",
	RunE: func(cmd *cobra.Command, _ []string) error {
		records := results.Sample()
		if !flagSampleJSON {
			return results.WriteCSV(cmd.OutOrStdout(), records)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"results": records,
			"summary": results.Summarize(records),
		})
	},
}
