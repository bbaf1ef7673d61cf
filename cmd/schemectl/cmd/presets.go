// Package cmd - presets command
package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/presets"
)

var presetStart, presetEnd string

// presetsCmd prints sample drafts
var presetsCmd = &cobra.Command{
	Use:   "presets [key]",
	Short: "List the sample scheme drafts, or print one",
	Long: `Without a key, list the sample drafts. With a key, print that draft as
JSON for the given period, ready to edit and ingest.

Examples:
  schemectl presets
  schemectl presets bundle --start 2025-04-01 --end 2025-04-30 > bundle.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPresets,
}

func init() {
	presetsCmd.Flags().StringVar(&presetStart, "start", "", "validity start, YYYY-MM-DD (default: first day of this month)")
	presetsCmd.Flags().StringVar(&presetEnd, "end", "", "validity end, YYYY-MM-DD (default: last day of this month)")
}

func runPresets(cmd *cobra.Command, args []string) error {
	start, end, err := presetPeriod()
	if err != nil {
		return err
	}
	drafts := presets.Drafts(start, end)
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		sort.Slice(drafts, func(i, j int) bool { return drafts[i].Key < drafts[j].Key })
		for _, d := range drafts {
			fmt.Fprintf(out, "%-12s %s\n", d.Key, d.Description)
		}
		return nil
	}
	for _, d := range drafts {
		if d.Key == args[0] {
			_, err := fmt.Fprintln(out, d.JSON)
			return err
		}
	}
	return fmt.Errorf("unknown preset %q", args[0])
}

func presetPeriod() (string, string, error) {
	today := engine.DateOf(time.Now())
	first := engine.NewDate(today.Year(), today.Month(), 1)
	start, end := first, first.AddMonths(1).AddDays(-1)

	var err error
	if presetStart != "" {
		if start, err = engine.ParseDate(presetStart); err != nil {
			return "", "", fmt.Errorf("--start: %w", err)
		}
	}
	if presetEnd != "" {
		if end, err = engine.ParseDate(presetEnd); err != nil {
			return "", "", fmt.Errorf("--end: %w", err)
		}
	}
	if end.Before(start) {
		return "", "", fmt.Errorf("--end %s is before --start %s", end, start)
	}
	return start.String(), end.String(), nil
}
