package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pys60/pysbuild/internal/analytics"
	"github.com/pys60/pysbuild/internal/db"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query past runs recorded in the ledger",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := ledgerFromFlags(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := d.ListRuns(limit)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(runs, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tMODE\tSTATUS\tVERSION\tSDK\tSTARTED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s%s\t%s\t%s\n",
				shortRunID(r.ID), r.Mode, r.Status, r.Version, r.VersionTag, r.Platforms, r.StartedAt)
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show the timeline and artifacts of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := ledgerFromFlags(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		run, err := d.FindRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %q not found", args[0])
		}
		timeline, err := analytics.QueryRunTimeline(d, run.ID)
		if err != nil {
			return err
		}
		arts, err := d.GetArtifacts(run.ID)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(map[string]any{
				"run":       run,
				"timeline":  timeline,
				"artifacts": arts,
			}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run %s (%s) %s\n", run.ID, run.Mode, strings.ToUpper(run.Status))
		fmt.Fprintf(out, "Version %s%s, SDK %s, flavors %s\n", run.Version, run.VersionTag, run.Platforms, run.Flavors)
		fmt.Fprintf(out, "Started %s, finished %s\n", run.StartedAt, dash(run.FinishedAt))
		if run.Error != "" {
			fmt.Fprintf(out, "Error: %s\n", run.Error)
		}

		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tEVENT\tPHASE\tPLATFORM\tFLAVOR\tDETAIL")
		for _, e := range timeline {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp, e.Event, dash(e.Phase), dash(e.Platform), dash(e.Flavor), e.Detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if len(arts) == 0 {
			return nil
		}
		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ARTIFACT\tKIND\tSIZE")
		for _, a := range arts {
			fmt.Fprintf(w, "%s\t%s\t%s\n", filepath.Base(a.Path), a.Kind, humanize.Bytes(uint64(a.SizeBytes)))
		}
		return w.Flush()
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Phase durations, failure rates, tool statistics and weekly throughput",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := ledgerFromFlags(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		since, _ := cmd.Flags().GetString("since")
		durations, err := analytics.QueryPhaseDurations(d, since)
		if err != nil {
			return err
		}
		failures, err := analytics.QueryPhaseFailures(d, since)
		if err != nil {
			return err
		}
		tools, err := analytics.QueryToolStats(d, since)
		if err != nil {
			return err
		}
		throughput, err := analytics.QueryRunThroughput(d, since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(map[string]any{
				"phase_durations": durations,
				"phase_failures":  failures,
				"tools":           tools,
				"throughput":      throughput,
			}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PHASE\tCOUNT\tAVG(min)\tP50(min)\tP95(min)")
		for _, p := range durations {
			fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.1f\n", p.Phase, p.Count, p.Avg, p.P50, p.P95)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "PHASE\tATTEMPTS\tFAILED\tRATE")
		for _, f := range failures {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\n", f.Phase, f.Attempts, f.Failed, f.FailRate)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "TOOL\tCALLS\tFAILED\tIGNORED\tAVG(s)\tP95(s)")
		for _, t := range tools {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f\t%.1f\n", t.Tool, t.Calls, t.Failed, t.Ignored, t.Avg, t.P95)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WEEK\tSTARTED\tSUCCEEDED\tFAILED\tAVG(min)")
		for _, r := range throughput {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f\n", r.Period, r.Started, r.Succeeded, r.Failed, r.AvgDuration)
		}
		return w.Flush()
	},
}

// ledgerFromFlags opens the ledger given by --ledger or the settings.
func ledgerFromFlags(cmd *cobra.Command) (*db.DB, func(), error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, err
	}
	if path, _ := cmd.Flags().GetString("ledger"); path != "" {
		s.Ledger.Path = path
	}
	return openLedger(s)
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	historyCmd.PersistentFlags().String("ledger", "", "Ledger database (default: settings or ~/.pysbuild/ledger.db)")
	historyCmd.PersistentFlags().String("format", "text", "Output format: text or json")

	historyListCmd.Flags().Int("limit", 20, "Maximum number of runs, 0 for all")
	historyStatsCmd.Flags().String("since", "", "Only events at or after this timestamp (YYYY-MM-DD HH:MM:SS)")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyStatsCmd)
}
