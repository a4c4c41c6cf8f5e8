package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatewright/gatewright/internal/analytics"
)

var analyticsSince string

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query gate and budget analytics from the event log",
}

var analyticsDecisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Decision breakdown per stage (go/kill/hold/blocked/recycle)",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		results, err := analytics.QueryDecisionBreakdown(database, analyticsSince)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No decisions recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-14s %6s %4s %5s %5s %8s %8s %9s %9s\n",
			"STAGE", "TOTAL", "GO", "KILL", "HOLD", "BLOCKED", "RECYCLE", "KILL%", "BLOCK%")
		for _, b := range results {
			fmt.Fprintf(w, "%-14s %6d %4d %5d %5d %8d %8d %8.1f%% %8.1f%%\n",
				b.Stage, b.Total, b.Go, b.Kill, b.Hold, b.Blocked, b.Recycle, b.KillPct, b.BlockPct)
		}
		return nil
	},
}

var analyticsValidatorsCmd = &cobra.Command{
	Use:   "validators",
	Short: "Validator pass rates and mean durations per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		stats, err := analytics.QueryValidatorStats(database, analyticsSince)
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No validation runs recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-14s %-20s %6s %8s %10s %10s\n",
			"STAGE", "VALIDATOR", "RUNS", "PASS%", "TIMEOUT%", "AVG MS")
		for _, s := range stats {
			fmt.Fprintf(w, "%-14s %-20s %6d %7.1f%% %9.1f%% %10.0f\n",
				s.Stage, s.Validator, s.Runs, s.PassPct, s.TimeoutPct, s.AvgMs)
		}
		return nil
	},
}

var analyticsBudgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Total spend and budget halt counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		s, err := analytics.QueryBudgetSummary(database, analyticsSince)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Tokens:     %d\n", s.TotalTokens)
		fmt.Fprintf(w, "Cost:       %.2f\n", s.TotalCost)
		fmt.Fprintf(w, "Work items: %d\n", s.WorkItems)
		fmt.Fprintf(w, "Halts:      %d\n", s.Halts)
		return nil
	},
}

var analyticsRecyclesCmd = &cobra.Command{
	Use:   "recycles",
	Short: "Recycle counts by stage, most frequent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		stats, err := analytics.QueryRecycleStats(database, analyticsSince)
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No recycles recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-14s %s\n", "STAGE", "COUNT")
		for _, r := range stats {
			fmt.Fprintf(w, "%-14s %d\n", r.Stage, r.Count)
		}
		return nil
	},
}

func init() {
	analyticsCmd.PersistentFlags().StringVar(&analyticsSince, "since", "", "Only include rows at or after this timestamp (e.g. 2026-08-01)")

	analyticsCmd.AddCommand(analyticsDecisionsCmd)
	analyticsCmd.AddCommand(analyticsValidatorsCmd)
	analyticsCmd.AddCommand(analyticsBudgetCmd)
	analyticsCmd.AddCommand(analyticsRecyclesCmd)
}
