package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gatewright/gatewright/internal/gate"
	"github.com/gatewright/gatewright/internal/orchestrator"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Manage work item pipelines",
}

var pipelineCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a new work item at the research stage",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, database, err := setup()
		if err != nil {
			return err
		}
		defer database.Close()

		ps, err := orch.Create(strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s: %s\n", ps.ID, ps.Title)
		return nil
	},
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all work items",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, database, err := setup()
		if err != nil {
			return err
		}
		defer database.Close()

		items, err := orch.List()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No work items found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-36s %-12s %-14s %s\n", "ID", "STATUS", "STAGE", "TITLE")
		fmt.Fprintf(w, "%-36s %-12s %-14s %s\n",
			strings.Repeat("-", 36),
			strings.Repeat("-", 12),
			strings.Repeat("-", 14),
			strings.Repeat("-", 5))
		for i := range items {
			ps := &items[i]
			fmt.Fprintf(w, "%-36s %-12s %-14s %s\n",
				ps.ID, itemStatus(ps), ps.CurrentStage, ps.Title)
		}
		return nil
	},
}

var pipelineStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show detailed work item status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, database, err := setup()
		if err != nil {
			return err
		}
		defer database.Close()

		ps, bs, err := orch.Status(args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Work item %s: %s\n", ps.ID, ps.Title)
		fmt.Fprintf(w, "  Status:        %s\n", itemStatus(ps))
		fmt.Fprintf(w, "  Current Stage: %s\n", ps.CurrentStage)
		fmt.Fprintf(w, "  Recycles:      %d\n", ps.RecycleCount)
		fmt.Fprintf(w, "  Budget:        %s (tokens %d/%d, cost %.2f/%.2f)\n",
			bs.Level, bs.TokensUsed, bs.TokensLimit, bs.CostUsed, bs.CostLimit)
		fmt.Fprintf(w, "  Created:       %s\n", ps.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "  Updated:       %s\n", ps.UpdatedAt.Format("2006-01-02 15:04:05"))

		fmt.Fprintln(w, "  Gates:")
		for _, s := range gate.Stages() {
			rec := ps.Record(s)
			if rec == nil {
				fmt.Fprintf(w, "    %-14s -\n", s)
				continue
			}
			line := fmt.Sprintf("    %-14s %s", s, rec.Status)
			if rec.RetryCount > 0 {
				line += fmt.Sprintf(" (retries %d)", rec.RetryCount)
			}
			if rec.Checksum != "" {
				line += fmt.Sprintf(" [locked %.12s]", rec.Checksum)
			}
			if rec.Reason != "" {
				line += ": " + rec.Reason
			}
			fmt.Fprintln(w, line)
		}
		return nil
	},
}

var pipelineAdvanceCmd = &cobra.Command{
	Use:   "advance <id>",
	Short: "Validate the current gate and apply the decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts orchestrator.AdvanceOptions
		opts.Abandon, _ = cmd.Flags().GetBool("abandon")
		opts.HumanDecisionPending, _ = cmd.Flags().GetBool("human-pending")
		opts.RiskScore, _ = cmd.Flags().GetFloat64("risk")
		opts.EstimatedCost, _ = cmd.Flags().GetFloat64("cost-estimate")

		orch, database, err := setup()
		if err != nil {
			return err
		}
		defer database.Close()

		res, err := orch.Advance(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s at %s: %s\n", res.ID, res.Stage, res.Action)
		for _, r := range res.Reasons {
			fmt.Fprintf(w, "  %s\n", r)
		}
		if len(res.Drifted) > 0 {
			fmt.Fprintf(w, "  invalidated: %s\n", strings.Join(res.Drifted, ", "))
		}
		if res.Action == "blocked" && res.CanRetry {
			fmt.Fprintln(w, "  retry available")
		}
		return nil
	},
}

var pipelineContextCmd = &cobra.Command{
	Use:   "context <id>",
	Short: "Print the pruned context snapshot the next stage will receive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, database, err := setup()
		if err != nil {
			return err
		}
		defer database.Close()

		snap, err := orch.Context(args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var pipelineResetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Reset a work item to the research stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")

		orch, database, err := setup()
		if err != nil {
			return err
		}
		defer database.Close()

		if err := orch.Reset(args[0], confirm); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset %s to %s\n", args[0], gate.Research)
		return nil
	},
}

func itemStatus(ps *gate.PipelineState) string {
	switch {
	case ps.Completed:
		return "completed"
	case ps.Killed:
		return "killed"
	default:
		return "in_progress"
	}
}

func init() {
	pipelineCmd.AddCommand(pipelineCreateCmd)
	pipelineCmd.AddCommand(pipelineListCmd)
	pipelineCmd.AddCommand(pipelineStatusCmd)
	pipelineCmd.AddCommand(pipelineAdvanceCmd)
	pipelineCmd.AddCommand(pipelineContextCmd)
	pipelineCmd.AddCommand(pipelineResetCmd)

	pipelineResetCmd.Flags().Bool("confirm", false, "Confirm the reset (required; history is preserved but all gates reopen)")

	pipelineAdvanceCmd.Flags().Bool("abandon", false, "Abandon the work item (kills it)")
	pipelineAdvanceCmd.Flags().Bool("human-pending", false, "A required human decision is still missing (holds the gate)")
	pipelineAdvanceCmd.Flags().Float64("risk", 0, "Risk score for the work the stage would commit to (0-1)")
	pipelineAdvanceCmd.Flags().Float64("cost-estimate", 0, "Estimated cost of the next stage, compared against the daily limit")
}
