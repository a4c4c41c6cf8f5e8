package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gatewright/gatewright/internal/budget"
	"github.com/gatewright/gatewright/internal/gate"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect and record token/cost usage",
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current budget levels",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, database, err := setup()
		if err != nil {
			return err
		}
		defer database.Close()

		s := orch.Tracker().Status()
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Overall: %s\n", s.Level)
		fmt.Fprintf(w, "  Tokens: %s  %d / %d per minute (%.0f%%)\n",
			s.TokenLevel, s.TokensUsed, s.TokensLimit, s.TokenFraction*100)
		fmt.Fprintf(w, "  Cost:   %s  %.2f / %.2f today (%.0f%%)\n",
			s.CostLevel, s.CostUsed, s.CostLimit, s.CostFraction*100)

		tokens, cost, err := database.UsageTotals("")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  All-time: %d tokens, %.2f cost\n", tokens, cost)
		return nil
	},
}

var budgetRecordCmd = &cobra.Command{
	Use:   "record <id> <stage> <tokens> <cost>",
	Short: "Record token and cost usage against the shared budget",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, err := gate.ParseStage(args[1])
		if err != nil {
			return err
		}
		tokens, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid token count: %s", args[2])
		}
		cost, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return fmt.Errorf("invalid cost: %s", args[3])
		}

		orch, database, err := setup()
		if err != nil {
			return err
		}
		defer database.Close()

		level, err := orch.RecordUsage(args[0], stage, tokens, cost)
		if errors.Is(err, budget.ErrBudgetHalt) {
			fmt.Fprintf(cmd.OutOrStdout(), "Budget halted; usage refused.\n")
			return err
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d tokens, %.2f cost (level: %s)\n", tokens, cost, level)
		return nil
	},
}

func init() {
	budgetCmd.AddCommand(budgetStatusCmd)
	budgetCmd.AddCommand(budgetRecordCmd)
}
