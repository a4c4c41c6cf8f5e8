package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatewright/gatewright/internal/gate"
)

var reviewCmd = &cobra.Command{
	Use:   "review <id> <stage>",
	Short: "Resolve a pending human review on a stage gate",
	Long: `Resolve a gate that stopped at pending_review. Exactly one of
--approve, --reject or --bypass is required. Stages configured for
independent review refuse approval by the actor who produced the work.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, err := gate.ParseStage(args[1])
		if err != nil {
			return err
		}
		outcome, err := reviewOutcome(cmd)
		if err != nil {
			return err
		}
		reviewer, _ := cmd.Flags().GetString("reviewer")
		if reviewer == "" {
			return fmt.Errorf("--reviewer is required")
		}

		orch, database, err := setup()
		if err != nil {
			return err
		}
		defer database.Close()

		if err := orch.Review(args[0], stage, outcome, reviewer); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Review on %s %s: %s by %s\n", args[0], stage, outcome, reviewer)
		return nil
	},
}

func reviewOutcome(cmd *cobra.Command) (gate.ReviewOutcome, error) {
	approve, _ := cmd.Flags().GetBool("approve")
	reject, _ := cmd.Flags().GetBool("reject")
	bypass, _ := cmd.Flags().GetBool("bypass")

	set := 0
	for _, b := range []bool{approve, reject, bypass} {
		if b {
			set++
		}
	}
	if set != 1 {
		return "", fmt.Errorf("exactly one of --approve, --reject, --bypass is required")
	}
	switch {
	case approve:
		return gate.ReviewApproved, nil
	case reject:
		return gate.ReviewRejected, nil
	default:
		return gate.ReviewBypassed, nil
	}
}

func init() {
	reviewCmd.Flags().Bool("approve", false, "Approve the gate")
	reviewCmd.Flags().Bool("reject", false, "Reject the gate (kills the work item)")
	reviewCmd.Flags().Bool("bypass", false, "Bypass the review gate")
	reviewCmd.Flags().String("reviewer", "", "Identity of the reviewer")
}
