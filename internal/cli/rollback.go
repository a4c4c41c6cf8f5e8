package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gatewright/gatewright/internal/gate"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <id> <stage>",
	Short: "Roll a completed or paused gate back for redoing",
	Long: `Reopen a gate that already passed (or is on hold / pending review) and
block every later gate. Mid-validation gates cannot be rolled back; wait
for the decision or reset the work item.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, err := gate.ParseStage(args[1])
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")

		orch, database, err := setup()
		if err != nil {
			return err
		}
		defer database.Close()

		res, err := orch.Rollback(args[0], stage, reason)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Rolled back %s to %s\n", args[0], res.Stage)
		if len(res.Affected) > 0 {
			names := make([]string, len(res.Affected))
			for i, s := range res.Affected {
				names[i] = s.String()
			}
			fmt.Fprintf(w, "  blocked: %s\n", strings.Join(names, ", "))
		}
		return nil
	},
}

func init() {
	rollbackCmd.Flags().String("reason", "manual rollback", "Why the gate is being reopened")
}
