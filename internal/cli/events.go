package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gatewright/gatewright/internal/db"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the durable gate event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		item, _ := cmd.Flags().GetString("item")
		limit, _ := cmd.Flags().GetInt("limit")

		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		var events []db.GateEvent
		if item != "" {
			events, err = database.GetGateHistory(item)
		} else {
			events, err = database.GetRecentGateEvents(limit)
		}
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events found.")
			return nil
		}

		w := cmd.OutOrStdout()
		for _, e := range events {
			line := fmt.Sprintf("%s  %-12s %-36s %s", e.Timestamp, e.Event, e.WorkItem, e.Stage)
			if e.Reason != "" {
				line += ": " + e.Reason
			}
			if len(e.AffectedStages) > 0 {
				line += fmt.Sprintf(" (affected: %s)", strings.Join(e.AffectedStages, ", "))
			}
			fmt.Fprintln(w, line)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().String("item", "", "Show events for one work item only")
	eventsCmd.Flags().Int("limit", 50, "Maximum events to show")
}
