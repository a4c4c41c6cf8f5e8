package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatewright/gatewright/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Event log database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "Database schema up to date.")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the event log (destructive)",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			return fmt.Errorf("refusing to reset without --confirm")
		}

		path, err := db.DefaultDBPath()
		if err != nil {
			return err
		}
		database, err := db.Open(path)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Event log reset.")
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)

	dbResetCmd.Flags().Bool("confirm", false, "Confirm the reset")
}
