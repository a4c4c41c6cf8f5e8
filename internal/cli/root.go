// Package cli wires the gate engine into a cobra command tree. Commands
// open the store and event log on demand so the binary stays stateless
// between invocations; everything durable lives in ~/.gatewright/.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatewright/gatewright/internal/config"
	"github.com/gatewright/gatewright/internal/db"
	"github.com/gatewright/gatewright/internal/event"
	"github.com/gatewright/gatewright/internal/orchestrator"
	"github.com/gatewright/gatewright/internal/pipeline"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gatewright",
	Short: "gatewright — gate sequencing for autonomous dev pipelines",
	Long: `gatewright drives work items through a strict nine-stage gate sequence
(research through merge_deploy) with go/kill/hold/recycle decisions,
artifact drift detection and a shared token/cost budget.

All state is stored in ~/.gatewright/ (SQLite for the event log, JSON for
pipeline state and budget windows).`,
}

func Execute() error {
	return rootCmd.Execute()
}

// setup opens everything a stateful command needs. The caller must Close
// the returned DB.
func setup() (*orchestrator.Orchestrator, *db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := pipeline.DefaultStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	database, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	notifier := event.Multi{database, &event.Writer{W: os.Stderr}}
	return orchestrator.New(store, database, cfg, notifier), database, nil
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", errs[0])
	}
	return cfg, nil
}

func openDB() (*db.DB, error) {
	path, err := db.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./gatewright.yaml, then ~/.gatewright/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(dbCmd)
}
