package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/breezehq/breeze/db"
	"github.com/breezehq/breeze/internal/config"
	"github.com/breezehq/breeze/internal/log"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger := log.New(log.Config{Level: parseLogLevel(os.Getenv("BREEZE_LOG_LEVEL"))})
		if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
