package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ticketflow/internal/models"
	"ticketflow/internal/rulestore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg, log)
		if err != nil {
			return err
		}
		defer closeDatabase(db)

		log.Info("Starting database migration...")
		if err := db.AutoMigrate(models.AllModels()...); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		if err := rulestore.NewGormStore(db, log).Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate rule store: %w", err)
		}

		log.Info("Creating additional indexes...")
		for _, stmt := range []string{
			"CREATE INDEX IF NOT EXISTS idx_tickets_status_created ON tickets(status, created_at)",
			"CREATE INDEX IF NOT EXISTS idx_tickets_agent_status ON tickets(agent_id, status)",
			"CREATE INDEX IF NOT EXISTS idx_automation_runs_rule_created ON automation_runs(rule_id, created_at)",
		} {
			if err := db.Exec(stmt).Error; err != nil {
				log.Warnf("index: %v", err)
			}
		}

		log.Info("Database migration completed successfully!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
