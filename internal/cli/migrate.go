package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devhub-community/reputation-engine/internal/repository"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}

			db, err := repository.NewDB(&cfg.Database, log)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.RunMigrations(log); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
