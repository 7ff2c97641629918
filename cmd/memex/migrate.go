package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/memex/internal/db/sqldb"
)

// NewMigrateCmd applies the metadata store migrations without opening the
// other backends.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply metadata store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := sqldb.Open(cmd.Context(), cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("open metadata store: %w", err)
			}
			defer func() { _ = db.Close() }()

			if err := db.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			v, err := db.SchemaVersion(cmd.Context())
			if err != nil {
				return fmt.Errorf("schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", db.Dialect(), v)
			return nil
		},
	}
}
