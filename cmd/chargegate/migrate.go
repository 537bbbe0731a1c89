package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/chargegate/internal/infrastructure/database"
	"github.com/nerrad567/chargegate/migrations"
)

func newMigrateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the credential store schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := openRaw(opts)
				if err != nil {
					return err
				}
				defer db.Close()

				if err := db.Migrate(cmd.Context(), migrations.FS); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := openRaw(opts)
				if err != nil {
					return err
				}
				defer db.Close()

				if err := db.MigrateDown(cmd.Context(), migrations.FS); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Rolled back one migration")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := openRaw(opts)
				if err != nil {
					return err
				}
				defer db.Close()

				applied, pending, err := db.GetMigrationStatus(cmd.Context(), migrations.FS)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tSTATE\tDETAIL")
				for _, m := range applied {
					fmt.Fprintf(tw, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
				}
				for _, m := range pending {
					fmt.Fprintf(tw, "%s\tpending\t%s\n", m.Version, m.Name)
				}
				return tw.Flush()
			},
		},
	)
	return cmd
}

// openRaw opens the database without applying migrations.
func openRaw(opts *options) (*database.DB, error) {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
