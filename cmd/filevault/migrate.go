package main

import (
	"database/sql"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"filevault/internal/config"
	"filevault/internal/store"

	_ "modernc.org/sqlite"
)

func newMigrateCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dryRun {
				// Opening the store applies pending migrations.
				st, err := store.Open(cfg.DBPath)
				if err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				if err := st.Close(); err != nil {
					return err
				}
			}

			status, err := migrationStatus(cfg.DBPath)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return writeJSON(status)
			}
			return printMigrationStatus(status, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show pending migrations without applying")
	return cmd
}

func migrationStatus(path string) (*store.MigrationStatus, error) {
	db, err := openRawDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	status, err := store.MigrationPlan(db)
	if err != nil {
		return nil, fmt.Errorf("inspect migrations: %w", err)
	}
	return status, nil
}

func printMigrationStatus(status *store.MigrationStatus, dryRun bool) error {
	if !dryRun {
		return writePlain("schema at version %d\n", status.CurrentVersion)
	}
	if err := writePlain("current version: %d\navailable version: %d\n", status.CurrentVersion, status.AvailableVersion); err != nil {
		return err
	}
	if len(status.Pending) == 0 {
		return writePlain("no pending migrations\n")
	}
	for _, m := range status.Pending {
		if err := writePlain("  %d: %s\n", m.Version, m.Description); err != nil {
			return err
		}
	}
	return nil
}

func openRawDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	return sql.Open("sqlite", u.String())
}
