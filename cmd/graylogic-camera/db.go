package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-camera/internal/eventlog"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-camera/migrations"
)

// openDatabase opens the event log database named by the service config.
func openDatabase(configPath string) (*database.DB, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(database.FromConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func newDBCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect or roll back the event log schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := openDatabase(*configPath)
				if err != nil {
					return err
				}
				defer db.Close()

				applied, pending, err := db.GetMigrationStatus(cmd.Context(), migrations.FS)
				if err != nil {
					return err
				}

				info, err := db.Info(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "database %s (sqlite %s, journal %s, %d bytes)\n\n",
					info.Path, info.SQLiteVersion, info.JournalMode, info.SizeBytes)

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED")
				for _, m := range applied {
					status := "applied"
					if m.Modified {
						status = "modified"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Version, m.Name, status, m.AppliedAt.Format(time.RFC3339))
				}
				for _, m := range pending {
					fmt.Fprintf(w, "%s\t%s\tpending\t-\n", m.Version, m.Name)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := openDatabase(*configPath)
				if err != nil {
					return err
				}
				defer db.Close()
				return db.Migrate(cmd.Context(), migrations.FS)
			},
		},
		newRollbackCmd(configPath),
	)

	return cmd
}

func newRollbackCmd(configPath *string) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			db, err := openDatabase(*configPath)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := db.Rollback(cmd.Context(), migrations.FS, steps)
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", n)
			return err
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func newEventsCmd(configPath *string) *cobra.Command {
	var filter eventlog.Filter

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded camera events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDatabase(*configPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context(), migrations.FS); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}

			result, err := eventlog.NewSQLiteRepository(db.DB).List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTYPE\tSTATE\tERROR")
			for _, e := range result.Events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Type, e.State, e.Error)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d events\n", len(result.Events), result.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Type, "type", "", "only events of this type")
	cmd.Flags().IntVar(&filter.Limit, "limit", eventlog.DefaultLimit, "page size (max 200)")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "events to skip")

	return cmd
}
