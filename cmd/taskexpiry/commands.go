package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibra15-cyber/todo-backend/internal/config"
	"github.com/ibra15-cyber/todo-backend/internal/domain"
	"github.com/ibra15-cyber/todo-backend/internal/engine"
	"github.com/ibra15-cyber/todo-backend/internal/store/postgres"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration (no connections made)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(config.Load()); err != nil {
			return invalidConfig(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print effective configuration as JSON (secrets masked)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		data, err := cfg.MaskedJSON()
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "taskexpiry version %s (commit: %s)\n", version, commit)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store != "postgres" {
			return invalidConfig(errors.New("migrate requires STORE=postgres"))
		}

		db, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := postgres.New(db).Migrate(cmd.Context())
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		for _, name := range applied {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
		}
		return nil
	},
}

var rehydrateLimit int

var rehydrateCmd = &cobra.Command{
	Use:   "rehydrate",
	Short: "Print the triggers a rehydration sweep would arm (dry run)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		b, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		plan, err := engine.PlanRehydration(cmd.Context(), b.store, cfg.RehydrateBatchSize)
		if err != nil {
			return fmt.Errorf("rehydrate: %w", err)
		}

		return printPlan(cmd, plan, rehydrateLimit)
	},
}

func init() {
	rehydrateCmd.Flags().IntVar(&rehydrateLimit, "limit", 0, "print at most this many triggers (0 = all)")
}

func printPlan(cmd *cobra.Command, plan []domain.ScheduledTrigger, limit int) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DUE\tOWNER\tTASK\tVERSION")
	for i, t := range plan {
		if limit > 0 && i >= limit {
			break
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.DueAt.UTC().Format(time.RFC3339), t.Key.OwnerID, t.Key.TaskID, t.PayloadVersion)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d pending task(s)\n", len(plan))
	return nil
}
