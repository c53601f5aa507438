package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/brandintel/internal/model"
	"github.com/sells-group/brandintel/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline run history",
	Long:  "Commands for listing, viewing, archiving, and reaping pipeline runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, model.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run, artifacts included",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs archive --

var runsArchiveCmd = &cobra.Command{
	Use:   "archive <run-id>",
	Short: "Archive a run so the reaper keeps it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.SetRunStatus(ctx, args[0], model.RunStatusArchived); err != nil {
			return eris.Wrap(err, "runs archive")
		}

		fmt.Printf("Run %s archived.\n", args[0])
		return nil
	},
}

// -- runs reap --

var runsReapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Delete expired runs now instead of waiting for the reaper loop",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ReapExpiredRuns(ctx)
		if err != nil {
			return eris.Wrap(err, "runs reap")
		}

		fmt.Printf("Reaped %d expired run(s).\n", n)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (active, archived)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsArchiveCmd)
	runsCmd.AddCommand(runsReapCmd)
	rootCmd.AddCommand(runsCmd)
}

// initStore connects to Postgres and applies migrations. Used by the
// lightweight commands that need the store but not the full service.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("migrate"); err != nil {
		return nil, err
	}

	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL,
		&store.PoolConfig{MaxConns: cfg.Store.MaxConns, MinConns: cfg.Store.MinConns},
		time.Duration(cfg.Run.ExpirationDays)*24*time.Hour,
	)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	return st, nil
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tBRAND\tSTATUS\tARTIFACTS\tCREATED\tEXPIRES")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t---------\t-------\t-------")

	for _, r := range runs {
		brand := ""
		if r.Brand != nil {
			brand = r.Brand.Domain
		}
		if len(brand) > 30 {
			brand = brand[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			brand,
			r.Status,
			artifactFlags(r),
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.ExpiresAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// artifactFlags summarizes which phase artifacts a run has, in pipeline
// order: brand summary, competitor set, analyses, kernel.
func artifactFlags(r model.Run) string {
	flag := func(present bool, c string) string {
		if present {
			return c
		}
		return "-"
	}
	return flag(r.Brand != nil, "B") +
		flag(len(r.CompetitorsTen) > 0, "C") +
		flag(len(r.CompetitorsAnalyzed) > 0, "A") +
		flag(r.Kernel != nil, "K")
}

// truncateID shortens a run ID for compact display.
func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
