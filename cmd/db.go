package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/bookpipe/pkg/store"
)

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect the pipeline store",
		Long: `Inspect the local SQLite store and the optional PostgreSQL mirror.

Every stage hands its output to the next through tables in the local store.
These commands show what is there, the audit counters of past runs, and the
state of the mirror.

Examples:
  # Row counts per table
  bookpipe db status

  # Audit counters of the latest run
  bookpipe db stats

  # Copy every table to PostgreSQL now
  bookpipe db mirror`,
		Aliases: []string{"database"},
	}

	cmd.AddCommand(newDbStatusCommand(deps))
	cmd.AddCommand(newDbStatsCommand(deps))
	cmd.AddCommand(newDbMirrorCommand(deps))
	cmd.AddCommand(newDbPingCommand(deps))

	return cmd
}

// newDbStatusCommand creates the 'db status' subcommand.
func newDbStatusCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show row counts for every table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), cmd.OutOrStdout(), deps)
		},
	}
}

type dbStatusOutput struct {
	Database string              `json:"database" yaml:"database"`
	Tables   []store.TableStatus `json:"tables" yaml:"tables"`
}

func runDbStatus(ctx context.Context, out io.Writer, deps *CommandDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	st, err := deps.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	tables, err := st.Status(ctx)
	if err != nil {
		return err
	}

	res := dbStatusOutput{Database: st.Path(), Tables: tables}
	return writeOutput(out, cfg.OutputFormat, res, func(w io.Writer) error {
		fmt.Fprintf(w, "Database: %s\n\n", res.Database)
		fmt.Fprintf(w, "  %-22s %s\n", "TABLE", "ROWS")
		for _, t := range res.Tables {
			rows := "-"
			if t.Exists {
				rows = fmt.Sprintf("%d", t.Rows)
			}
			fmt.Fprintf(w, "  %-22s %s\n", t.Name, rows)
		}
		return nil
	})
}

// newDbStatsCommand creates the 'db stats' subcommand.
func newDbStatsCommand(deps *CommandDeps) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted audit counters",
		Long: `Show the audit counters recorded by each stage of a run.

Without --run-id the most recent run is shown.

Examples:
  bookpipe db stats
  bookpipe db stats --run-id 6f1c... --output yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStats(cmd.Context(), cmd.OutOrStdout(), deps, runID)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run to show (default: latest)")

	return cmd
}

func runDbStats(ctx context.Context, out io.Writer, deps *CommandDeps, runID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	st, err := deps.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.StageStats(ctx, runID)
	if err != nil {
		return err
	}
	if stats == nil {
		stats = []store.StageStat{}
	}

	return writeOutput(out, cfg.OutputFormat, stats, func(w io.Writer) error {
		if len(stats) == 0 {
			fmt.Fprintln(w, "No stage statistics recorded.")
			return nil
		}
		fmt.Fprintf(w, "Run %s\n", stats[0].RunID)
		stage := ""
		for _, s := range stats {
			if s.Stage != stage {
				stage = s.Stage
				fmt.Fprintf(w, "\n%s (%s)\n", stage, s.RecordedAt)
			}
			fmt.Fprintf(w, "  %-30s %d\n", s.Counter, s.Value)
		}
		return nil
	})
}

// newDbMirrorCommand creates the 'db mirror' subcommand.
func newDbMirrorCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "mirror",
		Short: "Copy every table to the PostgreSQL mirror",
		Long: `Copy every table in the local store to PostgreSQL, replacing the
mirror's copy. Tables that have not been written yet are skipped.

Connection settings come from store.postgres; the password from
BOOKPIPE_PG_PASSWORD or 'bookpipe auth set-password'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMirror(cmd.Context(), cmd.OutOrStdout(), deps)
		},
	}
}

func runDbMirror(ctx context.Context, out io.Writer, deps *CommandDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	st, err := deps.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	pool, err := deps.connectMirror(ctx, cfg)
	if err != nil {
		return err
	}
	mirror := store.NewPostgresMirror(pool)
	defer mirror.Close()

	results, err := mirror.Mirror(ctx, st, store.TableNames())
	if err != nil {
		return err
	}
	return writeOutput(out, cfg.OutputFormat, results, func(w io.Writer) error {
		if len(results) == 0 {
			fmt.Fprintln(w, "Nothing to mirror.")
			return nil
		}
		for _, r := range results {
			fmt.Fprintf(w, "  %-22s %d rows\n", r.Table, r.Rows)
		}
		return nil
	})
}

// newDbPingCommand creates the 'db ping' subcommand.
func newDbPingCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the PostgreSQL mirror connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbPing(cmd.Context(), cmd.OutOrStdout(), deps)
		},
	}
}

func runDbPing(ctx context.Context, out io.Writer, deps *CommandDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	pool, err := deps.connectMirror(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	res := store.CheckPostgres(ctx, pool)

	if err := writeOutput(out, cfg.OutputFormat, res, func(w io.Writer) error {
		if res.Healthy {
			fmt.Fprintf(w, "PostgreSQL OK (%dms, %d/%d conns in use)\n", res.LatencyMs, res.AcquiredConns, res.TotalConns)
			fmt.Fprintf(w, "Mirrored tables: %d/%d %s\n", len(res.Tables), len(store.TableNames()), strings.Join(res.Tables, ", "))
		} else {
			fmt.Fprintf(w, "PostgreSQL UNHEALTHY: %s\n", res.Error)
		}
		return nil
	}); err != nil {
		return err
	}
	if !res.Healthy {
		return errors.New("postgres mirror unhealthy")
	}
	return nil
}
