package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/bookpipe/pkg/pipeline"
)

// NewRunCommand creates the 'run' command, which executes the whole pipeline.
func NewRunCommand(deps *CommandDeps) *cobra.Command {
	var (
		stages []string
		runID  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline",
		Long: `Run every pipeline stage in order: catalog, ratings, join, report, export.

The run stops at the first failing stage. Stages already completed keep their
outputs; later stages are not attempted. Each stage replaces its tables and
files, so re-running with the same inputs produces the same outputs.

When store.postgres.enabled is set, every table is mirrored to PostgreSQL after
a successful run. When events.redis_addr is set, stage and run events are
published to Redis.

Examples:
  # Run everything
  bookpipe run

  # Rebuild only the cleaned tables and the master table
  bookpipe run --stages catalog,ratings,join

  # Machine-readable summary
  bookpipe run --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd.Context(), cmd.OutOrStdout(), deps, stages, runID)
		},
	}

	cmd.Flags().StringSliceVar(&stages, "stages", pipeline.AllStages, "Comma-separated stages to run, in order")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run ID to stamp on stats and events (default: generated)")

	return cmd
}

// NewStageCommand creates the 'stage' command, which executes one stage.
func NewStageCommand(deps *CommandDeps) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "stage <" + strings.Join(pipeline.AllStages, "|") + ">",
		Short: "Run a single pipeline stage",
		Long: `Run a single pipeline stage against the local store.

A stage reads its inputs from the raw files or from tables written by earlier
stages. If an input is missing the stage fails with missing_source and writes
nothing.

Examples:
  bookpipe stage catalog
  bookpipe stage ratings
  bookpipe stage join`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: pipeline.AllStages,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd.Context(), cmd.OutOrStdout(), deps, args, runID)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run ID to stamp on stats and events (default: generated)")

	return cmd
}

// NewReportCommand creates the 'report' command.
func NewReportCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Generate analysis reports from the master table",
		Long: `Generate the analysis reports from the master table.

Writes publisher performance, rating comparison, hidden gems, demographic
insights and an executive summary as CSV files, plus analysis_report.md and
analysis_report.html, into <output_dir>/reports.

Requires a completed join stage.

Examples:
  bookpipe report
  bookpipe report --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd.Context(), cmd.OutOrStdout(), deps, []string{pipeline.StageReport}, "")
		},
	}
}

// NewExportCommand creates the 'export' command.
func NewExportCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export the master table for dashboards",
		Long: `Export the master table with display column names for dashboard tools.

Writes bookpipe_master_data.csv, publisher_performance.csv,
bookpipe_master_data.xlsx (Master Data, Summary and Publisher Performance sheets)
and TABLEAU_SETUP_GUIDE.md into <output_dir>/tableau.

Requires a completed join stage.

Examples:
  bookpipe export`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd.Context(), cmd.OutOrStdout(), deps, []string{pipeline.StageExport}, "")
		},
	}
}

// runStages opens a session, runs stages and prints the result. The run's
// error, if any, is returned after the summary is printed.
func runStages(ctx context.Context, out io.Writer, deps *CommandDeps, stages []string, runID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := pipeline.ValidateStages(stages); err != nil {
		return err
	}
	cfg, err := deps.config()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	sess, err := deps.openSession(ctx, runID)
	if err != nil {
		return err
	}
	defer sess.Close()

	res, runErr := sess.runner.Run(ctx, stages)
	sess.writeMetrics()

	if err := writeOutput(out, cfg.OutputFormat, res, func(w io.Writer) error {
		return printRunResult(w, res)
	}); err != nil {
		return err
	}
	return runErr
}

func printRunResult(w io.Writer, res *pipeline.RunResult) error {
	fmt.Fprintf(w, "Run %s\n", res.RunID)
	for _, s := range res.Stages {
		status := "ok"
		if !s.Success {
			status = "FAILED"
		}
		fmt.Fprintf(w, "  %-8s %-6s %8s  %s\n", s.Stage, status, formatDuration(s.Duration), formatCounters(s.Counters))
		if s.Error != "" {
			fmt.Fprintf(w, "           error: %s\n", s.Error)
		}
		for _, f := range s.Files {
			fmt.Fprintf(w, "           wrote %s\n", f)
		}
	}
	for _, m := range res.Mirrored {
		fmt.Fprintf(w, "  mirrored %s (%d rows)\n", m.Table, m.Rows)
	}
	if res.Success {
		fmt.Fprintf(w, "Completed in %s, %d master rows\n", formatDuration(res.CompletedAt.Sub(res.StartedAt)), res.MasterRows)
	} else {
		fmt.Fprintln(w, "Run failed")
	}
	return nil
}
