// Package main provides the bookpipe CLI entry point.
// bookpipe cleans a book catalog and community ratings, joins them into one
// scored master table and produces reports and dashboard exports from it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/bookpipe/cmd"
	"github.com/otherjamesbrown/bookpipe/config"
	"github.com/otherjamesbrown/bookpipe/pkg/buildinfo"
	bperrors "github.com/otherjamesbrown/bookpipe/pkg/errors"
	"github.com/otherjamesbrown/bookpipe/pkg/logging"
)

// Global flags and state.
var (
	cfgFile      string
	rawDir       string
	database     string
	timeout      time.Duration
	outputFormat string
	logLevel     string
	logFormat    string
	debug        bool

	// deps is shared by every subcommand; the root fills in Config and Logger.
	deps = cmd.DefaultDeps()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bookpipe",
	Short: "Book catalog and community ratings pipeline",
	Long: `bookpipe is a batch pipeline over a book catalog and a community ratings dataset.

It normalizes book identifiers, cleans the catalog, aggregates community
ratings per book and per reader cohort, joins both into one scored master
table, and writes reports and dashboard exports from it.

STAGES (in order):
  catalog   clean the catalog into the books table
  ratings   aggregate ratings and classify readers
  join      build the scored master table
  report    write analysis reports
  export    write dashboard exports

COMMON WORKFLOWS:
  Check inputs:     bookpipe explore
  Full run:         bookpipe run
  One stage:        bookpipe stage join
  Inspect results:  bookpipe db status  →  bookpipe db stats
  Mirror setup:     bookpipe auth set-password  →  bookpipe db ping

Every command supports --output json|yaml for structured output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		// Skip initialization for commands that don't need it.
		if c.Name() == "version" || c.Name() == "help" || c.Name() == "completion" {
			return nil
		}

		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		applyFlags(cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validating flags: %w", err)
		}

		deps.Config = cfg
		deps.ConfigPath = cfgFile
		deps.Logger = newLogger(cfg, os.Stderr)
		return nil
	},
}

// applyFlags overrides configuration with command-line flags.
func applyFlags(cfg *config.Config) {
	if rawDir != "" {
		cfg.Paths.RawDir = rawDir
	}
	if database != "" {
		cfg.Paths.Database = database
	}
	if timeout != 0 {
		cfg.Timeout = timeout
	}
	if outputFormat != "" {
		cfg.OutputFormat = config.OutputFormat(outputFormat)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = config.LogFormat(logFormat)
	}
	if debug {
		cfg.Debug = true
	}
}

// newLogger builds the logger for cfg. The auto format picks the console
// encoder only when out is a terminal.
func newLogger(cfg *config.Config, out io.Writer) logging.Logger {
	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = logging.LevelDebug
	}

	jsonFormat := cfg.LogFormat == config.LogFormatJSON
	noColor := false
	if cfg.LogFormat == config.LogFormatAuto {
		f, ok := out.(*os.File)
		tty := ok && term.IsTerminal(int(f.Fd()))
		jsonFormat = !tty
		noColor = !tty
	}

	return logging.NewLogger(&logging.Config{
		Level:       level,
		ServiceName: "bookpipe",
		JSONFormat:  jsonFormat,
		NoColor:     noColor,
		Output:      out,
	})
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of bookpipe.

Examples:
  bookpipe version
  bookpipe version --output json`,
	RunE: func(c *cobra.Command, args []string) error {
		info := buildinfo.Get()
		out := c.OutOrStdout()
		format := config.OutputFormat(outputFormat)
		switch format {
		case config.OutputFormatJSON, config.OutputFormatYAML:
			return cmd.WriteOutput(out, format, info)
		default:
			fmt.Fprintf(out, "bookpipe %s\n", buildinfo.String())
			fmt.Fprintf(out, "  go:       %s\n", info.GoVersion)
			fmt.Fprintf(out, "  platform: %s\n", info.Platform)
			return nil
		}
	},
}

func init() {
	// Global flags.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.bookpipe/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&rawDir, "raw-dir", "", "directory holding the raw input files")
	rootCmd.PersistentFlags().StringVar(&database, "database", "", "SQLite database path")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "overall run timeout (e.g., 10m)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: auto, json, console")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(cmd.NewExploreCommand(deps))
	rootCmd.AddCommand(cmd.NewRunCommand(deps))
	rootCmd.AddCommand(cmd.NewStageCommand(deps))
	rootCmd.AddCommand(cmd.NewReportCommand(deps))
	rootCmd.AddCommand(cmd.NewExportCommand(deps))
	rootCmd.AddCommand(cmd.NewDbCommand(deps))
	rootCmd.AddCommand(cmd.NewAuthCommand(deps))
	rootCmd.AddCommand(cmd.NewConfigCommand(deps))
}

// exitCode maps an error to the process exit status: 2 for bad input
// (missing sources, validation), 1 for everything else.
func exitCode(err error) int {
	if bperrors.IsMissingSource(err) || bperrors.IsValidation(err) {
		return 2
	}
	return 1
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var pe *bperrors.PipelineError
		if errors.As(err, &pe) {
			if action := bperrors.GetSuggestedAction(pe.Code); action != "" {
				fmt.Fprintf(os.Stderr, "Hint: %s\n", action)
			}
		}
		stop()
		os.Exit(exitCode(err))
	}
}
