package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	bperrors "github.com/otherjamesbrown/bookpipe/pkg/errors"
	"github.com/otherjamesbrown/bookpipe/pkg/ingest"
	"github.com/otherjamesbrown/bookpipe/pkg/logging"
)

// ExploreResult is the profile of every raw input.
type ExploreResult struct {
	RawDir string           `json:"raw_dir" yaml:"raw_dir"`
	Files  []ingest.Profile `json:"files" yaml:"files"`
}

// NewExploreCommand creates the 'explore' command, which profiles the raw inputs.
func NewExploreCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "explore",
		Short: "Profile the raw input files",
		Long: `Profile the raw input files before running the pipeline.

For each of the catalog, community books, ratings and users files, reports
whether it is present, its row and column counts, missing values per column and
basic statistics for numeric columns. The ratings file also reports its score
distribution with explicit and implicit (zero) ratings counted separately.

Nothing is written. A missing file is reported, not treated as an error; a
missing raw directory is.

Examples:
  bookpipe explore
  bookpipe explore --raw-dir ./data/raw --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplore(cmd.OutOrStdout(), deps)
		},
	}
}

func runExplore(out io.Writer, deps *CommandDeps) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Paths.RawDir); err != nil {
		return bperrors.NewMissingSource("explore", cfg.Paths.RawDir, err)
	}

	s := cfg.Settings()
	res := ExploreResult{RawDir: cfg.Paths.RawDir}
	for _, src := range []struct {
		path    string
		profile func(string) (ingest.Profile, error)
	}{
		{s.CatalogPath, ingest.ProfileCatalog},
		{s.CommunityBooksPath, ingest.ProfileCommunityBooks},
		{s.RatingsPath, ingest.ProfileRatings},
		{s.UsersPath, ingest.ProfileActors},
	} {
		p, err := src.profile(src.path)
		if err != nil {
			return err
		}
		if !p.Present {
			deps.logger().Warn("File not found", logging.F("source", p.Source), logging.F("path", p.Path))
		}
		res.Files = append(res.Files, p)
	}

	return writeOutput(out, cfg.OutputFormat, res, func(w io.Writer) error {
		return printExplore(w, res)
	})
}

func printExplore(w io.Writer, res ExploreResult) error {
	fmt.Fprintf(w, "Raw directory: %s\n", res.RawDir)
	for _, p := range res.Files {
		fmt.Fprintf(w, "\n%s (%s)\n", p.Source, p.Path)
		if !p.Present {
			fmt.Fprintln(w, "  File not found")
			continue
		}
		fmt.Fprintf(w, "  rows: %d  columns: %d  bad lines: %d\n", p.Rows, len(p.Columns), p.BadLines)
		for _, c := range p.Columns {
			fmt.Fprintf(w, "  %-22s missing=%d", c.Name, c.Missing)
			if n := c.Numeric; n != nil {
				fmt.Fprintf(w, "  count=%d mean=%.2f std=%.2f min=%g max=%g", n.Count, n.Mean, n.StdDev, n.Min, n.Max)
			}
			fmt.Fprintln(w)
		}
		if sc := p.Scores; sc != nil {
			fmt.Fprintf(w, "  explicit ratings: %d  implicit ratings: %d\n", sc.Explicit, sc.Implicit)
			for _, k := range sc.SortedScores() {
				fmt.Fprintf(w, "    %-4s %d\n", k, sc.Distribution[k])
			}
		}
	}
	return nil
}
