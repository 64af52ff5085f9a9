package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/otherjamesbrown/bookpipe/pkg/join"
	"github.com/otherjamesbrown/bookpipe/pkg/tabular"
)

// Output file names.
const (
	FilePublishers  = "uk_publisher_performance.csv"
	FileComparison  = "rating_comparison.csv"
	FileHiddenGems  = "hidden_gems.csv"
	FileCohorts     = "demographic_insights.csv"
	FileSummary     = "executive_summary.csv"
	FileMarkdown    = "analysis_report.md"
	FileHTML        = "analysis_report.html"
	topN            = 10
	topHiddenGems   = 15
	noCohortLabel   = "(no reader)"
	undefinedMetric = "n/a"
	timestampLayout = "2006-01-02 15:04:05"
)

// WriteAll writes every CSV plus the markdown and HTML reports into dir and
// returns the paths written. Empty publisher, hidden gem and cohort tables
// are skipped.
func (r *Report) WriteAll(dir string) ([]string, error) {
	var written []string
	write := func(name string, header []string, rows [][]string) error {
		path := filepath.Join(dir, name)
		if err := tabular.WriteFile(path, header, rows); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	if len(r.Publishers) > 0 {
		if err := write(FilePublishers, publisherHeader, r.publisherRows()); err != nil {
			return written, err
		}
	}
	if len(r.Comparisons) > 0 {
		if err := write(FileComparison, append(append([]string{}, join.Columns...), "rating_difference"), comparisonRows(r.Comparisons)); err != nil {
			return written, err
		}
	}
	if len(r.HiddenGems) > 0 {
		rows := make([][]string, len(r.HiddenGems))
		for i, rec := range r.HiddenGems {
			rows[i] = rec.Values()
		}
		if err := write(FileHiddenGems, join.Columns, rows); err != nil {
			return written, err
		}
	}
	if len(r.Cohorts) > 0 {
		if err := write(FileCohorts, cohortHeader, r.cohortRows()); err != nil {
			return written, err
		}
	}
	if err := write(FileSummary, []string{"metric", "value"}, r.summaryRows()); err != nil {
		return written, err
	}

	md := r.Markdown()
	mdPath := filepath.Join(dir, FileMarkdown)
	if err := writeText(mdPath, []byte(md)); err != nil {
		return written, err
	}
	written = append(written, mdPath)

	html, err := RenderHTML(md)
	if err != nil {
		return written, err
	}
	htmlPath := filepath.Join(dir, FileHTML)
	if err := writeText(htmlPath, html); err != nil {
		return written, err
	}
	written = append(written, htmlPath)
	return written, nil
}

var publisherHeader = []string{"publisher", "avg_rating", "book_count", "rating_std", "avg_reviews", "avg_bc_rating", "avg_engagement"}

func (r *Report) publisherRows() [][]string {
	rows := make([][]string, len(r.Publishers))
	for i, p := range r.Publishers {
		rows[i] = []string{
			p.Publisher,
			tabular.FloatPtr(p.AvgRating),
			tabular.Int(p.BookCount),
			tabular.FloatPtr(p.RatingStd),
			tabular.Float(p.AvgReviews),
			tabular.FloatPtr(p.AvgCommunityRating),
			tabular.FloatPtr(p.AvgEngagement),
		}
	}
	return rows
}

func comparisonRows(cs []Comparison) [][]string {
	rows := make([][]string, len(cs))
	for i, c := range cs {
		rows[i] = append(c.Values(), tabular.FloatPtr(c.Difference))
	}
	return rows
}

var cohortHeader = []string{"age_group", "book_count", "avg_rating", "total_ratings"}

func (r *Report) cohortRows() [][]string {
	rows := make([][]string, len(r.Cohorts))
	for i, c := range r.Cohorts {
		rows[i] = []string{tabular.StringPtr(c.Cohort), tabular.Int(c.BookCount), tabular.Float(c.AvgRating), tabular.Int(c.TotalRatings)}
	}
	return rows
}

func (r *Report) summaryRows() [][]string {
	rows := make([][]string, len(r.Summary))
	for i, m := range r.Summary {
		rows[i] = []string{m.Name, tabular.FloatPtr(m.Value)}
	}
	return rows
}

// Markdown renders the analysis report.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# Analysis Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.Format(timestampLayout))

	b.WriteString("## Executive Summary\n\n")
	b.WriteString("| Metric | Value |\n|---|---:|\n")
	for _, m := range r.Summary {
		fmt.Fprintf(&b, "| %s | %s |\n", m.Name, formatMetric(m.Value))
	}
	b.WriteString("\n")

	if len(r.Publishers) > 0 {
		b.WriteString("## Top UK Publishers\n\n")
		b.WriteString("| Publisher | Avg Rating | Books | Avg Reviews | Avg Community Rating | Avg Engagement |\n")
		b.WriteString("|---|---:|---:|---:|---:|---:|\n")
		for _, p := range head(r.Publishers, topN) {
			fmt.Fprintf(&b, "| %s | %s | %d | %.2f | %s | %s |\n",
				escapeCell(p.Publisher), formatPtr(p.AvgRating), p.BookCount, p.AvgReviews,
				formatPtr(p.AvgCommunityRating), formatPtr(p.AvgEngagement))
		}
		b.WriteString("\n")
	}

	writeGapTable(&b, "Community Rates Higher", r.CommunityHigher)
	writeGapTable(&b, "Goodreads Rates Higher", r.CatalogHigher)

	if len(r.HiddenGems) > 0 {
		b.WriteString("## Top Hidden Gems\n\n")
		b.WriteString("| Title | Authors | Community Rating | Goodreads Reviews | Community Ratings |\n")
		b.WriteString("|---|---|---:|---:|---:|\n")
		for _, rec := range head(r.HiddenGems, topHiddenGems) {
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %s |\n",
				escapeCell(rec.Title), escapeCell(rec.Authors), formatPtr(rec.CommunityRating),
				rec.ReviewCount, tabular.IntPtr(rec.CommunityCount))
		}
		b.WriteString("\n")
	}

	if len(r.Cohorts) > 0 {
		b.WriteString("## Rating Preferences by Age Group\n\n")
		b.WriteString("| Age Group | Books | Avg Rating | Total Ratings |\n|---|---:|---:|---:|\n")
		for _, c := range r.Cohorts {
			label := noCohortLabel
			if c.Cohort != nil {
				label = *c.Cohort
			}
			fmt.Fprintf(&b, "| %s | %d | %.2f | %d |\n", label, c.BookCount, c.AvgRating, c.TotalRatings)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeGapTable(b *strings.Builder, title string, rows []Comparison) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s (%d)\n\n", title, len(rows))
	b.WriteString("| Title | Authors | Goodreads | Community | Difference |\n|---|---|---:|---:|---:|\n")
	for _, c := range head(rows, topN) {
		fmt.Fprintf(b, "| %s | %s | %s | %s | %s |\n",
			escapeCell(c.Title), escapeCell(c.Authors), formatPtr(c.Rating),
			formatPtr(c.CommunityRating), formatPtr(c.Difference))
	}
	b.WriteString("\n")
}

// RenderHTML converts report markdown to a standalone HTML page.
func RenderHTML(markdown string) ([]byte, error) {
	var content bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return nil, fmt.Errorf("markdown convert: %w", err)
	}
	var page bytes.Buffer
	page.WriteString("<!doctype html><html><head><meta charset='utf-8'><title>Analysis Report</title>")
	page.WriteString("<style>body{font-family:sans-serif;max-width:1000px;margin:0 auto;padding:1rem;}" +
		"table{border-collapse:collapse;width:100%;font-size:0.85rem;}" +
		"th,td{border:1px solid #a8a29e;padding:0.3rem 0.45rem;}thead th{background:#f1f5f9;}</style>")
	page.WriteString("</head><body>")
	page.Write(content.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}

func writeText(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func head[T any](xs []T, n int) []T {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}

func formatPtr(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatMetric(v *float64) string {
	if v == nil {
		return undefinedMetric
	}
	if *v == float64(int64(*v)) {
		return fmt.Sprintf("%d", int64(*v))
	}
	return fmt.Sprintf("%.2f", *v)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
