// Package export writes the master table in a form a spreadsheet or BI tool
// can load without further cleaning, plus a setup guide.
package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/otherjamesbrown/bookpipe/pkg/join"
	"github.com/otherjamesbrown/bookpipe/pkg/tabular"
)

// Stage is the pipeline stage name.
const Stage = "export"

// Output file names.
const (
	FileMaster     = "bookpipe_master_data.csv"
	FilePublishers = "publisher_performance.csv"
	FileWorkbook   = "bookpipe_master_data.xlsx"
	FileGuide      = "TABLEAU_SETUP_GUIDE.md"
)

// NoCategory fills a missing category.
const NoCategory = "No Category"

// Header is the display header of the master export.
var Header = []string{
	"Book Key", "ISBN", "Title", "Authors", "Goodreads Rating", "Goodreads Review Count",
	"Community Rating", "Community Rating Count", "Rating Std Dev", "Rating Gap",
	"Book Category", "Engagement Score", "Publisher", "Is UK Publisher", "Page Count",
	"Has Community Rating", "Rating Difference Abs",
}

// Row is one master record with nullable community fields filled.
type Row struct {
	Key                string
	ISBN               string
	Title              string
	Authors            string
	Rating             *float64
	ReviewCount        int64
	CommunityRating    float64
	CommunityCount     int64
	StdDev             *float64
	RatingGap          float64
	Category           string
	Engagement         *float64
	Publisher          string
	Flagged            bool
	PageCount          *int64
	HasCommunityRating bool
	RatingGapAbs       float64
}

// Rows converts master records. Community rating, count and gap default to
// zero and a missing category to NoCategory.
func Rows(master []join.Record) []Row {
	out := make([]Row, len(master))
	for i, rec := range master {
		r := Row{
			Key:         rec.Key,
			ISBN:        tabular.StringPtr(rec.ISBN),
			Title:       rec.Title,
			Authors:     rec.Authors,
			Rating:      rec.Rating,
			ReviewCount: rec.ReviewCount,
			StdDev:      rec.CommunityStdDev,
			Category:    rec.Category,
			Engagement:  rec.Engagement,
			Publisher:   rec.Publisher,
			Flagged:     rec.Flagged,
			PageCount:   rec.PageCount,
		}
		if rec.CommunityRating != nil {
			r.CommunityRating = *rec.CommunityRating
		}
		if rec.CommunityCount != nil {
			r.CommunityCount = *rec.CommunityCount
		}
		if rec.RatingGap != nil {
			r.RatingGap = *rec.RatingGap
		}
		if r.Category == "" {
			r.Category = NoCategory
		}
		r.HasCommunityRating = r.CommunityRating > 0
		r.RatingGapAbs = math.Abs(r.RatingGap)
		out[i] = r
	}
	return out
}

// Values returns r in Header order.
func (r Row) Values() []string {
	return []string{
		r.Key,
		r.ISBN,
		r.Title,
		r.Authors,
		tabular.FloatPtr(r.Rating),
		tabular.Int(r.ReviewCount),
		tabular.Float(r.CommunityRating),
		tabular.Int(r.CommunityCount),
		tabular.FloatPtr(r.StdDev),
		tabular.Float(r.RatingGap),
		r.Category,
		tabular.FloatPtr(r.Engagement),
		r.Publisher,
		tabular.Bool(r.Flagged),
		tabular.IntPtr(r.PageCount),
		tabular.Bool(r.HasCommunityRating),
		tabular.Float(r.RatingGapAbs),
	}
}

// PublisherStat summarizes every publisher in the export.
type PublisherStat struct {
	Publisher     string
	AvgRating     *float64
	AvgReviews    float64
	AvgEngagement *float64
	BookCount     int
}

// PublisherStats groups rows by publisher, highest mean engagement first.
// Means are rounded to two decimals.
func PublisherStats(rows []Row) []PublisherStat {
	type acc struct {
		rating, engagement []float64
		reviews            float64
		n                  int
	}
	groups := make(map[string]*acc)
	for _, r := range rows {
		a, ok := groups[r.Publisher]
		if !ok {
			a = &acc{}
			groups[r.Publisher] = a
		}
		if r.Rating != nil {
			a.rating = append(a.rating, *r.Rating)
		}
		if r.Engagement != nil {
			a.engagement = append(a.engagement, *r.Engagement)
		}
		a.reviews += float64(r.ReviewCount)
		a.n++
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]PublisherStat, 0, len(names))
	for _, name := range names {
		a := groups[name]
		out = append(out, PublisherStat{
			Publisher:     name,
			AvgRating:     mean2(a.rating),
			AvgReviews:    round2(a.reviews / float64(a.n)),
			AvgEngagement: mean2(a.engagement),
			BookCount:     a.n,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].AvgEngagement, out[j].AvgEngagement
		if a == nil {
			return false
		}
		return b == nil || *a > *b
	})
	return out
}

// Result lists the files an export wrote.
type Result struct {
	Rows  int
	Files []string
}

// Write writes the master export, the publisher table, a workbook holding
// both plus a summary sheet, and the setup guide into dir.
func Write(dir string, master []join.Record, now time.Time) (Result, error) {
	rows := Rows(master)
	res := Result{Rows: len(rows)}

	masterPath := filepath.Join(dir, FileMaster)
	values := make([][]string, len(rows))
	for i, r := range rows {
		values[i] = r.Values()
	}
	if err := tabular.WriteFile(masterPath, Header, values); err != nil {
		return res, err
	}
	res.Files = append(res.Files, masterPath)

	pubPath := filepath.Join(dir, FilePublishers)
	stats := PublisherStats(rows)
	pubRows := make([][]string, len(stats))
	for i, s := range stats {
		pubRows[i] = []string{s.Publisher, tabular.FloatPtr(s.AvgRating), tabular.Float(s.AvgReviews), tabular.FloatPtr(s.AvgEngagement), fmt.Sprint(s.BookCount)}
	}
	if err := tabular.WriteFile(pubPath, []string{"Publisher", "Avg Rating", "Avg Reviews", "Avg Engagement", "Book Count"}, pubRows); err != nil {
		return res, err
	}
	res.Files = append(res.Files, pubPath)

	bookPath := filepath.Join(dir, FileWorkbook)
	if err := writeWorkbook(bookPath, rows, stats); err != nil {
		return res, err
	}
	res.Files = append(res.Files, bookPath)

	guidePath := filepath.Join(dir, FileGuide)
	if err := os.WriteFile(guidePath, []byte(SetupGuide(FileMaster, now)), 0o644); err != nil {
		return res, fmt.Errorf("writing %s: %w", guidePath, err)
	}
	res.Files = append(res.Files, guidePath)
	return res, nil
}

// SetupGuide renders the BI setup guide for the exported file name.
func SetupGuide(file string, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Tableau Setup Guide\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", now.Format("2006-01-02 15:04:05"))
	b.WriteString("## Data Source\n\n")
	b.WriteString("1. Open Tableau Public\n2. Connect to Text File\n")
	fmt.Fprintf(&b, "3. Select: `%s`\n\n", file)
	b.WriteString("## Recommended Visualizations\n\n")
	b.WriteString("### 1. Publisher Performance Dashboard\n")
	b.WriteString("- Bar chart of Publisher vs Average Engagement Score\n- Filter: Is UK Publisher = True\n- Color: By Book Category\n\n")
	b.WriteString("### 2. Rating Comparison Scatter Plot\n")
	b.WriteString("- X-axis: Goodreads Rating\n- Y-axis: Community Rating\n- Size: Goodreads Review Count\n- Color: Book Category\n\n")
	b.WriteString("### 3. Hidden Gems Table\n")
	b.WriteString("- Filter: Book Category = 'Hidden Gem'\n- Sort: By Community Rating (Descending)\n")
	b.WriteString("- Columns: Title, Authors, Community Rating, Goodreads Review Count\n\n")
	b.WriteString("## Key Metrics\n\n")
	b.WriteString("- **Engagement Score**: rating × ln(review count + 1)\n")
	b.WriteString("- **Rating Gap**: community rating minus Goodreads rating\n")
	fmt.Fprintf(&b, "- **Book Category**: %s\n", strings.Join(join.Categories, ", "))
	return b.String()
}

func mean2(xs []float64) *float64 {
	m := mean(xs)
	if m != nil {
		*m = round2(*m)
	}
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
