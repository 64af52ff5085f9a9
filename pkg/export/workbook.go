package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/otherjamesbrown/bookpipe/pkg/join"
)

// Workbook sheet names.
const (
	SheetMaster     = "Master Data"
	SheetSummary    = "Summary"
	SheetPublishers = "Publisher Performance"
)

// SummaryMetric is one line of the workbook's summary sheet. Value holds an
// int for counts and a *float64 for means, nil when nothing contributed.
type SummaryMetric struct {
	Metric string
	Value  any
}

// Summary computes the headline metrics over the export rows. The community
// mean covers only rows with a positive community rating.
func Summary(rows []Row) []SummaryMetric {
	var withCommunity, flagged, gems, favorites int
	var ratings, community []float64
	for _, r := range rows {
		if r.HasCommunityRating {
			withCommunity++
		}
		if r.Flagged {
			flagged++
		}
		if r.Rating != nil {
			ratings = append(ratings, *r.Rating)
		}
		if r.CommunityRating > 0 {
			community = append(community, r.CommunityRating)
		}
		switch r.Category {
		case join.HiddenGem:
			gems++
		case join.PopularFavorite:
			favorites++
		}
	}
	return []SummaryMetric{
		{"Total Books", len(rows)},
		{"Books with Community Ratings", withCommunity},
		{"UK Publisher Books", flagged},
		{"Average Goodreads Rating", mean(ratings)},
		{"Average Community Rating", mean(community)},
		{"Hidden Gems", gems},
		{"Popular Favorites", favorites},
	}
}

// writeWorkbook saves the master rows, the summary and the publisher table as
// three sheets of one xlsx file.
func writeWorkbook(path string, rows []Row, stats []PublisherStat) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetMaster); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	master := make([][]any, 0, len(rows)+1)
	master = append(master, headerCells(Header))
	for _, r := range rows {
		master = append(master, r.cells())
	}
	if err := setRows(f, SheetMaster, master); err != nil {
		return err
	}

	summary := [][]any{{"Metric", "Value"}}
	for _, m := range Summary(rows) {
		v := m.Value
		if p, ok := v.(*float64); ok {
			v = deref(p)
		}
		summary = append(summary, []any{m.Metric, v})
	}
	if err := setRows(f, SheetSummary, summary); err != nil {
		return err
	}

	pubs := [][]any{{"Publisher", "Avg Rating", "Avg Reviews", "Avg Engagement", "Book Count"}}
	for _, s := range stats {
		pubs = append(pubs, []any{s.Publisher, deref(s.AvgRating), s.AvgReviews, deref(s.AvgEngagement), s.BookCount})
	}
	if err := setRows(f, SheetPublishers, pubs); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("adding sheet %s: %w", sheet, err)
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// cells returns r in Header order as typed cell values. Missing values are
// left blank.
func (r Row) cells() []any {
	var pages any
	if r.PageCount != nil {
		pages = *r.PageCount
	}
	return []any{
		r.Key,
		r.ISBN,
		r.Title,
		r.Authors,
		deref(r.Rating),
		r.ReviewCount,
		r.CommunityRating,
		r.CommunityCount,
		deref(r.StdDev),
		r.RatingGap,
		r.Category,
		deref(r.Engagement),
		r.Publisher,
		r.Flagged,
		pages,
		r.HasCommunityRating,
		r.RatingGapAbs,
	}
}

func headerCells(xs []string) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func deref(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func mean(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	m := sum / float64(len(xs))
	return &m
}
