// Package report derives the analyst summaries from the joined master table:
// flagged publisher performance, catalog vs community rating gaps, hidden
// gems, cohort preferences and an executive summary.
package report

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/otherjamesbrown/bookpipe/pkg/join"
	"github.com/otherjamesbrown/bookpipe/pkg/ratings"
)

// Stage is the pipeline stage name.
const Stage = "report"

// Rules holds the report thresholds.
type Rules struct {
	// GapThreshold is the absolute rating difference that counts as a gap.
	GapThreshold float64 `yaml:"gap_threshold" json:"gap_threshold"`
	// GemMinRating is the minimum rescaled community rating of a hidden gem.
	GemMinRating float64 `yaml:"gem_min_rating" json:"gem_min_rating"`
	// GemMaxReviews is the exclusive upper bound on catalog reviews.
	GemMaxReviews int64 `yaml:"gem_max_reviews" json:"gem_max_reviews"`
	// GemMinCommunityCount is the minimum community rating count.
	GemMinCommunityCount int64 `yaml:"gem_min_community_count" json:"gem_min_community_count"`
}

// DefaultRules returns the standard thresholds.
func DefaultRules() Rules {
	return Rules{
		GapThreshold:         0.5,
		GemMinRating:         4.0,
		GemMaxReviews:        500,
		GemMinCommunityCount: 20,
	}
}

// PublisherPerformance summarizes one flagged publisher.
type PublisherPerformance struct {
	Publisher          string   `json:"publisher" yaml:"publisher"`
	AvgRating          *float64 `json:"avg_rating" yaml:"avg_rating"`
	BookCount          int64    `json:"book_count" yaml:"book_count"`
	RatingStd          *float64 `json:"rating_std" yaml:"rating_std"`
	AvgReviews         float64  `json:"avg_reviews" yaml:"avg_reviews"`
	AvgCommunityRating *float64 `json:"avg_bc_rating" yaml:"avg_bc_rating"`
	AvgEngagement      *float64 `json:"avg_engagement" yaml:"avg_engagement"`
}

// Comparison is a master row that carries a community rating.
type Comparison struct {
	join.Record
	Difference *float64 `json:"rating_difference"`
}

// CohortSummary aggregates the cohort table by age group.
type CohortSummary struct {
	Cohort       *string `json:"age_group" yaml:"age_group"`
	BookCount    int64   `json:"book_count" yaml:"book_count"`
	AvgRating    float64 `json:"avg_rating" yaml:"avg_rating"`
	TotalRatings int64   `json:"total_ratings" yaml:"total_ratings"`
}

// Metric is one executive summary line. Value is nil when undefined.
type Metric struct {
	Name  string   `json:"metric" yaml:"metric"`
	Value *float64 `json:"value" yaml:"value"`
}

// Report is the full set of derived summaries.
type Report struct {
	GeneratedAt     time.Time              `json:"generated_at" yaml:"generated_at"`
	Publishers      []PublisherPerformance `json:"publishers" yaml:"publishers"`
	Comparisons     []Comparison           `json:"-" yaml:"-"`
	CommunityHigher []Comparison           `json:"-" yaml:"-"`
	CatalogHigher   []Comparison           `json:"-" yaml:"-"`
	HiddenGems      []join.Record          `json:"hidden_gems" yaml:"hidden_gems"`
	Cohorts         []CohortSummary        `json:"cohorts" yaml:"cohorts"`
	Summary         []Metric               `json:"summary" yaml:"summary"`
}

// Build derives every summary. demographics may be nil when the cohort table
// is unavailable.
func Build(master []join.Record, demographics []ratings.CohortAggregate, rules Rules, now time.Time) *Report {
	r := &Report{GeneratedAt: now}
	r.Publishers = PublisherSummary(master)
	r.Comparisons = Compare(master)
	r.CommunityHigher, r.CatalogHigher = Gaps(r.Comparisons, rules.GapThreshold)
	r.HiddenGems = HiddenGems(master, rules)
	r.Cohorts = CohortPreferences(demographics)
	r.Summary = Summarize(master, rules.GapThreshold, len(r.CommunityHigher), len(r.HiddenGems))
	return r
}

// PublisherSummary groups flagged rows by publisher, ordered by mean
// engagement descending. Publishers with no engagement sort last, ties by name.
func PublisherSummary(master []join.Record) []PublisherPerformance {
	groups := make(map[string][]join.Record)
	var names []string
	for _, rec := range master {
		if !rec.Flagged {
			continue
		}
		if _, ok := groups[rec.Publisher]; !ok {
			names = append(names, rec.Publisher)
		}
		groups[rec.Publisher] = append(groups[rec.Publisher], rec)
	}
	sort.Strings(names)

	out := make([]PublisherPerformance, 0, len(names))
	for _, name := range names {
		rows := groups[name]
		var rating, community, engagement []float64
		var reviews float64
		for _, rec := range rows {
			rating = appendPtr(rating, rec.Rating)
			community = appendPtr(community, rec.CommunityRating)
			engagement = appendPtr(engagement, rec.Engagement)
			reviews += float64(rec.ReviewCount)
		}
		out = append(out, PublisherPerformance{
			Publisher:          name,
			AvgRating:          round2Ptr(meanOf(rating)),
			BookCount:          int64(len(rating)),
			RatingStd:          round2Ptr(sampleStd(rating)),
			AvgReviews:         round2(reviews / float64(len(rows))),
			AvgCommunityRating: round2Ptr(meanOf(community)),
			AvgEngagement:      round2Ptr(meanOf(engagement)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return descNilsLast(out[i].AvgEngagement, out[j].AvgEngagement)
	})
	return out
}

// Compare returns the rows with a community rating and their difference to
// the catalog rating.
func Compare(master []join.Record) []Comparison {
	var out []Comparison
	for _, rec := range master {
		if rec.CommunityRating == nil {
			continue
		}
		c := Comparison{Record: rec}
		if rec.Rating != nil {
			d := *rec.CommunityRating - *rec.Rating
			c.Difference = &d
		}
		out = append(out, c)
	}
	return out
}

// Gaps splits comparisons whose difference exceeds threshold in either
// direction. Community-higher rows are ordered largest gap first,
// catalog-higher rows most negative first.
func Gaps(comparisons []Comparison, threshold float64) (communityHigher, catalogHigher []Comparison) {
	for _, c := range comparisons {
		if c.Difference == nil {
			continue
		}
		switch {
		case *c.Difference > threshold:
			communityHigher = append(communityHigher, c)
		case *c.Difference < -threshold:
			catalogHigher = append(catalogHigher, c)
		}
	}
	sort.SliceStable(communityHigher, func(i, j int) bool {
		return *communityHigher[i].Difference > *communityHigher[j].Difference
	})
	sort.SliceStable(catalogHigher, func(i, j int) bool {
		return *catalogHigher[i].Difference < *catalogHigher[j].Difference
	})
	return communityHigher, catalogHigher
}

// HiddenGems returns highly rated community books with little catalog
// exposure, best community rating first.
func HiddenGems(master []join.Record, rules Rules) []join.Record {
	var out []join.Record
	for _, rec := range master {
		if rec.CommunityRating == nil || rec.CommunityCount == nil {
			continue
		}
		if *rec.CommunityRating >= rules.GemMinRating &&
			rec.ReviewCount < rules.GemMaxReviews &&
			*rec.CommunityCount >= rules.GemMinCommunityCount {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].CommunityRating > *out[j].CommunityRating
	})
	return out
}

// CohortPreferences groups cohort aggregates by age group: distinct books,
// mean of the cohort means and total ratings, highest mean first. The null
// cohort (ratings without a known reader) forms its own group.
func CohortPreferences(demographics []ratings.CohortAggregate) []CohortSummary {
	type acc struct {
		cohort *string
		books  map[string]struct{}
		sum    float64
		n      int
		total  int64
	}
	groups := make(map[string]*acc)
	var order []string
	for _, d := range demographics {
		k := "\x00"
		if d.Cohort != nil {
			k = *d.Cohort
		}
		a, ok := groups[k]
		if !ok {
			a = &acc{cohort: d.Cohort, books: make(map[string]struct{})}
			groups[k] = a
			order = append(order, k)
		}
		a.books[d.Key] = struct{}{}
		a.sum += d.Mean
		a.n++
		a.total += d.Count
	}
	sort.Strings(order)

	out := make([]CohortSummary, 0, len(order))
	for _, k := range order {
		a := groups[k]
		out = append(out, CohortSummary{
			Cohort:       a.cohort,
			BookCount:    int64(len(a.books)),
			AvgRating:    a.sum / float64(a.n),
			TotalRatings: a.total,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AvgRating > out[j].AvgRating })
	return out
}

// Summary metric names.
const (
	MetricTotalBooks      = "Total Books"
	MetricWithCommunity   = "Books with Community Ratings"
	MetricFlagged         = "UK Publisher Books"
	MetricAvgCatalog      = "Average Goodreads Rating"
	MetricAvgCommunity    = "Average Community Rating"
	MetricHiddenGemsFound = "Hidden Gems Identified"
)

// GapMetricName names the gap count line for threshold.
func GapMetricName(threshold float64) string {
	return fmt.Sprintf("Books with Rating Gap > %g", threshold)
}

// Summarize computes the executive summary.
func Summarize(master []join.Record, gapThreshold float64, gapCount, gemCount int) []Metric {
	var catalogRatings, community []float64
	var flagged int
	for _, rec := range master {
		catalogRatings = appendPtr(catalogRatings, rec.Rating)
		community = appendPtr(community, rec.CommunityRating)
		if rec.Flagged {
			flagged++
		}
	}
	return []Metric{
		{MetricTotalBooks, count(len(master))},
		{MetricWithCommunity, count(len(community))},
		{MetricFlagged, count(flagged)},
		{MetricAvgCatalog, meanOf(catalogRatings)},
		{MetricAvgCommunity, meanOf(community)},
		{GapMetricName(gapThreshold), count(gapCount)},
		{MetricHiddenGemsFound, count(gemCount)},
	}
}

func count(n int) *float64 {
	v := float64(n)
	return &v
}

func appendPtr(dst []float64, v *float64) []float64 {
	if v == nil {
		return dst
	}
	return append(dst, *v)
}

func meanOf(xs []float64) *float64 {
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

func sampleStd(xs []float64) *float64 {
	if len(xs) < 2 {
		return nil
	}
	m := *meanOf(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	s := math.Sqrt(ss / float64(len(xs)-1))
	return &s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round2Ptr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round2(*v)
	return &r
}

func descNilsLast(a, b *float64) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return *a > *b
	}
}
