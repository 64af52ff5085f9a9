// Package join merges cleaned catalog books with community rating aggregates
// and derives the scoring fields every report consumes.
//
// The work is split into independent steps: OuterJoin pairs books with their
// aggregate, Retain applies the inclusion predicate, Score derives the
// computed fields of one pair and Sort orders the result. Build runs all four.
package join

import (
	"math"
	"sort"

	"github.com/otherjamesbrown/bookpipe/pkg/catalog"
	bperrors "github.com/otherjamesbrown/bookpipe/pkg/errors"
	"github.com/otherjamesbrown/bookpipe/pkg/ratings"
)

// Stage is the name used in errors raised by this package.
const Stage = "join"

// Category labels.
const (
	HiddenGem       = "Hidden Gem"
	PopularFavorite = "Popular Favorite"
	Underperformer  = "Underperformer"
	Average         = "Average"
)

// Categories lists every category label.
var Categories = []string{HiddenGem, PopularFavorite, Underperformer, Average}

// Rules holds the category thresholds. Ratings are on the catalog scale.
type Rules struct {
	GemThreshold           float64
	UnderperformThreshold  float64
	PopularReviewThreshold int64
}

// DefaultRules returns the production thresholds.
func DefaultRules() Rules {
	return Rules{GemThreshold: 4.0, UnderperformThreshold: 3.0, PopularReviewThreshold: 500}
}

// Pair is one book and its aggregate, if any.
type Pair struct {
	Book      catalog.Book
	Aggregate *ratings.Aggregate
}

// Record is one row of the master table.
type Record struct {
	Key             string   `db:"book_key" json:"book_key"`
	ISBN            *string  `db:"isbn" json:"isbn"`
	Title           string   `db:"title" json:"title"`
	Authors         string   `db:"authors" json:"authors"`
	Rating          *float64 `db:"goodreads_rating" json:"goodreads_rating"`
	ReviewCount     int64    `db:"goodreads_review_count" json:"goodreads_review_count"`
	PageCount       *int64   `db:"page_count" json:"page_count"`
	Publisher       string   `db:"publisher" json:"publisher"`
	Flagged         bool     `db:"is_uk_publisher" json:"is_uk_publisher"`
	CommunityRating *float64 `db:"bc_rating" json:"bc_rating"`
	CommunityCount  *int64   `db:"bc_rating_count" json:"bc_rating_count"`
	CommunityStdDev *float64 `db:"bc_rating_stddev" json:"bc_rating_stddev"`
	RatingGap       *float64 `db:"rating_gap" json:"rating_gap"`
	Category        string   `db:"book_category" json:"book_category"`
	Engagement      *float64 `db:"engagement_score" json:"engagement_score"`
}

// Stats are the audit counters of one Build.
type Stats struct {
	Books          int
	Aggregates     int
	Matched        int
	Unmatched      int
	DroppedRetain  int
	Output         int
	NullEngagement int
	ByCategory     map[string]int
}

// Counters flattens Stats for logging and persistence.
func (s Stats) Counters() map[string]int64 {
	c := map[string]int64{
		"input_books":       int64(s.Books),
		"input_aggregates":  int64(s.Aggregates),
		"matched":           int64(s.Matched),
		"unmatched":         int64(s.Unmatched),
		"dropped_retention": int64(s.DroppedRetain),
		"output_rows":       int64(s.Output),
		"null_engagement":   int64(s.NullEngagement),
	}
	for _, cat := range Categories {
		c["category_"+categorySlug(cat)] = int64(s.ByCategory[cat])
	}
	return c
}

func categorySlug(cat string) string {
	switch cat {
	case HiddenGem:
		return "hidden_gem"
	case PopularFavorite:
		return "popular_favorite"
	case Underperformer:
		return "underperformer"
	default:
		return "average"
	}
}

// OuterJoin pairs every book with the aggregate sharing its identity key,
// preserving book order. A key repeated on either side is a join ambiguity.
func OuterJoin(books []catalog.Book, aggs []ratings.Aggregate) ([]Pair, error) {
	seen := make(map[string]struct{}, len(books))
	for _, b := range books {
		if _, dup := seen[b.Key]; dup {
			return nil, bperrors.NewJoinAmbiguity(Stage, "catalog", b.Key)
		}
		seen[b.Key] = struct{}{}
	}

	byKey := make(map[string]*ratings.Aggregate, len(aggs))
	for i := range aggs {
		if _, dup := byKey[aggs[i].Key]; dup {
			return nil, bperrors.NewJoinAmbiguity(Stage, "community ratings", aggs[i].Key)
		}
		byKey[aggs[i].Key] = &aggs[i]
	}

	pairs := make([]Pair, len(books))
	for i, b := range books {
		pairs[i] = Pair{Book: b, Aggregate: byKey[b.Key]}
	}
	return pairs, nil
}

// Keep reports whether a pair survives retention: its publisher is flagged or
// it has community ratings.
func Keep(p Pair) bool {
	return p.Book.Flagged || p.Aggregate != nil
}

// Retain filters pairs with Keep and returns the number removed.
func Retain(pairs []Pair) ([]Pair, int) {
	kept := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if Keep(p) {
			kept = append(kept, p)
		}
	}
	return kept, len(pairs) - len(kept)
}

// Category classifies a book in priority order. A nil community rating fails
// every comparison and lands on Average.
func Category(community *float64, reviewCount int64, rules Rules) string {
	switch {
	case community != nil && *community >= rules.GemThreshold && reviewCount < rules.PopularReviewThreshold:
		return HiddenGem
	case community != nil && *community >= rules.GemThreshold:
		return PopularFavorite
	case community != nil && *community < rules.UnderperformThreshold:
		return Underperformer
	default:
		return Average
	}
}

// Engagement is rating × ln(reviewCount + 1), nil when the rating is.
func Engagement(rating *float64, reviewCount int64) *float64 {
	if rating == nil {
		return nil
	}
	e := *rating * math.Log(float64(reviewCount)+1)
	return &e
}

// Score derives the computed fields of one pair.
func Score(p Pair, rules Rules) Record {
	b := p.Book
	r := Record{
		Key:         b.Key,
		ISBN:        b.ISBN,
		Title:       b.Title,
		Authors:     b.Authors,
		Rating:      b.Rating,
		ReviewCount: b.ReviewCount,
		PageCount:   b.PageCount,
		Publisher:   b.Publisher,
		Flagged:     b.Flagged,
		Engagement:  Engagement(b.Rating, b.ReviewCount),
	}
	if a := p.Aggregate; a != nil {
		norm, count := a.Normalized, a.Count
		r.CommunityRating = &norm
		r.CommunityCount = &count
		r.CommunityStdDev = a.StdDev
		if b.Rating != nil {
			gap := norm - *b.Rating
			r.RatingGap = &gap
		}
	}
	r.Category = Category(r.CommunityRating, b.ReviewCount, rules)
	return r
}

// Sort orders records by engagement descending with nil engagement last.
// Equal scores keep their relative order.
func Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		ei, ej := records[i].Engagement, records[j].Engagement
		switch {
		case ei == nil:
			return false
		case ej == nil:
			return true
		default:
			return *ei > *ej
		}
	})
}

// Build joins, filters, scores and sorts.
func Build(books []catalog.Book, aggs []ratings.Aggregate, rules Rules) ([]Record, Stats, error) {
	stats := Stats{Books: len(books), Aggregates: len(aggs), ByCategory: make(map[string]int)}

	pairs, err := OuterJoin(books, aggs)
	if err != nil {
		return nil, stats, err
	}
	for _, p := range pairs {
		if p.Aggregate != nil {
			stats.Matched++
		}
	}
	stats.Unmatched = len(pairs) - stats.Matched

	pairs, stats.DroppedRetain = Retain(pairs)

	records := make([]Record, len(pairs))
	for i, p := range pairs {
		records[i] = Score(p, rules)
		stats.ByCategory[records[i].Category]++
		if records[i].Engagement == nil {
			stats.NullEngagement++
		}
	}
	Sort(records)
	stats.Output = len(records)
	return records, stats, nil
}
