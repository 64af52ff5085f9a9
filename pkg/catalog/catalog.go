// Package catalog cleans raw catalog rows into deduplicated book records keyed
// by identity.
package catalog

import (
	"strings"

	"github.com/otherjamesbrown/bookpipe/pkg/fields"
	"github.com/otherjamesbrown/bookpipe/pkg/identity"
)

// RawRecord is one untrusted catalog source row. Empty strings mean absent.
type RawRecord struct {
	BookID          string
	Title           string
	Authors         string
	AverageRating   string
	ISBN            string
	ISBN13          string
	LanguageCode    string
	NumPages        string
	RatingsCount    string
	PublicationDate string
	Publisher       string
}

// Book is a cleaned catalog record.
type Book struct {
	Key             string   `db:"book_key" json:"book_key"`
	ISBN            *string  `db:"isbn" json:"isbn"`
	Title           string   `db:"title" json:"title"`
	Authors         string   `db:"authors" json:"authors"`
	Rating          *float64 `db:"goodreads_rating" json:"goodreads_rating"`
	ReviewCount     int64    `db:"goodreads_review_count" json:"goodreads_review_count"`
	PageCount       *int64   `db:"page_count" json:"page_count"`
	PublicationDate string   `db:"publication_date" json:"publication_date"`
	Publisher       string   `db:"publisher" json:"publisher"`
	Language        string   `db:"language" json:"language"`
	Flagged         bool     `db:"is_uk_publisher" json:"is_uk_publisher"`
}

// Drop reasons returned by CleanRecord.
type DropReason string

const (
	KeepRecord      DropReason = ""
	DropNoIdentity  DropReason = "no_identity"
	DropRatingRange DropReason = "rating_out_of_range"
)

// Outcome describes what CleanRecord did to a single row.
type Outcome struct {
	Drop             DropReason
	Composite        bool
	RatingNulled     bool
	ReviewsDefaulted bool
	PagesNulled      bool
	PublisherUnknown bool
}

// Stats are the audit counters of one Clean pass.
type Stats struct {
	Input            int
	NoIdentity       int
	CompositeKeys    int
	RatingNulled     int
	RatingOutOfRange int
	ReviewsDefaulted int
	PagesNulled      int
	PublisherUnknown int
	Duplicates       int
	Flagged          int
	Output           int
}

// Counters flattens Stats for logging and persistence.
func (s Stats) Counters() map[string]int64 {
	return map[string]int64{
		"input_rows":          int64(s.Input),
		"dropped_no_identity": int64(s.NoIdentity),
		"composite_keys":      int64(s.CompositeKeys),
		"rating_nulled":       int64(s.RatingNulled),
		"dropped_rating":      int64(s.RatingOutOfRange),
		"reviews_defaulted":   int64(s.ReviewsDefaulted),
		"pages_nulled":        int64(s.PagesNulled),
		"publisher_unknown":   int64(s.PublisherUnknown),
		"dropped_duplicates":  int64(s.Duplicates),
		"flagged_publisher":   int64(s.Flagged),
		"output_rows":         int64(s.Output),
	}
}

// CleanRecord resolves identity and coerces the fields of a single row.
// A record with Outcome.Drop set must be discarded.
func CleanRecord(raw RawRecord, rules Rules) (Book, Outcome) {
	var out Outcome

	key, ok := identity.Resolve(raw.ISBN13, raw.ISBN, raw.Title, raw.Authors)
	if !ok {
		out.Drop = DropNoIdentity
		return Book{}, out
	}
	out.Composite = key.Composite

	b := Book{
		Key:             key.Value,
		Title:           strings.TrimSpace(raw.Title),
		Authors:         strings.TrimSpace(raw.Authors),
		PublicationDate: strings.TrimSpace(raw.PublicationDate),
		Language:        strings.TrimSpace(raw.LanguageCode),
	}
	if !key.Composite {
		id := key.Identifier
		b.ISBN = &id
	}

	if r, ok := fields.Float(raw.AverageRating); ok {
		if r < rules.RatingMin || r > rules.RatingMax {
			out.Drop = DropRatingRange
			return Book{}, out
		}
		b.Rating = &r
	} else {
		out.RatingNulled = true
	}

	if n, ok := fields.Int(raw.RatingsCount); ok && n >= 0 {
		b.ReviewCount = n
	} else {
		out.ReviewsDefaulted = true
	}

	if p, ok := fields.Float(raw.NumPages); ok && p >= rules.PagesMin && p <= rules.PagesMax {
		pages := int64(p)
		b.PageCount = &pages
	} else if !fields.IsNull(raw.NumPages) {
		out.PagesNulled = true
	}

	b.Publisher = CanonicalPublisher(raw.Publisher, rules.Publishers)
	out.PublisherUnknown = strings.TrimSpace(raw.Publisher) == ""
	b.Flagged = IsFlaggedPublisher(b.Publisher, rules.FlagKeywords)

	return b, out
}

// Dedupe keeps the first record for every key, preserving input order.
// It returns the kept records and the number removed.
func Dedupe(books []Book) ([]Book, int) {
	seen := make(map[string]struct{}, len(books))
	kept := make([]Book, 0, len(books))
	for _, b := range books {
		if _, dup := seen[b.Key]; dup {
			continue
		}
		seen[b.Key] = struct{}{}
		kept = append(kept, b)
	}
	return kept, len(books) - len(kept)
}

// Cleaner applies Rules to a whole catalog.
type Cleaner struct {
	rules Rules
}

// NewCleaner creates a Cleaner.
func NewCleaner(rules Rules) *Cleaner {
	return &Cleaner{rules: rules}
}

// Rules returns the rule set in use.
func (c *Cleaner) Rules() Rules {
	return c.rules
}

// Clean cleans and deduplicates records. The result has one row per identity
// key, in first-seen input order.
func (c *Cleaner) Clean(records []RawRecord) ([]Book, Stats) {
	stats := Stats{Input: len(records)}
	books := make([]Book, 0, len(records))

	for _, raw := range records {
		b, out := CleanRecord(raw, c.rules)
		switch out.Drop {
		case DropNoIdentity:
			stats.NoIdentity++
			continue
		case DropRatingRange:
			stats.RatingOutOfRange++
			continue
		}
		if out.Composite {
			stats.CompositeKeys++
		}
		if out.RatingNulled {
			stats.RatingNulled++
		}
		if out.ReviewsDefaulted {
			stats.ReviewsDefaulted++
		}
		if out.PagesNulled {
			stats.PagesNulled++
		}
		if out.PublisherUnknown {
			stats.PublisherUnknown++
		}
		books = append(books, b)
	}

	books, stats.Duplicates = Dedupe(books)
	for _, b := range books {
		if b.Flagged {
			stats.Flagged++
		}
	}
	stats.Output = len(books)
	return books, stats
}
