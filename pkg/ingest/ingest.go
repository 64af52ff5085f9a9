// Package ingest loads the raw catalog and community source files into the
// untrusted row types consumed by the cleaning stages.
//
// The catalog export is comma separated UTF-8. The community dump (ratings,
// users, books) is semicolon separated ISO-8859-1.
package ingest

import (
	"github.com/otherjamesbrown/bookpipe/pkg/catalog"
	"github.com/otherjamesbrown/bookpipe/pkg/cohort"
	"github.com/otherjamesbrown/bookpipe/pkg/identity"
	"github.com/otherjamesbrown/bookpipe/pkg/ratings"
	"github.com/otherjamesbrown/bookpipe/pkg/tabular"
)

// Catalog columns.
const (
	ColBookID          = "bookID"
	ColTitle           = "title"
	ColAuthors         = "authors"
	ColAverageRating   = "average_rating"
	ColISBN            = "isbn"
	ColISBN13          = "isbn13"
	ColLanguageCode    = "language_code"
	ColNumPages        = "num_pages"
	ColRatingsCount    = "ratings_count"
	ColPublicationDate = "publication_date"
	ColPublisher       = "publisher"
)

// Community columns.
const (
	ColUserID     = "User-ID"
	ColCommISBN   = "ISBN"
	ColBookRating = "Book-Rating"
	ColLocation   = "Location"
	ColAge        = "Age"
)

var (
	catalogOptions = tabular.Options{
		Comma:    ',',
		Encoding: tabular.UTF8,
		Required: []string{ColTitle, ColAuthors},
	}
	ratingOptions = tabular.Options{
		Comma:    ';',
		Encoding: tabular.Latin1,
		Required: []string{ColCommISBN, ColBookRating},
	}
	actorOptions = tabular.Options{
		Comma:    ';',
		Encoding: tabular.Latin1,
		Required: []string{ColUserID},
	}
	communityBookOptions = tabular.Options{
		Comma:    ';',
		Encoding: tabular.Latin1,
		Required: []string{ColCommISBN},
	}
)

// LoadCatalog reads the catalog export.
func LoadCatalog(path string) ([]catalog.RawRecord, tabular.Stats, error) {
	var out []catalog.RawRecord
	stats, err := tabular.ReadFile(path, catalogOptions, func(r tabular.Row) error {
		out = append(out, catalog.RawRecord{
			BookID:          r.Get(ColBookID),
			Title:           r.Get(ColTitle),
			Authors:         r.Get(ColAuthors),
			AverageRating:   r.Get(ColAverageRating),
			ISBN:            r.Get(ColISBN),
			ISBN13:          r.Get(ColISBN13),
			LanguageCode:    r.Get(ColLanguageCode),
			NumPages:        r.Get(ColNumPages),
			RatingsCount:    r.Get(ColRatingsCount),
			PublicationDate: r.Get(ColPublicationDate),
			Publisher:       r.Get(ColPublisher),
		})
		return nil
	})
	return out, stats, err
}

// LoadRatingEvents reads the community ratings dump.
func LoadRatingEvents(path string) ([]ratings.RawEvent, tabular.Stats, error) {
	var out []ratings.RawEvent
	stats, err := tabular.ReadFile(path, ratingOptions, func(r tabular.Row) error {
		out = append(out, ratings.RawEvent{
			ActorID: r.Get(ColUserID),
			ISBN:    r.Get(ColCommISBN),
			Score:   r.Get(ColBookRating),
		})
		return nil
	})
	return out, stats, err
}

// LoadActors reads the community users dump.
func LoadActors(path string) ([]cohort.RawActor, tabular.Stats, error) {
	var out []cohort.RawActor
	stats, err := tabular.ReadFile(path, actorOptions, func(r tabular.Row) error {
		out = append(out, cohort.RawActor{
			ID:       r.Get(ColUserID),
			Location: r.Get(ColLocation),
			Age:      r.Get(ColAge),
		})
		return nil
	})
	return out, stats, err
}

// CommunityBookStats summarizes the community books dump.
type CommunityBookStats struct {
	tabular.Stats
	ValidIdentifiers int
}

// ScanCommunityBooks counts the community books whose identifier normalizes.
// Only the counts are used; ratings carry their own identifiers.
func ScanCommunityBooks(path string) (CommunityBookStats, error) {
	var out CommunityBookStats
	stats, err := tabular.ReadFile(path, communityBookOptions, func(r tabular.Row) error {
		if _, ok := identity.NormalizeIdentifier(r.Get(ColCommISBN)); ok {
			out.ValidIdentifiers++
		}
		return nil
	})
	out.Stats = stats
	return out, err
}
