package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(isbn, title, rating, count, pages, publisher string) RawRecord {
	return RawRecord{
		Title:         title,
		Authors:       "J.K. Rowling, Mary GrandPré",
		AverageRating: rating,
		ISBN:          isbn,
		RatingsCount:  count,
		NumPages:      pages,
		Publisher:     publisher,
		LanguageCode:  "eng",
	}
}

func TestCleanRecord(t *testing.T) {
	rules := DefaultRules()

	t.Run("valid record", func(t *testing.T) {
		b, out := CleanRecord(raw("0439708184", "Harry Potter", "4.47", "4780000", "320", "Scholastic"), rules)
		require.Equal(t, KeepRecord, out.Drop)
		assert.Equal(t, "0439708184", b.Key)
		require.NotNil(t, b.ISBN)
		assert.Equal(t, "0439708184", *b.ISBN)
		require.NotNil(t, b.Rating)
		assert.InDelta(t, 4.47, *b.Rating, 1e-9)
		assert.Equal(t, int64(4780000), b.ReviewCount)
		require.NotNil(t, b.PageCount)
		assert.Equal(t, int64(320), *b.PageCount)
		assert.Equal(t, "Scholastic", b.Publisher)
		assert.False(t, b.Flagged)
	})

	t.Run("composite key when no identifier", func(t *testing.T) {
		b, out := CleanRecord(raw("", "Harry Potter", "4.0", "1", "320", "Bloomsbury"), rules)
		require.Equal(t, KeepRecord, out.Drop)
		assert.True(t, out.Composite)
		assert.Equal(t, "COMP_HARRYPOTTER_JKROWLING", b.Key)
		assert.Nil(t, b.ISBN)
		assert.True(t, b.Flagged)
	})

	t.Run("long identifier preferred", func(t *testing.T) {
		r := raw("0439708184", "Harry Potter", "4.0", "1", "320", "")
		r.ISBN13 = "9780439708180"
		b, _ := CleanRecord(r, rules)
		assert.Equal(t, "9780439708180", b.Key)
	})

	t.Run("no identity dropped", func(t *testing.T) {
		r := raw("", "", "4.0", "1", "320", "")
		_, out := CleanRecord(r, rules)
		assert.Equal(t, DropNoIdentity, out.Drop)
	})

	t.Run("rating out of range dropped", func(t *testing.T) {
		_, out := CleanRecord(raw("0439708184", "T", "5.01", "1", "320", ""), rules)
		assert.Equal(t, DropRatingRange, out.Drop)
		_, out = CleanRecord(raw("0439708184", "T", "-0.1", "1", "320", ""), rules)
		assert.Equal(t, DropRatingRange, out.Drop)
	})

	t.Run("rating bounds inclusive", func(t *testing.T) {
		_, out := CleanRecord(raw("0439708184", "T", "5", "1", "320", ""), rules)
		assert.Equal(t, KeepRecord, out.Drop)
		_, out = CleanRecord(raw("0439708184", "T", "0", "1", "320", ""), rules)
		assert.Equal(t, KeepRecord, out.Drop)
	})

	t.Run("unparseable rating nulled not dropped", func(t *testing.T) {
		b, out := CleanRecord(raw("0439708184", "T", "n/a", "1", "320", ""), rules)
		assert.Equal(t, KeepRecord, out.Drop)
		assert.True(t, out.RatingNulled)
		assert.Nil(t, b.Rating)
	})

	t.Run("review count defaults to zero", func(t *testing.T) {
		b, out := CleanRecord(raw("0439708184", "T", "4", "lots", "320", ""), rules)
		assert.True(t, out.ReviewsDefaulted)
		assert.Equal(t, int64(0), b.ReviewCount)

		b, out = CleanRecord(raw("0439708184", "T", "4", "-3", "320", ""), rules)
		assert.True(t, out.ReviewsDefaulted)
		assert.Equal(t, int64(0), b.ReviewCount)
	})

	t.Run("review count beyond int64 defaults to zero", func(t *testing.T) {
		for _, count := range []string{"1e20", "9223372036854775808", "-1e20"} {
			b, out := CleanRecord(raw("0439708184", "T", "4.47", count, "320", ""), rules)
			assert.Equal(t, KeepRecord, out.Drop, count)
			assert.True(t, out.ReviewsDefaulted, count)
			assert.Equal(t, int64(0), b.ReviewCount, count)
		}
	})

	t.Run("page count out of range nulled", func(t *testing.T) {
		for _, pages := range []string{"9", "2001", "0", "abc"} {
			b, out := CleanRecord(raw("0439708184", "T", "4", "1", pages, ""), rules)
			assert.Equal(t, KeepRecord, out.Drop, pages)
			assert.True(t, out.PagesNulled, pages)
			assert.Nil(t, b.PageCount, pages)
		}
		for _, pages := range []string{"10", "2000"} {
			b, _ := CleanRecord(raw("0439708184", "T", "4", "1", pages, ""), rules)
			assert.NotNil(t, b.PageCount, pages)
		}
	})

	t.Run("missing publisher becomes unknown", func(t *testing.T) {
		b, out := CleanRecord(raw("0439708184", "T", "4", "1", "100", " "), rules)
		assert.True(t, out.PublisherUnknown)
		assert.Equal(t, UnknownPublisher, b.Publisher)
		assert.False(t, b.Flagged)
	})
}

func TestDedupe_KeepsFirst(t *testing.T) {
	books := []Book{
		{Key: "A", Title: "first"},
		{Key: "B", Title: "b"},
		{Key: "A", Title: "second"},
	}
	kept, removed := Dedupe(books)
	require.Len(t, kept, 2)
	assert.Equal(t, 1, removed)
	assert.Equal(t, "first", kept[0].Title)
	assert.Equal(t, "B", kept[1].Key)
}

func TestCleaner_Clean(t *testing.T) {
	records := []RawRecord{
		raw("0439708184", "Harry Potter", "4.47", "4780000", "320", "Scholastic"),
		raw("", "", "4.0", "1", "1", "Penguin"),
		raw("0439708184", "Harry Potter (dup)", "4.00", "10", "320", "Penguin"),
		raw("123", "Some Title", "6.2", "10", "320", "Penguin"),
		raw("", "Some Title", "", "x", "9999", "Penguin UK"),
	}

	books, stats := NewCleaner(DefaultRules()).Clean(records)
	require.Len(t, books, 2)
	assert.Equal(t, "Harry Potter", books[0].Title)
	assert.Equal(t, "COMP_SOMETITLE_JKROWLING", books[1].Key)
	assert.True(t, books[1].Flagged)

	assert.Equal(t, Stats{
		Input:            5,
		NoIdentity:       1,
		CompositeKeys:    1,
		RatingNulled:     1,
		RatingOutOfRange: 1,
		ReviewsDefaulted: 1,
		PagesNulled:      1,
		Duplicates:       1,
		Flagged:          1,
		Output:           2,
	}, stats)

	counters := stats.Counters()
	assert.Equal(t, int64(5), counters["input_rows"])
	assert.Equal(t, int64(2), counters["output_rows"])
}
