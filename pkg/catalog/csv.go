package catalog

import "github.com/otherjamesbrown/bookpipe/pkg/tabular"

// Columns is the cleaned catalog file header.
var Columns = []string{
	"book_key", "isbn", "title", "authors", "goodreads_rating", "goodreads_review_count",
	"page_count", "publication_date", "publisher", "language", "is_uk_publisher",
}

// Values returns b as one row in Columns order.
func (b Book) Values() []string {
	return []string{
		b.Key,
		tabular.StringPtr(b.ISBN),
		b.Title,
		b.Authors,
		tabular.FloatPtr(b.Rating),
		tabular.Int(b.ReviewCount),
		tabular.IntPtr(b.PageCount),
		b.PublicationDate,
		b.Publisher,
		b.Language,
		tabular.Bool(b.Flagged),
	}
}
