package join

import "github.com/otherjamesbrown/bookpipe/pkg/tabular"

// Columns is the master file header.
var Columns = []string{
	"book_key", "isbn", "title", "authors", "goodreads_rating", "goodreads_review_count",
	"page_count", "publisher", "is_uk_publisher", "bc_rating", "bc_rating_count",
	"bc_rating_stddev", "rating_gap", "book_category", "engagement_score",
}

// Values returns r as one row in Columns order.
func (r Record) Values() []string {
	return []string{
		r.Key,
		tabular.StringPtr(r.ISBN),
		r.Title,
		r.Authors,
		tabular.FloatPtr(r.Rating),
		tabular.Int(r.ReviewCount),
		tabular.IntPtr(r.PageCount),
		r.Publisher,
		tabular.Bool(r.Flagged),
		tabular.FloatPtr(r.CommunityRating),
		tabular.IntPtr(r.CommunityCount),
		tabular.FloatPtr(r.CommunityStdDev),
		tabular.FloatPtr(r.RatingGap),
		r.Category,
		tabular.FloatPtr(r.Engagement),
	}
}
