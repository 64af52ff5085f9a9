package ratings

import "github.com/otherjamesbrown/bookpipe/pkg/tabular"

// Columns is the aggregate file header.
var Columns = []string{
	"isbn", "bc_rating_avg", "bc_rating_count", "bc_rating_stddev", "bc_rating_median", "bc_rating_normalized",
}

// CohortColumns is the cohort aggregate file header.
var CohortColumns = []string{"isbn", "age_group", "rating_avg", "rating_count"}

// Values returns a as one row in Columns order.
func (a Aggregate) Values() []string {
	return []string{
		a.Key,
		tabular.Float(a.Mean),
		tabular.Int(a.Count),
		tabular.FloatPtr(a.StdDev),
		tabular.Float(a.Median),
		tabular.Float(a.Normalized),
	}
}

// Values returns c as one row in CohortColumns order.
func (c CohortAggregate) Values() []string {
	return []string{c.Key, tabular.StringPtr(c.Cohort), tabular.Float(c.Mean), tabular.Int(c.Count)}
}
