package cohort

import "github.com/otherjamesbrown/bookpipe/pkg/tabular"

// Columns is the cleaned actor file header.
var Columns = []string{"user_id", "location", "age", "age_group", "country", "is_uk"}

// Values returns a as one row in Columns order.
func (a Actor) Values() []string {
	return []string{
		tabular.Int(a.ID),
		a.Location,
		tabular.FloatPtr(a.Age),
		a.Cohort,
		a.Country,
		tabular.Bool(a.Flagged),
	}
}
