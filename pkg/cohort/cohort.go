// Package cohort derives age cohorts and region flags for the readers behind
// community rating events.
package cohort

import (
	"strings"

	"github.com/otherjamesbrown/bookpipe/pkg/fields"
)

// Age cohort labels, youngest first.
const (
	Age18to25 = "18-25"
	Age26to35 = "26-35"
	Age36to50 = "36-50"
	Age51to65 = "51-65"
	Age66Plus = "66+"
	Unknown   = "Unknown"
)

// Labels lists every cohort label in display order.
var Labels = []string{Age18to25, Age26to35, Age36to50, Age51to65, Age66Plus, Unknown}

// Rules configures actor cleaning.
type Rules struct {
	AgeMin         float64
	AgeMax         float64
	RegionKeywords []string
}

// DefaultRegionKeywords are the country spellings that set the region flag.
func DefaultRegionKeywords() []string {
	return []string{"UK", "UNITED KINGDOM", "ENGLAND", "SCOTLAND", "WALES"}
}

// DefaultRules returns the production rule set.
func DefaultRules() Rules {
	return Rules{AgeMin: 10, AgeMax: 100, RegionKeywords: DefaultRegionKeywords()}
}

// AgeBucket maps an age onto its cohort. Intervals are closed below and open
// above; nil means missing.
func AgeBucket(age *float64) string {
	if age == nil {
		return Unknown
	}
	a := *age
	switch {
	case a < 26:
		return Age18to25
	case a < 36:
		return Age26to35
	case a < 51:
		return Age36to50
	case a < 66:
		return Age51to65
	default:
		return Age66Plus
	}
}

// CleanAge parses a raw age and nulls values outside [min, max].
func CleanAge(raw string, min, max float64) *float64 {
	a, ok := fields.Float(raw)
	if !ok || a < min || a > max {
		return nil
	}
	return &a
}

// Region extracts the country from a free-text location ("city, state, country")
// and reports whether it is one of keywords.
func Region(location string, keywords []string) (string, bool) {
	segments := strings.Split(location, ",")
	country := strings.ToUpper(strings.TrimSpace(segments[len(segments)-1]))
	if country == "" {
		return Unknown, false
	}
	for _, kw := range keywords {
		if country == strings.ToUpper(kw) {
			return country, true
		}
	}
	return country, false
}

// RawActor is one untrusted reader row.
type RawActor struct {
	ID       string
	Location string
	Age      string
}

// Actor is a cleaned reader.
type Actor struct {
	ID       int64    `db:"user_id" json:"user_id"`
	Location string   `db:"location" json:"location"`
	Age      *float64 `db:"age" json:"age"`
	Cohort   string   `db:"age_group" json:"age_group"`
	Country  string   `db:"country" json:"country"`
	Flagged  bool     `db:"is_uk" json:"is_uk"`
}

// Stats are the audit counters of one CleanActors pass.
type Stats struct {
	Input         int
	InvalidID     int
	DuplicateID   int
	AgeNulled     int
	RegionMissing int
	Flagged       int
	Output        int
}

// Counters flattens Stats for logging and persistence.
func (s Stats) Counters() map[string]int64 {
	return map[string]int64{
		"input_rows":         int64(s.Input),
		"dropped_invalid_id": int64(s.InvalidID),
		"dropped_duplicates": int64(s.DuplicateID),
		"age_nulled":         int64(s.AgeNulled),
		"region_unknown":     int64(s.RegionMissing),
		"region_flagged":     int64(s.Flagged),
		"output_rows":        int64(s.Output),
	}
}

// CleanActors derives cohort and region for every actor. Rows without a
// numeric ID cannot be referenced by rating events and are skipped; repeated
// IDs keep the first row.
func CleanActors(rows []RawActor, rules Rules) ([]Actor, Stats) {
	stats := Stats{Input: len(rows)}
	seen := make(map[int64]struct{}, len(rows))
	actors := make([]Actor, 0, len(rows))

	for _, r := range rows {
		id, ok := ParseActorID(r.ID)
		if !ok {
			stats.InvalidID++
			continue
		}
		if _, dup := seen[id]; dup {
			stats.DuplicateID++
			continue
		}
		seen[id] = struct{}{}

		age := CleanAge(r.Age, rules.AgeMin, rules.AgeMax)
		if age == nil && !fields.IsNull(r.Age) {
			stats.AgeNulled++
		}
		country, flagged := Region(r.Location, rules.RegionKeywords)
		if country == Unknown {
			stats.RegionMissing++
		}
		if flagged {
			stats.Flagged++
		}
		actors = append(actors, Actor{
			ID:       id,
			Location: strings.TrimSpace(r.Location),
			Age:      age,
			Cohort:   AgeBucket(age),
			Country:  country,
			Flagged:  flagged,
		})
	}
	stats.Output = len(actors)
	return actors, stats
}

// ParseActorID parses a reader ID.
func ParseActorID(raw string) (int64, bool) {
	return fields.Int(raw)
}

// Index maps actor ID to cohort label.
func Index(actors []Actor) map[int64]string {
	idx := make(map[int64]string, len(actors))
	for _, a := range actors {
		idx[a.ID] = a.Cohort
	}
	return idx
}

// ByID maps actor ID to the cleaned actor.
func ByID(actors []Actor) map[int64]Actor {
	idx := make(map[int64]Actor, len(actors))
	for _, a := range actors {
		idx[a.ID] = a
	}
	return idx
}
