// Package ratings turns raw community rating events into per-book and
// per-cohort summary statistics.
//
// Scores arrive on the community scale (1-10, with 0 meaning "no explicit
// opinion"). Aggregates keep that scale; Normalized divides the mean by the
// configured ScaleFactor to land on the catalog's 0-5 scale.
package ratings

import (
	"math"
	"sort"

	"github.com/otherjamesbrown/bookpipe/pkg/fields"
	"github.com/otherjamesbrown/bookpipe/pkg/identity"
)

// Rules configures aggregation.
type Rules struct {
	// ScaleFactor divides the community mean onto the catalog scale.
	ScaleFactor float64
	// MinSupport is the minimum event count for a per-book aggregate.
	MinSupport int
	// MinCohortSupport is the minimum event count for a per-cohort aggregate.
	MinCohortSupport int
}

// DefaultRules maps a 1-10 scale onto 1-5 and keeps books with at least 10
// ratings and cohorts with at least 5.
func DefaultRules() Rules {
	return Rules{ScaleFactor: 2, MinSupport: 10, MinCohortSupport: 5}
}

// RawEvent is one untrusted rating row.
type RawEvent struct {
	ActorID string
	ISBN    string
	Score   string
}

// Event is a rating that survived filtering.
type Event struct {
	Key      string
	ActorID  int64
	HasActor bool
	Score    int
}

// Aggregate summarizes every event for one identity key.
type Aggregate struct {
	Key        string   `db:"isbn" json:"isbn"`
	Mean       float64  `db:"bc_rating_avg" json:"bc_rating_avg"`
	Count      int64    `db:"bc_rating_count" json:"bc_rating_count"`
	StdDev     *float64 `db:"bc_rating_stddev" json:"bc_rating_stddev"`
	Median     float64  `db:"bc_rating_median" json:"bc_rating_median"`
	Normalized float64  `db:"bc_rating_normalized" json:"bc_rating_normalized"`
}

// CohortAggregate summarizes the events for one (identity key, cohort) pair.
// A nil Cohort groups events whose actor is unknown.
type CohortAggregate struct {
	Key    string  `db:"isbn" json:"isbn"`
	Cohort *string `db:"age_group" json:"age_group"`
	Mean   float64 `db:"rating_avg" json:"rating_avg"`
	Count  int64   `db:"rating_count" json:"rating_count"`
}

// Stats are the audit counters of one aggregation run.
type Stats struct {
	Input                     int
	Malformed                 int
	NoOpinion                 int
	NoIdentity                int
	Events                    int
	Groups                    int
	InsufficientSupport       int
	Aggregates                int
	MissingActor              int
	CohortGroups              int
	CohortInsufficientSupport int
	CohortAggregates          int
}

// Counters flattens Stats for logging and persistence.
func (s Stats) Counters() map[string]int64 {
	return map[string]int64{
		"input_events":                int64(s.Input),
		"malformed_score":             int64(s.Malformed),
		"dropped_no_opinion":          int64(s.NoOpinion),
		"dropped_no_identity":         int64(s.NoIdentity),
		"retained_events":             int64(s.Events),
		"groups":                      int64(s.Groups),
		"insufficient_support":        int64(s.InsufficientSupport),
		"aggregates":                  int64(s.Aggregates),
		"events_missing_actor":        int64(s.MissingActor),
		"cohort_groups":               int64(s.CohortGroups),
		"cohort_insufficient_support": int64(s.CohortInsufficientSupport),
		"cohort_aggregates":           int64(s.CohortAggregates),
	}
}

// Aggregator computes rating aggregates under a fixed rule set.
type Aggregator struct {
	rules Rules
}

// NewAggregator creates an Aggregator.
func NewAggregator(rules Rules) *Aggregator {
	return &Aggregator{rules: rules}
}

// Prepare filters raw events: unparseable scores are malformed, zero (and
// negative) scores carry no opinion, and identifiers that do not normalize
// have no identity. Survivors keep input order.
func (a *Aggregator) Prepare(raw []RawEvent, stats *Stats) []Event {
	stats.Input += len(raw)
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		score, ok := fields.Int(r.Score)
		if !ok {
			stats.Malformed++
			continue
		}
		if score <= 0 {
			stats.NoOpinion++
			continue
		}
		key, ok := identity.NormalizeIdentifier(r.ISBN)
		if !ok {
			stats.NoIdentity++
			continue
		}
		ev := Event{Key: key, Score: int(score)}
		ev.ActorID, ev.HasActor = fields.Int(r.ActorID)
		events = append(events, ev)
	}
	stats.Events += len(events)
	return events
}

// Aggregate groups events by identity key and keeps groups with at least
// MinSupport events. The result is sorted by key and does not depend on the
// order of events.
func (a *Aggregator) Aggregate(events []Event, stats *Stats) []Aggregate {
	groups := make(map[string][]int)
	for _, ev := range events {
		groups[ev.Key] = append(groups[ev.Key], ev.Score)
	}
	stats.Groups += len(groups)

	out := make([]Aggregate, 0, len(groups))
	for key, scores := range groups {
		if len(scores) < a.rules.MinSupport {
			stats.InsufficientSupport++
			continue
		}
		out = append(out, a.summarize(key, scores))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	stats.Aggregates += len(out)
	return out
}

type cohortKey struct {
	key    string
	cohort string
	known  bool
}

// AggregateByCohort groups events by (identity key, actor cohort) and keeps
// groups with at least MinCohortSupport events. Events whose actor is absent
// from cohorts form a group with a nil cohort. The result is sorted by key,
// then cohort with the nil group last.
func (a *Aggregator) AggregateByCohort(events []Event, cohorts map[int64]string, stats *Stats) []CohortAggregate {
	groups := make(map[cohortKey][]int)
	for _, ev := range events {
		ck := cohortKey{key: ev.Key}
		if ev.HasActor {
			ck.cohort, ck.known = cohorts[ev.ActorID]
		}
		if !ck.known {
			stats.MissingActor++
		}
		groups[ck] = append(groups[ck], ev.Score)
	}
	stats.CohortGroups += len(groups)

	out := make([]CohortAggregate, 0, len(groups))
	for ck, scores := range groups {
		if len(scores) < a.rules.MinCohortSupport {
			stats.CohortInsufficientSupport++
			continue
		}
		sort.Ints(scores)
		agg := CohortAggregate{Key: ck.key, Mean: mean(scores), Count: int64(len(scores))}
		if ck.known {
			c := ck.cohort
			agg.Cohort = &c
		}
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		ci, cj := out[i].Cohort, out[j].Cohort
		switch {
		case ci == nil:
			return false
		case cj == nil:
			return true
		default:
			return *ci < *cj
		}
	})
	stats.CohortAggregates += len(out)
	return out
}

func (a *Aggregator) summarize(key string, scores []int) Aggregate {
	sort.Ints(scores)
	m := mean(scores)
	return Aggregate{
		Key:        key,
		Mean:       m,
		Count:      int64(len(scores)),
		StdDev:     sampleStdDev(scores, m),
		Median:     median(scores),
		Normalized: m / a.rules.ScaleFactor,
	}
}

func mean(scores []int) float64 {
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores))
}

// sampleStdDev uses the n-1 denominator and is undefined below two samples.
func sampleStdDev(scores []int, m float64) *float64 {
	if len(scores) < 2 {
		return nil
	}
	var ss float64
	for _, s := range scores {
		d := float64(s) - m
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(scores)-1))
	return &sd
}

// median expects sorted input.
func median(sorted []int) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

// Result bundles the output of Run.
type Result struct {
	Events     []Event
	Aggregates []Aggregate
	Cohorts    []CohortAggregate
	Stats      Stats
}

// Run prepares raw events once and computes both aggregate tables.
func (a *Aggregator) Run(raw []RawEvent, cohorts map[int64]string) Result {
	var res Result
	res.Events = a.Prepare(raw, &res.Stats)
	res.Aggregates = a.Aggregate(res.Events, &res.Stats)
	res.Cohorts = a.AggregateByCohort(res.Events, cohorts, &res.Stats)
	return res
}
