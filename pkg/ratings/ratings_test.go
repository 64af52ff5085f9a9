package ratings

import (
	"math"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func events(isbn string, actor int, scores ...int) []RawEvent {
	out := make([]RawEvent, 0, len(scores))
	for _, s := range scores {
		out = append(out, RawEvent{ActorID: strconv.Itoa(actor), ISBN: isbn, Score: strconv.Itoa(s)})
	}
	return out
}

func TestPrepare(t *testing.T) {
	raw := []RawEvent{
		{ActorID: "1", ISBN: "0439708184", Score: "9"},
		{ActorID: "2", ISBN: "0439708184", Score: "0"},
		{ActorID: "3", ISBN: "bad", Score: "7"},
		{ActorID: "4", ISBN: "0-439-70818-4", Score: "ten"},
		{ActorID: "x", ISBN: "0-439-70818-4", Score: "5"},
	}
	var stats Stats
	got := NewAggregator(DefaultRules()).Prepare(raw, &stats)
	require.Len(t, got, 2)
	assert.Equal(t, Event{Key: "0439708184", ActorID: 1, HasActor: true, Score: 9}, got[0])
	assert.Equal(t, "0439708184", got[1].Key)
	assert.False(t, got[1].HasActor)

	assert.Equal(t, 5, stats.Input)
	assert.Equal(t, 1, stats.NoOpinion)
	assert.Equal(t, 1, stats.NoIdentity)
	assert.Equal(t, 1, stats.Malformed)
	assert.Equal(t, 2, stats.Events)
}

func TestAggregate_Scenario(t *testing.T) {
	scores := []int{9, 9, 10, 8, 9, 10, 9, 8, 9, 10, 9, 9}
	agg := NewAggregator(DefaultRules())
	res := agg.Run(events("0439708184", 1, scores...), nil)

	assert.Len(t, res.Events, len(scores))
	require.Len(t, res.Aggregates, 1)
	a := res.Aggregates[0]
	assert.Equal(t, "0439708184", a.Key)
	assert.Equal(t, int64(12), a.Count)
	assert.InDelta(t, 109.0/12, a.Mean, 1e-9)
	assert.InDelta(t, 109.0/24, a.Normalized, 1e-9)
	assert.Equal(t, 9.0, a.Median)
	require.NotNil(t, a.StdDev)
	assert.InDelta(t, 0.668558, *a.StdDev, 1e-6)
}

func TestAggregate_InsufficientSupport(t *testing.T) {
	raw := append(events("0439708184", 1, 9, 8, 10), events("9780439708180", 2, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5)...)
	res := NewAggregator(DefaultRules()).Run(raw, nil)

	require.Len(t, res.Aggregates, 1)
	assert.Equal(t, "9780439708180", res.Aggregates[0].Key)
	assert.Equal(t, 1, res.Stats.InsufficientSupport)
	assert.Equal(t, 2, res.Stats.Groups)
	assert.InDelta(t, 0.0, *res.Aggregates[0].StdDev, 1e-12)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	var raw []RawEvent
	for i := 0; i < 40; i++ {
		raw = append(raw, RawEvent{
			ActorID: strconv.Itoa(i % 7),
			ISBN:    []string{"0439708184", "0439139597", "9780439708180"}[i%3],
			Score:   strconv.Itoa(1 + (i*7)%10),
		})
	}
	cohorts := map[int64]string{0: "18-25", 1: "18-25", 2: "26-35", 3: "66+"}
	agg := NewAggregator(Rules{ScaleFactor: 2, MinSupport: 1, MinCohortSupport: 1})
	want := agg.Run(raw, cohorts)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		shuffled := append([]RawEvent(nil), raw...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := agg.Run(shuffled, cohorts)
		assert.Equal(t, want.Aggregates, got.Aggregates)
		assert.Equal(t, want.Cohorts, got.Cohorts)
	}
}

func TestAggregate_SingleEventHasNoStdDev(t *testing.T) {
	agg := NewAggregator(Rules{ScaleFactor: 2, MinSupport: 1, MinCohortSupport: 1})
	res := agg.Run(events("0439708184", 1, 7), nil)
	require.Len(t, res.Aggregates, 1)
	assert.Nil(t, res.Aggregates[0].StdDev)
	assert.Equal(t, 7.0, res.Aggregates[0].Median)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 5.0, median([]int{5}))
	assert.Equal(t, 4.5, median([]int{3, 6}))
	assert.Equal(t, 6.0, median([]int{1, 6, 8}))
}

func TestScaleFactorConfigurable(t *testing.T) {
	agg := NewAggregator(Rules{ScaleFactor: 1, MinSupport: 1, MinCohortSupport: 1})
	res := agg.Run(events("0439708184", 1, 4, 5), nil)
	assert.InDelta(t, 4.5, res.Aggregates[0].Normalized, 1e-12)
}

func TestAggregateByCohort(t *testing.T) {
	var raw []RawEvent
	raw = append(raw, events("0439708184", 1, 8, 8, 8, 8, 8)...)      // 18-25
	raw = append(raw, events("0439708184", 2, 6, 6, 6, 6)...)         // 26-35, below support
	raw = append(raw, events("0439708184", 99, 4, 4, 4, 4, 4)...)     // actor unknown
	raw = append(raw, events("0439708184", 3, 10, 10, 10, 10, 10)...) // Unknown cohort label
	cohorts := map[int64]string{1: "18-25", 2: "26-35", 3: "Unknown"}

	res := NewAggregator(DefaultRules()).Run(raw, cohorts)
	require.Len(t, res.Cohorts, 3)

	require.NotNil(t, res.Cohorts[0].Cohort)
	assert.Equal(t, "18-25", *res.Cohorts[0].Cohort)
	assert.Equal(t, 8.0, res.Cohorts[0].Mean)
	assert.Equal(t, int64(5), res.Cohorts[0].Count)

	require.NotNil(t, res.Cohorts[1].Cohort)
	assert.Equal(t, "Unknown", *res.Cohorts[1].Cohort)

	assert.Nil(t, res.Cohorts[2].Cohort, "missing actors form their own trailing group")
	assert.Equal(t, 4.0, res.Cohorts[2].Mean)

	assert.Equal(t, 1, res.Stats.CohortInsufficientSupport)
	assert.Equal(t, 5, res.Stats.MissingActor)
	assert.Equal(t, 4, res.Stats.CohortGroups)

	// 19 events total: the per-book aggregate survives.
	require.Len(t, res.Aggregates, 1)
	assert.Equal(t, int64(19), res.Aggregates[0].Count)
	assert.False(t, math.IsNaN(res.Aggregates[0].Mean))
}
