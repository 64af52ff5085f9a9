package pipeline

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/bookpipe/pkg/catalog"
	"github.com/otherjamesbrown/bookpipe/pkg/cohort"
	bperrors "github.com/otherjamesbrown/bookpipe/pkg/errors"
	"github.com/otherjamesbrown/bookpipe/pkg/events"
	"github.com/otherjamesbrown/bookpipe/pkg/export"
	"github.com/otherjamesbrown/bookpipe/pkg/join"
	"github.com/otherjamesbrown/bookpipe/pkg/observability"
	"github.com/otherjamesbrown/bookpipe/pkg/ratings"
	"github.com/otherjamesbrown/bookpipe/pkg/report"
	"github.com/otherjamesbrown/bookpipe/pkg/store"
)

const booksCSV = `bookID,title,authors,average_rating,isbn,isbn13,language_code,num_pages,ratings_count,publication_date,publisher
1,Harry Potter,J.K. Rowling,4.47,0439708184,,eng,320,4780000,9/1/2003,Scholastic
2,Quiet Book,Jane Doe,3.9,0140449132,,eng,200,120,1/1/2000,Penguin Classics
3,Nobody,Nobody,3.0,,,eng,5,10,1/1/2000,Small Press
4,Bad Rating,X,7.5,0000000001,,eng,100,1,1/1/2000,Penguin
5,Harry Potter Again,J.K. Rowling,4.0,0-439-70818-4,,eng,320,10,9/1/2003,Scholastic
`

func ratingsCSV() string {
	var b strings.Builder
	b.WriteString("\"User-ID\";\"ISBN\";\"Book-Rating\"\n")
	scores := []string{"9", "9", "10", "8", "9", "10", "9", "8", "9", "10", "9", "9"}
	for i, s := range scores {
		b.WriteString("\"" + strconv.Itoa(i+1) + "\";\"0439708184\";\"" + s + "\"\n")
	}
	for i := 0; i < 3; i++ {
		b.WriteString("\"" + strconv.Itoa(i+1) + "\";\"0140449132\";\"7\"\n")
	}
	b.WriteString("\"1\";\"0140449132\";\"0\"\n")
	return b.String()
}

func usersCSV() string {
	var b strings.Builder
	b.WriteString("\"User-ID\";\"Location\";\"Age\"\n")
	for i := 1; i <= 12; i++ {
		age := "30"
		if i > 6 {
			age = "5"
		}
		b.WriteString("\"" + strconv.Itoa(i) + "\";\"london, england\";\"" + age + "\"\n")
	}
	return b.String()
}

type recordingEmitter struct {
	mu     sync.Mutex
	stages []events.StageCompletedEvent
	runs   []events.RunCompletedEvent
}

func (e *recordingEmitter) EmitStageCompleted(_ context.Context, ev events.StageCompletedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stages = append(e.stages, ev)
	return nil
}

func (e *recordingEmitter) EmitRunCompleted(_ context.Context, ev events.RunCompletedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs = append(e.runs, ev)
	return nil
}

func (e *recordingEmitter) Close() error { return nil }

type fakeMirror struct {
	tables []string
}

func (m *fakeMirror) Mirror(_ context.Context, _ *store.SQLiteStore, tables []string) ([]store.MirrorResult, error) {
	m.tables = tables
	return []store.MirrorResult{{Table: store.TableMaster, Rows: 2}}, nil
}

type fixture struct {
	dir      string
	settings Settings
	store    *store.SQLiteStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	require.NoError(t, os.MkdirAll(raw, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(raw, "books.csv"), []byte(booksCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(raw, "BX-Book-Ratings.csv"), []byte(ratingsCSV()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(raw, "BX-Users.csv"), []byte(usersCSV()), 0o644))

	st, err := store.OpenSQLite(filepath.Join(dir, "processed", "bookpipe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &fixture{
		dir:   dir,
		store: st,
		settings: Settings{
			CatalogPath:        filepath.Join(raw, "books.csv"),
			RatingsPath:        filepath.Join(raw, "BX-Book-Ratings.csv"),
			UsersPath:          filepath.Join(raw, "BX-Users.csv"),
			CommunityBooksPath: filepath.Join(raw, "BX-Books.csv"),
			ProcessedDir:       filepath.Join(dir, "processed"),
			ReportDir:          filepath.Join(dir, "output", "reports"),
			ExportDir:          filepath.Join(dir, "output", "tableau"),
			Catalog:            catalog.DefaultRules(),
			Cohort:             cohort.DefaultRules(),
			Ratings:            ratings.DefaultRules(),
			Join:               join.DefaultRules(),
			Report:             report.DefaultRules(),
		},
	}
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func TestRun_EndToEnd(t *testing.T) {
	fx := newFixture(t)
	em := &recordingEmitter{}
	mirror := &fakeMirror{}
	reg := prometheus.NewRegistry()
	metrics := observability.NewPipelineMetrics(reg)

	r := New(fx.settings, fx.store,
		WithEmitter(em), WithMirror(mirror), WithMetrics(metrics),
		WithClock(fixedClock), WithRunID("run-e2e"))

	res, err := r.Run(context.Background(), AllStages)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "run-e2e", res.RunID)
	require.Len(t, res.Stages, len(AllStages))
	assert.Equal(t, 2, res.MasterRows)

	cat := res.Stages[0].Counters
	assert.Equal(t, int64(5), cat["input_rows"])
	assert.Equal(t, int64(1), cat["dropped_rating"])
	assert.Equal(t, int64(1), cat["dropped_duplicates"], "hyphenated identifier collapses onto the first row")
	assert.Equal(t, int64(1), cat["composite_keys"])
	assert.Equal(t, int64(3), cat["output_rows"])

	rat := res.Stages[1].Counters
	assert.Equal(t, int64(1), rat["aggregates"])
	assert.Equal(t, int64(1), rat["insufficient_support"])
	assert.Equal(t, int64(1), rat["dropped_no_opinion"])
	assert.Equal(t, int64(12), rat["users.output_rows"])
	assert.Equal(t, int64(6), rat["users.age_nulled"])
	_, scanned := rat["books.input_rows"]
	assert.False(t, scanned, "absent community books file is skipped")

	master, err := fx.store.LoadMaster(context.Background())
	require.NoError(t, err)
	require.Len(t, master, 2)

	hp := master[0]
	assert.Equal(t, "0439708184", hp.Key)
	assert.Equal(t, join.PopularFavorite, hp.Category)
	assert.InDelta(t, 109.0/24.0, *hp.CommunityRating, 1e-9)
	assert.Equal(t, int64(12), *hp.CommunityCount)
	assert.InDelta(t, 4.47*math.Log(4780001), *hp.Engagement, 1e-9)

	quiet := master[1]
	assert.Equal(t, "0140449132", quiet.Key)
	assert.True(t, quiet.Flagged)
	assert.Nil(t, quiet.CommunityRating, "three events are below support")
	assert.Equal(t, join.Average, quiet.Category)

	for _, name := range []string{FileBooks, FileAggregates, FileUsers, FileDemographics, FileEnriched, FileMaster} {
		assert.FileExists(t, filepath.Join(fx.settings.ProcessedDir, name))
	}
	assert.FileExists(t, filepath.Join(fx.settings.ReportDir, report.FileHTML))
	assert.FileExists(t, filepath.Join(fx.settings.ExportDir, export.FileMaster))
	assert.FileExists(t, filepath.Join(fx.settings.ExportDir, export.FileWorkbook))

	stats, err := fx.store.StageStats(context.Background(), "run-e2e")
	require.NoError(t, err)
	assert.NotEmpty(t, stats)

	assert.Len(t, mirror.tables, len(store.Schema))
	assert.Equal(t, []store.MirrorResult{{Table: store.TableMaster, Rows: 2}}, res.Mirrored)

	require.Len(t, em.stages, len(AllStages))
	require.Len(t, em.runs, 1)
	assert.True(t, em.runs[0].Success)
	assert.Equal(t, AllStages, em.runs[0].CompletedStages)
	assert.Equal(t, 2, em.runs[0].MasterRows)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LastRunSuccess))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StageRunsTotal.WithLabelValues(StageJoin, observability.StatusSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.StageRecords.WithLabelValues(StageJoin, "output_rows")))
}

func TestRun_Idempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := New(fx.settings, fx.store, WithClock(fixedClock)).Run(ctx, AllStages[:3])
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(fx.settings.ProcessedDir, FileMaster))
	require.NoError(t, err)

	_, err = New(fx.settings, fx.store, WithClock(fixedClock)).Run(ctx, AllStages[:3])
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(fx.settings.ProcessedDir, FileMaster))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	master, err := fx.store.LoadMaster(ctx)
	require.NoError(t, err)
	assert.Len(t, master, 2)
}

func TestRun_MissingSourceStopsDownstream(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.Remove(fx.settings.RatingsPath))
	em := &recordingEmitter{}
	reg := prometheus.NewRegistry()
	metrics := observability.NewPipelineMetrics(reg)
	mirror := &fakeMirror{}

	res, err := New(fx.settings, fx.store, WithEmitter(em), WithMetrics(metrics), WithMirror(mirror)).
		Run(context.Background(), AllStages)
	require.Error(t, err)
	assert.True(t, bperrors.IsMissingSource(err))

	var pe *bperrors.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageRatings, pe.Stage)

	assert.False(t, res.Success)
	require.Len(t, res.Stages, 2)
	assert.True(t, res.Stages[0].Success)
	assert.False(t, res.Stages[1].Success)
	assert.NotEmpty(t, res.Stages[1].Error)

	ok, err := fx.store.TableExists(context.Background(), store.TableMaster)
	require.NoError(t, err)
	assert.False(t, ok, "join never ran")
	assert.NoFileExists(t, filepath.Join(fx.settings.ProcessedDir, FileAggregates))
	assert.Nil(t, mirror.tables, "failed runs are not mirrored")

	require.Len(t, em.runs, 1)
	assert.Equal(t, StageRatings, em.runs[0].FailedStage)
	assert.Equal(t, string(bperrors.ErrMissingSource), em.runs[0].ErrorCode)
	assert.Equal(t, []string{StageCatalog}, em.runs[0].CompletedStages)

	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.LastRunSuccess))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StageErrors.WithLabelValues(StageRatings, string(bperrors.ErrMissingSource))))
}

func TestRunStage_JoinWithoutUpstream(t *testing.T) {
	fx := newFixture(t)
	sr, err := New(fx.settings, fx.store).RunStage(context.Background(), StageJoin)
	require.Error(t, err)
	assert.True(t, bperrors.IsMissingSource(err))
	assert.False(t, sr.Success)
	assert.NoFileExists(t, filepath.Join(fx.settings.ProcessedDir, FileMaster))
}

func TestRunStage_ReportWithoutDemographics(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.ReplaceMaster(ctx, []join.Record{{Key: "A", Title: "a", Category: join.Average, Flagged: true, Publisher: "PENGUIN"}}))

	sr, err := New(fx.settings, fx.store, WithClock(fixedClock)).RunStage(ctx, StageReport)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sr.Counters["cohorts"])
	assert.Equal(t, int64(1), sr.Counters["publishers"])
	assert.FileExists(t, filepath.Join(fx.settings.ReportDir, report.FileSummary))
}

func TestRunStage_CommunityBooksCounted(t *testing.T) {
	fx := newFixture(t)
	body := "\"ISBN\";\"Book-Title\"\n\"0439708184\";\"Harry Potter\"\n\"bad\";\"Nope\"\n"
	require.NoError(t, os.WriteFile(fx.settings.CommunityBooksPath, []byte(body), 0o644))

	sr, err := New(fx.settings, fx.store).RunStage(context.Background(), StageRatings)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sr.Counters["books.input_rows"])
	assert.Equal(t, int64(1), sr.Counters["books.valid_identifiers"])
}

func TestRun_UnknownStage(t *testing.T) {
	fx := newFixture(t)
	res, err := New(fx.settings, fx.store).Run(context.Background(), []string{StageCatalog, "publish"})
	require.Error(t, err)
	assert.ErrorIs(t, err, bperrors.ErrValidation)
	assert.Empty(t, res.Stages, "nothing runs when a stage name is unknown")
}

func TestNew_GeneratesRunID(t *testing.T) {
	fx := newFixture(t)
	a := New(fx.settings, fx.store)
	b := New(fx.settings, fx.store)
	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), b.RunID())
}

func TestRun_CancelledBeforeStage(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(fx.settings, fx.store, WithClock(fixedClock)).Run(ctx, AllStages)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.Stages)

	var pe *bperrors.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, bperrors.ErrContextCancelled, pe.Code)
	assert.Equal(t, StageCatalog, pe.Stage)
}

func TestEnrichedRows_LeftJoin(t *testing.T) {
	events := []ratings.Event{
		{Key: "0439708184", ActorID: 7, HasActor: true, Score: 9},
		{Key: "0439708184", ActorID: 99, HasActor: true, Score: 4},
		{Key: "0140449132", Score: 6},
	}
	actors := []cohort.Actor{{ID: 7, Cohort: "25-34", Country: "united kingdom", Flagged: true}}

	rows := enrichedRows(events, actors)

	require.Len(t, rows, len(events))
	assert.Equal(t, []string{"7", "0439708184", "9", "25-34", "united kingdom", "True"}, rows[0])
	assert.Equal(t, []string{"99", "0439708184", "4", "", "", ""}, rows[1], "unknown actor keeps the event")
	assert.Equal(t, []string{"", "0140449132", "6", "", "", ""}, rows[2])
	for _, row := range rows {
		assert.Len(t, row, len(enrichedColumns))
	}
}
