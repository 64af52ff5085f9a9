package pipeline

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/otherjamesbrown/bookpipe/pkg/catalog"
	"github.com/otherjamesbrown/bookpipe/pkg/cohort"
	bperrors "github.com/otherjamesbrown/bookpipe/pkg/errors"
	"github.com/otherjamesbrown/bookpipe/pkg/export"
	"github.com/otherjamesbrown/bookpipe/pkg/ingest"
	"github.com/otherjamesbrown/bookpipe/pkg/join"
	"github.com/otherjamesbrown/bookpipe/pkg/logging"
	"github.com/otherjamesbrown/bookpipe/pkg/ratings"
	"github.com/otherjamesbrown/bookpipe/pkg/report"
	"github.com/otherjamesbrown/bookpipe/pkg/tabular"
)

type stageOutput struct {
	counters map[string]int64
	files    []string
}

type stageFunc func(ctx context.Context) (stageOutput, error)

func (r *Runner) stageFunc(stage string) (stageFunc, bool) {
	switch stage {
	case StageCatalog:
		return r.runCatalog, true
	case StageRatings:
		return r.runRatings, true
	case StageJoin:
		return r.runJoin, true
	case StageReport:
		return r.runReport, true
	case StageExport:
		return r.runExport, true
	}
	return nil, false
}

// runCatalog cleans the catalog source into the books table.
func (r *Runner) runCatalog(ctx context.Context) (stageOutput, error) {
	raw, readStats, err := ingest.LoadCatalog(r.settings.CatalogPath)
	if err != nil {
		return stageOutput{}, err
	}

	books, stats := catalog.NewCleaner(r.settings.Catalog).Clean(raw)
	out := stageOutput{counters: stats.Counters()}
	out.counters["bad_lines"] = int64(readStats.BadLines)

	if err := r.store.ReplaceBooks(ctx, books); err != nil {
		return out, err
	}
	rows := make([][]string, len(books))
	for i, b := range books {
		rows[i] = b.Values()
	}
	path, err := r.writeProcessed(FileBooks, catalog.Columns, rows)
	if err != nil {
		return out, err
	}
	out.files = append(out.files, path)
	return out, nil
}

// runRatings cleans actors and aggregates rating events into the
// community_ratings, users and demographic_ratings tables.
func (r *Runner) runRatings(ctx context.Context) (stageOutput, error) {
	rawEvents, eventStats, err := ingest.LoadRatingEvents(r.settings.RatingsPath)
	if err != nil {
		return stageOutput{}, err
	}
	rawActors, actorStats, err := ingest.LoadActors(r.settings.UsersPath)
	if err != nil {
		return stageOutput{}, err
	}

	out := stageOutput{counters: make(map[string]int64)}
	if r.settings.CommunityBooksPath != "" {
		books, err := ingest.ScanCommunityBooks(r.settings.CommunityBooksPath)
		switch {
		case bperrors.IsMissingSource(err):
			r.logger.WithContext(ctx).Warn("Community books file not found, skipping",
				logging.F("path", r.settings.CommunityBooksPath))
		case err != nil:
			return stageOutput{}, err
		default:
			out.counters["books.input_rows"] = int64(books.Rows)
			out.counters["books.valid_identifiers"] = int64(books.ValidIdentifiers)
		}
	}

	actors, cstats := cohort.CleanActors(rawActors, r.settings.Cohort)
	result := ratings.NewAggregator(r.settings.Ratings).Run(rawEvents, cohort.Index(actors))

	merge(out.counters, "", result.Stats.Counters())
	merge(out.counters, "users.", cstats.Counters())
	out.counters["bad_lines"] = int64(eventStats.BadLines)
	out.counters["users.bad_lines"] = int64(actorStats.BadLines)

	if err := r.store.ReplaceCommunityRatings(ctx, result.Aggregates); err != nil {
		return out, err
	}
	if err := r.store.ReplaceUsers(ctx, actors); err != nil {
		return out, err
	}
	if err := r.store.ReplaceDemographics(ctx, result.Cohorts); err != nil {
		return out, err
	}

	aggRows := make([][]string, len(result.Aggregates))
	for i, a := range result.Aggregates {
		aggRows[i] = a.Values()
	}
	actorRows := make([][]string, len(actors))
	for i, a := range actors {
		actorRows[i] = a.Values()
	}
	cohortRows := make([][]string, len(result.Cohorts))
	for i, c := range result.Cohorts {
		cohortRows[i] = c.Values()
	}
	for _, f := range []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{FileAggregates, ratings.Columns, aggRows},
		{FileUsers, cohort.Columns, actorRows},
		{FileDemographics, ratings.CohortColumns, cohortRows},
		{FileEnriched, enrichedColumns, enrichedRows(result.Events, actors)},
	} {
		path, err := r.writeProcessed(f.name, f.header, f.rows)
		if err != nil {
			return out, err
		}
		out.files = append(out.files, path)
	}
	return out, nil
}

var enrichedColumns = []string{"user_id", "identity_key", "rating", "age_group", "country", "is_uk"}

// enrichedRows left-joins each prepared event to its actor. Events without a
// matching actor keep empty demographic cells.
func enrichedRows(events []ratings.Event, actors []cohort.Actor) [][]string {
	byID := cohort.ByID(actors)
	rows := make([][]string, len(events))
	for i, e := range events {
		row := []string{"", e.Key, tabular.Int(int64(e.Score)), "", "", ""}
		if e.HasActor {
			row[0] = tabular.Int(e.ActorID)
			if a, ok := byID[e.ActorID]; ok {
				row[3] = a.Cohort
				row[4] = a.Country
				row[5] = tabular.Bool(a.Flagged)
			}
		}
		rows[i] = row
	}
	return rows
}

// runJoin joins the books and community_ratings tables into master.
func (r *Runner) runJoin(ctx context.Context) (stageOutput, error) {
	books, err := r.store.LoadBooks(ctx)
	if err != nil {
		return stageOutput{}, err
	}
	aggs, err := r.store.LoadCommunityRatings(ctx)
	if err != nil {
		return stageOutput{}, err
	}

	records, stats, err := join.Build(books, aggs, r.settings.Join)
	if err != nil {
		return stageOutput{}, err
	}
	out := stageOutput{counters: stats.Counters()}

	if err := r.store.ReplaceMaster(ctx, records); err != nil {
		return out, err
	}
	rows := make([][]string, len(records))
	for i, rec := range records {
		rows[i] = rec.Values()
	}
	path, err := r.writeProcessed(FileMaster, join.Columns, rows)
	if err != nil {
		return out, err
	}
	out.files = append(out.files, path)
	return out, nil
}

// runReport builds the analysis report from master. The cohort table is
// optional.
func (r *Runner) runReport(ctx context.Context) (stageOutput, error) {
	master, err := r.store.LoadMaster(ctx)
	if err != nil {
		return stageOutput{}, err
	}
	demographics, err := r.store.LoadDemographics(ctx)
	if bperrors.IsMissingSource(err) {
		r.logger.WithContext(ctx).Warn("Demographic ratings unavailable, skipping cohort summary")
		demographics = nil
	} else if err != nil {
		return stageOutput{}, err
	}

	rep := report.Build(master, demographics, r.settings.Report, r.now())
	files, err := rep.WriteAll(r.settings.ReportDir)
	out := stageOutput{
		counters: map[string]int64{
			"master_rows":      int64(len(master)),
			"publishers":       int64(len(rep.Publishers)),
			"compared":         int64(len(rep.Comparisons)),
			"community_higher": int64(len(rep.CommunityHigher)),
			"catalog_higher":   int64(len(rep.CatalogHigher)),
			"hidden_gems":      int64(len(rep.HiddenGems)),
			"cohorts":          int64(len(rep.Cohorts)),
		},
		files: files,
	}
	return out, err
}

// runExport writes the BI export of master.
func (r *Runner) runExport(ctx context.Context) (stageOutput, error) {
	master, err := r.store.LoadMaster(ctx)
	if err != nil {
		return stageOutput{}, err
	}
	res, err := export.Write(r.settings.ExportDir, master, r.now())
	return stageOutput{
		counters: map[string]int64{"rows": int64(res.Rows)},
		files:    res.Files,
	}, err
}

func (r *Runner) writeProcessed(name string, header []string, rows [][]string) (string, error) {
	path := filepath.Join(r.settings.ProcessedDir, name)
	if err := tabular.WriteFile(path, header, rows); err != nil {
		return "", err
	}
	return path, nil
}

func merge(dst map[string]int64, prefix string, src map[string]int64) {
	for k, v := range src {
		dst[prefix+k] = v
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
