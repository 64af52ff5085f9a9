// Package pipeline sequences the batch stages: catalog cleaning, community
// rating aggregation, the join, reporting and export.
//
// Stages hand off through the relational store. Each stage fully materializes
// its output before the next begins and a run stops at the first failed
// stage.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/bookpipe/pkg/catalog"
	"github.com/otherjamesbrown/bookpipe/pkg/cohort"
	bperrors "github.com/otherjamesbrown/bookpipe/pkg/errors"
	"github.com/otherjamesbrown/bookpipe/pkg/events"
	"github.com/otherjamesbrown/bookpipe/pkg/export"
	"github.com/otherjamesbrown/bookpipe/pkg/join"
	"github.com/otherjamesbrown/bookpipe/pkg/logging"
	"github.com/otherjamesbrown/bookpipe/pkg/observability"
	"github.com/otherjamesbrown/bookpipe/pkg/ratings"
	"github.com/otherjamesbrown/bookpipe/pkg/report"
	"github.com/otherjamesbrown/bookpipe/pkg/store"
)

// Stage names.
const (
	StageCatalog = "catalog"
	StageRatings = "ratings"
	StageJoin    = join.Stage
	StageReport  = report.Stage
	StageExport  = export.Stage
)

// AllStages lists every stage in run order.
var AllStages = []string{StageCatalog, StageRatings, StageJoin, StageReport, StageExport}

// Processed file names.
const (
	FileBooks        = "goodreads_cleaned.csv"
	FileAggregates   = "bc_ratings_aggregated.csv"
	FileUsers        = "bc_users_cleaned.csv"
	FileDemographics = "bc_demographic_insights.csv"
	FileEnriched     = "bc_ratings_with_demographics.csv"
	FileMaster       = "master_dataset.csv"
)

// Settings carries input locations, output directories and the rule sets
// of every stage.
type Settings struct {
	CatalogPath        string
	RatingsPath        string
	UsersPath          string
	CommunityBooksPath string // optional

	ProcessedDir string
	ReportDir    string
	ExportDir    string

	Catalog catalog.Rules
	Cohort  cohort.Rules
	Ratings ratings.Rules
	Join    join.Rules
	Report  report.Rules
}

// Mirror copies store tables to a secondary database.
type Mirror interface {
	Mirror(ctx context.Context, src *store.SQLiteStore, tables []string) ([]store.MirrorResult, error)
}

// Runner executes stages against one store.
type Runner struct {
	settings Settings
	store    *store.SQLiteStore
	mirror   Mirror
	emitter  events.Emitter
	metrics  *observability.PipelineMetrics
	tracer   *observability.Tracer
	logger   logging.Logger
	now      func() time.Time
	runID    string
}

// Option configures the runner.
type Option func(*Runner)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithEmitter publishes stage and run events.
func WithEmitter(e events.Emitter) Option {
	return func(r *Runner) {
		r.emitter = e
	}
}

// WithMetrics records stage metrics.
func WithMetrics(m *observability.PipelineMetrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithMirror copies every table to m after a successful run.
func WithMirror(m Mirror) Option {
	return func(r *Runner) {
		r.mirror = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithRunID sets the run ID instead of generating one.
func WithRunID(id string) Option {
	return func(r *Runner) {
		r.runID = id
	}
}

// New creates a runner.
func New(settings Settings, st *store.SQLiteStore, opts ...Option) *Runner {
	r := &Runner{
		settings: settings,
		store:    st,
		emitter:  events.NoOpEmitter{},
		tracer:   observability.NewTracer(),
		logger:   logging.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = uuid.New().String()
	}
	r.logger = r.logger.With(logging.F("component", "pipeline"), logging.F("run_id", r.runID))
	return r
}

// RunID returns the ID stamped on stats, events and logs.
func (r *Runner) RunID() string {
	return r.runID
}

// StageResult reports one stage execution.
type StageResult struct {
	Stage    string           `json:"stage" yaml:"stage"`
	Success  bool             `json:"success" yaml:"success"`
	Counters map[string]int64 `json:"counters" yaml:"counters"`
	Files    []string         `json:"files,omitempty" yaml:"files,omitempty"`
	Duration time.Duration    `json:"duration" yaml:"duration"`
	Error    string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunResult reports a whole run.
type RunResult struct {
	RunID       string               `json:"run_id" yaml:"run_id"`
	Stages      []StageResult        `json:"stages" yaml:"stages"`
	Mirrored    []store.MirrorResult `json:"mirrored,omitempty" yaml:"mirrored,omitempty"`
	MasterRows  int                  `json:"master_rows" yaml:"master_rows"`
	StartedAt   time.Time            `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time            `json:"completed_at" yaml:"completed_at"`
	Success     bool                 `json:"success" yaml:"success"`
}

// ValidateStages rejects unknown stage names.
func ValidateStages(stages []string) error {
	for _, s := range stages {
		known := false
		for _, k := range AllStages {
			if s == k {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown stage %q: %w", s, bperrors.ErrValidation)
		}
	}
	return nil
}

// Run executes stages in order and stops at the first failure. The returned
// error is a *errors.PipelineError naming the failed stage. The result is
// always non-nil.
func (r *Runner) Run(ctx context.Context, stages []string) (*RunResult, error) {
	res := &RunResult{RunID: r.runID, StartedAt: r.now()}
	if err := ValidateStages(stages); err != nil {
		return res, err
	}

	ctx = logging.WithRunID(ctx, r.runID)
	ctx, span := r.tracer.StartRunSpan(ctx, r.runID)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	r.logger.Info("Starting pipeline run", logging.F("stages", stages))

	var runErr *bperrors.PipelineError
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			runErr = bperrors.ClassifyError(err, stage)
			break
		}
		sr, err := r.RunStage(ctx, stage)
		res.Stages = append(res.Stages, sr)
		if stage == StageJoin && err == nil {
			res.MasterRows = int(sr.Counters["output_rows"])
		}
		if err != nil {
			runErr = bperrors.ClassifyError(err, stage)
			break
		}
	}

	if runErr == nil && r.mirror != nil {
		mirrored, err := r.mirrorAll(ctx)
		res.Mirrored = mirrored
		if err != nil {
			runErr = bperrors.ClassifyError(err, "mirror")
		}
	}

	res.CompletedAt = r.now()
	res.Success = runErr == nil
	if r.metrics != nil {
		r.metrics.SetRunSuccess(res.Success)
	}
	r.emitRun(ctx, stages, res, runErr)

	if runErr != nil {
		helper.SetError(runErr, string(runErr.Code))
		r.logger.Error("Pipeline run failed",
			logging.F("stage", runErr.Stage),
			logging.F("code", string(runErr.Code)),
			logging.F("suggested_action", bperrors.GetSuggestedAction(runErr.Code)),
			logging.Err(runErr))
		return res, runErr
	}
	helper.SetSuccess()
	r.logger.Info("Pipeline run completed",
		logging.F("master_rows", res.MasterRows),
		logging.F("duration", res.CompletedAt.Sub(res.StartedAt)))
	return res, nil
}

// RunStage executes a single stage and records its counters, metrics, span
// and event whatever the outcome.
func (r *Runner) RunStage(ctx context.Context, stage string) (StageResult, error) {
	sr := StageResult{Stage: stage}
	fn, ok := r.stageFunc(stage)
	if !ok {
		return sr, fmt.Errorf("unknown stage %q: %w", stage, bperrors.ErrValidation)
	}

	ctx = logging.WithStage(ctx, stage)
	ctx, span := r.tracer.StartStageSpan(ctx, stage)
	defer span.End()
	helper := observability.NewSpanHelper(span)
	logger := r.logger.WithContext(ctx)

	start := time.Now()
	out, err := fn(ctx)
	sr.Duration = time.Since(start)
	sr.Counters = out.counters
	sr.Files = out.files
	helper.SetDuration(sr.Duration.Milliseconds())

	event := events.StageCompletedEvent{
		BaseEvent:  events.NewBaseEvent("stage.completed", r.runID),
		Stage:      stage,
		DurationMs: sr.Duration.Milliseconds(),
		Counters:   sr.Counters,
	}

	if err != nil {
		pe := bperrors.ClassifyError(err, stage)
		sr.Error = pe.Error()
		helper.SetError(pe, string(pe.Code))
		if r.metrics != nil {
			r.metrics.RecordStage(stage, observability.StatusFailed, sr.Duration.Seconds())
			r.metrics.RecordError(stage, string(pe.Code))
		}
		event.ErrorCode = string(pe.Code)
		event.Error = pe.Error()
		r.emitStage(ctx, event)
		logger.Error("Stage failed", logging.F("code", string(pe.Code)), logging.Err(pe))
		return sr, pe
	}

	sr.Success = true
	helper.SetCounters(sr.Counters)
	helper.SetSuccess()
	if r.metrics != nil {
		r.metrics.RecordStage(stage, observability.StatusSuccess, sr.Duration.Seconds())
		r.metrics.RecordCounters(stage, sr.Counters)
	}
	if err := r.store.RecordStageStats(ctx, r.runID, stage, sr.Counters, r.now()); err != nil {
		logger.Warn("Failed to record stage stats", logging.Err(err))
	}
	event.Success = true
	r.emitStage(ctx, event)

	fields := []logging.Field{logging.F("duration", sr.Duration)}
	for _, name := range sortedKeys(sr.Counters) {
		fields = append(fields, logging.F(name, sr.Counters[name]))
	}
	logger.Info("Stage completed", fields...)
	return sr, nil
}

func (r *Runner) mirrorAll(ctx context.Context) ([]store.MirrorResult, error) {
	results, err := r.mirror.Mirror(ctx, r.store, store.TableNames())
	if err != nil {
		return results, fmt.Errorf("mirror tables: %w", err)
	}
	for _, m := range results {
		r.logger.Info("Mirrored table", logging.F("table", m.Table), logging.F("rows", m.Rows))
	}
	return results, nil
}

func (r *Runner) emitStage(ctx context.Context, event events.StageCompletedEvent) {
	if err := r.emitter.EmitStageCompleted(ctx, event); err != nil {
		r.logger.Warn("Failed to publish stage event", logging.Err(err), logging.F("stage", event.Stage))
	}
}

func (r *Runner) emitRun(ctx context.Context, stages []string, res *RunResult, runErr *bperrors.PipelineError) {
	event := events.RunCompletedEvent{
		BaseEvent:       events.NewBaseEvent("run.completed", r.runID),
		Stages:          stages,
		StartedAt:       res.StartedAt,
		CompletedAt:     res.CompletedAt,
		DurationSeconds: res.CompletedAt.Sub(res.StartedAt).Seconds(),
		Success:         res.Success,
		MasterRows:      res.MasterRows,
	}
	for _, sr := range res.Stages {
		if sr.Success {
			event.CompletedStages = append(event.CompletedStages, sr.Stage)
		}
	}
	if runErr != nil {
		event.FailedStage = runErr.Stage
		event.ErrorCode = string(runErr.Code)
	}
	if err := r.emitter.EmitRunCompleted(ctx, event); err != nil {
		r.logger.Warn("Failed to publish run event", logging.Err(err))
	}
}
