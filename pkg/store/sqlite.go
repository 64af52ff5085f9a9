package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/otherjamesbrown/bookpipe/pkg/catalog"
	"github.com/otherjamesbrown/bookpipe/pkg/cohort"
	bperrors "github.com/otherjamesbrown/bookpipe/pkg/errors"
	"github.com/otherjamesbrown/bookpipe/pkg/join"
	"github.com/otherjamesbrown/bookpipe/pkg/ratings"
)

// SQLiteStore is the local relational store shared by every stage.
type SQLiteStore struct {
	db   *sqlx.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path.
// Use ":memory:" for a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	stats := mustTable(TableStageStats)
	if _, err := db.Exec(stats.CreateSQL(SQLite, true)); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// DB exposes the underlying handle.
func (s *SQLiteStore) DB() *sqlx.DB {
	return s.db
}

// TableExists reports whether name has been created.
func (s *SQLiteStore) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

// replace drops and recreates table and inserts rows, all in one transaction.
func replace[T any](ctx context.Context, s *SQLiteStore, name string, rows []T) error {
	t := mustTable(name)
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+t.Name); err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, t.CreateSQL(SQLite, false)); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if len(rows) > 0 {
		stmt, err := tx.PrepareNamedContext(ctx, t.InsertNamedSQL())
		if err != nil {
			return fmt.Errorf("prepare insert %s: %w", name, err)
		}
		defer stmt.Close()
		for i := range rows {
			if _, err := stmt.ExecContext(ctx, rows[i]); err != nil {
				return fmt.Errorf("insert %s row %d: %w", name, i, err)
			}
		}
	}
	for _, q := range t.IndexSQL() {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("index %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace %s: %w", name, err)
	}
	return nil
}

// load reads every row of table in insertion order. A table that was never
// written is a missing source.
func load[T any](ctx context.Context, s *SQLiteStore, name string) ([]T, error) {
	ok, err := s.TableExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, bperrors.NewMissingSource("", "table "+name, bperrors.ErrNotFound)
	}
	var out []T
	if err := s.db.SelectContext(ctx, &out, mustTable(name).SelectSQL()); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return out, nil
}

// ReplaceBooks replaces the cleaned catalog.
func (s *SQLiteStore) ReplaceBooks(ctx context.Context, books []catalog.Book) error {
	return replace(ctx, s, TableBooks, books)
}

// LoadBooks reads the cleaned catalog in its original order.
func (s *SQLiteStore) LoadBooks(ctx context.Context) ([]catalog.Book, error) {
	return load[catalog.Book](ctx, s, TableBooks)
}

// ReplaceCommunityRatings replaces the per-book aggregates.
func (s *SQLiteStore) ReplaceCommunityRatings(ctx context.Context, aggs []ratings.Aggregate) error {
	return replace(ctx, s, TableCommunityRatings, aggs)
}

// LoadCommunityRatings reads the per-book aggregates.
func (s *SQLiteStore) LoadCommunityRatings(ctx context.Context) ([]ratings.Aggregate, error) {
	return load[ratings.Aggregate](ctx, s, TableCommunityRatings)
}

// ReplaceUsers replaces the cleaned actors.
func (s *SQLiteStore) ReplaceUsers(ctx context.Context, actors []cohort.Actor) error {
	return replace(ctx, s, TableUsers, actors)
}

// LoadUsers reads the cleaned actors.
func (s *SQLiteStore) LoadUsers(ctx context.Context) ([]cohort.Actor, error) {
	return load[cohort.Actor](ctx, s, TableUsers)
}

// ReplaceDemographics replaces the per-cohort aggregates.
func (s *SQLiteStore) ReplaceDemographics(ctx context.Context, aggs []ratings.CohortAggregate) error {
	return replace(ctx, s, TableDemographicRatings, aggs)
}

// LoadDemographics reads the per-cohort aggregates.
func (s *SQLiteStore) LoadDemographics(ctx context.Context) ([]ratings.CohortAggregate, error) {
	return load[ratings.CohortAggregate](ctx, s, TableDemographicRatings)
}

// ReplaceMaster replaces the joined table. Row order is preserved.
func (s *SQLiteStore) ReplaceMaster(ctx context.Context, records []join.Record) error {
	return replace(ctx, s, TableMaster, records)
}

// LoadMaster reads the joined table in engagement order.
func (s *SQLiteStore) LoadMaster(ctx context.Context) ([]join.Record, error) {
	return load[join.Record](ctx, s, TableMaster)
}

// StageStat is one persisted audit counter.
type StageStat struct {
	RunID      string `db:"run_id" json:"run_id" yaml:"run_id"`
	Stage      string `db:"stage" json:"stage" yaml:"stage"`
	Counter    string `db:"counter" json:"counter" yaml:"counter"`
	Value      int64  `db:"value" json:"value" yaml:"value"`
	RecordedAt string `db:"recorded_at" json:"recorded_at" yaml:"recorded_at"`
}

// RecordStageStats appends a stage's counters for a run. Re-recording the
// same run and stage overwrites the earlier values.
func (s *SQLiteStore) RecordStageStats(ctx context.Context, runID, stage string, counters map[string]int64, at time.Time) error {
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stage stats: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx,
		`INSERT OR REPLACE INTO stage_stats (run_id, stage, counter, value, recorded_at)
		 VALUES (:run_id, :stage, :counter, :value, :recorded_at)`)
	if err != nil {
		return fmt.Errorf("prepare stage stats: %w", err)
	}
	defer stmt.Close()

	ts := at.UTC().Format(time.RFC3339)
	for _, name := range names {
		row := StageStat{RunID: runID, Stage: stage, Counter: name, Value: counters[name], RecordedAt: ts}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("insert stage stat %s/%s: %w", stage, name, err)
		}
	}
	return tx.Commit()
}

// StageStats returns the counters recorded for a run, ordered by stage then
// counter name. An empty runID selects the most recent run.
func (s *SQLiteStore) StageStats(ctx context.Context, runID string) ([]StageStat, error) {
	if runID == "" {
		err := s.db.GetContext(ctx, &runID,
			"SELECT run_id FROM stage_stats ORDER BY recorded_at DESC, rowid DESC LIMIT 1")
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("find latest run: %w", err)
		}
	}
	var out []StageStat
	err := s.db.SelectContext(ctx, &out,
		`SELECT run_id, stage, counter, value, recorded_at FROM stage_stats
		 WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("load stage stats: %w", err)
	}
	return out, nil
}

// TableStatus is the row count of one table.
type TableStatus struct {
	Name   string `json:"name" yaml:"name"`
	Exists bool   `json:"exists" yaml:"exists"`
	Rows   int64  `json:"rows" yaml:"rows"`
}

// Status reports row counts for every table in Schema.
func (s *SQLiteStore) Status(ctx context.Context) ([]TableStatus, error) {
	out := make([]TableStatus, 0, len(Schema))
	for _, t := range Schema {
		st := TableStatus{Name: t.Name}
		ok, err := s.TableExists(ctx, t.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			st.Exists = true
			if err := s.db.GetContext(ctx, &st.Rows, "SELECT count(*) FROM "+t.Name); err != nil {
				return nil, fmt.Errorf("count %s: %w", t.Name, err)
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// readRaw returns every row of table as column-ordered values, for mirroring.
func (s *SQLiteStore) readRaw(ctx context.Context, t Table) ([][]interface{}, error) {
	rows, err := s.db.QueryxContext(ctx, t.SelectSQL())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.Name, err)
	}
	defer rows.Close()

	var out [][]interface{}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.Name, err)
		}
		for i, c := range t.Columns {
			vals[i] = portable(c.Type, vals[i])
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

// portable converts a SQLite value to the Go type the target column expects.
func portable(ct ColumnType, v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case int64:
		switch ct {
		case Boolean:
			return x != 0
		case Real:
			return float64(x)
		}
	case float64:
		if ct == Integer {
			return int64(x)
		}
	}
	return v
}
