// Package store persists pipeline tables to SQLite and optionally mirrors
// them to PostgreSQL.
//
// Every derived table is replaced wholesale on write: dropped, recreated with
// its indexes and refilled inside one transaction. stage_stats is the only
// table that accumulates across runs.
package store

import (
	"fmt"
	"strings"
)

// Table names.
const (
	TableBooks              = "books"
	TableCommunityRatings   = "community_ratings"
	TableUsers              = "users"
	TableDemographicRatings = "demographic_ratings"
	TableMaster             = "master"
	TableStageStats         = "stage_stats"
)

// ColumnType is a portable column type.
type ColumnType int

const (
	Text ColumnType = iota
	Real
	Integer
	Boolean
)

// Column describes one column.
type Column struct {
	Name       string
	Type       ColumnType
	NotNull    bool
	PrimaryKey bool
}

// Index describes one secondary index.
type Index struct {
	Name    string
	Columns []string
}

// Table describes a table in both dialects.
type Table struct {
	Name       string
	Columns    []Column
	Indexes    []Index
	PrimaryKey []string // composite key; single-column keys use Column.PrimaryKey
}

// Dialect selects SQL syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (t ColumnType) sql(d Dialect) string {
	switch t {
	case Real:
		if d == Postgres {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case Integer:
		if d == Postgres {
			return "BIGINT"
		}
		return "INTEGER"
	case Boolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// CreateSQL returns the CREATE TABLE statement for d.
func (t Table) CreateSQL(d Dialect, ifNotExists bool) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(t.Name)
	b.WriteString(" (\n")
	for i, c := range t.Columns {
		fmt.Fprintf(&b, "\t%s %s", c.Name, c.Type.sql(d))
		if c.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
		} else if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if i < len(t.Columns)-1 || len(t.PrimaryKey) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	if len(t.PrimaryKey) > 0 {
		fmt.Fprintf(&b, "\tPRIMARY KEY (%s)\n", strings.Join(t.PrimaryKey, ", "))
	}
	b.WriteString(")")
	return b.String()
}

// IndexSQL returns one CREATE INDEX statement per index.
func (t Table) IndexSQL() []string {
	stmts := make([]string, len(t.Indexes))
	for i, idx := range t.Indexes {
		stmts[i] = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", idx.Name, t.Name, strings.Join(idx.Columns, ", "))
	}
	return stmts
}

// InsertNamedSQL returns a sqlx named INSERT covering every column.
func (t Table) InsertNamedSQL() string {
	cols := t.ColumnNames()
	params := make([]string, len(cols))
	for i, c := range cols {
		params[i] = ":" + c
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, strings.Join(cols, ", "), strings.Join(params, ", "))
}

// SelectSQL returns a SELECT of every column in insertion order.
func (t Table) SelectSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", strings.Join(t.ColumnNames(), ", "), t.Name)
}

// Schema lists every table in dependency order.
var Schema = []Table{
	{
		Name: TableBooks,
		Columns: []Column{
			{Name: "book_key", Type: Text, PrimaryKey: true},
			{Name: "isbn", Type: Text},
			{Name: "title", Type: Text, NotNull: true},
			{Name: "authors", Type: Text},
			{Name: "goodreads_rating", Type: Real},
			{Name: "goodreads_review_count", Type: Integer},
			{Name: "page_count", Type: Integer},
			{Name: "publication_date", Type: Text},
			{Name: "publisher", Type: Text},
			{Name: "language", Type: Text},
			{Name: "is_uk_publisher", Type: Boolean},
		},
		Indexes: []Index{
			{Name: "idx_books_isbn", Columns: []string{"isbn"}},
			{Name: "idx_books_publisher", Columns: []string{"publisher"}},
			{Name: "idx_books_uk", Columns: []string{"is_uk_publisher"}},
		},
	},
	{
		Name: TableCommunityRatings,
		Columns: []Column{
			{Name: "isbn", Type: Text, PrimaryKey: true},
			{Name: "bc_rating_avg", Type: Real},
			{Name: "bc_rating_count", Type: Integer},
			{Name: "bc_rating_stddev", Type: Real},
			{Name: "bc_rating_median", Type: Real},
			{Name: "bc_rating_normalized", Type: Real},
		},
		Indexes: []Index{
			{Name: "idx_community_isbn", Columns: []string{"isbn"}},
		},
	},
	{
		Name: TableUsers,
		Columns: []Column{
			{Name: "user_id", Type: Integer, PrimaryKey: true},
			{Name: "location", Type: Text},
			{Name: "age", Type: Real},
			{Name: "age_group", Type: Text},
			{Name: "country", Type: Text},
			{Name: "is_uk", Type: Boolean},
		},
	},
	{
		Name: TableDemographicRatings,
		Columns: []Column{
			{Name: "isbn", Type: Text, NotNull: true},
			{Name: "age_group", Type: Text},
			{Name: "rating_avg", Type: Real},
			{Name: "rating_count", Type: Integer},
		},
		Indexes: []Index{
			{Name: "idx_demo_isbn", Columns: []string{"isbn"}},
			{Name: "idx_demo_age", Columns: []string{"age_group"}},
		},
	},
	{
		Name: TableMaster,
		Columns: []Column{
			{Name: "book_key", Type: Text, PrimaryKey: true},
			{Name: "isbn", Type: Text},
			{Name: "title", Type: Text, NotNull: true},
			{Name: "authors", Type: Text},
			{Name: "goodreads_rating", Type: Real},
			{Name: "goodreads_review_count", Type: Integer},
			{Name: "page_count", Type: Integer},
			{Name: "publisher", Type: Text},
			{Name: "is_uk_publisher", Type: Boolean},
			{Name: "bc_rating", Type: Real},
			{Name: "bc_rating_count", Type: Integer},
			{Name: "bc_rating_stddev", Type: Real},
			{Name: "rating_gap", Type: Real},
			{Name: "book_category", Type: Text, NotNull: true},
			{Name: "engagement_score", Type: Real},
		},
		Indexes: []Index{
			{Name: "idx_master_category", Columns: []string{"book_category"}},
			{Name: "idx_master_publisher", Columns: []string{"publisher"}},
		},
	},
	{
		Name: TableStageStats,
		Columns: []Column{
			{Name: "run_id", Type: Text, NotNull: true},
			{Name: "stage", Type: Text, NotNull: true},
			{Name: "counter", Type: Text, NotNull: true},
			{Name: "value", Type: Integer, NotNull: true},
			{Name: "recorded_at", Type: Text, NotNull: true},
		},
		PrimaryKey: []string{"run_id", "stage", "counter"},
	},
}

// TableNames lists every table in Schema order.
func TableNames() []string {
	names := make([]string, len(Schema))
	for i, t := range Schema {
		names[i] = t.Name
	}
	return names
}

// TableByName looks up a table definition.
func TableByName(name string) (Table, bool) {
	for _, t := range Schema {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

func mustTable(name string) Table {
	t, ok := TableByName(name)
	if !ok {
		panic(fmt.Sprintf("store: unknown table %q", name))
	}
	return t
}
