package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSQL_Dialects(t *testing.T) {
	books, ok := TableByName(TableBooks)
	require.True(t, ok)

	lite := books.CreateSQL(SQLite, false)
	assert.True(t, strings.HasPrefix(lite, "CREATE TABLE books ("))
	assert.Contains(t, lite, "book_key TEXT PRIMARY KEY,")
	assert.Contains(t, lite, "goodreads_rating REAL,")
	assert.Contains(t, lite, "title TEXT NOT NULL,")

	pg := books.CreateSQL(Postgres, true)
	assert.Contains(t, pg, "CREATE TABLE IF NOT EXISTS books")
	assert.Contains(t, pg, "goodreads_rating DOUBLE PRECISION,")
	assert.Contains(t, pg, "page_count BIGINT,")
	assert.Contains(t, pg, "is_uk_publisher BOOLEAN\n)")
}

func TestCreateSQL_CompositeKey(t *testing.T) {
	stats, ok := TableByName(TableStageStats)
	require.True(t, ok)
	q := stats.CreateSQL(SQLite, true)
	assert.Contains(t, q, "recorded_at TEXT NOT NULL,\n\tPRIMARY KEY (run_id, stage, counter)\n)")
}

func TestIndexSQL(t *testing.T) {
	books, _ := TableByName(TableBooks)
	assert.Equal(t, []string{
		"CREATE INDEX IF NOT EXISTS idx_books_isbn ON books(isbn)",
		"CREATE INDEX IF NOT EXISTS idx_books_publisher ON books(publisher)",
		"CREATE INDEX IF NOT EXISTS idx_books_uk ON books(is_uk_publisher)",
	}, books.IndexSQL())
}

func TestInsertNamedSQL(t *testing.T) {
	demo, _ := TableByName(TableDemographicRatings)
	assert.Equal(t,
		"INSERT INTO demographic_ratings (isbn, age_group, rating_avg, rating_count) VALUES (:isbn, :age_group, :rating_avg, :rating_count)",
		demo.InsertNamedSQL())
}

func TestTableByName_Unknown(t *testing.T) {
	_, ok := TableByName("nope")
	assert.False(t, ok)
	assert.Panics(t, func() { mustTable("nope") })
}

func TestTableNames(t *testing.T) {
	names := TableNames()
	require.Len(t, names, len(Schema))
	assert.Equal(t, TableBooks, names[0])
	assert.Contains(t, names, TableMaster)
	assert.Contains(t, names, TableStageStats)
}
