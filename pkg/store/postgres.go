package store

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns a config with sensible default values.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		Database:        "bookpipe",
		User:            "bookpipe",
		SSLMode:         "disable",
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		ConnectTimeout:  10 * time.Second,
	}
}

// ConnectionString builds a PostgreSQL connection string from the config.
func (c *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
		int(c.ConnectTimeout.Seconds()),
	)
}

// Validate checks if the config has required fields set.
func (c *PostgresConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("max connections (%d) must be >= min connections (%d)", c.MaxConns, c.MinConns)
	}
	return nil
}

// ConnectPostgres creates a connection pool and verifies it with a ping.
// The caller is responsible for calling pool.Close() when done.
func ConnectPostgres(ctx context.Context, cfg *PostgresConfig) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// PostgresMirror copies SQLite tables into PostgreSQL with replace semantics.
type PostgresMirror struct {
	pool *pgxpool.Pool
}

// NewPostgresMirror wraps an open pool.
func NewPostgresMirror(pool *pgxpool.Pool) *PostgresMirror {
	return &PostgresMirror{pool: pool}
}

// Pool returns the underlying pool.
func (m *PostgresMirror) Pool() *pgxpool.Pool {
	return m.pool
}

// Close closes the pool.
func (m *PostgresMirror) Close() {
	if m.pool != nil {
		m.pool.Close()
	}
}

// MirrorResult reports the rows copied per table.
type MirrorResult struct {
	Table string `json:"table" yaml:"table"`
	Rows  int64  `json:"rows" yaml:"rows"`
}

// Mirror replaces each named table in PostgreSQL with the contents of the
// same table in src. Tables absent from src are skipped. All tables are
// replaced in one transaction.
func (m *PostgresMirror) Mirror(ctx context.Context, src *SQLiteStore, tables []string) ([]MirrorResult, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin mirror: %w", err)
	}
	defer tx.Rollback(ctx)

	var results []MirrorResult
	for _, name := range tables {
		t, ok := TableByName(name)
		if !ok {
			return nil, fmt.Errorf("mirror: unknown table %q", name)
		}
		exists, err := src.TableExists(ctx, name)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		rows, err := src.readRaw(ctx, t)
		if err != nil {
			return nil, err
		}
		n, err := replaceCopy(ctx, tx, t, rows)
		if err != nil {
			return nil, err
		}
		results = append(results, MirrorResult{Table: name, Rows: n})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit mirror: %w", err)
	}
	return results, nil
}

func replaceCopy(ctx context.Context, tx pgx.Tx, t Table, rows [][]interface{}) (int64, error) {
	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+t.Name); err != nil {
		return 0, fmt.Errorf("drop %s: %w", t.Name, err)
	}
	if _, err := tx.Exec(ctx, t.CreateSQL(Postgres, false)); err != nil {
		return 0, fmt.Errorf("create %s: %w", t.Name, err)
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{t.Name}, t.ColumnNames(), pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy %s: %w", t.Name, err)
	}
	for _, q := range t.IndexSQL() {
		if _, err := tx.Exec(ctx, q); err != nil {
			return 0, fmt.Errorf("index %s: %w", t.Name, err)
		}
	}
	return n, nil
}
