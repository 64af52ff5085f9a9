package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MirrorHealth describes a mirror connection and which pipeline tables the
// mirror currently holds.
type MirrorHealth struct {
	Healthy       bool     `json:"healthy" yaml:"healthy"`
	LatencyMs     int64    `json:"latency_ms" yaml:"latency_ms"`
	TotalConns    int32    `json:"total_conns" yaml:"total_conns"`
	IdleConns     int32    `json:"idle_conns" yaml:"idle_conns"`
	AcquiredConns int32    `json:"acquired_conns" yaml:"acquired_conns"`
	Tables        []string `json:"tables" yaml:"tables"`
	Error         string   `json:"error,omitempty" yaml:"error,omitempty"`
}

var errNilPool = errors.New("pool is nil")

// CheckPostgres pings the mirror and lists the pipeline tables present in
// its public schema. A failed ping leaves Healthy false and sets Error.
func CheckPostgres(ctx context.Context, pool *pgxpool.Pool) *MirrorHealth {
	h := &MirrorHealth{Tables: []string{}}
	if pool == nil {
		h.Error = errNilPool.Error()
		return h
	}

	start := time.Now()
	err := pool.Ping(ctx)
	h.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		h.Error = fmt.Sprintf("ping failed: %v", err)
		return h
	}

	stats := pool.Stat()
	h.TotalConns = stats.TotalConns()
	h.IdleConns = stats.IdleConns()
	h.AcquiredConns = stats.AcquiredConns()

	rows, err := pool.Query(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_name = ANY($1) ORDER BY table_name",
		TableNames())
	if err != nil {
		h.Error = fmt.Sprintf("list tables: %v", err)
		return h
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			h.Error = fmt.Sprintf("list tables: %v", err)
			return h
		}
		h.Tables = append(h.Tables, name)
	}
	if err := rows.Err(); err != nil {
		h.Error = fmt.Sprintf("list tables: %v", err)
		return h
	}

	h.Healthy = true
	return h
}
