package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/bookpipe/config"
	"github.com/otherjamesbrown/bookpipe/pkg/store"
)

func TestDbCommand_Structure(t *testing.T) {
	c := NewDbCommand(DefaultDeps())
	assert.Equal(t, "db", c.Use)
	assert.Contains(t, c.Aliases, "database")

	want := map[string]bool{"status": false, "stats": false, "mirror": false, "ping": false}
	for _, sub := range c.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "missing subcommand %s", name)
	}
}

func TestDbStatus_EmptyStore(t *testing.T) {
	deps := newTestDeps(t, false)

	out, err := execute(t, NewDbCommand(deps), "", "status")
	require.NoError(t, err)

	var res dbStatusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, deps.Config.Paths.Database, res.Database)
	require.Len(t, res.Tables, len(store.TableNames()))
	for _, tbl := range res.Tables {
		if tbl.Name == store.TableStageStats {
			assert.True(t, tbl.Exists)
			continue
		}
		assert.False(t, tbl.Exists, tbl.Name)
	}
}

func TestDbStatus_AfterRun(t *testing.T) {
	deps := newTestDeps(t, true)
	_, err := execute(t, NewRunCommand(deps), "", "--stages", "catalog")
	require.NoError(t, err)

	out, err := execute(t, NewDbCommand(deps), "", "status")
	require.NoError(t, err)

	var res dbStatusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	for _, tbl := range res.Tables {
		if tbl.Name == store.TableBooks {
			assert.True(t, tbl.Exists)
			assert.Equal(t, int64(3), tbl.Rows)
		}
	}
}

func TestDbStats(t *testing.T) {
	t.Run("empty store", func(t *testing.T) {
		deps := newTestDeps(t, false)
		deps.Config.OutputFormat = config.OutputFormatText

		out, err := execute(t, NewDbCommand(deps), "", "stats")
		require.NoError(t, err)
		assert.Contains(t, out, "No stage statistics recorded.")
	})

	t.Run("empty store json", func(t *testing.T) {
		deps := newTestDeps(t, false)

		out, err := execute(t, NewDbCommand(deps), "", "stats")
		require.NoError(t, err)
		assert.JSONEq(t, "[]", out)
	})

	t.Run("latest run", func(t *testing.T) {
		deps := newTestDeps(t, true)
		_, err := execute(t, NewRunCommand(deps), "", "--stages", "catalog", "--run-id", "run-stats")
		require.NoError(t, err)

		out, err := execute(t, NewDbCommand(deps), "", "stats")
		require.NoError(t, err)

		var stats []store.StageStat
		require.NoError(t, json.Unmarshal([]byte(out), &stats))
		require.NotEmpty(t, stats)
		for _, s := range stats {
			assert.Equal(t, "run-stats", s.RunID)
			assert.Equal(t, "catalog", s.Stage)
		}
	})
}

func TestDbMirror_ConnectError(t *testing.T) {
	deps := newTestDeps(t, false)
	deps.ConnectPostgres = func(ctx context.Context, cfg *store.PostgresConfig) (*pgxpool.Pool, error) {
		return nil, errors.New("connection refused")
	}

	_, err := execute(t, NewDbCommand(deps), "", "mirror")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to Postgres mirror")
}

func TestDbPing_UsesStoredPassword(t *testing.T) {
	deps := newTestDeps(t, false)
	t.Setenv("BOOKPIPE_PG_PASSWORD", "s3cret")

	var got *store.PostgresConfig
	deps.ConnectPostgres = func(ctx context.Context, cfg *store.PostgresConfig) (*pgxpool.Pool, error) {
		got = cfg
		return nil, errors.New("connection refused")
	}

	_, err := execute(t, NewDbCommand(deps), "", "ping")
	require.Error(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s3cret", got.Password)
}
