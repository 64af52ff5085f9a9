// Package cmd provides CLI commands for the bookpipe tool.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/otherjamesbrown/bookpipe/config"
	"github.com/otherjamesbrown/bookpipe/credentials"
	"github.com/otherjamesbrown/bookpipe/pkg/events"
	"github.com/otherjamesbrown/bookpipe/pkg/logging"
	"github.com/otherjamesbrown/bookpipe/pkg/observability"
	"github.com/otherjamesbrown/bookpipe/pkg/pipeline"
	"github.com/otherjamesbrown/bookpipe/pkg/store"
)

// CommandDeps holds the dependencies shared by bookpipe commands.
// Config and Logger are filled in by the root command before any RunE runs.
type CommandDeps struct {
	Config *config.Config
	Logger logging.Logger

	// ConfigPath is the --config override, empty for the default location.
	ConfigPath string

	OpenStore       func(path string) (*store.SQLiteStore, error)
	ConnectPostgres func(ctx context.Context, cfg *store.PostgresConfig) (*pgxpool.Pool, error)
	ConnectEvents   func(ctx context.Context, cfg events.PublisherConfig, logger logging.Logger) (events.Emitter, error)
	Credentials     func() (*credentials.Store, error)
	ReadPassword    func(fd int) ([]byte, error)
	IsTerminal      func(fd int) bool
	Now             func() time.Time
}

// DefaultDeps returns the default dependencies for production use.
func DefaultDeps() *CommandDeps {
	return &CommandDeps{
		OpenStore:       store.OpenSQLite,
		ConnectPostgres: store.ConnectPostgres,
		ConnectEvents: func(ctx context.Context, cfg events.PublisherConfig, logger logging.Logger) (events.Emitter, error) {
			return events.NewPublisherFromConfig(ctx, cfg, logger)
		},
		Credentials:  defaultCredentials,
		ReadPassword: term.ReadPassword,
		IsTerminal:   term.IsTerminal,
		Now:          time.Now,
	}
}

func defaultCredentials() (*credentials.Store, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("getting config directory: %w", err)
	}
	return credentials.NewStore(dir, credentials.DefaultKeyProvider()), nil
}

func (d *CommandDeps) logger() logging.Logger {
	if d.Logger == nil {
		return logging.NewNopLogger()
	}
	return d.Logger
}

func (d *CommandDeps) config() (*config.Config, error) {
	if d.Config == nil {
		return nil, errors.New("configuration not loaded")
	}
	return d.Config, nil
}

// openStore opens the configured SQLite database.
func (d *CommandDeps) openStore() (*store.SQLiteStore, error) {
	cfg, err := d.config()
	if err != nil {
		return nil, err
	}
	st, err := d.OpenStore(cfg.Paths.Database)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", cfg.Paths.Database, err)
	}
	return st, nil
}

// postgresAccount names the keyring entry for the configured mirror login.
func postgresAccount(cfg *config.Config) string {
	pg := cfg.PostgresSettings("")
	return credentials.Account(pg.User, pg.Host, pg.Port)
}

// postgresPassword looks up the mirror password. A missing password is not an
// error; the server may accept trust or peer authentication.
func (d *CommandDeps) postgresPassword(cfg *config.Config) (string, error) {
	creds, err := d.Credentials()
	if err != nil {
		return "", err
	}
	password, source, err := creds.Lookup(postgresAccount(cfg))
	if errors.Is(err, credentials.ErrNoCredentials) {
		d.logger().Warn("No stored Postgres password; connecting without one",
			logging.F("account", postgresAccount(cfg)))
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up Postgres password: %w", err)
	}
	d.logger().Debug("Using Postgres password", logging.F("source", source))
	return password, nil
}

// connectMirror opens the PostgreSQL pool for the configured mirror.
func (d *CommandDeps) connectMirror(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	password, err := d.postgresPassword(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := d.ConnectPostgres(ctx, cfg.PostgresSettings(password))
	if err != nil {
		return nil, fmt.Errorf("connecting to Postgres mirror: %w", err)
	}
	return pool, nil
}

// session bundles a runner with the resources it holds open.
type session struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	runner   *pipeline.Runner
	metrics  *observability.PipelineMetrics
	registry *prometheus.Registry
	closers  []func() error
	logger   logging.Logger
}

// openSession wires the runner to the store, metrics, events and mirror the
// configuration asks for. The caller must Close the session.
func (d *CommandDeps) openSession(ctx context.Context, runID string) (*session, error) {
	cfg, err := d.config()
	if err != nil {
		return nil, err
	}
	logger := d.logger()

	st, err := d.openStore()
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, store: st, logger: logger, registry: prometheus.NewRegistry()}
	s.closers = append(s.closers, st.Close)
	s.metrics = observability.NewPipelineMetrics(s.registry)

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(s.metrics),
		pipeline.WithClock(d.Now),
	}
	if runID != "" {
		opts = append(opts, pipeline.WithRunID(runID))
	}

	if cfg.Events.RedisAddr != "" {
		emitter, err := d.ConnectEvents(ctx, events.PublisherConfig{
			Addr:     cfg.Events.RedisAddr,
			Password: os.Getenv("BOOKPIPE_REDIS_PASSWORD"),
			DB:       cfg.Events.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("Event publishing disabled", logging.Err(err))
		} else {
			s.closers = append(s.closers, emitter.Close)
			opts = append(opts, pipeline.WithEmitter(emitter))
		}
	}

	if cfg.Store.Postgres.Enabled {
		pool, err := d.connectMirror(ctx, cfg)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		mirror := store.NewPostgresMirror(pool)
		s.closers = append(s.closers, func() error { mirror.Close(); return nil })
		if _, err := store.RegisterPoolStatsCollector(pool, "bookpipe", s.registry); err != nil {
			logger.Warn("Pool metrics disabled", logging.Err(err))
		}
		opts = append(opts, pipeline.WithMirror(mirror))
	}

	s.runner = pipeline.New(cfg.Settings(), st, opts...)
	return s, nil
}

// writeMetrics writes the metrics textfile when one is configured.
func (s *session) writeMetrics() {
	if s.cfg.Metrics.Textfile == "" {
		return
	}
	if err := s.metrics.WriteTextfile(s.cfg.Metrics.Textfile); err != nil {
		s.logger.Warn("Failed to write metrics textfile", logging.Err(err))
	}
}

// Close releases everything in reverse order of acquisition.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// stdinFd is the file descriptor prompts read from.
func stdinFd() int {
	return int(os.Stdin.Fd())
}

// promptPassword reads a password without echo when stdin is a terminal, or
// a single line from in otherwise.
func (d *CommandDeps) promptPassword(out io.Writer, in io.Reader, prompt string) (string, error) {
	fd := stdinFd()
	if in == os.Stdin && d.IsTerminal(fd) {
		fmt.Fprint(out, prompt)
		b, err := d.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	return readLine(in)
}
