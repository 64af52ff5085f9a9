// Package config provides configuration management for the bookpipe command-line tool.
// It supports loading configuration from YAML files, environment variables, and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/bookpipe/pkg/catalog"
	"github.com/otherjamesbrown/bookpipe/pkg/cohort"
	"github.com/otherjamesbrown/bookpipe/pkg/join"
	"github.com/otherjamesbrown/bookpipe/pkg/pipeline"
	"github.com/otherjamesbrown/bookpipe/pkg/ratings"
	"github.com/otherjamesbrown/bookpipe/pkg/report"
	"github.com/otherjamesbrown/bookpipe/pkg/store"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// LogFormat selects the log encoder.
type LogFormat string

const (
	// LogFormatAuto picks console output on a terminal and JSON otherwise.
	LogFormatAuto    LogFormat = "auto"
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

// Default configuration values.
const (
	DefaultTimeout      = 30 * time.Minute
	DefaultOutputFormat = OutputFormatText
	DefaultLogLevel     = "info"
	DefaultLogFormat    = LogFormatAuto
	DefaultConfigDir    = ".bookpipe"
	DefaultConfigFile   = "config.yaml"
)

// PathsConfig locates raw inputs and generated outputs.
type PathsConfig struct {
	RawDir       string `yaml:"raw_dir"`
	ProcessedDir string `yaml:"processed_dir"`
	OutputDir    string `yaml:"output_dir"`

	CatalogFile        string `yaml:"catalog_file"`
	RatingsFile        string `yaml:"ratings_file"`
	UsersFile          string `yaml:"users_file"`
	CommunityBooksFile string `yaml:"community_books_file"`

	// Database is the SQLite file shared by every stage.
	Database string `yaml:"database"`
}

// rawPath resolves name against the raw directory unless it is absolute.
func (p PathsConfig) rawPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.RawDir, name)
}

// ReportDir is where report artifacts are written.
func (p PathsConfig) ReportDir() string {
	return filepath.Join(p.OutputDir, "reports")
}

// ExportDir is where dashboard export files are written.
func (p PathsConfig) ExportDir() string {
	return filepath.Join(p.OutputDir, "tableau")
}

// RulesConfig holds every threshold and lookup table used by the stages.
type RulesConfig struct {
	// Publishers is ordered; the first canonical name whose variant matches wins.
	Publishers     []catalog.PublisherRule `yaml:"publishers"`
	FlagKeywords   []string                `yaml:"flag_keywords"`
	RegionKeywords []string                `yaml:"region_keywords"`

	RatingMin float64 `yaml:"rating_min"`
	RatingMax float64 `yaml:"rating_max"`
	PagesMin  float64 `yaml:"pages_min"`
	PagesMax  float64 `yaml:"pages_max"`
	AgeMin    float64 `yaml:"age_min"`
	AgeMax    float64 `yaml:"age_max"`

	ScoreScaleFactor float64 `yaml:"score_scale_factor"`
	MinSupport       int     `yaml:"min_support"`
	MinCohortSupport int     `yaml:"min_cohort_support"`

	GemThreshold           float64 `yaml:"gem_threshold"`
	UnderperformThreshold  float64 `yaml:"underperform_threshold"`
	PopularReviewThreshold int64   `yaml:"popular_review_threshold"`

	Report report.Rules `yaml:"report"`
}

func defaultRules() RulesConfig {
	cat := catalog.DefaultRules()
	co := cohort.DefaultRules()
	rt := ratings.DefaultRules()
	jn := join.DefaultRules()
	return RulesConfig{
		Publishers:             cat.Publishers,
		FlagKeywords:           cat.FlagKeywords,
		RegionKeywords:         co.RegionKeywords,
		RatingMin:              cat.RatingMin,
		RatingMax:              cat.RatingMax,
		PagesMin:               cat.PagesMin,
		PagesMax:               cat.PagesMax,
		AgeMin:                 co.AgeMin,
		AgeMax:                 co.AgeMax,
		ScoreScaleFactor:       rt.ScaleFactor,
		MinSupport:             rt.MinSupport,
		MinCohortSupport:       rt.MinCohortSupport,
		GemThreshold:           jn.GemThreshold,
		UnderperformThreshold:  jn.UnderperformThreshold,
		PopularReviewThreshold: jn.PopularReviewThreshold,
		Report:                 report.DefaultRules(),
	}
}

// PostgresConfig holds the optional PostgreSQL mirror settings.
// The password is never stored here; see the credentials package.
type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	User     string `yaml:"user,omitempty"`
	SSLMode  string `yaml:"sslmode,omitempty"`
}

// StoreConfig holds relational store settings.
type StoreConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
}

// EventsConfig holds the optional Redis publisher settings.
type EventsConfig struct {
	RedisAddr string `yaml:"redis_addr,omitempty"`
	RedisDB   int    `yaml:"redis_db,omitempty"`
}

// MetricsConfig holds the optional Prometheus textfile output.
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// Config holds the bookpipe configuration settings.
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Rules   RulesConfig   `yaml:"rules"`
	Store   StoreConfig   `yaml:"store"`
	Events  EventsConfig  `yaml:"events"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Timeout bounds a whole run.
	Timeout time.Duration `yaml:"timeout"`

	// OutputFormat specifies the default output format for commands.
	OutputFormat OutputFormat `yaml:"output_format"`

	LogLevel  string    `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`

	// Debug enables verbose debug logging.
	Debug bool `yaml:"debug,omitempty"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	pg := store.DefaultPostgresConfig()
	return &Config{
		Paths: PathsConfig{
			RawDir:             filepath.Join("data", "raw"),
			ProcessedDir:       filepath.Join("data", "processed"),
			OutputDir:          "output",
			CatalogFile:        "books.csv",
			RatingsFile:        "BX-Book-Ratings.csv",
			UsersFile:          "BX-Users.csv",
			CommunityBooksFile: "BX-Books.csv",
			Database:           filepath.Join("data", "processed", "bookpipe.db"),
		},
		Rules: defaultRules(),
		Store: StoreConfig{Postgres: PostgresConfig{
			Host:     pg.Host,
			Port:     pg.Port,
			Database: pg.Database,
			User:     pg.User,
			SSLMode:  pg.SSLMode,
		}},
		Timeout:      DefaultTimeout,
		OutputFormat: DefaultOutputFormat,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $BOOKPIPE_CONFIG_DIR if set, otherwise ~/.bookpipe
func ConfigDir() (string, error) {
	if dir := os.Getenv("BOOKPIPE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the configuration from file and environment variables.
// Configuration is loaded in this order (later sources override earlier):
// 1. Default values
// 2. Config file (path if given, else ~/.bookpipe/config.yaml or $BOOKPIPE_CONFIG_DIR/config.yaml)
// 3. Environment variables (BOOKPIPE_*)
//
// An explicit path must exist; the default path is optional.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		var err error
		path, err = ConfigPath()
		if err != nil {
			return nil, fmt.Errorf("getting config path: %w", err)
		}
	}

	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// configFile mirrors Config with the duration kept as a string.
type configFile struct {
	Paths        PathsConfig   `yaml:"paths"`
	Rules        RulesConfig   `yaml:"rules"`
	Store        StoreConfig   `yaml:"store"`
	Events       EventsConfig  `yaml:"events,omitempty"`
	Metrics      MetricsConfig `yaml:"metrics,omitempty"`
	Timeout      string        `yaml:"timeout"`
	OutputFormat OutputFormat  `yaml:"output_format"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    LogFormat     `yaml:"log_format"`
	Debug        bool          `yaml:"debug,omitempty"`
}

func toFile(cfg *Config) configFile {
	return configFile{
		Paths:        cfg.Paths,
		Rules:        cfg.Rules,
		Store:        cfg.Store,
		Events:       cfg.Events,
		Metrics:      cfg.Metrics,
		Timeout:      cfg.Timeout.String(),
		OutputFormat: cfg.OutputFormat,
		LogLevel:     cfg.LogLevel,
		LogFormat:    cfg.LogFormat,
		Debug:        cfg.Debug,
	}
}

// loadFromFile overlays a YAML file onto cfg. Keys absent from the file keep
// their current values; a list present in the file replaces the whole list.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	fileCfg := toFile(cfg)
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	timeout, err := time.ParseDuration(fileCfg.Timeout)
	if err != nil {
		return fmt.Errorf("parsing timeout: %w", err)
	}

	cfg.Paths = fileCfg.Paths
	cfg.Rules = fileCfg.Rules
	cfg.Store = fileCfg.Store
	cfg.Events = fileCfg.Events
	cfg.Metrics = fileCfg.Metrics
	cfg.Timeout = timeout
	cfg.OutputFormat = fileCfg.OutputFormat
	cfg.LogLevel = fileCfg.LogLevel
	cfg.LogFormat = fileCfg.LogFormat
	cfg.Debug = fileCfg.Debug

	return nil
}

func envBool(v string) bool {
	return v == "true" || v == "1"
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("BOOKPIPE_RAW_DIR"); v != "" {
		cfg.Paths.RawDir = v
	}
	if v := os.Getenv("BOOKPIPE_PROCESSED_DIR"); v != "" {
		cfg.Paths.ProcessedDir = v
	}
	if v := os.Getenv("BOOKPIPE_OUTPUT_DIR"); v != "" {
		cfg.Paths.OutputDir = v
	}
	if v := os.Getenv("BOOKPIPE_DATABASE"); v != "" {
		cfg.Paths.Database = v
	}

	if v := os.Getenv("BOOKPIPE_TIMEOUT"); v != "" {
		if timeout, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = timeout
		}
	}

	if v := os.Getenv("BOOKPIPE_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}
	if v := os.Getenv("BOOKPIPE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BOOKPIPE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = LogFormat(v)
	}
	if envBool(os.Getenv("BOOKPIPE_DEBUG")) {
		cfg.Debug = true
	}

	if v := os.Getenv("BOOKPIPE_REDIS_ADDR"); v != "" {
		cfg.Events.RedisAddr = v
	}
	if v := os.Getenv("BOOKPIPE_METRICS_TEXTFILE"); v != "" {
		cfg.Metrics.Textfile = v
	}

	loadPostgresFromEnv(cfg)
}

// loadPostgresFromEnv overlays mirror settings. Setting a host enables the mirror.
func loadPostgresFromEnv(cfg *Config) {
	pg := &cfg.Store.Postgres
	if v := os.Getenv("BOOKPIPE_PG_HOST"); v != "" {
		pg.Host = v
		pg.Enabled = true
	}
	if v := os.Getenv("BOOKPIPE_PG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			pg.Port = port
		}
	}
	if v := os.Getenv("BOOKPIPE_PG_DATABASE"); v != "" {
		pg.Database = v
	}
	if v := os.Getenv("BOOKPIPE_PG_USER"); v != "" {
		pg.User = v
	}
	if v := os.Getenv("BOOKPIPE_PG_SSLMODE"); v != "" {
		pg.SSLMode = v
	}
	if v := os.Getenv("BOOKPIPE_PG_ENABLED"); v != "" {
		pg.Enabled = envBool(v)
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Paths.Database == "" {
		return fmt.Errorf("paths.database is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}
	if !c.LogFormat.IsValid() {
		return fmt.Errorf("invalid log_format: %q (must be auto, json, or console)", c.LogFormat)
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	return nil
}

// Validate rejects thresholds that would make a stage meaningless.
func (r *RulesConfig) Validate() error {
	if r.ScoreScaleFactor <= 0 {
		return fmt.Errorf("score_scale_factor must be positive, got %v", r.ScoreScaleFactor)
	}
	if r.MinSupport < 1 {
		return fmt.Errorf("min_support must be at least 1, got %d", r.MinSupport)
	}
	if r.MinCohortSupport < 1 {
		return fmt.Errorf("min_cohort_support must be at least 1, got %d", r.MinCohortSupport)
	}
	bounds := []struct {
		name     string
		min, max float64
	}{
		{"rating", r.RatingMin, r.RatingMax},
		{"pages", r.PagesMin, r.PagesMax},
		{"age", r.AgeMin, r.AgeMax},
	}
	for _, b := range bounds {
		if b.min > b.max {
			return fmt.Errorf("%s bounds inverted: min %v > max %v", b.name, b.min, b.max)
		}
	}
	if r.UnderperformThreshold > r.GemThreshold {
		return fmt.Errorf("underperform_threshold %v exceeds gem_threshold %v", r.UnderperformThreshold, r.GemThreshold)
	}
	for i, p := range r.Publishers {
		if strings.TrimSpace(p.Canonical) == "" {
			return fmt.Errorf("publishers[%d]: canonical name is required", i)
		}
	}
	if r.Report.GapThreshold <= 0 {
		return fmt.Errorf("report.gap_threshold must be positive")
	}
	return nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// IsValid checks if the log format is valid.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatAuto, LogFormatJSON, LogFormatConsole:
		return true
	default:
		return false
	}
}

// Settings converts the configuration into the pipeline's explicit inputs.
func (c *Config) Settings() pipeline.Settings {
	p, r := c.Paths, c.Rules
	return pipeline.Settings{
		CatalogPath:        p.rawPath(p.CatalogFile),
		RatingsPath:        p.rawPath(p.RatingsFile),
		UsersPath:          p.rawPath(p.UsersFile),
		CommunityBooksPath: p.rawPath(p.CommunityBooksFile),
		ProcessedDir:       p.ProcessedDir,
		ReportDir:          p.ReportDir(),
		ExportDir:          p.ExportDir(),
		Catalog: catalog.Rules{
			Publishers:   r.Publishers,
			FlagKeywords: r.FlagKeywords,
			RatingMin:    r.RatingMin,
			RatingMax:    r.RatingMax,
			PagesMin:     r.PagesMin,
			PagesMax:     r.PagesMax,
		},
		Cohort: cohort.Rules{
			AgeMin:         r.AgeMin,
			AgeMax:         r.AgeMax,
			RegionKeywords: r.RegionKeywords,
		},
		Ratings: ratings.Rules{
			ScaleFactor:      r.ScoreScaleFactor,
			MinSupport:       r.MinSupport,
			MinCohortSupport: r.MinCohortSupport,
		},
		Join: join.Rules{
			GemThreshold:           r.GemThreshold,
			UnderperformThreshold:  r.UnderperformThreshold,
			PopularReviewThreshold: r.PopularReviewThreshold,
		},
		Report: r.Report,
	}
}

// PostgresSettings builds the mirror connection config with the given password.
func (c *Config) PostgresSettings(password string) *store.PostgresConfig {
	pg := store.DefaultPostgresConfig()
	src := c.Store.Postgres
	if src.Host != "" {
		pg.Host = src.Host
	}
	if src.Port != 0 {
		pg.Port = src.Port
	}
	if src.Database != "" {
		pg.Database = src.Database
	}
	if src.User != "" {
		pg.User = src.User
	}
	if src.SSLMode != "" {
		pg.SSLMode = src.SSLMode
	}
	pg.Password = password
	return pg
}

// Marshal renders cfg as YAML in the config file layout.
func Marshal(cfg *Config) ([]byte, error) {
	fileCfg := toFile(cfg)
	data, err := yaml.Marshal(&fileCfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// SaveConfig writes cfg to path, or to the default config file when path is empty.
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = ConfigPath()
		if err != nil {
			return fmt.Errorf("getting config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
