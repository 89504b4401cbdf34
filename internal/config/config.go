// Package config loads featstore configuration from JSONC files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/featstore/pkg/featfile"
	"github.com/calvinalkan/featstore/pkg/featstore"
	"github.com/calvinalkan/featstore/pkg/feature"
	"github.com/calvinalkan/featstore/pkg/projection"
)

// Config errors.
var (
	ErrFileNotFound = errors.New("config file not found")
	ErrFileRead     = errors.New("cannot read config file")
	ErrInvalid      = errors.New("invalid config file")
	ErrInvalidValue = errors.New("invalid config value")
)

// FileName is the project config file name.
const FileName = ".featstore.json"

// Config holds all configuration options.
type Config struct {
	CacheCapacity       int                    `json:"cache_capacity"`
	ChunkSizeLimit      int64                  `json:"chunk_size_limit"`
	InitTimeout         Duration               `json:"init_timeout"`
	StatsTimeout        Duration               `json:"stats_timeout"`
	ExactReferenceNames bool                   `json:"exact_reference_names"`
	LogLevel            string                 `json:"log_level"`
	Listen              string                 `json:"listen"`
	ChunkTargetBytes    int                    `json:"chunk_target_bytes"`
	Composites          []projection.Composite `json:"composites,omitempty"`

	// Resolved, not serialized.
	EffectiveCwd string  `json:"-"`
	Sources      Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		CacheCapacity:    featstore.DefaultCacheCapacity,
		ChunkSizeLimit:   featstore.DefaultChunkSizeLimit,
		InitTimeout:      Duration(featstore.DefaultInitTimeout),
		StatsTimeout:     Duration(featstore.DefaultStatsTimeout),
		LogLevel:         "warn",
		Listen:           "127.0.0.1:8411",
		ChunkTargetBytes: featfile.DefaultChunkTargetBytes,
	}
}

// fileConfig is one config file layer. Pointers distinguish "unset" from
// zero values.
type fileConfig struct {
	CacheCapacity       *int                   `json:"cache_capacity"`
	ChunkSizeLimit      *int64                 `json:"chunk_size_limit"`
	InitTimeout         *Duration              `json:"init_timeout"`
	StatsTimeout        *Duration              `json:"stats_timeout"`
	ExactReferenceNames *bool                  `json:"exact_reference_names"`
	LogLevel            *string                `json:"log_level"`
	Listen              *string                `json:"listen"`
	ChunkTargetBytes    *int                   `json:"chunk_target_bytes"`
	Composites          []projection.Composite `json:"composites"`
}

// Overrides are CLI flag values. Empty strings mean "not set".
type Overrides struct {
	LogLevel string
	Listen   string
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Env             map[string]string // environment variables
	Overrides       Overrides
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/featstore/config.json or ~/.config/featstore/config.json)
// 3. Project config file (.featstore.json in the work dir, if it exists)
// 4. Explicit config file via ConfigPath, which replaces the project file and must exist
// 5. CLI overrides.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	if globalPath := globalConfigPath(input.Env); globalPath != "" {
		layer, loaded, err := loadFile(globalPath, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = globalPath
			cfg = merge(cfg, layer)
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false

	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		if _, err := os.Stat(projectPath); err != nil {
			return Config{}, fmt.Errorf("%w: %s", ErrFileNotFound, input.ConfigPath)
		}
	}

	layer, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Sources.Project = projectPath
		cfg = merge(cfg, layer)
	}

	if input.Overrides.LogLevel != "" {
		cfg.LogLevel = input.Overrides.LogLevel
	}

	if input.Overrides.Listen != "" {
		cfg.Listen = input.Overrides.Listen
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	return cfg, nil
}

// globalConfigPath returns $XDG_CONFIG_HOME/featstore/config.json if set,
// otherwise ~/.config/featstore/config.json, or "" without a home.
func globalConfigPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "featstore", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "featstore", "config.json")
	}

	return ""
}

func loadFile(path string, mustExist bool) (fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !mustExist {
			return fileConfig{}, false, nil
		}

		return fileConfig{}, false, fmt.Errorf("%w: %s: %w", ErrFileRead, path, err)
	}

	layer, err := parse(data)
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	return layer, true, nil
}

func parse(data []byte) (fileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var layer fileConfig

	dec := json.NewDecoder(strings.NewReader(string(standardized)))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&layer); err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return layer, nil
}

func merge(base Config, layer fileConfig) Config {
	if layer.CacheCapacity != nil {
		base.CacheCapacity = *layer.CacheCapacity
	}

	if layer.ChunkSizeLimit != nil {
		base.ChunkSizeLimit = *layer.ChunkSizeLimit
	}

	if layer.InitTimeout != nil {
		base.InitTimeout = *layer.InitTimeout
	}

	if layer.StatsTimeout != nil {
		base.StatsTimeout = *layer.StatsTimeout
	}

	if layer.ExactReferenceNames != nil {
		base.ExactReferenceNames = *layer.ExactReferenceNames
	}

	if layer.LogLevel != nil {
		base.LogLevel = *layer.LogLevel
	}

	if layer.Listen != nil {
		base.Listen = *layer.Listen
	}

	if layer.ChunkTargetBytes != nil {
		base.ChunkTargetBytes = *layer.ChunkTargetBytes
	}

	// Composites from later layers add to, and override by name, earlier ones.
	for _, c := range layer.Composites {
		replaced := false

		for i := range base.Composites {
			if base.Composites[i].Name == c.Name {
				base.Composites[i] = c
				replaced = true
			}
		}

		if !replaced {
			base.Composites = append(base.Composites, c)
		}
	}

	return base
}

// Validate checks value ranges and composite definitions.
func (c Config) Validate() error {
	switch {
	case c.CacheCapacity <= 0:
		return fmt.Errorf("%w: cache_capacity must be > 0, got %d", ErrInvalidValue, c.CacheCapacity)
	case c.ChunkSizeLimit < 0:
		return fmt.Errorf("%w: chunk_size_limit must be >= 0, got %d", ErrInvalidValue, c.ChunkSizeLimit)
	case c.InitTimeout <= 0:
		return fmt.Errorf("%w: init_timeout must be > 0", ErrInvalidValue)
	case c.StatsTimeout <= 0:
		return fmt.Errorf("%w: stats_timeout must be > 0", ErrInvalidValue)
	case c.ChunkTargetBytes <= 0:
		return fmt.Errorf("%w: chunk_target_bytes must be > 0, got %d", ErrInvalidValue, c.ChunkTargetBytes)
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if _, err := projection.NewTable(c.Composites...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	return nil
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level

	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalidValue, s)
	}

	return level, nil
}

// Regularizer returns the reference name canonicalization to use.
func (c Config) Regularizer() func(string) string {
	if c.ExactReferenceNames {
		return func(s string) string { return s }
	}

	return feature.RegularizeName
}

// StoreOptions translates the config into store options. The composites
// table is built here; Validate has already checked it.
func (c Config) StoreOptions(logger *slog.Logger) ([]featstore.Option, error) {
	table, err := projection.NewTable(c.Composites...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	return []featstore.Option{
		featstore.WithCacheCapacity(c.CacheCapacity),
		featstore.WithChunkSizeLimit(c.ChunkSizeLimit),
		featstore.WithInitTimeout(time.Duration(c.InitTimeout)),
		featstore.WithStatsTimeout(time.Duration(c.StatsTimeout)),
		featstore.WithRegularizer(c.Regularizer()),
		featstore.WithProjector(table),
		featstore.WithLogger(logger),
	}, nil
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// MarshalJSON encodes d as a duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of milliseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("duration %q: %w", s, err)
		}

		*d = Duration(parsed)

		return nil
	}

	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("duration must be a string like \"3s\" or milliseconds, got %s", data)
	}

	*d = Duration(time.Duration(ms) * time.Millisecond)

	return nil
}

// String formats d like time.Duration.
func (d Duration) String() string { return time.Duration(d).String() }

// Format renders cfg as key=value lines in a stable order, one composite
// per line.
func Format(cfg Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "effective_cwd=%s\n", cfg.EffectiveCwd)
	fmt.Fprintf(&b, "cache_capacity=%d\n", cfg.CacheCapacity)
	fmt.Fprintf(&b, "chunk_size_limit=%d\n", cfg.ChunkSizeLimit)
	fmt.Fprintf(&b, "init_timeout=%s\n", cfg.InitTimeout)
	fmt.Fprintf(&b, "stats_timeout=%s\n", cfg.StatsTimeout)
	fmt.Fprintf(&b, "exact_reference_names=%t\n", cfg.ExactReferenceNames)
	fmt.Fprintf(&b, "log_level=%s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "listen=%s\n", cfg.Listen)
	fmt.Fprintf(&b, "chunk_target_bytes=%d", cfg.ChunkTargetBytes)

	for _, c := range cfg.Composites {
		segs := make([]string, len(c.Segments))
		for i, s := range c.Segments {
			segs[i] = fmt.Sprintf("%s:%d-%d", s.Ref, s.Start, s.End)
		}

		fmt.Fprintf(&b, "\ncomposite.%s=%s", c.Name, strings.Join(segs, ","))
	}

	return b.String()
}
