// Package config loads dbfile tool configuration from layered JSONC files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
)

// FileName is the project config file name.
const FileName = ".dbfile.json"

// Config holds all configuration options. Every serialized field is a string
// so that an empty value means "not set" when layering.
type Config struct {
	LockStrategy string `json:"lock_strategy,omitempty"`
	Sync         string `json:"sync,omitempty"`
	Truncate     string `json:"truncate,omitempty"`
	OnExists     string `json:"on_exists,omitempty"`
	LockTimeout  string `json:"lock_timeout,omitempty"`
	LogLevel     string `json:"log_level,omitempty"`
	LogFormat    string `json:"log_format,omitempty"`

	// EffectiveCwd is the absolute working directory (-C flag or os.Getwd).
	EffectiveCwd string `json:"-"`

	// Sources tracks which config files were loaded.
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or explicit config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		LockStrategy: "auto",
		Sync:         "auto",
		Truncate:     "auto",
		OnExists:     "fail",
		LockTimeout:  "0s",
		LogLevel:     "warn",
		LogFormat:    "text",
	}
}

// globalPath returns $XDG_CONFIG_HOME/dbfile/config.json, falling back to
// ~/.config/dbfile/config.json. Empty if neither variable is set.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "dbfile", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "dbfile", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd; os.Getwd() when empty
	ConfigPath      string            // -c/--config
	Overrides       Config            // CLI flag values; empty fields are ignored
	Env             map[string]string // environment variables
}

// Load resolves configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global user config
//  3. Project config (.dbfile.json in the working directory, if present)
//  4. Explicit config file via ConfigPath
//  5. CLI overrides
//
// The result is validated.
func Load(in LoadInput) (Config, error) {
	workDir := in.WorkDirOverride
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}

		workDir = wd
	}

	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
	}

	cfg := Default()

	if path := globalPath(in.Env); path != "" {
		global, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = merge(cfg, global)
			cfg.Sources.Global = path
		}
	}

	project, projectPath, err := loadProject(workDir, in.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	if projectPath != "" {
		cfg = merge(cfg, project)
		cfg.Sources.Project = projectPath
	}

	cfg = merge(cfg, in.Overrides)
	cfg.EffectiveCwd = workDir

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadProject(workDir, explicit string) (Config, string, error) {
	if explicit == "" {
		path := filepath.Join(workDir, FileName)

		cfg, loaded, err := loadFile(path, false)
		if err != nil || !loaded {
			return Config{}, "", err
		}

		return cfg, path, nil
	}

	path := explicit
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	if _, err := os.Stat(path); err != nil {
		return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, explicit)
	}

	cfg, _, err := loadFile(path, true)
	if err != nil {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadFile reads one config file. A missing optional file is not an error.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

// Parse decodes JSONC (comments and trailing commas allowed). Unknown keys
// are rejected.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(string(standardized)))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&base.LockStrategy, overlay.LockStrategy)
	set(&base.Sync, overlay.Sync)
	set(&base.Truncate, overlay.Truncate)
	set(&base.OnExists, overlay.OnExists)
	set(&base.LockTimeout, overlay.LockTimeout)
	set(&base.LogLevel, overlay.LogLevel)
	set(&base.LogFormat, overlay.LogFormat)

	return base
}

// Validate checks every field parses.
func (c Config) Validate() error {
	var errs []error

	if _, err := c.Selection(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.ExistingPolicy(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.Timeout(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format: unknown format %q (want text or json)", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Selection returns the backend strategies named by the config.
func (c Config) Selection() (dbfile.Selection, error) {
	lock, err := dbfile.ParseLockStrategy(c.LockStrategy)
	if err != nil {
		return dbfile.Selection{}, fmt.Errorf("lock_strategy: %w", err)
	}

	sync, err := dbfile.ParseSyncStrategy(c.Sync)
	if err != nil {
		return dbfile.Selection{}, fmt.Errorf("sync: %w", err)
	}

	truncate, err := dbfile.ParseTruncateStrategy(c.Truncate)
	if err != nil {
		return dbfile.Selection{}, fmt.Errorf("truncate: %w", err)
	}

	return dbfile.Selection{Lock: lock, Sync: sync, Truncate: truncate}, nil
}

// ExistingPolicy returns the on_exists policy for replace.
func (c Config) ExistingPolicy() (dbfile.ExistingPolicy, error) {
	p, err := dbfile.ParseExistingPolicy(c.OnExists)
	if err != nil {
		return p, fmt.Errorf("on_exists: %w", err)
	}

	return p, nil
}

// Timeout returns lock_timeout. Zero means wait without bound.
func (c Config) Timeout() (time.Duration, error) {
	if c.LockTimeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.LockTimeout)
	if err != nil {
		return 0, fmt.Errorf("lock_timeout: %w", err)
	}

	if d < 0 {
		return 0, fmt.Errorf("lock_timeout: must not be negative, got %s", d)
	}

	return d, nil
}

// Level returns log_level as a slog level.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}

	return level, nil
}

// Logger builds a logger writing to w in the configured format.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}

	return slog.New(slog.NewTextHandler(w, opts)), nil
}
