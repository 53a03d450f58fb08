// Package config loads and persists the application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"
)

// Config is the explicit settings struct owned by the orchestrator. It is
// plain data: nothing is written to disk until Save is called.
type Config struct {
	DatabasePath string `json:"database_path" hcl:"database_path" env:"DATABASE_PATH" default:"articles.db"`
	FeedsPath    string `json:"feeds_path" hcl:"feeds_path" env:"FEEDS_PATH" default:"feeds.json"`

	// DefaultRefreshInterval drives the global default bucket. Zero disables
	// scheduled refreshes for feeds without a custom rate.
	DefaultRefreshInterval time.Duration `json:"default_refresh_interval" hcl:"default_refresh_interval" env:"DEFAULT_REFRESH_INTERVAL" default:"30m"`

	// DefaultRetention is the article retention window for feeds without a
	// custom one. Zero keeps articles forever.
	DefaultRetention time.Duration `json:"default_retention" hcl:"default_retention" env:"DEFAULT_RETENTION" default:"24h"`

	InterFetchDelay time.Duration `json:"inter_fetch_delay" hcl:"inter_fetch_delay" env:"INTER_FETCH_DELAY" default:"2s"`
	FetchTimeout    time.Duration `json:"fetch_timeout" hcl:"fetch_timeout" env:"FETCH_TIMEOUT" default:"15s"`
	UpdateOnStartup bool          `json:"update_on_startup" hcl:"update_on_startup" env:"UPDATE_ON_STARTUP" default:"true"`
}

// Load reads configuration from the given files (later files win), then
// applies TIDINGS_* environment overrides. Missing files are not an error.
func Load(files ...string) (*Config, error) {
	var cfg Config

	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:          "TIDINGS",
		SkipFlags:          true,
		AllowUnknownFields: true,
		Files:              files,
		FileFlag:           "",
		MergeFiles:         true,
		FileDecoders: map[string]aconfig.FileDecoder{
			".hcl": aconfighcl.New(),
		},
	})

	if err := loader.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.DefaultRefreshInterval < 0 {
		return nil, fmt.Errorf("default_refresh_interval must not be negative, got %v", cfg.DefaultRefreshInterval)
	}
	if cfg.DefaultRetention < 0 {
		return nil, fmt.Errorf("default_retention must not be negative, got %v", cfg.DefaultRetention)
	}

	return &cfg, nil
}

// configFile mirrors Config with durations as strings so a saved file stays
// readable and round-trips through Load.
type configFile struct {
	DatabasePath           string `json:"database_path"`
	FeedsPath              string `json:"feeds_path"`
	DefaultRefreshInterval string `json:"default_refresh_interval"`
	DefaultRetention       string `json:"default_retention"`
	InterFetchDelay        string `json:"inter_fetch_delay"`
	FetchTimeout           string `json:"fetch_timeout"`
	UpdateOnStartup        bool   `json:"update_on_startup"`
}

// Save writes the configuration to path as JSON. The write goes through a
// temp file in the same directory so a crash never leaves a torn file.
func (c *Config) Save(path string) error {
	out := configFile{
		DatabasePath:           c.DatabasePath,
		FeedsPath:              c.FeedsPath,
		DefaultRefreshInterval: c.DefaultRefreshInterval.String(),
		DefaultRetention:       c.DefaultRetention.String(),
		InterFetchDelay:        c.InterFetchDelay.String(),
		FetchTimeout:           c.FetchTimeout.String(),
		UpdateOnStartup:        c.UpdateOnStartup,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp config file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace config file: %w", err)
	}

	return nil
}
