// Package config provides configuration loading for the colony server.
// It supports loading from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lifesupport/colony/server/internal/domain/resource"
	"github.com/lifesupport/colony/server/internal/engine"
	"github.com/lifesupport/colony/server/internal/platform/optimization"
)

// DefaultPath is read by Load when no explicit path is given and the file exists.
const DefaultPath = "colony.yaml"

// Config contains all server configuration settings.
type Config struct {
	Colony  ColonyConfig  `json:"colony" yaml:"colony"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Journal JournalConfig `json:"journal" yaml:"journal"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ColonyConfig seeds the simulation.
type ColonyConfig struct {
	Name         string        `json:"name" yaml:"name"`
	Start        StartConfig   `json:"start" yaml:"start"`
	GridWidth    int           `json:"grid_width" yaml:"grid_width"`
	GridHeight   int           `json:"grid_height" yaml:"grid_height"`
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`
}

// UnmarshalYAML reads tick_interval the way COLONY_TICK_INTERVAL is read: a
// bare integer is milliseconds, anything else a Go duration.
func (c *ColonyConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain ColonyConfig
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value != "tick_interval" {
			continue
		}
		node := value.Content[i+1]
		d, err := ParseInterval(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: tick_interval: %w", node.Line, err)
		}
		// Decode the rest without the key, then apply the parsed value.
		rest := *value
		rest.Content = append(append([]*yaml.Node{}, value.Content[:i]...), value.Content[i+2:]...)
		if err := rest.Decode((*plain)(c)); err != nil {
			return err
		}
		c.TickInterval = d
		return nil
	}
	return value.Decode((*plain)(c))
}

// StartConfig holds starting resource levels.
type StartConfig struct {
	Energy   int `json:"energy" yaml:"energy"`
	Food     int `json:"food" yaml:"food"`
	Water    int `json:"water" yaml:"water"`
	Minerals int `json:"minerals" yaml:"minerals"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`

	// Profile selects buffer and rate-limit tuning: "default", "stress" or "low".
	Profile string `json:"profile" yaml:"profile"`
}

// StorageConfig configures the SQLite audit database.
type StorageConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Path           string        `json:"path" yaml:"path"`
	BackupInterval time.Duration `json:"backup_interval" yaml:"backup_interval"`
}

// JournalConfig configures compressed journal files.
type JournalConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Dir     string `json:"dir" yaml:"dir"`
	Prefix  string `json:"prefix" yaml:"prefix"`

	// Codec is "zstd" (default) or "lz4".
	Codec string `json:"codec" yaml:"codec"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns a Config with the stock colony and server settings.
func Default() *Config {
	return &Config{
		Colony: ColonyConfig{
			Name:         "Life Support",
			Start:        StartConfig{Energy: 100, Food: 50, Water: 50, Minerals: 30},
			GridWidth:    32,
			GridHeight:   32,
			TickInterval: engine.DefaultInterval,
		},
		Server: ServerConfig{
			Addr:    ":8080",
			Profile: "default",
		},
		Storage: StorageConfig{
			Enabled:        true,
			Path:           "colony.db",
			BackupInterval: 5 * time.Second,
		},
		Journal: JournalConfig{
			Enabled: true,
			Dir:     "journal",
			Prefix:  "colony",
			Codec:   "zstd",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration.
// Order: defaults -> YAML file -> environment variables.
// An empty path reads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileCfg
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable. The tick interval is
// not validated; it is clamped when the scheduler is built.
func (c *Config) Validate() error {
	s := c.Colony.Start
	for name, v := range map[string]int{"energy": s.Energy, "food": s.Food, "water": s.Water, "minerals": s.Minerals} {
		if v < 0 {
			return fmt.Errorf("start %s must be non-negative, got %d", name, v)
		}
	}
	if c.Colony.GridWidth <= 0 || c.Colony.GridHeight <= 0 {
		return fmt.Errorf("grid must be positive, got %dx%d", c.Colony.GridWidth, c.Colony.GridHeight)
	}
	if strings.TrimSpace(c.Colony.Name) == "" {
		return errors.New("colony name must not be empty")
	}
	if _, err := optimization.ForProfile(c.Server.Profile); err != nil {
		return err
	}

	validCodecs := map[string]bool{"zstd": true, "lz4": true}
	if c.Journal.Enabled && !validCodecs[c.Journal.Codec] {
		return fmt.Errorf("invalid journal codec: %s (valid: zstd, lz4)", c.Journal.Codec)
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return errors.New("storage path must be set when storage is enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.Logging.Format)
	}
	return nil
}

// TickInterval returns the configured cadence clamped to the scheduler bounds.
func (c *Config) TickInterval() time.Duration {
	return engine.ClampInterval(c.Colony.TickInterval)
}

// EngineSettings converts the colony section into engine settings.
func (c *Config) EngineSettings() engine.Settings {
	var start resource.Amounts
	start[resource.Energy] = c.Colony.Start.Energy
	start[resource.Food] = c.Colony.Start.Food
	start[resource.Water] = c.Colony.Start.Water
	start[resource.Minerals] = c.Colony.Start.Minerals
	return engine.Settings{
		ColonyName: c.Colony.Name,
		Start:      start,
		Grid:       engine.Grid{Width: c.Colony.GridWidth, Height: c.Colony.GridHeight},
	}
}

// Tuning returns the optimization profile named by Server.Profile.
func (c *Config) Tuning() (*optimization.Config, error) {
	return optimization.ForProfile(c.Server.Profile)
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"COLONY_START_ENERGY", &cfg.Colony.Start.Energy},
		{"COLONY_START_FOOD", &cfg.Colony.Start.Food},
		{"COLONY_START_WATER", &cfg.Colony.Start.Water},
		{"COLONY_START_MINERALS", &cfg.Colony.Start.Minerals},
		{"COLONY_GRID_WIDTH", &cfg.Colony.GridWidth},
		{"COLONY_GRID_HEIGHT", &cfg.Colony.GridHeight},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = n
	}

	if v := os.Getenv("COLONY_TICK_INTERVAL"); v != "" {
		d, err := ParseInterval(v)
		if err != nil {
			return fmt.Errorf("COLONY_TICK_INTERVAL: %w", err)
		}
		cfg.Colony.TickInterval = d
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"COLONY_NAME", &cfg.Colony.Name},
		{"COLONY_HTTP_ADDR", &cfg.Server.Addr},
		{"COLONY_PROFILE", &cfg.Server.Profile},
		{"COLONY_DB_PATH", &cfg.Storage.Path},
		{"COLONY_JOURNAL_DIR", &cfg.Journal.Dir},
		{"COLONY_JOURNAL_CODEC", &cfg.Journal.Codec},
		{"COLONY_LOG_LEVEL", &cfg.Logging.Level},
		{"COLONY_LOG_FORMAT", &cfg.Logging.Format},
	}
	for _, e := range strs {
		if v := os.Getenv(e.key); v != "" {
			*e.dst = v
		}
	}

	if v := os.Getenv("COLONY_STORAGE_ENABLED"); v != "" {
		cfg.Storage.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("COLONY_JOURNAL_ENABLED"); v != "" {
		cfg.Journal.Enabled = v == "true" || v == "1"
	}
	return nil
}

// ParseInterval accepts either integer milliseconds ("5000") or a Go
// duration ("5s", "750ms").
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: want milliseconds or a duration", s)
	}
	return d, nil
}
