// Package config loads service configuration from an optional YAML file
// with DRIFTWATCH_* environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is consulted when no explicit config file is given. A missing
// default file is not an error; an explicitly named missing file is.
const DefaultPath = "driftwatch.yaml"

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type WatchConfig struct {
	Interval   time.Duration `yaml:"interval"`
	SourceRoot string        `yaml:"source_root"`
	Mode       string        `yaml:"mode"`
}

type Config struct {
	HTTP  HTTPConfig  `yaml:"http"`
	DB    DBConfig    `yaml:"db"`
	Watch WatchConfig `yaml:"watch"`
}

func defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{Addr: ":8080"},
		DB:   DBConfig{Path: "driftwatch.db"},
		Watch: WatchConfig{
			Interval:   5 * time.Minute,
			SourceRoot: ".",
			Mode:       "filesystem",
		},
	}
}

// Load reads configuration in precedence order: defaults, then the YAML
// file, then environment variables.
func Load(path string) (*Config, error) {
	cfg := defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// fall through to env overrides
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("DRIFTWATCH_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("DRIFTWATCH_DB_PATH"); v != "" {
		cfg.DB.Path = v
	}
	if v := os.Getenv("DRIFTWATCH_WATCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid DRIFTWATCH_WATCH_INTERVAL %q: %w", v, err)
		}
		cfg.Watch.Interval = d
	}
	if v := os.Getenv("DRIFTWATCH_SOURCE_ROOT"); v != "" {
		cfg.Watch.SourceRoot = v
	}
	if v := os.Getenv("DRIFTWATCH_WATCH_MODE"); v != "" {
		cfg.Watch.Mode = v
	}
	return nil
}
