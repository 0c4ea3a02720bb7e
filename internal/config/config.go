package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/recallhq/recall/internal/validation"
)

const (
	envServerURL = "RECALL_SERVER_URL"
	envCachePath = "RECALL_CACHE_PATH"
)

// Config captures runtime configuration for the recall client.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	UI      UIConfig      `yaml:"ui"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds settings for connecting to the recall server.
type ServerConfig struct {
	URL string `yaml:"url"`
	// TimeoutSeconds applies to plain API calls, never to streams.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// UIConfig defines terminal rendering preferences.
type UIConfig struct {
	ShowTimestamps bool `yaml:"show_timestamps"`
	ShowSources    bool `yaml:"show_sources"`
	Width          int  `yaml:"width"`
}

// CacheConfig defines the local conversation mirror.
type CacheConfig struct {
	// Path to the sqlite file. Empty uses the default location under
	// the home directory; "disable" turns the mirror off.
	Path string `yaml:"path"`
	// Entries is the in-memory LRU capacity.
	Entries int `yaml:"entries"`
}

// LoggingConfig encapsulates logging preferences.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from the provided path, falling back to
// defaults and environment overrides. An empty path tries config.yaml
// in the working directory and tolerates its absence.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	} else {
		if err := loadFile("config.yaml", &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	cfg.Server.URL = os.ExpandEnv(cfg.Server.URL)
	cfg.Cache.Path = os.ExpandEnv(cfg.Cache.Path)
	cfg.Logging.File = os.ExpandEnv(cfg.Logging.File)

	return nil
}

func applyEnvOverrides(cfg *Config) {
	if url := strings.TrimSpace(os.Getenv(envServerURL)); url != "" {
		cfg.Server.URL = url
	}
	if path := strings.TrimSpace(os.Getenv(envCachePath)); path != "" {
		cfg.Cache.Path = path
	}
}

func (c *Config) validate() error {
	var problems []string

	if err := validation.ValidateServerURL(c.Server.URL); err != nil {
		problems = append(problems, fmt.Sprintf("server URL (server.url): %v", err))
	}

	if c.Server.TimeoutSeconds < 0 {
		problems = append(problems, "server timeout (server.timeout_seconds) cannot be negative")
	}

	if c.Cache.Entries <= 0 {
		problems = append(problems, "cache capacity (cache.entries) must be positive")
	}

	if c.UI.Width < 0 {
		problems = append(problems, "render width (ui.width) cannot be negative")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if strings.TrimSpace(c.Logging.Level) == "" {
		problems = append(problems, "logging level (logging.level) cannot be empty")
	} else {
		valid := false
		for _, level := range validLevels {
			if strings.EqualFold(c.Logging.Level, level) {
				valid = true
				break
			}
		}
		if !valid {
			problems = append(problems, fmt.Sprintf("logging level (logging.level) must be one of %v, got %s", validLevels, c.Logging.Level))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n\t• %s", strings.Join(problems, "\n\t• "))
	}

	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			URL:            "http://localhost:8000",
			TimeoutSeconds: 30,
		},
		UI: UIConfig{
			ShowTimestamps: true,
			ShowSources:    true,
		},
		Cache: CacheConfig{
			Entries: 64,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
