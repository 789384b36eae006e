package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Database Database `yaml:"database"`
	Spotify  Spotify  `yaml:"spotify"`
	LastFM   LastFM   `yaml:"lastfm"`
	Sweep    Sweep    `yaml:"sweep"`
	Logging  Logging  `yaml:"logging"`
}

// Database holds SQLite settings.
type Database struct {
	Path string `yaml:"path"`
}

// Spotify holds Spotify API credentials.
type Spotify struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// LastFM holds Last.fm API settings.
type LastFM struct {
	APIKey         string `yaml:"api_key"`
	DefaultCountry string `yaml:"default_country"`
}

// Sweep holds cache sweep scheduling settings.
type Sweep struct {
	Enabled       bool `yaml:"enabled"`
	IntervalHours int  `yaml:"interval_hours"`
}

// Logging holds logging settings.
type Logging struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	FilePath string `yaml:"file_path"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: Database{
			Path: "/data/crossfade.db",
		},
		LastFM: LastFM{
			DefaultCountry: "united states",
		},
		Sweep: Sweep{
			Enabled:       true,
			IntervalHours: 24,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("CF_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CF_SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("CF_SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("CF_LASTFM_API_KEY"); v != "" {
		c.LastFM.APIKey = v
	}
	if v := os.Getenv("CF_LASTFM_COUNTRY"); v != "" {
		c.LastFM.DefaultCountry = v
	}
	if v := os.Getenv("CF_SWEEP_INTERVAL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			c.Sweep.IntervalHours = hours
		}
	}
	if v := os.Getenv("CF_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CF_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("CF_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Sweep.IntervalHours < 1 {
		return fmt.Errorf("sweep interval must be at least 1 hour, got %d", c.Sweep.IntervalHours)
	}
	if c.LastFM.DefaultCountry == "" {
		return fmt.Errorf("lastfm default country is required")
	}
	return nil
}
