// Package config loads indexer settings from an optional YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds everything the indexer needs to run. Endpoints and credentials
// always come from here, never from constants.
type Config struct {
	Service struct {
		Port        string        `yaml:"port" validate:"required"`
		Interval    time.Duration `yaml:"interval" validate:"gt=0"`
		PassTimeout time.Duration `yaml:"pass_timeout" validate:"gte=0"`
	} `yaml:"service"`

	Ledger struct {
		URL               string        `yaml:"url" validate:"required,url"`
		Token             string        `yaml:"token"`
		RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
		Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
		StartTimestamp    string        `yaml:"start_timestamp" validate:"numeric"`
	} `yaml:"ledger"`

	Content struct {
		Source            string        `yaml:"source" validate:"oneof=cdn mirror"`
		CDNURL            string        `yaml:"cdn_url" validate:"omitempty,url"`
		MirrorURL         string        `yaml:"mirror_url" validate:"omitempty,url"`
		Network           string        `yaml:"network" validate:"required"`
		RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
		Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	} `yaml:"content"`

	Postgres struct {
		URL        string `yaml:"url" validate:"required"`
		Table      string `yaml:"table" validate:"required"`
		MaxRetries int    `yaml:"max_retries" validate:"gte=1"`
	} `yaml:"postgres"`

	Logging struct {
		Level string `yaml:"level" validate:"oneof=debug info warn error"`
	} `yaml:"logging"`
}

// Default returns a config with every optional field set.
func Default() Config {
	var cfg Config
	cfg.Service.Port = "8080"
	cfg.Service.Interval = 10 * time.Minute
	cfg.Ledger.Timeout = 30 * time.Second
	cfg.Ledger.StartTimestamp = "0"
	cfg.Content.Source = "cdn"
	cfg.Content.CDNURL = "https://kiloscribe.com/api/inscription-cdn"
	cfg.Content.MirrorURL = "https://mainnet-public.mirrornode.hedera.com"
	cfg.Content.Network = "mainnet"
	cfg.Content.Timeout = 30 * time.Second
	cfg.Postgres.Table = "inscriptions"
	cfg.Postgres.MaxRetries = 3
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads the YAML file at path (if any) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("could not read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("could not parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides file values with env vars where set.
func (c *Config) applyEnv() error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := os.Getenv("LEDGER_API_URL"); v != "" {
		c.Ledger.URL = v
	}
	if v := os.Getenv("LEDGER_API_TOKEN"); v != "" {
		c.Ledger.Token = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if p := os.Getenv("PORT"); p != "" {
		p = strings.TrimPrefix(p, ":") // allow PORT=8080 or PORT=:8080
		if p != "" {
			c.Service.Port = p
		}
	}
	if s := os.Getenv("INDEX_INTERVAL_SEC"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid INDEX_INTERVAL_SEC %q", s)
		}
		c.Service.Interval = time.Duration(n) * time.Second
	}
	return nil
}

// Validate checks the struct tags and the content source endpoint.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Content.Source == "cdn" && c.Content.CDNURL == "" {
		return fmt.Errorf("invalid configuration: content.cdn_url required for cdn source")
	}
	if c.Content.Source == "mirror" && c.Content.MirrorURL == "" {
		return fmt.Errorf("invalid configuration: content.mirror_url required for mirror source")
	}
	return nil
}

// Addr is the listen address for the health and metrics server.
func (c *Config) Addr() string {
	return ":" + c.Service.Port
}
