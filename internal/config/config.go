// Package config loads the exporter's process configuration from defaults,
// an optional YAML file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/ticket-export/pkg/client"
	"github.com/Sternrassler/ticket-export/pkg/exporter"
	"github.com/Sternrassler/ticket-export/pkg/logging"
)

// Config defines configuration for the ticket-export CLI.
type Config struct {
	ExportDir     string
	Domain        string
	APIKey        string
	StartTicketID int64
	EndTicketID   int64
	Partitions    int
	Include       []string
	UserAgent     string
	HTTPTimeout   time.Duration
	LogLevel      string
	LogPretty     bool

	// RedisURL enables the shared rate limit tracker when set. Accepts a
	// redis:// URL or a plain host:port.
	RedisURL string

	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr string
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		StartTicketID: 1,
		Partitions:    4,
		Include:       []string{"stats", "conversations"},
		UserAgent:     "ticket-export/0.1.0",
		HTTPTimeout:   30 * time.Second,
		LogLevel:      "info",
	}
}

// yamlConfig is used for YAML unmarshaling with a string timeout.
type yamlConfig struct {
	ExportDir     string   `yaml:"export_dir"`
	Domain        string   `yaml:"domain"`
	APIKey        string   `yaml:"api_key"`
	StartTicketID int64    `yaml:"start_ticket_id"`
	EndTicketID   int64    `yaml:"end_ticket_id"`
	Partitions    int      `yaml:"partitions"`
	Include       []string `yaml:"include"`
	UserAgent     string   `yaml:"user_agent"`
	HTTPTimeout   string   `yaml:"http_timeout"`
	LogLevel      string   `yaml:"log_level"`
	LogPretty     bool     `yaml:"log_pretty"`
	RedisURL      string   `yaml:"redis_url"`
	MetricsAddr   string   `yaml:"metrics_addr"`
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment. It does not validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = LoadFromFile(path)
		if err != nil {
			return Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.ExportDir != "" {
		cfg.ExportDir = yc.ExportDir
	}
	if yc.Domain != "" {
		cfg.Domain = yc.Domain
	}
	if yc.APIKey != "" {
		cfg.APIKey = yc.APIKey
	}
	if yc.StartTicketID != 0 {
		cfg.StartTicketID = yc.StartTicketID
	}
	if yc.EndTicketID != 0 {
		cfg.EndTicketID = yc.EndTicketID
	}
	if yc.Partitions != 0 {
		cfg.Partitions = yc.Partitions
	}
	if yc.Include != nil {
		cfg.Include = yc.Include
	}
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	if yc.HTTPTimeout != "" {
		d, err := time.ParseDuration(yc.HTTPTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse http_timeout: %w", err)
		}
		cfg.HTTPTimeout = d
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	cfg.LogPretty = yc.LogPretty
	cfg.RedisURL = yc.RedisURL
	cfg.MetricsAddr = yc.MetricsAddr

	return cfg, nil
}

// LoadFromEnv overrides c with the environment variables that are set.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("EXPORT_DIR"); v != "" {
		c.ExportDir = v
	}
	if v := os.Getenv("FRESH_SERVICE_DOMAIN"); v != "" {
		c.Domain = v
	}
	if v := os.Getenv("FRESH_SERVICE_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("START_TICKET_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse START_TICKET_ID: %w", err)
		}
		c.StartTicketID = n
	}
	if v := os.Getenv("END_TICKET_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse END_TICKET_ID: %w", err)
		}
		c.EndTicketID = n
	}
	if v := os.Getenv("NUMBER_PARTITIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse NUMBER_PARTITIONS: %w", err)
		}
		c.Partitions = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		c.LogPretty = v == "true" || v == "1"
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse HTTP_TIMEOUT: %w", err)
		}
		c.HTTPTimeout = d
	}
	return nil
}

// Validate validates the configuration. An end id below the start id is
// valid and yields an empty run.
func (c *Config) Validate() error {
	if c.ExportDir == "" {
		return errors.New("config: export_dir is required")
	}
	if c.Domain == "" {
		return errors.New("config: domain is required")
	}
	if c.APIKey == "" {
		return errors.New("config: api_key is required")
	}
	if c.StartTicketID < 1 {
		return errors.New("config: start_ticket_id must be positive")
	}
	if c.Partitions < 1 {
		return errors.New("config: partitions must be positive")
	}
	if c.HTTPTimeout < 0 {
		return errors.New("config: http_timeout must not be negative")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ClientConfig returns the Freshservice client settings.
func (c Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.Domain, c.APIKey)
	if c.UserAgent != "" {
		cfg.UserAgent = c.UserAgent
	}
	if c.Include != nil {
		cfg.Include = c.Include
	}
	if c.HTTPTimeout > 0 {
		cfg.Timeout = c.HTTPTimeout
	}
	return cfg
}

// ExportConfig returns the settings for one export run.
func (c Config) ExportConfig() exporter.Config {
	return exporter.Config{
		Root:       c.ExportDir,
		StartID:    c.StartTicketID,
		EndID:      c.EndTicketID,
		Partitions: c.Partitions,
	}
}

// LoggingConfig returns the logger settings.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(strings.ToLower(c.LogLevel))
	cfg.Pretty = c.LogPretty
	return cfg
}

// RedisOptions returns the connection options for RedisURL, or nil when the
// tracker is disabled.
func (c Config) RedisOptions() (*redis.Options, error) {
	if c.RedisURL == "" {
		return nil, nil
	}
	if strings.Contains(c.RedisURL, "://") {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis_url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: c.RedisURL}, nil
}
