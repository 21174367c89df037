package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration. Intervals are expressed in
// seconds, matching the configuration files shipped with the service;
// use the accessor methods to obtain time.Durations.
type Config struct {
	// HTTP front-end
	Listen    string `yaml:"listen"`
	ServiceID string `yaml:"service_id"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// Crawl
	URLAccounts                string  `yaml:"url_accounts"`
	AccountsPollInterval       float64 `yaml:"accounts_poll_interval"`
	DefaultPollInterval        float64 `yaml:"default_poll_interval"`
	MaxPollErrorDelayFactor    int     `yaml:"max_poll_error_delay_factor"`
	NotificationPollInterval   float64 `yaml:"notification_poll_interval"`
	NotifyMinDelay             float64 `yaml:"notify_min_delay"`
	NotifyQueueOverloadWarning int     `yaml:"notify_queue_overload_warning"`
	NotificationsQueueMaxSize  int     `yaml:"notifications_queue_max_size"`
	Concurrency                int     `yaml:"concurrency"`
	MaxRepositoryPages         int     `yaml:"max_repository_pages"`
	LocalDB                    string  `yaml:"local_db"`
	OpenService                bool    `yaml:"open_service"`

	// Query
	MaxRelatedDepth int `yaml:"max_related_depth"`

	// Triple store
	URLIndexDB  string `yaml:"url_index_db"`
	IndexDBPort int    `yaml:"index_db_port"`
	IndexDBPath string `yaml:"index_db_path"`
	IndexSchema string `yaml:"index_schema"`
}

// Default returns a Config populated with the default values.
func Default() *Config {
	return &Config{
		Listen:                     "127.0.0.1:8005",
		ServiceID:                  "index",
		LogLevel:                   "info",
		AccountsPollInterval:       60 * 60 * 24,
		DefaultPollInterval:        60 * 60 * 6,
		MaxPollErrorDelayFactor:    5,
		NotificationPollInterval:   0.1,
		NotifyQueueOverloadWarning: 2,
		NotificationsQueueMaxSize:  1000,
		Concurrency:                2,
		LocalDB:                    "index-data",
		OpenService:                true,
		MaxRelatedDepth:            5,
		URLIndexDB:                 "http://localhost",
		IndexDBPort:                9090,
		IndexDBPath:                "/bigdata/namespace/",
		IndexSchema:                "kb",
	}
}

// Load reads a YAML config file on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks constraints that must abort startup when violated.
func (c *Config) Validate() error {
	if c.MaxPollErrorDelayFactor < 1 {
		return fmt.Errorf("max_poll_error_delay_factor must be >= 1, got %d", c.MaxPollErrorDelayFactor)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.DefaultPollInterval <= 0 {
		return fmt.Errorf("default_poll_interval must be positive")
	}
	if c.NotificationsQueueMaxSize < 1 {
		return fmt.Errorf("notifications_queue_max_size must be >= 1, got %d", c.NotificationsQueueMaxSize)
	}
	if c.MaxRelatedDepth < 0 {
		return fmt.Errorf("max_related_depth must be >= 0, got %d", c.MaxRelatedDepth)
	}
	if c.LocalDB == "" {
		return fmt.Errorf("local_db is required")
	}
	return nil
}

// AccountsPoll is the interval between accounts service listings.
func (c *Config) AccountsPoll() time.Duration {
	return seconds(c.AccountsPollInterval)
}

// DefaultPoll is the base per-repository poll cadence.
func (c *Config) DefaultPoll() time.Duration {
	return seconds(c.DefaultPollInterval)
}

// NotificationPoll is the notification drain cadence.
func (c *Config) NotificationPoll() time.Duration {
	return seconds(c.NotificationPollInterval)
}

// NotifyDelay is the minimum lead time honoured for a push notification.
// Unset, it defaults to a tenth of the default poll interval.
func (c *Config) NotifyDelay() time.Duration {
	if c.NotifyMinDelay > 0 {
		return seconds(c.NotifyMinDelay)
	}
	return c.DefaultPoll() / 10
}

// DBURL composes the triple store endpoint from its parts,
// e.g. "http://localhost:9090/bigdata/namespace/kb".
func (c *Config) DBURL() string {
	return fmt.Sprintf("%s:%d%s%s", c.URLIndexDB, c.IndexDBPort, c.IndexDBPath, c.IndexSchema)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
