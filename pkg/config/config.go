package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	API struct {
		BaseURL       string        `yaml:"base_url" json:"base_url" jsonschema:"default=https://developer.sony.com,description=Vendor portal base URL"`
		Tags          string        `yaml:"tags" json:"tags" jsonschema:"default=xperia-open-source-archives,description=Tags filter for the files listing"`
		PageSize      int           `yaml:"page_size" json:"page_size" jsonschema:"default=100,minimum=1,description=Items per page (limit parameter)"`
		MaxConcurrent int           `yaml:"max_concurrent" json:"max_concurrent" jsonschema:"default=10,minimum=1,description=Maximum concurrent page requests"`
		Timeout       time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP timeout per page request"`
	} `yaml:"api" json:"api" jsonschema:"description=Vendor file listing API configuration"`

	Telegram struct {
		Token     string        `yaml:"token" json:"token" jsonschema:"required,description=Bot token (use ${TELEGRAM_BOT_TOKEN})"`
		ChatID    int64         `yaml:"chat_id" json:"chat_id" jsonschema:"required,description=Destination chat id (use ${TELEGRAM_CHAT_ID})"`
		SendDelay time.Duration `yaml:"send_delay" json:"send_delay" jsonschema:"default=30s,description=Delay between consecutive messages"`
		Timeout   time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=10s,description=Telegram API timeout"`
		APIURL    string        `yaml:"api_url" json:"api_url" jsonschema:"description=Optional self-hosted Bot API server URL"`
	} `yaml:"telegram" json:"telegram" jsonschema:"description=Telegram delivery configuration"`

	Snapshot struct {
		Path string `yaml:"path" json:"path" jsonschema:"default=open-source-archives.json,description=Path of the persisted snapshot file"`
	} `yaml:"snapshot" json:"snapshot" jsonschema:"description=Snapshot persistence configuration"`

	History struct {
		DSN string `yaml:"dsn" json:"dsn" jsonschema:"description=SQLite DSN for the notification log; empty disables history"`
	} `yaml:"history" json:"history" jsonschema:"description=Notification history configuration"`

	Schedule struct {
		UpdateInterval time.Duration `yaml:"update_interval" json:"update_interval" jsonschema:"default=6h,description=Interval between runs in daemon mode"`
	} `yaml:"schedule" json:"schedule" jsonschema:"description=Scheduler configuration"`

	Server struct {
		Enabled bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Enable the status HTTP server"`
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Status server configuration"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables, this is how the telegram token and
	// chat id get into the config
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// set defaults for api
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "https://developer.sony.com"
	}
	if cfg.API.Tags == "" {
		cfg.API.Tags = "xperia-open-source-archives"
	}
	if cfg.API.PageSize == 0 {
		cfg.API.PageSize = 100
	}
	if cfg.API.MaxConcurrent == 0 {
		cfg.API.MaxConcurrent = 10
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 30 * time.Second
	}

	// set defaults for telegram
	if cfg.Telegram.SendDelay == 0 {
		cfg.Telegram.SendDelay = 30 * time.Second
	}
	if cfg.Telegram.Timeout == 0 {
		cfg.Telegram.Timeout = 10 * time.Second
	}

	// set defaults for snapshot
	if cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = "open-source-archives.json"
	}

	// set defaults for schedule
	if cfg.Schedule.UpdateInterval == 0 {
		cfg.Schedule.UpdateInterval = 6 * time.Hour
	}

	// set defaults for server
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	// validate api config
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if cfg.API.PageSize < 1 {
		return fmt.Errorf("api.page_size must be at least 1")
	}
	if cfg.API.MaxConcurrent < 1 {
		return fmt.Errorf("api.max_concurrent must be at least 1")
	}

	// validate telegram config, token and chat id usually come from the
	// environment and expand to empty strings when unset
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required, set TELEGRAM_BOT_TOKEN")
	}
	if cfg.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required, set TELEGRAM_CHAT_ID")
	}
	if cfg.Telegram.SendDelay < 0 {
		return fmt.Errorf("telegram.send_delay must be non-negative")
	}

	// validate server config
	if cfg.Server.Enabled && cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// GetFullConfig returns the full configuration
func (c *Config) GetFullConfig() *Config {
	return c
}
