// Package config loads bot configuration from a YAML file with environment
// variable overrides. The file is optional: a bot can run entirely from
// environment variables (container deployments do exactly that).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the bot process.
type Config struct {
	// BotName is the handle other users mention in group chats (without @).
	BotName string `yaml:"bot_name" env:"BOT_NAME"`

	// Language selects the message bundle. Defaults to "en".
	Language string `yaml:"language" env:"BOT_LANGUAGE"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	// DataDir holds the sqlite database with pending deliveries.
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`

	Channels  ChannelsConfig  `yaml:"channels"`
	Providers ProvidersConfig `yaml:"providers"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	API       APIConfig       `yaml:"api"`
}

// APIConfig controls the operator status endpoint.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" env:"API_ENABLED"`
	Addr    string `yaml:"addr" env:"API_ADDR"`
}

// ChannelsConfig enables and configures the messaging channel adapters.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
	CLI      CLIConfig      `yaml:"cli"`
}

type TelegramConfig struct {
	Enabled   bool     `yaml:"enabled" env:"TELEGRAM_ENABLED"`
	Token     string   `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	AllowFrom []string `yaml:"allow_from" env:"TELEGRAM_ALLOW_FROM"`
}

type DiscordConfig struct {
	Enabled   bool     `yaml:"enabled" env:"DISCORD_ENABLED"`
	Token     string   `yaml:"token" env:"DISCORD_BOT_TOKEN"`
	AllowFrom []string `yaml:"allow_from" env:"DISCORD_ALLOW_FROM"`
}

type SlackConfig struct {
	Enabled   bool     `yaml:"enabled" env:"SLACK_ENABLED"`
	BotToken  string   `yaml:"bot_token" env:"SLACK_BOT_TOKEN"`
	AppToken  string   `yaml:"app_token" env:"SLACK_APP_TOKEN"`
	AllowFrom []string `yaml:"allow_from" env:"SLACK_ALLOW_FROM"`
}

type CLIConfig struct {
	Enabled bool `yaml:"enabled" env:"CLI_ENABLED"`
}

// ProvidersConfig gates the optional content providers. A disabled provider
// makes the corresponding command answer "feature unavailable" instead of
// attempting the call.
type ProvidersConfig struct {
	Weather WeatherConfig `yaml:"weather"`
	News    NewsConfig    `yaml:"news"`
}

type WeatherConfig struct {
	Enabled bool   `yaml:"enabled" env:"WEATHER_ENABLED"`
	APIKey  string `yaml:"api_key" env:"WEATHER_API_KEY"`
	BaseURL string `yaml:"base_url" env:"WEATHER_BASE_URL"`
}

type NewsConfig struct {
	Enabled  bool   `yaml:"enabled" env:"NEWS_ENABLED"`
	APIKey   string `yaml:"api_key" env:"NEWS_API_KEY"`
	BaseURL  string `yaml:"base_url" env:"NEWS_BASE_URL"`
	Country  string `yaml:"country" env:"NEWS_COUNTRY"`
	PageSize int    `yaml:"page_size" env:"NEWS_PAGE_SIZE"`
}

// SchedulerConfig controls deferred-delivery retry behavior.
type SchedulerConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"SCHEDULER_MAX_ATTEMPTS"`
	BaseBackoff time.Duration `yaml:"base_backoff" env:"SCHEDULER_BASE_BACKOFF"`
	MaxBackoff  time.Duration `yaml:"max_backoff" env:"SCHEDULER_MAX_BACKOFF"`
}

// SessionsConfig controls conversation session eviction.
type SessionsConfig struct {
	IdleTTL time.Duration `yaml:"idle_ttl" env:"SESSION_IDLE_TTL"`
}

// Default returns a config with sane defaults applied.
func Default() *Config {
	return &Config{
		BotName:  "assistbot",
		Language: "en",
		LogLevel: "info",
		DataDir:  defaultDataDir(),
		Providers: ProvidersConfig{
			Weather: WeatherConfig{BaseURL: "https://api.openweathermap.org/data/2.5/weather"},
			News:    NewsConfig{BaseURL: "https://newsapi.org/v2/top-headlines", Country: "us", PageSize: 5},
		},
		Scheduler: SchedulerConfig{
			MaxAttempts: 3,
			BaseBackoff: 2 * time.Second,
			MaxBackoff:  30 * time.Second,
		},
		Sessions: SessionsConfig{IdleTTL: 30 * time.Minute},
		API:      APIConfig{Addr: "127.0.0.1:8900"},
	}
}

// Load reads the YAML file at path (if it exists), then applies environment
// overrides on top. Missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults backfills zero values that YAML or env may have cleared.
func (c *Config) applyDefaults() {
	if c.Language == "" {
		c.Language = "en"
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.Scheduler.MaxAttempts <= 0 {
		c.Scheduler.MaxAttempts = 3
	}
	if c.Scheduler.BaseBackoff <= 0 {
		c.Scheduler.BaseBackoff = 2 * time.Second
	}
	if c.Scheduler.MaxBackoff <= 0 {
		c.Scheduler.MaxBackoff = 30 * time.Second
	}
	if c.Sessions.IdleTTL <= 0 {
		c.Sessions.IdleTTL = 30 * time.Minute
	}
	if c.Providers.News.PageSize <= 0 {
		c.Providers.News.PageSize = 5
	}
	if c.API.Addr == "" {
		c.API.Addr = "127.0.0.1:8900"
	}
}

// DatabasePath returns the location of the scheduler database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "assistbot.db")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".assistbot"
	}
	return filepath.Join(home, ".assistbot")
}
