package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	// Counter configuration persistence: file, postgres or redis.
	SettingsBackend string `envconfig:"SETTINGS_BACKEND" default:"file"`
	SettingsPath    string `envconfig:"SETTINGS_PATH" default:"data/counters.json"`
	DatabaseURL     string `envconfig:"DB_DSN"`
	RedisAddr       string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD"`
	RedisDB         int    `envconfig:"REDIS_DB" default:"0"`
	RedisKey        string `envconfig:"REDIS_SETTINGS_KEY" default:"queueflow:counters"`

	AnnounceProviders    []string `envconfig:"ANNOUNCE_PROVIDERS" default:"log,display"`
	AnnounceWebhookURL   string   `envconfig:"ANNOUNCE_WEBHOOK_URL"`
	AnnounceWebhookToken string   `envconfig:"ANNOUNCE_WEBHOOK_TOKEN"`
	AnnounceQueueSize    int      `envconfig:"ANNOUNCE_QUEUE_SIZE" default:"64"`
	AMQPURL              string   `envconfig:"AMQP_URL"`
	AMQPExchange         string   `envconfig:"AMQP_EXCHANGE" default:"queueflow.calls"`

	StrictCompletion        bool `envconfig:"STRICT_COMPLETION" default:"false"`
	InsightsIntervalSeconds int  `envconfig:"INSIGHTS_INTERVAL_SECONDS" default:"30"`

	RateLimitPerMinute        int `envconfig:"RATE_LIMIT_PER_MIN" default:"120"`
	RateLimitBurst            int `envconfig:"RATE_LIMIT_BURST" default:"30"`
	CounterRateLimitPerMinute int `envconfig:"COUNTER_RATE_LIMIT_PER_MIN" default:"60"`
	CounterRateLimitBurst     int `envconfig:"COUNTER_RATE_LIMIT_BURST" default:"10"`
}

// Load reads the environment, after filling unset variables from a .env
// file in the working directory when one exists.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	c.SettingsBackend = strings.ToLower(strings.TrimSpace(c.SettingsBackend))
	switch c.SettingsBackend {
	case "file", "postgres", "redis":
	default:
		return Config{}, fmt.Errorf("load config: unknown SETTINGS_BACKEND %q", c.SettingsBackend)
	}
	if c.SettingsBackend == "postgres" && c.DatabaseURL == "" {
		return Config{}, fmt.Errorf("load config: DB_DSN is required for the postgres settings backend")
	}
	return c, nil
}

func (c Config) InsightsInterval() time.Duration {
	if c.InsightsIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.InsightsIntervalSeconds) * time.Second
}
