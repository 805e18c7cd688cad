package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all daemon configuration, loadable from conveyor.yaml
// and CONVEYOR_* environment variables (env wins).
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Persist   PersistConfig   `mapstructure:"persist"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SchedulerConfig struct {
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	Concurrency     int           `mapstructure:"concurrency"`
	HistorySize     int           `mapstructure:"history_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PersistConfig struct {
	// Backend selects the queue mirror: "none", "redis" or "postgres".
	Backend string `mapstructure:"backend"`
	Codec   string `mapstructure:"codec"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	PostgresURL string `mapstructure:"postgres_url"`
}

func loadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("scheduler.queue_capacity", 10_000)
	v.SetDefault("scheduler.concurrency", 10)
	v.SetDefault("scheduler.history_size", 1_000)
	v.SetDefault("scheduler.shutdown_timeout", 30*time.Second)
	v.SetDefault("persist.backend", "none")
	v.SetDefault("persist.codec", "json")

	v.SetConfigName("conveyor")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/conveyor")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No file is fine; defaults and env carry the config.
	}

	v.SetEnvPrefix("CONVEYOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	switch cfg.Persist.Backend {
	case "none", "redis", "postgres":
	default:
		return nil, fmt.Errorf("unknown persist backend %q", cfg.Persist.Backend)
	}
	return &cfg, nil
}
