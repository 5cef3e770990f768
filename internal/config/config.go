package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings. Values come from the environment (or a
// .env file loaded before startup) with sensible defaults for local play.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Game     GameConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	// URL is a postgres connection string. Empty selects the in-memory store.
	URL string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type GameConfig struct {
	// SettleDelay is how long a completed trick or thola stays visible on the
	// table before it resolves.
	SettleDelay time.Duration
	// RateLimit is the max websocket messages per connection per second.
	RateLimit int
}

func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", 8080)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SETTLE_DELAY", "2s")
	v.SetDefault("RATE_LIMIT", 20)

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetInt("PORT"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("DATABASE_URL"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Game: GameConfig{
			SettleDelay: v.GetDuration("SETTLE_DELAY"),
			RateLimit:   v.GetInt("RATE_LIMIT"),
		},
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %d", cfg.Server.Port)
	}
	if cfg.Game.SettleDelay < 0 {
		return nil, fmt.Errorf("invalid SETTLE_DELAY: %s", cfg.Game.SettleDelay)
	}
	return cfg, nil
}
