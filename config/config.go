/*
Package config loads server configuration.

PURPOSE:
  Reads a YAML file with viper and lets APP_* environment variables
  override any key (APP_STORE_DRIVER overrides store.driver). Every key has
  a default, so the server also starts without a file.

EXAMPLE (config/example.yaml):
  app:
    env: dev
    timezone: Europe/Berlin
  http:
    addr: ":8080"
  store:
    driver: sqlite
  sqlite:
    path: ./data/reservations.db
  scheduler:
    enabled: true
    cron: "0 6 * * *"
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Store struct {
		Driver string
	} `mapstructure:"store"`

	SQLite struct {
		Path string
	} `mapstructure:"sqlite"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Scheduler struct {
		Enabled      bool
		Cron         string
		ExpiryCron   string        `mapstructure:"expiry_cron"`
		Workers      int
		BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	} `mapstructure:"scheduler"`

	Booking struct {
		MaxAttempts int           `mapstructure:"max_attempts"`
		RetryBase   time.Duration `mapstructure:"retry_base"`
	} `mapstructure:"booking"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	// Tiers is a JSON tier table; empty keeps the built-in tiers.
	Tiers string `mapstructure:"tiers"`
}

// Location resolves App.Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.App.Timezone)
}

// Load reads path (if non-empty) and applies environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return c, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, c.validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("sqlite.path", "./data/reservations.db")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "0 6 * * *")
	v.SetDefault("scheduler.expiry_cron", "30 0 * * *")
	v.SetDefault("scheduler.workers", 8)
	v.SetDefault("scheduler.batch_timeout", 10*time.Minute)
	v.SetDefault("booking.max_attempts", 5)
	v.SetDefault("booking.retry_base", 10*time.Millisecond)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tiers", "")
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required when store.driver is postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers)
	}
	if c.Booking.MaxAttempts < 1 {
		return fmt.Errorf("booking.max_attempts must be positive, got %d", c.Booking.MaxAttempts)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	return nil
}
