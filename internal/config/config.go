package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anticca/auctiond/internal/leader"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig  `yaml:"database"`
	Server         ServerConfig    `yaml:"server"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
	Auction        AuctionConfig   `yaml:"auction"`
	Redis          RedisConfig     `yaml:"redis"`
	LeaderElection leader.Config   `yaml:"leader_election"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// AuctionConfig holds the settlement policy knobs.
type AuctionConfig struct {
	// AntiSnipeWindow is the close-time window inside which a bid
	// pushes the end time a full window forward.
	AntiSnipeWindow time.Duration `yaml:"anti_snipe_window"`
	// MaxRetries bounds how many times a settlement is retried after a
	// write conflict before Conflict is reported to the caller.
	MaxRetries int `yaml:"max_retries"`
	// RetryBackoff is the base delay between settlement retries.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// FeedLimit caps the live bid feed leaderboard.
	FeedLimit int `yaml:"feed_limit"`
}

// RedisConfig holds the optional cross-replica commit relay settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctiond",
			ServiceVersion: "0.1.0",
		},
		Auction: AuctionConfig{
			AntiSnipeWindow: 2 * time.Minute,
			MaxRetries:      3,
			RetryBackoff:    25 * time.Millisecond,
			FeedLimit:       20,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "auctiond.commits",
		},
		LeaderElection: leader.Defaults(),
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	if c.Auction.AntiSnipeWindow < 0 {
		return fmt.Errorf("anti_snipe_window must not be negative")
	}
	if c.Auction.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.Auction.FeedLimit <= 0 {
		return fmt.Errorf("feed_limit must be positive")
	}
	return nil
}
