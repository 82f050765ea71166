package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord        DiscordConfig        `yaml:"discord"`
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Auction        AuctionConfig        `yaml:"auction"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`
	// AdminIDs are Discord user IDs allowed to credit escrow deposits.
	AdminIDs []string `yaml:"admin_ids"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "sqlx" or "sql"
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

// AuctionConfig holds sealed-bid auction phase defaults.
type AuctionConfig struct {
	// DefaultCommitDuration is the commit-phase length used when
	// /auction-start omits one.
	DefaultCommitDuration time.Duration `yaml:"default_commit_duration"`
	// DefaultRevealDuration is the reveal-phase length used when
	// /auction-start omits one.
	DefaultRevealDuration time.Duration `yaml:"default_reveal_duration"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "sqlx",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "sealedbid",
			ServiceVersion: "0.1.0",
		},
		Auction: AuctionConfig{
			DefaultCommitDuration: 10 * time.Minute,
			DefaultRevealDuration: 10 * time.Minute,
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "sealedbid-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlx", "sql":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"sqlx\" or \"sql\"", c.Database.Driver)
	}
	if c.Auction.DefaultCommitDuration <= 0 {
		return fmt.Errorf("default_commit_duration must be positive, got %s", c.Auction.DefaultCommitDuration)
	}
	if c.Auction.DefaultRevealDuration <= 0 {
		return fmt.Errorf("default_reveal_duration must be positive, got %s", c.Auction.DefaultRevealDuration)
	}
	return nil
}
