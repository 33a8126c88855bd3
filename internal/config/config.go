package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultAddr is the bind address fixed by the UI contract. Overriding it
// requires the SNIPER_ALLOW_ADDR_OVERRIDE escape hatch, used only by tests.
const defaultAddr = "0.0.0.0:3000"

// Config represents the application configuration.
type Config struct {
	Persistence    PersistenceConfig    `yaml:"persistence"`
	Server         ServerConfig         `yaml:"server"`
	AuctionHouse   AuctionHouseConfig   `yaml:"auction_house"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// PersistenceConfig selects and configures the persistence backend.
type PersistenceConfig struct {
	Driver   string         `yaml:"driver"` // "memory" or "postgres"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds database connection settings for the durable backend.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode,
	)
}

// ServerConfig holds HTTP UI server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuctionHouseConfig holds settings for the outbound auction-house client.
type AuctionHouseConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
//
// This guards against two processes driving the service-control workers
// against the same Postgres-backed log at once; it is a fencing mechanism,
// not log replication.
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
		Persistence: PersistenceConfig{
			Driver: "memory",
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
		},
		Server: ServerConfig{
			Addr:            defaultAddr,
			ShutdownTimeout: 15 * time.Second,
		},
		AuctionHouse: AuctionHouseConfig{
			PollInterval: time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "sniper",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "sniper-leader",
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
	switch c.Persistence.Driver {
	case "memory", "postgres":
		// valid
	default:
		return fmt.Errorf("unsupported persistence driver %q: must be \"memory\" or \"postgres\"", c.Persistence.Driver)
	}
	if c.Server.Addr != defaultAddr && os.Getenv("SNIPER_ALLOW_ADDR_OVERRIDE") == "" {
		return fmt.Errorf("server.addr must be %q unless SNIPER_ALLOW_ADDR_OVERRIDE is set", defaultAddr)
	}
	return nil
}
