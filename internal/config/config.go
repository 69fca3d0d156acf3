package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Engine holds the periodic task cadences and finalization bounds.
type Engine struct {
	ClockSyncIntervalSec       int `yaml:"clock_sync_interval_sec"`
	AuctionPollIntervalSec     int `yaml:"auction_poll_interval_sec"`
	ReservationPollIntervalSec int `yaml:"reservation_poll_interval_sec"`
	ExpiryCheckIntervalMs      int `yaml:"expiry_check_interval_ms"`
	FinalizeCooldownSec        int `yaml:"finalize_cooldown_sec"`
	FinalizeTimeoutSec         int `yaml:"finalize_timeout_sec"`
}

// Feed selects and tunes the change-notification transport.
type Feed struct {
	Driver        string `yaml:"driver"` // "postgres" or "nats"
	NotifyChannel string `yaml:"notify_channel"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Gateway configures the websocket push endpoint.
type Gateway struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	Engine  Engine  `yaml:"engine"`
	Feed    Feed    `yaml:"feed"`
	Gateway Gateway `yaml:"gateway"`
}

func Default() Config {
	return Config{
		Engine: Engine{
			ClockSyncIntervalSec:       60,
			AuctionPollIntervalSec:     10,
			ReservationPollIntervalSec: 15,
			ExpiryCheckIntervalMs:      1000,
			FinalizeCooldownSec:        5,
			FinalizeTimeoutSec:         30,
		},
		Feed: Feed{
			Driver:        "postgres",
			NotifyChannel: "row_changes",
			SubjectPrefix: "changes",
		},
		Gateway: Gateway{
			Addr: ":8090",
		},
	}
}

// Load reads the YAML config at path over the defaults. A missing file
// is not an error; everything has a default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Database holds Postgres connection settings, read from DB_* env vars.
type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DatabaseFromEnv reads DB_* environment variables (with defaults).
func DatabaseFromEnv() Database {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}

	return Database{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "transfermarket"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// DSN returns the Postgres connection URL.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// NATSURL reads the NATS endpoint from the environment.
func NATSURL() string {
	return getEnv("NATS_URL", "nats://localhost:4222")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
