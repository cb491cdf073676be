package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Booking    BookingConfig    `yaml:"booking"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Redis      RedisConfig      `yaml:"redis"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port" validate:"min=1,max=65535"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" validate:"gt=0"`
	RateLimitBurst  int     `yaml:"rate_limit_burst" validate:"gt=0"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds" validate:"gte=0"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver" validate:"oneof=postgres sqlite"`
	DSN                    string `yaml:"dsn" validate:"required"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	EnableConstraints      bool   `yaml:"enable_constraints"`
}

// BookingConfig tunes the booking lifecycle.
type BookingConfig struct {
	Timezone               string `yaml:"timezone"`
	OTPTTLSeconds          int    `yaml:"otp_ttl_seconds" validate:"gt=0"`
	CheckInLeadMinutes     int    `yaml:"check_in_lead_minutes" validate:"gte=0"`
	MinCancelHours         int    `yaml:"min_cancel_hours" validate:"gte=0"`
	DefaultSessionMinutes  int    `yaml:"default_session_minutes" validate:"gt=0"`
	ReminderMinutes        int    `yaml:"reminder_minutes" validate:"gte=0"`
	LegacyCheckInCompletes bool   `yaml:"legacy_check_in_completes"`
	RequireProviderAccept  bool   `yaml:"require_provider_accept"`

	Location *time.Location `yaml:"-" validate:"-"`
}

// OTPTTL returns the OTP lifetime as a duration.
func (b BookingConfig) OTPTTL() time.Duration {
	return time.Duration(b.OTPTTLSeconds) * time.Second
}

// CheckInLead is how long before the booked start a check-in is accepted.
func (b BookingConfig) CheckInLead() time.Duration {
	return time.Duration(b.CheckInLeadMinutes) * time.Minute
}

// DefaultSession is the session length used when a booking window is degenerate.
func (b BookingConfig) DefaultSession() time.Duration {
	return time.Duration(b.DefaultSessionMinutes) * time.Minute
}

// Reminder is the lead time of the session-end reminder; zero disables it.
func (b BookingConfig) Reminder() time.Duration {
	return time.Duration(b.ReminderMinutes) * time.Minute
}

// SweeperConfig controls the overdue reconciliation sweep.
type SweeperConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-" validate:"-"` // Ignored by YAML parser
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// RedisConfig configures the event broadcast channel.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Load reads the configuration from the given path. Values from a local
// .env file and the process environment override the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load .env file: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// finalize applies defaults and validates the result.
func (cfg *Config) finalize() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds == 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Booking.Timezone == "" {
		cfg.Booking.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(cfg.Booking.Timezone)
	if err != nil {
		return fmt.Errorf("invalid booking.timezone %q: %w", cfg.Booking.Timezone, err)
	}
	cfg.Booking.Location = loc
	if cfg.Booking.OTPTTLSeconds <= 0 {
		cfg.Booking.OTPTTLSeconds = 600
	}
	if cfg.Booking.CheckInLeadMinutes == 0 {
		cfg.Booking.CheckInLeadMinutes = 15
	}
	if cfg.Booking.MinCancelHours == 0 {
		cfg.Booking.MinCancelHours = 1
	}
	if cfg.Booking.DefaultSessionMinutes <= 0 {
		cfg.Booking.DefaultSessionMinutes = 60
	}

	if cfg.Sweeper.IntervalSeconds <= 0 {
		cfg.Sweeper.IntervalSeconds = 60
	}
	cfg.Sweeper.Interval = time.Duration(cfg.Sweeper.IntervalSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "parking-events"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Default returns a configuration with every default applied. It is used by
// tests and by tools that do not read a file.
func Default() *Config {
	cfg := &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared"},
	}
	if err := cfg.finalize(); err != nil {
		panic(err)
	}
	return cfg
}
