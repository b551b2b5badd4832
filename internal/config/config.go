package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"ENV"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	ClinicTimezone string `mapstructure:"CLINIC_TIMEZONE"`

	SyncFanOutLimit    int `mapstructure:"SYNC_FANOUT_LIMIT"`
	SyncTimeoutSeconds int `mapstructure:"SYNC_TIMEOUT_SECONDS"`
	SessionTTLMinutes  int `mapstructure:"SESSION_TTL_MINUTES"`

	TebraBaseURL string `mapstructure:"TEBRA_BASE_URL"`
	TebraAPIKey  string `mapstructure:"TEBRA_API_KEY"`

	ExportPBKDF2Iterations int `mapstructure:"EXPORT_PBKDF2_ITERATIONS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CLINIC_TIMEZONE", "America/Chicago")
	v.SetDefault("SYNC_FANOUT_LIMIT", 10)
	v.SetDefault("SYNC_TIMEOUT_SECONDS", 60)
	v.SetDefault("SESSION_TTL_MINUTES", 720)
	v.SetDefault("EXPORT_PBKDF2_ITERATIONS", 100000)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("CLINIC_TIMEZONE")
	v.BindEnv("SYNC_FANOUT_LIMIT")
	v.BindEnv("SYNC_TIMEOUT_SECONDS")
	v.BindEnv("SESSION_TTL_MINUTES")
	v.BindEnv("TEBRA_BASE_URL")
	v.BindEnv("TEBRA_API_KEY")
	v.BindEnv("EXPORT_PBKDF2_ITERATIONS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves the configured clinic timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q is not a valid IANA zone: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// SyncTimeout returns the per-run sync deadline.
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutSeconds) * time.Second
}

// SessionTTL returns how long stored sessions live before expiring.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// Validate checks that the configuration is safe to run. Vendor credentials
// are required in production since the sync pipeline cannot operate without
// them; development runs may point at a local stub.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.SyncFanOutLimit <= 0 {
		return fmt.Errorf("SYNC_FANOUT_LIMIT must be positive, got %d", c.SyncFanOutLimit)
	}
	if c.SyncTimeoutSeconds <= 0 {
		return fmt.Errorf("SYNC_TIMEOUT_SECONDS must be positive, got %d", c.SyncTimeoutSeconds)
	}
	if c.SessionTTLMinutes <= 0 {
		return fmt.Errorf("SESSION_TTL_MINUTES must be positive, got %d", c.SessionTTLMinutes)
	}
	if c.ExportPBKDF2Iterations < 1000 {
		return fmt.Errorf("EXPORT_PBKDF2_ITERATIONS must be at least 1000, got %d", c.ExportPBKDF2Iterations)
	}
	if c.IsProduction() {
		if c.TebraBaseURL == "" {
			return fmt.Errorf("TEBRA_BASE_URL is required in production")
		}
		if c.TebraAPIKey == "" {
			return fmt.Errorf("TEBRA_API_KEY is required in production")
		}
	}
	return nil
}
