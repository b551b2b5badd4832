package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("port = %q, want 8000", cfg.Port)
	}
	if !cfg.IsDev() {
		t.Error("default env should be development")
	}
	if cfg.ClinicTimezone != "America/Chicago" {
		t.Errorf("timezone = %q", cfg.ClinicTimezone)
	}
	if cfg.SyncFanOutLimit != 10 {
		t.Errorf("fan-out limit = %d, want 10", cfg.SyncFanOutLimit)
	}
	if cfg.SessionTTL() != 12*time.Hour {
		t.Errorf("session ttl = %v, want 12h", cfg.SessionTTL())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CLINIC_TIMEZONE", "America/New_York")
	t.Setenv("SYNC_FANOUT_LIMIT", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("port = %q, want 9090", cfg.Port)
	}
	if cfg.SyncFanOutLimit != 3 {
		t.Errorf("fan-out limit = %d, want 3", cfg.SyncFanOutLimit)
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if loc.String() != "America/New_York" {
		t.Errorf("location = %v", loc)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			Env:                    "development",
			ClinicTimezone:         "America/Chicago",
			SyncFanOutLimit:        10,
			SyncTimeoutSeconds:     60,
			SessionTTLMinutes:      720,
			ExportPBKDF2Iterations: 100000,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad timezone", func(c *Config) { c.ClinicTimezone = "Mars/Olympus" }, "CLINIC_TIMEZONE"},
		{"zero fanout", func(c *Config) { c.SyncFanOutLimit = 0 }, "SYNC_FANOUT_LIMIT"},
		{"negative timeout", func(c *Config) { c.SyncTimeoutSeconds = -1 }, "SYNC_TIMEOUT_SECONDS"},
		{"zero ttl", func(c *Config) { c.SessionTTLMinutes = 0 }, "SESSION_TTL_MINUTES"},
		{"weak kdf", func(c *Config) { c.ExportPBKDF2Iterations = 10 }, "EXPORT_PBKDF2_ITERATIONS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}

func TestValidateProductionRequiresVendorCredentials(t *testing.T) {
	cfg := &Config{
		Env:                    "production",
		ClinicTimezone:         "America/Chicago",
		SyncFanOutLimit:        10,
		SyncTimeoutSeconds:     60,
		SessionTTLMinutes:      720,
		ExportPBKDF2Iterations: 100000,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("production without TEBRA_BASE_URL should fail")
	}
	cfg.TebraBaseURL = "https://api.tebra.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("production without TEBRA_API_KEY should fail")
	}
	cfg.TebraAPIKey = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("complete production config should validate: %v", err)
	}
}
