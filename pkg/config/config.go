// Package config loads runtime configuration from environment variables and
// phase-governance profiles from YAML.
package config

import (
	"os"
	"time"
)

// Config holds daemon configuration.
type Config struct {
	LogLevel       string
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseURL    string
	RedisURL       string // empty disables the Redis event sink
	EventChannel   string
	ProfilePath    string // empty uses the built-in default profile
	SweepInterval  time.Duration
	OTLPEndpoint   string
	OTLPInsecure   bool
}

// Load reads configuration from environment variables, filling defaults.
func Load() *Config {
	cfg := &Config{
		LogLevel:       getenv("LOG_LEVEL", "INFO"),
		DatabaseDriver: getenv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    getenv("DATABASE_URL", "plenum.db"),
		RedisURL:       os.Getenv("REDIS_URL"),
		EventChannel:   getenv("EVENT_CHANNEL", "plenum.transitions"),
		ProfilePath:    os.Getenv("PHASE_PROFILE"),
		SweepInterval:  5 * time.Minute,
		OTLPEndpoint:   getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   os.Getenv("OTLP_INSECURE") == "true",
	}

	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.SweepInterval = d
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
