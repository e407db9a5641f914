// Package config reads service configuration from the environment. Missing
// required settings refuse to start the service.
package config

import (
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Defaults shared across services.
const (
	DefaultPollInterval  = time.Minute
	DefaultPacing        = 3 * time.Minute
	DefaultConcurrency   = 5
	DefaultThreshold     = 65
	DefaultScorerRate    = 5.0
	DefaultWriterRate    = 3.0
	DefaultModelBaseURL  = "https://api.together.xyz/v1"
	DefaultScoringModel  = "Qwen/Qwen2.5-7B-Instruct-Turbo"
	DefaultWritingModel  = "meta-llama/Llama-3.3-70B-Instruct-Turbo"
	DefaultBindAddress   = ":8080"
	DefaultMaxPostAgeHrs = 0 // 0 means "published on the current UTC date"
	DefaultDatabaseType  = "postgres"
)

// MustString returns the env value or refuses to start.
func MustString(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("Required configuration %s is not set", key)
	}
	return v
}

// String returns the env value or the default when unset.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns the env value parsed as int, or the default. A value that does
// not parse refuses to start rather than silently running misconfigured.
func Int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithError(err).Fatalf("Configuration %s must be an integer", key)
	}
	return n
}

// Float returns the env value parsed as float64, or the default.
func Float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.WithError(err).Fatalf("Configuration %s must be a number", key)
	}
	return f
}

// Minutes returns the env value interpreted as a whole number of minutes.
// Zero and negative intervals refuse to start: they would disable a ticker.
func Minutes(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.WithError(err).Fatalf("Configuration %s must be a positive number of minutes", key)
	}
	return time.Duration(n) * time.Minute
}
