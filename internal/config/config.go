// Package config loads service configuration from flags, falling back to
// environment variables, following the defaults in the archive ingestion
// service's operational contract.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the ingestion pipeline and HTTP API need.
type Config struct {
	Port            int
	Bind            string
	MetaURL         string
	StartLedger     uint32 // 0 means "auto" (resume from store, else discover tip)
	ParallelFetches int
	CacheTTL        time.Duration
}

const (
	defaultPort            = 3000
	defaultBind            = "0.0.0.0"
	defaultMetaURL         = "https://history.stellar.org/prd/core-live/core_live_001"
	defaultParallelFetches = 10
	defaultCacheTTLDays    = 1
)

// Load parses flags (falling back to the matching environment variable, then
// the documented default) into a Config. Call once, near process startup,
// before any other flag.Parse in the process.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("stellar-events-api", flag.ContinueOnError)

	port := fs.Int("port", getIntEnv("PORT", defaultPort), "HTTP listen port")
	bind := fs.String("bind", getEnvOrDefault("BIND_ADDRESS", defaultBind), "HTTP bind address")
	metaURL := fs.String("meta-url", getEnvOrDefault("META_URL", defaultMetaURL), "base URL of the ledger archive")
	startLedger := fs.Uint("start-ledger", uint(getIntEnv("START_LEDGER", 0)), "ledger to start ingesting from (0 = auto)")
	parallelFetches := fs.Int("parallel-fetches", getIntEnv("PARALLEL_FETCHES", defaultParallelFetches), "max in-flight archive fetches")
	cacheTTLDays := fs.Int("cache-ttl-days", getIntEnv("CACHE_TTL_DAYS", defaultCacheTTLDays), "partition cache TTL, in days")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:            *port,
		Bind:            *bind,
		MetaURL:         *metaURL,
		StartLedger:     uint32(*startLedger),
		ParallelFetches: *parallelFetches,
		CacheTTL:        time.Duration(*cacheTTLDays) * 24 * time.Hour,
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.ParallelFetches <= 0 {
		return nil, fmt.Errorf("parallel-fetches must be positive, got %d", cfg.ParallelFetches)
	}
	if cfg.MetaURL == "" {
		return nil, fmt.Errorf("meta-url must not be empty")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
