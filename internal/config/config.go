// Package config parses the flag+env configuration for the three
// iporg-history binaries: a flag.NewFlagSet per command plus an
// os.Getenv-with-default fallback for settings that make sense as
// environment overrides (store DSNs, listen address).
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreConfig is shared by every binary: where the durable storage store
// lives and how to reach the ephemeral cache store.
type StoreConfig struct {
	StoragePath   string
	CacheAddr     string
	CachePassword string
	CacheDB       int
}

func (c *StoreConfig) register(fs *flag.FlagSet) {
	fs.StringVar(&c.StoragePath, "storage-path", getenv("IPASN_STORAGE_PATH", "./iporg-history-storage"),
		"Path to the LevelDB durable storage store")
	fs.StringVar(&c.CacheAddr, "cache-addr", getenv("IPASN_CACHE_ADDR", "localhost:6379"),
		"Address of the Redis-compatible cache store")
	fs.StringVar(&c.CachePassword, "cache-password", os.Getenv("IPASN_CACHE_PASSWORD"),
		"Password for the cache store, if any")
	fs.IntVar(&c.CacheDB, "cache-db", getenvInt("IPASN_CACHE_DB", 0), "Cache store database index")
}

// ManagerConfig configures the ipasn-lookup-manager binary.
type ManagerConfig struct {
	StoreConfig
	Sources            []string
	DaysInMemory       int
	FloatingWindowDays int
	TickInterval       time.Duration
	WorkerBinaryPath   string
}

// LoadManagerConfig parses os.Args[1:] (or the provided args, for tests)
// into a ManagerConfig.
func LoadManagerConfig(args []string) (ManagerConfig, error) {
	var cfg ManagerConfig
	fs := flag.NewFlagSet("ipasn-lookup-manager", flag.ContinueOnError)
	cfg.register(fs)

	var sources string
	fs.StringVar(&sources, "sources", getenv("IPASN_SOURCES", "caida"), "Comma-separated list of configured sources")
	fs.IntVar(&cfg.DaysInMemory, "days-in-memory", getenvInt("IPASN_DAYS_IN_MEMORY", 90),
		"Length of the sliding window, in days")
	fs.IntVar(&cfg.FloatingWindowDays, "floating-window-days", getenvInt("IPASN_FLOATING_WINDOW_DAYS", 14),
		"Per-worker window span, in days")
	var tickSeconds int
	fs.IntVar(&tickSeconds, "tick-interval-seconds", getenvInt("IPASN_TICK_INTERVAL_SECONDS", 3600),
		"Seconds between manager steady-state ticks")
	fs.StringVar(&cfg.WorkerBinaryPath, "worker-binary", getenv("IPASN_WORKER_BINARY", "ipasn-lookup-worker"),
		"Path to the ipasn-lookup-worker executable spawned per window")

	if err := fs.Parse(args); err != nil {
		return ManagerConfig{}, err
	}

	cfg.Sources = splitNonEmpty(sources, ",")
	if len(cfg.Sources) == 0 {
		return ManagerConfig{}, fmt.Errorf("config: --sources must list at least one source")
	}
	cfg.TickInterval = time.Duration(tickSeconds) * time.Second
	return cfg, nil
}

// WorkerConfig configures the ipasn-lookup-worker binary.
type WorkerConfig struct {
	StoreConfig
	Source string
	First  string // ISO date
	Last   string // ISO date
}

// LoadWorkerConfig parses a worker's --source/--first/--last flags.
func LoadWorkerConfig(args []string) (WorkerConfig, error) {
	var cfg WorkerConfig
	fs := flag.NewFlagSet("ipasn-lookup-worker", flag.ContinueOnError)
	cfg.register(fs)
	fs.StringVar(&cfg.Source, "source", "", "Source name this worker serves (required)")
	fs.StringVar(&cfg.First, "first", "", "First ISO date of this worker's window (required)")
	fs.StringVar(&cfg.Last, "last", "", "Last ISO date of this worker's window (required)")

	if err := fs.Parse(args); err != nil {
		return WorkerConfig{}, err
	}
	if cfg.Source == "" || cfg.First == "" || cfg.Last == "" {
		return WorkerConfig{}, fmt.Errorf("config: --source, --first and --last are all required")
	}
	return cfg, nil
}

// FrontendConfig configures the ipasn-frontend HTTP binary.
type FrontendConfig struct {
	StoreConfig
	Sources    []string
	ListenAddr string
	ASNDBPath  string // optional MaxMind ASN database for asn_meta enrichment
}

// LoadFrontendConfig parses the HTTP frontend's flags.
func LoadFrontendConfig(args []string) (FrontendConfig, error) {
	var cfg FrontendConfig
	fs := flag.NewFlagSet("ipasn-frontend", flag.ContinueOnError)
	cfg.register(fs)

	var sources string
	fs.StringVar(&sources, "sources", getenv("IPASN_SOURCES", "caida"), "Comma-separated list of configured sources")
	fs.StringVar(&cfg.ListenAddr, "listen", getenv("IPASN_LISTEN_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.ASNDBPath, "asn-db", os.Getenv("IPASN_ASN_DB_PATH"),
		"Optional path to a MaxMind ASN database for asn_meta organization enrichment")

	if err := fs.Parse(args); err != nil {
		return FrontendConfig{}, err
	}
	cfg.Sources = splitNonEmpty(sources, ",")
	if len(cfg.Sources) == 0 {
		return FrontendConfig{}, fmt.Errorf("config: --sources must list at least one source")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
