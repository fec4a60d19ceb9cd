// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/RhythrosaLabs/loom/internal/bus"
)

type Config struct {
	NATSURL       string
	RunSubject    string
	RunQueue      string
	ResultSubject string

	WorkDir         string
	StorageBackend  string // file or content
	StorageDir      string
	ContentParentID string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RunTTL        time.Duration

	Backend               string // ark or synthetic
	ArkAPIKey             string
	ArkBaseURL            string
	ArkVideoModel         string
	ArkImageModel         string
	SyntheticPendingPolls int

	PollInterval    time.Duration
	PollMaxAttempts int
	PollBackoff     float64
	PollMaxInterval time.Duration

	Segments          int
	CrossfadeSeconds  float64
	RunTimeout        time.Duration
	FinalizeTimeout   time.Duration
	MaxConcurrentRuns int

	HTTPAddr         string
	ScheduleFile     string
	ScheduleInterval time.Duration
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := Config{
		NATSURL:         getenv("NATS_URL", "nats://127.0.0.1:4222"),
		RunSubject:      getenv("RUN_SUBJECT", bus.DefaultRunSubject),
		RunQueue:        getenv("RUN_QUEUE", bus.DefaultRunQueue),
		ResultSubject:   getenv("RESULT_SUBJECT", bus.DefaultResultSubject),
		WorkDir:         getenv("WORK_DIR", "./data/work"),
		StorageBackend:  strings.ToLower(getenv("STORAGE_BACKEND", "file")),
		StorageDir:      getenv("STORAGE_DIR", "./data/artifacts"),
		ContentParentID: getenv("CONTENT_PARENT_ID", ""),
		RedisAddr:       getenv("REDIS_ADDR", ""),
		RedisPassword:   getenv("REDIS_PASSWORD", ""),
		Backend:         strings.ToLower(getenv("BACKEND", "synthetic")),
		ArkAPIKey:       getenv("ARK_API_KEY", ""),
		ArkBaseURL:      getenv("ARK_BASE_URL", ""),
		ArkVideoModel:   getenv("ARK_VIDEO_MODEL", ""),
		ArkImageModel:   getenv("ARK_IMAGE_MODEL", ""),
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		ScheduleFile:    getenv("SCHEDULE_FILE", "./schedule.json"),
	}

	var err error
	if cfg.RedisDB, err = parseNonNegativeInt(getenv("REDIS_DB", "0"), "REDIS_DB"); err != nil {
		return Config{}, err
	}
	if cfg.RunTTL, err = parsePositiveDuration(getenv("RUN_TTL", "24h"), "RUN_TTL"); err != nil {
		return Config{}, err
	}
	if cfg.SyntheticPendingPolls, err = parseNonNegativeInt(getenv("SYNTHETIC_PENDING_POLLS", "2"), "SYNTHETIC_PENDING_POLLS"); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = parsePositiveDuration(getenv("POLL_INTERVAL", "5s"), "POLL_INTERVAL"); err != nil {
		return Config{}, err
	}
	if cfg.PollMaxAttempts, err = parsePositiveInt(getenv("POLL_MAX_ATTEMPTS", "120"), "POLL_MAX_ATTEMPTS"); err != nil {
		return Config{}, err
	}
	if cfg.PollBackoff, err = parseFloatAtLeast(getenv("POLL_BACKOFF", "1"), "POLL_BACKOFF", 1); err != nil {
		return Config{}, err
	}
	if cfg.PollMaxInterval, err = parsePositiveDuration(getenv("POLL_MAX_INTERVAL", "1m"), "POLL_MAX_INTERVAL"); err != nil {
		return Config{}, err
	}
	if cfg.Segments, err = parsePositiveInt(getenv("SEGMENTS", "3"), "SEGMENTS"); err != nil {
		return Config{}, err
	}
	if cfg.CrossfadeSeconds, err = parseFloatAtLeast(getenv("CROSSFADE_SECONDS", "0"), "CROSSFADE_SECONDS", 0); err != nil {
		return Config{}, err
	}
	if cfg.RunTimeout, err = parsePositiveDuration(getenv("RUN_TIMEOUT", "2h"), "RUN_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.FinalizeTimeout, err = parsePositiveDuration(getenv("FINALIZE_TIMEOUT", "2m"), "FINALIZE_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.MaxConcurrentRuns, err = parsePositiveInt(getenv("MAX_CONCURRENT_RUNS", "2"), "MAX_CONCURRENT_RUNS"); err != nil {
		return Config{}, err
	}
	if cfg.ScheduleInterval, err = parsePositiveDuration(getenv("SCHEDULE_INTERVAL", "30s"), "SCHEDULE_INTERVAL"); err != nil {
		return Config{}, err
	}

	switch cfg.StorageBackend {
	case "file", "content":
	default:
		return Config{}, fmt.Errorf("STORAGE_BACKEND must be file or content (got %q)", cfg.StorageBackend)
	}
	switch cfg.Backend {
	case "synthetic":
	case "ark":
		if cfg.ArkAPIKey == "" {
			return Config{}, fmt.Errorf("ARK_API_KEY is required when BACKEND=ark")
		}
	default:
		return Config{}, fmt.Errorf("BACKEND must be ark or synthetic (got %q)", cfg.Backend)
	}
	return cfg, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvBool(key string, defaultValue bool) bool {
	val := getenv(key, "")
	if val == "" {
		return defaultValue
	}
	return val == "true"
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parseNonNegativeInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative (got %d)", name, v)
	}
	return v, nil
}

func parsePositiveDuration(value string, name string) (time.Duration, error) {
	v, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %s)", name, v)
	}
	return v, nil
}

func parseFloatAtLeast(value string, name string, min float64) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v < min {
		return 0, fmt.Errorf("%s must be at least %g (got %g)", name, min, v)
	}
	return v, nil
}
