package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string

	KafkaBrokers []string
	KafkaTopic   string

	ArchiveBucket string
	ArchivePrefix string

	CustodyURL string

	JWTSecret     string
	DevAllowLocal bool

	PlatformFeePercent      int64
	AutoResolveThreshold    int
	MinSubmissionsToResolve int
	FeeCollector            string
	SweepInterval           time.Duration

	// DevMode runs on the in-memory store and bank; no Postgres or
	// custody service required.
	DevMode bool
}

const (
	defaultAddr          = ":8070"
	defaultKafkaTopic    = "nexus.bounty.events"
	defaultFeeCollector  = "platform:fees"
	defaultSweepInterval = time.Minute
)

func Load() (Config, error) {
	cfg := Config{
		Addr:                    getEnv("NEXUS_ADDR", defaultAddr),
		DatabaseURL:             firstNonEmpty(os.Getenv("NEXUS_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaTopic:              getEnv("NEXUS_KAFKA_TOPIC", defaultKafkaTopic),
		ArchiveBucket:           os.Getenv("NEXUS_ARCHIVE_BUCKET"),
		ArchivePrefix:           os.Getenv("NEXUS_ARCHIVE_PREFIX"),
		CustodyURL:              os.Getenv("NEXUS_CUSTODY_URL"),
		JWTSecret:               os.Getenv("NEXUS_JWT_SECRET"),
		DevAllowLocal:           getBool("NEXUS_DEV_ALLOW_LOCAL", false),
		PlatformFeePercent:      int64(getInt("NEXUS_FEE_PERCENT", 5)),
		AutoResolveThreshold:    getInt("NEXUS_AUTO_RESOLVE_THRESHOLD", 10),
		MinSubmissionsToResolve: getInt("NEXUS_MIN_SUBMISSIONS_TO_RESOLVE", 3),
		FeeCollector:            getEnv("NEXUS_FEE_COLLECTOR", defaultFeeCollector),
		SweepInterval:           getDuration("NEXUS_SWEEP_INTERVAL", defaultSweepInterval),
		DevMode:                 getBool("NEXUS_DEV_MODE", false),
	}
	if brokers := os.Getenv("NEXUS_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	if !cfg.DevMode {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL or NEXUS_DATABASE_URL required")
		}
		if cfg.CustodyURL == "" {
			return Config{}, fmt.Errorf("NEXUS_CUSTODY_URL required outside dev mode")
		}
	}
	if cfg.PlatformFeePercent < 0 || cfg.PlatformFeePercent > 100 {
		return Config{}, fmt.Errorf("NEXUS_FEE_PERCENT must be within [0,100]")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
