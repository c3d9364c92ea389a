// Package config centralizes the worker's environment-variable driven
// configuration. Like the teacher's own main.go, values are read with
// os.Getenv and sane defaults rather than through a settings framework;
// unlike the teacher, validation fails fast and reports every problem at
// once instead of on first use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ResourceCadence holds the per-resource replication-loop sleep interval.
type ResourceCadence struct {
	Listing   time.Duration
	Member    time.Duration
	Office    time.Duration
	OpenHouse time.Duration
	Lookup    time.Duration
}

// Config is the full set of settings the worker needs at startup.
type Config struct {
	FeedBaseURL       string
	FeedToken         string
	OriginatingSystem string

	DatabaseURL      string
	DatabasePoolSize int

	ObjectStoreEndpoint  string
	ObjectStoreRegion    string
	ObjectStoreBucket    string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	PublicDomain         string

	MediaConcurrency               int
	MediaDownloadConcurrencyInline int
	MediaDownloaderStagger         time.Duration
	MediaBandwidthSoftCapGiB       float64
	MediaBandwidthHardCapGiB       float64

	Cadence ResourceCadence

	ShutdownGracePeriod time.Duration
	RunLogRetention     time.Duration

	AlertWebhookURL string

	HealthServerAddr string

	LogLevel string
}

// Load reads and validates configuration from the environment. All
// validation errors are collected and returned together so an operator
// can fix the whole environment in one pass.
func Load() (*Config, error) {
	var problems []string
	req := func(name string) string {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			problems = append(problems, fmt.Sprintf("%s is required", name))
		}
		return v
	}

	cfg := &Config{
		FeedBaseURL:       req("FEED_BASE_URL"),
		FeedToken:         req("FEED_TOKEN"),
		OriginatingSystem: req("ORIGINATING_SYSTEM"),
		DatabaseURL:       req("DATABASE_URL"),

		ObjectStoreEndpoint:  os.Getenv("OBJECT_STORE_ENDPOINT"),
		ObjectStoreRegion:    envOr("OBJECT_STORE_REGION", "us-east-1"),
		ObjectStoreBucket:    req("OBJECT_STORE_BUCKET"),
		ObjectStoreAccessKey: req("OBJECT_STORE_ACCESS_KEY"),
		ObjectStoreSecretKey: req("OBJECT_STORE_SECRET_KEY"),
		PublicDomain:         req("PUBLIC_DOMAIN"),

		AlertWebhookURL:  os.Getenv("ALERT_WEBHOOK_URL"),
		HealthServerAddr: envOr("HEALTH_SERVER_ADDR", ":8080"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
	}

	cfg.DatabasePoolSize = envOrInt("DATABASE_POOL_SIZE", 10, &problems)
	cfg.MediaConcurrency = envOrInt("MEDIA_CONCURRENCY", 15, &problems)
	cfg.MediaDownloadConcurrencyInline = envOrInt("MEDIA_CONCURRENCY_INLINE", 4, &problems)
	cfg.MediaDownloaderStagger = envOrDuration("MEDIA_DOWNLOADER_STAGGER_MS", 200*time.Millisecond, time.Millisecond, &problems)
	cfg.MediaBandwidthSoftCapGiB = envOrFloat("MEDIA_BANDWIDTH_SOFT_CAP_GIB", 3.5, &problems)
	cfg.MediaBandwidthHardCapGiB = envOrFloat("MEDIA_BANDWIDTH_HARD_CAP_GIB", 4.0, &problems)

	cfg.Cadence = ResourceCadence{
		Listing:   envOrDuration("CADENCE_LISTING_SECONDS", 60*time.Second, time.Second, &problems),
		Member:    envOrDuration("CADENCE_MEMBER_SECONDS", 300*time.Second, time.Second, &problems),
		Office:    envOrDuration("CADENCE_OFFICE_SECONDS", 300*time.Second, time.Second, &problems),
		OpenHouse: envOrDuration("CADENCE_OPENHOUSE_SECONDS", 300*time.Second, time.Second, &problems),
		Lookup:    envOrDuration("CADENCE_LOOKUP_SECONDS", 86400*time.Second, time.Second, &problems),
	}

	cfg.ShutdownGracePeriod = envOrDuration("SHUTDOWN_GRACE_PERIOD_SECONDS", 60*time.Second, time.Second, &problems)
	cfg.RunLogRetention = envOrDuration("RUN_LOG_RETENTION_HOURS", 24*time.Hour, time.Hour, &problems)

	if cfg.MediaBandwidthSoftCapGiB > cfg.MediaBandwidthHardCapGiB {
		problems = append(problems, "MEDIA_BANDWIDTH_SOFT_CAP_GIB must not exceed MEDIA_BANDWIDTH_HARD_CAP_GIB")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return cfg, nil
}

func envOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func envOrInt(name string, def int, problems *[]string) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s must be an integer, got %q", name, v))
		return def
	}
	return n
}

func envOrFloat(name string, def float64, problems *[]string) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s must be a number, got %q", name, v))
		return def
	}
	return n
}

func envOrDuration(name string, def time.Duration, unit time.Duration, problems *[]string) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s must be an integer, got %q", name, v))
		return def
	}
	return time.Duration(n) * unit
}
