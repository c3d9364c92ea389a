// Command mta-mls-worker runs the long-lived single-instance replication
// process: it wires together the database, object store, feed client,
// rate limiter, alert bus, scheduler, media downloader, and health
// server, then blocks until SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/Beck89/mta-mls-worker/internal/alert"
	"github.com/Beck89/mta-mls-worker/internal/config"
	"github.com/Beck89/mta-mls-worker/internal/feed"
	"github.com/Beck89/mta-mls-worker/internal/healthserver"
	"github.com/Beck89/mta-mls-worker/internal/ingest"
	"github.com/Beck89/mta-mls-worker/internal/objectstore"
	"github.com/Beck89/mta-mls-worker/internal/ratelimiter"
	"github.com/Beck89/mta-mls-worker/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Printf("starting mta-mls-worker: feed=%s db=%s bucket=%s",
		cfg.FeedBaseURL, redactDatabaseURL(cfg.DatabaseURL), cfg.ObjectStoreBucket)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("repository: %v", err)
	}
	defer repo.Close()

	if schemaPath := os.Getenv("SCHEMA_PATH"); schemaPath != "" {
		log.Printf("applying schema from %s", schemaPath)
		if err := repo.Migrate(ctx, schemaPath); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	store, err := objectstore.New(objectstore.Config{
		Bucket:          cfg.ObjectStoreBucket,
		Region:          cfg.ObjectStoreRegion,
		Endpoint:        cfg.ObjectStoreEndpoint,
		ForcePathStyle:  cfg.ObjectStoreEndpoint != "",
		PublicURLBase:   cfg.PublicDomain,
		AccessKeyID:     cfg.ObjectStoreAccessKey,
		SecretAccessKey: cfg.ObjectStoreSecretKey,
	})
	if err != nil {
		log.Fatalf("objectstore: %v", err)
	}

	limiter := ratelimiter.New(ratelimiter.Config{
		MediaBandwidthSoftCapBytes: int64(cfg.MediaBandwidthSoftCapGiB * (1 << 30)),
		MediaBandwidthHardCapBytes: int64(cfg.MediaBandwidthHardCapGiB * (1 << 30)),
	})
	seedLimiter(ctx, repo, limiter, cfg.RunLogRetention)

	feedClient := feed.New(cfg.FeedBaseURL, cfg.FeedToken, cfg.OriginatingSystem, limiter)

	var alertHook alert.Hook = alert.NoopHook{}
	if cfg.AlertWebhookURL != "" {
		alertHook = alert.NewWebhookHook(cfg.AlertWebhookURL)
	}
	alertBus := alert.NewBus(alertHook)

	pipeline := &ingest.Pipeline{
		Repo:                   repo,
		Store:                  store,
		Feed:                   feedClient,
		Alerts:                 alertBus,
		InlineMediaConcurrency: cfg.MediaDownloadConcurrencyInline,
	}

	scheduler := &ingest.Scheduler{
		Pipeline:            pipeline,
		Cadence:             cfg.Cadence,
		ShutdownGracePeriod: cfg.ShutdownGracePeriod,
	}

	downloader := &ingest.Downloader{
		Pipeline:    pipeline,
		Concurrency: cfg.MediaConcurrency,
		Stagger:     cfg.MediaDownloaderStagger,
	}

	health := healthserver.New(cfg.HealthServerAddr, repo, limiter, cfg.Cadence)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go downloader.Run(ctx)
	go func() {
		if err := health.Run(ctx); err != nil {
			log.Printf("health server stopped: %v", err)
		}
	}()

	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(schedulerDone)
	}()

	<-sigCh
	log.Println("shutdown signal received")
	cancel()
	<-schedulerDone
	log.Println("shutdown complete")
}

// seedLimiter restores the rate limiter's in-memory windows from recent
// log history so a restart doesn't immediately burst past caps a prior
// process was already close to.
func seedLimiter(ctx context.Context, repo *repository.Repository, limiter *ratelimiter.Limiter, apiLookback time.Duration) {
	if ts, err := repo.RecentRequestTimestamps(ctx, apiLookback); err == nil {
		limiter.SeedAPI(ts)
	} else {
		log.Printf("seed api window: %v", err)
	}

	if events, err := repo.RecentMediaDownloads(ctx, time.Hour); err == nil {
		limiter.SeedMedia(events)
	} else {
		log.Printf("seed media window: %v", err)
	}
}

// redactDatabaseURL strips credentials before a connection string ever
// reaches the log, the same guard the teacher's main.go applies.
func redactDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		u.RawQuery = ""
		return u.String()
	}
	re := regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/?#]+):([^@]+)@`)
	if re.MatchString(raw) {
		return re.ReplaceAllString(raw, `$1:****@`)
	}
	return raw
}
