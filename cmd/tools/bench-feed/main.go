// Command bench-feed issues a handful of paged requests against a
// configured feed resource and reports per-page latency and throughput,
// for capacity planning ahead of turning on a new resource or cadence.
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/Beck89/mta-mls-worker/internal/config"
	"github.com/Beck89/mta-mls-worker/internal/feed"
	"github.com/Beck89/mta-mls-worker/internal/models"
	"github.com/Beck89/mta-mls-worker/internal/ratelimiter"
)

func main() {
	resourceFlag := flag.String("resource", "Listing", "resource to benchmark: Listing, Member, Office, OpenHouse, Lookup")
	pagesFlag := flag.Int("pages", 5, "number of pages to fetch")
	flag.Parse()

	resource := models.ResourceKind(strings.TrimSpace(*resourceFlag))
	resourceName := resource.FeedResourceName()
	if resourceName == "" {
		log.Fatalf("unknown -resource %q", *resourceFlag)
	}
	if *pagesFlag < 1 {
		log.Fatalf("-pages must be at least 1")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	limiter := ratelimiter.New(ratelimiter.Config{
		MediaBandwidthSoftCapBytes: int64(cfg.MediaBandwidthSoftCapGiB * (1 << 30)),
		MediaBandwidthHardCapBytes: int64(cfg.MediaBandwidthHardCapGiB * (1 << 30)),
	})
	client := feed.New(cfg.FeedBaseURL, cfg.FeedToken, cfg.OriginatingSystem, limiter)

	ctx := context.Background()
	pageURL := client.BuildInitialUrl(resourceName)

	var totalRecords int
	var totalBytes int64
	var totalElapsed time.Duration
	fetched := 0

	for fetched < *pagesFlag && pageURL != "" {
		page, err := client.FetchPage(ctx, pageURL)
		if err != nil {
			log.Fatalf("page %d: fetch failed: %v", fetched+1, err)
		}

		elapsed := time.Duration(page.ElapsedMs) * time.Millisecond
		log.Printf("page %d: records=%d bytes=%d elapsed=%s", fetched+1, len(page.Records), page.Bytes, elapsed)

		totalRecords += len(page.Records)
		totalBytes += page.Bytes
		totalElapsed += elapsed
		fetched++
		pageURL = page.NextLink
	}

	if fetched == 0 {
		log.Println("no pages fetched")
		return
	}

	avgElapsed := totalElapsed / time.Duration(fetched)
	var throughputKBs float64
	if totalElapsed > 0 {
		throughputKBs = float64(totalBytes) / 1024 / totalElapsed.Seconds()
	}
	log.Printf("summary: pages=%d records=%d bytes=%d avg_latency=%s throughput=%.1fKB/s",
		fetched, totalRecords, totalBytes, avgElapsed, throughputKBs)
}
