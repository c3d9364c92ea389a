package ingest

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Beck89/mta-mls-worker/internal/feederr"
	"github.com/Beck89/mta-mls-worker/internal/mapper"
	"github.com/Beck89/mta-mls-worker/internal/models"
)

const (
	defaultMediaDownloaderConcurrency = 15
	defaultMediaDownloaderStagger     = 200 * time.Millisecond
	mediaDownloaderMaxRetries         = 5
	mediaDownloaderPollBatch          = 20
	mediaDownloaderPollInterval       = 5 * time.Second
	mediaDownloaderStatsInterval      = time.Minute
	initialRateLimitPause             = 5 * time.Minute
	maxRateLimitPause                 = 15 * time.Minute
	recoverySweepInterval             = 30 * time.Minute
)

// Downloader drains pending_download/expired media rows in the
// background, independent of the per-resource replication loops —
// spec.md §4.E. One Downloader runs for the life of the process.
type Downloader struct {
	Pipeline *Pipeline

	// Concurrency bounds simultaneous in-flight downloads. Defaults to
	// defaultMediaDownloaderConcurrency when zero.
	Concurrency int
	// Stagger is the delay between dispatching successive downloads
	// within one poll batch. Defaults to defaultMediaDownloaderStagger.
	Stagger time.Duration

	mu                 sync.Mutex
	rateLimitPauseUntil time.Time
	currentPause        time.Duration

	downloaded atomic.Int64
	failed     atomic.Int64
	rateLimits atomic.Int64
	inFlight   atomic.Int32
}

// Run polls for pending media until ctx is canceled. It never returns an
// error; transient failures are logged and retried on the next poll.
func (d *Downloader) Run(ctx context.Context) {
	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = defaultMediaDownloaderConcurrency
	}
	stagger := d.Stagger
	if stagger <= 0 {
		stagger = defaultMediaDownloaderStagger
	}

	go d.runExpiredURLRecovery(ctx)
	go d.runStatsLoop(ctx)

	sem := make(chan struct{}, concurrency)
	for {
		if ctx.Err() != nil {
			return
		}

		if wait := d.pauseRemaining(); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}

		batch, err := d.Pipeline.Repo.PendingMedia(ctx, mediaDownloaderPollBatch)
		if err != nil {
			log.Printf("[ingest] media downloader poll failed: %v", err)
			select {
			case <-time.After(mediaDownloaderPollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}
		if len(batch) == 0 {
			select {
			case <-time.After(mediaDownloaderPollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}

		var wg sync.WaitGroup
		for i, m := range batch {
			if ctx.Err() != nil {
				break
			}
			m := m
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				d.inFlight.Add(1)
				defer d.inFlight.Add(-1)
				d.downloadItem(ctx, m)
			}()
			if i < len(batch)-1 {
				select {
				case <-time.After(stagger):
				case <-ctx.Done():
				}
			}
		}
		wg.Wait()
	}
}

func (d *Downloader) pauseRemaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Until(d.rateLimitPauseUntil)
}

func (d *Downloader) onRateLimited() {
	d.rateLimits.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.currentPause == 0 {
		d.currentPause = initialRateLimitPause
	} else {
		d.currentPause *= 2
		if d.currentPause > maxRateLimitPause {
			d.currentPause = maxRateLimitPause
		}
	}
	d.rateLimitPauseUntil = time.Now().Add(d.currentPause)
}

func (d *Downloader) onSuccess() {
	d.mu.Lock()
	d.currentPause = 0
	d.mu.Unlock()
}

// downloadItem runs one media row through the download → store → status
// transition sequence, honoring the retry ladder of spec.md §4.E.
func (d *Downloader) downloadItem(ctx context.Context, m models.Media) {
	p := d.Pipeline

	if isURLExpiring(m.SourceURL) {
		_ = p.Repo.MarkMediaExpired(ctx, m.ParentKind, m.ParentKey, m.MediaKey)
		return
	}

	for attempt := 0; attempt < mediaDownloaderMaxRetries; attempt++ {
		started := time.Now()
		dl, err := p.Feed.DownloadMedia(ctx, m.SourceURL)
		if err == nil {
			publicURL, putErr := p.Store.Put(ctx, m.ObjectStoreKey, dl.Body, dl.ContentType)
			if putErr != nil {
				log.Printf("[ingest] downloader store put failed for %s: %v", m.ObjectStoreKey, putErr)
				continue
			}
			if err := p.Repo.MarkMediaComplete(ctx, m.ParentKind, m.ParentKey, m.MediaKey, m.ObjectStoreKey, publicURL, dl.Size); err != nil {
				log.Printf("[ingest] downloader mark complete failed for %s: %v", m.MediaKey, err)
				return
			}
			_ = p.Repo.AppendMediaDownloadLog(ctx, models.MediaDownloadLogEntry{
				MediaKey:     m.MediaKey,
				ParentKey:    m.ParentKey,
				Bytes:        dl.Size,
				ElapsedMs:    time.Since(started).Milliseconds(),
				DownloadedAt: time.Now(),
			})
			d.downloaded.Add(1)
			d.onSuccess()
			return
		}

		var ue *feederr.UrlExpired
		var rl *feederr.RateLimited
		switch {
		case errors.As(err, &ue):
			if m.HasStoredBytes() {
				_ = p.Repo.MarkMediaComplete(ctx, m.ParentKind, m.ParentKey, m.MediaKey, m.ObjectStoreKey, m.PublicURL, m.FileSizeBytes)
				return
			}
			_ = p.Repo.MarkMediaExpired(ctx, m.ParentKind, m.ParentKey, m.MediaKey)
			return
		case errors.As(err, &rl):
			d.onRateLimited()
			return
		default:
			log.Printf("[ingest] media download attempt %d failed for %s: %v", attempt, m.MediaKey, err)
			select {
			case <-time.After(time.Duration(attempt+1) * time.Second):
			case <-ctx.Done():
				return
			}
		}
	}

	d.failed.Add(1)
	_ = p.Repo.MarkMediaFailed(ctx, m.ParentKind, m.ParentKey, m.MediaKey)
}

func (d *Downloader) runStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(mediaDownloaderStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("[ingest] media downloader: downloaded=%d failed=%d rate_limits=%d in_flight=%d",
				d.downloaded.Load(), d.failed.Load(), d.rateLimits.Load(), d.inFlight.Load())
		}
	}
}

// runExpiredURLRecovery implements spec.md §4.E's three-tier recovery
// sweep for rows stuck in failed/expired, on startup and then
// periodically.
func (d *Downloader) runExpiredURLRecovery(ctx context.Context) {
	d.sweepOnce(ctx)
	ticker := time.NewTicker(recoverySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce(ctx)
		}
	}
}

func (d *Downloader) sweepOnce(ctx context.Context) {
	p := d.Pipeline
	stuck, err := p.Repo.MediaClaimingCompleteWithoutStorage(ctx)
	if err == nil {
		for _, m := range stuck {
			if m.HasStoredBytes() {
				_ = p.Repo.MarkMediaComplete(ctx, m.ParentKind, m.ParentKey, m.MediaKey, m.ObjectStoreKey, m.PublicURL, m.FileSizeBytes)
			}
		}
	}

	recoverable, err := p.Repo.FailedOrExpiredMedia(ctx, mediaDownloaderPollBatch*4)
	if err != nil {
		log.Printf("[ingest] recovery sweep poll failed: %v", err)
		return
	}

	byParent := map[string][]models.Media{}
	for _, m := range recoverable {
		if m.HasStoredBytes() {
			_ = p.Repo.MarkMediaComplete(ctx, m.ParentKind, m.ParentKey, m.MediaKey, m.ObjectStoreKey, m.PublicURL, m.FileSizeBytes)
			continue
		}
		if !isURLExpiring(m.SourceURL) {
			d.downloadItem(ctx, m)
			continue
		}
		if m.ParentKind == models.ResourceListing && m.ParentListingID != "" {
			byParent[m.ParentListingID] = append(byParent[m.ParentListingID], m)
		}
	}

	for listingID, group := range byParent {
		if ctx.Err() != nil {
			return
		}
		fresh := d.refetchListingMediaURLs(ctx, listingID)
		for _, m := range group {
			if url, ok := fresh[m.MediaKey]; ok {
				m.SourceURL = url
			}
			d.downloadItem(ctx, m)
		}
	}
}

func (d *Downloader) refetchListingMediaURLs(ctx context.Context, listingID string) map[string]string {
	p := d.Pipeline
	pageURL := p.Feed.BuildSingleListingUrl(listingID)
	page, err := p.Feed.FetchPage(ctx, pageURL)
	if err != nil || len(page.Records) == 0 {
		return nil
	}
	_, _, _, media, err := mapper.MapListing(page.Records[0])
	if err != nil {
		return nil
	}
	fresh := make(map[string]string, len(media))
	for _, m := range media {
		fresh[m.MediaKey] = m.SourceURL
	}
	return fresh
}
