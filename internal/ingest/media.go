package ingest

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Beck89/mta-mls-worker/internal/feederr"
	"github.com/Beck89/mta-mls-worker/internal/mapper"
	"github.com/Beck89/mta-mls-worker/internal/models"
)

// mediaURLExpirySafetyBuffer is the window inside which a signed media
// URL is treated as already expired, per spec.md §6.
const mediaURLExpirySafetyBuffer = 60 * time.Second

// inlineMediaMaxRetries bounds retry attempts within one record's inline
// media refresh step, per spec.md §4.D-media.
const inlineMediaMaxRetries = 3

const defaultInlineMediaConcurrency = 4

// refreshMediaInline downloads the subset of items not already backed by
// stored bytes (repository.ReplaceMediaTx mutates items in place before
// this runs, carrying forward prior object-store state for anything
// already downloaded), in bounded concurrent batches.
func (p *Pipeline) refreshMediaInline(ctx context.Context, kind models.ResourceKind, parentKey, parentListingID string, items []models.Media) (int, error) {
	var needsDownload []models.Media
	for _, m := range items {
		if !m.HasStoredBytes() {
			needsDownload = append(needsDownload, m)
		}
	}
	if len(needsDownload) == 0 {
		return 0, nil
	}

	freshURLs := p.preflightRefreshURLs(ctx, kind, parentListingID, needsDownload)

	concurrency := p.InlineMediaConcurrency
	if concurrency <= 0 {
		concurrency = defaultInlineMediaConcurrency
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	queued := 0

	for _, m := range needsDownload {
		m := m
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if p.downloadOneMedia(ctx, kind, parentKey, m, freshURLs[m.MediaKey]) {
				mu.Lock()
				queued++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return queued, nil
}

// preflightRefreshURLs inspects the first needing-download item's source
// URL; if it's within the expiry safety buffer, refetches the parent
// listing (single-record filter) to obtain a fresh (mediaKey → url) map.
// Only listings carry a vendor listing id to refetch by; members/offices
// have no equivalent single-record lookup and simply proceed with
// whatever URL they have, falling to `expired` if it's stale.
func (p *Pipeline) preflightRefreshURLs(ctx context.Context, kind models.ResourceKind, parentListingID string, items []models.Media) map[string]string {
	if len(items) == 0 || !isURLExpiring(items[0].SourceURL) {
		return nil
	}
	if kind != models.ResourceListing || parentListingID == "" || p.Feed == nil {
		return nil
	}

	pageURL := p.Feed.BuildSingleListingUrl(parentListingID)
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

// isURLExpiring reports whether u carries an expires=<unix-seconds> query
// parameter within mediaURLExpirySafetyBuffer of now, or is already past
// it. A URL with no expires parameter is never treated as expiring; an
// empty URL always is.
func isURLExpiring(u string) bool {
	if u == "" {
		return true
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	raw := parsed.Query().Get("expires")
	if raw == "" {
		return false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return time.Unix(secs, 0).Before(time.Now().Add(mediaURLExpirySafetyBuffer))
}

// downloadOneMedia runs the retry ladder of spec.md §4.D-media for a
// single media item and reports whether it ended up stored.
func (p *Pipeline) downloadOneMedia(ctx context.Context, kind models.ResourceKind, parentKey string, m models.Media, freshURL string) bool {
	chosenURL := m.SourceURL
	if freshURL != "" {
		chosenURL = freshURL
	}
	if chosenURL == "" {
		_ = p.Repo.MarkMediaFailed(ctx, kind, parentKey, m.MediaKey)
		return false
	}
	if isURLExpiring(chosenURL) {
		_ = p.Repo.MarkMediaExpired(ctx, kind, parentKey, m.MediaKey)
		return false
	}

	for attempt := 0; attempt < inlineMediaMaxRetries; attempt++ {
		dl, err := p.Feed.DownloadMedia(ctx, chosenURL)
		if err == nil {
			publicURL, putErr := p.Store.Put(ctx, m.ObjectStoreKey, dl.Body, dl.ContentType)
			if putErr != nil {
				log.Printf("[ingest] object store put failed for %s: %v", m.ObjectStoreKey, putErr)
				_ = p.Repo.MarkMediaFailed(ctx, kind, parentKey, m.MediaKey)
				return false
			}
			if err := p.Repo.MarkMediaComplete(ctx, kind, parentKey, m.MediaKey, m.ObjectStoreKey, publicURL, dl.Size); err != nil {
				log.Printf("[ingest] mark media complete failed for %s: %v", m.MediaKey, err)
				return false
			}
			return true
		}

		var rl *feederr.RateLimited
		var ue *feederr.UrlExpired
		switch {
		case errors.As(err, &rl):
			select {
			case <-time.After(30 * time.Second * time.Duration(attempt+1)):
			case <-ctx.Done():
				return false
			}
			continue
		case errors.As(err, &ue):
			if m.HasStoredBytes() {
				return true
			}
			_ = p.Repo.MarkMediaExpired(ctx, kind, parentKey, m.MediaKey)
			return false
		default:
			select {
			case <-time.After(time.Duration(attempt+1) * time.Second):
			case <-ctx.Done():
				return false
			}
			continue
		}
	}
	_ = p.Repo.MarkMediaFailed(ctx, kind, parentKey, m.MediaKey)
	return false
}
