package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Beck89/mta-mls-worker/internal/feed"
	"github.com/Beck89/mta-mls-worker/internal/feederr"
	"github.com/Beck89/mta-mls-worker/internal/models"
)

// CycleResult summarizes one replication cycle, returned for logging and
// exercised directly by tests instead of reaching into the run record.
type CycleResult struct {
	RunID  int64
	Status models.RunStatus
	Run    models.Run
}

// RunCycle executes one full replication cycle for resource: mode
// selection, dedup-safe resume, paged iteration, per-record dispatch,
// and run-record finalization — spec.md §4.F.
func (p *Pipeline) RunCycle(ctx context.Context, resource models.ResourceKind) (CycleResult, error) {
	latest, err := p.Repo.LatestRun(ctx, resource)
	if err != nil {
		return CycleResult{}, fmt.Errorf("load latest run for %s: %w", resource, err)
	}

	mode := models.ModeInitialImport
	var hwm time.Time
	var hwmStart *time.Time
	if latest != nil && latest.HWMEnd != nil {
		mode = models.ModeReplication
		hwm = *latest.HWMEnd
		hwmStart = latest.HWMEnd
	}

	runID, err := p.Repo.StartRun(ctx, resource, mode, hwmStart)
	if err != nil {
		return CycleResult{}, fmt.Errorf("start run for %s: %w", resource, err)
	}

	dedup := map[string]bool{}
	if mode == models.ModeReplication {
		keys, err := p.Repo.DedupKeysAtHWM(ctx, resource, hwm)
		if err != nil {
			log.Printf("[ingest] dedup set load failed for %s: %v", resource, err)
		}
		for _, k := range keys {
			dedup[k] = true
		}
	}

	resourceName := resource.FeedResourceName()
	var pageURL string
	if mode == models.ModeInitialImport {
		pageURL = p.Feed.BuildInitialUrl(resourceName)
	} else {
		pageURL = p.Feed.BuildReplicationUrl(resourceName, hwm, true)
	}

	run := &models.Run{ID: runID, Resource: resource, Mode: mode, Status: models.RunFailed, HWMStart: hwmStart}
	runningHWM := hwm
	committed := false
	isInitialImport := mode == models.ModeInitialImport
	histogram := map[int]int64{}
	var totalElapsedMs int64

	iterErr := p.Feed.IteratePages(ctx, pageURL, func(page *feed.Page) (bool, error) {
		run.RequestCount++
		run.RequestBytes += page.Bytes
		totalElapsedMs += page.ElapsedMs
		if err := p.Repo.AppendRequestLog(ctx, models.RequestLogEntry{
			RunID:       runID,
			URL:         page.URL,
			StatusCode:  200,
			ElapsedMs:   page.ElapsedMs,
			Bytes:       page.Bytes,
			RecordCount: len(page.Records),
			RequestedAt: time.Now(),
		}); err != nil {
			log.Printf("[ingest] request log append failed: %v", err)
		}

		for _, rec := range page.Records {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			run.RecordsReceived++

			if key, ok := dedupKeyFor(resource, rec); ok && dedup[key] {
				delete(dedup, key)
				continue
			}

			stats, err := p.dispatch(ctx, resource, rec, isInitialImport)
			if err != nil {
				log.Printf("[ingest] %s record failed: %v", resource, err)
				continue
			}
			run.RecordsInserted += int64(stats.Inserted)
			run.RecordsUpdated += int64(stats.Updated)
			run.RecordsDeleted += int64(stats.Deleted)
			run.MediaDownloaded += int64(stats.MediaQueued)
			if stats.Inserted+stats.Updated+stats.Deleted > 0 {
				committed = true
			}
			if stats.ModTs.After(runningHWM) {
				runningHWM = stats.ModTs
			}
		}
		return true, nil
	})

	switch {
	case iterErr == nil:
		run.Status = models.RunCompleted
	case committed:
		run.Status = models.RunPartial
		run.ErrorMessage = iterErr.Error()
	default:
		run.Status = models.RunFailed
		run.ErrorMessage = iterErr.Error()
	}

	if iterErr != nil {
		var apiErr *feederr.ApiError
		var rateLimited *feederr.RateLimited
		switch {
		case errors.As(iterErr, &apiErr):
			histogram[apiErr.StatusCode]++
		case errors.As(iterErr, &rateLimited):
			histogram[http.StatusTooManyRequests]++
		}
	}
	if len(histogram) > 0 {
		run.HTTPErrorHistogram = histogram
	}
	if run.RequestCount > 0 {
		run.AvgLatencyMs = float64(totalElapsedMs) / float64(run.RequestCount)
	}

	if !runningHWM.IsZero() {
		run.HWMEnd = &runningHWM
	}

	if err := p.Repo.FinishRun(ctx, run); err != nil {
		log.Printf("[ingest] finalize run %d failed: %v", runID, err)
	}

	if resource == models.ResourceListing && run.Status == models.RunCompleted {
		if err := p.Repo.RefreshSearchView(ctx); err != nil {
			log.Printf("[ingest] search view refresh failed: %v", err)
		}
	}

	return CycleResult{RunID: runID, Status: run.Status, Run: *run}, iterErr
}

func (p *Pipeline) dispatch(ctx context.Context, resource models.ResourceKind, rec json.RawMessage, isInitialImport bool) (RecordStats, error) {
	switch resource {
	case models.ResourceListing:
		return p.ProcessListing(ctx, rec, isInitialImport)
	case models.ResourceMember:
		return p.ProcessMember(ctx, rec, isInitialImport)
	case models.ResourceOffice:
		return p.ProcessOffice(ctx, rec, isInitialImport)
	case models.ResourceOpenHouse:
		return p.ProcessOpenHouse(ctx, rec)
	case models.ResourceLookup:
		return p.ProcessLookup(ctx, rec)
	default:
		return RecordStats{}, fmt.Errorf("unknown resource kind %q", resource)
	}
}

// resourceKeyField maps a resource kind to the JSON attribute name its
// dedup-protocol key lives under in the raw feed payload.
func resourceKeyField(resource models.ResourceKind) string {
	switch resource {
	case models.ResourceListing:
		return "ListingKey"
	case models.ResourceMember:
		return "MemberKey"
	case models.ResourceOffice:
		return "OfficeKey"
	case models.ResourceOpenHouse:
		return "OpenHouseKey"
	case models.ResourceLookup:
		return "LookupValue"
	default:
		return ""
	}
}

// dedupKeyFor extracts a record's primary key without running it through
// the full mapper, so a malformed record can still be recognized and
// skipped by the dedup-on-resume protocol (spec.md §4.F step 3).
func dedupKeyFor(resource models.ResourceKind, rec json.RawMessage) (string, bool) {
	field := resourceKeyField(resource)
	if field == "" {
		return "", false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(rec, &obj); err != nil {
		return "", false
	}
	raw, ok := obj[field]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// isTransportError reports whether err is a cycle-ending transport
// failure (as opposed to a per-record error, which the dispatch loop
// already swallows) — surfaced for tests and future callers that need to
// distinguish API-level failures from context cancellation.
func isTransportError(err error) bool {
	var apiErr *feederr.ApiError
	var rateLimited *feederr.RateLimited
	return errors.As(err, &apiErr) || errors.As(err, &rateLimited)
}
