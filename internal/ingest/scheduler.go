package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Beck89/mta-mls-worker/internal/config"
	"github.com/Beck89/mta-mls-worker/internal/models"
)

const hardDeleteRetention = 30 * 24 * time.Hour

// Scheduler owns the process-wide cadence loops: the initial-import
// ordering, the five steady-state per-resource loops, the daily
// hard-delete cleanup, and graceful shutdown — spec.md §4.G.
type Scheduler struct {
	Pipeline *Pipeline
	Cadence  config.ResourceCadence

	// ShutdownGracePeriod bounds how long Run waits for in-flight cycles
	// to finish once ctx is canceled.
	ShutdownGracePeriod time.Duration

	wg sync.WaitGroup
}

// Run blocks until ctx is canceled, then waits up to ShutdownGracePeriod
// for running cycles to finish before returning.
func (s *Scheduler) Run(ctx context.Context) {
	s.runInitialImportIfNeeded(ctx)

	s.wg.Add(5)
	go s.loop(ctx, models.ResourceListing, s.Cadence.Listing)
	go s.loop(ctx, models.ResourceMember, s.Cadence.Member)
	go s.loop(ctx, models.ResourceOffice, s.Cadence.Office)
	go s.loop(ctx, models.ResourceOpenHouse, s.Cadence.OpenHouse)
	go s.lookupLoopWithCleanup(ctx)

	<-ctx.Done()
	log.Printf("[ingest] scheduler stopping, waiting up to %s for running cycles", s.ShutdownGracePeriod)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[ingest] scheduler stopped cleanly")
	case <-time.After(s.ShutdownGracePeriod):
		log.Printf("[ingest] scheduler shutdown grace period elapsed, exiting with cycles still in flight")
	}
}

// runInitialImportIfNeeded runs the dependency-ordered bootstrap sequence
// of spec.md §4.G when no resource has ever completed a run: Listing
// first, then Member+Office concurrently, then OpenHouse. Lookup is
// independent and simply joins the steady-state loop below.
func (s *Scheduler) runInitialImportIfNeeded(ctx context.Context) {
	for _, resource := range []models.ResourceKind{models.ResourceListing, models.ResourceMember, models.ResourceOffice, models.ResourceOpenHouse, models.ResourceLookup} {
		latest, err := s.Pipeline.Repo.LatestRun(ctx, resource)
		if err != nil {
			log.Printf("[ingest] initial-import check failed: %v", err)
			return
		}
		if latest != nil {
			return
		}
	}

	log.Printf("[ingest] no prior run found for any resource, starting initial import sequence")
	s.runOnce(ctx, models.ResourceListing)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.runOnce(ctx, models.ResourceMember) }()
	go func() { defer wg.Done(); s.runOnce(ctx, models.ResourceOffice) }()
	wg.Wait()

	s.runOnce(ctx, models.ResourceOpenHouse)
	log.Printf("[ingest] initial import sequence complete")
}

// loop runs non-overlapping cycles for resource on cadence until ctx is
// canceled: a cycle never starts before the previous one (and the sleep
// that follows it) has finished.
func (s *Scheduler) loop(ctx context.Context, resource models.ResourceKind, cadence time.Duration) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		s.runOnce(ctx, resource)
		select {
		case <-time.After(cadence):
		case <-ctx.Done():
			return
		}
	}
}

// lookupLoopWithCleanup is the Lookup resource's steady-state loop, with
// the daily hard-delete sweep piggybacked on the same cadence per
// spec.md §4.G.
func (s *Scheduler) lookupLoopWithCleanup(ctx context.Context) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		s.runOnce(ctx, models.ResourceLookup)
		s.runHardDeleteCleanup(ctx)
		select {
		case <-time.After(s.Cadence.Lookup):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, resource models.ResourceKind) {
	result, err := s.Pipeline.RunCycle(ctx, resource)
	if err != nil {
		log.Printf("[ingest] %s cycle %s: %v", resource, result.Status, err)
		return
	}
	log.Printf("[ingest] %s cycle %d completed: received=%d inserted=%d updated=%d deleted=%d",
		resource, result.RunID, result.Run.RecordsReceived, result.Run.RecordsInserted, result.Run.RecordsUpdated, result.Run.RecordsDeleted)
}

// runHardDeleteCleanup removes listings (and their media objects) that
// have been soft-hidden for longer than the 30-day retention window.
// Cycle failures never abort the scheduler, so this logs and continues
// rather than propagating errors.
func (s *Scheduler) runHardDeleteCleanup(ctx context.Context) {
	repo := s.Pipeline.Repo
	keys, err := repo.ListingsEligibleForHardDelete(ctx, hardDeleteRetention)
	if err != nil {
		log.Printf("[ingest] hard-delete cleanup: eligibility query failed: %v", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	log.Printf("[ingest] hard-delete cleanup: %d listing(s) past retention", len(keys))

	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		objectKeys, err := repo.MediaKeysForDeletion(ctx, models.ResourceListing, key)
		if err != nil {
			log.Printf("[ingest] hard-delete cleanup: media lookup failed for %s: %v", key, err)
			continue
		}
		if len(objectKeys) > 0 {
			if err := s.Pipeline.Store.DeleteBatch(ctx, objectKeys); err != nil {
				log.Printf("[ingest] hard-delete cleanup: object store delete failed for %s: %v", key, err)
				continue
			}
		}
		if err := repo.HardDeleteListing(ctx, key); err != nil {
			log.Printf("[ingest] hard-delete cleanup: row delete failed for %s: %v", key, err)
		}
	}

	if err := repo.PruneRequestLog(ctx, 24*time.Hour*7); err != nil {
		log.Printf("[ingest] hard-delete cleanup: request log prune failed: %v", err)
	}
}
