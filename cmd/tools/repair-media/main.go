// Command repair-media is a one-shot data-integrity sweep: it finds
// media rows flagged complete without the object-store evidence a real
// download would leave (key, URL, and positive size) and requeues them
// as pending_download so the background downloader picks them back up.
package main

import (
	"context"
	"log"

	"github.com/Beck89/mta-mls-worker/internal/config"
	"github.com/Beck89/mta-mls-worker/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("repository: %v", err)
	}
	defer repo.Close()

	broken, err := repo.MediaClaimingCompleteWithoutStorage(ctx)
	if err != nil {
		log.Fatalf("scan for broken media rows: %v", err)
	}
	if len(broken) == 0 {
		log.Println("no media rows claiming complete without storage evidence")
		return
	}

	log.Printf("found %d media row(s) claiming complete without storage evidence", len(broken))
	requeued := 0
	for _, m := range broken {
		if err := repo.RequeueMedia(ctx, m.ParentKind, m.ParentKey, m.MediaKey); err != nil {
			log.Printf("requeue %s/%s/%s failed: %v", m.ParentKind, m.ParentKey, m.MediaKey, err)
			continue
		}
		requeued++
	}
	log.Printf("repair done: %d/%d requeued as pending_download", requeued, len(broken))
}
