// Command reset-checkpoint is an operational escape hatch: it rewinds a
// resource's replication cursor so the next scheduled cycle resumes from
// an operator-chosen point instead of wherever the last run left off.
// It never synthesizes history — it only moves the cursor the next cycle
// driver will read via LatestRun.
package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/Beck89/mta-mls-worker/internal/config"
	"github.com/Beck89/mta-mls-worker/internal/models"
	"github.com/Beck89/mta-mls-worker/internal/repository"
)

func main() {
	resourceFlag := flag.String("resource", "", "resource to reset: Listing, Member, Office, OpenHouse, Lookup")
	hwmFlag := flag.String("hwm", "", "RFC3339 timestamp to resume from; omit to force a full initial-import re-run")
	flag.Parse()

	resource := models.ResourceKind(strings.TrimSpace(*resourceFlag))
	switch resource {
	case models.ResourceListing, models.ResourceMember, models.ResourceOffice, models.ResourceOpenHouse, models.ResourceLookup:
	default:
		log.Fatalf("unknown or missing -resource %q: must be one of Listing, Member, Office, OpenHouse, Lookup", *resourceFlag)
	}

	var hwmEnd *time.Time
	if strings.TrimSpace(*hwmFlag) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(*hwmFlag))
		if err != nil {
			log.Fatalf("invalid -hwm %q: %v", *hwmFlag, err)
		}
		hwmEnd = &t
	}

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

	if err := repo.ForceCheckpoint(ctx, resource, hwmEnd); err != nil {
		log.Fatalf("force checkpoint: %v", err)
	}

	if hwmEnd == nil {
		log.Printf("checkpoint cleared for %s: next cycle will run a fresh initial import", resource)
	} else {
		log.Printf("checkpoint for %s rewound to %s: next cycle resumes from there", resource, hwmEnd.Format(time.RFC3339))
	}
}
