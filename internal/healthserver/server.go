// Package healthserver exposes the worker's operational surface: a
// liveness probe and small JSON stats endpoints for the rate limiter and
// per-resource replication staleness. It is not the end-user query API
// spec.md explicitly excludes — just enough for an operator's curl or a
// platform's liveness check, grounded on the teacher's internal/api
// package (gorilla/mux routing, handler-per-concern file layout).
package healthserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Beck89/mta-mls-worker/internal/config"
	"github.com/Beck89/mta-mls-worker/internal/models"
	"github.com/Beck89/mta-mls-worker/internal/ratelimiter"
	"github.com/Beck89/mta-mls-worker/internal/repository"
)

// staleFactor is how many multiples of a resource's own cadence may pass
// since its last successful run completion before it is reported stale.
const staleFactor = 2

// Server is the worker's small HTTP surface, independent of the
// replication loops it reports on.
type Server struct {
	Repo    *repository.Repository
	Limiter *ratelimiter.Limiter
	Cadence config.ResourceCadence

	addr   string
	router *mux.Router
}

// New builds a Server listening on addr. Call Run to start serving.
func New(addr string, repo *repository.Repository, limiter *ratelimiter.Limiter, cadence config.ResourceCadence) *Server {
	s := &Server{Repo: repo, Limiter: limiter, Cadence: cadence, addr: addr}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/stats/ratelimiter", s.handleRateLimiterStats).Methods("GET")
	s.router.HandleFunc("/stats/resources", s.handleResourceStats).Methods("GET")
	return s
}

// Run serves until ctx is canceled, then shuts down the listener.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRateLimiterStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Limiter.Stats())
}

type resourceStatus struct {
	Resource      models.ResourceKind `json:"resource"`
	LastRunID     int64               `json:"last_run_id,omitempty"`
	LastStatus    models.RunStatus    `json:"last_status,omitempty"`
	LastCompleted *time.Time          `json:"last_completed,omitempty"`
	CadenceSecs   float64             `json:"cadence_seconds"`
	Stale         bool                `json:"stale"`
}

var allResources = []models.ResourceKind{
	models.ResourceListing,
	models.ResourceMember,
	models.ResourceOffice,
	models.ResourceOpenHouse,
	models.ResourceLookup,
}

func (s *Server) cadenceFor(resource models.ResourceKind) time.Duration {
	switch resource {
	case models.ResourceListing:
		return s.Cadence.Listing
	case models.ResourceMember:
		return s.Cadence.Member
	case models.ResourceOffice:
		return s.Cadence.Office
	case models.ResourceOpenHouse:
		return s.Cadence.OpenHouse
	default:
		return s.Cadence.Lookup
	}
}

func (s *Server) handleResourceStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := make([]resourceStatus, 0, len(allResources))

	for _, resource := range allResources {
		cadence := s.cadenceFor(resource)
		status := resourceStatus{Resource: resource, CadenceSecs: cadence.Seconds()}

		run, err := s.Repo.LatestRun(ctx, resource)
		if err != nil {
			log.Printf("[healthserver] latest run lookup failed for %s: %v", resource, err)
			status.Stale = true
			out = append(out, status)
			continue
		}
		if run == nil {
			status.Stale = true
			out = append(out, status)
			continue
		}

		status.LastRunID = run.ID
		status.LastStatus = run.Status
		status.LastCompleted = run.CompletedAt
		status.Stale = isStale(run.CompletedAt, cadence)
		out = append(out, status)
	}

	writeJSON(w, http.StatusOK, out)
}

// isStale reports whether a resource's last completion is older than
// staleFactor times its own cadence — a resource with no completion at
// all is always stale.
func isStale(completedAt *time.Time, cadence time.Duration) bool {
	if completedAt == nil {
		return true
	}
	return time.Since(*completedAt) > cadence*staleFactor
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[healthserver] encode response failed: %v", err)
	}
}
