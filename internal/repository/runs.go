package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Beck89/mta-mls-worker/internal/models"
)

// StartRun inserts a new run record with status running and returns its
// id.
func (r *Repository) StartRun(ctx context.Context, resource models.ResourceKind, mode models.RunMode, hwmStart *time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO runs (resource, mode, status, started_at, hwm_start)
		VALUES ($1, $2, $3, now(), $4)
		RETURNING id`,
		string(resource), string(mode), string(models.RunRunning), hwmStart,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// FinishRun records the terminal state of a run.
func (r *Repository) FinishRun(ctx context.Context, run *models.Run) error {
	histogram, err := histogramJSON(run.HTTPErrorHistogram)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		UPDATE runs SET
			status = $2,
			completed_at = now(),
			hwm_end = $3,
			records_received = $4,
			records_inserted = $5,
			records_updated = $6,
			records_deleted = $7,
			media_downloaded = $8,
			media_deleted = $9,
			media_bytes = $10,
			request_count = $11,
			request_bytes = $12,
			avg_latency_ms = $13,
			error_message = $14,
			http_error_histogram = $15
		WHERE id = $1`,
		run.ID, string(run.Status), run.HWMEnd,
		run.RecordsReceived, run.RecordsInserted, run.RecordsUpdated, run.RecordsDeleted,
		run.MediaDownloaded, run.MediaDeleted, run.MediaBytes,
		run.RequestCount, run.RequestBytes, run.AvgLatencyMs, run.ErrorMessage,
		histogram,
	)
	return err
}

// histogramJSON marshals a status-code histogram for the jsonb column,
// returning nil (SQL NULL) when there were no non-2xx responses to record.
func histogramJSON(h map[int]int64) (any, error) {
	if len(h) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// LatestRun returns the most recent run for resource with status
// completed or partial, or nil if none exists — the mode-selection query
// of the replication cycle driver.
func (r *Repository) LatestRun(ctx context.Context, resource models.ResourceKind) (*models.Run, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, resource, mode, status, started_at, completed_at, hwm_start, hwm_end
		FROM runs
		WHERE resource = $1 AND status IN ('completed', 'partial')
		ORDER BY started_at DESC
		LIMIT 1`,
		string(resource),
	)

	var run models.Run
	var resourceStr, modeStr, statusStr string
	err := row.Scan(&run.ID, &resourceStr, &modeStr, &statusStr, &run.StartedAt, &run.CompletedAt, &run.HWMStart, &run.HWMEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Resource = models.ResourceKind(resourceStr)
	run.Mode = models.RunMode(modeStr)
	run.Status = models.RunStatus(statusStr)
	return &run, nil
}

// DedupKeysAtHWM returns the primary keys of resource whose
// modification_ts equals hwm exactly, the set the cycle driver consumes
// when resuming with the `ge` operator.
func (r *Repository) DedupKeysAtHWM(ctx context.Context, resource models.ResourceKind, hwm time.Time) ([]string, error) {
	table, keyCol, tsCol := resourceTableAndKeyCol(resource)
	sql := `SELECT ` + keyCol + ` FROM ` + table + ` WHERE ` + tsCol + ` = $1`
	rows, err := r.db.Query(ctx, sql, hwm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ForceCheckpoint inserts a synthetic completed run record so the next
// cycle's mode selection (LatestRun) picks it up as the new resume point:
// hwmEnd nil forces the resource back to initial-import; a non-nil value
// rewinds the cursor to that instant. This only moves the cursor — it
// never synthesizes rows — so it does not violate the no-retroactive-
// backfill non-goal. Used by the reset-checkpoint admin tool.
func (r *Repository) ForceCheckpoint(ctx context.Context, resource models.ResourceKind, hwmEnd *time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO runs (resource, mode, status, started_at, completed_at, hwm_end)
		VALUES ($1, $2, $3, now(), now(), $4)`,
		string(resource), string(models.ModeReplication), string(models.RunCompleted), hwmEnd,
	)
	return err
}

func resourceTableAndKeyCol(resource models.ResourceKind) (table, keyCol, tsCol string) {
	switch resource {
	case models.ResourceListing:
		return "listings", "key", "modification_ts"
	case models.ResourceMember:
		return "members", "member_key", "modification_ts"
	case models.ResourceOffice:
		return "offices", "office_key", "modification_ts"
	case models.ResourceOpenHouse:
		return "open_houses", "open_house_key", "modification_ts"
	case models.ResourceLookup:
		return "lookups", "value", "modification_ts"
	default:
		return "listings", "key", "modification_ts"
	}
}

// AppendRequestLog persists one HTTP request attempt for a run.
func (r *Repository) AppendRequestLog(ctx context.Context, entry models.RequestLogEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO request_log (run_id, url, status_code, elapsed_ms, bytes, record_count, error_message, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.RunID, entry.URL, entry.StatusCode, entry.ElapsedMs, entry.Bytes, entry.RecordCount, entry.ErrorMessage, entry.RequestedAt,
	)
	return err
}

// RecentRequestTimestamps returns request_log timestamps in the last
// window, used to seed the rate limiter's API windows across a restart.
func (r *Repository) RecentRequestTimestamps(ctx context.Context, window time.Duration) ([]time.Time, error) {
	rows, err := r.db.Query(ctx, `
		SELECT requested_at FROM request_log WHERE requested_at > now() - $1::interval
		ORDER BY requested_at ASC`,
		window.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneRequestLog deletes request_log rows older than retention, called
// once per day alongside the scheduler's hard-delete sweep.
func (r *Repository) PruneRequestLog(ctx context.Context, retention time.Duration) error {
	_, err := r.db.Exec(ctx, `DELETE FROM request_log WHERE requested_at < now() - $1::interval`, retention.String())
	return err
}
