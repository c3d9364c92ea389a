package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Beck89/mta-mls-worker/internal/models"
)

// ReplaceMediaTx replaces the full set of media rows owned by
// (parentKind, parentKey), preserving existing object-store keys/status
// for media keys that persist across the replace (so an already-
// downloaded asset is never re-queued just because its parent record
// was re-fetched).
func (r *Repository) ReplaceMediaTx(ctx context.Context, tx pgx.Tx, parentKind models.ResourceKind, parentKey string, incoming []models.Media) error {
	existing, err := r.mediaForParentTx(ctx, tx, parentKind, parentKey)
	if err != nil {
		return err
	}
	existingByKey := make(map[string]models.Media, len(existing))
	for _, m := range existing {
		existingByKey[m.MediaKey] = m
	}

	incomingKeys := make(map[string]bool, len(incoming))
	for i := range incoming {
		m := &incoming[i]
		incomingKeys[m.MediaKey] = true
		if prior, ok := existingByKey[m.MediaKey]; ok && prior.HasStoredBytes() {
			m.ObjectStoreKey = prior.ObjectStoreKey
			m.PublicURL = prior.PublicURL
			m.FileSizeBytes = prior.FileSizeBytes
			m.Status = prior.Status
			m.RetryCount = prior.RetryCount
		}
	}

	var toRemove []string
	for key := range existingByKey {
		if !incomingKeys[key] {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		if _, err := tx.Exec(ctx, `DELETE FROM media WHERE parent_kind = $1 AND parent_key = $2 AND media_key = $3`,
			string(parentKind), parentKey, key); err != nil {
			return err
		}
	}

	for _, m := range incoming {
		if err := upsertMediaTx(ctx, tx, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) mediaForParentTx(ctx context.Context, tx pgx.Tx, parentKind models.ResourceKind, parentKey string) ([]models.Media, error) {
	rows, err := tx.Query(ctx, mediaSelectSQL+` WHERE parent_kind = $1 AND parent_key = $2`, string(parentKind), parentKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMediaRows(rows)
}

const mediaSelectSQL = `
	SELECT media_key, parent_key, parent_kind, parent_listing_id, source_url, object_store_key,
	       public_url, "order", category, file_size_bytes, content_type, status, retry_count,
	       media_modification_ts, created_at, updated_at
	FROM media`

func scanMediaRows(rows pgx.Rows) ([]models.Media, error) {
	var out []models.Media
	for rows.Next() {
		m, err := scanMediaRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMediaRow(row pgx.Row) (*models.Media, error) {
	var m models.Media
	var parentKind string
	err := row.Scan(
		&m.MediaKey, &m.ParentKey, &parentKind, &m.ParentListingID, &m.SourceURL, &m.ObjectStoreKey,
		&m.PublicURL, &m.Order, &m.Category, &m.FileSizeBytes, &m.ContentType, &m.Status, &m.RetryCount,
		&m.MediaModTs, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.ParentKind = models.ResourceKind(parentKind)
	return &m, nil
}

func upsertMediaTx(ctx context.Context, tx pgx.Tx, m models.Media) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO media (
			media_key, parent_key, parent_kind, parent_listing_id, source_url, object_store_key,
			public_url, "order", category, file_size_bytes, content_type, status, retry_count,
			media_modification_ts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
		ON CONFLICT (parent_kind, parent_key, media_key) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			object_store_key = EXCLUDED.object_store_key,
			public_url = EXCLUDED.public_url,
			"order" = EXCLUDED."order",
			category = EXCLUDED.category,
			file_size_bytes = EXCLUDED.file_size_bytes,
			content_type = EXCLUDED.content_type,
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			media_modification_ts = EXCLUDED.media_modification_ts,
			updated_at = now()`,
		m.MediaKey, m.ParentKey, string(m.ParentKind), m.ParentListingID, m.SourceURL, m.ObjectStoreKey,
		m.PublicURL, m.Order, m.Category, m.FileSizeBytes, m.ContentType, string(m.Status), m.RetryCount,
		m.MediaModTs,
	)
	return err
}

// MarkMediaComplete records a successful download's object-store
// location and size.
func (r *Repository) MarkMediaComplete(ctx context.Context, parentKind models.ResourceKind, parentKey, mediaKey, objectStoreKey, publicURL string, size int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE media SET status = $1, object_store_key = $2, public_url = $3, file_size_bytes = $4, updated_at = now()
		WHERE parent_kind = $5 AND parent_key = $6 AND media_key = $7`,
		string(models.MediaComplete), objectStoreKey, publicURL, size,
		string(parentKind), parentKey, mediaKey,
	)
	return err
}

// MarkMediaFailed increments the retry count and sets status failed.
func (r *Repository) MarkMediaFailed(ctx context.Context, parentKind models.ResourceKind, parentKey, mediaKey string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE media SET status = $1, retry_count = retry_count + 1, updated_at = now()
		WHERE parent_kind = $2 AND parent_key = $3 AND media_key = $4`,
		string(models.MediaFailed), string(parentKind), parentKey, mediaKey,
	)
	return err
}

// MarkMediaExpired flags a media row whose signed URL aged out before
// download, so the downloader's recovery sweep knows to re-fetch the
// parent record for a fresh URL.
func (r *Repository) MarkMediaExpired(ctx context.Context, parentKind models.ResourceKind, parentKey, mediaKey string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE media SET status = $1, updated_at = now()
		WHERE parent_kind = $2 AND parent_key = $3 AND media_key = $4`,
		string(models.MediaExpired), string(parentKind), parentKey, mediaKey,
	)
	return err
}

// PendingMedia returns a batch of media rows awaiting download
// (pending_download or expired), oldest first, for the background
// downloader.
func (r *Repository) PendingMedia(ctx context.Context, limit int) ([]models.Media, error) {
	rows, err := r.db.Query(ctx, mediaSelectSQL+`
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
		LIMIT $3`,
		string(models.MediaPendingDownload), string(models.MediaExpired), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMediaRows(rows)
}

// FailedOrExpiredMedia returns media rows stuck in failed or expired
// status, oldest first, for the background downloader's recovery sweep —
// spec.md §4.E's periodic scan for rows that exhausted their retry
// ladder or whose signed URL aged out.
func (r *Repository) FailedOrExpiredMedia(ctx context.Context, limit int) ([]models.Media, error) {
	rows, err := r.db.Query(ctx, mediaSelectSQL+`
		WHERE status IN ($1, $2)
		ORDER BY updated_at ASC
		LIMIT $3`,
		string(models.MediaFailed), string(models.MediaExpired), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMediaRows(rows)
}

// MediaKeysForDeletion returns object-store keys for media rows whose
// parent listing is eligible for hard delete, so the caller can remove
// the objects before the cascading row delete.
func (r *Repository) MediaKeysForDeletion(ctx context.Context, parentKind models.ResourceKind, parentKey string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT object_store_key FROM media
		WHERE parent_kind = $1 AND parent_key = $2 AND object_store_key <> ''`,
		string(parentKind), parentKey,
	)
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

// AppendMediaDownloadLog records one completed download for audit and
// rate-limiter restart seeding.
func (r *Repository) AppendMediaDownloadLog(ctx context.Context, entry models.MediaDownloadLogEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO media_download_log (media_key, parent_key, bytes, elapsed_ms, downloaded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.MediaKey, entry.ParentKey, entry.Bytes, entry.ElapsedMs, entry.DownloadedAt,
	)
	return err
}

// RecentMediaDownloads returns (timestamp, bytes) pairs from the last
// window, used to seed the rate limiter's media-bandwidth window across
// a restart.
func (r *Repository) RecentMediaDownloads(ctx context.Context, window time.Duration) ([]struct {
	At    time.Time
	Bytes int64
}, error) {
	rows, err := r.db.Query(ctx, `
		SELECT downloaded_at, bytes FROM media_download_log
		WHERE downloaded_at > now() - $1::interval
		ORDER BY downloaded_at ASC`,
		window.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []struct {
		At    time.Time
		Bytes int64
	}
	for rows.Next() {
		var e struct {
			At    time.Time
			Bytes int64
		}
		if err := rows.Scan(&e.At, &e.Bytes); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MediaClaimingCompleteWithoutStorage returns media rows flagged
// complete but missing the object-store evidence a real download would
// leave — the integrity check the repair-media tool runs.
func (r *Repository) MediaClaimingCompleteWithoutStorage(ctx context.Context) ([]models.Media, error) {
	rows, err := r.db.Query(ctx, mediaSelectSQL+`
		WHERE status = $1 AND (object_store_key = '' OR public_url = '' OR file_size_bytes <= 0)`,
		string(models.MediaComplete),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMediaRows(rows)
}

// RequeueMedia resets a media row back to pending_download.
func (r *Repository) RequeueMedia(ctx context.Context, parentKind models.ResourceKind, parentKey, mediaKey string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE media SET status = $1, updated_at = now()
		WHERE parent_kind = $2 AND parent_key = $3 AND media_key = $4`,
		string(models.MediaPendingDownload), string(parentKind), parentKey, mediaKey,
	)
	return err
}
