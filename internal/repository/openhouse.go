package repository

import (
	"context"

	"github.com/Beck89/mta-mls-worker/internal/models"
)

// UpsertOpenHouse inserts or updates one open-house row and reports
// whether the row was newly created, since the feed carries no separate
// signal for insert-vs-update on this resource.
func (r *Repository) UpsertOpenHouse(ctx context.Context, oh *models.OpenHouse) (inserted bool, err error) {
	var wasUpdate bool
	err = r.db.QueryRow(ctx, `
		INSERT INTO open_houses (open_house_key, listing_id, start_time, end_time, remarks, modification_ts, local_fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (open_house_key) DO UPDATE SET
			listing_id = EXCLUDED.listing_id,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			remarks = EXCLUDED.remarks,
			modification_ts = EXCLUDED.modification_ts,
			local_fields = EXCLUDED.local_fields,
			updated_at = now()
		RETURNING (xmax <> 0)`,
		oh.OpenHouseKey, oh.ListingID, oh.StartTime, oh.EndTime, oh.Remarks, oh.ModificationTs, nullableJSON(oh.LocalFields),
	).Scan(&wasUpdate)
	if err != nil {
		return false, err
	}
	return !wasUpdate, nil
}

// DeleteOpenHouse removes one open-house row (open houses are hard
// deleted on removal from the feed; there is no visibility concept for
// a point-in-time event).
func (r *Repository) DeleteOpenHouse(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM open_houses WHERE open_house_key = $1`, key)
	return err
}
