package repository

import (
	"context"

	"github.com/Beck89/mta-mls-worker/internal/models"
)

// InsertPriceHistory appends one price-change record. Runs as an
// independent statement per spec.md's explicit carve-out (history is
// append-only audit trail, not part of the listing's atomic commit).
func (r *Repository) InsertPriceHistory(ctx context.Context, h models.PriceHistory) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO price_history (listing_key, old_price, new_price, change_type, recorded_at)
		VALUES ($1, $2, $3, $4, now())`,
		h.ListingKey, h.OldPrice, h.NewPrice, string(h.ChangeType),
	)
	return err
}

// InsertStatusHistory appends one status/visibility change record for a
// listing, member, or office.
func (r *Repository) InsertStatusHistory(ctx context.Context, h models.StatusHistory) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO status_history (parent_kind, parent_key, old_status, new_status, recorded_at)
		VALUES ($1, $2, $3, $4, now())`,
		string(h.ParentKind), h.ParentKey, h.OldStatus, h.NewStatus,
	)
	return err
}

// InsertChangeLog appends one watched-field change record.
func (r *Repository) InsertChangeLog(ctx context.Context, c models.ChangeLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO change_log (listing_key, field_name, old_value, new_value, recorded_at)
		VALUES ($1, $2, $3, $4, now())`,
		c.ListingKey, c.FieldName, c.OldValue, c.NewValue,
	)
	return err
}
