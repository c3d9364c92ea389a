package repository

import (
	"context"

	"github.com/Beck89/mta-mls-worker/internal/models"
)

// UpsertLookup inserts or updates one enumerated domain value, keyed by
// (vendor_system, lookup_name, value), reporting whether the row was
// newly created.
func (r *Repository) UpsertLookup(ctx context.Context, l *models.Lookup) (inserted bool, err error) {
	var wasUpdate bool
	err = r.db.QueryRow(ctx, `
		INSERT INTO lookups (vendor_system, lookup_name, value, display_value, modification_ts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (vendor_system, lookup_name, value) DO UPDATE SET
			display_value = EXCLUDED.display_value,
			modification_ts = EXCLUDED.modification_ts,
			updated_at = now()
		RETURNING (xmax <> 0)`,
		l.VendorSystem, l.LookupName, l.Value, l.DisplayValue, l.ModificationTs,
	).Scan(&wasUpdate)
	if err != nil {
		return false, err
	}
	return !wasUpdate, nil
}

// LookupsFor returns every known value for (vendorSystem, lookupName),
// used by the health/dashboard surface and admin tooling.
func (r *Repository) LookupsFor(ctx context.Context, vendorSystem, lookupName string) ([]models.Lookup, error) {
	rows, err := r.db.Query(ctx, `
		SELECT vendor_system, lookup_name, value, display_value, modification_ts, created_at, updated_at
		FROM lookups WHERE vendor_system = $1 AND lookup_name = $2`,
		vendorSystem, lookupName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Lookup
	for rows.Next() {
		var l models.Lookup
		if err := rows.Scan(&l.VendorSystem, &l.LookupName, &l.Value, &l.DisplayValue, &l.ModificationTs, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
