package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Beck89/mta-mls-worker/internal/models"
)

// GetListing loads the current row for key, or nil if absent — the
// "load existing" step of the per-record pipeline's diff stage.
func (r *Repository) GetListing(ctx context.Context, key string) (*models.Listing, error) {
	l, err := scanListing(r.db.QueryRow(ctx, listingSelectSQL+" WHERE key = $1", key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

const listingSelectSQL = `
	SELECT key, listing_id, listing_id_display, originating_system, can_view, use_cases,
	       standard_status, vendor_status, list_price, original_list_price, previous_list_price,
	       living_area, public_remarks, photos_count, latitude, longitude, geo_point_wkt,
	       agent_key, office_key, tax_annual_amount, buyer_agency_compensation,
	       elementary_school, middle_or_junior_school, high_school, major_change_type,
	       modification_ts, originating_modification_ts, photos_change_ts, major_change_ts,
	       original_entry_ts, local_fields, deleted_at, created_at, updated_at
	FROM listings`

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var localFields []byte
	err := row.Scan(
		&l.Key, &l.ListingID, &l.ListingIDDisplay, &l.OriginatingSystem, &l.CanView, &l.UseCases,
		&l.StandardStatus, &l.VendorStatus, &l.ListPrice, &l.OriginalListPrice, &l.PreviousListPrice,
		&l.LivingArea, &l.PublicRemarks, &l.PhotosCount, &l.Latitude, &l.Longitude, &l.GeoPointWKT,
		&l.AgentKey, &l.OfficeKey, &l.TaxAnnualAmount, &l.BuyerAgencyComp,
		&l.ElementarySchool, &l.MiddleSchool, &l.HighSchool, &l.MajorChangeType,
		&l.ModificationTs, &l.OriginatingModTs, &l.PhotosChangeTs, &l.MajorChangeTs,
		&l.OriginalEntryTs, &localFields, &l.DeletedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(localFields) > 0 {
		l.LocalFields = json.RawMessage(localFields)
	}
	return &l, nil
}

// UpsertListingTx upserts listing plus its rooms/unit-types (whole-set
// replace) and raw archive payload, all inside tx — the atomic
// children-replace-and-archive-upsert step of spec.md §4.D.
func (r *Repository) UpsertListingTx(ctx context.Context, tx pgx.Tx, l *models.Listing, rooms []models.Room, units []models.UnitType, rawPayload json.RawMessage) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO listings (
			key, listing_id, listing_id_display, originating_system, can_view, use_cases,
			standard_status, vendor_status, list_price, original_list_price, previous_list_price,
			living_area, public_remarks, photos_count, latitude, longitude, geo_point_wkt, geo_point,
			agent_key, office_key, tax_annual_amount, buyer_agency_compensation,
			elementary_school, middle_or_junior_school, high_school, major_change_type,
			modification_ts, originating_modification_ts, photos_change_ts, major_change_ts,
			original_entry_ts, local_fields, deleted_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, ST_GeogFromText(NULLIF($17, '')),
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, now(), now()
		)
		ON CONFLICT (key) DO UPDATE SET
			listing_id = EXCLUDED.listing_id,
			listing_id_display = EXCLUDED.listing_id_display,
			originating_system = EXCLUDED.originating_system,
			can_view = EXCLUDED.can_view,
			use_cases = EXCLUDED.use_cases,
			standard_status = EXCLUDED.standard_status,
			vendor_status = EXCLUDED.vendor_status,
			list_price = EXCLUDED.list_price,
			original_list_price = EXCLUDED.original_list_price,
			previous_list_price = EXCLUDED.previous_list_price,
			living_area = EXCLUDED.living_area,
			public_remarks = EXCLUDED.public_remarks,
			photos_count = EXCLUDED.photos_count,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			geo_point_wkt = EXCLUDED.geo_point_wkt,
			geo_point = EXCLUDED.geo_point,
			agent_key = EXCLUDED.agent_key,
			office_key = EXCLUDED.office_key,
			tax_annual_amount = EXCLUDED.tax_annual_amount,
			buyer_agency_compensation = EXCLUDED.buyer_agency_compensation,
			elementary_school = EXCLUDED.elementary_school,
			middle_or_junior_school = EXCLUDED.middle_or_junior_school,
			high_school = EXCLUDED.high_school,
			major_change_type = EXCLUDED.major_change_type,
			modification_ts = EXCLUDED.modification_ts,
			originating_modification_ts = EXCLUDED.originating_modification_ts,
			photos_change_ts = EXCLUDED.photos_change_ts,
			major_change_ts = EXCLUDED.major_change_ts,
			original_entry_ts = EXCLUDED.original_entry_ts,
			local_fields = EXCLUDED.local_fields,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = now()`,
		l.Key, l.ListingID, l.ListingIDDisplay, l.OriginatingSystem, l.CanView, l.UseCases,
		l.StandardStatus, l.VendorStatus, l.ListPrice, l.OriginalListPrice, l.PreviousListPrice,
		l.LivingArea, l.PublicRemarks, l.PhotosCount, l.Latitude, l.Longitude, l.GeoPointWKT,
		l.AgentKey, l.OfficeKey, l.TaxAnnualAmount, l.BuyerAgencyComp,
		l.ElementarySchool, l.MiddleSchool, l.HighSchool, l.MajorChangeType,
		l.ModificationTs, l.OriginatingModTs, l.PhotosChangeTs, l.MajorChangeTs,
		l.OriginalEntryTs, nullableJSON(l.LocalFields), l.DeletedAt,
	)
	if err != nil {
		return err
	}

	if err := replaceRoomsTx(ctx, tx, l.Key, rooms); err != nil {
		return err
	}
	if err := replaceUnitTypesTx(ctx, tx, l.Key, units); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO raw_responses (listing_key, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (listing_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		l.Key, []byte(rawPayload),
	)
	return err
}

func replaceRoomsTx(ctx context.Context, tx pgx.Tx, listingKey string, rooms []models.Room) error {
	if _, err := tx.Exec(ctx, `DELETE FROM rooms WHERE listing_key = $1`, listingKey); err != nil {
		return err
	}
	for _, rm := range rooms {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rooms (listing_key, room_type, level, dimensions, description)
			VALUES ($1, $2, $3, $4, $5)`,
			listingKey, rm.RoomType, rm.Level, rm.Dimensions, rm.Description,
		); err != nil {
			return err
		}
	}
	return nil
}

func replaceUnitTypesTx(ctx context.Context, tx pgx.Tx, listingKey string, units []models.UnitType) error {
	if _, err := tx.Exec(ctx, `DELETE FROM unit_types WHERE listing_key = $1`, listingKey); err != nil {
		return err
	}
	for _, u := range units {
		if _, err := tx.Exec(ctx, `
			INSERT INTO unit_types (listing_key, type_name, beds, baths, rent)
			VALUES ($1, $2, $3, $4, $5)`,
			listingKey, u.TypeName, u.Beds, u.Baths, u.Rent,
		); err != nil {
			return err
		}
	}
	return nil
}

// SoftHideListing marks a listing as no longer visible without deleting
// it or its media, per spec.md's soft-hide semantics.
func (r *Repository) SoftHideListing(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, `UPDATE listings SET can_view = false, updated_at = now() WHERE key = $1`, key)
	return err
}

// HardDeleteListing removes a listing and cascades to its rooms,
// unit types, media, and raw archive — invoked only by the scheduler's
// daily hard-delete cleanup for rows that have been soft-hidden past the
// retention window.
func (r *Repository) HardDeleteListing(ctx context.Context, key string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM rooms WHERE listing_key = $1`,
		`DELETE FROM unit_types WHERE listing_key = $1`,
		`DELETE FROM media WHERE parent_kind = 'Listing' AND parent_key = $1`,
		`DELETE FROM raw_responses WHERE listing_key = $1`,
		`DELETE FROM price_history WHERE listing_key = $1`,
		`DELETE FROM status_history WHERE parent_kind = 'Listing' AND parent_key = $1`,
		`DELETE FROM change_log WHERE listing_key = $1`,
		`DELETE FROM listings WHERE key = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, key); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListingsEligibleForHardDelete returns keys of listings that have been
// soft-hidden (can_view = false) for longer than retention.
func (r *Repository) ListingsEligibleForHardDelete(ctx context.Context, retention time.Duration) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT key FROM listings
		WHERE can_view = false AND updated_at < now() - $1::interval`,
		retention.String(),
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

// BeginTx opens a transaction. Exposed so the ingest pipeline can span
// listing upsert (with children and raw archive) and media row writes in
// one commit per spec.md §4.D step 4-5; history inserts run after the
// commit, outside it.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
