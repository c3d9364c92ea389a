package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Beck89/mta-mls-worker/internal/models"
)

// GetMember loads one member row, or nil if absent.
func (r *Repository) GetMember(ctx context.Context, key string) (*models.Member, error) {
	row := r.db.QueryRow(ctx, `
		SELECT member_key, member_id, full_name, office_key, email, can_view,
		       photos_change_ts, modification_ts, deleted_at, local_fields, created_at, updated_at
		FROM members WHERE member_key = $1`, key)

	var m models.Member
	var localFields []byte
	err := row.Scan(&m.MemberKey, &m.MemberID, &m.FullName, &m.OfficeKey, &m.Email, &m.CanView,
		&m.PhotosChangeTs, &m.ModificationTs, &m.DeletedAt, &localFields, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(localFields) > 0 {
		m.LocalFields = json.RawMessage(localFields)
	}
	return &m, nil
}

// UpsertMember inserts or updates one member row.
func (r *Repository) UpsertMember(ctx context.Context, m *models.Member) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO members (member_key, member_id, full_name, office_key, email, can_view,
		                      photos_change_ts, modification_ts, local_fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (member_key) DO UPDATE SET
			member_id = EXCLUDED.member_id,
			full_name = EXCLUDED.full_name,
			office_key = EXCLUDED.office_key,
			email = EXCLUDED.email,
			can_view = EXCLUDED.can_view,
			photos_change_ts = EXCLUDED.photos_change_ts,
			modification_ts = EXCLUDED.modification_ts,
			local_fields = EXCLUDED.local_fields,
			updated_at = now()`,
		m.MemberKey, m.MemberID, m.FullName, m.OfficeKey, m.Email, m.CanView,
		m.PhotosChangeTs, m.ModificationTs, nullableJSON(m.LocalFields),
	)
	return err
}

// SoftHideMember marks a member no longer visible.
func (r *Repository) SoftHideMember(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, `UPDATE members SET can_view = false, updated_at = now() WHERE member_key = $1`, key)
	return err
}

// GetOffice loads one office row, or nil if absent.
func (r *Repository) GetOffice(ctx context.Context, key string) (*models.Office, error) {
	row := r.db.QueryRow(ctx, `
		SELECT office_key, office_id, name, can_view, photos_change_ts, modification_ts,
		       deleted_at, local_fields, created_at, updated_at
		FROM offices WHERE office_key = $1`, key)

	var o models.Office
	var localFields []byte
	err := row.Scan(&o.OfficeKey, &o.OfficeID, &o.Name, &o.CanView, &o.PhotosChangeTs, &o.ModificationTs,
		&o.DeletedAt, &localFields, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(localFields) > 0 {
		o.LocalFields = json.RawMessage(localFields)
	}
	return &o, nil
}

// UpsertOffice inserts or updates one office row.
func (r *Repository) UpsertOffice(ctx context.Context, o *models.Office) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO offices (office_key, office_id, name, can_view, photos_change_ts, modification_ts, local_fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (office_key) DO UPDATE SET
			office_id = EXCLUDED.office_id,
			name = EXCLUDED.name,
			can_view = EXCLUDED.can_view,
			photos_change_ts = EXCLUDED.photos_change_ts,
			modification_ts = EXCLUDED.modification_ts,
			local_fields = EXCLUDED.local_fields,
			updated_at = now()`,
		o.OfficeKey, o.OfficeID, o.Name, o.CanView, o.PhotosChangeTs, o.ModificationTs, nullableJSON(o.LocalFields),
	)
	return err
}

// SoftHideOffice marks an office no longer visible.
func (r *Repository) SoftHideOffice(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, `UPDATE offices SET can_view = false, updated_at = now() WHERE office_key = $1`, key)
	return err
}
