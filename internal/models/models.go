// Package models holds the internal entity shapes the worker persists.
// These mirror the resource kinds described by the remote feed, with
// vendor-local fields segregated into LocalFields rather than kept as
// explicit struct members.
package models

import (
	"encoding/json"
	"time"
)

// ResourceKind identifies one of the replicated resource types.
type ResourceKind string

const (
	ResourceListing   ResourceKind = "Listing"
	ResourceMember    ResourceKind = "Member"
	ResourceOffice    ResourceKind = "Office"
	ResourceOpenHouse ResourceKind = "OpenHouse"
	ResourceLookup    ResourceKind = "Lookup"
)

// FeedResourceName maps a resource kind to the path segment the remote
// feed exposes it under (RESO Web API / MLS Grid convention: listings
// live under the "Property" resource).
func (k ResourceKind) FeedResourceName() string {
	if k == ResourceListing {
		return "Property"
	}
	return string(k)
}

// Listing represents the 'listings' table.
type Listing struct {
	Key                string    `json:"key"`
	ListingID          string    `json:"listing_id"`
	ListingIDDisplay   string    `json:"listing_id_display"`
	OriginatingSystem  string    `json:"originating_system"`
	CanView            bool      `json:"can_view"`
	UseCases           []string  `json:"use_cases"`
	StandardStatus     string    `json:"standard_status"`
	VendorStatus       string    `json:"vendor_status"`
	ListPrice          string    `json:"list_price,omitempty"`
	OriginalListPrice  string    `json:"original_list_price,omitempty"`
	PreviousListPrice  string    `json:"previous_list_price,omitempty"`
	LivingArea         string    `json:"living_area,omitempty"`
	PublicRemarks      string    `json:"public_remarks,omitempty"`
	PhotosCount        int       `json:"photos_count"`
	Latitude           *float64  `json:"latitude,omitempty"`
	Longitude          *float64  `json:"longitude,omitempty"`
	GeoPointWKT        string    `json:"geo_point_wkt,omitempty"`
	AgentKey           string    `json:"agent_key,omitempty"`
	OfficeKey          string    `json:"office_key,omitempty"`
	TaxAnnualAmount    string    `json:"tax_annual_amount,omitempty"`
	BuyerAgencyComp    string    `json:"buyer_agency_compensation,omitempty"`
	ElementarySchool   string    `json:"elementary_school,omitempty"`
	MiddleSchool       string    `json:"middle_or_junior_school,omitempty"`
	HighSchool         string    `json:"high_school,omitempty"`
	MajorChangeType    string    `json:"major_change_type,omitempty"`
	ModificationTs     time.Time `json:"modification_ts"`
	OriginatingModTs   time.Time `json:"originating_modification_ts"`
	PhotosChangeTs     time.Time `json:"photos_change_ts"`
	MajorChangeTs      time.Time `json:"major_change_ts"`
	OriginalEntryTs    time.Time `json:"original_entry_ts"`
	LocalFields        json.RawMessage `json:"local_fields,omitempty"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Room represents one row of the 'rooms' child collection, wholly owned by
// its parent Listing (cascade delete, whole-set replace on each upsert).
type Room struct {
	ListingKey  string `json:"listing_key"`
	RoomType    string `json:"room_type"`
	Level       string `json:"level,omitempty"`
	Dimensions  string `json:"dimensions,omitempty"`
	Description string `json:"description,omitempty"`
}

// UnitType represents one row of the 'unit_types' child collection.
type UnitType struct {
	ListingKey string `json:"listing_key"`
	TypeName   string `json:"type_name"`
	Beds       int    `json:"beds"`
	Baths      string `json:"baths,omitempty"`
	Rent       string `json:"rent,omitempty"`
}

// RawResponse holds the last mapper-input JSON for a listing, minus
// expanded sub-resources, one row per listing.
type RawResponse struct {
	ListingKey string          `json:"listing_key"`
	Payload    json.RawMessage `json:"payload"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// MediaStatus enumerates the lifecycle of a media asset.
type MediaStatus string

const (
	MediaPendingDownload MediaStatus = "pending_download"
	MediaComplete        MediaStatus = "complete"
	MediaFailed          MediaStatus = "failed"
	MediaExpired         MediaStatus = "expired"
)

// Media represents the 'media' table: one row per remote media
// sub-document, keyed by vendor media key, owned by a parent resource.
type Media struct {
	MediaKey       string      `json:"media_key"`
	ParentKey      string      `json:"parent_key"`
	ParentKind     ResourceKind `json:"parent_kind"`
	ParentListingID string     `json:"parent_listing_id,omitempty"`
	SourceURL      string      `json:"source_url,omitempty"`
	ObjectStoreKey string      `json:"object_store_key,omitempty"`
	PublicURL      string      `json:"public_url,omitempty"`
	Order          int         `json:"order"`
	Category       string      `json:"category,omitempty"`
	FileSizeBytes  int64       `json:"file_size_bytes"`
	ContentType    string      `json:"content_type,omitempty"`
	Status         MediaStatus `json:"status"`
	RetryCount     int         `json:"retry_count"`
	MediaModTs     time.Time   `json:"media_modification_ts"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// HasStoredBytes reports whether this row already has safely-stored bytes
// in the object store, independent of whatever its current Status says.
func (m Media) HasStoredBytes() bool {
	return m.ObjectStoreKey != "" && m.PublicURL != "" && m.FileSizeBytes > 0
}

// Member represents an agent ('members' table).
type Member struct {
	MemberKey      string    `json:"member_key"`
	MemberID       string    `json:"member_id"`
	FullName       string    `json:"full_name"`
	OfficeKey      string    `json:"office_key,omitempty"`
	Email          string    `json:"email,omitempty"`
	CanView        bool      `json:"can_view"`
	PhotosChangeTs time.Time `json:"photos_change_ts"`
	ModificationTs time.Time `json:"modification_ts"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	LocalFields    json.RawMessage `json:"local_fields,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Office represents a brokerage office ('offices' table).
type Office struct {
	OfficeKey      string    `json:"office_key"`
	OfficeID       string    `json:"office_id"`
	Name           string    `json:"name"`
	CanView        bool      `json:"can_view"`
	PhotosChangeTs time.Time `json:"photos_change_ts"`
	ModificationTs time.Time `json:"modification_ts"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	LocalFields    json.RawMessage `json:"local_fields,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OpenHouse represents an open-house event, referencing a listing by
// listing id (not key) — this foreign reference is intentionally
// unenforced: the schema declares no foreign key on open_houses.listing_id,
// since open houses replicate in their own loop and may arrive before
// their listing.
type OpenHouse struct {
	OpenHouseKey   string    `json:"open_house_key"`
	ListingID      string    `json:"listing_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Remarks        string    `json:"remarks,omitempty"`
	ModificationTs time.Time `json:"modification_ts"`
	LocalFields    json.RawMessage `json:"local_fields,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Lookup represents one enumerated domain value, keyed by
// (VendorSystem, LookupName, value).
type Lookup struct {
	VendorSystem   string    `json:"vendor_system"`
	LookupName     string    `json:"lookup_name"`
	Value          string    `json:"value"`
	DisplayValue   string    `json:"display_value,omitempty"`
	ModificationTs time.Time `json:"modification_ts"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PriceChangeType classifies a PriceHistory row.
type PriceChangeType string

const (
	PriceIncrease PriceChangeType = "Price Increase"
	PriceDecrease PriceChangeType = "Price Decrease"
)

// PriceHistory is an append-only record of a list-price change.
type PriceHistory struct {
	ID          int64           `json:"id"`
	ListingKey  string          `json:"listing_key"`
	OldPrice    string          `json:"old_price"`
	NewPrice    string          `json:"new_price"`
	ChangeType  PriceChangeType `json:"change_type"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// StatusHistory is an append-only record of a standard-status or
// visibility change, for listings, members, and offices alike — the
// visibility gate of spec.md §4.D step 1 applies to all three.
type StatusHistory struct {
	ID         int64        `json:"id"`
	ParentKind ResourceKind `json:"parent_kind"`
	ParentKey  string       `json:"parent_key"`
	OldStatus  string       `json:"old_status"`
	NewStatus  string       `json:"new_status"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// ChangeLog is an append-only record of any other watched-field change.
type ChangeLog struct {
	ID         int64     `json:"id"`
	ListingKey string    `json:"listing_key"`
	FieldName  string    `json:"field_name"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RunStatus enumerates the lifecycle of a replication cycle's run record.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial"
)

// RunMode distinguishes the two cycle modes of spec.md §4.F.
type RunMode string

const (
	ModeInitialImport RunMode = "initial_import"
	ModeReplication    RunMode = "replication"
)

// Run represents one row of the 'runs' table: one per replication cycle.
type Run struct {
	ID                 int64      `json:"id"`
	Resource           ResourceKind `json:"resource"`
	Mode               RunMode    `json:"mode"`
	Status             RunStatus  `json:"status"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	HWMStart           *time.Time `json:"hwm_start,omitempty"`
	HWMEnd             *time.Time `json:"hwm_end,omitempty"`
	RecordsReceived    int64      `json:"records_received"`
	RecordsInserted    int64      `json:"records_inserted"`
	RecordsUpdated     int64      `json:"records_updated"`
	RecordsDeleted     int64      `json:"records_deleted"`
	MediaDownloaded    int64      `json:"media_downloaded"`
	MediaDeleted       int64      `json:"media_deleted"`
	MediaBytes         int64      `json:"media_bytes"`
	RequestCount       int64      `json:"request_count"`
	RequestBytes       int64      `json:"request_bytes"`
	AvgLatencyMs       float64    `json:"avg_latency_ms"`
	HTTPErrorHistogram map[int]int64 `json:"http_error_histogram,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
}

// RequestLogEntry represents one row of the per-run HTTP request log.
type RequestLogEntry struct {
	RunID        int64     `json:"run_id"`
	URL          string    `json:"url"`
	StatusCode   int       `json:"status_code"`
	ElapsedMs    int64     `json:"elapsed_ms"`
	Bytes        int64     `json:"bytes"`
	RecordCount  int       `json:"record_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

// MediaDownloadLogEntry represents one audit row the background media
// downloader appends for every completed download.
type MediaDownloadLogEntry struct {
	MediaKey     string    `json:"media_key"`
	ParentKey    string    `json:"parent_key"`
	Bytes        int64     `json:"bytes"`
	ElapsedMs    int64     `json:"elapsed_ms"`
	DownloadedAt time.Time `json:"downloaded_at"`
}
