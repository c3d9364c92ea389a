// Package mapper translates raw feed JSON into internal entity shapes.
// It is a pure function layer: no I/O, no side effects, so it can be
// tested with plain table-driven tests and reused by both the inline
// pipeline and any future replay tooling.
package mapper

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Beck89/mta-mls-worker/internal/feederr"
	"github.com/Beck89/mta-mls-worker/internal/models"
)

// vendorPrefix matches a 2-3 letter uppercase vendor prefix followed by
// an underscore, e.g. "MTA_", "RMX_".
var vendorPrefix = regexp.MustCompile(`^[A-Z]{2,3}_`)

// expandedKeys are the sub-resource arrays stripped from the raw archive
// and handled as their own entities instead.
var expandedKeys = map[string]bool{
	"Media":     true,
	"Rooms":     true,
	"UnitTypes": true,
}

// IsVendorLocalField reports whether a JSON attribute name belongs in
// LocalFields rather than an explicit column.
func IsVendorLocalField(name string) bool {
	return vendorPrefix.MatchString(name)
}

// partitionFields walks a raw record map once, returning the
// non-vendor-local keys untouched and a JSON-encoded bag of the
// vendor-local residuals.
func partitionFields(raw map[string]json.RawMessage) (explicit map[string]json.RawMessage, localFields json.RawMessage, err error) {
	explicit = make(map[string]json.RawMessage, len(raw))
	local := make(map[string]json.RawMessage)
	for k, v := range raw {
		if expandedKeys[k] {
			continue
		}
		if IsVendorLocalField(k) {
			local[k] = v
			continue
		}
		explicit[k] = v
	}
	if len(local) == 0 {
		return explicit, nil, nil
	}
	b, err := json.Marshal(local)
	if err != nil {
		return nil, nil, err
	}
	return explicit, b, nil
}

func stringField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// Numbers/bools may arrive unquoted; fall back to raw text.
	return strings.Trim(string(raw), `"`)
}

func boolField(m map[string]json.RawMessage, key string) bool {
	raw, ok := m[key]
	if !ok {
		return false
	}
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func intField(m map[string]json.RawMessage, key string) int {
	raw, ok := m[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	return 0
}

func floatPtrField(m map[string]json.RawMessage, key string) *float64 {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return &f
}

// decimalField preserves a money/measurement field as its original
// decimal string representation rather than round-tripping it through a
// float.
func decimalField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	s := strings.Trim(string(raw), `"`)
	if s == "null" {
		return ""
	}
	return s
}

// timeField parses an ISO-8601 timestamp string. A missing field yields
// the zero time; a malformed one is returned as an error so the caller
// can decide whether the field is required.
func timeField(m map[string]json.RawMessage, key string) (time.Time, error) {
	raw, ok := m[key]
	if !ok {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return t, nil
}

func stringSliceField(m map[string]json.RawMessage, key string) []string {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	var s []string
	_ = json.Unmarshal(raw, &s)
	return s
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// WKTPoint renders a spatial point in well-known-text form, or "" if
// either coordinate is missing.
func WKTPoint(lat, lng *float64) string {
	if lat == nil || lng == nil {
		return ""
	}
	return fmt.Sprintf("SRID=4326;POINT(%s %s)", trimFloat(*lng), trimFloat(*lat))
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// StripExpanded returns the input record with Media/Rooms/UnitTypes
// removed, for archive storage. The returned bytes re-marshal the
// remaining keys; combined with the removed sub-resources they
// reconstruct the original input.
func StripExpanded(raw json.RawMessage) (json.RawMessage, error) {
	m, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	for k := range expandedKeys {
		delete(m, k)
	}
	return json.Marshal(m)
}

// MapListing translates one raw Property record into a Listing plus its
// owned child collections and media.
func MapListing(raw json.RawMessage) (*models.Listing, []models.Room, []models.UnitType, []models.Media, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, nil, nil, nil, &feederr.MappingError{Field: "<root>", Err: err}
	}

	key := stringField(obj, "ListingKey")
	if key == "" {
		return nil, nil, nil, nil, &feederr.MappingError{Field: "ListingKey", Err: fmt.Errorf("missing required key")}
	}

	modTs, err := timeField(obj, "ModificationTimestamp")
	if err != nil || modTs.IsZero() {
		if err == nil {
			err = fmt.Errorf("missing required timestamp")
		}
		return nil, nil, nil, nil, &feederr.MappingError{Field: "ModificationTimestamp", Value: stringField(obj, "ModificationTimestamp"), Err: err}
	}

	originatingModTs, _ := timeField(obj, "OriginatingSystemModificationTimestamp")
	photosChangeTs, _ := timeField(obj, "PhotosChangeTimestamp")
	majorChangeTs, _ := timeField(obj, "MajorChangeTimestamp")
	originalEntryTs, _ := timeField(obj, "OriginalEntryTimestamp")

	lat := floatPtrField(obj, "Latitude")
	lng := floatPtrField(obj, "Longitude")

	explicit, localFields, err := partitionFields(obj)
	if err != nil {
		return nil, nil, nil, nil, &feederr.MappingError{Field: "<local-fields>", Err: err}
	}

	listingID := stringField(obj, "ListingId")

	listing := &models.Listing{
		Key:               key,
		ListingID:         listingID,
		ListingIDDisplay:  stripVendorPrefix(listingID),
		OriginatingSystem: stringField(obj, "OriginatingSystemName"),
		CanView:           boolField(obj, "MlgCanView"),
		UseCases:          stringSliceField(obj, "MlgCanUse"),
		StandardStatus:    stringField(obj, "StandardStatus"),
		VendorStatus:      stringField(obj, "MlsStatus"),
		ListPrice:         decimalField(explicit, "ListPrice"),
		OriginalListPrice: decimalField(explicit, "OriginalListPrice"),
		PreviousListPrice: decimalField(explicit, "PreviousListPrice"),
		LivingArea:        decimalField(explicit, "LivingArea"),
		PublicRemarks:     stringField(obj, "PublicRemarks"),
		PhotosCount:       intField(obj, "PhotosCount"),
		Latitude:          lat,
		Longitude:         lng,
		GeoPointWKT:       WKTPoint(lat, lng),
		AgentKey:          stringField(obj, "ListAgentKey"),
		OfficeKey:         stringField(obj, "ListOfficeKey"),
		TaxAnnualAmount:   decimalField(explicit, "TaxAnnualAmount"),
		BuyerAgencyComp:   decimalField(explicit, "BuyerAgencyCompensation"),
		ElementarySchool:  stringField(obj, "ElementarySchool"),
		MiddleSchool:      stringField(obj, "MiddleOrJuniorSchool"),
		HighSchool:        stringField(obj, "HighSchool"),
		MajorChangeType:   stringField(obj, "MajorChangeType"),
		ModificationTs:    modTs,
		OriginatingModTs:  originatingModTs,
		PhotosChangeTs:    photosChangeTs,
		MajorChangeTs:     majorChangeTs,
		OriginalEntryTs:   originalEntryTs,
		LocalFields:       localFields,
	}

	rooms := mapRooms(obj, key)
	unitTypes := mapUnitTypes(obj, key)
	media, err := mapMedia(obj, models.ResourceListing, key, listingID)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	return listing, rooms, unitTypes, media, nil
}

// listingIDPrefix matches the 2-3 letter vendor prefix of a ListingId,
// with or without a trailing underscore ("MTA12345", "MTA_12345").
var listingIDPrefix = regexp.MustCompile(`^[A-Z]{2,3}_?`)

func stripVendorPrefix(listingID string) string {
	return listingIDPrefix.ReplaceAllString(listingID, "")
}

func mapRooms(obj map[string]json.RawMessage, listingKey string) []models.Room {
	raw, ok := obj["Rooms"]
	if !ok {
		return nil
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	rooms := make([]models.Room, 0, len(items))
	for _, it := range items {
		rooms = append(rooms, models.Room{
			ListingKey:  listingKey,
			RoomType:    stringField(it, "RoomType"),
			Level:       stringField(it, "RoomLevel"),
			Dimensions:  stringField(it, "RoomDimensions"),
			Description: stringField(it, "RoomDescription"),
		})
	}
	return rooms
}

func mapUnitTypes(obj map[string]json.RawMessage, listingKey string) []models.UnitType {
	raw, ok := obj["UnitTypes"]
	if !ok {
		return nil
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	units := make([]models.UnitType, 0, len(items))
	for _, it := range items {
		units = append(units, models.UnitType{
			ListingKey: listingKey,
			TypeName:   stringField(it, "UnitTypeType"),
			Beds:       intField(it, "UnitTypeBedsTotal"),
			Baths:      decimalField(it, "UnitTypeBathsTotal"),
			Rent:       decimalField(it, "UnitTypeActualRent"),
		})
	}
	return units
}

// mapMedia maps the Media sub-resource into internal Media rows, one per
// input document that has a MediaKey (documents without one are skipped),
// initial status pending_download, order defaulting to array position.
func mapMedia(obj map[string]json.RawMessage, kind models.ResourceKind, parentKey, parentListingID string) ([]models.Media, error) {
	raw, ok := obj["Media"]
	if !ok {
		return nil, nil
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &feederr.MappingError{Field: "Media", Err: err}
	}
	out := make([]models.Media, 0, len(items))
	for i, it := range items {
		mediaKey := stringField(it, "MediaKey")
		if mediaKey == "" {
			continue
		}
		order := intField(it, "Order")
		if _, ok := it["Order"]; !ok {
			order = i
		}
		modTs, _ := timeField(it, "MediaModificationTimestamp")
		contentType := stringField(it, "MimeType")
		ext := extensionForContentType(contentType)
		out = append(out, models.Media{
			MediaKey:        mediaKey,
			ParentKey:       parentKey,
			ParentKind:      kind,
			ParentListingID: parentListingID,
			SourceURL:       stringField(it, "MediaURL"),
			ObjectStoreKey:  ObjectStoreKey(kind, parentKey, mediaKey, ext),
			Order:           order,
			Category:        stringField(it, "MediaCategory"),
			ContentType:     contentType,
			Status:          models.MediaPendingDownload,
			MediaModTs:      modTs,
		})
	}
	return out, nil
}

// ObjectStoreKey computes the deterministic object-store key for a media
// asset, per spec.md §6: {resourceType}/{parentKey}/{mediaKey}.{ext}
func ObjectStoreKey(kind models.ResourceKind, parentKey, mediaKey, ext string) string {
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%s/%s.%s", kind, parentKey, mediaKey, ext)
}

func extensionForContentType(ct string) string {
	switch strings.ToLower(ct) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "video/mp4":
		return "mp4"
	case "application/pdf":
		return "pdf"
	default:
		return ""
	}
}

// MapMember translates one raw Member record.
func MapMember(raw json.RawMessage) (*models.Member, []models.Media, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, nil, &feederr.MappingError{Field: "<root>", Err: err}
	}
	key := stringField(obj, "MemberKey")
	if key == "" {
		return nil, nil, &feederr.MappingError{Field: "MemberKey", Err: fmt.Errorf("missing required key")}
	}
	modTs, err := timeField(obj, "ModificationTimestamp")
	if err != nil || modTs.IsZero() {
		if err == nil {
			err = fmt.Errorf("missing required timestamp")
		}
		return nil, nil, &feederr.MappingError{Field: "ModificationTimestamp", Err: err}
	}
	photosChangeTs, _ := timeField(obj, "PhotosChangeTimestamp")
	_, localFields, err := partitionFields(obj)
	if err != nil {
		return nil, nil, &feederr.MappingError{Field: "<local-fields>", Err: err}
	}
	member := &models.Member{
		MemberKey:      key,
		MemberID:       stringField(obj, "MemberMlsId"),
		FullName:       stringField(obj, "MemberFullName"),
		OfficeKey:      stringField(obj, "OfficeKey"),
		Email:          stringField(obj, "MemberEmail"),
		CanView:        boolField(obj, "MlgCanView"),
		PhotosChangeTs: photosChangeTs,
		ModificationTs: modTs,
		LocalFields:    localFields,
	}
	media, err := mapMedia(obj, models.ResourceMember, key, "")
	if err != nil {
		return nil, nil, err
	}
	return member, media, nil
}

// MapOffice translates one raw Office record.
func MapOffice(raw json.RawMessage) (*models.Office, []models.Media, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, nil, &feederr.MappingError{Field: "<root>", Err: err}
	}
	key := stringField(obj, "OfficeKey")
	if key == "" {
		return nil, nil, &feederr.MappingError{Field: "OfficeKey", Err: fmt.Errorf("missing required key")}
	}
	modTs, err := timeField(obj, "ModificationTimestamp")
	if err != nil || modTs.IsZero() {
		if err == nil {
			err = fmt.Errorf("missing required timestamp")
		}
		return nil, nil, &feederr.MappingError{Field: "ModificationTimestamp", Err: err}
	}
	photosChangeTs, _ := timeField(obj, "PhotosChangeTimestamp")
	_, localFields, err := partitionFields(obj)
	if err != nil {
		return nil, nil, &feederr.MappingError{Field: "<local-fields>", Err: err}
	}
	office := &models.Office{
		OfficeKey:      key,
		OfficeID:       stringField(obj, "OfficeMlsId"),
		Name:           stringField(obj, "OfficeName"),
		CanView:        boolField(obj, "MlgCanView"),
		PhotosChangeTs: photosChangeTs,
		ModificationTs: modTs,
		LocalFields:    localFields,
	}
	media, err := mapMedia(obj, models.ResourceOffice, key, "")
	if err != nil {
		return nil, nil, err
	}
	return office, media, nil
}

// MapOpenHouse translates one raw OpenHouse record.
func MapOpenHouse(raw json.RawMessage) (*models.OpenHouse, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, &feederr.MappingError{Field: "<root>", Err: err}
	}
	key := stringField(obj, "OpenHouseKey")
	if key == "" {
		return nil, &feederr.MappingError{Field: "OpenHouseKey", Err: fmt.Errorf("missing required key")}
	}
	modTs, err := timeField(obj, "ModificationTimestamp")
	if err != nil || modTs.IsZero() {
		if err == nil {
			err = fmt.Errorf("missing required timestamp")
		}
		return nil, &feederr.MappingError{Field: "ModificationTimestamp", Err: err}
	}
	start, _ := timeField(obj, "OpenHouseStartTime")
	end, _ := timeField(obj, "OpenHouseEndTime")
	_, localFields, err := partitionFields(obj)
	if err != nil {
		return nil, &feederr.MappingError{Field: "<local-fields>", Err: err}
	}
	return &models.OpenHouse{
		OpenHouseKey:   key,
		ListingID:      stringField(obj, "ListingId"),
		StartTime:      start,
		EndTime:        end,
		Remarks:        stringField(obj, "OpenHouseRemarks"),
		ModificationTs: modTs,
		LocalFields:    localFields,
	}, nil
}

// CanViewFlag extracts the MlgCanView visibility flag from a raw record.
// OpenHouse has no visibility column of its own (it is hard-deleted on
// canView=false rather than soft-hidden), so the ingest pipeline reads
// the flag directly off the raw payload instead of a mapped field.
func CanViewFlag(raw json.RawMessage) bool {
	obj, err := decodeObject(raw)
	if err != nil {
		return true
	}
	if _, ok := obj["MlgCanView"]; !ok {
		return true
	}
	return boolField(obj, "MlgCanView")
}

// MapLookup translates one raw Lookup record.
func MapLookup(raw json.RawMessage) (*models.Lookup, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, &feederr.MappingError{Field: "<root>", Err: err}
	}
	vendorSystem := stringField(obj, "LookupVendorSystem")
	name := stringField(obj, "LookupName")
	value := stringField(obj, "LookupValue")
	if vendorSystem == "" || name == "" || value == "" {
		return nil, &feederr.MappingError{Field: "LookupVendorSystem/LookupName/LookupValue", Err: fmt.Errorf("missing required key component")}
	}
	modTs, _ := timeField(obj, "ModificationTimestamp")
	return &models.Lookup{
		VendorSystem:   vendorSystem,
		LookupName:     name,
		Value:          value,
		DisplayValue:   stringField(obj, "LookupDisplayValue"),
		ModificationTs: modTs,
	}, nil
}
