package mapper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Beck89/mta-mls-worker/internal/models"
)

func TestMapListingPartitionsVendorLocalFields(t *testing.T) {
	raw := []byte(`{
		"ListingKey": "L1",
		"ListingId": "MTA12345",
		"OriginatingSystemName": "MTA",
		"MlgCanView": true,
		"StandardStatus": "Active",
		"ListPrice": "450000.00",
		"ModificationTimestamp": "2026-07-01T12:00:00Z",
		"Latitude": 40.1,
		"Longitude": -75.2,
		"MTA_InternalNotes": "do not syndicate",
		"MTA_Score": 7
	}`)

	listing, _, _, _, err := MapListing(raw)
	require.NoError(t, err)

	assert.Equal(t, "L1", listing.Key)
	assert.Equal(t, "450000.00", listing.ListPrice)
	assert.Equal(t, "SRID=4326;POINT(-75.2 40.1)", listing.GeoPointWKT)
	assert.Equal(t, "12345", listing.ListingIDDisplay)

	var local map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(listing.LocalFields, &local))
	assert.Contains(t, local, "MTA_InternalNotes")
	assert.Contains(t, local, "MTA_Score")
	assert.NotContains(t, local, "ListPrice")
}

func TestMapListingRejectsMalformedModificationTimestamp(t *testing.T) {
	raw := []byte(`{
		"ListingKey": "L1",
		"ModificationTimestamp": "not-a-timestamp"
	}`)

	_, _, _, _, err := MapListing(raw)
	require.Error(t, err)
}

func TestMapListingRequiresListingKey(t *testing.T) {
	raw := []byte(`{"ModificationTimestamp": "2026-07-01T12:00:00Z"}`)
	_, _, _, _, err := MapListing(raw)
	require.Error(t, err)
}

func TestMapListingMapsExpandedChildren(t *testing.T) {
	raw := []byte(`{
		"ListingKey": "L1",
		"ModificationTimestamp": "2026-07-01T12:00:00Z",
		"Rooms": [{"RoomType": "Bedroom", "RoomLevel": "Main", "RoomDimensions": "10x12"}],
		"UnitTypes": [{"UnitTypeType": "1BR", "UnitTypeBedsTotal": 1, "UnitTypeActualRent": "1500.00"}],
		"Media": [{"MediaKey": "M1", "MediaURL": "https://cdn/1.jpg?expires=1", "MimeType": "image/jpeg", "Order": 0}]
	}`)

	listing, rooms, units, media, err := MapListing(raw)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Bedroom", rooms[0].RoomType)
	assert.Equal(t, listing.Key, rooms[0].ListingKey)

	require.Len(t, units, 1)
	assert.Equal(t, "1500.00", units[0].Rent)

	require.Len(t, media, 1)
	assert.Equal(t, "M1", media[0].MediaKey)
	assert.Equal(t, "Listing/L1/M1.jpg", media[0].ObjectStoreKey)
	assert.Equal(t, models.MediaPendingDownload, media[0].Status)
}

func TestStripExpandedRemovesSubResourcesOnly(t *testing.T) {
	raw := []byte(`{"ListingKey": "L1", "StandardStatus": "Active", "Media": [{"MediaKey": "M1"}], "Rooms": [], "UnitTypes": []}`)
	stripped, err := StripExpanded(raw)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(stripped, &m))
	assert.Contains(t, m, "ListingKey")
	assert.Contains(t, m, "StandardStatus")
	assert.NotContains(t, m, "Media")
	assert.NotContains(t, m, "Rooms")
	assert.NotContains(t, m, "UnitTypes")
}

func TestObjectStoreKeyIsDeterministic(t *testing.T) {
	k1 := ObjectStoreKey(models.ResourceListing, "L1", "M1", "jpg")
	k2 := ObjectStoreKey(models.ResourceListing, "L1", "M1", "jpg")
	assert.Equal(t, k1, k2)
	assert.Equal(t, "Listing/L1/M1.jpg", k1)
}

func TestObjectStoreKeyDefaultsExtensionWhenUnknown(t *testing.T) {
	k := ObjectStoreKey(models.ResourceMember, "MemKey", "M9", "")
	assert.Equal(t, "Member/MemKey/M9.bin", k)
}

func TestMapMemberPartitionsLocalFields(t *testing.T) {
	raw := []byte(`{
		"MemberKey": "MB1",
		"MemberMlsId": "12345",
		"MemberFullName": "Jane Agent",
		"ModificationTimestamp": "2026-07-01T12:00:00Z",
		"RMX_AgentTier": "gold"
	}`)
	member, _, err := MapMember(raw)
	require.NoError(t, err)
	assert.Equal(t, "MB1", member.MemberKey)
	var local map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(member.LocalFields, &local))
	assert.Contains(t, local, "RMX_AgentTier")
}

func TestMapOpenHouseRequiresKeyAndTimestamp(t *testing.T) {
	_, err := MapOpenHouse([]byte(`{"ListingId": "L1"}`))
	require.Error(t, err)

	oh, err := MapOpenHouse([]byte(`{
		"OpenHouseKey": "OH1",
		"ListingId": "L1",
		"ModificationTimestamp": "2026-07-01T12:00:00Z",
		"OpenHouseStartTime": "2026-07-05T18:00:00Z",
		"OpenHouseEndTime": "2026-07-05T20:00:00Z"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "OH1", oh.OpenHouseKey)
	assert.False(t, oh.StartTime.IsZero())
}

func TestMapLookupRequiresCompositeKey(t *testing.T) {
	_, err := MapLookup([]byte(`{"LookupName": "PropertyType"}`))
	require.Error(t, err)

	lk, err := MapLookup([]byte(`{
		"LookupVendorSystem": "MTA",
		"LookupName": "PropertyType",
		"LookupValue": "Residential",
		"LookupDisplayValue": "Residential"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Residential", lk.Value)
}

func TestIsVendorLocalFieldMatchesTwoOrThreeLetterPrefix(t *testing.T) {
	assert.True(t, IsVendorLocalField("MTA_Foo"))
	assert.True(t, IsVendorLocalField("RMX_Bar"))
	assert.False(t, IsVendorLocalField("ListPrice"))
	assert.False(t, IsVendorLocalField("M_Foo"))
}

func TestCanViewFlagDefaultsTrueWhenAbsent(t *testing.T) {
	assert.True(t, CanViewFlag([]byte(`{"OpenHouseKey": "OH1"}`)))
	assert.False(t, CanViewFlag([]byte(`{"OpenHouseKey": "OH1", "MlgCanView": false}`)))
	assert.True(t, CanViewFlag([]byte(`{"OpenHouseKey": "OH1", "MlgCanView": true}`)))
}
