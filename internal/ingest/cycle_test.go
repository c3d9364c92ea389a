package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Beck89/mta-mls-worker/internal/feederr"
	"github.com/Beck89/mta-mls-worker/internal/models"
)

func TestDedupKeyForExtractsResourceSpecificField(t *testing.T) {
	key, ok := dedupKeyFor(models.ResourceListing, []byte(`{"ListingKey": "L1", "ListPrice": "1"}`))
	assert.True(t, ok)
	assert.Equal(t, "L1", key)

	key, ok = dedupKeyFor(models.ResourceMember, []byte(`{"MemberKey": "M1"}`))
	assert.True(t, ok)
	assert.Equal(t, "M1", key)

	key, ok = dedupKeyFor(models.ResourceLookup, []byte(`{"LookupValue": "Condo"}`))
	assert.True(t, ok)
	assert.Equal(t, "Condo", key)
}

func TestDedupKeyForHandlesMissingOrMalformedKey(t *testing.T) {
	_, ok := dedupKeyFor(models.ResourceListing, []byte(`{"ListPrice": "1"}`))
	assert.False(t, ok)

	_, ok = dedupKeyFor(models.ResourceListing, []byte(`not json`))
	assert.False(t, ok)

	_, ok = dedupKeyFor(models.ResourceListing, []byte(`{"ListingKey": ""}`))
	assert.False(t, ok)

	_, ok = dedupKeyFor(models.ResourceListing, []byte(`{"ListingKey": 7}`))
	assert.False(t, ok)
}

func TestDedupProtocolSkipsExactlyOneOccurrenceAtHWM(t *testing.T) {
	// Two records share a modification timestamp exactly at the resume
	// HWM; the dedup set (loaded from what already committed last cycle)
	// must swallow the first occurrence and let the second commit, per
	// spec.md §8's boundary scenario.
	dedup := map[string]bool{"L1": true}

	recs := []string{"L1", "L1", "L2"}
	var committed []string
	for _, key := range recs {
		if dedup[key] {
			delete(dedup, key)
			continue
		}
		committed = append(committed, key)
	}

	assert.Equal(t, []string{"L1", "L2"}, committed)
}

func TestResourceKeyFieldCoversAllKinds(t *testing.T) {
	assert.Equal(t, "ListingKey", resourceKeyField(models.ResourceListing))
	assert.Equal(t, "MemberKey", resourceKeyField(models.ResourceMember))
	assert.Equal(t, "OfficeKey", resourceKeyField(models.ResourceOffice))
	assert.Equal(t, "OpenHouseKey", resourceKeyField(models.ResourceOpenHouse))
	assert.Equal(t, "LookupValue", resourceKeyField(models.ResourceLookup))
	assert.Equal(t, "", resourceKeyField(models.ResourceKind("bogus")))
}

func TestIsTransportErrorClassifiesApiAndRateLimitFailuresOnly(t *testing.T) {
	assert.True(t, isTransportError(&feederr.ApiError{StatusCode: 500}))
	assert.True(t, isTransportError(&feederr.RateLimited{Source: "feed"}))
	assert.False(t, isTransportError(&feederr.MappingError{Field: "ListPrice"}))
	assert.False(t, isTransportError(nil))
}
