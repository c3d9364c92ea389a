package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Beck89/mta-mls-worker/internal/models"
)

func TestResourceTableAndKeyColCoversAllKinds(t *testing.T) {
	cases := []struct {
		resource models.ResourceKind
		table    string
		keyCol   string
	}{
		{models.ResourceListing, "listings", "key"},
		{models.ResourceMember, "members", "member_key"},
		{models.ResourceOffice, "offices", "office_key"},
		{models.ResourceOpenHouse, "open_houses", "open_house_key"},
		{models.ResourceLookup, "lookups", "value"},
	}
	for _, c := range cases {
		table, keyCol, tsCol := resourceTableAndKeyCol(c.resource)
		assert.Equal(t, c.table, table)
		assert.Equal(t, c.keyCol, keyCol)
		assert.Equal(t, "modification_ts", tsCol)
	}
}

func TestResourceTableAndKeyColFallsBackToListingsForUnknownKind(t *testing.T) {
	table, keyCol, _ := resourceTableAndKeyCol(models.ResourceKind("bogus"))
	assert.Equal(t, "listings", table)
	assert.Equal(t, "key", keyCol)
}
