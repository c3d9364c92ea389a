package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Beck89/mta-mls-worker/internal/models"
)

func TestDecimalStringsEqualComparesByValueNotText(t *testing.T) {
	assert.True(t, decimalStringsEqual("450000", "450000.00"))
	assert.True(t, decimalStringsEqual("", ""))
	assert.False(t, decimalStringsEqual("450000", "460000"))
}

func TestDecimalStringsEqualTreatsMalformedAsUnequal(t *testing.T) {
	assert.False(t, decimalStringsEqual("450000", "not-a-number"))
	assert.False(t, decimalStringsEqual("not-a-number", "450000"))
}

func TestInferPriceChangeTypePrefersVendorClassification(t *testing.T) {
	assert.Equal(t, models.PriceIncrease, inferPriceChangeType("500000", "450000", "Increase"))
	assert.Equal(t, models.PriceDecrease, inferPriceChangeType("450000", "500000", "Decrease"))
}

func TestInferPriceChangeTypeFallsBackToSignOfDelta(t *testing.T) {
	assert.Equal(t, models.PriceDecrease, inferPriceChangeType("500000", "450000", ""))
	assert.Equal(t, models.PriceIncrease, inferPriceChangeType("450000", "500000", ""))
	assert.Equal(t, models.PriceIncrease, inferPriceChangeType("junk", "500000", ""))
}

func TestDiffListingDetectsNoChangesWhenFieldsMatch(t *testing.T) {
	listing := &models.Listing{
		Key: "L1", ListPrice: "450000.00", StandardStatus: "Active",
		PhotosCount: 10, PublicRemarks: "Nice home", LivingArea: "2000",
	}
	changeLogs, priceHist, statusHist := diffListing(listing, listing)
	assert.Empty(t, changeLogs)
	assert.Nil(t, priceHist)
	assert.Nil(t, statusHist)
}

func TestDiffListingDetectsPriceChange(t *testing.T) {
	old := &models.Listing{Key: "L1", ListPrice: "500000", StandardStatus: "Active", PhotosCount: 5}
	updated := &models.Listing{Key: "L1", ListPrice: "450000", StandardStatus: "Active", PhotosCount: 5, MajorChangeType: "Decrease"}

	changeLogs, priceHist, statusHist := diffListing(old, updated)
	assert.Len(t, changeLogs, 1)
	assert.Equal(t, "listPrice", changeLogs[0].FieldName)
	assert.NotNil(t, priceHist)
	assert.Equal(t, models.PriceDecrease, priceHist.ChangeType)
	assert.Nil(t, statusHist)
}

func TestDiffListingDetectsStatusChange(t *testing.T) {
	old := &models.Listing{Key: "L1", StandardStatus: "Active"}
	updated := &models.Listing{Key: "L1", StandardStatus: "Pending"}

	changeLogs, priceHist, statusHist := diffListing(old, updated)
	assert.Len(t, changeLogs, 1)
	assert.Equal(t, "standardStatus", changeLogs[0].FieldName)
	assert.Nil(t, priceHist)
	assert.NotNil(t, statusHist)
	assert.Equal(t, "Active", statusHist.OldStatus)
	assert.Equal(t, "Pending", statusHist.NewStatus)
}

func TestDiffListingDetectsMultipleFieldChanges(t *testing.T) {
	old := &models.Listing{Key: "L1", PhotosCount: 5, PublicRemarks: "old", LivingArea: "1500"}
	updated := &models.Listing{Key: "L1", PhotosCount: 8, PublicRemarks: "new", LivingArea: "1600"}

	changeLogs, _, _ := diffListing(old, updated)
	assert.Len(t, changeLogs, 3)
}
