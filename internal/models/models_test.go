package models

import "testing"

func TestFeedResourceNameMapsListingToProperty(t *testing.T) {
	if got := ResourceListing.FeedResourceName(); got != "Property" {
		t.Errorf("FeedResourceName() = %q, want %q", got, "Property")
	}
}

func TestFeedResourceNamePassesThroughOtherKinds(t *testing.T) {
	cases := map[ResourceKind]string{
		ResourceMember:    "Member",
		ResourceOffice:    "Office",
		ResourceOpenHouse: "OpenHouse",
		ResourceLookup:    "Lookup",
	}
	for kind, want := range cases {
		if got := kind.FeedResourceName(); got != want {
			t.Errorf("FeedResourceName(%q) = %q, want %q", kind, got, want)
		}
	}
}

func TestHasStoredBytesRequiresAllThreeFields(t *testing.T) {
	complete := Media{ObjectStoreKey: "k", PublicURL: "u", FileSizeBytes: 100}
	if !complete.HasStoredBytes() {
		t.Error("expected complete media to report HasStoredBytes")
	}

	missingKey := Media{PublicURL: "u", FileSizeBytes: 100}
	if missingKey.HasStoredBytes() {
		t.Error("expected media missing object store key to report false")
	}

	zeroSize := Media{ObjectStoreKey: "k", PublicURL: "u"}
	if zeroSize.HasStoredBytes() {
		t.Error("expected media with zero size to report false")
	}
}
