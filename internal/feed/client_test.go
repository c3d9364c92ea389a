package feed

import "testing"

func TestExpandForReturnsChildCollectionsPerResource(t *testing.T) {
	cases := map[string]string{
		"Property": "Media,Rooms,UnitTypes",
		"Member":   "Media",
		"Office":   "Media",
		"OpenHouse": "",
		"Lookup":    "",
	}
	for resource, want := range cases {
		if got := expandFor(resource); got != want {
			t.Errorf("expandFor(%q) = %q, want %q", resource, got, want)
		}
	}
}

func TestPageSizeForIsSmallerWhenExpandingChildCollections(t *testing.T) {
	if got := pageSizeFor("Property"); got != 1000 {
		t.Errorf("pageSizeFor(Property) = %d, want 1000", got)
	}
	if got := pageSizeFor("Lookup"); got != 5000 {
		t.Errorf("pageSizeFor(Lookup) = %d, want 5000", got)
	}
}
