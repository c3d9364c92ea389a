package healthserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Beck89/mta-mls-worker/internal/config"
	"github.com/Beck89/mta-mls-worker/internal/models"
)

func TestIsStaleWithNoCompletion(t *testing.T) {
	assert.True(t, isStale(nil, time.Minute))
}

func TestIsStaleWithinCadenceWindow(t *testing.T) {
	recent := time.Now().Add(-30 * time.Second)
	assert.False(t, isStale(&recent, time.Minute))
}

func TestIsStaleBeyondFactor(t *testing.T) {
	old := time.Now().Add(-5 * time.Minute)
	assert.True(t, isStale(&old, time.Minute))
}

func TestCadenceForCoversAllResources(t *testing.T) {
	s := &Server{Cadence: config.ResourceCadence{
		Listing:   60 * time.Second,
		Member:    300 * time.Second,
		Office:    300 * time.Second,
		OpenHouse: 300 * time.Second,
		Lookup:    86400 * time.Second,
	}}

	assert.Equal(t, 60*time.Second, s.cadenceFor(models.ResourceListing))
	assert.Equal(t, 300*time.Second, s.cadenceFor(models.ResourceMember))
	assert.Equal(t, 300*time.Second, s.cadenceFor(models.ResourceOffice))
	assert.Equal(t, 300*time.Second, s.cadenceFor(models.ResourceOpenHouse))
	assert.Equal(t, 86400*time.Second, s.cadenceFor(models.ResourceLookup))
}
