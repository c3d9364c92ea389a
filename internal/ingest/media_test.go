package ingest

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsURLExpiringTreatsEmptyURLAsExpired(t *testing.T) {
	assert.True(t, isURLExpiring(""))
}

func TestIsURLExpiringTreatsNoExpiresParamAsNeverExpiring(t *testing.T) {
	assert.False(t, isURLExpiring("https://cdn.example.com/photo.jpg"))
}

func TestIsURLExpiringDetectsPastExpiry(t *testing.T) {
	past := time.Now().Add(-time.Hour).Unix()
	u := fmt.Sprintf("https://cdn.example.com/photo.jpg?expires=%d", past)
	assert.True(t, isURLExpiring(u))
}

func TestIsURLExpiringDetectsWithinSafetyBuffer(t *testing.T) {
	soon := time.Now().Add(30 * time.Second).Unix()
	u := fmt.Sprintf("https://cdn.example.com/photo.jpg?expires=%d", soon)
	assert.True(t, isURLExpiring(u))
}

func TestIsURLExpiringAcceptsComfortablyFutureExpiry(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	u := fmt.Sprintf("https://cdn.example.com/photo.jpg?expires=%d", future)
	assert.False(t, isURLExpiring(u))
}

func TestIsURLExpiringIgnoresMalformedExpiresValue(t *testing.T) {
	u := "https://cdn.example.com/photo.jpg?expires=not-a-number"
	assert.False(t, isURLExpiring(u))
}
