package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitAPIEnforcesPerSecondCap(t *testing.T) {
	l := New(Config{})

	start := time.Now()
	for i := 0; i < 6; i++ {
		l.AdmitAPI()
	}
	elapsed := time.Since(start)

	// 6 admissions at <=2/s hard cap must span at least ~2 seconds
	// (the first 2 are free, then two more 1s waits are forced).
	require.GreaterOrEqual(t, elapsed, 1500*time.Millisecond)
}

func TestAdmitMediaBlocksPastHardCap(t *testing.T) {
	l := New(Config{MediaBandwidthSoftCapBytes: 100, MediaBandwidthHardCapBytes: 100})

	l.AdmitMedia()
	l.RecordMediaBytes(100)

	done := make(chan struct{})
	go func() {
		l.AdmitMedia()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("AdmitMedia should have blocked at the hard cap")
	case <-time.After(150 * time.Millisecond):
		// expected: still blocked
	}
}

func TestRecordMediaBytesNeverOverestimates(t *testing.T) {
	l := New(Config{MediaBandwidthSoftCapBytes: 1000, MediaBandwidthHardCapBytes: 1000})
	l.AdmitMedia()
	// Caller reserved a slot but the download failed before completing;
	// no bytes should ever be recorded for it.
	stats := l.Stats()
	assert.EqualValues(t, 0, stats.MediaBytes)
}

func TestSeedAPIRestoresWindowAcrossRestart(t *testing.T) {
	l := New(Config{})
	now := time.Now()
	l.SeedAPI([]time.Time{now, now})

	stats := l.Stats()
	assert.Equal(t, 2, stats.APISecondCount)
}

func TestMediaWindowEvictsAfterSixtyMinutes(t *testing.T) {
	l := New(Config{MediaBandwidthHardCapBytes: 1000})
	old := time.Now().Add(-61 * time.Minute)
	l.SeedMedia([]struct {
		At    time.Time
		Bytes int64
	}{{At: old, Bytes: 900}})

	stats := l.Stats()
	assert.EqualValues(t, 0, stats.MediaBytes, "events older than the 60-minute window must be evicted")
}
