package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDownloaderRateLimitPauseDoublesUpToCap(t *testing.T) {
	d := &Downloader{}

	d.onRateLimited()
	assert.Equal(t, initialRateLimitPause, d.currentPause)

	d.onRateLimited()
	assert.Equal(t, 2*initialRateLimitPause, d.currentPause)

	d.onRateLimited()
	d.onRateLimited()
	assert.Equal(t, maxRateLimitPause, d.currentPause, "pause must not exceed the configured cap")
}

func TestDownloaderSuccessResetsPause(t *testing.T) {
	d := &Downloader{}
	d.onRateLimited()
	d.onRateLimited()
	assert.NotZero(t, d.currentPause)

	d.onSuccess()
	assert.Zero(t, d.currentPause)
}

func TestDownloaderPauseRemainingReflectsActivePause(t *testing.T) {
	d := &Downloader{}
	assert.LessOrEqual(t, d.pauseRemaining(), time.Duration(0))

	d.onRateLimited()
	assert.Greater(t, d.pauseRemaining(), time.Duration(0))
	assert.LessOrEqual(t, d.pauseRemaining(), initialRateLimitPause)
}
