// Package ratelimiter implements the process-wide, two-dimensional
// admission control shared by every replication loop and the media
// downloader: API request counts over sliding 1s/1h/24h windows, and
// media bytes over a rolling 60-minute window.
//
// Unlike golang.org/x/time/rate's single token bucket, the API dimension
// here must enforce several overlapping windows at once, and both must be seedable
// from historical logs on restart, so the windows are hand-rolled as
// timestamp slices with eviction rather than built on a borrowed bucket
// primitive. See DESIGN.md for why.
package ratelimiter

import (
	"sync"
	"time"
)

// Config holds the tunable caps. Zero values fall back to spec defaults.
type Config struct {
	MediaBandwidthSoftCapBytes int64
	MediaBandwidthHardCapBytes int64
}

const (
	apiHardPerSecond = 2
	apiHardPerHour   = 7200
	apiHardPerDay    = 40000

	apiSoftPerSecond = 1.5
	apiSoftPerHour   = 6000
	apiSoftPerDay    = 35000

	apiSoftDelaySecond = 200 * time.Millisecond
	apiSoftDelayHour   = 2 * time.Second
	apiSoftDelayDay    = 5 * time.Second

	mediaWindow      = 60 * time.Minute
	mediaSoftPauseMs = 10 * time.Second

	defaultMediaHardCapBytes = 4 << 30   // 4 GiB
	defaultMediaSoftCapBytes = int64(3.5 * (1 << 30))
)

// mediaEvent records a reserved byte count at a point in time.
type mediaEvent struct {
	at    time.Time
	bytes int64
}

// Limiter is the shared singleton admission controller. Construct one
// per process and pass it down the call tree explicitly.
type Limiter struct {
	mu sync.Mutex // serializes admitApi's check-then-record protocol

	apiSecond []time.Time
	apiHour   []time.Time
	apiDay    []time.Time

	mediaMu     sync.Mutex
	mediaEvents []mediaEvent

	mediaSoftCap int64
	mediaHardCap int64
}

// New constructs a Limiter with empty windows. Call SeedAPI/SeedMedia
// before accepting traffic to restore state across a restart.
func New(cfg Config) *Limiter {
	soft := cfg.MediaBandwidthSoftCapBytes
	if soft <= 0 {
		soft = defaultMediaSoftCapBytes
	}
	hard := cfg.MediaBandwidthHardCapBytes
	if hard <= 0 {
		hard = defaultMediaHardCapBytes
	}
	return &Limiter{
		mediaSoftCap: soft,
		mediaHardCap: hard,
	}
}

// SeedAPI restores the API windows from recent request timestamps (the
// request log, last 24h) so a restarted process doesn't immediately burst
// past the caps a prior process was already close to.
func (l *Limiter) SeedAPI(timestamps []time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for _, t := range timestamps {
		l.recordAPILocked(t, now)
	}
}

// SeedMedia restores the media-bytes window from recently completed
// downloads (last 60 minutes).
func (l *Limiter) SeedMedia(events []struct {
	At    time.Time
	Bytes int64
}) {
	l.mediaMu.Lock()
	defer l.mediaMu.Unlock()
	now := time.Now()
	for _, e := range events {
		if now.Sub(e.At) <= mediaWindow {
			l.mediaEvents = append(l.mediaEvents, mediaEvent{at: e.At, bytes: e.Bytes})
		}
	}
}

// AdmitAPI blocks (sleeping and re-checking, never proceeding on a single
// check) until an API request slot is available, then records the event.
// The whole check-then-record sequence is serialized by l.mu so
// concurrent callers cannot jointly violate the 1-second cap.
//
// Soft caps pay a one-time pre-emptive delay per call rather than a
// persistent veto: once this call has already waited out its soft delay,
// it proceeds as soon as the hard caps allow, even though the window is
// still technically over the soft threshold for the next caller.
func (l *Limiter) AdmitAPI() {
	softDelayPaid := false
	for {
		l.mu.Lock()
		hardWait, softWait := l.apiWaitLocked()
		if hardWait > 0 {
			l.mu.Unlock()
			time.Sleep(hardWait)
			continue
		}
		if !softDelayPaid && softWait > 0 {
			l.mu.Unlock()
			time.Sleep(softWait)
			softDelayPaid = true
			continue
		}
		l.recordAPILocked(time.Now(), time.Now())
		l.mu.Unlock()
		return
	}
}

// apiWaitLocked computes the minimum non-negative hard-cap wait (must be
// fully satisfied before admission) and the largest applicable soft-cap
// pre-emptive delay. Must be called with l.mu held.
func (l *Limiter) apiWaitLocked() (hardWait, softWait time.Duration) {
	now := time.Now()
	l.evictAPILocked(now)

	if w := hardWaitFor(l.apiSecond, now, time.Second, apiHardPerSecond); w > hardWait {
		hardWait = w
	}
	if w := hardWaitFor(l.apiHour, now, time.Hour, apiHardPerHour); w > hardWait {
		hardWait = w
	}
	if w := hardWaitFor(l.apiDay, now, 24*time.Hour, apiHardPerDay); w > hardWait {
		hardWait = w
	}
	if hardWait > 0 {
		return hardWait, 0
	}

	if float64(len(l.apiSecond)) >= apiSoftPerSecond && apiSoftDelaySecond > softWait {
		softWait = apiSoftDelaySecond
	}
	if len(l.apiHour) >= apiSoftPerHour && apiSoftDelayHour > softWait {
		softWait = apiSoftDelayHour
	}
	if len(l.apiDay) >= apiSoftPerDay && apiSoftDelayDay > softWait {
		softWait = apiSoftDelayDay
	}
	return 0, softWait
}

// hardWaitFor returns how long to wait until the oldest event in the window
// ages out, if the window is already at cap; zero if there's room.
func hardWaitFor(events []time.Time, now time.Time, window time.Duration, cap int) time.Duration {
	if len(events) < cap {
		return 0
	}
	oldest := events[0]
	expiresAt := oldest.Add(window)
	if expiresAt.After(now) {
		return expiresAt.Sub(now)
	}
	return 0
}

func (l *Limiter) evictAPILocked(now time.Time) {
	l.apiSecond = evictBefore(l.apiSecond, now.Add(-time.Second))
	l.apiHour = evictBefore(l.apiHour, now.Add(-time.Hour))
	l.apiDay = evictBefore(l.apiDay, now.Add(-24*time.Hour))
}

func evictBefore(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append([]time.Time(nil), events[i:]...)
}

func (l *Limiter) recordAPILocked(at, now time.Time) {
	l.evictAPILocked(now)
	l.apiSecond = append(l.apiSecond, at)
	l.apiHour = append(l.apiHour, at)
	l.apiDay = append(l.apiDay, at)
}

// AdmitMedia blocks until there is room in the rolling 60-minute byte
// budget, then returns without recording anything; the bytes enter the
// window only when the caller calls RecordMediaBytes. AdmitMedia does not need
// AdmitAPI's strict serialization: the bytes dimension tolerates a short
// burst before the next caller observes it, and self-corrects within the
// window.
func (l *Limiter) AdmitMedia() {
	for {
		l.mediaMu.Lock()
		now := time.Now()
		l.evictMediaLocked(now)
		total := l.totalMediaBytesLocked()

		if total >= l.mediaHardCap {
			wait := l.hardWaitMediaLocked(now)
			l.mediaMu.Unlock()
			if wait <= 0 {
				wait = 100 * time.Millisecond
			}
			time.Sleep(wait)
			continue
		}
		if total >= l.mediaSoftCap {
			l.mediaMu.Unlock()
			time.Sleep(mediaSoftPauseMs)
			continue
		}
		l.mediaMu.Unlock()
		return
	}
}

// RecordMediaBytes records the actual bytes transferred by a download
// that AdmitMedia already cleared. Called after the transfer completes,
// so overestimation is impossible; the caller must not record before the
// download finishes.
func (l *Limiter) RecordMediaBytes(n int64) {
	l.mediaMu.Lock()
	defer l.mediaMu.Unlock()
	now := time.Now()
	l.evictMediaLocked(now)
	l.mediaEvents = append(l.mediaEvents, mediaEvent{at: now, bytes: n})
}

func (l *Limiter) evictMediaLocked(now time.Time) {
	cutoff := now.Add(-mediaWindow)
	i := 0
	for i < len(l.mediaEvents) && l.mediaEvents[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.mediaEvents = append([]mediaEvent(nil), l.mediaEvents[i:]...)
	}
}

func (l *Limiter) totalMediaBytesLocked() int64 {
	var total int64
	for _, e := range l.mediaEvents {
		total += e.bytes
	}
	return total
}

func (l *Limiter) hardWaitMediaLocked(now time.Time) time.Duration {
	if len(l.mediaEvents) == 0 {
		return 0
	}
	oldest := l.mediaEvents[0].at
	expiresAt := oldest.Add(mediaWindow)
	if expiresAt.After(now) {
		return expiresAt.Sub(now)
	}
	return 0
}

// Stats is the snapshot exported for the health/dashboard surface.
type Stats struct {
	APISecondCount   int
	APIHourCount     int
	APIDayCount      int
	APISecondPct     float64
	APIHourPct       float64
	APIDayPct        float64
	MediaBytes       int64
	MediaBytesPct    float64
	MediaHardCap     int64
}

// Stats reports current counts/bytes and percent-of-cap for each
// dimension.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	now := time.Now()
	l.evictAPILocked(now)
	s := Stats{
		APISecondCount: len(l.apiSecond),
		APIHourCount:   len(l.apiHour),
		APIDayCount:    len(l.apiDay),
		APISecondPct:   pct(len(l.apiSecond), apiHardPerSecond),
		APIHourPct:     pct(len(l.apiHour), apiHardPerHour),
		APIDayPct:      pct(len(l.apiDay), apiHardPerDay),
	}
	l.mu.Unlock()

	l.mediaMu.Lock()
	l.evictMediaLocked(now)
	total := l.totalMediaBytesLocked()
	l.mediaMu.Unlock()

	s.MediaBytes = total
	s.MediaHardCap = l.mediaHardCap
	s.MediaBytesPct = pct64(total, l.mediaHardCap)
	return s
}

func pct(n, cap int) float64 {
	if cap <= 0 {
		return 0
	}
	return float64(n) / float64(cap) * 100
}

func pct64(n, cap int64) float64 {
	if cap <= 0 {
		return 0
	}
	return float64(n) / float64(cap) * 100
}
