package quota

import (
	"math"
	"sync"

	"github.com/Robitch/Robify-sub001/internal/models"
)

// DefaultDurationSeconds is assumed for tracks whose duration is unknown.
const DefaultDurationSeconds = 240.0

// EstimateSize returns the admission footprint of track at quality: duration × bitrate.
// It never looks at transferred bytes.
func EstimateSize(track models.Track, quality models.Quality) int64 {
	duration := DefaultDurationSeconds
	if track.Duration != nil && *track.Duration > 0 {
		duration = *track.Duration
	}
	return int64(math.Ceil(duration * float64(quality.Bitrate()) / 8))
}

// Usage is a consistent snapshot of the tracker counters.
type Usage struct {
	Limit     int64 `json:"limit"`
	Used      int64 `json:"used"`
	Reserved  int64 `json:"reserved"`
	Available int64 `json:"available"`
}

// Tracker accounts offline bytes (used) and admitted-but-unfinished estimates (reserved)
// against a ceiling.
type Tracker struct {
	mu       sync.Mutex
	limit    int64
	used     int64
	reserved int64
}

func NewTracker(limit int64) *Tracker {
	return &Tracker{limit: limit}
}

func (t *Tracker) CanAdmit(bytes int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fits(bytes)
}

func (t *Tracker) fits(bytes int64) bool {
	return t.used+t.reserved+bytes <= t.limit
}

// Reserve charges bytes against the budget if they fit. Check and charge happen under
// one lock so concurrent admissions cannot overshoot the limit.
func (t *Tracker) Reserve(bytes int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bytes < 0 || !t.fits(bytes) {
		return false
	}
	t.reserved += bytes
	return true
}

// Release drops a reservation without residual charge.
func (t *Tracker) Release(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reserved = clampZero(t.reserved - bytes)
}

// Commit converts a reservation into an actual charge of a possibly different size.
func (t *Tracker) Commit(reserved, actual int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reserved = clampZero(t.reserved - reserved)
	t.used += actual
}

// Free removes an actual charge, e.g. when an offline track is deleted.
func (t *Tracker) Free(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.used = clampZero(t.used - bytes)
}

// Reset replaces the used counter with a total recomputed from durable records.
// Reservations are untouched.
func (t *Tracker) Reset(used int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.used = clampZero(used)
}

func (t *Tracker) SetLimit(limit int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limit = limit
}

func (t *Tracker) Limit() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

func (t *Tracker) Used() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

func (t *Tracker) Reserved() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reserved
}

// Available is the headroom left for new admissions.
func (t *Tracker) Available() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clampZero(t.limit - t.used - t.reserved)
}

// OverBudget reports whether current charges already exceed the limit, which happens
// after the limit is lowered or a completed transfer is larger than its estimate.
func (t *Tracker) OverBudget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used+t.reserved > t.limit
}

func (t *Tracker) Snapshot() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Usage{
		Limit:     t.limit,
		Used:      t.used,
		Reserved:  t.reserved,
		Available: clampZero(t.limit - t.used - t.reserved),
	}
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
