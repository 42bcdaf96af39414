package kekeke

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	dedupWindowSize = 500
	dedupWindowTTL  = 2 * time.Minute
)

// fingerprintSpace namespaces MESSAGE payload fingerprints.
var fingerprintSpace = uuid.MustParse("6f0c2a52-4c1e-4f53-9f43-1f3f2f8e6a10")

// fingerprint derives a stable id from a raw MESSAGE payload. The payload
// carries sender, content and millisecond date, so a redelivered frame has
// the same fingerprint.
func fingerprint(payload []byte) uuid.UUID {
	return uuid.NewSHA1(fingerprintSpace, payload)
}

// DedupWindow remembers recently delivered payloads, bounded by
// dedupWindowSize entries and dedupWindowTTL age.
type DedupWindow struct {
	mu    sync.Mutex
	seen  map[uuid.UUID]time.Time
	order []uuid.UUID // oldest first
	now   func() time.Time
}

// NewDedupWindow creates an empty window.
func NewDedupWindow() *DedupWindow {
	return &DedupWindow{
		seen:  make(map[uuid.UUID]time.Time, dedupWindowSize),
		order: make([]uuid.UUID, 0, dedupWindowSize),
		now:   time.Now,
	}
}

// Seen reports whether payload was delivered within the window and records
// it when it was not. Payloads without a date are never duplicates: two
// identical undated messages cannot be told apart from one redelivery.
func (d *DedupWindow) Seen(payload []byte) bool {
	if gjson.GetBytes(payload, "date").String() == "" {
		return false
	}
	id := fingerprint(payload)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now.Add(-dedupWindowTTL))
	if _, ok := d.seen[id]; ok {
		return true
	}
	if len(d.order) >= dedupWindowSize {
		d.drop(1)
	}
	d.seen[id] = now
	d.order = append(d.order, id)
	return false
}

// expire drops entries recorded before cutoff.
func (d *DedupWindow) expire(cutoff time.Time) {
	n := 0
	for n < len(d.order) && d.seen[d.order[n]].Before(cutoff) {
		n++
	}
	d.drop(n)
}

// drop forgets the n oldest entries.
func (d *DedupWindow) drop(n int) {
	for _, id := range d.order[:n] {
		delete(d.seen, id)
	}
	d.order = d.order[n:]
}

// Len returns the number of remembered payloads.
func (d *DedupWindow) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
