// Package dedup suppresses repeated webhook deliveries within a single
// process.
//
// The upstream platform redelivers webhooks at-least-once, while invoice
// creation on the accounting API is not idempotent. The deduplicator is a
// bloom filter backed by a bounded ring of exact keys: the filter gives the
// fast "definitely new" path, and the exact set confirms suspected
// duplicates so a bloom false positive can never suppress a genuinely new
// delivery. Keys are marked only after a delivery has been fully handled,
// so a failed delivery stays eligible for redelivery. Everything is
// in-memory and best effort; the service keeps no persistent state.
package dedup

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Deduplicator tracks successfully handled delivery keys.
type Deduplicator struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	recent map[string]struct{}
	ring   []string
	next   int
}

// New creates a Deduplicator. capacity and fpr size the bloom filter;
// recentSize bounds the exact set of confirmable keys.
func New(capacity uint, fpr float64, recentSize int) *Deduplicator {
	if recentSize <= 0 {
		recentSize = 1024
	}
	return &Deduplicator{
		filter: bloom.NewWithEstimates(capacity, fpr),
		recent: make(map[string]struct{}, recentSize),
		ring:   make([]string, recentSize),
	}
}

// Seen reports whether key was marked as handled. Only a key confirmed by
// the exact set counts as a duplicate; a bloom hit without confirmation is
// treated as new, erring on the side of issuing the invoice.
func (d *Deduplicator) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.filter.TestString(key) {
		return false
	}
	_, ok := d.recent[key]
	return ok
}

// Mark records key as handled. Callers mark only once the delivery's effect
// is durable downstream: a delivery that failed and was answered with an
// error must stay unmarked so its redelivery is processed, not suppressed.
func (d *Deduplicator) Mark(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.filter.AddString(key)
	d.remember(key)
}

// remember inserts key into the exact set, evicting the oldest entry when
// the ring is full. Caller holds d.mu.
func (d *Deduplicator) remember(key string) {
	if old := d.ring[d.next]; old != "" {
		delete(d.recent, old)
	}
	d.ring[d.next] = key
	d.recent[key] = struct{}{}
	d.next = (d.next + 1) % len(d.ring)
}
