package ring

import "sync/atomic"

// TimestampRing is a fixed-capacity circular FIFO of 64-bit timestamp
// words (see capture.DecodeTimestamp/DecodeLevel for the bit layout).
// It is the SPSC queue between a capture ISR (producer) and the
// foreground CommsLoop or FrequencyEstimator (consumer).
//
// The Locked flag is an advisory gate: while locked, Push fails silently
// (returns false) so a foreground consumer can snapshot the ring
// without the producer racing it. It is a plain atomic bool rather than
// a mutex because the producer must never block — grounded on spec
// §4.A/§9 ("an advisory SPSC gate ... atomic boolean set and cleared by
// the foreground consumer while draining").
type TimestampRing struct {
	data   []uint64
	head   int
	tail   int
	len    int
	locked atomic.Bool
}

// NewTimestampRing allocates a TimestampRing with the given fixed
// capacity. Spec §3 requires capacity >= 200 entries for timer channels.
func NewTimestampRing(capacity int) *TimestampRing {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &TimestampRing{data: make([]uint64, capacity)}
}

// Cap returns the ring's fixed capacity.
func (r *TimestampRing) Cap() int { return len(r.data) }

// Len returns the number of entries currently queued.
func (r *TimestampRing) Len() int { return r.len }

// Empty reports whether the ring holds no entries.
func (r *TimestampRing) Empty() bool { return r.len == 0 }

// Lock sets the advisory gate: subsequent Push calls fail silently until
// Unlock is called. Intended to be called only from the foreground
// consumer (FrequencyEstimator) while it drains the ring.
func (r *TimestampRing) Lock() { r.locked.Store(true) }

// Unlock clears the advisory gate set by Lock.
func (r *TimestampRing) Unlock() { r.locked.Store(false) }

// Locked reports the current state of the advisory gate.
func (r *TimestampRing) Locked() bool { return r.locked.Load() }

// Reset empties the ring, discarding any queued entries. Used when a
// Timer channel is reconfigured to discard stale stamps from a prior
// mode (spec §4.E).
func (r *TimestampRing) Reset() {
	r.head = 0
	r.tail = 0
	r.len = 0
}

// Push appends a single 64-bit entry. It is called only from the
// capture ISR path and must never block: if the ring is locked or full,
// the capture is dropped silently, matching spec §4.D's failure model.
func (r *TimestampRing) Push(v uint64) bool {
	if r.locked.Load() || r.len >= len(r.data) {
		return false
	}
	r.data[r.head] = v
	r.head++
	if r.head >= len(r.data) {
		r.head = 0
	}
	r.len++
	return true
}

// Pop removes and returns the oldest entry.
func (r *TimestampRing) Pop() (uint64, bool) {
	if r.len < 1 {
		return 0, false
	}
	v := r.data[r.tail]
	r.tail++
	if r.tail >= len(r.data) {
		r.tail = 0
	}
	r.len--
	return v, true
}

// Peek returns the oldest entry without removing it.
func (r *TimestampRing) Peek() (uint64, bool) {
	if r.len < 1 {
		return 0, false
	}
	return r.data[r.tail], true
}
