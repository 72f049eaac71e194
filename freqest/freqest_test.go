package freqest

import (
	"testing"

	"github.com/dabecart/MIDDS/middstime"
	"github.com/dabecart/MIDDS/ring"
)

func encode(ts uint64, level bool) uint64 {
	v := ts << 1
	if level {
		v |= 1
	}
	return v
}

func TestEstimateReturnsCachedWhenTooFewEntries(t *testing.T) {
	r := ring.NewTimestampRing(32)
	r.Push(encode(100, true))

	cached := &Result{FrequencyHz: 42}
	got := Estimate(r, cached, 0)
	if got != cached {
		t.Fatalf("expected cached result returned unchanged")
	}
}

func TestEstimateReturnsNilWhenCacheStale(t *testing.T) {
	r := ring.NewTimestampRing(32)
	r.Push(encode(100, true))

	cached := &Result{FrequencyHz: 42}
	if got := Estimate(r, cached, 30_000); got != nil {
		t.Fatalf("expected nil for stale cache, got %+v", got)
	}
}

func TestEstimate1kHz25PctDuty(t *testing.T) {
	// 1kHz at the MIDDS internal tick rate: period = MCUHz/1000 ticks.
	// 25% duty: high for period/4, low for the remaining 3*period/4.
	period := middstime.MCUHz / 1000
	high := period / 4

	r := ring.NewTimestampRing(256)
	var ts uint64 = 1000
	// 100 rising + 100 falling edges, alternating, starting on a rising
	// edge (spec S4).
	for i := 0; i < 100; i++ {
		r.Push(encode(ts, true))
		ts += high
		r.Push(encode(ts, false))
		ts += period - high
	}

	got := Estimate(r, nil, 0)
	if got == nil {
		t.Fatalf("expected a result")
	}
	if diff := got.FrequencyHz - 1000; diff < -1 || diff > 1 {
		t.Fatalf("frequency = %v, want ~1000", got.FrequencyHz)
	}
	if diff := got.DutyPct - 25; diff < -1 || diff > 1 {
		t.Fatalf("duty = %v, want ~25", got.DutyPct)
	}
	if !r.Empty() {
		t.Fatalf("destructive read: ring should be empty after Estimate")
	}
}

func TestEstimateSkipsLeadingFallingEdge(t *testing.T) {
	period := middstime.MCUHz / 1000
	high := period / 2

	r := ring.NewTimestampRing(64)
	r.Push(encode(500, false)) // leading falling edge, must be skipped
	var ts uint64 = 1000
	for i := 0; i < 12; i++ {
		r.Push(encode(ts, true))
		ts += high
		r.Push(encode(ts, false))
		ts += period - high
	}

	got := Estimate(r, nil, 0)
	if got == nil {
		t.Fatalf("expected a result despite the leading falling edge")
	}
}
