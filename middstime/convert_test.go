package middstime

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, MCUHz, MCUHz * 3600, 1_700_000_000_000_000_000}
	for _, ns := range cases {
		ticks := FromUnixNs(ns)
		back := ToUnixNs(ticks)
		// Integer division loses sub-tick precision; allow for one tick
		// of rounding either way.
		diff := int64(back) - int64(ns)
		if diff < -int64(nanosPerSecond/MCUHz)-1 || diff > int64(nanosPerSecond/MCUHz)+1 {
			t.Fatalf("ns=%d ticks=%d back=%d diff=%d", ns, ticks, back, diff)
		}
	}
}

func TestToUnixNsOneSecond(t *testing.T) {
	if got := ToUnixNs(MCUHz); got != nanosPerSecond {
		t.Fatalf("got %d want %d", got, nanosPerSecond)
	}
}

func TestFromUnixNsOneSecond(t *testing.T) {
	if got := FromUnixNs(nanosPerSecond); got != MCUHz {
		t.Fatalf("got %d want %d", got, MCUHz)
	}
}
