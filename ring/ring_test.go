package ring

import (
	"bytes"
	"testing"
)

func TestByteRingRoundTrip(t *testing.T) {
	r := NewByteRing(8)
	s := []byte("abcdefgh")
	if err := r.PushN(s); err != nil {
		t.Fatalf("PushN: %v", err)
	}
	got := make([]byte, len(s))
	if err := r.PopN(len(s), got); err != nil {
		t.Fatalf("PopN: %v", err)
	}
	if !bytes.Equal(got, s) {
		t.Fatalf("got %q want %q", got, s)
	}
	if !r.Empty() {
		t.Fatalf("ring should be empty after round trip")
	}
}

func TestByteRingWrapAround(t *testing.T) {
	r := NewByteRing(4)
	if err := r.PushN([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	var got [2]byte
	if err := r.PopN(2, got[:]); err != nil {
		t.Fatal(err)
	}
	// head is now at index 3, tail at index 2. Pushing 3 more bytes wraps.
	if err := r.PushN([]byte{4, 5, 6}); err != nil {
		t.Fatal(err)
	}
	want := []byte{3, 4, 5, 6}
	out := make([]byte, 4)
	if err := r.PopN(4, out); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestByteRingCapacity(t *testing.T) {
	r := NewByteRing(4)
	if err := r.PushN([]byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := r.Push(5); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if err := r.PushN([]byte{5}); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if r.Len() != 4 {
		t.Fatalf("partial write detected, len=%d", r.Len())
	}
}

func TestByteRingPopNInsufficientNoMutation(t *testing.T) {
	r := NewByteRing(4)
	_ = r.PushN([]byte{1, 2})
	if err := r.PopN(3, make([]byte, 3)); err != ErrShort {
		t.Fatalf("expected ErrShort, got %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("PopN mutated ring on failure, len=%d", r.Len())
	}
}

func TestByteRingPeekNNeverMutates(t *testing.T) {
	r := NewByteRing(4)
	_ = r.PushN([]byte{9, 8, 7})
	var buf [3]byte
	if err := r.PeekN(3, buf[:]); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 3 {
		t.Fatalf("PeekN mutated ring")
	}
	var buf2 [3]byte
	_ = r.PeekN(3, buf2[:])
	if buf != buf2 {
		t.Fatalf("PeekN not idempotent: %v vs %v", buf, buf2)
	}
}

func TestTimestampRingLocked(t *testing.T) {
	r := NewTimestampRing(4)
	r.Lock()
	if r.Push(42) {
		t.Fatalf("push should fail while locked")
	}
	r.Unlock()
	if !r.Push(42) {
		t.Fatalf("push should succeed once unlocked")
	}
}

func TestTimestampRingMonotoneOrder(t *testing.T) {
	r := NewTimestampRing(4)
	for _, v := range []uint64{10, 20, 30} {
		if !r.Push(v) {
			t.Fatalf("push %d failed", v)
		}
	}
	for _, want := range []uint64{10, 20, 30} {
		got, ok := r.Pop()
		if !ok || got != want {
			t.Fatalf("got %d,%v want %d", got, ok, want)
		}
	}
}

func TestTimestampRingDropsOnFull(t *testing.T) {
	r := NewTimestampRing(2)
	if !r.Push(1) || !r.Push(2) {
		t.Fatal("expected both pushes to succeed")
	}
	if r.Push(3) {
		t.Fatalf("push should drop silently once full")
	}
	if r.Len() != 2 {
		t.Fatalf("len=%d want 2", r.Len())
	}
}
