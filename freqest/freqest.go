// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package freqest implements the FrequencyEstimator (spec §4.F): it
// drains a channel's TimestampRing and derives a frequency/duty-cycle
// estimate from the alternating rising/falling edge stream.
//
// There is no original_source equivalent — the legacy firmware never
// finished a frequency mode (spec §9 Open Questions) — so this is built
// from spec §4.F's algorithm directly, using the teacher's
// destructive-ring-drain idiom (gpioioctl.LineSet's locked
// read-then-clear pattern) for the Lock/Unlock discipline around
// draining.
package freqest

import (
	"time"

	"github.com/dabecart/MIDDS/capture"
	"github.com/dabecart/MIDDS/middstime"
	"github.com/dabecart/MIDDS/ring"
)

// cacheValidity is how long a cached result remains usable once the
// ring has too few entries to recompute (spec §4.F step 1: "30 000 ms").
const cacheValidity = 30 * time.Second

// Result is a frequency/duty-cycle estimate (spec §3 FreqCache, minus
// the millisecond bookkeeping which the caller — package channel —
// owns).
type Result struct {
	FrequencyHz float64
	DutyPct     float64
}

// Estimate runs spec §4.F's algorithm against r, using the ring's
// Lock/Unlock discipline to block the ISR producer while draining
// (destructive read: the ring is emptied as part of the computation).
// cached and cacheAgeMs describe the channel's FreqCache entry; cached
// is returned as-is when the ring holds fewer than 10 entries and the
// cache isn't stale, nil if it has gone stale.
func Estimate(r *ring.TimestampRing, cached *Result, cacheAgeMs uint32) *Result {
	if r.Len() < 10 {
		if uint32(cacheValidity/time.Millisecond) <= cacheAgeMs {
			return nil
		}
		return cached
	}

	r.Lock()
	defer r.Unlock()

	entries := make([]uint64, 0, r.Len())
	for {
		e, ok := r.Pop()
		if !ok {
			break
		}
		entries = append(entries, e)
	}

	var (
		previousRising uint64
		haveRising     bool
		periodSum      uint64
		risenTimeSum   uint64
		cycles         uint64
	)

	for i, entry := range entries {
		t := capture.DecodeTimestamp(entry)
		level := bool(capture.DecodeLevel(entry))

		if !haveRising {
			if !level {
				// Skip leading falling edges until the first rising edge.
				continue
			}
			previousRising = t
			haveRising = true
			continue
		}

		if level {
			periodSum += t - previousRising
			cycles++
			previousRising = t
		} else if i < len(entries)-1 {
			// A falling edge as the very last entry closes no known
			// cycle yet; its contribution is not committed (spec §4.F
			// step 7).
			risenTimeSum += t - previousRising
		}
	}

	if cycles == 0 {
		return nil
	}

	return &Result{
		FrequencyHz: float64(middstime.MCUHz) * float64(cycles) / float64(periodSum),
		DutyPct:     100 * float64(risenTimeSum) / float64(periodSum),
	}
}
