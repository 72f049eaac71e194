// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package syncengine linearises the free-running virtual counter
// against an external periodic reference pulse (SYNC), interpolating
// arbitrary captures onto the reference's ideal timeline.
//
// Grounded on original_source's HWTimers.c SYNC handling
// (measuredPeriodHighSYNC/measuredPeriodLowSYNC, currentSyncState,
// syncPulseCount) and spec §4.C. Duty cycle and level are represented
// with periph.io/x/conn/v3/gpio's Duty and Level types instead of
// bespoke ones (domain stack wiring); frequency with
// periph.io/x/conn/v3/physic.Frequency.
package syncengine

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/dabecart/MIDDS/middstime"
)

// State is the engine's correction state machine (spec §4.C).
type State uint8

const (
	// Uninit means no correction is applied; correct(v) returns v
	// unmodified.
	Uninit State = iota
	// Low means the engine last observed a falling edge and corrects
	// against the low half-period.
	Low
	// High means the engine last observed a rising edge and corrects
	// against the high half-period.
	High
)

func (s State) String() string {
	switch s {
	case Low:
		return "Low"
	case High:
		return "High"
	default:
		return "Uninit"
	}
}

// pulsesToEngage is the number of consecutive clean SYNC pulses required
// before correction becomes active (spec §4.C step 6).
const pulsesToEngage = 3

// AbsClock is the narrow slice of vtimer.Clock the engine needs to
// commit a pending absolute-time reset.
type AbsClock interface {
	SetAbsoluteTime(tTicks uint64)
}

// Config configures the reference pulse. SyncChannel is the channel ID
// recorded as the SYNC reference (reported by SyncEngine.SyncChannel), or
// -1 for none (spec's "-0"/None sentinel, preserved in the wire codec —
// see package protocol). Recording it does not change which channel's
// edges reach OnSyncEdge: that is fixed by the capture.Channel IsSync
// flags given when the capture engine is built.
type Config struct {
	Freq        physic.Frequency
	Duty        gpio.Duty
	SyncChannel int
	// PendingResetUnixNs/HasPendingReset request that the next SYNC
	// rising edge be aligned to this absolute UNIX-ns time.
	PendingResetUnixNs uint64
	HasPendingReset    bool
}

// SyncEngine implements spec §4.C. Foreground configuration entry
// points (SetSync) disable capture interrupts across the critical
// section that updates derived periods and PendingResetTime (spec §5);
// in this Go translation that discipline is represented by holding mu
// across the same section.
type SyncEngine struct {
	mu    sync.Mutex
	clock AbsClock

	freq         physic.Frequency
	duty         gpio.Duty
	idealHigh    uint64
	idealLow     uint64
	measuredHigh uint64
	measuredLow  uint64

	lastSyncMeasured uint64
	lastSyncIdeal    uint64

	state      State
	pulseCount int

	syncChannel int

	pendingResetTicks uint64
	hasPending        bool

	// idleTimeout, when non-zero, forces state back to Uninit if no SYNC
	// edge has been observed in that long of wall-clock time (spec §9
	// Open Question; see DESIGN.md for the default decision).
	idleTimeout  time.Duration
	lastEdgeWall time.Time
	now          func() time.Time
}

// New constructs a SyncEngine bound to the given clock.
func New(clock AbsClock) *SyncEngine {
	return &SyncEngine{
		clock:       clock,
		syncChannel: -1,
		now:         time.Now,
	}
}

// SetIdleTimeout configures the idle timeout described in spec §9. A
// zero duration disables it (the default).
func (s *SyncEngine) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleTimeout = d
}

// SetSync reconfigures the reference pulse. Any prior engagement is
// discarded: the engine returns to Uninit and must re-observe
// pulsesToEngage clean edges before correction resumes.
func (s *SyncEngine) SetSync(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.freq = cfg.Freq
	s.duty = cfg.Duty
	s.syncChannel = cfg.SyncChannel

	hz := float64(cfg.Freq) / float64(physic.Hertz)
	dutyFrac := float64(cfg.Duty) / float64(gpio.DutyMax)
	if hz > 0 {
		s.idealHigh = uint64(float64(middstime.MCUHz) * dutyFrac / hz)
		s.idealLow = uint64(float64(middstime.MCUHz) * (1 - dutyFrac) / hz)
	} else {
		s.idealHigh = 0
		s.idealLow = 0
	}

	if cfg.HasPendingReset {
		s.pendingResetTicks = middstime.FromUnixNs(cfg.PendingResetUnixNs)
		s.hasPending = true
	}

	s.state = Uninit
	s.pulseCount = 0
}

// SyncChannel returns the currently bound SYNC channel ID, or -1 if
// none is bound.
func (s *SyncEngine) SyncChannel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncChannel
}

// State returns the engine's current correction state.
func (s *SyncEngine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnSyncEdge processes a capture on the designated SYNC channel. v is
// the clock-extended capture value (already passed through
// vtimer.Clock.Extend); level is the channel's logical level sampled at
// capture time. It returns the corrected ("ideal") stamp to use for this
// edge, anchored on lastSyncIdeal the way spec §4.C step 3/4 describes.
func (s *SyncEngine) OnSyncEdge(v uint64, level gpio.Level) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeGoIdleLocked()

	if bool(level) {
		// Level is high: the preceding low half-period just ended.
		s.measuredLow = v - s.lastSyncMeasured
	} else {
		s.measuredHigh = v - s.lastSyncMeasured
	}

	if s.hasPending {
		s.clock.SetAbsoluteTime(s.pendingResetTicks)
		s.lastSyncIdeal = s.pendingResetTicks
		s.hasPending = false
		s.state = Uninit
		s.pulseCount = 0
	} else if s.state != Uninit {
		if s.state == High {
			s.lastSyncIdeal += s.idealHigh
		} else {
			s.lastSyncIdeal += s.idealLow
		}
	} else {
		s.lastSyncIdeal = v
	}

	s.lastSyncMeasured = v
	s.lastEdgeWall = s.now()

	if s.pulseCount >= pulsesToEngage-1 {
		if bool(level) {
			s.state = High
		} else {
			s.state = Low
		}
	} else {
		s.pulseCount++
	}

	return s.lastSyncIdeal
}

// Correct applies SYNC-based interpolation to a non-SYNC capture value
// v (spec §4.C "correct(v)"). If the engine is Uninit, or the relevant
// measured half-period is zero (no measurement yet), v is returned
// unmodified.
func (s *SyncEngine) Correct(v uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeGoIdleLocked()

	if s.state == Uninit {
		return v
	}

	var idealTicks, measuredTicks uint64
	if s.state == Low {
		idealTicks, measuredTicks = s.idealLow, s.measuredLow
	} else {
		idealTicks, measuredTicks = s.idealHigh, s.measuredHigh
	}
	if measuredTicks == 0 {
		return v
	}

	if v >= s.lastSyncMeasured {
		delta := v - s.lastSyncMeasured
		return s.lastSyncIdeal + idealTicks*delta/measuredTicks
	}
	delta := s.lastSyncMeasured - v
	offset := idealTicks * delta / measuredTicks
	if offset > s.lastSyncIdeal {
		return 0
	}
	return s.lastSyncIdeal - offset
}

// maybeGoIdleLocked forces the engine back to Uninit if idleTimeout is
// configured and more time than that has elapsed since the last SYNC
// edge. Must be called with mu held.
func (s *SyncEngine) maybeGoIdleLocked() {
	if s.idleTimeout <= 0 || s.state == Uninit || s.lastEdgeWall.IsZero() {
		return
	}
	if s.now().Sub(s.lastEdgeWall) >= s.idleTimeout {
		s.state = Uninit
		s.pulseCount = 0
	}
}
