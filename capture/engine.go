// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package capture turns raw hal.HwTimer capture/overflow events into
// SYNC-corrected 64-bit timestamps pushed onto per-channel ring
// buffers.
//
// Grounded on original_source's HWTimers.c: saveTimestamp (shared by
// captureInputISR and restartMasterTimerISR), including its
// "capturedVal << 1 | gpioLevel" LSB-encodes-level wire convention,
// translated here into Engine.processCapture and the
// ring.TimestampRing push.
package capture

import (
	"sync"

	"periph.io/x/conn/v3/gpio"

	"github.com/dabecart/MIDDS/hal"
	"github.com/dabecart/MIDDS/ring"
	"github.com/dabecart/MIDDS/syncengine"
	"github.com/dabecart/MIDDS/vtimer"
)

// LevelReader samples a channel's current logical level at capture
// time, regardless of whether the pin lives on a direct MCU GPIO or
// behind a GpioExpander (spec §6).
type LevelReader func() gpio.Level

// Channel is one hardware timer channel's capture state: its
// destination ring buffer, whether it is bound as the SYNC reference,
// and how to sample its instantaneous level.
type Channel struct {
	Ring   *ring.TimestampRing
	IsSync bool
	Level  LevelReader
}

// Engine replays original_source's saveTimestamp/captureInputISR/
// restartMasterTimerISR trio against the hal.HwTimer and vtimer.Clock
// abstractions. New registers it as the timer's OnCapture/OnUpdate
// callbacks.
type Engine struct {
	mu       sync.Mutex
	timer    hal.HwTimer
	clock    *vtimer.Clock
	sync     *syncengine.SyncEngine
	channels []*Channel
}

// New constructs an Engine for the given channels, in hardware channel
// index order (channels[i] corresponds to timer channel i).
func New(timer hal.HwTimer, clock *vtimer.Clock, sync *syncengine.SyncEngine, channels []*Channel) *Engine {
	e := &Engine{timer: timer, clock: clock, sync: sync, channels: channels}
	timer.OnCapture(e.onCapture)
	timer.OnUpdate(e.onOverflow)
	return e
}

// onCapture is the capture-ISR path (addIncrement=false in the
// original's terms): a single channel's capture-compare flag fired
// outside of a counter overflow.
func (e *Engine) onCapture(ch int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processCapture(ch, false)
}

// onOverflow is the update-ISR path: replays any still-pending capture
// on every channel (addIncrement=true, so Extend can tell whether the
// latched value belongs to the old or new epoch) before committing the
// new coarse.
func (e *Engine) onOverflow() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.clock.BeginOverflow()
	for ch := range e.channels {
		e.processCapture(ch, true)
	}
	e.clock.CommitOverflow()
}

// processCapture mirrors saveTimestamp: it must be called with mu held.
func (e *Engine) processCapture(ch int, addIncrement bool) {
	if !e.timer.AcknowledgeCapture(ch) {
		return
	}
	c := e.channels[ch]
	if c == nil || c.Ring == nil {
		return
	}
	raw := e.timer.ReadCaptureRegister(ch)
	v := e.clock.Extend(raw, addIncrement)
	level := c.Level()

	if c.IsSync {
		v = e.sync.OnSyncEdge(v, level)
	} else {
		// Correct is a no-op (returns v unmodified) while the engine is
		// Uninit, so it is always safe to call unconditionally here.
		v = e.sync.Correct(v)
	}

	encoded := v<<1 | lsb(level)
	c.Ring.Push(encoded)
}

func lsb(level gpio.Level) uint64 {
	if level {
		return 1
	}
	return 0
}

// DecodeLevel extracts the LSB-encoded logical level original_source
// packs into the bottom bit of every pushed timestamp.
func DecodeLevel(encoded uint64) gpio.Level {
	return encoded&1 != 0
}

// DecodeTimestamp strips the LSB-encoded level, returning the plain
// 64-bit timestamp.
func DecodeTimestamp(encoded uint64) uint64 {
	return encoded >> 1
}
