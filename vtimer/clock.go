// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package vtimer extends the MCU's 16-bit hardware capture timer into a
// 64-bit monotonic internal time base.
//
// Grounded on original_source/.../HWTimers.c's coarse/newCoarse pair and
// restartMasterTimerISR/saveTimestamp race-at-wrap handling (spec §4.B).
package vtimer

import "sync"

// Counter is the narrow adapter onto the hardware capture timer's
// free-running 16-bit up-counter, the §6 HwTimer.readCounter slice of
// the hardware abstraction. Clock only ever needs this one method of
// the full HwTimer surface, so it depends on the smaller interface
// rather than the whole adapter.
type Counter interface {
	ReadCounter() uint16
}

// Clock maintains the 64-bit virtual time coarse = now() - counter().
//
// Ownership (spec §5): coarse/newCoarse are written only from ISRs
// (capture and overflow, which share a priority level and never
// preempt each other) and read from both ISR and foreground contexts.
// The mutex here exists for the Go translation's benefit (nothing on
// this hardware preempts same-priority ISRs, but a Go build may run the
// overflow and capture handlers as goroutines rather than true
// interrupts), matching the teacher's sync.Mutex-per-shared-state idiom
// (sysfs.Pin.mu).
type Clock struct {
	mu        sync.Mutex
	counter   Counter
	coarse    uint64
	newCoarse uint64
}

// New constructs a Clock extending the given hardware counter.
func New(counter Counter) *Clock {
	return &Clock{counter: counter}
}

// Now returns the current 64-bit virtual time: coarse + counter().
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	coarse := c.coarse
	c.mu.Unlock()
	return coarse + uint64(c.counter.ReadCounter())
}

// BeginOverflow is called at the entry of the hardware timer's overflow
// (Update) ISR. It pre-computes newCoarse without yet committing it, so
// that captures still in flight for the old epoch can be told apart from
// captures that belong to the new one (spec §4.B's race-at-wrap rule).
func (c *Clock) BeginOverflow() {
	c.mu.Lock()
	c.newCoarse = c.coarse + 0x10000
	c.mu.Unlock()
}

// CommitOverflow finishes the overflow ISR by publishing newCoarse as
// the current coarse. Must be called after every pending per-channel
// capture has been replayed through Extend(v, true).
func (c *Clock) CommitOverflow() {
	c.mu.Lock()
	c.coarse = c.newCoarse
	c.mu.Unlock()
}

// Extend composes a raw hardware capture value v into a 64-bit
// timestamp. When addIncrement is true (called from within the overflow
// ISR, replaying a capture that raced the wrap), v is interpreted as
// belonging to the new epoch iff v is less than the counter's current
// reading — meaning the counter has already wrapped past it — in which
// case newCoarse is added; otherwise the not-yet-committed coarse is
// added. When addIncrement is false (the ordinary capture-ISR path),
// coarse is simply added.
func (c *Clock) Extend(v uint16, addIncrement bool) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if addIncrement && v < c.counter.ReadCounter() {
		return c.newCoarse + uint64(v)
	}
	return c.coarse + uint64(v)
}

// SetAbsoluteTime assigns coarse so that the next Now() call yields
// exactly tTicks (already converted from UNIX ns by the caller via
// middstime.FromUnixNs). Spec §4.B: must only be invoked from the SYNC
// edge handler or another safe point — never concurrently with
// BeginOverflow/CommitOverflow/Extend for the same edge.
func (c *Clock) SetAbsoluteTime(tTicks uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := tTicks - uint64(c.counter.ReadCounter())
	c.coarse = t
	c.newCoarse = t
}

// Coarse returns the current committed coarse value, for diagnostics
// and tests.
func (c *Clock) Coarse() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coarse
}
