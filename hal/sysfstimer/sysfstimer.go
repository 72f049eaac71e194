// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sysfstimer is a reference hal.HwTimer backend that treats a
// set of Linux sysfs GPIO edge files as if they were the channels of the
// MCU's 16-bit hardware capture timer, so the whole capture pipeline
// (vtimer, syncengine, capture) can be exercised against real GPIO edges
// on a development board with no custom silicon.
//
// Adapted from periph.io/x/host/v3/sysfs's Pin (the fEdge/blocking-read
// idiom its WaitForEdge uses, and driverreg self-registration in its
// package init) — kept the edge-wait shape, dropped the board-specific
// pin-name tables (a SoC-wide pin matrix has no MIDDS equivalent: there
// is exactly one fixed hardware timer peripheral, not a per-board pin
// layout).
//
// Caveat: the real MCU capture timer ticks at middstime.MCUHz
// (170 MHz); no software loop on a Linux host can emulate a 16-bit
// counter wrapping every ~385 µs. TickHz is instead a configurable,
// much slower synthetic tick rate — this backend approximates the
// capture pipeline's behavior for development, it does not reproduce
// production timing accuracy.
package sysfstimer

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3/sysfs"

	"github.com/dabecart/MIDDS/hal"
)

const channelCount = 14

// Timer implements hal.HwTimer over sysfs.Pins.
type Timer struct {
	mu       sync.Mutex
	tickHz   uint64
	start    time.Time
	pins     [channelCount]*sysfs.Pin
	captures [channelCount]uint16
	pending  [channelCount]bool
	polarity [channelCount]gpio.Edge
	capIRQ   [channelCount]bool
	updIRQ   bool
	onCap    func(ch int)
	onUpd    func()

	stopEdge    [channelCount]chan struct{}
	stopOverflow chan struct{}
}

// New selects channelCount sysfs GPIO pin numbers (as found in the
// package-level sysfs.Pins map driverGPIO.Init() populates once
// host.Init() has run) as the timer's capture channels, in channel-index
// order. tickHz is the synthetic tick rate (see package doc).
func New(tickHz uint64, pinNumbers [channelCount]int) (*Timer, error) {
	if tickHz == 0 {
		return nil, fmt.Errorf("sysfstimer: tickHz must be positive")
	}
	t := &Timer{tickHz: tickHz}
	for ch, num := range pinNumbers {
		p, ok := sysfs.Pins[num]
		if !ok {
			return nil, fmt.Errorf("sysfstimer: sysfs gpio %d not found (did host.Init() run?)", num)
		}
		t.pins[ch] = p
	}
	return t, nil
}

// Start implements hal.HwTimer: it records the epoch the synthetic
// counter runs from. The overflow watcher is started by EnableUpdateIRQ,
// and capture watchers individually by EnableCaptureIRQ, mirroring the real MCU
// only taking capture interrupts for channels ChannelTable has enabled.
func (t *Timer) Start() {
	t.mu.Lock()
	t.start = time.Now()
	t.mu.Unlock()
}

// ReadCounter implements hal.HwTimer: the free-running counter, emulated
// as elapsed wall-clock time scaled to tickHz and wrapped at 16 bits.
func (t *Timer) ReadCounter() uint16 {
	t.mu.Lock()
	start := t.start
	hz := t.tickHz
	t.mu.Unlock()
	ticks := uint64(time.Since(start) / time.Nanosecond) * hz / uint64(time.Second/time.Nanosecond)
	return uint16(ticks)
}

// ReadCaptureRegister implements hal.HwTimer.
func (t *Timer) ReadCaptureRegister(ch int) uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.captures[ch]
}

// AcknowledgeCapture implements hal.HwTimer.
func (t *Timer) AcknowledgeCapture(ch int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.pending[ch]
	t.pending[ch] = false
	return p
}

// SetCapturePolarity implements hal.HwTimer.
func (t *Timer) SetCapturePolarity(ch int, edge gpio.Edge) {
	t.mu.Lock()
	t.polarity[ch] = edge
	pin := t.pins[ch]
	enabled := t.capIRQ[ch]
	t.mu.Unlock()
	if enabled && pin != nil {
		_ = pin.In(gpio.Float, edge)
	}
}

// EnableCaptureIRQ implements hal.HwTimer by starting or stopping the
// per-pin edge-wait goroutine.
func (t *Timer) EnableCaptureIRQ(ch int, enabled bool) {
	t.mu.Lock()
	already := t.capIRQ[ch]
	t.capIRQ[ch] = enabled
	pin := t.pins[ch]
	edge := t.polarity[ch]
	t.mu.Unlock()
	if pin == nil || enabled == already {
		return
	}
	if enabled {
		_ = pin.In(gpio.Float, edge)
		stop := make(chan struct{})
		t.mu.Lock()
		t.stopEdge[ch] = stop
		t.mu.Unlock()
		go t.watchEdges(ch, pin, stop)
		return
	}
	t.mu.Lock()
	stop := t.stopEdge[ch]
	t.stopEdge[ch] = nil
	t.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// watchEdges blocks on pin.WaitForEdge, grounded on sysfs.Pin's own
// fEdge-backed WaitForEdge, latching the synthetic counter and invoking
// onCapture on every edge until stop is closed.
func (t *Timer) watchEdges(ch int, pin *sysfs.Pin, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !pin.WaitForEdge(500 * time.Millisecond) {
			continue
		}
		t.mu.Lock()
		t.captures[ch] = t.readCounterLocked()
		t.pending[ch] = true
		cb := t.onCap
		t.mu.Unlock()
		if cb != nil {
			cb(ch)
		}
	}
}

func (t *Timer) readCounterLocked() uint16 {
	ticks := uint64(time.Since(t.start)/time.Nanosecond) * t.tickHz / uint64(time.Second/time.Nanosecond)
	return uint16(ticks)
}

// EnableUpdateIRQ implements hal.HwTimer by starting or stopping the
// overflow-watcher goroutine that fires onUpdate every time the
// synthetic counter wraps through zero.
func (t *Timer) EnableUpdateIRQ(enabled bool) {
	t.mu.Lock()
	already := t.updIRQ
	t.updIRQ = enabled
	t.mu.Unlock()
	if enabled == already {
		return
	}
	if enabled {
		stop := make(chan struct{})
		t.mu.Lock()
		t.stopOverflow = stop
		t.mu.Unlock()
		go t.watchOverflow(stop)
		return
	}
	t.mu.Lock()
	stop := t.stopOverflow
	t.stopOverflow = nil
	t.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (t *Timer) watchOverflow(stop chan struct{}) {
	const wrap = 1 << 16
	for {
		t.mu.Lock()
		hz, start := t.tickHz, t.start
		t.mu.Unlock()
		elapsed := time.Since(start)
		elapsedTicks := uint64(elapsed/time.Nanosecond) * hz / uint64(time.Second/time.Nanosecond)
		nextWrapTick := (elapsedTicks/wrap + 1) * wrap
		remainingTicks := nextWrapTick - elapsedTicks
		wait := time.Duration(remainingTicks*uint64(time.Second/time.Nanosecond)/hz) * time.Nanosecond
		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			t.mu.Lock()
			cb := t.onUpd
			t.mu.Unlock()
			if cb != nil {
				cb()
			}
		}
	}
}

// OnCapture implements hal.HwTimer.
func (t *Timer) OnCapture(fn func(ch int)) {
	t.mu.Lock()
	t.onCap = fn
	t.mu.Unlock()
}

// OnUpdate implements hal.HwTimer.
func (t *Timer) OnUpdate(fn func()) {
	t.mu.Lock()
	t.onUpd = fn
	t.mu.Unlock()
}

var _ hal.HwTimer = (*Timer)(nil)
