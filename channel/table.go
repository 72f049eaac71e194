// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package channel

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"

	"github.com/dabecart/MIDDS/hal"
	"github.com/dabecart/MIDDS/midderr"
	"github.com/dabecart/MIDDS/ring"
)

// Per spec §3: N = 30 channels, Timer channels 0..13, Gpio channels
// 14..29 (matches original_source's CH_CONT_TIMER_COUNT/CH_CONT_GPIO_COUNT).
const (
	TimerChannelCount = 14
	GpioChannelCount  = 16
	Count             = TimerChannelCount + GpioChannelCount
)

// Channel is one entry of the table: spec §3's per-channel attribute
// set, plus the kind-specific binding (timer-capture resource or
// GPIO-expander pin) needed to apply it to real hardware.
type Channel struct {
	ID       int
	Kind     Kind
	Mode     Mode
	Protocol Protocol

	LastPrintTick uint32
	FreqCache     FreqCache

	// Timer-kind fields.
	Ring       *ring.TimestampRing
	IsSync     bool
	timerIndex int
	port, pin  int

	// Gpio-kind fields.
	expanderPin int
}

// Level samples the channel's current logical level, abstracting over
// direct-GPIO and expander-backed channels (spec §4.E "getters/setters
// ... abstract over the two kinds").
func (c *Channel) Level(directGpio hal.Gpio, expander hal.GpioExpander) gpio.Level {
	if c.Kind == Timer {
		return gpio.Level(directGpio.ReadPin(c.port, c.pin))
	}
	v, _ := expander.GetState(expanderIDForProtocol(c.Protocol), c.expanderPin)
	return gpio.Level(v)
}

// TimerBinding describes a Timer-kind channel's hardware binding at
// construction time.
type TimerBinding struct {
	Port, Pin int
	Ring      *ring.TimestampRing
	IsSync    bool
}

// GpioBinding describes a Gpio-kind channel's expander pin number at
// construction time. The expander identity itself is derived at
// configuration time from the channel's protocol (spec §4.E).
type GpioBinding struct {
	PinNumber int
}

// Table is spec §4.E's ChannelTable.
type Table struct {
	mu sync.Mutex

	timer      hal.HwTimer
	directGpio hal.Gpio
	expander   hal.GpioExpander
	shiftReg   hal.ShiftRegister

	channels [Count]Channel
}

// New constructs a Table. timerBindings must have exactly
// TimerChannelCount entries and gpioBindings exactly GpioChannelCount,
// in channel-ID order, mirroring
// original_source's initChannelController loop.
func New(timer hal.HwTimer, directGpio hal.Gpio, expander hal.GpioExpander, shiftReg hal.ShiftRegister, timerBindings []TimerBinding, gpioBindings []GpioBinding) (*Table, error) {
	if len(timerBindings) != TimerChannelCount {
		return nil, fmt.Errorf("channel: need %d timer bindings, got %d", TimerChannelCount, len(timerBindings))
	}
	if len(gpioBindings) != GpioChannelCount {
		return nil, fmt.Errorf("channel: need %d gpio bindings, got %d", GpioChannelCount, len(gpioBindings))
	}

	t := &Table{timer: timer, directGpio: directGpio, expander: expander, shiftReg: shiftReg}
	for i, b := range timerBindings {
		t.channels[i] = Channel{
			ID: i, Kind: Timer, Mode: Disabled, Protocol: Off,
			Ring: b.Ring, IsSync: b.IsSync, timerIndex: i, port: b.Port, pin: b.Pin,
		}
	}
	for i, b := range gpioBindings {
		id := TimerChannelCount + i
		t.channels[id] = Channel{
			ID: id, Kind: Gpio, Mode: Disabled, Protocol: Off,
			expanderPin: b.PinNumber,
		}
	}
	return t, nil
}

// Get returns the channel with the given ID, or false if id is out of
// range (spec §4.E "get(id) → &Channel | None").
func (t *Table) Get(id int) (*Channel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= Count {
		return nil, false
	}
	return &t.channels[id], true
}

// ApplyConfig validates and applies a channel configuration change
// (spec §4.E). It re-applies hardware configuration and, for Timer
// channels, empties the ring so stale stamps from a prior mode are
// discarded.
func (t *Table) ApplyConfig(id int, mode Mode, protocol Protocol) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id < 0 || id >= Count {
		return fmt.Errorf("channel: id %d out of range: %w", id, midderr.ConfigInvalid)
	}
	ch := &t.channels[id]
	if ch.Kind == Gpio && protocol == LVDS {
		return fmt.Errorf("channel: LVDS not valid on a Gpio channel: %w", midderr.ConfigInvalid)
	}
	if mode == Disabled {
		protocol = Off
	}

	ch.Mode = mode
	ch.Protocol = protocol

	if ch.Kind == Timer {
		t.timer.SetCapturePolarity(ch.timerIndex, capturePolarity(mode))
		t.timer.EnableCaptureIRQ(ch.timerIndex, mode != Disabled)
		if ch.Ring != nil {
			ch.Ring.Reset()
		}
	} else {
		dir := hal.DirIn
		if mode == Output {
			dir = hal.DirOut
		}
		if err := t.expander.SetDirection(expanderIDForProtocol(protocol), ch.expanderPin, dir); err != nil {
			return fmt.Errorf("channel: setting expander direction: %w: %w", err, midderr.HardwareFailure)
		}
	}
	return nil
}

// ReadLevel samples the current logical level of channel id (spec §4.H
// "Input -> read state").
func (t *Table) ReadLevel(id int) (gpio.Level, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= Count {
		return false, fmt.Errorf("channel: id %d out of range: %w", id, midderr.ConfigInvalid)
	}
	ch := &t.channels[id]
	return ch.Level(t.directGpio, t.expander), nil
}

// SetOutputLevel drives channel id to level, provided it is currently
// configured as Output (spec §4.H "Output -> validate mode is Output,
// set state via ChannelTable").
func (t *Table) SetOutputLevel(id int, level gpio.Level) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= Count {
		return fmt.Errorf("channel: id %d out of range: %w", id, midderr.ConfigInvalid)
	}
	ch := &t.channels[id]
	if ch.Mode != Output {
		return fmt.Errorf("channel: %d is not configured as Output: %w", id, midderr.ConfigInvalid)
	}
	if ch.Kind == Timer {
		t.directGpio.WritePin(ch.port, ch.pin, bool(level))
		return nil
	}
	if err := t.expander.SetState(expanderIDForProtocol(ch.Protocol), ch.expanderPin, bool(level)); err != nil {
		return fmt.Errorf("channel: setting expander state: %w: %w", err, midderr.HardwareFailure)
	}
	return nil
}

// All invokes fn for every channel in ID order, holding the table's lock
// for the duration. fn must not call back into Table methods.
func (t *Table) All(fn func(*Channel)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.channels {
		fn(&t.channels[i])
	}
}

// ResetAll disables every channel (spec §4.H "Connect -> reset all
// channels to Disabled").
func (t *Table) ResetAll() error {
	for id := 0; id < Count; id++ {
		if err := t.ApplyConfig(id, Disabled, Off); err != nil {
			return err
		}
	}
	return nil
}

// PushShiftRegisters materialises every timer channel's Lane and
// strobes it out over the ShiftRegister (spec §4.E
// "pushShiftRegisters()").
func (t *Table) PushShiftRegisters() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var frame [TimerChannelCount]byte
	for i := 0; i < TimerChannelCount; i++ {
		frame[i] = laneForChannel(&t.channels[i]).encode()
	}
	if err := t.shiftReg.Transmit(frame[:]); err != nil {
		return fmt.Errorf("channel: transmitting shift register frame: %w: %w", err, midderr.HardwareFailure)
	}
	t.shiftReg.PulseEnable()
	return nil
}

// capturePolarity maps a channel Mode to its hardware capture edge
// (spec §4.E "capture polarity mapping").
func capturePolarity(m Mode) gpio.Edge {
	switch m {
	case MonitorRising:
		return gpio.RisingEdge
	case MonitorFalling:
		return gpio.FallingEdge
	case MonitorBoth, Input, Frequency:
		return gpio.BothEdges
	default:
		return gpio.NoEdge
	}
}

// expanderIDForProtocol maps a channel's electrical protocol to the
// voltage-domain GPIO expander that owns its pin (spec §4.E: "V5 → 5V
// expander, V3_3 → 3.3V expander, V1_8 → 1.8V expander").
func expanderIDForProtocol(p Protocol) hal.ExpanderID {
	switch p {
	case V3_3:
		return hal.Expander3V3
	case V1_8:
		return hal.Expander1V8
	default:
		return hal.Expander5V
	}
}
