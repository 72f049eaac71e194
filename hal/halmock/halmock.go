// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package halmock provides in-memory fakes for every hal interface,
// grounded on the teacher's hand-rolled test-fake idiom (gpioioctl/dummy.go,
// ftdi/driver_test.go's fakeHandle) rather than a mocking framework.
package halmock

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/pin"

	"github.com/dabecart/MIDDS/hal"
)

// Timer is a software HwTimer fake. Tests drive it by calling Capture or
// Overflow directly instead of waiting on real interrupts.
type Timer struct {
	mu       sync.Mutex
	counter  uint16
	captures [16]uint16
	pending  [16]bool
	polarity [16]gpio.Edge
	capIRQ   [16]bool
	updIRQ   bool
	onCap    func(ch int)
	onUpd    func()
	started  bool
}

func NewTimer() *Timer { return &Timer{} }

func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
}

func (t *Timer) ReadCaptureRegister(ch int) uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.captures[ch]
}

func (t *Timer) ReadCounter() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counter
}

func (t *Timer) AcknowledgeCapture(ch int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.pending[ch]
	t.pending[ch] = false
	return p
}

func (t *Timer) SetCapturePolarity(ch int, edge gpio.Edge) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.polarity[ch] = edge
}

func (t *Timer) EnableCaptureIRQ(ch int, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.capIRQ[ch] = enabled
}

func (t *Timer) EnableUpdateIRQ(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updIRQ = enabled
}

// CapIRQEnabled reports whether EnableCaptureIRQ(ch, true) was the last
// call for ch; for assertions in tests that don't wire a capture.Engine.
func (t *Timer) CapIRQEnabled(ch int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.capIRQ[ch]
}

// Polarity returns the last polarity set via SetCapturePolarity for ch.
func (t *Timer) Polarity(ch int) gpio.Edge {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.polarity[ch]
}

func (t *Timer) OnCapture(fn func(ch int)) { t.onCap = fn }
func (t *Timer) OnUpdate(fn func())        { t.onUpd = fn }

// SetCounter lets a test move the free-running counter directly.
func (t *Timer) SetCounter(v uint16) {
	t.mu.Lock()
	t.counter = v
	t.mu.Unlock()
}

// Capture simulates a hardware capture event on ch latching value v, and
// invokes the registered OnCapture callback if capture IRQs are enabled
// for ch.
func (t *Timer) Capture(ch int, v uint16) {
	t.mu.Lock()
	t.captures[ch] = v
	t.pending[ch] = true
	enabled := t.capIRQ[ch]
	cb := t.onCap
	t.mu.Unlock()
	if enabled && cb != nil {
		cb(ch)
	}
}

// Overflow simulates the counter wrapping through zero, invoking the
// registered OnUpdate callback if update IRQs are enabled.
func (t *Timer) Overflow() {
	t.mu.Lock()
	enabled := t.updIRQ
	cb := t.onUpd
	t.mu.Unlock()
	if enabled && cb != nil {
		cb()
	}
}

// Gpio is a software-backed direct-pin fake addressed as (port<<5)|pin.
type Gpio struct {
	mu     sync.Mutex
	levels map[int]bool
	modes  map[int]hal.PinMode
}

func NewGpio() *Gpio {
	return &Gpio{levels: make(map[int]bool), modes: make(map[int]hal.PinMode)}
}

func key(port, pinNum int) int { return port<<5 | pinNum }

func (g *Gpio) ReadPin(port, pinNum int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.levels[key(port, pinNum)]
}

func (g *Gpio) WritePin(port, pinNum int, level bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.levels[key(port, pinNum)] = level
}

func (g *Gpio) ConfigurePin(port, pinNum int, mode hal.PinMode, altFn pin.Func) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.modes[key(port, pinNum)] = mode
}

// Expander is a software-backed GpioExpander fake spanning all three
// voltage domains.
type Expander struct {
	mu    sync.Mutex
	state map[hal.ExpanderID]map[int]bool
	dir   map[hal.ExpanderID]map[int]hal.Direction
}

func NewExpander() *Expander {
	return &Expander{
		state: make(map[hal.ExpanderID]map[int]bool),
		dir:   make(map[hal.ExpanderID]map[int]hal.Direction),
	}
}

func (e *Expander) SetDirection(id hal.ExpanderID, pinNum int, dir hal.Direction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dir[id] == nil {
		e.dir[id] = make(map[int]hal.Direction)
	}
	e.dir[id][pinNum] = dir
	return nil
}

// Direction returns the last direction set via SetDirection for pinNum on
// expander id (DirIn if none was set).
func (e *Expander) Direction(id hal.ExpanderID, pinNum int) hal.Direction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir[id][pinNum]
}

func (e *Expander) SetState(id hal.ExpanderID, pinNum int, level bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state[id] == nil {
		e.state[id] = make(map[int]bool)
	}
	e.state[id][pinNum] = level
	return nil
}

func (e *Expander) GetState(id hal.ExpanderID, pinNum int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state[id][pinNum], nil
}

// ShiftRegister records the last transmitted frame and a pulse count,
// grounded on ftdi/spi.go's loopback test fixture.
type ShiftRegister struct {
	mu       sync.Mutex
	Last     []byte
	Pulses   int
	FailNext bool
}

func NewShiftRegister() *ShiftRegister { return &ShiftRegister{} }

func (s *ShiftRegister) Transmit(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNext {
		s.FailNext = false
		return errShiftRegisterBus
	}
	s.Last = append([]byte(nil), b...)
	return nil
}

func (s *ShiftRegister) PulseEnable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Pulses++
}

// Transport is a loopback-style ByteTransport fake: bytes written with
// Feed (simulating data arriving from the host) are delivered to the
// registered OnReceive callback, and bytes sent via TryTransmit are
// appended to Sent for assertions.
type Transport struct {
	mu   sync.Mutex
	Sent []byte
	recv func(b []byte)
	Jam  bool
}

func NewTransport() *Transport { return &Transport{} }

func (t *Transport) TryTransmit(b []byte) hal.TransmitResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Jam {
		return hal.Busy
	}
	t.Sent = append(t.Sent, b...)
	return hal.Accepted
}

func (t *Transport) OnReceive(fn func(b []byte)) {
	t.mu.Lock()
	t.recv = fn
	t.mu.Unlock()
}

// Feed simulates bytes arriving from the host.
func (t *Transport) Feed(b []byte) {
	t.mu.Lock()
	cb := t.recv
	t.mu.Unlock()
	if cb != nil {
		cb(b)
	}
}

// Clock is a settable Tick fake.
type Clock struct {
	mu sync.Mutex
	ms uint32
}

func NewClock() *Clock { return &Clock{} }

func (c *Clock) NowMs() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

func (c *Clock) Advance(ms uint32) {
	c.mu.Lock()
	c.ms += ms
	c.mu.Unlock()
}

// Rebooter counts how many times Reboot was invoked.
type Rebooter struct {
	mu    sync.Mutex
	Count int
}

func NewRebooter() *Rebooter { return &Rebooter{} }

func (r *Rebooter) Reboot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Count++
}

var errShiftRegisterBus = shiftBusError("halmock: simulated shift register bus failure")

type shiftBusError string

func (e shiftBusError) Error() string { return string(e) }
