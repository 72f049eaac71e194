// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package expander

import (
	"testing"

	"periph.io/x/conn/v3/i2c"

	"github.com/dabecart/MIDDS/hal"
)

// fakeBus is a minimal i2c.Bus recording every register write and
// answering reads from a tiny register file, enough to exercise
// Expander without real hardware.
type fakeBus struct {
	regs map[byte]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{regs: map[byte]byte{regIODIRA: 0xFF, regIODIRB: 0xFF, regGPIOA: 0, regGPIOB: 0}}
}

func (f *fakeBus) String() string { return "fakeBus" }

func (f *fakeBus) Speed(hz int64) error { return nil }

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	if len(w) == 2 {
		f.regs[w[0]] = w[1]
		return nil
	}
	if len(w) == 1 && len(r) == 1 {
		r[0] = f.regs[w[0]]
		return nil
	}
	return nil
}

var _ i2c.Bus = (*fakeBus)(nil)

func newTestExpander(bus i2c.Bus) (*Expander, error) {
	return New(map[hal.ExpanderID]i2c.Bus{hal.Expander5V: bus}, 0x20)
}

func TestNewResetsIODIRToAllInput(t *testing.T) {
	bus := newFakeBus()
	if _, err := newTestExpander(bus); err != nil {
		t.Fatalf("New: %v", err)
	}
	if bus.regs[regIODIRA] != 0xFF || bus.regs[regIODIRB] != 0xFF {
		t.Errorf("IODIR not all-input after New: A=%08b B=%08b", bus.regs[regIODIRA], bus.regs[regIODIRB])
	}
}

func TestSetDirectionWritesIODIR(t *testing.T) {
	bus := newFakeBus()
	e, err := newTestExpander(bus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.SetDirection(hal.Expander5V, 3, hal.DirOut); err != nil {
		t.Fatalf("SetDirection: %v", err)
	}
	if got := bus.regs[regIODIRA]; got&(1<<3) != 0 {
		t.Errorf("IODIRA bit 3 still set after DirOut: %08b", got)
	}
}

func TestSetStateAndGetState(t *testing.T) {
	bus := newFakeBus()
	e, err := newTestExpander(bus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.SetState(hal.Expander5V, 3, true); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if got := bus.regs[regGPIOA]; got&(1<<3) == 0 {
		t.Errorf("GPIOA bit 3 not set after SetState(true): %08b", got)
	}

	bus.regs[regGPIOA] |= 1 << 5
	level, err := e.GetState(hal.Expander5V, 5)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !level {
		t.Errorf("GetState(5) = false, want true")
	}
}

func TestUnknownExpanderID(t *testing.T) {
	bus := newFakeBus()
	e, err := newTestExpander(bus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.SetState(hal.Expander1V8, 0, true); err == nil {
		t.Errorf("SetState on unbound expander id: want error, got nil")
	}
}
