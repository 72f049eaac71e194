// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package expander implements spec §6's GpioExpander adapter over an I²C
// bus, modelling each of MIDDS's three voltage-domain port expanders
// (5 V, 3.3 V, 1.8 V — spec §3 "selected by protocol") as an
// MCP23017-style 16-bit I/O expander: two 8-bit banks (IODIR/GPIO pairs)
// addressed the way the real chip's register map lays them out.
//
// Adapted from ftdi/i2c.go's i2cBus: kept the Tx-based
// write-register/read-register pattern (a single-byte register address
// followed by the data, or a zero-length write followed by a read for a
// register read), dropped the FTDI-MPSSE-specific clock-stretching
// workaround (setupI2C/stopI2C's tristate dance) since a generic
// periph.io/x/conn/v3/i2c.Bus already handles bus timing.
package expander

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"

	"github.com/dabecart/MIDDS/hal"
)

// MCP23017 register addresses (BANK=0 mode, the chip's power-on default).
const (
	regIODIRA = 0x00
	regIODIRB = 0x01
	regGPIOA  = 0x12
	regGPIOB  = 0x13
)

// Bank is one chip's bus address and bit layout.
type bank struct {
	bus  i2c.Bus
	addr uint16
}

// Expander implements hal.GpioExpander over up to three I²C-attached
// MCP23017-style chips, one per hal.ExpanderID.
type Expander struct {
	mu    sync.Mutex
	banks map[hal.ExpanderID]*bank
	// dirCache/stateCache mirror IODIR/GPIO so SetDirection/SetState can
	// read-modify-write a single bit without an extra bus transaction
	// to fetch the register's other bits, the same bookkeeping
	// ftdi/i2c.go's setI2CLinesIdle keeps for its own line state.
	dirCache   map[hal.ExpanderID][2]byte
	stateCache map[hal.ExpanderID][2]byte
}

// New constructs an Expander with one chip per entry of buses, keyed by
// the corresponding hal.ExpanderID. Every bank starts with IODIR=0xFF
// (all-input, the chip's power-on reset state) mirrored in dirCache.
func New(buses map[hal.ExpanderID]i2c.Bus, addr uint16) (*Expander, error) {
	e := &Expander{
		banks:      make(map[hal.ExpanderID]*bank, len(buses)),
		dirCache:   make(map[hal.ExpanderID][2]byte, len(buses)),
		stateCache: make(map[hal.ExpanderID][2]byte, len(buses)),
	}
	for id, bus := range buses {
		if bus == nil {
			return nil, fmt.Errorf("expander: nil bus for id %d", id)
		}
		e.banks[id] = &bank{bus: bus, addr: addr}
		e.dirCache[id] = [2]byte{0xFF, 0xFF}
		e.stateCache[id] = [2]byte{}
		if err := e.writeReg(id, regIODIRA, 0xFF); err != nil {
			return nil, err
		}
		if err := e.writeReg(id, regIODIRB, 0xFF); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func portBit(pinNum int) (port int, bit uint8) {
	return pinNum / 8, uint8(1) << uint(pinNum%8)
}

func (e *Expander) writeReg(id hal.ExpanderID, reg byte, value byte) error {
	b, ok := e.banks[id]
	if !ok {
		return fmt.Errorf("expander: unknown id %d", id)
	}
	return b.bus.Tx(b.addr, []byte{reg, value}, nil)
}

// SetDirection implements hal.GpioExpander.
func (e *Expander) SetDirection(id hal.ExpanderID, pinNum int, dir hal.Direction) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	port, bit := portBit(pinNum)
	dirs, ok := e.dirCache[id]
	if !ok {
		return fmt.Errorf("expander: unknown id %d", id)
	}
	if dir == hal.DirIn {
		dirs[port] |= bit
	} else {
		dirs[port] &^= bit
	}
	reg := byte(regIODIRA)
	if port == 1 {
		reg = regIODIRB
	}
	if err := e.writeReg(id, reg, dirs[port]); err != nil {
		return fmt.Errorf("expander: writing IODIR: %w", err)
	}
	e.dirCache[id] = dirs
	return nil
}

// SetState implements hal.GpioExpander.
func (e *Expander) SetState(id hal.ExpanderID, pinNum int, level bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	port, bit := portBit(pinNum)
	states, ok := e.stateCache[id]
	if !ok {
		return fmt.Errorf("expander: unknown id %d", id)
	}
	if level {
		states[port] |= bit
	} else {
		states[port] &^= bit
	}
	reg := byte(regGPIOA)
	if port == 1 {
		reg = regGPIOB
	}
	if err := e.writeReg(id, reg, states[port]); err != nil {
		return fmt.Errorf("expander: writing GPIO: %w", err)
	}
	e.stateCache[id] = states
	return nil
}

// GetState implements hal.GpioExpander, reading the live GPIO register
// rather than the write-side cache (an input pin's level is never in
// stateCache).
func (e *Expander) GetState(id hal.ExpanderID, pinNum int) (bool, error) {
	e.mu.Lock()
	b, ok := e.banks[id]
	e.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("expander: unknown id %d", id)
	}

	port, bit := portBit(pinNum)
	reg := byte(regGPIOA)
	if port == 1 {
		reg = regGPIOB
	}
	var r [1]byte
	if err := b.bus.Tx(b.addr, []byte{reg}, r[:]); err != nil {
		return false, fmt.Errorf("expander: reading GPIO: %w", err)
	}
	return r[0]&bit != 0, nil
}

var _ hal.GpioExpander = (*Expander)(nil)
