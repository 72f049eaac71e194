// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package shiftreg implements spec §6's ShiftRegister adapter over a
// periph.io/x/conn/v3/spi.Port: the chain of voltage-select / status-LED
// / RS-485 RE-DE / output-direction lanes channel.PushShiftRegisters
// materialises (SPEC_FULL.md §C) is clocked out over SPI and latched
// with a separate Enable strobe pin.
//
// Adapted from ftdi/spi.go's spiMPSEEPort/spiMPSEEConn: kept the
// Connect-once-then-reuse-the-Conn shape and its Tx-based transmit,
// dropped the SPI-mode-negotiation knobs (spi.Mode/NoCS bit twiddling)
// MIDDS's single fixed shift-register chain doesn't need — those live in
// the one Connect call New makes, not re-exposed as adapter surface.
package shiftreg

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/dabecart/MIDDS/hal"
)

// EnableStrober pulses the shift-register chain's Enable/latch line.
// Satisfied by a one-line closure over hal.Gpio.WritePin in production
// wiring (see cmd/middsd), or by a counting closure in tests.
type EnableStrober func()

// ShiftRegister implements hal.ShiftRegister over one SPI connection.
type ShiftRegister struct {
	conn   spi.Conn
	enable EnableStrober
}

// New connects port at freq/mode/bits (8, MSB-first, the chain's fixed
// electrical configuration) and returns a ShiftRegister that latches
// with enable after every Transmit.
func New(port spi.Port, freq physic.Frequency, mode spi.Mode, enable EnableStrober) (*ShiftRegister, error) {
	conn, err := port.Connect(freq, mode, 8)
	if err != nil {
		return nil, fmt.Errorf("shiftreg: connecting: %w", err)
	}
	return &ShiftRegister{conn: conn, enable: enable}, nil
}

// Transmit implements hal.ShiftRegister: it clocks bytes out MOSI-first,
// one byte per timer channel's Lane (channel.shiftlane.go), and reads
// back whatever MISO carries into a scratch buffer it discards — the
// chain is write-only, but spi.Conn.Tx requires equal-length w/r slices.
func (s *ShiftRegister) Transmit(bytes []byte) error {
	scratch := make([]byte, len(bytes))
	if err := s.conn.Tx(bytes, scratch); err != nil {
		return fmt.Errorf("shiftreg: tx: %w", err)
	}
	return nil
}

// PulseEnable implements hal.ShiftRegister.
func (s *ShiftRegister) PulseEnable() {
	if s.enable != nil {
		s.enable()
	}
}

var _ hal.ShiftRegister = (*ShiftRegister)(nil)
