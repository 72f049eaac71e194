// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package channel

// Lane is one timer channel's front-end electronics configuration, the
// per-channel unit spec §4.E's pushShiftRegisters materialises onto the
// shift-register chain: voltage select, a status LED, RS-485-style
// receive/drive enables, and output direction.
//
// Grounded on original_source's ChannelController.c setShiftRegisterValues,
// which only packed two bits per channel (RE, DE derived from TTL/LVDS
// signalType and mode). Spec §4.E's "voltage selects v1/v2, status LEDs,
// RE/DE, output-direction" names a richer per-channel lane than the
// legacy two bits, so this is a supplemented encoding: each lane grows to
// a full byte and lanes are packed contiguously rather than replicating
// the legacy layout's chip-specific unused-port bit shuffle (a
// board-wiring detail with no equivalent requirement in the spec).
type Lane struct {
	Voltage   Protocol
	StatusLED bool
	RE        bool
	DE        bool
	OutputDir bool
}

// laneForChannel derives a timer channel's Lane from its current mode
// and protocol, mirroring setShiftRegisterValues's RE/DE rule:
//   - RE is asserted when a TTL-protocol channel is receiving (Input) or
//     an LVDS-protocol channel is driving (Output) — RS-485 receivers
//     read RE active-low in the legacy wiring, but the abstract bit here
//     is "receive enabled", polarity is the concrete ShiftRegister
//     backend's concern.
//   - DE (driver enable) is asserted whenever the channel's protocol is
//     LVDS, since only the LVDS transceiver needs a driver-enable line.
func laneForChannel(ch *Channel) Lane {
	l := Lane{Voltage: ch.Protocol, OutputDir: ch.Mode == Output}
	if ch.Mode == Disabled {
		return l
	}
	l.StatusLED = true
	ttl := ch.Protocol != LVDS
	l.RE = (ttl && ch.Mode == Input) || (ch.Protocol == LVDS && ch.Mode == Output)
	l.DE = ch.Protocol == LVDS
	return l
}

// voltageBits packs a Protocol into the lane's top 3 bits (Off, V5,
// V3_3, V1_8, LVDS fit in 3 bits with room to spare).
func voltageBits(p Protocol) byte {
	switch p {
	case V5:
		return 1
	case V3_3:
		return 2
	case V1_8:
		return 3
	case LVDS:
		return 4
	default:
		return 0
	}
}

// encode packs a Lane into a single byte: bits 7-5 voltage select, bit 4
// status LED, bit 3 RE, bit 2 DE, bit 1 output direction, bit 0 unused.
func (l Lane) encode() byte {
	b := voltageBits(l.Voltage) << 5
	if l.StatusLED {
		b |= 1 << 4
	}
	if l.RE {
		b |= 1 << 3
	}
	if l.DE {
		b |= 1 << 2
	}
	if l.OutputDir {
		b |= 1 << 1
	}
	return b
}
