// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package middstime converts between internal MCU timer ticks and
// UNIX-epoch nanoseconds, the only two time scales MIDDS deals in. The
// conversion factor is the MCU's fixed capture-timer tick frequency.
//
// This is plain unit-conversion arithmetic with no third-party library
// surface to exercise (see DESIGN.md); periph.io/x/conn/v3/physic.Frequency
// is used at the component boundary that actually carries a frequency
// value (syncengine's Config), not here.
package middstime

import "math/bits"

// MCUHz is the compile-time tick frequency of the hardware capture
// timer, grounded on the STM32G4 timer clock used by the reference
// MIDDS hardware (original_source's MCU_FREQUENCY).
const MCUHz uint64 = 170_000_000

const nanosPerSecond = 1_000_000_000

// ToUnixNs converts a count of internal ticks to UNIX-epoch nanoseconds:
// ticks * 1e9 / MCUHz, computed with a 128-bit intermediate product so
// it neither overflows nor loses precision across realistic uptimes.
func ToUnixNs(ticks uint64) uint64 {
	hi, lo := bits.Mul64(ticks, nanosPerSecond)
	q, _ := bits.Div64(hi, lo, MCUHz)
	return q
}

// FromUnixNs converts UNIX-epoch nanoseconds to a count of internal
// ticks: unixNs * MCUHz / 1e9.
func FromUnixNs(unixNs uint64) uint64 {
	hi, lo := bits.Mul64(unixNs, MCUHz)
	q, _ := bits.Div64(hi, lo, nanosPerSecond)
	return q
}
