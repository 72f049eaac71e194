// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package midderr defines MIDDS's error taxonomy (spec §7) as sentinel
// values compared with errors.Is, mirroring the teacher's house style of
// a handful of package-level errors.New values wrapped with
// fmt.Errorf("pkg: msg: %w", err) at the call site (gpioioctl/gpio.go,
// ftdi/i2c.go) rather than a custom error-code framework.
package midderr

import "errors"

var (
	// RingFull: a capture or frame was dropped because its destination
	// ring was full (or locked). Never surfaced past the ISR/producer
	// boundary — see spec §7's propagation policy.
	RingFull = errors.New("midderr: ring full")

	// FrameIncomplete: insufficient bytes buffered to decode a frame yet.
	// Transient; the caller should retry once more data arrives.
	FrameIncomplete = errors.New("midderr: frame incomplete")

	// FrameMalformed: bad sync byte or unrecognised tag. The scanner
	// consumes a single byte and continues.
	FrameMalformed = errors.New("midderr: frame malformed")

	// FieldDomain: a field decoded but failed a domain check (unknown
	// mode code, out-of-range frequency/duty/value). Unlike FrameMalformed,
	// the scanner resynchronises by consuming the frame's whole length.
	FieldDomain = errors.New("midderr: field out of domain")

	// ConfigInvalid: a requested channel configuration violates an
	// invariant (LVDS on a Gpio channel, channel number out of range).
	ConfigInvalid = errors.New("midderr: invalid configuration")

	// HardwareFailure: an external adapter (e.g. the GPIO expander's I²C
	// bus) returned an error. Treated as an internal error: reported and
	// skipped, never corrupts in-process state.
	HardwareFailure = errors.New("midderr: hardware failure")

	// TransportBusy: ByteTransport.TryTransmit returned Busy; the caller
	// must retain its buffered bytes and retry next loop iteration.
	TransportBusy = errors.New("midderr: transport busy")
)
