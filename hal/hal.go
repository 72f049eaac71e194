// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hal defines the narrow capability interfaces MIDDS's core uses
// to reach real hardware (spec §6, §9). Each interface is deliberately
// small — the opposite of the legacy C firmware's HAL function-pointer
// tables — so that the core never touches a raw peripheral register and
// every adapter can be swapped for a test fake (see package halmock).
package hal

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/pin"
)

// HwTimer is the adapter onto the MCU's 16-bit hardware capture timer.
// acknowledgeCapture is named AcknowledgeCapture here per spec §9's
// re-architecture note: it returns whether a capture was pending for ch
// and clears the flag atomically, so the core never touches raw flag
// registers.
type HwTimer interface {
	Start()
	ReadCaptureRegister(ch int) uint16
	ReadCounter() uint16
	AcknowledgeCapture(ch int) bool
	SetCapturePolarity(ch int, edge gpio.Edge)
	EnableCaptureIRQ(ch int, enabled bool)
	EnableUpdateIRQ(enabled bool)
	// OnCapture/OnUpdate register the callbacks the timer invokes from
	// its capture and overflow interrupt contexts, respectively.
	OnCapture(fn func(ch int))
	OnUpdate(fn func())
}

// PinMode is the configuration applied to a direct MCU GPIO pin via
// Gpio.ConfigurePin, mirroring the legacy HAL's GPIO_InitTypeDef modes
// but reduced to what MIDDS's ChannelTable needs.
type PinMode uint8

const (
	InputFloating PinMode = iota
	Output
	AltFn
	Analog
)

// Gpio is the adapter onto a directly-wired MCU GPIO pin (as opposed to
// one behind a GpioExpander). altFn carries the alternate-function
// identity for PinMode==AltFn as a periph.io pin.Func, the same type
// gpioioctl.GPIOLine and sysfs.Pin expose for their PinFunc() method,
// rather than a bare integer.
type Gpio interface {
	ReadPin(port, pinNum int) bool
	WritePin(port, pinNum int, level bool)
	ConfigurePin(port, pinNum int, mode PinMode, altFn pin.Func)
}

// ExpanderID selects which of the three voltage-domain GPIO expanders
// (spec §3: "selected by protocol") a GpioChannel's pin lives on.
type ExpanderID uint8

const (
	Expander5V ExpanderID = iota
	Expander3V3
	Expander1V8
)

// Direction is a GpioExpander pin's data direction.
type Direction uint8

const (
	DirIn Direction = iota
	DirOut
)

// GpioExpander is the adapter onto an I²C GPIO-expander chip (spec §6).
type GpioExpander interface {
	SetDirection(id ExpanderID, pinNum int, dir Direction) error
	SetState(id ExpanderID, pinNum int, level bool) error
	GetState(id ExpanderID, pinNum int) (bool, error)
}

// ShiftRegister is the adapter onto the SPI-driven shift-register chain
// that sets each timer channel's electrical front-end (voltage selects,
// status LEDs, RS-485 RE/DE, output direction — see SPEC_FULL.md §C).
type ShiftRegister interface {
	Transmit(bytes []byte) error
	PulseEnable()
}

// TransmitResult is the outcome of a ByteTransport.TryTransmit call.
type TransmitResult uint8

const (
	Accepted TransmitResult = iota
	Busy
)

// ByteTransport is the adapter onto the host link (USB CDC in the
// reference hardware). onReceive is modelled as a callback the
// transport invokes with newly received bytes; the core pushes them
// onto the input ByteRing.
type ByteTransport interface {
	TryTransmit(b []byte) TransmitResult
	OnReceive(fn func(b []byte))
}

// Tick is the adapter onto the platform millisecond tick source used
// for Monitor emission pacing (spec §4.H) and the age of a channel's
// cached frequency result. The SYNC idle timeout does not use it: the
// SYNC engine measures idle time with time.Now.
type Tick interface {
	NowMs() uint32
}

// Rebooter is the adapter onto a full device reset (spec §4.H
// "Disconnect → full reboot", grounded on original_source's
// establishConnection calling NVIC_SystemReset() when the host
// disconnects). Optional: a host program with no real reset line wired
// can leave this nil and rely on CommsLoop's channel/shift-register
// reset alone.
type Rebooter interface {
	Reboot()
}
