// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package channel implements the channel configuration state machine
// (spec §3, §4.E): per-channel mode/electrical-protocol state, its
// binding to either a timer-capture resource or a GPIO-expander pin,
// and the shift-register lane encoding that drives the front-end
// electronics.
//
// Grounded on original_source's ChannelController.c/.h (Channel,
// ChannelType, applyChannelConfiguration, setShiftRegisterValues), with
// mode/protocol names taken from spec §3 rather than the legacy C's
// shorter ChannelMode/GPIOSignalType enumerators.
package channel

import "fmt"

// Kind distinguishes a channel bound to a hardware timer-capture
// resource from one bound to a GPIO-expander pin.
type Kind uint8

const (
	Timer Kind = iota
	Gpio
)

func (k Kind) String() string {
	if k == Gpio {
		return "Gpio"
	}
	return "Timer"
}

// Mode is a channel's configuration state (spec §3).
type Mode uint8

const (
	Disabled Mode = iota
	Input
	Output
	Frequency
	MonitorRising
	MonitorFalling
	MonitorBoth
)

func (m Mode) String() string {
	switch m {
	case Input:
		return "Input"
	case Output:
		return "Output"
	case Frequency:
		return "Frequency"
	case MonitorRising:
		return "MonitorRising"
	case MonitorFalling:
		return "MonitorFalling"
	case MonitorBoth:
		return "MonitorBoth"
	default:
		return "Disabled"
	}
}

// IsMonitor reports whether m is one of the three Monitor variants.
func (m Mode) IsMonitor() bool {
	return m == MonitorRising || m == MonitorFalling || m == MonitorBoth
}

// Protocol is a channel's electrical/signalling protocol (spec §3).
type Protocol uint8

const (
	Off Protocol = iota
	V5
	V3_3
	V1_8
	LVDS
)

func (p Protocol) String() string {
	switch p {
	case V5:
		return "V5"
	case V3_3:
		return "V3_3"
	case V1_8:
		return "V1_8"
	case LVDS:
		return "LVDS"
	default:
		return "Off"
	}
}

// ParseMode decodes the two-character ASCII mode code from spec §4.G.
func ParseMode(code string) (Mode, error) {
	switch code {
	case "IN":
		return Input, nil
	case "OU":
		return Output, nil
	case "FR":
		return Frequency, nil
	case "MR":
		return MonitorRising, nil
	case "MF":
		return MonitorFalling, nil
	case "MB":
		return MonitorBoth, nil
	case "DS":
		return Disabled, nil
	default:
		return 0, fmt.Errorf("channel: unknown mode code %q", code)
	}
}

// Code encodes m back to its two-character ASCII code.
func (m Mode) Code() string {
	switch m {
	case Input:
		return "IN"
	case Output:
		return "OU"
	case Frequency:
		return "FR"
	case MonitorRising:
		return "MR"
	case MonitorFalling:
		return "MF"
	case MonitorBoth:
		return "MB"
	default:
		return "DS"
	}
}

// ParseProtocol decodes the one-character ASCII protocol code from spec
// §4.G.
func ParseProtocol(code byte) (Protocol, error) {
	switch code {
	case '5':
		return V5, nil
	case '3':
		return V3_3, nil
	case '1':
		return V1_8, nil
	case 'L':
		return LVDS, nil
	case 'O':
		return Off, nil
	default:
		return 0, fmt.Errorf("channel: unknown protocol code %q", code)
	}
}

// Code encodes p back to its one-character ASCII code.
func (p Protocol) Code() byte {
	switch p {
	case V5:
		return '5'
	case V3_3:
		return '3'
	case V1_8:
		return '1'
	case LVDS:
		return 'L'
	default:
		return 'O'
	}
}

// FreqCache is the last FrequencyEstimator result for a channel (spec
// §3).
type FreqCache struct {
	HasValue        bool
	LastFrequencyHz float64
	LastDutyPct     float64
	CalculatedAtMs  uint32
}
