// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package midds wires every core component (ring, vtimer, syncengine,
// capture, channel, comms) and the §6 hal adapters into one owned root
// struct, replacing the legacy firmware's process-wide mutable globals
// (spec §9 "Global mutable state ... replaced by a single owned root
// struct constructed at boot, with all subsystems borrowing from it").
//
// Grounded on periph-host's host.go aggregator idiom: host.Init() wires
// a fixed, pre-known set of drivers in one call. midds.New does the
// same for MIDDS's fixed, pre-known set of six hal adapters, except the
// set is supplied by the caller rather than discovered, since MIDDS
// targets one bare-metal MCU board, not an open-ended family of Linux
// hosts.
package midds

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/dabecart/MIDDS/capture"
	"github.com/dabecart/MIDDS/channel"
	"github.com/dabecart/MIDDS/comms"
	"github.com/dabecart/MIDDS/hal"
	"github.com/dabecart/MIDDS/ring"
	"github.com/dabecart/MIDDS/syncengine"
	"github.com/dabecart/MIDDS/vtimer"
)

// TimestampRingCapacity is the per-timer-channel ring capacity (spec §3:
// "capacity >= 200 entries").
const TimestampRingCapacity = 256

// ByteRingCapacity is the input/output ByteRing capacity (spec §3: "≈
// the max frame length × small multiple"; the widest fixed-length frame,
// SY, is 29 bytes with its header).
const ByteRingCapacity = 512

// Config collects everything midds.New needs: the hal adapters (spec §6)
// and the per-channel hardware bindings (spec §3) a concrete board
// wires up. There is no file or environment configuration (SPEC_FULL.md
// §A) — a host program builds this struct directly, the same way
// periph-host's consumers wire concrete drivers by hand.
type Config struct {
	Timer      hal.HwTimer
	Gpio       hal.Gpio
	Expander   hal.GpioExpander
	ShiftReg   hal.ShiftRegister
	Transport  hal.ByteTransport
	Tick       hal.Tick
	Reboot     hal.Rebooter // optional

	TimerBindings [channel.TimerChannelCount]TimerPin
	GpioBindings  [channel.GpioChannelCount]int // expander pin numbers

	Comms comms.Config

	// IdleTimeout bounds how long the SYNC engine waits between SYNC
	// edges before forcing itself back to Uninit (spec §9 Open
	// Question: "sync idle timeout"). Zero disables it, matching
	// syncengine.SyncEngine's own default.
	IdleTimeout time.Duration
}

// TimerPin is one timer channel's direct-GPIO binding (port/pin) plus
// whether it is wired as the SYNC reference input.
type TimerPin struct {
	Port, Pin int
	IsSync    bool
}

// Root owns every subsystem MIDDS's core is built from. It is created
// once at boot and never reassigned (spec §9); ISR callbacks registered
// during New close over it instead of reaching through package-level
// globals.
type Root struct {
	Clock    *vtimer.Clock
	Sync     *syncengine.SyncEngine
	Capture  *capture.Engine
	Channels *channel.Table
	Loop     *comms.Loop

	timer     hal.HwTimer
	input     *ring.ByteRing
	output    *ring.ByteRing
}

// New builds a Root from cfg: constructs the channel table, the 64-bit
// clock, the SYNC engine, the capture pipeline, and the comms loop, in
// that dependency order, then enables the hardware timer's update
// interrupt (capture interrupts are enabled per channel by
// channel.Table.ApplyConfig as modes are configured).
func New(cfg Config) (*Root, error) {
	timerBindings := make([]channel.TimerBinding, channel.TimerChannelCount)
	rings := make([]*ring.TimestampRing, channel.TimerChannelCount)
	for i, tb := range cfg.TimerBindings {
		rings[i] = ring.NewTimestampRing(TimestampRingCapacity)
		timerBindings[i] = channel.TimerBinding{
			Port: tb.Port, Pin: tb.Pin, Ring: rings[i], IsSync: tb.IsSync,
		}
	}
	gpioBindings := make([]channel.GpioBinding, channel.GpioChannelCount)
	for i, pinNum := range cfg.GpioBindings {
		gpioBindings[i] = channel.GpioBinding{PinNumber: pinNum}
	}

	table, err := channel.New(cfg.Timer, cfg.Gpio, cfg.Expander, cfg.ShiftReg, timerBindings, gpioBindings)
	if err != nil {
		return nil, fmt.Errorf("midds: building channel table: %w", err)
	}

	clock := vtimer.New(cfg.Timer)
	sync := syncengine.New(clock)
	sync.SetIdleTimeout(cfg.IdleTimeout)

	captureChannels := make([]*capture.Channel, channel.TimerChannelCount)
	for i := range captureChannels {
		id := i
		ch, _ := table.Get(id)
		captureChannels[i] = &capture.Channel{
			Ring:   ch.Ring,
			IsSync: ch.IsSync,
			Level:  func() gpio.Level { return ch.Level(cfg.Gpio, cfg.Expander) },
		}
	}
	engine := capture.New(cfg.Timer, clock, sync, captureChannels)

	input := ring.NewByteRing(ByteRingCapacity)
	output := ring.NewByteRing(ByteRingCapacity)

	commsCfg := cfg.Comms
	if commsCfg == (comms.Config{}) {
		commsCfg = comms.DefaultConfig()
	}
	loop := comms.New(commsCfg, input, output, cfg.Transport, table, sync, clock, cfg.Tick, cfg.Reboot)

	cfg.Timer.Start()
	cfg.Timer.EnableUpdateIRQ(true)

	return &Root{
		Clock: clock, Sync: sync, Capture: engine, Channels: table, Loop: loop,
		timer: cfg.Timer, input: input, output: output,
	}, nil
}

// Poll runs one cooperative foreground iteration of the comms loop
// (spec §5: "the loop is polled from the main scheduler"). A host
// program calls this repeatedly, e.g. from a ticker or a tight loop with
// a short sleep, since MIDDS has no internal scheduler of its own.
func (r *Root) Poll() {
	r.Loop.Poll()
}
