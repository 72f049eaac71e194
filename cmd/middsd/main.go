// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command middsd runs MIDDS against real hardware reached through
// Linux's gpio-cdev/sysfs/I²C/SPI/D2XX interfaces (SPEC_FULL.md §E).
//
// Grounded on periph-host's host.Init()-then-use-package-level-registry
// idiom and the FTDI d2xx examples' Open-by-index convention: flags
// select which already-discovered device backs each hal adapter, rather
// than the daemon probing for hardware itself.
package main

import (
	"flag"
	"log"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/dabecart/MIDDS/channel"
	"github.com/dabecart/MIDDS/comms"
	"github.com/dabecart/MIDDS/hal"
	"github.com/dabecart/MIDDS/hal/expander"
	"github.com/dabecart/MIDDS/hal/linuxgpio"
	"github.com/dabecart/MIDDS/hal/shiftreg"
	"github.com/dabecart/MIDDS/hal/sysfstimer"
	"github.com/dabecart/MIDDS/hal/usbcdc"
	"github.com/dabecart/MIDDS/midds"
)

// shiftRegisterEnablePin is the direct-GPIO pin wired to the shift
// register chain's latch/enable line on the reference board.
const shiftRegisterEnablePin = 15

func main() {
	gpioChip := flag.String("gpio-chip", "gpiochip0", "gpio-cdev chip backing direct-GPIO channels")
	i2cBus5V := flag.String("i2c-5v", "", "I2C bus name for the 5V GPIO expander")
	i2cBus3V3 := flag.String("i2c-3v3", "", "I2C bus name for the 3.3V GPIO expander")
	i2cBus1V8 := flag.String("i2c-1v8", "", "I2C bus name for the 1.8V GPIO expander")
	expanderAddr := flag.Uint("expander-addr", 0x20, "I2C address shared by all three GPIO expanders")
	spiPortName := flag.String("spi-port", "", "SPI port driving the channel front-end shift register chain")
	usbIndex := flag.Int("usb-index", 0, "D2XX device index for the host USB CDC link")
	tickHz := flag.Uint64("sim-tick-hz", 1_000_000, "synthetic capture-timer tick rate for sysfstimer")
	syncIdleTimeout := flag.Duration("sync-idle-timeout", 0, "force the SYNC engine back to Uninit if no SYNC edge arrives within this long (0 disables it)")
	flag.Parse()

	if _, err := host.Init(); err != nil {
		log.Fatalf("middsd: host.Init: %v", err)
	}

	gpioAdapter, err := linuxgpio.New(*gpioChip)
	if err != nil {
		log.Fatalf("middsd: linuxgpio: %v", err)
	}
	defer gpioAdapter.Close()

	var timerPins [channel.TimerChannelCount]int
	for i := range timerPins {
		timerPins[i] = i
	}
	timer, err := sysfstimer.New(*tickHz, timerPins)
	if err != nil {
		log.Fatalf("middsd: sysfstimer: %v", err)
	}

	expBuses := make(map[hal.ExpanderID]i2c.Bus)
	for id, name := range map[hal.ExpanderID]string{
		hal.Expander5V:  *i2cBus5V,
		hal.Expander3V3: *i2cBus3V3,
		hal.Expander1V8: *i2cBus1V8,
	} {
		if name == "" {
			continue
		}
		bus, err := i2creg.Open(name)
		if err != nil {
			log.Fatalf("middsd: opening i2c bus %q: %v", name, err)
		}
		expBuses[id] = bus
	}
	expAdapter, err := expander.New(expBuses, uint16(*expanderAddr))
	if err != nil {
		log.Fatalf("middsd: expander: %v", err)
	}

	spiPort, err := spireg.Open(*spiPortName)
	if err != nil {
		log.Fatalf("middsd: opening spi port %q: %v", *spiPortName, err)
	}
	shiftAdapter, err := shiftreg.New(spiPort, 1*physic.MegaHertz, spi.Mode0, func() {
		gpioAdapter.WritePin(0, shiftRegisterEnablePin, true)
		gpioAdapter.WritePin(0, shiftRegisterEnablePin, false)
	})
	if err != nil {
		log.Fatalf("middsd: shiftreg: %v", err)
	}

	transport, err := usbcdc.Open(*usbIndex)
	if err != nil {
		log.Fatalf("middsd: usbcdc: %v", err)
	}

	cfg := midds.Config{
		Timer:       timer,
		Gpio:        gpioAdapter,
		Expander:    expAdapter,
		ShiftReg:    shiftAdapter,
		Transport:   transport,
		Tick:        wallClockTick{start: time.Now()},
		Comms:       comms.DefaultConfig(),
		IdleTimeout: *syncIdleTimeout,
	}
	for i := range cfg.TimerBindings {
		cfg.TimerBindings[i] = midds.TimerPin{Port: 0, Pin: i}
	}
	for i := range cfg.GpioBindings {
		cfg.GpioBindings[i] = i
	}

	root, err := midds.New(cfg)
	if err != nil {
		log.Fatalf("middsd: booting: %v", err)
	}

	log.Printf("middsd: running (gpio-chip=%s usb-index=%d)", *gpioChip, *usbIndex)
	for {
		root.Poll()
		time.Sleep(time.Millisecond)
	}
}

// wallClockTick implements hal.Tick over the host's monotonic clock,
// used when no real millisecond tick peripheral is available.
type wallClockTick struct {
	start time.Time
}

func (w wallClockTick) NowMs() uint32 {
	return uint32(time.Since(w.start).Milliseconds())
}
