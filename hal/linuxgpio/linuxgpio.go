// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package linuxgpio is a reference hal.Gpio backend for running MIDDS
// against real Linux GPIO-chardev lines instead of bare-metal MCU pins.
//
// Adapted from periph.io/x/host/v3/gpioioctl's GPIOChip/GPIOLine (the
// gpio-cdev ioctl plumbing, "never closed" fd handling) into the narrow
// ReadPin/WritePin/ConfigurePin surface spec §6's Gpio adapter needs, in
// place of gpioioctl's general-purpose gpio.PinIO-everything GPIOLine.
// Lines are addressed as (port, pinNum) where port selects one of the
// chips New was given and pinNum is that chip's line offset, matching
// hal.Gpio's calling convention.
package linuxgpio

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/host/v3/gpioioctl"

	"github.com/dabecart/MIDDS/hal"
)

// Gpio implements hal.Gpio over a fixed, ordered set of the chips
// gpioioctl's driverGPIO discovered at driverreg/host.Init() time.
type Gpio struct {
	mu    sync.Mutex
	chips []*gpioioctl.GPIOChip
}

// New selects chips by name (as gpioioctl.GPIOChip.Name() reports them,
// e.g. "gpiochip0") out of gpioioctl.Chips — the package-level slice
// driverGPIO.Init() populates the first time host.Init() (or a bare
// driverreg.Init()) runs, the same discovery gpioioctl itself relies on.
// chipNames[i] becomes port i for ReadPin/WritePin/ConfigurePin.
func New(chipNames ...string) (*Gpio, error) {
	g := &Gpio{}
	for _, name := range chipNames {
		chip := findChip(name)
		if chip == nil {
			return nil, fmt.Errorf("linuxgpio: chip %q not found (did host.Init() run?)", name)
		}
		g.chips = append(g.chips, chip)
	}
	return g, nil
}

func findChip(name string) *gpioioctl.GPIOChip {
	for _, c := range gpioioctl.Chips {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func (g *Gpio) line(port, pinNum int) *gpioioctl.GPIOLine {
	g.mu.Lock()
	defer g.mu.Unlock()
	if port < 0 || port >= len(g.chips) {
		return nil
	}
	return g.chips[port].ByNumber(pinNum)
}

// ReadPin implements hal.Gpio. An unaddressable (port, pinNum) reads as
// low rather than panicking — the core never needs to distinguish "no
// such pin" from "pin reads low" for a misconfigured binding.
func (g *Gpio) ReadPin(port, pinNum int) bool {
	l := g.line(port, pinNum)
	if l == nil {
		return false
	}
	return bool(l.Read())
}

// WritePin implements hal.Gpio.
func (g *Gpio) WritePin(port, pinNum int, level bool) {
	if l := g.line(port, pinNum); l != nil {
		_ = l.Out(gpio.Level(level))
	}
}

// ConfigurePin implements hal.Gpio, translating spec §6's PinMode onto
// gpioioctl.GPIOLine's gpio.PinIO-style In/Out/SetFunc calls.
func (g *Gpio) ConfigurePin(port, pinNum int, mode hal.PinMode, altFn pin.Func) {
	l := g.line(port, pinNum)
	if l == nil {
		return
	}
	switch mode {
	case hal.Output:
		_ = l.Out(gpio.Low)
	case hal.AltFn:
		_ = l.SetFunc(altFn)
	case hal.Analog:
		// gpio-cdev has no analog/ADC mode; leave the line in whatever
		// state it was, the same way gpioioctl.GPIOLine.SetFunc rejects
		// functions it cannot represent.
	default: // hal.InputFloating
		_ = l.In(gpio.Float, gpio.NoEdge)
	}
}

// Close releases every line this adapter addressed, mirroring
// gpioioctl.GPIOLine.Close's "never closed otherwise" file-descriptor
// discipline.
func (g *Gpio) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, chip := range g.chips {
		for _, l := range chip.Lines() {
			l.Close()
		}
	}
}

var _ hal.Gpio = (*Gpio)(nil)
