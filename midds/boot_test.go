// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package midds

import (
	"testing"

	"github.com/dabecart/MIDDS/channel"
	"github.com/dabecart/MIDDS/hal/halmock"
)

func testConfig() Config {
	var cfg Config
	cfg.Timer = halmock.NewTimer()
	cfg.Gpio = halmock.NewGpio()
	cfg.Expander = halmock.NewExpander()
	cfg.ShiftReg = halmock.NewShiftRegister()
	cfg.Transport = halmock.NewTransport()
	cfg.Tick = halmock.NewClock()
	cfg.Reboot = halmock.NewRebooter()
	for i := range cfg.TimerBindings {
		cfg.TimerBindings[i] = TimerPin{Port: 0, Pin: i}
	}
	for i := range cfg.GpioBindings {
		cfg.GpioBindings[i] = i
	}
	return cfg
}

func TestNewWiresEveryChannel(t *testing.T) {
	root, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for id := 0; id < channel.Count; id++ {
		if _, ok := root.Channels.Get(id); !ok {
			t.Errorf("channel %d missing from table", id)
		}
	}
}

func TestPollDoesNotPanicWithNoTraffic(t *testing.T) {
	root, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 10; i++ {
		root.Poll()
	}
}

func TestCaptureFlowsIntoChannelRing(t *testing.T) {
	cfg := testConfig()
	timer := cfg.Timer.(*halmock.Timer)

	root, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := root.Channels.ApplyConfig(0, channel.Input, channel.V3_3); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}

	timer.SetCounter(100)
	timer.Capture(0, 100)

	ch, _ := root.Channels.Get(0)
	if ch.Ring.Len() == 0 {
		t.Errorf("capture on channel 0 did not reach its ring")
	}
}
