package channel

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/gpio"

	"github.com/dabecart/MIDDS/hal"
	"github.com/dabecart/MIDDS/hal/halmock"
	"github.com/dabecart/MIDDS/midderr"
	"github.com/dabecart/MIDDS/ring"
)

func newTestTable(t *testing.T) (*Table, *halmock.Timer, *halmock.Expander, *halmock.ShiftRegister) {
	t.Helper()
	timer := halmock.NewTimer()
	expander := halmock.NewExpander()
	shiftReg := halmock.NewShiftRegister()
	directGpio := halmock.NewGpio()

	timerBindings := make([]TimerBinding, TimerChannelCount)
	for i := range timerBindings {
		timerBindings[i] = TimerBinding{Port: 0, Pin: i, Ring: ring.NewTimestampRing(8)}
	}
	gpioBindings := make([]GpioBinding, GpioChannelCount)
	for i := range gpioBindings {
		gpioBindings[i] = GpioBinding{PinNumber: i}
	}

	tbl, err := New(timer, directGpio, expander, shiftReg, timerBindings, gpioBindings)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tbl, timer, expander, shiftReg
}

func TestApplyConfigRejectsLVDSOnGpio(t *testing.T) {
	tbl, _, _, _ := newTestTable(t)
	err := tbl.ApplyConfig(TimerChannelCount, Input, LVDS)
	if !errors.Is(err, midderr.ConfigInvalid) {
		t.Fatalf("expected ConfigInvalid, got %v", err)
	}
}

func TestApplyConfigRejectsOutOfRange(t *testing.T) {
	tbl, _, _, _ := newTestTable(t)
	if err := tbl.ApplyConfig(Count, Input, V5); !errors.Is(err, midderr.ConfigInvalid) {
		t.Fatalf("expected ConfigInvalid, got %v", err)
	}
}

func TestApplyConfigDisabledForcesProtocolOff(t *testing.T) {
	tbl, _, _, _ := newTestTable(t)
	if err := tbl.ApplyConfig(0, Disabled, V5); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	ch, _ := tbl.Get(0)
	if ch.Protocol != Off {
		t.Fatalf("Disabled must force protocol Off, got %v", ch.Protocol)
	}
}

func TestApplyConfigResetsTimerRing(t *testing.T) {
	tbl, _, _, _ := newTestTable(t)
	ch, _ := tbl.Get(0)
	ch.Ring.Push(123)
	if ch.Ring.Empty() {
		t.Fatalf("setup: ring should hold an entry")
	}
	if err := tbl.ApplyConfig(0, Input, V5); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if !ch.Ring.Empty() {
		t.Fatalf("ApplyConfig must empty the ring on reconfiguration")
	}
}

func TestApplyConfigSetsExpanderDirection(t *testing.T) {
	tbl, _, expander, _ := newTestTable(t)
	if err := tbl.ApplyConfig(TimerChannelCount+1, Output, V3_3); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if got := expander.Direction(hal.Expander3V3, 1); got != hal.DirOut {
		t.Fatalf("expander direction = %v, want DirOut", got)
	}
	if err := expander.SetState(hal.Expander3V3, 1, true); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	got, err := expander.GetState(hal.Expander3V3, 1)
	if err != nil || !got {
		t.Fatalf("expected expander state true, got %v err %v", got, err)
	}
}

func TestPushShiftRegistersEncodesLaneForEachChannel(t *testing.T) {
	tbl, _, _, shiftReg := newTestTable(t)
	if err := tbl.ApplyConfig(0, Input, V5); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if err := tbl.ApplyConfig(1, Output, LVDS); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if err := tbl.PushShiftRegisters(); err != nil {
		t.Fatalf("PushShiftRegisters: %v", err)
	}
	if len(shiftReg.Last) != TimerChannelCount {
		t.Fatalf("expected %d-byte frame, got %d", TimerChannelCount, len(shiftReg.Last))
	}
	if shiftReg.Pulses != 1 {
		t.Fatalf("expected exactly one enable pulse, got %d", shiftReg.Pulses)
	}
	// Channel 0: TTL, Input -> RE set, DE clear.
	if shiftReg.Last[0]&(1<<3) == 0 {
		t.Fatalf("channel 0 lane should have RE set: %08b", shiftReg.Last[0])
	}
	if shiftReg.Last[0]&(1<<2) != 0 {
		t.Fatalf("channel 0 lane should have DE clear: %08b", shiftReg.Last[0])
	}
	// Channel 1: LVDS, Output -> RE set (LVDS+Output), DE set.
	if shiftReg.Last[1]&(1<<3) == 0 {
		t.Fatalf("channel 1 lane should have RE set: %08b", shiftReg.Last[1])
	}
	if shiftReg.Last[1]&(1<<2) == 0 {
		t.Fatalf("channel 1 lane should have DE set: %08b", shiftReg.Last[1])
	}
}

func TestCapturePolarityMapping(t *testing.T) {
	tbl, timer, _, _ := newTestTable(t)
	cases := []struct {
		mode Mode
		want gpio.Edge
	}{
		{MonitorRising, gpio.RisingEdge},
		{MonitorFalling, gpio.FallingEdge},
		{MonitorBoth, gpio.BothEdges},
		{Input, gpio.BothEdges},
		{Frequency, gpio.BothEdges},
		{Disabled, gpio.NoEdge},
	}
	for i, c := range cases {
		if err := tbl.ApplyConfig(3, c.mode, V5); err != nil {
			t.Fatalf("case %d: ApplyConfig: %v", i, err)
		}
		if got := timer.Polarity(3); got != c.want {
			t.Fatalf("case %d (%v): polarity = %v, want %v", i, c.mode, got, c.want)
		}
		wantEnabled := c.mode != Disabled
		if got := timer.CapIRQEnabled(3); got != wantEnabled {
			t.Fatalf("case %d (%v): capIRQ enabled = %v, want %v", i, c.mode, got, wantEnabled)
		}
	}
}
