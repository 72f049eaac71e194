// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package comms implements CommsLoop (spec §4.H): the foreground,
// cooperative scanner/dispatcher over the byte-framed wire protocol. It
// drains the inbound ByteRing for complete frames, executes the
// corresponding command against ChannelTable/SyncEngine/FrequencyEstimator,
// and paces asynchronous Monitor emission for channels in a Monitor mode.
//
// Grounded on original_source's Comms.c dispatch loop (decodeMsg's retry-
// on-incomplete / pop-one-byte-on-error shape) and the teacher's
// ftdi.driver.Init two-phase wiring style (construct, then register
// callbacks) for how New binds to a hal.ByteTransport.
package comms

import (
	"errors"
	"log"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/dabecart/MIDDS/channel"
	"github.com/dabecart/MIDDS/freqest"
	"github.com/dabecart/MIDDS/hal"
	"github.com/dabecart/MIDDS/internal/iodebug"
	"github.com/dabecart/MIDDS/midderr"
	"github.com/dabecart/MIDDS/middstime"
	"github.com/dabecart/MIDDS/protocol"
	"github.com/dabecart/MIDDS/ring"
	"github.com/dabecart/MIDDS/syncengine"
	"github.com/dabecart/MIDDS/vtimer"
)

// Default tunables (spec §4.H names these as compile-time constants;
// SPEC_FULL.md §A exposes them as Config fields a caller supplies to
// midds.New instead, the teacher having no config story of its own).
const (
	// DefaultMaxMsgInputLen bounds the scratch snapshot CommsLoop peeks
	// from inputRing while scanning for a frame (spec §4.H
	// "COMMS_MAX_MSG_INPUT_LEN"): large enough for the widest inbound
	// request frame (SY, 29 bytes) with headroom.
	DefaultMaxMsgInputLen = 64
	// DefaultMaxTimestampsInMonitor caps how many ring entries a single
	// Monitor frame carries (spec §4.H "COMMS_MAX_TIMESTAMPS_IN_MONITOR").
	DefaultMaxTimestampsInMonitor = 32
	// DefaultChannelPrintIntervalMs is the maximum time a Monitor-mode
	// channel's ring may sit undrained before a (possibly short) Monitor
	// frame is emitted anyway (spec §4.H "CHANNEL_PRINT_INTERVAL_MS").
	DefaultChannelPrintIntervalMs = 1000
)

// Config holds CommsLoop's tunables, all supplied by the caller
// constructing the root (SPEC_FULL.md §A "Configuration").
type Config struct {
	MaxMsgInputLen         int
	MaxTimestampsInMonitor int
	ChannelPrintIntervalMs uint32
	// Logger receives the situations original_source's Comms.c would log
	// to the debug UART: ring overflow and hardware-adapter failure.
	// Decode resync is traced through internal/iodebug instead, and only
	// in -tags middsdebug builds. Defaults to log.Default().
	Logger *log.Logger
}

// DefaultConfig returns Config populated with this package's defaults.
func DefaultConfig() Config {
	return Config{
		MaxMsgInputLen:         DefaultMaxMsgInputLen,
		MaxTimestampsInMonitor: DefaultMaxTimestampsInMonitor,
		ChannelPrintIntervalMs: DefaultChannelPrintIntervalMs,
	}
}

// Loop is spec §4.H's CommsLoop.
type Loop struct {
	cfg       Config
	transport hal.ByteTransport
	channels  *channel.Table
	sync      *syncengine.SyncEngine
	clock     *vtimer.Clock
	tick      hal.Tick
	reboot    hal.Rebooter
	log       *log.Logger

	// ioMu guards input/output against the transport's receive callback,
	// which may run on a goroutine distinct from the one calling Poll
	// (spec §5 models inputRing as ISR-producer/foreground-consumer;
	// ioMu is this Go translation's stand-in for disabling interrupts
	// across the same section, the same reasoning vtimer.Clock's mu
	// documents for coarse/newCoarse).
	ioMu   sync.Mutex
	input  *ring.ByteRing
	output *ring.ByteRing

	connected bool
}

// New constructs a Loop and registers it as transport's receive callback
// (mirroring ftdi.driver's construct-then-registerDev wiring). input and
// output must be sized per spec §3 ("≈ the max frame length × small
// multiple").
func New(cfg Config, input, output *ring.ByteRing, transport hal.ByteTransport, channels *channel.Table, sync *syncengine.SyncEngine, clock *vtimer.Clock, tick hal.Tick, reboot hal.Rebooter) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	l := &Loop{
		cfg: cfg, input: input, output: output, transport: transport,
		channels: channels, sync: sync, clock: clock, tick: tick, reboot: reboot,
		log: cfg.Logger,
	}
	transport.OnReceive(l.onReceive)
	return l
}

// onReceive is the transport's receive callback (the USB-CDC-ISR path
// in spec §5 terms): it pushes newly arrived bytes onto inputRing,
// dropping the whole burst silently if it would overflow the ring
// (spec §7 RingFull, never partial writes).
func (l *Loop) onReceive(b []byte) {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	if err := l.input.PushN(b); err != nil {
		l.log.Printf("comms: input ring full, dropping %d bytes: %v", len(b), err)
	}
}

// Poll runs one cooperative foreground iteration: it drains every
// complete frame currently buffered in inputRing, paces Monitor
// emission for channels that need it, and attempts a single transmit of
// whatever is queued in outputRing (spec §5 "Transport send is
// attempted once per loop iteration; on transport-busy, the buffered
// bytes are retained and retried next iteration").
func (l *Loop) Poll() {
	l.scanInput()
	l.emitMonitors()
	l.flushOutput()
}

// scanInput implements spec §4.H's inbound scan.
func (l *Loop) scanInput() {
	scratch := make([]byte, l.cfg.MaxMsgInputLen)
	for {
		l.ioMu.Lock()
		if l.input.Empty() {
			l.ioMu.Unlock()
			return
		}
		b, _ := l.input.Peek()
		if b != protocol.SyncByte {
			l.input.Pop()
			l.ioMu.Unlock()
			continue
		}
		n := l.input.Len()
		if n > len(scratch) {
			n = len(scratch)
		}
		_ = l.input.PeekN(n, scratch[:n])
		l.ioMu.Unlock()

		frame, consumed, err := protocol.Decode(scratch[:n])
		if err != nil {
			switch {
			case errors.Is(err, midderr.FrameIncomplete):
				// Not enough data buffered yet; retry next Poll without
				// discarding anything.
				return
			case errors.Is(err, midderr.FieldDomain):
				// The frame decoded but failed a domain check: consume
				// exactly its length (spec §7/§8) and report the failure.
				l.discardInput(consumed)
				l.emitError(resultForDecodeErr(err))
			default:
				// FrameMalformed (bad sync byte, unrecognised tag) or any
				// other decode failure: pop a single byte and resync.
				l.discardInput(1)
				iodebug.Tracef("comms: frame resync: %v", err)
			}
			continue
		}

		l.discardInput(consumed)
		l.execute(frame)
	}
}

func (l *Loop) discardInput(n int) {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	_ = l.input.PopN(n, nil)
}

// execute dispatches one decoded command frame (spec §4.H "Command
// executors").
func (l *Loop) execute(frame any) {
	switch f := frame.(type) {
	case protocol.Input:
		l.handleInput(f)
	case protocol.Output:
		l.handleOutput(f)
	case protocol.Frequency:
		l.handleFrequency(f)
	case protocol.ChannelSettings:
		l.handleChannelSettings(f)
	case protocol.SyncSettings:
		l.handleSyncSettings(f)
	case protocol.Connect:
		l.handleConnect()
	case protocol.Disconnect:
		l.handleDisconnect()
	default:
		// Monitor and Error are outbound-only; a well-behaved host never
		// sends them.
		l.log.Printf("comms: ignoring unexpected inbound frame %T", frame)
	}
}

func channelInRange(ch int) bool { return ch >= 0 && ch < channel.Count }

func valueFromLevel(level gpio.Level) protocol.Value {
	if level {
		return protocol.High
	}
	return protocol.Low
}

// handleInput replies with the channel's current level and the MIDDS
// clock's present time (spec §4.H "Input -> read state, construct Input
// reply with the current MIDDS time"; see scenario S1).
func (l *Loop) handleInput(f protocol.Input) {
	if !channelInRange(f.Channel) {
		l.emitError(protocol.RRInvalidChannel)
		return
	}
	level, err := l.channels.ReadLevel(f.Channel)
	if err != nil {
		l.emitError(protocol.RRInternal)
		return
	}
	l.reply(protocol.Input{Channel: f.Channel, Value: valueFromLevel(level), TimeNs: l.nowUnixNs()})
}

// handleOutput drives an Output-mode channel to the requested level
// (spec §4.H "Output -> validate mode is Output, set state via
// ChannelTable").
func (l *Loop) handleOutput(f protocol.Output) {
	if !channelInRange(f.Channel) {
		l.emitError(protocol.RRInvalidChannel)
		return
	}
	if f.Value != protocol.High && f.Value != protocol.Low {
		l.emitError(protocol.RRInvalidValue)
		return
	}
	if err := l.channels.SetOutputLevel(f.Channel, gpio.Level(f.Value == protocol.High)); err != nil {
		if errors.Is(err, midderr.HardwareFailure) {
			l.emitError(protocol.RRInternal)
		} else {
			l.emitError(protocol.RRInvalidMode)
		}
		return
	}
	l.reply(protocol.Output{Channel: f.Channel, Value: f.Value, TimeNs: l.nowUnixNs()})
}

// handleFrequency runs the FrequencyEstimator against the channel's ring
// and replies with its freq/duty/time (spec §4.H "Frequency -> run
// FrequencyEstimator, reply with freq/duty/time"; see scenario S4).
func (l *Loop) handleFrequency(f protocol.Frequency) {
	ch, ok := l.channels.Get(f.Channel)
	if !ok {
		l.emitError(protocol.RRInvalidChannel)
		return
	}
	if ch.Mode != channel.Input && ch.Mode != channel.Frequency {
		l.emitError(protocol.RRInvalidMode)
		return
	}
	if ch.Ring == nil {
		l.emitError(protocol.RRInternal)
		return
	}

	nowMs := l.tick.NowMs()
	var cached *freqest.Result
	var ageMs uint32
	if ch.FreqCache.HasValue {
		cached = &freqest.Result{FrequencyHz: ch.FreqCache.LastFrequencyHz, DutyPct: ch.FreqCache.LastDutyPct}
		ageMs = nowMs - ch.FreqCache.CalculatedAtMs
	}

	result := freqest.Estimate(ch.Ring, cached, ageMs)
	var freqHz, dutyPct float64
	if result != nil {
		freqHz, dutyPct = result.FrequencyHz, result.DutyPct
		ch.FreqCache.HasValue = true
		ch.FreqCache.LastFrequencyHz = result.FrequencyHz
		ch.FreqCache.LastDutyPct = result.DutyPct
		ch.FreqCache.CalculatedAtMs = nowMs
	}
	l.reply(protocol.Frequency{Channel: f.Channel, FrequencyHz: freqHz, DutyPct: dutyPct, TimeNs: l.nowUnixNs()})
}

// handleChannelSettings applies a channel (re)configuration and strobes
// the shift-register chain (spec §4.H "ChannelSettings ->
// ChannelTable.applyConfig + pushShiftRegisters"; see scenario S5 for
// the LVDS-on-Gpio failure path).
func (l *Loop) handleChannelSettings(f protocol.ChannelSettings) {
	if !channelInRange(f.Channel) {
		l.emitError(protocol.RRInvalidChannel)
		return
	}
	if err := l.channels.ApplyConfig(f.Channel, f.Mode, f.Protocol); err != nil {
		switch {
		case errors.Is(err, midderr.HardwareFailure):
			l.emitError(protocol.RRInternal)
		case errors.Is(err, midderr.ConfigInvalid):
			l.emitError(protocol.RRInvalidSignalType)
		default:
			l.emitError(protocol.RRChSettParams)
		}
		return
	}
	if err := l.channels.PushShiftRegisters(); err != nil {
		l.log.Printf("comms: pushing shift registers: %v", err)
		l.emitError(protocol.RRInternal)
	}
}

// handleSyncSettings reconfigures the SYNC reference (spec §4.H
// "SyncSettings -> SyncEngine.setSync"; see scenario S3). A zero TimeNs
// is treated as "no absolute-time reset requested" — spec §4.G's SY
// frame carries no separate has-pending-reset flag, so this module
// follows the same convention original_source uses for its "no value"
// sentinel fields: zero means absent.
func (l *Loop) handleSyncSettings(f protocol.SyncSettings) {
	if f.Channel != protocol.NoChannel {
		if !channelInRange(f.Channel) {
			l.emitError(protocol.RRSyncParams)
			return
		}
		if _, ok := l.channels.Get(f.Channel); !ok {
			l.emitError(protocol.RRSyncParams)
			return
		}
	}
	cfg := syncengine.Config{
		Freq:        physic.Frequency(f.FrequencyHz * float64(physic.Hertz)),
		Duty:        gpio.Duty(f.DutyPct / 100 * float64(gpio.DutyMax)),
		SyncChannel: f.Channel,
	}
	if f.TimeNs != 0 {
		cfg.PendingResetUnixNs = f.TimeNs
		cfg.HasPendingReset = true
	}
	l.sync.SetSync(cfg)
}

// handleConnect resets every channel to Disabled and pushes the welcome
// banner (spec §4.H "Connect -> reset all channels to Disabled, push
// welcome banner on outputRing, set connected=true").
func (l *Loop) handleConnect() {
	if err := l.channels.ResetAll(); err != nil {
		l.log.Printf("comms: resetting channels on connect: %v", err)
		l.emitError(protocol.RRInternal)
		return
	}
	l.ioMu.Lock()
	err := l.output.PushN(welcomeBanner)
	l.ioMu.Unlock()
	if err != nil {
		l.log.Printf("comms: output ring full, dropping welcome banner: %v", err)
	}
	l.connected = true
}

// handleDisconnect triggers a full reboot; there is no partial teardown
// (spec §4.H "Disconnect -> full reboot", §7). If no hal.Rebooter was
// wired, channel/shift-register state is reset as the best local
// approximation (hal.Rebooter's doc comment).
func (l *Loop) handleDisconnect() {
	l.connected = false
	if l.reboot != nil {
		l.reboot.Reboot()
		return
	}
	if err := l.channels.ResetAll(); err != nil {
		l.log.Printf("comms: resetting channels on disconnect: %v", err)
	}
	if err := l.channels.PushShiftRegisters(); err != nil {
		l.log.Printf("comms: pushing shift registers on disconnect: %v", err)
	}
}

// Connected reports whether a host Connect has been received since boot
// or the last Disconnect.
func (l *Loop) Connected() bool { return l.connected }

// emitMonitors implements spec §4.H's outbound pacing: every Timer
// channel in a Monitor mode whose ring has crossed the half-capacity
// threshold, or has gone too long without a Monitor frame, gets one
// (capped by MaxTimestampsInMonitor and by what fits in outputRing).
func (l *Loop) emitMonitors() {
	nowMs := l.tick.NowMs()
	l.channels.All(func(ch *channel.Channel) {
		if ch.Kind != channel.Timer || !ch.Mode.IsMonitor() || ch.Ring == nil {
			return
		}
		due := ch.Ring.Len() >= ch.Ring.Cap()/2 || nowMs-ch.LastPrintTick >= l.cfg.ChannelPrintIntervalMs
		if !due {
			return
		}

		n := ch.Ring.Len()
		if n > l.cfg.MaxTimestampsInMonitor {
			n = l.cfg.MaxTimestampsInMonitor
		}
		if fit := l.outputHeadroomEntries(); n > fit {
			n = fit
		}
		if n <= 0 {
			return
		}

		entries := make([]uint64, 0, n)
		for i := 0; i < n; i++ {
			v, ok := ch.Ring.Pop()
			if !ok {
				break
			}
			entries = append(entries, v)
		}
		if len(entries) == 0 {
			return
		}
		ch.LastPrintTick = nowMs
		l.reply(protocol.Monitor{Channel: ch.ID, Entries: entries})
	})
}

// outputHeadroomEntries returns how many 8-byte timestamp entries still
// fit in outputRing alongside a Monitor frame's header.
func (l *Loop) outputHeadroomEntries() int {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	free := l.output.Cap() - l.output.Len() - protocol.MonitorHeaderLen
	if free <= 0 {
		return 0
	}
	return free / 8
}

// flushOutput attempts a single transmit of whatever outputRing holds
// (spec §5: "Transport send is attempted once per loop iteration; on
// transport-busy, the buffered bytes are retained and retried next
// iteration").
func (l *Loop) flushOutput() {
	l.ioMu.Lock()
	n := l.output.Len()
	if n == 0 {
		l.ioMu.Unlock()
		return
	}
	buf := make([]byte, n)
	_ = l.output.PeekN(n, buf)
	l.ioMu.Unlock()

	if l.transport.TryTransmit(buf) != hal.Accepted {
		return
	}
	l.ioMu.Lock()
	_ = l.output.PopN(n, nil)
	l.ioMu.Unlock()
}

// reply encodes frame and appends it to outputRing.
func (l *Loop) reply(frame any) {
	buf, err := protocol.Encode(nil, frame)
	if err != nil {
		l.log.Printf("comms: encoding %T: %v", frame, err)
		return
	}
	l.ioMu.Lock()
	err = l.output.PushN(buf)
	l.ioMu.Unlock()
	if err != nil {
		l.log.Printf("comms: output ring full, dropping %T frame: %v", frame, err)
	}
}

// emitError queues an Error frame for result (spec §4.H "Every
// validation error raises an Error frame").
func (l *Loop) emitError(result protocol.Result) {
	l.reply(protocol.ErrorFrame(result))
}

func (l *Loop) nowUnixNs() uint64 {
	return middstime.ToUnixNs(l.clock.Now())
}

// resultForDecodeErr maps a protocol.Decode failure to the specific
// RR_* result spec §4.H names, using protocol's decode-failure
// sentinels rather than parsing error text.
func resultForDecodeErr(err error) protocol.Result {
	switch {
	case errors.Is(err, protocol.ErrBadChannel):
		return protocol.RRInvalidChannel
	case errors.Is(err, protocol.ErrBadValue):
		return protocol.RRInvalidValue
	case errors.Is(err, protocol.ErrBadMode):
		return protocol.RRInvalidMode
	case errors.Is(err, protocol.ErrBadProtocol):
		return protocol.RRInvalidSignalType
	case errors.Is(err, protocol.ErrBadSyncParams):
		return protocol.RRSyncParams
	default:
		return protocol.RRInternal
	}
}
