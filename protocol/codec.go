// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package protocol

import (
	"errors"
	"fmt"

	"github.com/dabecart/MIDDS/channel"
	"github.com/dabecart/MIDDS/midderr"
)

// Decode-failure sentinels, each wrapping midderr.FieldDomain, so package
// comms can map a failed decode to the specific RR_* result spec §4.H
// names without parsing error text.
var (
	ErrBadChannel    = errors.New("protocol: invalid channel digits")
	ErrBadValue      = errors.New("protocol: invalid value character")
	ErrBadMode       = errors.New("protocol: invalid mode code")
	ErrBadProtocol   = errors.New("protocol: invalid protocol code")
	ErrBadSyncParams = errors.New("protocol: invalid sync parameters")
)

// Fixed frame lengths, counted from '$' inclusive (spec §4.G's Length
// column).
const (
	inputOutputLen = 13
	// frequencyLen: spec §4.G lists the F row's Length as 20, but its
	// payload is described with the same fields as SY (chan2 freq8(f64)
	// duty8(f64) time8), and SY's declared length of 29 only reconciles
	// with 8-byte float64 fields. Taking the field widths as authoritative
	// (consistent with SY) puts F's true length at 28; 20 is treated as a
	// transcription error in spec.md and not replicated here.
	frequencyLen       = 28
	MonitorHeaderLen   = 8
	channelSettingsLen = 8
	syncSettingsLen    = 29
	connectLen         = 5
	disconnectLen      = 5
)

// Decode reads one frame from the front of buf (spec §4.G "decode(buf,
// len) → n | error"). On success it returns the decoded frame value (one
// of Input, Output, Frequency, Monitor, ChannelSettings, SyncSettings,
// Connect, Disconnect, Error) and the number of bytes consumed. On
// failure, err wraps midderr.FrameIncomplete (n is 0; retry once more
// data arrives, no bytes discarded), midderr.FrameMalformed (n is 0; bad
// sync byte or unrecognised tag), or midderr.FieldDomain (n is the
// frame's full fixed length; the fields decoded but failed a domain
// check). Callers resynchronise by discarding one byte on
// FrameMalformed and exactly n bytes on FieldDomain (spec §7, §4.H, and
// the resync property in §8).
func Decode(buf []byte) (any, int, error) {
	if len(buf) < 1 {
		return nil, 0, fmt.Errorf("protocol: empty buffer: %w", midderr.FrameIncomplete)
	}
	if buf[0] != SyncByte {
		return nil, 0, fmt.Errorf("protocol: byte 0 is %q, want %q: %w", buf[0], byte(SyncByte), midderr.FrameMalformed)
	}
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("protocol: buffer too short for a tag: %w", midderr.FrameIncomplete)
	}

	switch buf[1] {
	case 'I':
		return decodeInput(buf)
	case 'O':
		return decodeOutput(buf)
	case 'F':
		return decodeFrequency(buf)
	case 'M':
		return decodeMonitor(buf)
	case 'E':
		return decodeError(buf)
	case 'S':
		if len(buf) < 3 {
			return nil, 0, fmt.Errorf("protocol: buffer too short for a tag: %w", midderr.FrameIncomplete)
		}
		switch buf[2] {
		case 'C':
			return decodeChannelSettings(buf)
		case 'Y':
			return decodeSyncSettings(buf)
		default:
			return nil, 0, fmt.Errorf("protocol: unrecognised tag \"S%c\": %w", buf[2], midderr.FrameMalformed)
		}
	case 'C', 'D':
		if len(buf) < 5 {
			return nil, 0, fmt.Errorf("protocol: buffer too short for a tag: %w", midderr.FrameIncomplete)
		}
		switch string(buf[1:5]) {
		case "CONN":
			return Connect{}, connectLen, nil
		case "DISC":
			return Disconnect{}, disconnectLen, nil
		default:
			return nil, 0, fmt.Errorf("protocol: unrecognised tag %q: %w", buf[1:5], midderr.FrameMalformed)
		}
	default:
		return nil, 0, fmt.Errorf("protocol: unrecognised tag %q: %w", buf[1], midderr.FrameMalformed)
	}
}

func decodeInput(buf []byte) (any, int, error) {
	if len(buf) < inputOutputLen {
		return nil, 0, fmt.Errorf("protocol: I frame: %w", midderr.FrameIncomplete)
	}
	ch, err := decodeChannel(buf[2:4])
	if err != nil {
		return nil, inputOutputLen, err
	}
	v := Value(buf[4])
	if !v.valid() {
		return nil, inputOutputLen, fmt.Errorf("protocol: I frame: invalid value %q: %w: %w", buf[4], ErrBadValue, midderr.FieldDomain)
	}
	return Input{Channel: ch, Value: v, TimeNs: decodeUint64(buf[5:13])}, inputOutputLen, nil
}

func decodeOutput(buf []byte) (any, int, error) {
	if len(buf) < inputOutputLen {
		return nil, 0, fmt.Errorf("protocol: O frame: %w", midderr.FrameIncomplete)
	}
	ch, err := decodeChannel(buf[2:4])
	if err != nil {
		return nil, inputOutputLen, err
	}
	v := Value(buf[4])
	if !v.valid() {
		return nil, inputOutputLen, fmt.Errorf("protocol: O frame: invalid value %q: %w: %w", buf[4], ErrBadValue, midderr.FieldDomain)
	}
	return Output{Channel: ch, Value: v, TimeNs: decodeUint64(buf[5:13])}, inputOutputLen, nil
}

func decodeFrequency(buf []byte) (any, int, error) {
	if len(buf) < frequencyLen {
		return nil, 0, fmt.Errorf("protocol: F frame: %w", midderr.FrameIncomplete)
	}
	ch, err := decodeChannel(buf[2:4])
	if err != nil {
		return nil, frequencyLen, err
	}
	return Frequency{
		Channel:     ch,
		FrequencyHz: decodeFloat64(buf[4:12]),
		DutyPct:     decodeFloat64(buf[12:20]),
		TimeNs:      decodeUint64(buf[20:28]),
	}, frequencyLen, nil
}

// decodeMonitor is outbound-only (spec §4.G: "M ... async reply") but is
// implemented symmetrically so package comms can round-trip it in
// tests without a second parser.
func decodeMonitor(buf []byte) (any, int, error) {
	if len(buf) < MonitorHeaderLen {
		return nil, 0, fmt.Errorf("protocol: M frame: %w", midderr.FrameIncomplete)
	}
	ch, err := decodeChannel(buf[2:4])
	if err != nil {
		return nil, MonitorHeaderLen, err
	}
	count := decodeUint32(buf[4:8])
	total := MonitorHeaderLen + 8*int(count)
	if len(buf) < total {
		return nil, 0, fmt.Errorf("protocol: M frame: %w", midderr.FrameIncomplete)
	}
	entries := make([]uint64, count)
	for i := range entries {
		off := MonitorHeaderLen + 8*i
		entries[i] = decodeUint64(buf[off : off+8])
	}
	return Monitor{Channel: ch, Entries: entries}, total, nil
}

func decodeChannelSettings(buf []byte) (any, int, error) {
	if len(buf) < channelSettingsLen {
		return nil, 0, fmt.Errorf("protocol: SC frame: %w", midderr.FrameIncomplete)
	}
	ch, err := decodeChannel(buf[3:5])
	if err != nil {
		return nil, channelSettingsLen, err
	}
	mode, err := channel.ParseMode(string(buf[5:7]))
	if err != nil {
		return nil, channelSettingsLen, fmt.Errorf("protocol: SC frame: %w: %w: %w", err, ErrBadMode, midderr.FieldDomain)
	}
	protocol, err := channel.ParseProtocol(buf[7])
	if err != nil {
		return nil, channelSettingsLen, fmt.Errorf("protocol: SC frame: %w: %w: %w", err, ErrBadProtocol, midderr.FieldDomain)
	}
	return ChannelSettings{Channel: ch, Mode: mode, Protocol: protocol}, channelSettingsLen, nil
}

func decodeSyncSettings(buf []byte) (any, int, error) {
	if len(buf) < syncSettingsLen {
		return nil, 0, fmt.Errorf("protocol: SY frame: %w", midderr.FrameIncomplete)
	}
	ch, err := decodeChannel(buf[3:5])
	if err != nil {
		return nil, syncSettingsLen, err
	}
	duty := decodeFloat64(buf[13:21])
	// Channel may legitimately be NoChannel (disabling the SYNC binding
	// while still updating freq/duty, spec §4.G); duty is only meaningful
	// once a SYNC source is bound, so only range-check it when ch is real
	// (spec §3: "dutyPct ∈ (0,100)").
	if ch != NoChannel && (duty <= 0 || duty >= 100) {
		return nil, syncSettingsLen, fmt.Errorf("protocol: SY frame: duty %v out of (0,100): %w: %w", duty, ErrBadSyncParams, midderr.FieldDomain)
	}
	return SyncSettings{
		Channel:     ch,
		FrequencyHz: decodeFloat64(buf[5:13]),
		DutyPct:     duty,
		TimeNs:      decodeUint64(buf[21:29]),
	}, syncSettingsLen, nil
}

// decodeError is outbound-only; provided for symmetry and for tests.
func decodeError(buf []byte) (any, int, error) {
	for i := 2; i < len(buf); i++ {
		if buf[i] == 0 {
			return Error{Message: string(buf[2:i])}, i + 1, nil
		}
	}
	return nil, 0, fmt.Errorf("protocol: E frame: %w", midderr.FrameIncomplete)
}

// Encode appends frame's wire representation to dst and returns the
// result, mirroring the append-based encoders original_source's
// Comms.c uses (encodeInput, encodeOutput, ...).
func Encode(dst []byte, frame any) ([]byte, error) {
	switch f := frame.(type) {
	case Input:
		return encodeChannelValueTime(dst, 'I', f.Channel, f.Value, f.TimeNs), nil
	case Output:
		return encodeChannelValueTime(dst, 'O', f.Channel, f.Value, f.TimeNs), nil
	case Frequency:
		buf := make([]byte, frequencyLen)
		buf[0], buf[1] = SyncByte, 'F'
		encodeChannel(buf[2:4], f.Channel)
		encodeFloat64(buf[4:12], f.FrequencyHz)
		encodeFloat64(buf[12:20], f.DutyPct)
		encodeUint64(buf[20:28], f.TimeNs)
		return append(dst, buf...), nil
	case Monitor:
		buf := make([]byte, MonitorHeaderLen+8*len(f.Entries))
		buf[0], buf[1] = SyncByte, 'M'
		encodeChannel(buf[2:4], f.Channel)
		encodeUint32(buf[4:8], uint32(len(f.Entries)))
		for i, e := range f.Entries {
			off := MonitorHeaderLen + 8*i
			encodeUint64(buf[off:off+8], e)
		}
		return append(dst, buf...), nil
	case ChannelSettings:
		buf := make([]byte, channelSettingsLen)
		buf[0], buf[1], buf[2] = SyncByte, 'S', 'C'
		encodeChannel(buf[3:5], f.Channel)
		copy(buf[5:7], f.Mode.Code())
		buf[7] = f.Protocol.Code()
		return append(dst, buf...), nil
	case SyncSettings:
		buf := make([]byte, syncSettingsLen)
		buf[0], buf[1], buf[2] = SyncByte, 'S', 'Y'
		encodeChannel(buf[3:5], f.Channel)
		encodeFloat64(buf[5:13], f.FrequencyHz)
		encodeFloat64(buf[13:21], f.DutyPct)
		encodeUint64(buf[21:29], f.TimeNs)
		return append(dst, buf...), nil
	case Connect:
		return append(dst, SyncByte, 'C', 'O', 'N', 'N'), nil
	case Disconnect:
		return append(dst, SyncByte, 'D', 'I', 'S', 'C'), nil
	case Error:
		buf := make([]byte, 0, 2+len(f.Message)+1)
		buf = append(buf, SyncByte, 'E')
		buf = append(buf, f.Message...)
		buf = append(buf, 0)
		return append(dst, buf...), nil
	default:
		return nil, fmt.Errorf("protocol: Encode: unsupported frame type %T", frame)
	}
}

func encodeChannelValueTime(dst []byte, tag byte, ch int, v Value, timeNs uint64) []byte {
	buf := make([]byte, inputOutputLen)
	buf[0], buf[1] = SyncByte, tag
	encodeChannel(buf[2:4], ch)
	buf[4] = byte(v)
	encodeUint64(buf[5:13], timeNs)
	return append(dst, buf...)
}
