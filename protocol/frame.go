// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package protocol implements the host-link wire codec (spec §4.G):
// fixed-length binary frames prefixed with a '$' sync byte and a
// one-or-two-character ASCII tag.
//
// Grounded on original_source's CommsProtocol.h (frame tags, field
// union) and Comms.c's decodeMsg/encode* family, adapted to spec §4.G's
// richer field widths (the legacy firmware's frames are narrower and
// use a different channel/mode encoding; the tag vocabulary and the
// general "fixed header then packed binary fields" shape are what
// carries over). Multi-byte numeric fields are little-endian
// (encoding/binary.LittleEndian), matching spec §4.G's "Monitor
// timestamps are little-endian 64-bit".
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dabecart/MIDDS/channel"
	"github.com/dabecart/MIDDS/midderr"
)

// SyncByte starts every frame (spec §4.G).
const SyncByte = '$'

// NoChannel is the decoded/encoded form of the "-0" reserved sentinel
// (spec §4.G: "used by SyncSettings to disable the sync channel binding
// while still setting freq/duty").
const NoChannel = -1

// Value is a channel's discrete logical value as carried on the wire
// (spec §4.G "Value character").
type Value byte

const (
	Low   Value = '0'
	High  Value = '1'
	Empty Value = ' '
)

func (v Value) valid() bool { return v == Low || v == High || v == Empty }

// Input is the `I` frame: an Input channel query (inbound, value/time
// ignored) or its reply (outbound, value/time populated).
type Input struct {
	Channel int
	Value   Value
	TimeNs  uint64
}

// Output is the `O` frame: a request to drive an Output channel to
// Value, or (as an inbound echo) the query form.
type Output struct {
	Channel int
	Value   Value
	TimeNs  uint64
}

// Frequency is the `F` frame: a Frequency channel query (inbound) or
// its freq/duty/time reply (outbound).
type Frequency struct {
	Channel     int
	FrequencyHz float64
	DutyPct     float64
	TimeNs      uint64
}

// Monitor is the `M` frame: an asynchronous batch of encoded capture
// entries for one Timer channel in Monitor mode. Entries are the same
// (timestamp<<1|level) packing capture.DecodeTimestamp/DecodeLevel
// understand.
type Monitor struct {
	Channel int
	Entries []uint64
}

// ChannelSettings is the `SC` frame: a channel (re)configuration
// request.
type ChannelSettings struct {
	Channel  int
	Mode     channel.Mode
	Protocol channel.Protocol
}

// SyncSettings is the `SY` frame: a SYNC reference reconfiguration
// request. Channel may be NoChannel to record no SYNC channel in the
// engine while still updating freq/duty/time (see syncengine.Config).
type SyncSettings struct {
	Channel     int
	FrequencyHz float64
	DutyPct     float64
	TimeNs      uint64
}

// Connect is the `CONN` frame: a host connection request.
type Connect struct{}

// Disconnect is the `DISC` frame: a host disconnection request.
type Disconnect struct{}

// Error is the `E` frame: an asynchronous error reply, null-terminated
// text (spec §4.G).
type Error struct {
	Message string
}

// encodeChannel writes ch's two-ASCII-digit encoding into buf[0:2]
// (spec §4.G "Channel field is two ASCII digits"). NoChannel encodes as
// "-0".
func encodeChannel(buf []byte, ch int) {
	if ch == NoChannel {
		buf[0], buf[1] = '-', '0'
		return
	}
	buf[0] = byte('0' + (ch/10)%10)
	buf[1] = byte('0' + ch%10)
}

// decodeChannel reads the two-ASCII-digit channel field from buf[0:2].
func decodeChannel(buf []byte) (int, error) {
	if buf[0] == '-' {
		if buf[1] < '0' || buf[1] > '9' {
			return 0, fmt.Errorf("protocol: malformed channel sentinel %q: %w: %w", buf[:2], ErrBadChannel, midderr.FieldDomain)
		}
		return NoChannel, nil
	}
	if buf[0] < '0' || buf[0] > '9' || buf[1] < '0' || buf[1] > '9' {
		return 0, fmt.Errorf("protocol: malformed channel digits %q: %w: %w", buf[:2], ErrBadChannel, midderr.FieldDomain)
	}
	return int(buf[0]-'0')*10 + int(buf[1]-'0'), nil
}

func encodeFloat64(buf []byte, v float64) {
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
}

func decodeFloat64(buf []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf))
}

func encodeUint64(buf []byte, v uint64) {
	binary.LittleEndian.PutUint64(buf, v)
}

func decodeUint64(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

func encodeUint32(buf []byte, v uint32) {
	binary.LittleEndian.PutUint32(buf, v)
}

func decodeUint32(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}
