package protocol

import (
	"errors"
	"testing"

	"github.com/dabecart/MIDDS/channel"
	"github.com/dabecart/MIDDS/midderr"
)

func TestInputRoundTrip(t *testing.T) {
	want := Input{Channel: 7, Value: High, TimeNs: 123456789}
	buf, err := Encode(nil, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(buf) != inputOutputLen {
		t.Fatalf("len = %d, want %d", len(buf), inputOutputLen)
	}
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != inputOutputLen {
		t.Fatalf("n = %d, want %d", n, inputOutputLen)
	}
	if got.(Input) != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestOutputRoundTrip(t *testing.T) {
	want := Output{Channel: 29, Value: Low, TimeNs: 42}
	buf, err := Encode(nil, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("n = %d, want %d", n, len(buf))
	}
	if got.(Output) != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFrequencyRoundTrip(t *testing.T) {
	want := Frequency{Channel: 3, FrequencyHz: 1000.5, DutyPct: 25.25, TimeNs: 9999}
	buf, err := Encode(nil, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(buf) != frequencyLen {
		t.Fatalf("len = %d, want %d", len(buf), frequencyLen)
	}
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != frequencyLen {
		t.Fatalf("n = %d, want %d", n, frequencyLen)
	}
	if got.(Frequency) != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestMonitorRoundTrip(t *testing.T) {
	want := Monitor{Channel: 5, Entries: []uint64{1<<1 | 0, 2<<1 | 1, 3<<1 | 0}}
	buf, err := Encode(nil, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wantLen := MonitorHeaderLen + 8*len(want.Entries)
	if len(buf) != wantLen {
		t.Fatalf("len = %d, want %d", len(buf), wantLen)
	}
	gotAny, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != wantLen {
		t.Fatalf("n = %d, want %d", n, wantLen)
	}
	got := gotAny.(Monitor)
	if got.Channel != want.Channel || len(got.Entries) != len(want.Entries) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want.Entries {
		if got.Entries[i] != want.Entries[i] {
			t.Fatalf("entry %d: got %d want %d", i, got.Entries[i], want.Entries[i])
		}
	}
}

func TestMonitorReportsIncompleteUntilAllTimestampsArrive(t *testing.T) {
	want := Monitor{Channel: 0, Entries: []uint64{10, 20}}
	buf, err := Encode(nil, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, _, err = Decode(buf[:len(buf)-1])
	if !errors.Is(err, midderr.FrameIncomplete) {
		t.Fatalf("expected FrameIncomplete, got %v", err)
	}
}

func TestChannelSettingsRoundTrip(t *testing.T) {
	want := ChannelSettings{Channel: 12, Mode: channel.MonitorBoth, Protocol: channel.LVDS}
	buf, err := Encode(nil, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(buf) != channelSettingsLen {
		t.Fatalf("len = %d, want %d", len(buf), channelSettingsLen)
	}
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != channelSettingsLen {
		t.Fatalf("n = %d, want %d", n, channelSettingsLen)
	}
	if got.(ChannelSettings) != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSyncSettingsWithNoChannelSentinel(t *testing.T) {
	want := SyncSettings{Channel: NoChannel, FrequencyHz: 10, DutyPct: 50, TimeNs: 0}
	buf, err := Encode(nil, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(buf) != syncSettingsLen {
		t.Fatalf("len = %d, want %d", len(buf), syncSettingsLen)
	}
	if buf[3] != '-' || buf[4] != '0' {
		t.Fatalf("expected \"-0\" sentinel at offset 3-4, got %q", buf[3:5])
	}
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != syncSettingsLen {
		t.Fatalf("n = %d, want %d", n, syncSettingsLen)
	}
	if got.(SyncSettings) != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestConnectDisconnectRoundTrip(t *testing.T) {
	buf, err := Encode(nil, Connect{})
	if err != nil {
		t.Fatalf("Encode Connect: %v", err)
	}
	if len(buf) != connectLen {
		t.Fatalf("len = %d, want %d", len(buf), connectLen)
	}
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != connectLen {
		t.Fatalf("n = %d, want %d", n, connectLen)
	}
	if _, ok := got.(Connect); !ok {
		t.Fatalf("got %T, want Connect", got)
	}

	buf, err = Encode(nil, Disconnect{})
	if err != nil {
		t.Fatalf("Encode Disconnect: %v", err)
	}
	got, n, err = Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != disconnectLen {
		t.Fatalf("n = %d, want %d", n, disconnectLen)
	}
	if _, ok := got.(Disconnect); !ok {
		t.Fatalf("got %T, want Disconnect", got)
	}
}

func TestErrorFrameRoundTrip(t *testing.T) {
	want := ErrorFrame(RRInvalidChannel)
	buf, err := Encode(nil, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("n = %d, want %d", n, len(buf))
	}
	if got.(Error) != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeBadSyncByteIsFrameMalformed(t *testing.T) {
	_, _, err := Decode([]byte("XC00"))
	if !errors.Is(err, midderr.FrameMalformed) {
		t.Fatalf("expected FrameMalformed, got %v", err)
	}
}

func TestDecodeUnrecognisedTagIsFrameMalformed(t *testing.T) {
	_, _, err := Decode([]byte("$Z0000000000"))
	if !errors.Is(err, midderr.FrameMalformed) {
		t.Fatalf("expected FrameMalformed, got %v", err)
	}
}

func TestDecodeShortBufferIsFrameIncomplete(t *testing.T) {
	_, _, err := Decode([]byte("$I00"))
	if !errors.Is(err, midderr.FrameIncomplete) {
		t.Fatalf("expected FrameIncomplete, got %v", err)
	}
}

func TestDecodeBadValueCharIsFieldDomain(t *testing.T) {
	buf, err := Encode(nil, Input{Channel: 0, Value: High, TimeNs: 0})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[4] = 'x'
	_, n, err := Decode(buf)
	if !errors.Is(err, midderr.FieldDomain) {
		t.Fatalf("expected FieldDomain, got %v", err)
	}
	if n != inputOutputLen {
		t.Fatalf("n = %d, want %d", n, inputOutputLen)
	}
}

func TestDecodeBadModeCodeIsFieldDomain(t *testing.T) {
	buf, err := Encode(nil, ChannelSettings{Channel: 0, Mode: channel.Input, Protocol: channel.V5})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[5], buf[6] = 'Z', 'Z'
	_, _, err = Decode(buf)
	if !errors.Is(err, midderr.FieldDomain) {
		t.Fatalf("expected FieldDomain, got %v", err)
	}
}

func TestDecodeSyncSettingsOutOfRangeDutyIsFieldDomainAndConsumesFullFrame(t *testing.T) {
	buf, err := Encode(nil, SyncSettings{Channel: 0, FrequencyHz: 10, DutyPct: 50, TimeNs: 0})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	encodeFloat64(buf[13:21], 0)
	_, n, err := Decode(buf)
	if !errors.Is(err, midderr.FieldDomain) {
		t.Fatalf("expected FieldDomain, got %v", err)
	}
	if n != syncSettingsLen {
		t.Fatalf("n = %d, want %d (full frame consumed on FieldDomain per spec §7/§8)", n, syncSettingsLen)
	}
}

func TestDecodeBadChannelDigitsIsFieldDomain(t *testing.T) {
	buf, err := Encode(nil, Input{Channel: 0, Value: Empty, TimeNs: 0})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[2] = 'x'
	_, _, err = Decode(buf)
	if !errors.Is(err, midderr.FieldDomain) {
		t.Fatalf("expected FieldDomain, got %v", err)
	}
}
