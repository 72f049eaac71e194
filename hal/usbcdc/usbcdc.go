// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package usbcdc implements spec §6's ByteTransport adapter over a
// periph.io/x/d2xx.Handle: the MIDDS reference hardware's host link is a
// D2XX-mode FTDI part run as a plain UART/FIFO byte pipe (no MPSSE
// command framing), used as a USB CDC transport.
//
// Adapted from ftdi/handle.go's handle: kept its
// GetQueueStatus-then-Read non-blocking-read pattern and Open/Init/Reset
// lifecycle, replaced the MPSSE bit-mode setup (SetBitMode, the MPSSE
// clock/adaptive-clocking dance) with the device's default UART/FIFO
// mode — MIDDS never drives SPI/I²C/GPIO through this particular chip,
// only raw bytes.
package usbcdc

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/d2xx"

	"github.com/dabecart/MIDDS/hal"
)

// Transport implements hal.ByteTransport over a single opened D2XX
// device handle.
type Transport struct {
	h d2xx.Handle

	mu      sync.Mutex
	onRecv  func(b []byte)
	stop    chan struct{}
	stopped chan struct{}
}

// Open opens the i'th D2XX device (0-indexed, per d2xx.Open's own
// convention) and initializes it the way ftdi.handle.Init/InitNonMPSSE
// do for a plain byte-pipe device: generous USB packet size, flow
// control on, read/write timeouts set so a stalled host doesn't wedge
// MIDDS's foreground loop forever.
func Open(index int) (*Transport, error) {
	h, e := d2xx.Open(index)
	if e != 0 {
		return nil, fmt.Errorf("usbcdc: opening device %d: %s", index, e)
	}
	if e := h.SetUSBParameters(65536, 0); e != 0 {
		_ = h.Close()
		return nil, fmt.Errorf("usbcdc: SetUSBParameters: %s", e)
	}
	if e := h.SetTimeouts(50, 50); e != 0 {
		_ = h.Close()
		return nil, fmt.Errorf("usbcdc: SetTimeouts: %s", e)
	}
	if e := h.SetFlowControl(); e != 0 {
		_ = h.Close()
		return nil, fmt.Errorf("usbcdc: SetFlowControl: %s", e)
	}
	return &Transport{h: h}, nil
}

// OnReceive implements hal.ByteTransport, also starting the background
// poll goroutine that feeds it (there is no point polling before a
// caller has somewhere to deliver bytes to).
func (t *Transport) OnReceive(fn func(b []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRecv = fn
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.stopped = make(chan struct{})
	go t.pollLoop(t.stop, t.stopped)
}

// pollLoop mirrors ftdi.handle.Read's GetQueueStatus-then-Read shape: it
// only issues a Read when the driver reports bytes queued, so it never
// blocks the polling goroutine waiting on USB traffic that isn't there.
func (t *Transport) pollLoop(stop, stopped chan struct{}) {
	defer close(stopped)
	buf := make([]byte, 4096)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, e := t.h.GetQueueStatus()
		if e != 0 || n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		want := int(n)
		if want > len(buf) {
			want = len(buf)
		}
		got, e := t.h.Read(buf[:want])
		if e != 0 || got == 0 {
			continue
		}
		t.mu.Lock()
		cb := t.onRecv
		t.mu.Unlock()
		if cb != nil {
			cb(append([]byte(nil), buf[:got]...))
		}
	}
}

// TryTransmit implements hal.ByteTransport. d2xx's Write blocks up to
// the configured write timeout rather than failing fast on a full USB
// buffer; a timeout or any other driver error is reported as Busy so the
// caller retries with the same bytes next loop iteration (spec §5/§7
// TransportBusy), rather than as a permanent failure.
func (t *Transport) TryTransmit(b []byte) hal.TransmitResult {
	n, e := t.h.Write(b)
	if e != 0 || n != len(b) {
		return hal.Busy
	}
	return hal.Accepted
}

// Close stops the poll goroutine and releases the device handle.
func (t *Transport) Close() error {
	t.mu.Lock()
	stop := t.stop
	stopped := t.stopped
	t.stop = nil
	t.stopped = nil
	t.mu.Unlock()
	if stop != nil {
		close(stop)
		<-stopped
	}
	if e := t.h.Close(); e != 0 {
		return fmt.Errorf("usbcdc: closing handle: %s", e)
	}
	return nil
}

var _ hal.ByteTransport = (*Transport)(nil)
