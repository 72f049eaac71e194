// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ring implements the two fixed-capacity circular FIFOs MIDDS is
// built on: ByteRing for host I/O and TimestampRing for per-channel edge
// timestamps. Both share the same push/pop/peek contract and wrap-around
// copy semantics; capacity is fixed at construction and never grows.
package ring

import "errors"

// ErrFull is returned when a push would exceed the ring's capacity.
// Pushes never partially succeed: either every byte/word is accepted or
// none is.
var ErrFull = errors.New("ring: full")

// ErrShort is returned when a pop/peek of N items is requested but fewer
// than N are available.
var ErrShort = errors.New("ring: not enough data")
