// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package comms

// ProtocolVersion is the single version byte appended to the welcome
// banner, bumped whenever the wire format in package protocol changes
// incompatibly.
const ProtocolVersion = 1

// welcomeBanner is written to outputRing on a Connect request
// (SPEC_FULL.md §C "Welcome banner on Connect"): original_source's
// establishConnection writes a fixed identification string but spec.md
// §4.H doesn't spell out its content, so this module defines one.
var welcomeBanner = append([]byte("MIDDS\n"), ProtocolVersion)
