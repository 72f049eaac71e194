// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package iodebug is a build-tag-gated trace logger for comms.Loop,
// grounded on ftdi's debug.go/no_debug.go logf/resetLog split: tracing
// compiles to nothing unless the caller builds with -tags middsdebug.
package iodebug

// Tracef logs a formatted trace line when built with -tags middsdebug,
// and compiles away to nothing otherwise.
func Tracef(format string, v ...interface{}) {
	tracef(format, v...)
}
