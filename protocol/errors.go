// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package protocol

// Result is a command executor's outcome code (spec §4.H "Every
// validation error raises an Error frame"). RROk is not itself sent as
// an Error frame; it signals the executor otherwise replied on its own
// (Input/Output/Frequency reply, or no reply needed).
type Result uint8

const (
	RROk Result = iota
	RRInvalidChannel
	RRInvalidMode
	RRInvalidSignalType
	RRInvalidValue
	RRChSettParams
	RRSyncParams
	RRInternal
)

// ErrorFrame builds the Error frame for a non-OK Result. The message is
// the RR_* taxonomy name itself (spec §4.H names the kinds exactly this
// way, and scenario S5 shows the wire text as the bare code), not a
// separate human-readable string.
func ErrorFrame(r Result) Error {
	return Error{Message: r.String()}
}

func (r Result) String() string {
	switch r {
	case RROk:
		return "RR_OK"
	case RRInvalidChannel:
		return "RR_INVALID_CHANNEL"
	case RRInvalidMode:
		return "RR_INVALID_MODE"
	case RRInvalidSignalType:
		return "RR_INVALID_SIGNAL_TYPE"
	case RRInvalidValue:
		return "RR_INVALID_VALUE"
	case RRChSettParams:
		return "RR_CH_SETT_PARAMS"
	case RRSyncParams:
		return "RR_SYNC_PARAMS"
	default:
		return "RR_INTERNAL"
	}
}
