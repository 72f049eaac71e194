// Copyright 2024 The MIDDS Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !middsdebug
// +build !middsdebug

package iodebug

func tracef(format string, v ...interface{}) {}
