// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux
// +build !linux

package encoder

import "syscall"

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}
