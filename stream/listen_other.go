// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux
// +build !linux

package stream

import (
	"fmt"
	"net"
)

// Listen listens on all interfaces on port. Socket options and backlog are
// left to the OS defaults.
func Listen(port int) (net.Listener, error) {
	if port <= 0 || port > 0xFFFF {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	return net.Listen("tcp", fmt.Sprintf(":%d", port))
}
