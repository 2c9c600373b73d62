// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stream

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Listen listens on all interfaces on port with SO_REUSEADDR and SO_REUSEPORT
// set and a backlog of 1: there is only ever one consumer.
func Listen(port int) (net.Listener, error) {
	if port <= 0 || port > 0xFFFF {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed setting up socket: %w", err)
	}
	for _, opt := range []int{unix.SO_REUSEADDR, unix.SO_REUSEPORT} {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, opt, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed setting up socket: %w", err)
		}
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed binding socket on port %d: %w", port, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed listen on socket: %w", err)
	}
	// FileListener dups the descriptor.
	f := os.NewFile(uintptr(fd), fmt.Sprintf("tcp:%d", port))
	defer f.Close()
	return net.FileListener(f)
}
