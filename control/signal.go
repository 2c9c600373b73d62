// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package control

import (
	"os"
	"syscall"
)

// Signals is the list of signals Watch handles. SIGPIPE is not part of it:
// a client going away surfaces as a write error instead.
var Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGALRM, syscall.SIGUSR1}

// Watch dispatches signals until ch is closed. Pass it a channel registered
// with signal.Notify(ch, Signals...).
func (c *Controller) Watch(ch <-chan os.Signal) {
	for sig := range ch {
		c.Handle(sig)
	}
}

// Handle dispatches a single signal.
func (c *Controller) Handle(sig os.Signal) {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		c.Shutdown(sig.String())
	case syscall.SIGALRM:
		c.Alarm()
	case syscall.SIGUSR1:
		c.RequestCalibration()
	default:
		c.logger().Printf("Ignoring signal %s", sig)
	}
}
