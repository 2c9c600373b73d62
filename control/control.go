// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package control owns the daemon lifecycle: the startup watchdog, the stop
// flags consulted by the stream server and the acquisition loop, signal
// dispatch, on-demand calibration and hot-unplug handling.
//
// Signals are received on a goroutine, so the controller may take locks; the
// flags read on the hot path are atomics.
package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/metrics"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/te"
)

// Default timings.
const (
	DefaultTimeout = 20 * time.Second
	DefaultGrace   = 2 * time.Second
)

// State is the lifecycle state of the daemon.
type State int32

// Valid values for State.
const (
	Initializing State = iota
	WatchdogArmed
	Running
	Stopping
	Terminated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case WatchdogArmed:
		return "watchdog armed"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Encoder is the part of the encoder supervisor the controller needs.
type Encoder interface {
	Stop() error
}

// Calibrator captures a calibration and persists it. It returns the path
// written to.
type Calibrator interface {
	Calibrate() (string, error)
}

// CalibratorFunc adapts a function to Calibrator.
type CalibratorFunc func() (string, error)

func (f CalibratorFunc) Calibrate() (string, error) {
	return f()
}

// Controller is the daemon state machine.
//
// All fields are optional and must be set before the first method call.
type Controller struct {
	Timeout    time.Duration // Startup watchdog; defaults to DefaultTimeout.
	Grace      time.Duration // Delay before a stuck shutdown is forced; defaults to DefaultGrace.
	Encoder    Encoder
	Calibrator Calibrator
	Exit       func(code int) // Defaults to os.Exit.
	Kill       func()         // Uncatchable self termination; defaults to SIGKILL.
	Metrics    *metrics.Metrics
	Logger     *log.Logger

	state    atomic.Int32
	stop     atomic.Bool // Ends the current acquisition cycle.
	shutdown atomic.Bool // Ends the process.
	ready    atomic.Bool // Calibration allowed.
	pending  atomic.Bool // Calibration requested.
	polling  atomic.Bool // An acquisition loop runs calibrations.
	code     atomic.Int32

	once  sync.Once
	nudge chan struct{}

	mu    sync.Mutex
	timer *time.Timer
	hooks []func()
	fired bool // hooks already ran
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Arm starts the startup watchdog. It implements te.Watchdog.
func (c *Controller) Arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.state.CompareAndSwap(int32(Initializing), int32(WatchdogArmed))
	d := c.Timeout
	if d <= 0 {
		d = DefaultTimeout
	}
	c.timer = time.AfterFunc(d, c.Alarm)
}

// Disarm stops the startup watchdog; calibration requests are accepted from
// now on. It implements te.Watchdog.
func (c *Controller) Disarm() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.state.CompareAndSwap(int32(WatchdogArmed), int32(Running))
	c.ready.Store(true)
}

// Alarm is the forced termination path: the watchdog fired or SIGALRM was
// received. The process is killed.
func (c *Controller) Alarm() {
	c.stopAll()
	c.logger().Printf("Stopped by signal (PID:%d)", os.Getpid())
	c.logger().Printf("Timeout! Please reconnect device!")
	c.state.Store(int32(Terminated))
	c.kill()
	c.exit(1)
}

// Shutdown is the graceful termination path. The acquisition cycle is
// stopped, the encoder is terminated and the shutdown hooks run; the process
// is expected to exit 0 as soon as the worker returns. If it doesn't within
// Grace, it is exited forcibly.
func (c *Controller) Shutdown(reason string) {
	c.terminate(0, "Stopped by %s (PID:%d)", reason, os.Getpid())
}

// Unplugged handles the device being detached. Same as Shutdown but the exit
// code is 1.
func (c *Controller) Unplugged() {
	c.terminate(1, "Device detached and program stopped!")
}

// ExitCode is the code the process should exit with once stopped.
func (c *Controller) ExitCode() int {
	return int(c.code.Load())
}

// OnShutdown registers f to be called once when the process starts stopping.
//
// f is called right away if the process is already stopping.
func (c *Controller) OnShutdown(f func()) {
	c.mu.Lock()
	if !c.fired {
		c.hooks = append(c.hooks, f)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	f()
}

// BeginCycle clears the per cycle stop flag, unless the process is stopping.
func (c *Controller) BeginCycle() {
	if !c.shutdown.Load() {
		c.stop.Store(false)
	}
}

// StopCycle ends the current acquisition cycle.
func (c *Controller) StopCycle() {
	c.stop.Store(true)
}

// CycleStopped reports whether the current acquisition cycle must end.
func (c *Controller) CycleStopped() bool {
	return c.stop.Load()
}

// ShuttingDown reports whether the process is stopping.
func (c *Controller) ShuttingDown() bool {
	return c.shutdown.Load()
}

// RequestCalibration queues a calibration capture. It returns false when the
// device isn't initialized yet. Repeated requests before the capture runs
// are merged.
func (c *Controller) RequestCalibration() bool {
	if !c.ready.Load() || c.Calibrator == nil {
		c.logger().Printf("Device not ready for calibration!")
		return false
	}
	c.pending.Store(true)
	select {
	case c.nudges() <- struct{}{}:
	default:
	}
	return true
}

// PollCalibration runs the pending calibration request, if any. The
// acquisition loop calls it between two frame pulls.
func (c *Controller) PollCalibration() {
	if c.pending.CompareAndSwap(true, false) {
		c.calibrate()
	}
}

// Polling tells whether an acquisition loop is calling PollCalibration.
// A request still pending when the loop stops is handed back to
// ServeCalibrations.
func (c *Controller) Polling(on bool) {
	c.polling.Store(on)
	if !on && c.pending.Load() {
		select {
		case c.nudges() <- struct{}{}:
		default:
		}
	}
}

// ServeCalibrations runs calibration requests while no acquisition loop is
// polling, e.g. while waiting for a client. It returns when ctx is done.
func (c *Controller) ServeCalibrations(ctx context.Context) {
	n := c.nudges()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n:
			if !c.polling.Load() {
				c.PollCalibration()
			}
		}
	}
}

func (c *Controller) calibrate() {
	p, err := c.Calibrator.Calibrate()
	c.Metrics.Calibrated(err == nil)
	switch {
	case err == nil:
		c.logger().Printf("Successfully saved calibration data to %s", p)
	case errors.Is(err, te.ErrCaptureFailed):
		c.logger().Printf("Failed to calibrate!")
	case errors.Is(err, te.ErrSaveFailed):
		c.logger().Printf("Saving calibration data to %s failed!", p)
	default:
		c.logger().Printf("Calibration failed: %v", err)
	}
}

func (c *Controller) nudges() chan struct{} {
	c.once.Do(func() { c.nudge = make(chan struct{}, 1) })
	return c.nudge
}

// terminate moves to Stopping once; later calls are ignored.
func (c *Controller) terminate(code int, format string, args ...interface{}) {
	for {
		s := c.state.Load()
		if State(s) >= Stopping {
			return
		}
		if c.state.CompareAndSwap(s, int32(Stopping)) {
			break
		}
	}
	c.code.Store(int32(code))
	c.stopAll()
	c.logger().Printf(format, args...)
	c.mu.Lock()
	hooks := c.hooks
	c.hooks = nil
	c.fired = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	for _, f := range hooks {
		f()
	}
	g := c.Grace
	if g <= 0 {
		g = DefaultGrace
	}
	time.AfterFunc(g, func() {
		c.logger().Printf("Worker did not stop in %s; exiting.", g)
		c.state.Store(int32(Terminated))
		c.exit(code)
	})
}

func (c *Controller) stopAll() {
	c.shutdown.Store(true)
	c.stop.Store(true)
	if c.Encoder != nil {
		if err := c.Encoder.Stop(); err != nil {
			c.logger().Printf("Stopping encoder: %v", err)
		}
	}
}

func (c *Controller) exit(code int) {
	if c.Exit != nil {
		c.Exit(code)
		return
	}
	os.Exit(code)
}

func (c *Controller) kill() {
	if c.Kill != nil {
		c.Kill()
		return
	}
	if p, err := os.FindProcess(os.Getpid()); err == nil {
		_ = p.Kill()
	}
}

func (c *Controller) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}
