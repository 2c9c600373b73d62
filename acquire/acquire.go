// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package acquire runs the per client frame loop: pull, composite, send.
package acquire

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/metrics"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/overlay"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/te"
)

// DefaultInterval is the delay between two pulls. It is shorter than the
// sensor frame period so no frame is missed; the pulls in between come back
// incomplete.
const DefaultInterval = 50 * time.Millisecond

// ErrClientGone is returned by Run when writing to the client failed.
var ErrClientGone = errors.New("client disconnected")

// Flags is the part of the controller the loop consults once per iteration.
type Flags interface {
	CycleStopped() bool
	// PollCalibration runs a pending calibration request between two pulls.
	PollCalibration()
	// Polling is called with true when Run starts and false when it returns.
	Polling(on bool)
}

// Loop is the acquisition loop for one client.
type Loop struct {
	Session    *te.Session
	Compositor *overlay.Compositor
	Interval   time.Duration // Defaults to DefaultInterval.
	Flags      Flags
	Metrics    *metrics.Metrics // Optional.
	// Tap, if set, is called with every frame sent. img is only valid for the
	// duration of the call.
	Tap     func(img *overlay.Raster)
	Verbose bool
	Logger  *log.Logger

	frame *te.Frame
}

// Run sends frames to w until the cycle is stopped.
//
// It returns nil when stopped, an error wrapping ErrClientGone when w failed
// and te.ErrHardFault when the device is gone.
func (l *Loop) Run(w io.Writer) error {
	if l.frame == nil {
		f, err := l.Session.NewFrame()
		if err != nil {
			return err
		}
		l.frame = f
	}
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	l.Flags.Polling(true)
	defer l.Flags.Polling(false)
	cfg := &l.Compositor.Config
	withTemp := cfg.Mode != overlay.Off
	for !l.Flags.CycleStopped() {
		l.Flags.PollCalibration()
		err := l.Session.Acquire(l.frame, cfg.Emissivity, withTemp)
		switch {
		case err == nil:
			l.Metrics.Pulled(true)
			start := time.Now()
			img := l.Compositor.Compose(l.frame)
			d := time.Since(start)
			b := img.Bytes()
			if _, err := w.Write(b); err != nil {
				l.Metrics.Lost()
				return fmt.Errorf("%w: %v", ErrClientGone, err)
			}
			l.Metrics.Sent(len(b), d)
			if l.Tap != nil {
				l.Tap(img)
			}
			if l.Verbose {
				min, max := l.Compositor.Extrema()
				l.logger().Printf("Sent %d bytes; min %s at %v, max %s at %v; composed in %s", len(b), min.Temperature(), min.Pt, max.Temperature(), max.Pt, d)
			}
		case errors.Is(err, te.ErrHardFault):
			return err
		default:
			// Incomplete pulls are expected at this polling rate.
			l.Metrics.Pulled(false)
			if l.Verbose && !errors.Is(err, te.ErrIncomplete) {
				l.logger().Printf("Frame discarded: %v", err)
			}
		}
		time.Sleep(interval)
	}
	return nil
}

func (l *Loop) logger() *log.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return log.Default()
}
