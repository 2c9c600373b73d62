// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package metrics counts what flows through the pipeline.
//
// Counters are plain atomics updated on the hot path and exported to
// Prometheus through collector functions, so that updating them never
// allocates.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters. A nil *Metrics is valid and counts
// nothing.
type Metrics struct {
	FramesPulled    atomic.Uint64 // Complete frames received from the device.
	FramesDiscarded atomic.Uint64 // Incomplete pulls.
	FramesSent      atomic.Uint64
	BytesSent       atomic.Uint64

	ClientsAccepted atomic.Uint64
	ClientsLost     atomic.Uint64
	ClientConnected atomic.Bool

	EncoderLaunches atomic.Uint64
	EncoderRunning  atomic.Bool

	Calibrations       atomic.Uint64
	CalibrationsFailed atomic.Uint64

	ComposeNanos atomic.Int64 // Duration of the last Compose call.

	start    time.Time
	registry *prometheus.Registry
}

// New returns a Metrics with its Prometheus collectors registered.
func New() *Metrics {
	m := &Metrics{start: time.Now(), registry: prometheus.NewRegistry()}
	counters := []struct {
		name, help string
		v          *atomic.Uint64
	}{
		{"texd_frames_pulled_total", "Complete frames received from the camera", &m.FramesPulled},
		{"texd_frames_discarded_total", "Incomplete frames discarded", &m.FramesDiscarded},
		{"texd_frames_sent_total", "Composited frames sent to the stream client", &m.FramesSent},
		{"texd_bytes_sent_total", "Bytes sent to the stream client", &m.BytesSent},
		{"texd_clients_accepted_total", "Stream clients accepted", &m.ClientsAccepted},
		{"texd_clients_lost_total", "Stream clients disconnected on write failure", &m.ClientsLost},
		{"texd_encoder_launches_total", "Encoder processes started", &m.EncoderLaunches},
		{"texd_calibrations_total", "Successful calibration captures", &m.Calibrations},
		{"texd_calibrations_failed_total", "Failed calibration captures", &m.CalibrationsFailed},
	}
	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}
	gauges := []struct {
		name, help string
		v          *atomic.Bool
	}{
		{"texd_client_connected", "1 when a stream client is connected", &m.ClientConnected},
		{"texd_encoder_running", "1 when an encoder process is recorded", &m.EncoderRunning},
	}
	for _, g := range gauges {
		v := g.v
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return b2f(v.Load()) },
		))
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "texd_compose_seconds", Help: "Duration of the last overlay composition"},
		func() float64 { return time.Duration(m.ComposeNanos.Load()).Seconds() },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "texd_frames_loss_ratio", Help: "Discarded pulls over all pulls"},
		func() float64 { return m.Snapshot().LossRatio },
	))
	return m
}

// Handler serves the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Pulled records the outcome of one device pull.
func (m *Metrics) Pulled(complete bool) {
	if m == nil {
		return
	}
	if complete {
		m.FramesPulled.Add(1)
	} else {
		m.FramesDiscarded.Add(1)
	}
}

// Sent records one frame written to the client.
func (m *Metrics) Sent(n int, compose time.Duration) {
	if m == nil {
		return
	}
	m.FramesSent.Add(1)
	m.BytesSent.Add(uint64(n))
	m.ComposeNanos.Store(int64(compose))
}

// Client records a client connecting (true) or leaving (false).
func (m *Metrics) Client(connected bool) {
	if m == nil {
		return
	}
	m.ClientConnected.Store(connected)
	if connected {
		m.ClientsAccepted.Add(1)
	}
}

// Lost records a client disconnected by a write failure.
func (m *Metrics) Lost() {
	if m == nil {
		return
	}
	m.ClientsLost.Add(1)
}

// Encoder records the encoder being started (true) or stopped (false).
func (m *Metrics) Encoder(running bool) {
	if m == nil {
		return
	}
	m.EncoderRunning.Store(running)
}

// Launched records an encoder process actually started, after its warm-up.
func (m *Metrics) Launched() {
	if m == nil {
		return
	}
	m.EncoderLaunches.Add(1)
}

// Calibrated records a calibration capture outcome.
func (m *Metrics) Calibrated(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Calibrations.Add(1)
	} else {
		m.CalibrationsFailed.Add(1)
	}
}

// Stats is a point in time copy of the counters, sent as JSON on the status
// websocket.
type Stats struct {
	Uptime          string  `json:"uptime"`
	FramesPulled    uint64  `json:"frames_pulled"`
	FramesDiscarded uint64  `json:"frames_discarded"`
	FramesSent      uint64  `json:"frames_sent"`
	BytesSent       uint64  `json:"bytes_sent"`
	LossRatio       float64 `json:"loss_ratio"`
	ClientConnected bool    `json:"client_connected"`
	ClientsAccepted uint64  `json:"clients_accepted"`
	EncoderRunning  bool    `json:"encoder_running"`
	EncoderLaunches uint64  `json:"encoder_launches"`
	Calibrations    uint64  `json:"calibrations"`
	ComposeMicros   int64   `json:"compose_us"`
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() Stats {
	if m == nil {
		return Stats{}
	}
	s := Stats{
		Uptime:          time.Since(m.start).Round(time.Second).String(),
		FramesPulled:    m.FramesPulled.Load(),
		FramesDiscarded: m.FramesDiscarded.Load(),
		FramesSent:      m.FramesSent.Load(),
		BytesSent:       m.BytesSent.Load(),
		ClientConnected: m.ClientConnected.Load(),
		ClientsAccepted: m.ClientsAccepted.Load(),
		EncoderRunning:  m.EncoderRunning.Load(),
		EncoderLaunches: m.EncoderLaunches.Load(),
		Calibrations:    m.Calibrations.Load(),
		ComposeMicros:   time.Duration(m.ComposeNanos.Load()).Microseconds(),
	}
	if total := s.FramesPulled + s.FramesDiscarded; total != 0 {
		s.LossRatio = float64(s.FramesDiscarded) / float64(total)
	}
	return s
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
