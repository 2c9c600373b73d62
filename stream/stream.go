// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package stream serves the composited frames to a single TCP client.
//
// The wire format is the raw BGR24 pixels, frame after frame, with no
// framing; the consumer knows the geometry out of band.
package stream

import (
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/acquire"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/metrics"
)

// Encoder is started before each accept and stopped when the cycle ends.
type Encoder interface {
	Start() error
	Stop() error
}

// Flags is the part of the controller the server consults once per cycle.
type Flags interface {
	BeginCycle()
	StopCycle()
	ShuttingDown() bool
}

// Server is the accept loop.
type Server struct {
	Listener net.Listener
	Encoder  Encoder
	Flags    Flags
	// Handle runs the acquisition loop for a connected client. An error
	// wrapping acquire.ErrClientGone ends the cycle and the next client is
	// accepted; any other error ends Serve.
	Handle  func(conn net.Conn) error
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// Serve accepts clients one at a time until shutdown.
//
// It returns nil on shutdown. An accept failure outside of shutdown is
// returned.
func (s *Server) Serve() error {
	for !s.Flags.ShuttingDown() {
		s.Flags.BeginCycle()
		if err := s.Encoder.Start(); err != nil {
			s.logger().Printf("Starting encoder: %v", err)
		}
		s.logger().Printf("Waiting for client to connect...")
		conn, err := s.Listener.Accept()
		if err != nil {
			s.stopEncoder()
			if s.Flags.ShuttingDown() {
				return nil
			}
			s.logger().Printf("Waiting for client failed!")
			return fmt.Errorf("accept: %w", err)
		}
		s.Metrics.Client(true)
		s.logger().Printf("Client connected: %s", conn.RemoteAddr())
		err = s.Handle(conn)
		_ = conn.Close()
		s.Metrics.Client(false)
		s.Flags.StopCycle()
		s.stopEncoder()
		if err != nil {
			if !errors.Is(err, acquire.ErrClientGone) {
				return err
			}
			s.logger().Printf("Send failed! (client disconnect)")
		}
	}
	return nil
}

func (s *Server) stopEncoder() {
	if err := s.Encoder.Stop(); err != nil {
		s.logger().Printf("Stopping encoder: %v", err)
	}
}

func (s *Server) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}
