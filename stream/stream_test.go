// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stream

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/acquire"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/metrics"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/overlay"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/te"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/tetest"
)

// conn fails on write number failOn, counting from 1; 0 never fails.
type conn struct {
	net.Conn
	failOn int
	writes int
	n      int
	closed bool
}

func (c *conn) Write(b []byte) (int, error) {
	c.writes++
	if c.writes == c.failOn {
		return 0, errors.New("write: broken pipe")
	}
	c.n += len(b)
	return len(b), nil
}

func (c *conn) Close() error {
	c.closed = true
	return nil
}

func (c *conn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4242}
}

// listener hands out conns, then fails with err.
type listener struct {
	net.Listener
	mu      sync.Mutex
	conns   []*conn
	err     error
	accepts int
	before  func() // Called when Accept fails.
}

func (l *listener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accepts++
	if len(l.conns) == 0 {
		if l.before != nil {
			l.before()
		}
		return nil, l.err
	}
	c := l.conns[0]
	l.conns = l.conns[1:]
	return c, nil
}

type encoder struct {
	starts, stops int
}

func (e *encoder) Start() error {
	e.starts++
	return nil
}

func (e *encoder) Stop() error {
	e.stops++
	return nil
}

type flags struct {
	stop, shutdown atomic.Bool
	cycles         int
}

func (f *flags) BeginCycle() {
	f.cycles++
	if !f.shutdown.Load() {
		f.stop.Store(false)
	}
}
func (f *flags) StopCycle()         { f.stop.Store(true) }
func (f *flags) CycleStopped() bool { return f.stop.Load() }
func (f *flags) ShuttingDown() bool { return f.shutdown.Load() }
func (f *flags) PollCalibration()   {}
func (f *flags) Polling(bool)       {}
func (f *flags) quit() {
	f.shutdown.Store(true)
	f.stop.Store(true)
}

func newServer(l net.Listener, fl *flags, tap func(*overlay.Raster)) (*Server, *encoder) {
	d := tetest.New(te.ModelM1)
	d.NoRateLimit = true
	quiet := log.New(io.Discard, "", 0)
	loop := &acquire.Loop{
		Session:    te.NewSession(te.ModelM1, d, quiet),
		Compositor: &overlay.Compositor{Model: te.ModelM1, Config: overlay.Config{Mode: overlay.On, Emissivity: 1}},
		Interval:   time.Millisecond,
		Flags:      fl,
		Tap:        tap,
		Logger:     quiet,
	}
	e := &encoder{}
	m := metrics.New()
	loop.Metrics = m
	return &Server{
		Listener: l,
		Encoder:  e,
		Flags:    fl,
		Handle:   func(c net.Conn) error { return loop.Run(c) },
		Metrics:  m,
		Logger:   quiet,
	}, e
}

func TestServe_reconnect(t *testing.T) {
	fl := &flags{}
	c1 := &conn{failOn: 3}
	c2 := &conn{}
	l := &listener{conns: []*conn{c1, c2}, err: errors.New("closed")}
	sent := 0
	s, e := newServer(l, fl, func(*overlay.Raster) {
		sent++
		// Second client: stop the process after one frame.
		if sent == 3 {
			fl.quit()
		}
	})
	if err := s.Serve(); err != nil {
		t.Fatal(err)
	}
	if l.accepts != 2 {
		t.Fatal(l.accepts)
	}
	if !c1.closed || !c2.closed {
		t.Fatal("connections must be closed")
	}
	if c1.writes != 3 || c2.writes != 1 {
		t.Fatal(c1.writes, c2.writes)
	}
	if e.starts != 2 || e.stops != 2 {
		t.Fatalf("%+v", e)
	}
	st := s.Metrics.Snapshot()
	if st.ClientsAccepted != 2 || st.FramesSent != 3 || st.ClientConnected {
		t.Fatalf("%+v", st)
	}
	size := overlay.OutputSize(te.ModelM1, &overlay.Config{Mode: overlay.On})
	if c2.n != size.X*size.Y*3 {
		t.Fatal(c2.n)
	}
}

func TestServe_acceptFailure(t *testing.T) {
	fl := &flags{}
	l := &listener{err: errors.New("too many open files")}
	s, e := newServer(l, fl, nil)
	if err := s.Serve(); err == nil {
		t.Fatal("expected error")
	}
	if e.starts != 1 || e.stops != 1 {
		t.Fatalf("%+v", e)
	}
}

func TestServe_shutdownDuringAccept(t *testing.T) {
	fl := &flags{}
	l := &listener{err: net.ErrClosed, before: fl.quit}
	s, e := newServer(l, fl, nil)
	if err := s.Serve(); err != nil {
		t.Fatal(err)
	}
	if e.starts != 1 || e.stops != 1 {
		t.Fatalf("%+v", e)
	}
}

func TestServe_hardFault(t *testing.T) {
	fl := &flags{}
	c := &conn{}
	l := &listener{conns: []*conn{c}, err: errors.New("closed")}
	s, e := newServer(l, fl, nil)
	s.Handle = func(net.Conn) error { return te.ErrHardFault }
	if err := s.Serve(); !errors.Is(err, te.ErrHardFault) {
		t.Fatal(err)
	}
	if !c.closed || e.stops != 1 {
		t.Fatal("cycle not torn down")
	}
}

func TestServe_alreadyStopped(t *testing.T) {
	fl := &flags{}
	fl.quit()
	l := &listener{}
	s, e := newServer(l, fl, nil)
	if err := s.Serve(); err != nil {
		t.Fatal(err)
	}
	if l.accepts != 0 || e.starts != 0 {
		t.Fatal("nothing should run")
	}
}

func TestListen(t *testing.T) {
	if _, err := Listen(0); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Listen(70000); err == nil {
		t.Fatal("expected error")
	}
	// Find a free port.
	tmp, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := tmp.Addr().(*net.TCPAddr).Port
	tmp.Close()

	l, err := Listen(port)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	done := make(chan []byte)
	go func() {
		c, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			done <- nil
			return
		}
		defer c.Close()
		b, _ := io.ReadAll(c)
		done <- b
	}()
	c, err := l.Accept()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write([]byte("bgr")); err != nil {
		t.Fatal(err)
	}
	c.Close()
	if b := <-done; string(b) != "bgr" {
		t.Fatalf("%q", b)
	}
}
