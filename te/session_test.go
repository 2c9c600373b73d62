// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package te_test

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/te"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/tetest"
)

type watchdog struct {
	armed, disarmed int
}

func (w *watchdog) Arm()    { w.armed++ }
func (w *watchdog) Disarm() { w.disarmed++ }

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestOpen(t *testing.T) {
	for _, m := range []te.Model{te.ModelQ1, te.ModelM1} {
		wd := &watchdog{}
		s, err := te.Open(tetest.NewDriver(m), wd, discard())
		if err != nil {
			t.Fatal(err)
		}
		if s.Model() != m {
			t.Fatalf("%s != %s", s.Model(), m)
		}
		if wd.armed != 1 || wd.disarmed != 1 {
			t.Fatalf("watchdog %+v", wd)
		}
		f, err := s.NewFrame()
		if err != nil {
			t.Fatal(err)
		}
		if f.Bounds().Size() != m.Size() {
			t.Fatalf("%s: %v", m, f.Bounds())
		}
	}
}

func TestOpen_fail(t *testing.T) {
	d := tetest.NewDriver(te.ModelQ1)
	d.Missing = true
	if _, err := te.Open(d, &watchdog{}, discard()); !errors.Is(err, te.ErrNoDevice) {
		t.Fatal(err)
	}

	d = tetest.NewDriver(te.ModelQ1)
	d.Product = 42
	if _, err := te.Open(d, &watchdog{}, discard()); !errors.Is(err, te.ErrUnknownProduct) {
		t.Fatal(err)
	}

	d = tetest.NewDriver(te.ModelM1)
	d.Device.FlashErr = errors.New("usb stall")
	wd := &watchdog{}
	if _, err := te.Open(d, wd, discard()); !errors.Is(err, te.ErrFlashData) {
		t.Fatal(err)
	}
	if wd.armed != 1 || wd.disarmed != 0 {
		t.Fatalf("watchdog must stay armed on failure: %+v", wd)
	}
}

func TestModel(t *testing.T) {
	data := []struct {
		product int
		model   te.Model
		file    string
	}{
		{te.ProductQ1, te.ModelQ1, "q1.dat"},
		{te.ProductM1, te.ModelM1, "m1.dat"},
	}
	for _, line := range data {
		m, err := te.ModelFromProduct(line.product)
		if err != nil {
			t.Fatal(err)
		}
		if m != line.model || m.CalibrationFile() != line.file {
			t.Fatalf("%d: %s %s", line.product, m, m.CalibrationFile())
		}
	}
}

func TestAcquire(t *testing.T) {
	dev := tetest.New(te.ModelM1)
	s := te.NewSession(te.ModelM1, dev, discard())
	f, err := s.NewFrame()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Acquire(f, 1, true); err != nil {
		t.Fatal(err)
	}
	if !f.HasTemp {
		t.Fatal("expected temperatures")
	}
	// Polling right away is faster than the sensor.
	if err := s.Acquire(f, 1, true); !errors.Is(err, te.ErrIncomplete) {
		t.Fatal(err)
	}
	if f.HasTemp {
		t.Fatal("stale temperatures")
	}
	if dev.Frames() != 1 {
		t.Fatal(dev.Frames())
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Acquire(f, 1, false); !errors.Is(err, te.ErrHardFault) {
		t.Fatal(err)
	}
}

func TestCalibrate(t *testing.T) {
	dir := t.TempDir()
	dev := tetest.New(te.ModelQ1)
	s := te.NewSession(te.ModelQ1, dev, discard())
	if err := s.LoadCalibration(dir); err == nil {
		t.Fatal("nothing to load yet")
	}
	p, err := s.Calibrate(dir)
	if err != nil {
		t.Fatal(err)
	}
	if p != filepath.Join(dir, "q1.dat") {
		t.Fatal(p)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatal(err)
	}
	if err := s.LoadCalibration(dir); err != nil {
		t.Fatal(err)
	}

	dev.SaveErr = errors.New("read-only")
	if _, err := s.Calibrate(dir); !errors.Is(err, te.ErrSaveFailed) {
		t.Fatal(err)
	}
	dev.CalibrateErr = errors.New("shutter stuck")
	if _, err := s.Calibrate(dir); !errors.Is(err, te.ErrCaptureFailed) {
		t.Fatal(err)
	}
	if dev.Calibrations() != 2 {
		t.Fatal(dev.Calibrations())
	}
}

func TestRegistry(t *testing.T) {
	if _, err := te.Lookup("nope"); err == nil {
		t.Fatal("expected failure")
	}
	d := tetest.NewDriver(te.ModelQ1)
	if err := te.Register("tetest", d); err != nil {
		t.Fatal(err)
	}
	if err := te.Register("tetest", d); err == nil {
		t.Fatal("duplicate registration")
	}
	got, err := te.Lookup("")
	if err != nil {
		t.Fatal(err)
	}
	if got != te.Driver(d) {
		t.Fatal("unexpected driver")
	}
	if n := te.Drivers(); len(n) != 1 || n[0] != "tetest" {
		t.Fatal(n)
	}
}

func TestTemp(t *testing.T) {
	s := te.NewSession(te.ModelM1, tetest.New(te.ModelM1), discard())
	temp, err := s.Temp()
	if err != nil {
		t.Fatal(err)
	}
	if temp != te.ToTemperature(35) {
		t.Fatal(temp)
	}
	s.Close()
	if _, err := s.Temp(); !errors.Is(err, te.ErrHardFault) {
		t.Fatal(err)
	}
}
