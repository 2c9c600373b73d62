// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// texd-grab captures a single composited image.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log"
	"os"
	"time"

	"periph.io/x/periph/host"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/acquire"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/config"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/control"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/overlay"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/te"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/tetest"
)

func mainImpl() error {
	fake := flag.Bool("fake", false, "use a fake camera mock, useful when testing without the hardware")
	fakeM1 := flag.Bool("m1", false, "simulate a TE-M1 instead of a TE-Q1 with -fake")
	driver := flag.String("driver", "", "ThermalExpert driver to use")
	mode := flag.String("overlay", "on", "on, off, temperature or marker")
	rotation := flag.Int("rotation", 0, "clockwise rotation: 0, 90, 180 or 270")
	emissivity := flag.Float64("emissivity", 95, "emissivity, 1 to 100")
	offset := flag.Int("offset", 0, "added to the displayed temperatures, in °C")
	calib := flag.String("calibration", "", "directory to load the calibration file from")
	timeout := flag.Duration("timeout", 5*time.Second, "give up if no complete frame is received in time")
	meta := flag.Bool("meta", false, "print metadata")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()
	if !*verbose {
		log.SetOutput(io.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	if flag.NArg() != 1 {
		return errors.New("supply path to PNG to save")
	}
	cfg := overlay.Config{Offset: *offset}
	var err error
	if cfg.Mode, err = overlay.ParseMode(*mode); err != nil {
		return err
	}
	if cfg.Rotation, err = overlay.ParseRotation(*rotation); err != nil {
		return err
	}
	if cfg.Emissivity, err = config.ScaleEmissivity(*emissivity); err != nil {
		return err
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	var drv te.Driver
	if *fake {
		m := te.ModelQ1
		if *fakeM1 {
			m = te.ModelM1
		}
		drv = tetest.NewDriver(m)
	} else if drv, err = te.Lookup(*driver); err != nil {
		return err
	}
	ctl := &control.Controller{}
	sess, err := te.Open(drv, ctl, nil)
	if err != nil {
		return err
	}
	defer sess.Close()
	if *calib != "" {
		if err := sess.LoadCalibration(*calib); err != nil {
			return err
		}
	}

	f, err := sess.NewFrame()
	if err != nil {
		return err
	}
	withTemp := cfg.Mode != overlay.Off || *meta
	for start := time.Now(); ; time.Sleep(acquire.DefaultInterval) {
		err = sess.Acquire(f, cfg.Emissivity, withTemp)
		if err == nil {
			break
		}
		if !errors.Is(err, te.ErrIncomplete) {
			return err
		}
		if time.Since(start) > *timeout {
			return fmt.Errorf("no complete frame in %s", *timeout)
		}
	}
	c := &overlay.Compositor{Model: sess.Model(), Config: cfg}
	img := c.Compose(f)
	if *meta {
		min, max := overlay.Extrema(f.Temp, f.Width)
		fmt.Printf("Model:  TE-%s\n", sess.Model())
		fmt.Printf("Size:   %s\n", overlay.VideoSize(sess.Model(), &cfg))
		fmt.Printf("Min:    %.2f°C at %v\n", min.Value+float32(cfg.Offset), min.Pt)
		fmt.Printf("Max:    %.2f°C at %v\n", max.Value+float32(cfg.Offset), max.Pt)
		if t, err := sess.Temp(); err == nil {
			fmt.Printf("Sensor: %s\n", t)
		}
	}
	out, err := os.Create(flag.Args()[0])
	if err != nil {
		return err
	}
	defer out.Close()
	return png.Encode(out, img.RGBA(nil))
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\ntexd-grab: %s.\n", err)
		os.Exit(1)
	}
}
