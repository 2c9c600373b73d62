// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// texd-query prints what the daemon would detect: the camera, its geometry
// and the state of its calibration file.
package main

import (
	"flag"
	"fmt"
	"os"

	"periph.io/x/periph/host"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/config"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/control"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/overlay"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/te"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/tetest"
)

func mainImpl() error {
	configPath := flag.String("config", config.DefaultPath, "configuration file")
	fake := flag.Bool("fake", false, "use a fake camera mock, useful when testing without the hardware")
	driver := flag.String("driver", "", "ThermalExpert driver to use")
	calibrate := flag.Bool("calibrate", false, "run a shutter calibration and save it")
	flag.Parse()

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}
	settings, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	var drv te.Driver
	if *fake {
		drv = tetest.NewDriver(te.ModelQ1)
	} else if drv, err = te.Lookup(*driver); err != nil {
		return err
	}
	devs, err := drv.Scan()
	if err != nil {
		return err
	}
	for i, d := range devs {
		fmt.Printf("Device %d:      product %d, serial %s\n", i, d.ProductVersion, d.Serial)
	}
	sess, err := te.Open(drv, &control.Controller{}, nil)
	if err != nil {
		return err
	}
	defer sess.Close()
	m := sess.Model()
	f, err := sess.NewFrame()
	if err != nil {
		return err
	}
	fmt.Printf("Model:         TE-%s\n", m)
	fmt.Printf("Sensor:        %dx%d\n", f.Width, f.Height)
	fmt.Printf("Video size:    %s\n", overlay.VideoSize(m, &settings.Overlay))
	temp, err := sess.Temp()
	if err != nil {
		return err
	}
	fmt.Printf("Temp:          %s\n", temp)
	p := sess.CalibrationPath(settings.CalibrationDir)
	if fi, err := os.Stat(p); err != nil {
		fmt.Printf("Calibration:   %s missing\n", p)
	} else {
		fmt.Printf("Calibration:   %s, %d bytes, %s\n", p, fi.Size(), fi.ModTime().Format("2006-01-02 15:04:05"))
	}
	if *calibrate {
		if p, err = sess.Calibrate(settings.CalibrationDir); err != nil {
			return err
		}
		fmt.Printf("Calibrated:    %s\n", p)
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\ntexd-query: %s.\n", err)
		os.Exit(1)
	}
}
