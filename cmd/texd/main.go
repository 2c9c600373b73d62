// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// texd streams a ThermalExpert thermal camera to an ffserver feed.
//
// Frames are color mapped and annotated, then served raw on the internal TCP
// port to an ffmpeg process that it supervises.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"

	"github.com/maruel/interrupt"
	"github.com/robfig/cron/v3"
	"periph.io/x/periph/host"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/acquire"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/config"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/control"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/encoder"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/metrics"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/overlay"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/stream"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/te"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/tetest"
)

const version = "1.2.0"

// openDriver returns the fake driver or a registered one.
func openDriver(fake bool, fakeModel, name string) (te.Driver, error) {
	if !fake {
		return te.Lookup(name)
	}
	switch strings.ToLower(fakeModel) {
	case "q1":
		return tetest.NewDriver(te.ModelQ1), nil
	case "m1":
		return tetest.NewDriver(te.ModelM1), nil
	default:
		return nil, fmt.Errorf("unknown model %q; use q1 or m1", fakeModel)
	}
}

func mainImpl() error {
	configPath := flag.String("config", config.DefaultPath, "configuration file")
	writeConfig := flag.Bool("write-config", false, "write a default config file and exit")
	fake := flag.Bool("fake", false, "use a fake camera mock, useful when testing without the hardware")
	fakeModel := flag.String("fake-model", "q1", "model simulated by -fake: q1 or m1")
	driver := flag.String("driver", "", "ThermalExpert driver to use; one of: "+strings.Join(te.Drivers(), ", "))
	httpAddr := flag.String("http", "", "serve a status page on this address, e.g. :8010")
	restart := flag.Bool("restart-on-update", false, "stop when the executable is updated, for use under a supervisor")
	verbose := flag.Bool("v", false, "log every frame")
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}
	fmt.Printf("texd %s\n", version)
	if *writeConfig {
		return config.WriteDefault(*configPath)
	}
	settings, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := settings.Print(os.Stdout); err != nil {
		return err
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	drv, err := openDriver(*fake, *fakeModel, *driver)
	if err != nil {
		return err
	}

	o := &options{
		settings:   settings,
		drv:        drv,
		httpAddr:   *httpAddr,
		restart:    *restart,
		verbose:    *verbose,
		onShutdown: interrupt.Set,
	}
	return run(o)
}

// options is what run needs once the command line and the configuration
// file are parsed.
type options struct {
	settings *config.Settings
	drv      te.Driver
	httpAddr string
	restart  bool
	verbose  bool

	onShutdown func()           // Called once the process starts stopping.
	signals    <-chan os.Signal // Subscribes to control.Signals when nil.
	exit       func(code int)   // Defaults to os.Exit.
}

// run brings the device up and streams until shut down.
func run(o *options) error {
	settings := o.settings
	drv := o.drv
	m := metrics.New()
	enc := &encoder.Supervisor{Path: settings.FFmpegPath, Metrics: m}
	ctl := &control.Controller{Encoder: enc, Metrics: m, Exit: o.exit}
	var sess *te.Session
	var err error
	// Only called from the calibration worker and the acquisition loop, both
	// started once sess is set.
	ctl.Calibrator = control.CalibratorFunc(func() (string, error) {
		return sess.Calibrate(settings.CalibrationDir)
	})
	if o.onShutdown != nil {
		ctl.OnShutdown(o.onShutdown)
	}
	signals := o.signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, control.Signals...)
		defer signal.Stop(ch)
		signals = ch
	}
	go ctl.Watch(signals)
	drv.SetHotplugCallback(func(s te.USBState) {
		if s == te.Removal {
			ctl.Unplugged()
		}
	})

	if sess, err = te.Open(drv, ctl, nil); err != nil {
		return err
	}
	defer sess.Close()
	model := sess.Model()

	ln, err := stream.Listen(settings.InternalPort)
	if err != nil {
		return err
	}
	ctl.OnShutdown(func() { ln.Close() })
	defer ln.Close()

	if err := sess.LoadCalibration(settings.CalibrationDir); err != nil {
		log.Printf("Failed loading calibration data! (%s)", sess.CalibrationPath(settings.CalibrationDir))
	} else {
		log.Printf("Successfully loaded calibration data from file (%s)", sess.CalibrationPath(settings.CalibrationDir))
	}

	enc.Args = encoder.Args(overlay.VideoSize(model, &settings.Overlay), settings.InternalPort, settings.ExternalPort)
	loop := &acquire.Loop{
		Session:    sess,
		Compositor: &overlay.Compositor{Model: model, Config: settings.Overlay},
		Flags:      ctl,
		Metrics:    m,
		Verbose:    o.verbose,
	}
	if o.httpAddr != "" {
		status := newStatusServer(model, settings, m)
		loop.Tap = status.AddImg
		go status.ListenAndServe(o.httpAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctl.ServeCalibrations(ctx)
	if settings.Schedule != nil {
		c := cron.New()
		c.Schedule(settings.Schedule, cron.FuncJob(func() {
			log.Printf("Scheduled calibration")
			ctl.RequestCalibration()
		}))
		c.Start()
		defer c.Stop()
	}
	if o.restart {
		go func() {
			updated, err := watchExecutable()
			if err != nil {
				log.Printf("Watching executable: %v", err)
			}
			if updated {
				ctl.Shutdown("executable update")
			}
		}()
	}

	srv := &stream.Server{
		Listener: ln,
		Encoder:  enc,
		Flags:    ctl,
		Handle:   func(conn net.Conn) error { return loop.Run(conn) },
		Metrics:  m,
	}
	err = srv.Serve()
	if stopErr := enc.Stop(); stopErr != nil {
		log.Printf("Stopping encoder: %v", stopErr)
	}
	if err != nil {
		return err
	}
	if ctl.ExitCode() != 0 {
		return errors.New("device detached")
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\ntexd: %s.\n", err)
		os.Exit(1)
	}
}
