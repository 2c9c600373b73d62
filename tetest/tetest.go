// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tetest implements a fake ThermalExpert driver and device.
package tetest

import (
	"errors"
	"image"
	"math/rand"
	"os"
	"sync"
	"time"

	"periph.io/x/periph/conn/physic"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/te"
)

// NativeRate is the rate at which the real hardware delivers frames.
const NativeRate = 9 * physic.Hertz

// Driver is a fake te.Driver exposing a single Device.
type Driver struct {
	Product int     // Reported by Scan.
	Device  *Device // Returned by Open; created on demand if nil.
	ScanErr error   // Returned by Scan when set.
	Missing bool    // Scan finds nothing.
	OpenErr error   // Returned by Open when set.

	mu      sync.Mutex
	hotplug func(te.USBState)
}

// NewDriver returns a fake driver for the model.
func NewDriver(model te.Model) *Driver {
	p := te.ProductQ1
	if model == te.ModelM1 {
		p = te.ProductM1
	}
	return &Driver{Product: p, Device: New(model)}
}

func (d *Driver) Scan() ([]te.ScanData, error) {
	if d.ScanErr != nil {
		return nil, d.ScanErr
	}
	if d.Missing {
		return nil, nil
	}
	return []te.ScanData{{ProductVersion: d.Product, Serial: "FAKE0001"}}, nil
}

func (d *Driver) Open(model te.Model, index int) (te.Device, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if index != 0 {
		return nil, errors.New("tetest: no such device")
	}
	if d.Device == nil {
		d.Device = New(model)
	}
	return d.Device, nil
}

func (d *Driver) SetHotplugCallback(f func(te.USBState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hotplug = f
}

// Unplug simulates the device being detached.
func (d *Driver) Unplug() {
	d.mu.Lock()
	f := d.hotplug
	d.mu.Unlock()
	if f != nil {
		f(te.Removal)
	}
}

// Device is a fake te.Device.
//
// It renders drifting hot and cold spots and enforces the native frame rate:
// polling faster than NativeRate returns te.ErrIncomplete, like the real
// sensor.
type Device struct {
	// Set before use.
	Size         image.Point
	FlashDelay   time.Duration // ReadFlashData blocks this long.
	FlashErr     error
	CalibrateErr error
	SaveErr      error
	NoRateLimit  bool // Deliver a frame on every RecvImage.

	mu         sync.Mutex
	noise      *noise
	emissivity float32
	last       []uint16
	lastTime   time.Time
	frames     int
	calibrated int
	saved      []string
	loaded     []string
	closed     bool
}

// New returns a fake device with the native resolution of model.
func New(model te.Model) *Device {
	return &Device{Size: model.Size(), emissivity: 1}
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Device) ReadFlashData() error {
	time.Sleep(d.FlashDelay)
	return d.FlashErr
}

func (d *Device) LoadCalibration(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaded = append(d.loaded, path)
	return nil
}

func (d *Device) SaveCalibration(path string) error {
	if d.SaveErr != nil {
		return d.SaveErr
	}
	if err := os.WriteFile(path, []byte("tetest calibration\n"), 0o644); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saved = append(d.saved, path)
	return nil
}

func (d *Device) ShutterCalibrationOn() error {
	if d.CalibrateErr != nil {
		return d.CalibrateErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calibrated++
	return nil
}

func (d *Device) SetEmissivity(e float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emissivity = e
}

// CalcEntireTemp maps the last frame linearly around 25°C; a lower
// emissivity reads hotter.
func (d *Device) CalcEntireTemp(dst []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.last) == 0 {
		return errors.New("tetest: no image received yet")
	}
	e := d.emissivity
	if e <= 0 {
		e = 1
	}
	for i, v := range d.last {
		dst[i] = 25 + (float32(v)-32768)/1024/e
	}
	return nil
}

func (d *Device) RecvImage(dst []uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if !d.NoRateLimit && !d.lastTime.IsZero() && now.Sub(d.lastTime) < period(NativeRate) {
		return te.ErrIncomplete
	}
	if d.noise == nil {
		d.noise = makeNoise(d.Size.X, d.Size.Y)
	}
	if len(d.last) != d.Size.X*d.Size.Y {
		d.last = make([]uint16, d.Size.X*d.Size.Y)
	}
	d.noise.update()
	d.noise.render(d.last, d.Size.X, d.Size.Y)
	copy(dst, d.last)
	d.lastTime = now
	d.frames++
	return nil
}

func (d *Device) Temp() (physic.Temperature, error) {
	return 35*physic.Celsius + physic.ZeroCelsius, nil
}

func (d *Device) Width() int {
	return d.Size.X
}

func (d *Device) Height() int {
	return d.Size.Y
}

// Frames returns the number of complete frames delivered.
func (d *Device) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Calibrations returns the number of shutter calibrations run.
func (d *Device) Calibrations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calibrated
}

// Saved returns the paths passed to successful SaveCalibration calls.
func (d *Device) Saved() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.saved...)
}

// Loaded returns the paths passed to successful LoadCalibration calls.
func (d *Device) Loaded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.loaded...)
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func period(f physic.Frequency) time.Duration {
	return time.Duration(int64(time.Second) * int64(physic.Hertz) / int64(f))
}

//

type vector struct {
	intensity float64
	x         float64
	y         float64
}

// noise is cheezy but gets us going for testing without a device.
type noise struct {
	rand    *rand.Rand
	vectors []vector
}

func makeNoise(w, h int) *noise {
	n := &noise{rand: rand.New(rand.NewSource(0))}
	n.vectors = make([]vector, 10)
	for i := range n.vectors {
		n.vectors[i].intensity = n.rand.NormFloat64() * 2000 * float64(w)
		n.vectors[i].x = n.rand.NormFloat64()*float64(w)/6 + float64(w)/2
		n.vectors[i].y = n.rand.NormFloat64()*float64(h)/6 + float64(h)/2
	}
	return n
}

func (n *noise) update() {
	for i := range n.vectors {
		n.vectors[i].intensity += n.rand.NormFloat64() * 100
		n.vectors[i].x += n.rand.NormFloat64() * 0.5
		n.vectors[i].y += n.rand.NormFloat64() * 0.5
	}
}

func (n *noise) render(dst []uint16, w, h int) {
	const dynamicRange = 24576
	for y := 0; y < h; y++ {
		fy := float64(y)
		for x := 0; x < w; x++ {
			fx := float64(x)
			value := float64(32768)
			for _, vect := range n.vectors {
				distance := (vect.x-fx)*(vect.x-fx) + (vect.y-fy)*(vect.y-fy) + 1
				value += vect.intensity / distance
			}
			if value >= float64(32768+dynamicRange) {
				value = float64(32768 + dynamicRange)
			}
			if value < float64(32768-dynamicRange) {
				value = float64(32768 - dynamicRange)
			}
			dst[y*w+x] = uint16(value)
		}
	}
}
