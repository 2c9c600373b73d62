// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package te exposes a ThermalExpert USB thermal camera as used by texd.
//
// The vendor SDK (i3system_TE) does the actual work: USB transfer, flash data
// parsing, shutter calibration and the emissivity aware conversion from raw
// sensor counts to temperatures. This package describes that capability as a
// Go interface so the SDK binding can be swapped for a fake, and owns the
// sequencing needed to bring a device up: scan, open, read flash data under a
// watchdog, load the calibration file.
//
// Supported models:
//
//   - TE-Q1: 384x288, ~9Hz.
//   - TE-M1: 240x180, ~9Hz.
package te

import (
	"errors"
	"fmt"
	"image"
	"io"

	"periph.io/x/periph/conn/physic"
)

// Model is the camera family detected at scan time.
type Model int

// Valid values for Model.
const (
	ModelUnknown Model = iota
	ModelQ1
	ModelM1
)

// Product versions as reported in ScanData.ProductVersion.
const (
	ProductQ1 = 0
	ProductM1 = 1
)

func (m Model) String() string {
	switch m {
	case ModelQ1:
		return "Q1"
	case ModelM1:
		return "M1"
	default:
		return fmt.Sprintf("Model(%d)", int(m))
	}
}

// Size returns the native sensor resolution.
func (m Model) Size() image.Point {
	switch m {
	case ModelQ1:
		return image.Pt(384, 288)
	case ModelM1:
		return image.Pt(240, 180)
	default:
		return image.Point{}
	}
}

// CalibrationFile is the name of the persisted calibration blob for this
// model, relative to the calibration directory.
func (m Model) CalibrationFile() string {
	switch m {
	case ModelQ1:
		return "q1.dat"
	case ModelM1:
		return "m1.dat"
	default:
		return ""
	}
}

// ModelFromProduct maps a scanned product version to a Model.
func ModelFromProduct(version int) (Model, error) {
	switch version {
	case ProductQ1:
		return ModelQ1, nil
	case ProductM1:
		return ModelM1, nil
	default:
		return ModelUnknown, fmt.Errorf("%w: %d", ErrUnknownProduct, version)
	}
}

// ScanData is one entry returned by Driver.Scan.
type ScanData struct {
	ProductVersion int
	Serial         string
}

// USBState is reported through the hotplug callback.
type USBState int

// Valid values for USBState.
const (
	Arrival USBState = 1
	Removal USBState = 2
)

func (u USBState) String() string {
	switch u {
	case Arrival:
		return "arrival"
	case Removal:
		return "removal"
	default:
		return fmt.Sprintf("USBState(%d)", int(u))
	}
}

// Errors returned by drivers and by Session.
var (
	ErrNoDevice       = errors.New("cannot find device")
	ErrUnknownProduct = errors.New("unknown product number")
	ErrFlashData      = errors.New("cannot read flash data")
	ErrHardFault      = errors.New("hard fault: device handle is gone")
	ErrCaptureFailed  = errors.New("failed to calibrate")
	ErrSaveFailed     = errors.New("saving calibration data failed")
	// ErrIncomplete is returned by Device.RecvImage when the sensor did not
	// deliver a whole frame. The hardware is limited to ~9Hz, polling faster
	// returns this; it is not an error condition.
	ErrIncomplete = errors.New("received image incomplete")
)

// Device is an opened ThermalExpert camera. This interface can be mocked.
//
// Implementations are not expected to be safe for concurrent use; Session
// serializes all calls.
type Device interface {
	io.Closer

	// ReadFlashData loads the factory data. It can be slow and hang if the
	// device is unresponsive.
	ReadFlashData() error
	// LoadCalibration loads a previously saved calibration blob.
	LoadCalibration(path string) error
	// SaveCalibration persists the current calibration blob.
	SaveCalibration(path string) error
	// ShutterCalibrationOn runs a shutter calibration.
	ShutterCalibrationOn() error
	// SetEmissivity sets the emissivity used by CalcEntireTemp, in (0, 10].
	SetEmissivity(e float32)
	// CalcEntireTemp converts the last received image into °C, one value per
	// pixel.
	CalcEntireTemp(dst []float32) error
	// RecvImage receives one raw frame; it returns ErrIncomplete on partial
	// frames.
	RecvImage(dst []uint16) error
	// Temp returns the sensor temperature.
	Temp() (physic.Temperature, error)
	Width() int
	Height() int
}

// Driver finds and opens devices. This interface can be mocked.
type Driver interface {
	Scan() ([]ScanData, error)
	Open(model Model, index int) (Device, error)
	// SetHotplugCallback registers f to be called asynchronously on USB
	// arrival and removal.
	SetHotplugCallback(f func(USBState))
}

// Frame is one acquisition cycle worth of data: the raw 16 bits sensor
// samples and the temperature map computed from it.
//
// Buffers are sized once from the device geometry and reused every cycle.
type Frame struct {
	Width  int
	Height int
	Pix    []uint16  // Raw intensity, row major.
	Temp   []float32 // Temperature in °C, row major; only valid when HasTemp is true.
	// HasTemp is set by Session.Acquire when Temp was filled for the current
	// Pix.
	HasTemp bool
}

// NewFrame allocates a Frame of the given size.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]uint16, width*height),
		Temp:   make([]float32, width*height),
	}
}

// Bounds returns the frame rectangle.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// ToTemperature converts a °C value as returned by CalcEntireTemp.
func ToTemperature(c float32) physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(float64(c)*float64(physic.Celsius))
}
