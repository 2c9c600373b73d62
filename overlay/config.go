// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package overlay

import (
	"fmt"
	"image"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/te"
)

// Mode selects which annotations are drawn.
type Mode int

// Valid values for Mode.
const (
	Off         Mode = iota // Color mapped frame only.
	On                      // Markers and temperature header.
	Temperature             // Temperature header only.
	Marker                  // Min/max markers only.
)

// ParseMode parses the image_overlay setting.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "off":
		return Off, nil
	case "on":
		return On, nil
	case "temperature":
		return Temperature, nil
	case "marker":
		return Marker, nil
	default:
		return Off, fmt.Errorf("image overlay setting is invalid (must be on|off|temperature|marker): %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case Off:
		return "off"
	case On:
		return "on"
	case Temperature:
		return "temperature"
	case Marker:
		return "marker"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Markers reports whether min/max cross markers are drawn.
func (m Mode) Markers() bool {
	return m == On || m == Marker
}

// Header reports whether the temperature header strip is drawn.
func (m Mode) Header() bool {
	return m == On || m == Temperature
}

// Rotation is applied to the frame after the markers are drawn.
type Rotation int

// Valid values for Rotation.
const (
	None Rotation = iota
	CW90
	R180
	CCW90
)

// ParseRotation parses the rotation setting in degrees.
func ParseRotation(degrees int) (Rotation, error) {
	switch degrees {
	case 0:
		return None, nil
	case 90:
		return CW90, nil
	case 180:
		return R180, nil
	case 270:
		return CCW90, nil
	default:
		return None, fmt.Errorf("rotation setting is invalid (must be 0|90|180|270): %d", degrees)
	}
}

// Degrees returns the clockwise rotation in degrees.
func (r Rotation) Degrees() int {
	switch r {
	case CW90:
		return 90
	case R180:
		return 180
	case CCW90:
		return 270
	default:
		return 0
	}
}

func (r Rotation) String() string {
	return fmt.Sprintf("%d°", r.Degrees())
}

// Swaps reports whether the rotation swaps width and height.
func (r Rotation) Swaps() bool {
	return r == CW90 || r == CCW90
}

// Config is the process wide overlay configuration. It is validated once at
// startup and never modified afterward.
type Config struct {
	Mode       Mode
	Emissivity float32 // In (0, 10], already scaled down from the 1-100 setting.
	Rotation   Rotation
	Offset     int // Added to the displayed temperatures, in °C.
}

// headerHeight is the height of the temperature strip on a TE-M1. TE-Q1 uses
// half of it.
const headerHeight = 40

// HeaderHeight returns the number of rows prepended to the frame.
func (c *Config) HeaderHeight(m te.Model) int {
	if !c.Mode.Header() {
		return 0
	}
	if m == te.ModelQ1 {
		return headerHeight / 2
	}
	return headerHeight
}

// OutputSize returns the size of the composited image: the native sensor
// size, rotated, plus the header strip.
func OutputSize(m te.Model, c *Config) image.Point {
	s := m.Size()
	if c.Rotation.Swaps() {
		s.X, s.Y = s.Y, s.X
	}
	s.Y += c.HeaderHeight(m)
	return s
}

// VideoSize is OutputSize formatted as ffmpeg's -video_size argument.
func VideoSize(m te.Model, c *Config) string {
	s := OutputSize(m, c)
	return fmt.Sprintf("%dx%d", s.X, s.Y)
}
