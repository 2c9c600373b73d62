// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package overlay turns a raw thermal frame into the annotated BGR24 image
// streamed to the encoder.
//
// The pipeline is: 16 to 8 bits reduction, JET color map, min/max markers,
// rotation, temperature header. Markers are placed in sensor coordinates so
// rotation must happen after them.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/periph/conn/physic"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/te"
)

// Colors used by the annotations.
var (
	MinColor    = color.RGBA{0xFF, 0xFF, 0xFF, 0xFF} // Coldest point marker and label.
	MaxColor    = color.RGBA{0x00, 0x00, 0x00, 0xFF} // Hottest point marker and label.
	HeaderColor = color.RGBA{0x80, 0x80, 0x80, 0xFF}
)

const (
	markerHalfLength = 5
	markerThickness  = 3
)

// Extremum is the coldest or hottest point of a temperature map.
type Extremum struct {
	Pt    image.Point
	Value float32 // °C
}

// Temperature returns Value as a physic.Temperature.
func (e Extremum) Temperature() physic.Temperature {
	return te.ToTemperature(e.Value)
}

// Extrema scans temp once in row major order. On ties the first point
// encountered is kept.
func Extrema(temp []float32, width int) (min, max Extremum) {
	min.Value = math.MaxFloat32
	max.Value = -math.MaxFloat32
	if width <= 0 {
		return
	}
	for i, t := range temp {
		if max.Value < t {
			max.Value = t
			max.Pt = image.Pt(i%width, i/width)
		}
		if min.Value > t {
			min.Value = t
			min.Pt = image.Pt(i%width, i/width)
		}
	}
	return
}

// label is one line of text in the header strip.
type label struct {
	format string
	dot    image.Point // Baseline origin.
	color  color.RGBA
}

// layouts is the header text layout, per model: side by side on the wide
// TE-Q1 strip, stacked on the TE-M1 one.
var layouts = map[te.Model][2]label{
	te.ModelQ1: {
		{format: "max: %.2f'C", dot: image.Pt(10, 15), color: MaxColor},
		{format: "min: %.2f'C", dot: image.Pt(170, 15), color: MinColor},
	},
	te.ModelM1: {
		{format: "%.2f'C max", dot: image.Pt(10, 15), color: MaxColor},
		{format: "%.2f'C min", dot: image.Pt(10, 15*2+4), color: MinColor},
	},
}

// Labels returns the max and min header texts for the model. offset is
// added to both values.
func Labels(m te.Model, min, max Extremum, offset int) (string, string) {
	l := layoutFor(m)
	return fmt.Sprintf(l[0].format, max.Value+float32(offset)), fmt.Sprintf(l[1].format, min.Value+float32(offset))
}

func layoutFor(m te.Model) [2]label {
	if l, ok := layouts[m]; ok {
		return l
	}
	return layouts[te.ModelM1]
}

// Compositor composites frames for one device model and configuration.
//
// It owns its working buffers; the Raster returned by Compose is only valid
// until the next call. It is not safe for concurrent use.
type Compositor struct {
	Model  te.Model
	Config Config

	base   *Raster
	turned *Raster
	out    *Raster
	min    Extremum
	max    Extremum
}

// Compose renders f. f.Temp must be filled unless the mode is Off.
func (c *Compositor) Compose(f *te.Frame) *Raster {
	c.base = colorize(c.base, f.Pix, f.Width, f.Height)
	img := c.base
	if c.Config.Mode == Off {
		return c.rotate(img)
	}
	c.min, c.max = Extrema(f.Temp, f.Width)
	if c.Config.Mode.Markers() {
		drawMarker(img, c.min.Pt, MinColor)
		drawMarker(img, c.max.Pt, MaxColor)
	}
	img = c.rotate(img)
	if c.Config.Mode.Header() {
		img = c.header(img)
	}
	return img
}

// Extrema returns the points found by the last Compose call. They are zero
// in Off mode.
func (c *Compositor) Extrema() (min, max Extremum) {
	return c.min, c.max
}

func (c *Compositor) rotate(img *Raster) *Raster {
	if c.Config.Rotation == None {
		return img
	}
	c.turned = rotate(c.turned, img, c.Config.Rotation)
	return c.turned
}

// header prepends the temperature strip to img.
func (c *Compositor) header(img *Raster) *Raster {
	hh := c.Config.HeaderHeight(c.Model)
	w, h := img.Rect.Dx(), img.Rect.Dy()
	c.out = resize(c.out, image.Rect(0, 0, w, h+hh))
	c.out.fill(image.Rect(0, 0, w, hh), HeaderColor)
	for y := 0; y < h; y++ {
		s := img.PixOffset(0, y)
		copy(c.out.Pix[c.out.PixOffset(0, y+hh):], img.Pix[s:s+3*w])
	}
	maxText, minText := Labels(c.Model, c.min, c.max, c.Config.Offset)
	l := layoutFor(c.Model)
	drawText(c.out, l[0].dot, maxText, l[0].color)
	drawText(c.out, l[1].dot, minText, l[1].color)
	return c.out
}

// drawMarker draws a cross centered on p.
func drawMarker(img *Raster, p image.Point, c color.RGBA) {
	t := markerThickness / 2
	img.fill(image.Rect(p.X-markerHalfLength, p.Y-t, p.X+markerHalfLength+1, p.Y+t+1), c)
	img.fill(image.Rect(p.X-t, p.Y-markerHalfLength, p.X+t+1, p.Y+markerHalfLength+1), c)
}

func drawText(img *Raster, dot image.Point, s string, c color.RGBA) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(dot.X, dot.Y),
	}
	d.DrawString(s)
}
