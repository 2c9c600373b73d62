// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package overlay

import (
	"image"
	"image/color"
)

// Raster implements draw.Image. It is an 8 bits per channel BGR image, the
// pixel layout ffmpeg expects with -pixel_format bgr24, so that Bytes() can be
// sent as is.
type Raster struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

// NewRaster returns a black Raster.
func NewRaster(r image.Rectangle) *Raster {
	return &Raster{Pix: make([]uint8, 3*r.Dx()*r.Dy()), Stride: 3 * r.Dx(), Rect: r}
}

func (r *Raster) ColorModel() color.Model {
	return color.RGBAModel
}

func (r *Raster) Bounds() image.Rectangle {
	return r.Rect
}

func (r *Raster) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(r.Rect)) {
		return color.RGBA{}
	}
	i := r.PixOffset(x, y)
	return color.RGBA{R: r.Pix[i+2], G: r.Pix[i+1], B: r.Pix[i], A: 0xFF}
}

func (r *Raster) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(r.Rect)) {
		return
	}
	i := r.PixOffset(x, y)
	c1 := color.RGBAModel.Convert(c).(color.RGBA)
	r.Pix[i] = c1.B
	r.Pix[i+1] = c1.G
	r.Pix[i+2] = c1.R
}

// PixOffset returns the index of the B component of (x, y) in Pix.
func (r *Raster) PixOffset(x, y int) int {
	return (y-r.Rect.Min.Y)*r.Stride + (x-r.Rect.Min.X)*3
}

// Bytes returns the pixels in row major, channel interleaved order.
func (r *Raster) Bytes() []byte {
	return r.Pix[:r.Stride*r.Rect.Dy()]
}

// RGBA copies the raster into dst, reallocating it when its bounds differ.
func (r *Raster) RGBA(dst *image.RGBA) *image.RGBA {
	if dst == nil || dst.Rect != r.Rect {
		dst = image.NewRGBA(r.Rect)
	}
	w, h := r.Rect.Dx(), r.Rect.Dy()
	for y := 0; y < h; y++ {
		s := r.Pix[y*r.Stride : y*r.Stride+3*w]
		d := dst.Pix[y*dst.Stride : y*dst.Stride+4*w]
		for x := 0; x < w; x++ {
			d[4*x] = s[3*x+2]
			d[4*x+1] = s[3*x+1]
			d[4*x+2] = s[3*x]
			d[4*x+3] = 0xFF
		}
	}
	return dst
}

// fill paints the intersection of rect and the raster with c.
func (r *Raster) fill(rect image.Rectangle, c color.RGBA) {
	rect = rect.Intersect(r.Rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		i := r.PixOffset(rect.Min.X, y)
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r.Pix[i] = c.B
			r.Pix[i+1] = c.G
			r.Pix[i+2] = c.R
			i += 3
		}
	}
}

// resize reuses r when it already has the requested size.
func resize(r *Raster, rect image.Rectangle) *Raster {
	if r != nil && r.Rect == rect {
		return r
	}
	return NewRaster(rect)
}

// rotate writes src rotated by rot into dst and returns it. dst is
// reallocated when its size doesn't match.
func rotate(dst, src *Raster, rot Rotation) *Raster {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if rot.Swaps() {
		dst = resize(dst, image.Rect(0, 0, h, w))
	} else {
		dst = resize(dst, image.Rect(0, 0, w, h))
	}
	for y := 0; y < h; y++ {
		s := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			var dx, dy int
			switch rot {
			case CW90:
				dx, dy = h-1-y, x
			case R180:
				dx, dy = w-1-x, h-1-y
			case CCW90:
				dx, dy = y, w-1-x
			default:
				dx, dy = x, y
			}
			d := dst.PixOffset(dx, dy)
			copy(dst.Pix[d:d+3], src.Pix[s:s+3])
			s += 3
		}
	}
	return dst
}

// jet is the 256 entries JET palette, blue for cold to red for hot.
var jet = func() (lut [256]color.RGBA) {
	ramp := func(v float64) uint8 {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		return uint8(v*255 + 0.5)
	}
	abs := func(v float64) float64 {
		if v < 0 {
			return -v
		}
		return v
	}
	for i := range lut {
		t := float64(i) / 255
		lut[i] = color.RGBA{
			R: ramp(1.5 - abs(4*t-3)),
			G: ramp(1.5 - abs(4*t-2)),
			B: ramp(1.5 - abs(4*t-1)),
			A: 0xFF,
		}
	}
	return lut
}()

// colorize reduces the 16 bits samples to 8 bits (v/256, rounded) and maps
// them through the JET palette into dst.
func colorize(dst *Raster, pix []uint16, width, height int) *Raster {
	dst = resize(dst, image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		d := dst.PixOffset(0, y)
		for _, v := range pix[y*width : (y+1)*width] {
			i := (int(v) + 128) >> 8
			if i > 255 {
				i = 255
			}
			c := jet[i]
			dst.Pix[d] = c.B
			dst.Pix[d+1] = c.G
			dst.Pix[d+2] = c.R
			d += 3
		}
	}
	return dst
}
