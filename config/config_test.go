// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/encoder"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/overlay"
)

func base(t *testing.T) map[string]string {
	return map[string]string{
		KeyCalibrationDir: t.TempDir(),
		KeyOverlay:        "on",
		KeyInternalPort:   "5000",
		KeyExternalPort:   "8090",
		KeyEmissivity:     "95",
		KeyRotation:       "0",
		KeyTempOffset:     "0",
	}
}

func TestParse(t *testing.T) {
	v := base(t)
	s, err := Parse(v)
	if err != nil {
		t.Fatal(err)
	}
	if s.Overlay.Mode != overlay.On || s.Overlay.Rotation != overlay.None || s.Overlay.Offset != 0 {
		t.Fatalf("%+v", s)
	}
	if s.InternalPort != 5000 || s.ExternalPort != 8090 {
		t.Fatalf("%+v", s)
	}
	if s.FFmpegPath != encoder.DefaultPath || s.Schedule != nil {
		t.Fatalf("%+v", s)
	}
}

func TestScaleEmissivity(t *testing.T) {
	for _, e := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0, 0.99, 100.5, -5} {
		if v, err := ScaleEmissivity(e); err == nil {
			t.Fatalf("%g: accepted as %g", e, v)
		}
	}
	if v, err := ScaleEmissivity(95); err != nil || v != 9.5 {
		t.Fatalf("%g %v", v, err)
	}
}

func TestParse_emissivity(t *testing.T) {
	data := []struct {
		in   string
		ok   bool
		want float32
	}{
		{"0.5", false, 0},
		{"150", false, 0},
		{"55", true, 5.5},
		{"1", true, 0.1},
		{"100", true, 10},
		{"abc", false, 0},
		{"NaN", false, 0},
		{"-NaN", false, 0},
		{"Inf", false, 0},
	}
	for _, line := range data {
		v := base(t)
		v[KeyEmissivity] = line.in
		s, err := Parse(v)
		if (err == nil) != line.ok {
			t.Fatalf("%s: %v", line.in, err)
		}
		if line.ok && s.Overlay.Emissivity != line.want {
			t.Fatalf("%s: %g", line.in, s.Overlay.Emissivity)
		}
	}
}

func TestParse_rotation(t *testing.T) {
	data := []struct {
		in   string
		ok   bool
		want overlay.Rotation
	}{
		{"0", true, overlay.None},
		{"90", true, overlay.CW90},
		{"180", true, overlay.R180},
		{"270", true, overlay.CCW90},
		{"45", false, 0},
		{"-90", false, 0},
	}
	for _, line := range data {
		v := base(t)
		v[KeyRotation] = line.in
		s, err := Parse(v)
		if (err == nil) != line.ok {
			t.Fatalf("%s: %v", line.in, err)
		}
		if line.ok && s.Overlay.Rotation != line.want {
			t.Fatalf("%s: %s", line.in, s.Overlay.Rotation)
		}
	}
}

func TestParse_invalid(t *testing.T) {
	data := []struct {
		key, value, want string
	}{
		{KeyCalibrationDir, "/nonexistent/texd", "calibration directory path is invalid"},
		{KeyOverlay, "both", "image overlay setting is invalid"},
		{KeyInternalPort, "0", "internal_tcp_port setting is invalid"},
		{KeyInternalPort, "65536", "internal_tcp_port setting is invalid"},
		{KeyExternalPort, "x", "invalid ffmpeg_server_tcp_port"},
		{KeyExternalPort, "5000", "must differ"},
		{KeyTempOffset, "21", "temperature offset out of range"},
		{KeyTempOffset, "-21", "temperature offset out of range"},
		{KeyCalibrationSchedule, "every day", "invalid calibration_schedule"},
		{"emisivity", "95", "unknown setting emisivity"},
	}
	for _, line := range data {
		v := base(t)
		v[line.key] = line.value
		if _, err := Parse(v); err == nil || !strings.Contains(err.Error(), line.want) {
			t.Fatalf("%s=%s: %v", line.key, line.value, err)
		}
	}

	// A file in place of the directory.
	v := base(t)
	f := filepath.Join(v[KeyCalibrationDir], "q1.dat")
	if err := os.WriteFile(f, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	v[KeyCalibrationDir] = f
	if _, err := Parse(v); err == nil {
		t.Fatal("expected error")
	}

	v = base(t)
	delete(v, KeyRotation)
	if _, err := Parse(v); err == nil || !strings.Contains(err.Error(), "missing setting rotation") {
		t.Fatal(err)
	}
}

func TestParse_offsetBounds(t *testing.T) {
	for _, o := range []string{"-20", "20", "7"} {
		v := base(t)
		v[KeyTempOffset] = o
		if _, err := Parse(v); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "etc", "texd.yaml")
	if err := WriteDefault(p); err != nil {
		t.Fatal(err)
	}
	// The default calibration directory doesn't exist in tests.
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	b = bytes.Replace(b, []byte("/var/lib/texd"), []byte(dir), 1)
	b = bytes.Replace(b, []byte(`calibration_schedule: ""`), []byte(`calibration_schedule: "0 */6 * * *"`), 1)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if s.Overlay.Mode != overlay.On || s.Overlay.Emissivity != 9.5 || s.InternalPort != 5000 || s.Schedule == nil {
		t.Fatalf("%+v", s)
	}
	var out bytes.Buffer
	if err := s.Print(&out); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Image overlay mode: on\n", "Emissivity: 95\n", "Rotation: 0\n", "Calibration schedule: 0 */6 * * *\n"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing %q in:\n%s", want, out.String())
		}
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error")
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("rotation: [1, 2]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatal("expected error")
	}
}
