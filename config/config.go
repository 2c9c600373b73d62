// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads and validates the texd configuration file.
//
// The file is a flat YAML mapping of setting name to scalar value. It is read
// once at startup; every value is validated here so nothing downstream has
// to.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/encoder"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/overlay"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/texd/texd.yaml"

// Setting names.
const (
	KeyCalibrationDir      = "calibration_directory_path"
	KeyOverlay             = "image_overlay"
	KeyInternalPort        = "internal_tcp_port"
	KeyExternalPort        = "ffmpeg_server_tcp_port"
	KeyEmissivity          = "emissivity"
	KeyRotation            = "rotation"
	KeyTempOffset          = "temp_offset"
	KeyFFmpegPath          = "ffmpeg_path"
	KeyCalibrationSchedule = "calibration_schedule"
)

var required = []string{
	KeyCalibrationDir, KeyOverlay, KeyInternalPort, KeyExternalPort,
	KeyEmissivity, KeyRotation, KeyTempOffset,
}

var optional = []string{KeyFFmpegPath, KeyCalibrationSchedule}

// Settings is the validated configuration.
type Settings struct {
	CalibrationDir string
	Overlay        overlay.Config
	InternalPort   int
	ExternalPort   int
	// Emissivity is the value as written in the file, 1 to 100.
	// Overlay.Emissivity holds it divided by 10.
	Emissivity float32
	FFmpegPath string
	// CalibrationSchedule is a standard 5 fields cron expression; empty when
	// disabled.
	CalibrationSchedule string
	Schedule            cron.Schedule
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("I/O error while reading configuration file: %w", err)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return Parse(values)
}

// Parse validates the raw settings.
func Parse(values map[string]string) (*Settings, error) {
	known := map[string]bool{}
	for _, k := range append(append([]string{}, required...), optional...) {
		known[k] = true
	}
	var unknown []string
	for k := range values {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) != 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown setting %s", strings.Join(unknown, ", "))
	}
	for _, k := range required {
		if _, ok := values[k]; !ok {
			return nil, fmt.Errorf("missing setting %s", k)
		}
	}

	s := &Settings{
		CalibrationDir:      values[KeyCalibrationDir],
		FFmpegPath:          values[KeyFFmpegPath],
		CalibrationSchedule: strings.TrimSpace(values[KeyCalibrationSchedule]),
	}
	if s.FFmpegPath == "" {
		s.FFmpegPath = encoder.DefaultPath
	}
	if fi, err := os.Stat(s.CalibrationDir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("calibration directory path is invalid: %q", s.CalibrationDir)
	}
	var err error
	if s.Overlay.Mode, err = overlay.ParseMode(values[KeyOverlay]); err != nil {
		return nil, err
	}
	if s.InternalPort, err = parsePort(KeyInternalPort, values[KeyInternalPort]); err != nil {
		return nil, err
	}
	if s.ExternalPort, err = parsePort(KeyExternalPort, values[KeyExternalPort]); err != nil {
		return nil, err
	}
	if s.InternalPort == s.ExternalPort {
		return nil, fmt.Errorf("%s and %s must differ: %d", KeyInternalPort, KeyExternalPort, s.InternalPort)
	}

	e, err := strconv.ParseFloat(strings.TrimSpace(values[KeyEmissivity]), 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyEmissivity, err)
	}
	if s.Overlay.Emissivity, err = ScaleEmissivity(e); err != nil {
		return nil, err
	}
	s.Emissivity = float32(e)

	deg, err := parseInt(KeyRotation, values[KeyRotation])
	if err != nil {
		return nil, err
	}
	if s.Overlay.Rotation, err = overlay.ParseRotation(deg); err != nil {
		return nil, err
	}
	if s.Overlay.Offset, err = parseInt(KeyTempOffset, values[KeyTempOffset]); err != nil {
		return nil, err
	}
	if s.Overlay.Offset < -20 || s.Overlay.Offset > 20 {
		return nil, fmt.Errorf("temperature offset out of range! (must be 20 <-> -20): %d", s.Overlay.Offset)
	}

	if s.CalibrationSchedule != "" {
		if s.Schedule, err = cron.ParseStandard(s.CalibrationSchedule); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", KeyCalibrationSchedule, err)
		}
	}
	return s, nil
}

// ScaleEmissivity validates an emissivity setting of 1 to 100 and returns the
// value the device expects, in (0, 10].
func ScaleEmissivity(e float64) (float32, error) {
	if !(e >= 1 && e <= 100) {
		return 0, fmt.Errorf("emissivity setting is invalid (must be 1.0-100.0): %g", e)
	}
	return float32(e / 10), nil
}

// Print writes the settings in a human readable form.
func (s *Settings) Print(w io.Writer) error {
	schedule := s.CalibrationSchedule
	if schedule == "" {
		schedule = "disabled"
	}
	_, err := fmt.Fprintf(w,
		"Settings from configuration file:\n"+
			"Calibration directory: %s\n"+
			"Image overlay mode: %s\n"+
			"Internal TCP port: %d\n"+
			"FFMPEG server TCP port: %d\n"+
			"Emissivity: %g\n"+
			"Rotation: %d\n"+
			"Temperature offset: %d\n"+
			"FFMPEG path: %s\n"+
			"Calibration schedule: %s\n\n",
		s.CalibrationDir, s.Overlay.Mode, s.InternalPort, s.ExternalPort,
		s.Emissivity, s.Overlay.Rotation.Degrees(), s.Overlay.Offset,
		s.FFmpegPath, schedule)
	return err
}

const defaultConfig = `# texd configuration.

# Directory holding the q1.dat and m1.dat calibration files.
calibration_directory_path: /var/lib/texd

# One of "on", "off", "temperature" or "marker".
image_overlay: "on"

# Port the encoder reads the raw frames from.
internal_tcp_port: 5000

# Port of the ffserver receiving the encoded feed.
ffmpeg_server_tcp_port: 8090

# 1 to 100; 95 means 0.95.
emissivity: 95

# Clockwise, one of 0, 90, 180 or 270.
rotation: 0

# Added to the displayed temperatures, -20 to 20.
temp_offset: 0

# Encoder binary.
ffmpeg_path: /usr/bin/ffmpeg_3.4.7

# Standard cron expression to recalibrate periodically, e.g. "0 */6 * * *".
calibration_schedule: ""
`

// WriteDefault writes a commented default configuration to path.
func WriteDefault(path string) error {
	if path == "" {
		return errors.New("no path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfig), 0o644)
}

func parseInt(key, v string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func parsePort(key, v string) (int, error) {
	p, err := parseInt(key, v)
	if err != nil {
		return 0, err
	}
	if p <= 0 || p > 0xFFFF {
		return 0, fmt.Errorf("%s setting is invalid: %d", key, p)
	}
	return p, nil
}
