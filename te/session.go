// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package te

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"periph.io/x/periph/conn/physic"
)

// Watchdog guards ReadFlashData. Arm is called right before the read and
// Disarm right after it succeeded.
type Watchdog interface {
	Arm()
	Disarm()
}

// Session is an initialized device: scanned, opened and with its flash data
// read.
//
// All device calls go through Session so that frame pulls and calibration
// captures never overlap.
type Session struct {
	model  Model
	logger *log.Logger

	mu  sync.Mutex
	dev Device
}

// Open scans for the first device, opens it and reads its flash data with
// the watchdog armed.
//
// logger may be nil.
func Open(drv Driver, wd Watchdog, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.Default()
	}
	devs, err := drv.Scan()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if len(devs) == 0 {
		return nil, ErrNoDevice
	}
	model, err := ModelFromProduct(devs[0].ProductVersion)
	if err != nil {
		return nil, err
	}
	dev, err := drv.Open(model, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open device: %w", err)
	}
	if dev == nil {
		return nil, errors.New("could not open device")
	}
	logger.Printf("Found model %s.", model)

	logger.Printf("Initializing...")
	wd.Arm()
	if err := dev.ReadFlashData(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("%w: %v", ErrFlashData, err)
	}
	wd.Disarm()
	logger.Printf("Initialized!")
	return &Session{model: model, logger: logger, dev: dev}, nil
}

// NewSession wraps an already initialized device.
func NewSession(model Model, dev Device, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	return &Session{model: model, logger: logger, dev: dev}
}

// Model returns the detected camera model.
func (s *Session) Model() Model {
	return s.model
}

// NewFrame returns a Frame sized for the device.
func (s *Session) NewFrame() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil, ErrHardFault
	}
	return NewFrame(s.dev.Width(), s.dev.Height()), nil
}

// CalibrationPath returns the model specific calibration file in dir.
func (s *Session) CalibrationPath(dir string) string {
	return filepath.Join(dir, s.model.CalibrationFile())
}

// LoadCalibration loads the persisted calibration for the model from dir.
func (s *Session) LoadCalibration(dir string) error {
	p := s.CalibrationPath(dir)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return ErrHardFault
	}
	if err := s.dev.LoadCalibration(p); err != nil {
		return fmt.Errorf("failed loading calibration data (%s): %w", p, err)
	}
	return nil
}

// Calibrate runs a shutter calibration and persists it into dir.
//
// The returned error wraps ErrCaptureFailed or ErrSaveFailed.
func (s *Session) Calibrate(dir string) (string, error) {
	p := s.CalibrationPath(dir)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return p, ErrHardFault
	}
	if err := s.dev.ShutterCalibrationOn(); err != nil {
		return p, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	if err := s.dev.SaveCalibration(p); err != nil {
		return p, fmt.Errorf("%w: %s: %v", ErrSaveFailed, p, err)
	}
	return p, nil
}

// Acquire pulls one frame into f. When withTemp is set, the temperature map
// is computed with the given emissivity right after the pull.
//
// Returns ErrIncomplete when the sensor did not deliver and ErrHardFault when
// the device handle is gone.
func (s *Session) Acquire(f *Frame, emissivity float32, withTemp bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.HasTemp = false
	if s.dev == nil {
		return ErrHardFault
	}
	if err := s.dev.RecvImage(f.Pix); err != nil {
		return err
	}
	if withTemp {
		s.dev.SetEmissivity(emissivity)
		if err := s.dev.CalcEntireTemp(f.Temp); err != nil {
			return err
		}
		f.HasTemp = true
	}
	return nil
}

// Temp returns the sensor temperature.
func (s *Session) Temp() (physic.Temperature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return 0, ErrHardFault
	}
	return s.dev.Temp()
}

// Close closes the device. Any further call returns ErrHardFault.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	s.dev = nil
	return err
}
