// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package encoder supervises the ffmpeg process republishing the raw frames
// to the ffserver feed.
//
// The process connects back to the stream server as its only client; it is
// started once per accept cycle and never restarted on crash.
package encoder

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/metrics"
)

// Defaults matching the deployed ffmpeg/ffserver pair.
const (
	DefaultPath   = "/usr/bin/ffmpeg_3.4.7"
	DefaultArgv0  = "ffmpegstreamer"
	DefaultWarmUp = 5 * time.Second
	// FeedPath is the ffserver feed resource the stream is published to.
	FeedPath = "/camera.ffm"
)

// Args returns the ffmpeg arguments reading raw BGR24 frames of videoSize
// ("WxH") from the loopback stream server and publishing them to the local
// ffserver.
func Args(videoSize string, internalPort, externalPort int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-re",
		"-f", "rawvideo",
		"-pixel_format", "bgr24",
		"-framerate", "24",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-video_size", videoSize,
		"-i", fmt.Sprintf("tcp://127.0.0.1:%d", internalPort),
		"-vcodec", "copy",
		"-f", "ffm",
		fmt.Sprintf("http://127.0.0.1:%d%s", externalPort, FeedPath),
	}
}

// Supervisor starts and stops at most one encoder process.
type Supervisor struct {
	Path   string        // Defaults to DefaultPath; looked up in $PATH when relative.
	Argv0  string        // Defaults to DefaultArgv0.
	Args   []string      // See Args().
	WarmUp time.Duration // Delay before exec, so the server is listening; defaults to DefaultWarmUp.
	// Launch starts cmd; defaults to (*exec.Cmd).Start.
	Launch  func(cmd *exec.Cmd) error
	Metrics *metrics.Metrics
	Logger  *log.Logger

	mu sync.Mutex
	h  *handle
}

// handle is one recorded encoder, from Start to Stop.
type handle struct {
	cancel chan struct{} // Closed by Stop.
	done   chan struct{} // Closed when the launch goroutine returned.
	cmd    *exec.Cmd     // Set once launched.
}

// Start records a new encoder and launches it after the warm-up delay. It is
// a no-op if one is already recorded.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h != nil {
		pid := 0
		if s.h.cmd != nil {
			pid = s.h.cmd.Process.Pid
		}
		s.logger().Printf("Encoder already started %d", pid)
		return nil
	}
	h := &handle{cancel: make(chan struct{}), done: make(chan struct{})}
	s.h = h
	s.Metrics.Encoder(true)
	go s.run(h)
	return nil
}

// Stop terminates the recorded encoder, if any, and forgets it. A launch
// still in its warm-up is cancelled.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	h := s.h
	s.h = nil
	var err error
	if h != nil {
		close(h.cancel)
		if h.cmd != nil {
			if err = h.cmd.Process.Signal(syscall.SIGTERM); errors.Is(err, os.ErrProcessDone) {
				err = nil
			}
		}
	}
	s.mu.Unlock()
	if h != nil {
		s.Metrics.Encoder(false)
	}
	return err
}

// IsRunning reports whether an encoder is recorded, launched or not.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h != nil
}

// PID returns the recorded encoder process id, 0 if none was launched.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h == nil || s.h.cmd == nil {
		return 0
	}
	return s.h.cmd.Process.Pid
}

func (s *Supervisor) run(h *handle) {
	defer close(h.done)
	warmUp := s.WarmUp
	if warmUp <= 0 {
		warmUp = DefaultWarmUp
	}
	s.logger().Printf("Encoder: waiting %s for server to start...", warmUp)
	t := time.NewTimer(warmUp)
	select {
	case <-h.cancel:
		t.Stop()
		return
	case <-t.C:
	}

	cmd, err := s.command()
	if err != nil {
		s.logger().Printf("Encoder: STARTING FFMPEG FAILED (NOT INSTALLED?)! %v", err)
		return
	}
	s.mu.Lock()
	select {
	case <-h.cancel:
		s.mu.Unlock()
		return
	default:
	}
	launch := s.Launch
	if launch == nil {
		launch = (*exec.Cmd).Start
	}
	if err := launch(cmd); err != nil {
		s.mu.Unlock()
		s.logger().Printf("Encoder: STARTING FFMPEG FAILED (NOT INSTALLED?)! %v", err)
		return
	}
	h.cmd = cmd
	s.mu.Unlock()
	s.Metrics.Launched()
	s.logger().Printf("Encoder: started %d", cmd.Process.Pid)

	err = cmd.Wait()
	select {
	case <-h.cancel:
	default:
		// Not restarted; the cycle ends when the client goes away.
		s.logger().Printf("Encoder: exited: %v", err)
	}
}

func (s *Supervisor) command() (*exec.Cmd, error) {
	p := s.Path
	if p == "" {
		p = DefaultPath
	}
	p, err := exec.LookPath(p)
	if err != nil {
		return nil, err
	}
	argv0 := s.Argv0
	if argv0 == "" {
		argv0 = DefaultArgv0
	}
	return &exec.Cmd{
		Path:        p,
		Args:        append([]string{argv0}, s.Args...),
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		SysProcAttr: sysProcAttr(),
	}, nil
}

func (s *Supervisor) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}
