// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/net/websocket"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/config"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/metrics"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/overlay"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/te"
)

func newTestStatus() *statusServer {
	s := &config.Settings{Overlay: overlay.Config{Mode: overlay.Temperature, Emissivity: 9.5, Rotation: overlay.CW90}}
	return newStatusServer(te.ModelM1, s, metrics.New())
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func TestStatus_still(t *testing.T) {
	s := newTestStatus()
	h := s.Handler()
	if w := get(t, h, "/still.png"); w.Code != http.StatusServiceUnavailable {
		t.Fatal(w.Code)
	}
	s.AddImg(overlay.NewRaster(image.Rect(0, 0, 180, 280)))
	w := get(t, h, "/still.png")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatal(w.Code)
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Size() != image.Pt(180, 280) {
		t.Fatal(img.Bounds())
	}
}

func TestStatus_root(t *testing.T) {
	h := newTestStatus().Handler()
	w := get(t, h, "/")
	if w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}
	if b := w.Body.String(); !strings.Contains(b, "TE-M1, overlay temperature, rotation 90°") {
		t.Fatal(b)
	}
	if w := get(t, h, "/nope"); w.Code != http.StatusNotFound {
		t.Fatal(w.Code)
	}
	if w := get(t, h, "/metrics"); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "texd_frames_sent_total") {
		t.Fatal(w.Code)
	}
}

func TestStatus_stats(t *testing.T) {
	s := newTestStatus()
	s.metrics.Pulled(true)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	ws, err := websocket.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/stats", "", ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	var got metrics.Stats
	if err := websocket.JSON.Receive(ws, &got); err != nil {
		t.Fatal(err)
	}
	if got.FramesPulled != 1 {
		t.Fatalf("%+v", got)
	}
}
