// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"html/template"
	"image"
	"image/png"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/maruel/interrupt"
	"github.com/maruel/serve-dir/loghttp"
	"golang.org/x/net/websocket"

	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/config"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/metrics"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/overlay"
	"github.com/thermalexpert/ThermalExpert-video-streaming-via-LAN-or-WLAN-network-using-Raspberry-Pi/te"
)

// statusServer exposes the daemon state over HTTP. It is only a window on
// the pipeline; the frames themselves go to the encoder.
type statusServer struct {
	model    te.Model
	settings *config.Settings
	metrics  *metrics.Metrics

	mu   sync.Mutex
	img  *image.RGBA // Most recent frame sent.
	when time.Time
}

func newStatusServer(model te.Model, s *config.Settings, m *metrics.Metrics) *statusServer {
	return &statusServer{model: model, settings: s, metrics: m}
}

// AddImg keeps a copy of the frame. It is called from the acquisition loop.
func (s *statusServer) AddImg(r *overlay.Raster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = r.RGBA(s.img)
	s.when = time.Now()
}

// Handler returns the status mux.
//
// The websocket is kept out of loghttp since its response writer is hijacked.
func (s *statusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.root)
	mux.HandleFunc("/still.png", s.still)
	mux.HandleFunc("/favicon.ico", s.still)
	mux.Handle("/metrics", s.metrics.Handler())
	top := http.NewServeMux()
	top.Handle("/stats", websocket.Handler(s.stats))
	top.Handle("/", &loghttp.Handler{Handler: mux})
	return top
}

func (s *statusServer) ListenAndServe(addr string) {
	log.Printf("Status page listening on %s", addr)
	if err := http.ListenAndServe(addr, s.Handler()); err != nil {
		log.Printf("Status server: %v", err)
	}
}

var rootTmpl = template.Must(template.New("name").Parse(`
	<html>
	<head>
		<title>texd</title>
		<script>
		function reload() {
			var still = document.getElementById("still");
			setTimeout(function() { still.src = "/still.png#" + new Date().getTime(); }, 250);
		}
		function stats() {
			var ws = new WebSocket("ws://" + location.host + "/stats");
			ws.onmessage = function(e) {
				document.getElementById("stats").textContent = e.data;
			};
		}
		</script>
	</head>
	<body onload="stats()">
	TE-{{.Model}}, overlay {{.Settings.Overlay.Mode}}, rotation {{.Settings.Overlay.Rotation}}, offset {{.Settings.Overlay.Offset}}°C<br>
	<a href="/still.png"><img id="still" src="/still.png" onload="reload()"></img></a>
	<br>
	Last frame: {{.When}}<br>
	<pre id="stats">{{.Stats}}</pre>
	</body>
	</html>`))

func (s *statusServer) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	when := s.when
	s.mu.Unlock()
	data := struct {
		Model    te.Model
		Settings *config.Settings
		When     time.Time
		Stats    metrics.Stats
	}{s.model, s.settings, when, s.metrics.Snapshot()}
	w.Header().Set("Content-Type", "text/html")
	if err := rootTmpl.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *statusServer) still(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	s.mu.Lock()
	var err error
	if s.img != nil {
		err = png.Encode(&buf, s.img)
	}
	s.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if buf.Len() == 0 {
		http.Error(w, "No frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Write(buf.Bytes())
}

// stats sends the pipeline counters as JSON once per second.
func (s *statusServer) stats(w *websocket.Conn) {
	defer w.Close()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for !interrupt.IsSet() {
		if err := websocket.JSON.Send(w, s.metrics.Snapshot()); err != nil {
			log.Printf("websocket err: %s", err)
			return
		}
		select {
		case <-interrupt.Channel:
			return
		case <-t.C:
		}
	}
}
