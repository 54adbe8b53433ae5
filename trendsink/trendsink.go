// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package trendsink keeps a bounded history of sensor readings and serves
// it as a chart over HTTP.
//
// The primary use case is glancing at what a sensor node saw over the last
// hours without standing up a time series database: point a browser at the
// node and get a PNG. The chart plots temperature against its own scale on
// the left axis and relative humidity against 0-100% on the right. Clients
// can narrow the time span with the "window" URL parameter and request JPEG
// instead of PNG with the "format" parameter.
package trendsink

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"mime"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/terrence2/OpenHouse/dhtxx"
)

// ImageFormat selects the encoding of the served chart.
type ImageFormat int

const (
	PNG ImageFormat = iota
	JPEG

	// DefaultFormat is the format used when not set explicitly in options
	// or as a URL parameter.
	DefaultFormat = PNG
)

func (f ImageFormat) String() string {
	switch f {
	case PNG:
		return "PNG"
	case JPEG:
		return "JPEG"
	default:
		return fmt.Sprint(int(f))
	}
}

func (f ImageFormat) mimeType() string {
	switch f {
	case PNG:
		return "image/png"
	case JPEG:
		return "image/jpeg"
	}
	return "application/octet-stream"
}

// ImageFormatFromString returns the ImageFormat value for the given format
// abbreviation.
func ImageFormatFromString(value string) (ImageFormat, error) {
	switch value {
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	}
	return DefaultFormat, fmt.Errorf("trendsink: unrecognized image format %q", value)
}

// Options for the chart.
type Options struct {
	// Width and height of the rendered image in pixels. Zero values pick
	// 800x400.
	Width, Height int

	// Capacity bounds how many readings are kept; the oldest fall off.
	// Zero keeps 2880, two days at a reading per minute.
	Capacity int

	// Format is the encoding sent to clients unless overridden with the
	// "format" URL parameter.
	Format ImageFormat

	// Window is the default time span plotted, measured back from the
	// newest reading. Zero plots everything kept. The "window" URL
	// parameter overrides it per request.
	Window time.Duration

	// FontPath names a TTF file for the axis labels. Empty uses a built
	// in bitmap face.
	FontPath string
}

// Sink accumulates readings and serves their chart.
type Sink struct {
	width, height int
	capacity      int
	defaultFormat ImageFormat
	window        time.Duration
	face          font.Face

	mu       sync.Mutex
	readings []dhtxx.Reading
}

var _ http.Handler = (*Sink)(nil)

// New creates an empty sink.
func New(opt *Options) (*Sink, error) {
	if opt == nil {
		opt = &Options{}
	}
	s := &Sink{
		width:         opt.Width,
		height:        opt.Height,
		capacity:      opt.Capacity,
		defaultFormat: opt.Format,
		window:        opt.Window,
		face:          basicfont.Face7x13,
	}
	if s.width == 0 {
		s.width = 800
	}
	if s.height == 0 {
		s.height = 400
	}
	if s.capacity == 0 {
		s.capacity = 2880
	}
	if opt.FontPath != "" {
		b, err := os.ReadFile(opt.FontPath)
		if err != nil {
			return nil, fmt.Errorf("trendsink: %w", err)
		}
		f, err := truetype.Parse(b)
		if err != nil {
			return nil, fmt.Errorf("trendsink: %w", err)
		}
		s.face = truetype.NewFace(f, &truetype.Options{Size: 13})
	}
	return s, nil
}

// String returns the name of the sink.
func (s *Sink) String() string {
	return "TrendSink"
}

// Halt implements conn.Resource. Nothing is in flight to stop.
func (s *Sink) Halt() error {
	return nil
}

// Add appends r to the history, dropping the oldest reading once the
// capacity is reached. Readings are expected in time order.
func (s *Sink) Add(r dhtxx.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	if n := len(s.readings) - s.capacity; n > 0 {
		s.readings = append(s.readings[:0], s.readings[n:]...)
	}
}

// Len returns how many readings are held.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

type renderConfig struct {
	format ImageFormat
	window time.Duration
}

func (s *Sink) configFromQuery(values url.Values) (renderConfig, error) {
	cfg := renderConfig{
		format: s.defaultFormat,
		window: s.window,
	}

	if value := values.Get("format"); value != "" {
		format, err := ImageFormatFromString(value)
		if err != nil {
			return renderConfig{}, err
		}
		cfg.format = format
	}

	if value := values.Get("window"); value != "" {
		window, err := time.ParseDuration(value)
		if err != nil || window < 0 {
			return renderConfig{}, fmt.Errorf("trendsink: bad window %q", value)
		}
		cfg.window = window
	}

	return cfg, nil
}

// trim drops readings older than window, measured back from the newest
// reading. A zero window keeps everything.
func trim(readings []dhtxx.Reading, window time.Duration) []dhtxx.Reading {
	if window <= 0 || len(readings) == 0 {
		return readings
	}
	cut := readings[len(readings)-1].Time.Add(-window)
	i := 0
	for i < len(readings) && readings[i].Time.Before(cut) {
		i++
	}
	return readings[i:]
}

// snapshot copies the plotted slice of the history and renders it.
func (s *Sink) snapshot(window time.Duration) image.Image {
	s.mu.Lock()
	readings := make([]dhtxx.Reading, len(s.readings))
	copy(readings, s.readings)
	s.mu.Unlock()

	return s.chart(trim(readings, window))
}

// ServeHTTP handles HTTP GET requests with a single chart image of the
// reading history. The sink options control the default rendering and
// clients can override the format ("?format=png", "?format=jpeg") and the
// plotted span ("?window=6h").
func (s *Sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	cfg, err := s.configFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	img := s.snapshot(cfg.window)
	w.Header().Set("Content-Type", mime.FormatMediaType(cfg.format.mimeType(), nil))

	switch cfg.format {
	case JPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(w, img)
	}
	if err != nil {
		// The headers are long gone, there is no way to deliver an error
		// to the client mid image.
		return
	}
}
