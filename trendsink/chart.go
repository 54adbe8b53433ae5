// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package trendsink

import (
	"fmt"
	"image"
	"math"
	"time"

	"github.com/fogleman/gg"

	"github.com/terrence2/OpenHouse/dhtxx"
)

const chartMargin = 44.0

// chart renders the readings. Temperature is plotted red against a scale
// fitted to the data on the left axis, humidity blue against 0-100% on the
// right.
func (s *Sink) chart(readings []dhtxx.Reading) image.Image {
	dc := gg.NewContext(s.width, s.height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetFontFace(s.face)

	plotW := float64(s.width) - 2*chartMargin
	plotH := float64(s.height) - 2*chartMargin

	if len(readings) == 0 {
		dc.SetRGB(0.4, 0.4, 0.4)
		dc.DrawStringAnchored("no readings yet", float64(s.width)/2, float64(s.height)/2, 0.5, 0.5)
		return dc.Image()
	}

	t0 := readings[0].Time
	span := readings[len(readings)-1].Time.Sub(t0)
	if span <= 0 {
		span = time.Second
	}

	tMin, tMax := readings[0].Temperature, readings[0].Temperature
	for _, r := range readings[1:] {
		tMin = math.Min(tMin, r.Temperature)
		tMax = math.Max(tMax, r.Temperature)
	}
	// Keep at least a 5 degree span so a flat series does not fill the
	// plot with noise.
	if tMax-tMin < 5 {
		pad := (5 - (tMax - tMin)) / 2
		tMin -= pad
		tMax += pad
	}

	x := func(ts time.Time) float64 {
		return chartMargin + plotW*ts.Sub(t0).Seconds()/span.Seconds()
	}
	yTemp := func(v float64) float64 {
		return chartMargin + plotH*(1-(v-tMin)/(tMax-tMin))
	}
	yHum := func(v float64) float64 {
		return chartMargin + plotH*(1-v/100)
	}

	// Humidity gridlines and the plot frame.
	dc.SetRGB(0.85, 0.85, 0.85)
	dc.SetLineWidth(1)
	for _, v := range []float64{25, 50, 75} {
		dc.DrawLine(chartMargin, yHum(v), chartMargin+plotW, yHum(v))
	}
	dc.Stroke()
	dc.SetRGB(0.2, 0.2, 0.2)
	dc.DrawRectangle(chartMargin, chartMargin, plotW, plotH)
	dc.Stroke()

	series := func(value func(dhtxx.Reading) float64, y func(float64) float64) {
		dc.MoveTo(x(readings[0].Time), y(value(readings[0])))
		for _, r := range readings[1:] {
			dc.LineTo(x(r.Time), y(value(r)))
		}
		dc.Stroke()
		if len(readings) == 1 {
			dc.DrawCircle(x(readings[0].Time), y(value(readings[0])), 2)
			dc.Fill()
		}
	}

	dc.SetLineWidth(1.5)
	dc.SetRGB(0.75, 0.2, 0.2)
	series(func(r dhtxx.Reading) float64 { return r.Temperature }, yTemp)
	dc.SetRGB(0.2, 0.3, 0.75)
	series(func(r dhtxx.Reading) float64 { return r.Humidity }, yHum)

	// Axis labels. The bitmap fallback face has no degree sign, so plain
	// unit letters.
	dc.SetRGB(0.75, 0.2, 0.2)
	dc.DrawStringAnchored(fmt.Sprintf("%.1fC", tMax), chartMargin-4, chartMargin, 1, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.1fC", tMin), chartMargin-4, chartMargin+plotH, 1, 0.5)
	dc.SetRGB(0.2, 0.3, 0.75)
	dc.DrawStringAnchored("100%", chartMargin+plotW+4, chartMargin, 0, 0.5)
	dc.DrawStringAnchored("0%", chartMargin+plotW+4, chartMargin+plotH, 0, 0.5)
	dc.SetRGB(0.2, 0.2, 0.2)
	dc.DrawStringAnchored(t0.Format("Jan 2 15:04"), chartMargin, chartMargin+plotH+6, 0, 1)
	dc.DrawStringAnchored(readings[len(readings)-1].Time.Format("Jan 2 15:04"), chartMargin+plotW, chartMargin+plotH+6, 1, 1)

	return dc.Image()
}
