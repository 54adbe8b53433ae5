// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// dht-calibrate reads a DHT class sensor over and over and paints how far
// every line timing sits from its nominal cycle count, green through red.
//
// The capture loop counts polling iterations, so the timings move with the
// cpu speed. Run it until the strip reads mostly green, or take the
// suggested --clock-scale it derives from the median sync timing and hand
// that to the nerve daemon.
package main

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"sort"
	"time"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"github.com/spf13/pflag"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/terrence2/OpenHouse/dhtxx"
)

// Nominal cycle counts at clock scale 1. Sync lows run about 200 cycles,
// 250 on a byte boundary; data highs run about 95 for a 0 and 265 for a 1,
// split at 180.
const (
	nominalSync     = 200
	nominalByteSync = 250
	nominalZero     = 95
	nominalOne      = 265
	zeroOneCutoff   = 180
)

// expected returns the nominal cycle count for timing i. Even indexes are
// sync lows, odd indexes are data highs classified by the cutoff.
func expected(i int, count uint32, scale float64) float64 {
	if i%2 == 0 {
		if i > 0 && i%16 == 0 {
			return nominalByteSync * scale
		}
		return nominalSync * scale
	}
	if float64(count) > zeroOneCutoff*scale {
		return nominalOne * scale
	}
	return nominalZero * scale
}

// deviationColor fades green at 0% deviation to red at 100%.
func deviationColor(got uint32, want float64) color.NRGBA {
	dev := (float64(got) - want) / want
	if dev < 0 {
		dev = -dev
	}
	if dev > 1 {
		dev = 1
	}
	return color.NRGBA{R: uint8(255 * dev), G: uint8(255 * (1 - dev)), A: 255}
}

func mainImpl() error {
	pin := pflag.String("pin", "GPIO4", "pin wired to the sensor data line")
	typName := pflag.String("type", "DHT22", "sensor type: DHT11, DHT22 or AM2302")
	count := pflag.Int("count", 16, "number of reads")
	scale := pflag.Float64("clock-scale", 0, "candidate timing scale to test, 0 uses the default")
	debug := pflag.Bool("debug", false, "dump the raw timing report to stderr as well")
	pflag.Parse()

	typ, err := dhtxx.ParseSensorType(*typName)
	if err != nil {
		return err
	}
	if _, err := host.Init(); err != nil {
		return err
	}
	p := gpioreg.ByName(*pin)
	if p == nil {
		return fmt.Errorf("no such pin %q", *pin)
	}
	d, err := dhtxx.New(p, &dhtxx.Opts{Type: typ, ClockScale: *scale, Debug: *debug})
	if err != nil {
		return err
	}
	s := *scale
	if s == 0 {
		s = 1
	}

	w := colorable.NewColorableStdout()
	fmt.Fprintf(w, "%s, %d reads at scale %.2f\n", d, *count, s)
	var syncs []uint32
	for i := 0; i < *count; i++ {
		if i > 0 {
			time.Sleep(2 * time.Second)
		}
		err := d.Read()
		t := d.Timings()
		fmt.Fprintf(w, "%3d ", i+1)
		for j, c := range t {
			io.WriteString(w, ansi256.Default.Block(deviationColor(c, expected(j, c, s))))
		}
		io.WriteString(w, "\033[0m ")
		if err != nil {
			fmt.Fprintf(w, "%v\n", err)
			continue
		}
		celsius, _ := d.Celsius()
		humidity, _ := d.Humidity()
		fmt.Fprintf(w, "%.1fC %.1f%%\n", celsius, humidity)
		for j := 0; j < len(t); j += 2 {
			if j == 0 || j%16 != 0 {
				syncs = append(syncs, t[j])
			}
		}
	}
	st := d.Stats()
	fmt.Fprintf(w, "%d reads, %d failed (%.2f%% failure rate)\n", st.Reads, st.Failures, d.FailureRate())
	if len(syncs) == 0 {
		return fmt.Errorf("no clean read to calibrate from")
	}
	sort.Slice(syncs, func(i, j int) bool { return syncs[i] < syncs[j] })
	median := syncs[len(syncs)/2]
	fmt.Fprintf(w, "median sync %d cycles, suggested --clock-scale %.2f\n", median, float64(median)/nominalSync)
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "dht-calibrate: %v.\n", err)
		os.Exit(1)
	}
}
