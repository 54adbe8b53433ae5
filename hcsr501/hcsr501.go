// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hcsr501 senses motion with an HC-SR501 style passive infrared
// module. The module drives its output pin high while it sees motion and
// low once its hold time runs out; the package polls the pin and reports
// transitions in either direction.
//
// # Datasheet
//
// https://www.mpja.com/download/31227sc.pdf
package hcsr501

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// pollInterval aims for about 10 checks a second, in practice more like 5
// with overhead.
const pollInterval = 100 * time.Millisecond

// sleep is swapped out in tests.
var sleep = time.Sleep

// Dev is a handle to a PIR module on a single GPIO line.
type Dev struct {
	pin gpio.PinIO

	mu    sync.Mutex
	state gpio.Level
}

// New configures p as an input and returns a handle to the module. The
// module reports no motion until the first transition is observed.
func New(p gpio.PinIO) (*Dev, error) {
	if p == nil {
		return nil, errors.New("hcsr501: pin is required")
	}
	// The module drives the line itself, no pull wanted.
	if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("hcsr501: %w", err)
	}
	return &Dev{pin: p}, nil
}

// WaitForMotion polls the module until its output changes state in either
// direction or timeout passes. It returns true on a change; Motion then
// reports the new state.
func (d *Dev) WaitForMotion(timeout time.Duration) bool {
	start := time.Now()
	for {
		l := d.pin.Read()
		d.mu.Lock()
		changed := l != d.state
		if changed {
			d.state = l
		}
		d.mu.Unlock()
		if changed {
			return true
		}
		sleep(pollInterval)
		if time.Since(start) >= timeout {
			return false
		}
	}
}

// Motion reports the state observed by the last poll.
func (d *Dev) Motion() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == gpio.High
}

// Halt implements conn.Resource. The module cannot be stopped.
func (d *Dev) Halt() error {
	return nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("hcsr501{%s}", d.pin)
}

var _ conn.Resource = &Dev{}
