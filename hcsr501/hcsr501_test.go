// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hcsr501

import (
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// seqPin reports the scripted levels one Read at a time, then idles.
type seqPin struct {
	gpiotest.Pin

	mu     sync.Mutex
	levels []gpio.Level
	idle   gpio.Level
	pull   gpio.Pull
	ins    int
}

func (p *seqPin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.levels) == 0 {
		return p.idle
	}
	l := p.levels[0]
	p.levels = p.levels[1:]
	return l
}

func (p *seqPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ins++
	p.pull = pull
	return nil
}

func stubSleep(t *testing.T) {
	t.Helper()
	old := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = old })
}

func TestNew(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New() with a nil pin did not fail")
	}
	p := &seqPin{Pin: gpiotest.Pin{N: "GPIO17", Num: 17}}
	d, err := New(p)
	if err != nil {
		t.Fatal(err)
	}
	if p.ins != 1 || p.pull != gpio.Float {
		t.Errorf("pin configured with %d In() calls and pull %s, want 1 and Float", p.ins, p.pull)
	}
	if d.Motion() {
		t.Error("Motion() reports motion before any poll")
	}
	if got := d.String(); got != "hcsr501{GPIO17(17)}" {
		t.Errorf("String() = %q", got)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
}

func TestWaitForMotion(t *testing.T) {
	stubSleep(t)
	p := &seqPin{Pin: gpiotest.Pin{N: "GPIO17", Num: 17}, levels: []gpio.Level{gpio.Low, gpio.High}}
	d, err := New(p)
	if err != nil {
		t.Fatal(err)
	}
	if !d.WaitForMotion(time.Minute) {
		t.Fatal("WaitForMotion() missed a rising transition")
	}
	if !d.Motion() {
		t.Error("Motion() = false after a rising transition")
	}

	// A falling transition is a change too and updates the reported state.
	p.levels = []gpio.Level{gpio.Low}
	if !d.WaitForMotion(time.Minute) {
		t.Fatal("WaitForMotion() missed a falling transition")
	}
	if d.Motion() {
		t.Error("Motion() = true after a falling transition")
	}
}

func TestWaitForMotionTimeout(t *testing.T) {
	stubSleep(t)
	p := &seqPin{Pin: gpiotest.Pin{N: "GPIO17", Num: 17}, idle: gpio.Low}
	d, err := New(p)
	if err != nil {
		t.Fatal(err)
	}
	if d.WaitForMotion(0) {
		t.Error("WaitForMotion(0) on a quiet line reported a change")
	}
	if d.Motion() {
		t.Error("Motion() = true on a quiet line")
	}
}
