// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nerve

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/terrence2/OpenHouse/dhtxx"
)

type fakeSensor struct {
	mu      sync.Mutex
	script  []error // popped per Read; empty means success
	reading dhtxx.Reading
	reads   uint64
	fails   uint64
	have    bool
}

func (f *fakeSensor) Read() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	var err error
	if len(f.script) > 0 {
		err = f.script[0]
		f.script = f.script[1:]
	}
	if err != nil {
		f.fails++
		return err
	}
	f.have = true
	return nil
}

func (f *fakeSensor) LastReading() (dhtxx.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.have {
		return dhtxx.Reading{}, &dhtxx.NoReadingError{}
	}
	return f.reading, nil
}

func (f *fakeSensor) Stats() dhtxx.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return dhtxx.Stats{Reads: f.reads, Failures: f.fails}
}

func (f *fakeSensor) FailureRate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reads == 0 {
		return 0
	}
	return float64(f.fails) / float64(f.reads) * 100
}

type fakeMotion struct {
	mu     sync.Mutex
	events []bool // state after each detected transition
	state  bool
}

func (f *fakeMotion) WaitForMotion(timeout time.Duration) bool {
	f.mu.Lock()
	if len(f.events) > 0 {
		f.state = f.events[0]
		f.events = f.events[1:]
		f.mu.Unlock()
		return true
	}
	f.mu.Unlock()
	time.Sleep(timeout)
	return false
}

func (f *fakeMotion) Motion() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

type fakePublisher struct {
	mu        sync.Mutex
	err       error
	readings  []dhtxx.Reading
	movements []bool
}

func (f *fakePublisher) PublishReading(r dhtxx.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.readings = append(f.readings, r)
	return nil
}

func (f *fakePublisher) PublishMovement(state bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.movements = append(f.movements, state)
	return nil
}

func (f *fakePublisher) readingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.readings)
}

type fakeRecorder struct {
	mu       sync.Mutex
	readings []dhtxx.Reading
}

func (f *fakeRecorder) Add(r dhtxx.Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, r)
}

func TestNewNode(t *testing.T) {
	pub := &fakePublisher{}
	dht := &fakeSensor{}
	if _, err := NewNode(nil, nil, pub, &NodeOpts{Name: "x"}); err == nil {
		t.Fatal("expected an error for a nil sensor")
	}
	if _, err := NewNode(dht, nil, nil, &NodeOpts{Name: "x"}); err == nil {
		t.Fatal("expected an error for a nil publisher")
	}
	if _, err := NewNode(dht, nil, pub, nil); err == nil {
		t.Fatal("expected an error for a missing name")
	}
	if _, err := NewNode(dht, nil, pub, &NodeOpts{Name: "x", ReadInterval: -time.Second}); err == nil {
		t.Fatal("expected an error for a negative interval")
	}
	n, err := NewNode(dht, nil, pub, &NodeOpts{Name: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if n.window != 3*time.Second {
		t.Fatalf("default motion window: got %s", n.window)
	}
	if n.log == nil || n.limiter == nil || n.m == nil {
		t.Fatal("defaults not applied")
	}
}

func TestNodeReadOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	reg := prometheus.NewRegistry()
	r := dhtxx.Reading{Temperature: 21.5, Humidity: 48.2, Time: time.Now()}
	dht := &fakeSensor{reading: r}
	motion := &fakeMotion{state: true}
	pub := &fakePublisher{}
	rec := &fakeRecorder{}
	n, err := NewNode(dht, motion, pub, &NodeOpts{
		Name:     "bedroom",
		Logger:   zap.New(core),
		Registry: reg,
		Recorder: rec,
	})
	if err != nil {
		t.Fatal(err)
	}

	n.readOnce(context.Background())

	if diff := cmp.Diff([]dhtxx.Reading{r}, pub.readings); diff != "" {
		t.Fatalf("published readings mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]dhtxx.Reading{r}, rec.readings); diff != "" {
		t.Fatalf("recorded readings mismatch (-want +got):\n%s", diff)
	}
	entries := logs.FilterMessage("reading").All()
	if len(entries) != 1 {
		t.Fatalf("expected one reading log entry, got %d", len(entries))
	}
	want := map[string]interface{}{
		"motion":       true,
		"celsius":      r.Temperature,
		"fahrenheit":   r.Temperature*9/5 + 32,
		"humidity":     r.Humidity,
		"failure_rate": 0.0,
	}
	if diff := cmp.Diff(want, entries[0].ContextMap()); diff != "" {
		t.Fatalf("log fields mismatch (-want +got):\n%s", diff)
	}
	if got := testutil.ToFloat64(n.m.temperature); got != 21.5 {
		t.Fatalf("temperature gauge: got %g", got)
	}
	if got := testutil.ToFloat64(n.m.humidity); got != 48.2 {
		t.Fatalf("humidity gauge: got %g", got)
	}
	if got := testutil.ToFloat64(n.m.reads); got != 1 {
		t.Fatalf("reads counter: got %g", got)
	}
	if got := testutil.ToFloat64(n.m.failures); got != 0 {
		t.Fatalf("failures counter: got %g", got)
	}
	if got := testutil.CollectAndCount(reg, "nerve_dht_read_duration_seconds"); got != 1 {
		t.Fatalf("read duration series: got %d", got)
	}
}

func TestNodeReadOnceFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	dht := &fakeSensor{script: []error{&dhtxx.AckTimeoutError{}}}
	pub := &fakePublisher{}
	n, err := NewNode(dht, nil, pub, &NodeOpts{Name: "bedroom", Logger: zap.New(core)})
	if err != nil {
		t.Fatal(err)
	}

	n.readOnce(context.Background())

	if len(pub.readings) != 0 {
		t.Fatalf("a failed read must not publish, got %d readings", len(pub.readings))
	}
	entries := logs.FilterMessage("sensor read failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["failure_rate"]; got != 100.0 {
		t.Fatalf("failure_rate field: got %v", got)
	}
	if got := testutil.ToFloat64(n.m.failures); got != 1 {
		t.Fatalf("failures counter: got %g", got)
	}
}

func TestNodeReadOncePublishError(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	dht := &fakeSensor{reading: dhtxx.Reading{Temperature: 20, Humidity: 50}}
	pub := &fakePublisher{err: errors.New("wire fell out")}
	rec := &fakeRecorder{}
	n, err := NewNode(dht, nil, pub, &NodeOpts{Name: "bedroom", Logger: zap.New(core), Recorder: rec})
	if err != nil {
		t.Fatal(err)
	}

	n.readOnce(context.Background())

	if len(logs.FilterMessage("publishing reading failed").All()) != 1 {
		t.Fatal("expected a publish error log entry")
	}
	// A dead network must not stop the local record.
	if len(rec.readings) != 1 {
		t.Fatalf("recorder: got %d readings", len(rec.readings))
	}
}

func TestNodeWatchMotion(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	reg := prometheus.NewRegistry()
	dht := &fakeSensor{}
	motion := &fakeMotion{events: []bool{true, false}}
	pub := &fakePublisher{}
	n, err := NewNode(dht, motion, pub, &NodeOpts{
		Name:         "hallway",
		MotionWindow: 50 * time.Millisecond,
		Logger:       zap.New(core),
		Registry:     reg,
	})
	if err != nil {
		t.Fatal(err)
	}

	n.watchMotion(context.Background())

	if diff := cmp.Diff([]bool{true, false}, pub.movements); diff != "" {
		t.Fatalf("published movements mismatch (-want +got):\n%s", diff)
	}
	entries := logs.FilterMessage("movement").All()
	if len(entries) != 2 {
		t.Fatalf("expected two movement log entries, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["state"]; got != true {
		t.Fatalf("first movement state: got %v", got)
	}
	if got := testutil.ToFloat64(n.m.movements); got != 2 {
		t.Fatalf("movements counter: got %g", got)
	}
}

func TestNodeWatchMotionNone(t *testing.T) {
	dht := &fakeSensor{}
	pub := &fakePublisher{}
	n, err := NewNode(dht, nil, pub, &NodeOpts{Name: "closet", MotionWindow: 10 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	n.watchMotion(ctx)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("a canceled context must end the window immediately, took %s", elapsed)
	}
}

func TestNodeRun(t *testing.T) {
	dht := &fakeSensor{reading: dhtxx.Reading{Temperature: 19, Humidity: 55}}
	pub := &fakePublisher{}
	n, err := NewNode(dht, nil, pub, &NodeOpts{
		Name:         "attic",
		ReadInterval: time.Millisecond,
		MotionWindow: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- n.Run(ctx)
	}()
	deadline := time.Now().Add(5 * time.Second)
	for pub.readingCount() < 2 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("timed out waiting for the loop to publish")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run: got %v, want context.Canceled", err)
	}
}

func TestNodeStatus(t *testing.T) {
	r := dhtxx.Reading{Temperature: 22.5, Humidity: 41.0, Time: time.Now()}
	dht := &fakeSensor{reading: r, script: []error{&dhtxx.ChecksumError{Got: 1, Want: 2}, nil}}
	motion := &fakeMotion{state: true}
	pub := &fakePublisher{}
	n, err := NewNode(dht, motion, pub, &NodeOpts{Name: "porch"})
	if err != nil {
		t.Fatal(err)
	}

	// Before any read the status carries zero values.
	got := n.Status()
	want := StatusMessage{Name: "porch", Type: MessageTypeStatus, Motion: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("initial status mismatch (-want +got):\n%s", diff)
	}

	n.readOnce(context.Background()) // fails on the checksum
	n.readOnce(context.Background()) // succeeds

	got = n.Status()
	want = StatusMessage{
		Name:        "porch",
		Type:        MessageTypeStatus,
		Temp:        22.5,
		Humidity:    41.0,
		Motion:      true,
		Reads:       2,
		Failures:    1,
		FailureRate: 50,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}
