// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package nerve runs one OpenHouse sensor node: it paces a temperature and
// humidity sensor, watches an optional motion detector between reads, and
// fans everything out to the network, the log and the metrics pipelines.
package nerve

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/terrence2/OpenHouse/dhtxx"
)

// Sensor is the slice of dhtxx.Dev the node drives.
type Sensor interface {
	Read() error
	LastReading() (dhtxx.Reading, error)
	Stats() dhtxx.Stats
	FailureRate() float64
}

// MotionSensor is the slice of hcsr501.Dev the node drives.
type MotionSensor interface {
	WaitForMotion(timeout time.Duration) bool
	Motion() bool
}

// EventPublisher forwards decoded events to the network.
type EventPublisher interface {
	PublishReading(r dhtxx.Reading) error
	PublishMovement(state bool) error
}

// Recorder receives every successful reading, e.g. a trendsink.Sink.
type Recorder interface {
	Add(r dhtxx.Reading)
}

// NodeOpts holds the node configuration.
type NodeOpts struct {
	// Name identifies the node in every message and log line.
	Name string
	// ReadInterval floors the time between sensor reads. The sensor
	// itself samples at most every 2s; the default is 3s.
	ReadInterval time.Duration
	// MotionWindow is how long the node watches the motion detector
	// between reads. The default is 3s.
	MotionWindow time.Duration
	// Logger defaults to a nop logger.
	Logger *zap.Logger
	// Registry receives the node's Prometheus collectors. nil skips
	// registration.
	Registry prometheus.Registerer
	// Recorder, when set, receives every successful reading.
	Recorder Recorder
}

// Node couples the sensors to the publisher and owns the read loop.
type Node struct {
	name    string
	log     *zap.Logger
	dht     Sensor
	motion  MotionSensor
	pub     EventPublisher
	rec     Recorder
	limiter *rate.Limiter
	window  time.Duration
	m       *metrics
}

// NewNode assembles a node. motion may be nil for a node without a motion
// detector; the loop then simply sleeps between reads.
func NewNode(dht Sensor, motion MotionSensor, pub EventPublisher, o *NodeOpts) (*Node, error) {
	if dht == nil {
		return nil, errors.New("nerve: a sensor is required")
	}
	if pub == nil {
		return nil, errors.New("nerve: a publisher is required")
	}
	if o == nil {
		o = &NodeOpts{}
	}
	name := o.Name
	if name == "" {
		return nil, errors.New("nerve: a node name is required")
	}
	interval := o.ReadInterval
	if interval == 0 {
		interval = 3 * time.Second
	}
	if interval < 0 {
		return nil, errors.New("nerve: read interval must be positive")
	}
	window := o.MotionWindow
	if window == 0 {
		window = 3 * time.Second
	}
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{
		name:    name,
		log:     log,
		dht:     dht,
		motion:  motion,
		pub:     pub,
		rec:     o.Recorder,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		window:  window,
		m:       newMetrics(o.Registry, name),
	}, nil
}

// Run alternates sensor reads with motion windows until ctx is canceled,
// then returns the context's error.
func (n *Node) Run(ctx context.Context) error {
	n.log.Info("nerve initialized", zap.String("name", n.name))
	for {
		if err := n.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		n.readOnce(ctx)
		n.watchMotion(ctx)
	}
}

// readOnce runs one sensor read and fans a success out to the publisher,
// the recorder, the metrics and the log. Failures only count and log; the
// next cycle retries.
func (n *Node) readOnce(ctx context.Context) {
	start := time.Now()
	err := n.dht.Read()
	n.m.observeRead(time.Since(start), err == nil)
	if err != nil {
		n.log.Warn("sensor read failed",
			zap.Error(err),
			zap.Float64("failure_rate", n.dht.FailureRate()),
		)
		return
	}
	r, err := n.dht.LastReading()
	if err != nil {
		n.log.Warn("sensor read succeeded without a reading", zap.Error(err))
		return
	}
	if err := n.pub.PublishReading(r); err != nil {
		n.log.Error("publishing reading failed", zap.Error(err))
	}
	if n.rec != nil {
		n.rec.Add(r)
	}
	n.m.observeReading(ctx, r)
	motion := false
	if n.motion != nil {
		motion = n.motion.Motion()
	}
	n.log.Info("reading",
		zap.Bool("motion", motion),
		zap.Float64("celsius", r.Temperature),
		zap.Float64("fahrenheit", r.Temperature*9/5+32),
		zap.Float64("humidity", r.Humidity),
		zap.Float64("failure_rate", n.dht.FailureRate()),
	)
}

// watchMotion polls the motion detector for one window and publishes every
// state change it sees. Without a detector it just paces the loop.
func (n *Node) watchMotion(ctx context.Context) {
	if n.motion == nil {
		t := time.NewTimer(n.window)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		return
	}
	deadline := time.Now().Add(n.window)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		if n.motion.WaitForMotion(time.Until(deadline)) {
			state := n.motion.Motion()
			if err := n.pub.PublishMovement(state); err != nil {
				n.log.Error("publishing movement failed", zap.Error(err))
			}
			n.m.observeMovement()
			n.log.Info("movement", zap.Bool("state", state))
		}
	}
}

// Status snapshots the node for the control socket.
func (n *Node) Status() StatusMessage {
	s := n.dht.Stats()
	msg := StatusMessage{
		Name:        n.name,
		Type:        MessageTypeStatus,
		Reads:       s.Reads,
		Failures:    s.Failures,
		FailureRate: n.dht.FailureRate(),
	}
	if r, err := n.dht.LastReading(); err == nil {
		msg.Temp = r.Temperature
		msg.Humidity = r.Humidity
	}
	if n.motion != nil {
		msg.Motion = n.motion.Motion()
	}
	return msg
}
