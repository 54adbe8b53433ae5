// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nerve

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"

	"github.com/terrence2/OpenHouse/dhtxx"
)

// The ports every nerve binds. The house server discovers nodes by name and
// expects these everywhere.
const (
	SensorPort  = 31975
	ControlPort = 31976
)

// Message types carried in the "type" field of every published message.
const (
	MessageTypeTempHumidity = "TEMP_HUMIDITY"
	MessageTypeMovement     = "MOVEMENT"
	MessageTypeStatus       = "STATUS"
)

// TempHumidityMessage announces a successful sensor read.
type TempHumidityMessage struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Temp     float64 `json:"temp"`
	Humidity float64 `json:"humidity"`
}

// MovementMessage announces a motion detector state change.
type MovementMessage struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	State bool   `json:"state"`
}

// StatusMessage answers a control request.
type StatusMessage struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Temp        float64 `json:"temp"`
	Humidity    float64 `json:"humidity"`
	Motion      bool    `json:"motion"`
	Reads       uint64  `json:"reads"`
	Failures    uint64  `json:"failures"`
	FailureRate float64 `json:"failure_rate"`
}

// StatusFunc produces the reply for a control request.
type StatusFunc func() StatusMessage

// PublisherOpts holds the publisher configuration.
type PublisherOpts struct {
	// SensorAddr is the PUB socket bind. Empty means tcp://*:31975.
	SensorAddr string
	// ControlAddr is the REP socket bind. Empty means tcp://*:31976.
	ControlAddr string
}

// Publisher owns the node's network face: a PUB socket streaming sensor
// messages to whoever listens, and a REP socket answering status polls.
type Publisher struct {
	name string
	pub  zmq4.Socket
	rep  zmq4.Socket

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewPublisher binds both sockets. The sockets live until Close or until
// ctx is canceled.
func NewPublisher(ctx context.Context, name string, o *PublisherOpts) (*Publisher, error) {
	if o == nil {
		o = &PublisherOpts{}
	}
	sensorAddr := o.SensorAddr
	if sensorAddr == "" {
		sensorAddr = fmt.Sprintf("tcp://*:%d", SensorPort)
	}
	controlAddr := o.ControlAddr
	if controlAddr == "" {
		controlAddr = fmt.Sprintf("tcp://*:%d", ControlPort)
	}

	pub := zmq4.NewPub(ctx)
	if err := pub.Listen(sensorAddr); err != nil {
		pub.Close()
		return nil, fmt.Errorf("nerve: binding sensor socket: %w", err)
	}
	rep := zmq4.NewRep(ctx)
	if err := rep.Listen(controlAddr); err != nil {
		pub.Close()
		rep.Close()
		return nil, fmt.Errorf("nerve: binding control socket: %w", err)
	}
	return &Publisher{name: name, pub: pub, rep: rep}, nil
}

// PublishReading announces r on the sensor socket.
func (p *Publisher) PublishReading(r dhtxx.Reading) error {
	return p.send(TempHumidityMessage{
		Name:     p.name,
		Type:     MessageTypeTempHumidity,
		Temp:     r.Temperature,
		Humidity: r.Humidity,
	})
}

// PublishMovement announces a motion detector transition to state.
func (p *Publisher) PublishMovement(state bool) error {
	return p.send(MovementMessage{
		Name:  p.name,
		Type:  MessageTypeMovement,
		State: state,
	})
}

func (p *Publisher) send(msg interface{}) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("nerve: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.pub.Send(zmq4.NewMsg(b)); err != nil {
		return fmt.Errorf("nerve: %w", err)
	}
	return nil
}

// ServeControl starts answering control requests with status. The request
// content is ignored; any poke earns a reply. The loop ends when the
// socket closes.
func (p *Publisher) ServeControl(status StatusFunc) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			if _, err := p.rep.Recv(); err != nil {
				return
			}
			b, err := json.Marshal(status())
			if err != nil {
				b = []byte("{}")
			}
			if err := p.rep.Send(zmq4.NewMsg(b)); err != nil {
				return
			}
		}
	}()
}

// Close tears both sockets down and waits for the control loop to end.
func (p *Publisher) Close() error {
	err := p.pub.Close()
	if err2 := p.rep.Close(); err == nil {
		err = err2
	}
	p.wg.Wait()
	return err
}

func (p *Publisher) String() string {
	return fmt.Sprintf("nerve.Publisher{%s}", p.name)
}
