// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nerve

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/go-cmp/cmp"

	"github.com/terrence2/OpenHouse/dhtxx"
)

// The house server parses these by hand, so the exact field order and
// spelling are part of the protocol.
func TestMessageEncoding(t *testing.T) {
	tests := []struct {
		msg  interface{}
		want string
	}{
		{
			TempHumidityMessage{Name: "bedroom", Type: MessageTypeTempHumidity, Temp: 21.5, Humidity: 48.2},
			`{"name":"bedroom","type":"TEMP_HUMIDITY","temp":21.5,"humidity":48.2}`,
		},
		{
			MovementMessage{Name: "hallway", Type: MessageTypeMovement, State: true},
			`{"name":"hallway","type":"MOVEMENT","state":true}`,
		},
		{
			StatusMessage{Name: "porch", Type: MessageTypeStatus, Temp: 22.5, Humidity: 41, Motion: true, Reads: 10, Failures: 2, FailureRate: 20},
			`{"name":"porch","type":"STATUS","temp":22.5,"humidity":41,"motion":true,"reads":10,"failures":2,"failure_rate":20}`,
		},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.msg)
		if err != nil {
			t.Fatal(err)
		}
		if got := string(b); got != tt.want {
			t.Errorf("%T:\ngot  %s\nwant %s", tt.msg, got, tt.want)
		}
	}
}

func TestNewPublisherBindError(t *testing.T) {
	ctx := context.Background()
	if _, err := NewPublisher(ctx, "x", &PublisherOpts{SensorAddr: "bogus://nope"}); err == nil {
		t.Fatal("expected an error for a bad sensor bind")
	}
	if _, err := NewPublisher(ctx, "x", &PublisherOpts{
		SensorAddr:  "tcp://127.0.0.1:0",
		ControlAddr: "bogus://nope",
	}); err == nil {
		t.Fatal("expected an error for a bad control bind")
	}
}

func newLoopbackPublisher(t *testing.T, ctx context.Context, name string) *Publisher {
	t.Helper()
	p, err := NewPublisher(ctx, name, &PublisherOpts{
		SensorAddr:  "tcp://127.0.0.1:0",
		ControlAddr: "tcp://127.0.0.1:0",
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPublishReading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newLoopbackPublisher(t, ctx, "bedroom")
	defer p.Close()
	defer cancel()

	sub := zmq4.NewSub(ctx)
	defer sub.Close()
	if err := sub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		t.Fatal(err)
	}
	if err := sub.Dial("tcp://" + p.pub.Addr().String()); err != nil {
		t.Fatal(err)
	}
	recv := make(chan []byte, 1)
	go func() {
		if msg, err := sub.Recv(); err == nil {
			recv <- msg.Bytes()
		}
	}()

	// A PUB socket drops messages until the subscription lands, so keep
	// sending until the subscriber sees one.
	r := dhtxx.Reading{Temperature: 21.5, Humidity: 48.2, Time: time.Now()}
	deadline := time.After(10 * time.Second)
	for {
		if err := p.PublishReading(r); err != nil {
			t.Fatal(err)
		}
		select {
		case b := <-recv:
			var got TempHumidityMessage
			if err := json.Unmarshal(b, &got); err != nil {
				t.Fatal(err)
			}
			want := TempHumidityMessage{Name: "bedroom", Type: MessageTypeTempHumidity, Temp: 21.5, Humidity: 48.2}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("message mismatch (-want +got):\n%s", diff)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for the subscriber")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestServeControl(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newLoopbackPublisher(t, ctx, "porch")
	defer p.Close()
	defer cancel()

	status := StatusMessage{
		Name:        "porch",
		Type:        MessageTypeStatus,
		Temp:        22.5,
		Humidity:    41,
		Motion:      true,
		Reads:       10,
		Failures:    2,
		FailureRate: 20,
	}
	p.ServeControl(func() StatusMessage { return status })

	req := zmq4.NewReq(ctx)
	defer req.Close()
	if err := req.Dial("tcp://" + p.rep.Addr().String()); err != nil {
		t.Fatal(err)
	}
	if err := req.Send(zmq4.NewMsgString("status")); err != nil {
		t.Fatal(err)
	}
	msg, err := req.Recv()
	if err != nil {
		t.Fatal(err)
	}
	var got StatusMessage
	if err := json.Unmarshal(msg.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(status, got); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}
