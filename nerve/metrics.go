// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package nerve

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/terrence2/OpenHouse/dhtxx"
)

// metrics publishes the node's counters twice over: Prometheus for the
// scrape endpoint and OpenTelemetry for the OTLP push path.
type metrics struct {
	attrs metric.MeasurementOption

	reads       prometheus.Counter
	failures    prometheus.Counter
	temperature prometheus.Gauge
	humidity    prometheus.Gauge
	movements   prometheus.Counter
	readTime    prometheus.Histogram

	otelTemperature metric.Float64Gauge
	otelHumidity    metric.Float64Gauge
}

func newMetrics(reg prometheus.Registerer, node string) *metrics {
	labels := prometheus.Labels{"node": node}
	m := &metrics{
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nerve",
			Subsystem:   "dht",
			Name:        "reads_total",
			Help:        "Attempted sensor reads.",
			ConstLabels: labels,
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nerve",
			Subsystem:   "dht",
			Name:        "failures_total",
			Help:        "Sensor reads that ended in a timeout, checksum or range error.",
			ConstLabels: labels,
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nerve",
			Subsystem:   "dht",
			Name:        "temperature_celsius",
			Help:        "Last decoded temperature.",
			ConstLabels: labels,
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nerve",
			Subsystem:   "dht",
			Name:        "humidity_percent",
			Help:        "Last decoded relative humidity.",
			ConstLabels: labels,
		}),
		movements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nerve",
			Subsystem:   "motion",
			Name:        "events_total",
			Help:        "Motion detector state changes.",
			ConstLabels: labels,
		}),
		readTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "nerve",
			Subsystem:   "dht",
			Name:        "read_duration_seconds",
			Help:        "Wall time of one read, handshake included.",
			Buckets:     []float64{.1, .25, .5, 1, 1.5, 2, 2.5, 3},
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.reads, m.failures, m.temperature, m.humidity, m.movements, m.readTime)
	}

	meter := otel.Meter("github.com/terrence2/OpenHouse/nerve")
	m.otelTemperature, _ = meter.Float64Gauge("sensor.temperature",
		metric.WithUnit("°C"),
		metric.WithDescription("Last decoded temperature in degrees Celsius"),
	)
	m.otelHumidity, _ = meter.Float64Gauge("sensor.humidity",
		metric.WithUnit("%rH"),
		metric.WithDescription("Last decoded relative humidity as a percentage"),
	)
	m.attrs = metric.WithAttributes(attribute.String("node", node))
	return m
}

func (m *metrics) observeRead(d time.Duration, ok bool) {
	m.reads.Inc()
	m.readTime.Observe(d.Seconds())
	if !ok {
		m.failures.Inc()
	}
}

func (m *metrics) observeReading(ctx context.Context, r dhtxx.Reading) {
	m.temperature.Set(r.Temperature)
	m.humidity.Set(r.Humidity)
	m.otelTemperature.Record(ctx, r.Temperature, m.attrs)
	m.otelHumidity.Record(ctx, r.Humidity, m.attrs)
}

func (m *metrics) observeMovement() {
	m.movements.Inc()
}
