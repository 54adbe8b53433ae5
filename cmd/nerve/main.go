// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Nerve reads a climate sensor and a motion detector on a single board
// computer and publishes what it sees to the house network.
//
// Sensor readings stream as JSON on a zeromq PUB socket, status polls are
// answered on a REP socket, Prometheus metrics and a rendered trend chart
// are served over HTTP, and logs optionally flow to an OTLP collector.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/terrence2/OpenHouse/dhtxx"
	"github.com/terrence2/OpenHouse/hcsr501"
	"github.com/terrence2/OpenHouse/nerve"
	"github.com/terrence2/OpenHouse/trendsink"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	pflag.StringP("name", "n", "", "node name carried in every message (default: the hostname)")
	pflag.String("dht-pin", "GPIO4", "pin wired to the climate sensor data line")
	pflag.String("dht-type", "DHT22", "climate sensor type: DHT11, DHT22 or AM2302")
	pflag.String("motion-pin", "", "pin wired to the motion detector, empty disables it")
	pflag.Float64("clock-scale", 0, "timing scale for the cpu speed, 0 uses the default")
	pflag.Bool("debug", false, "log at debug level and dump raw timings after every read")
	pflag.String("listen", ":8080", "http listen address for metrics and the trend chart")
	pflag.Int("publish-port", nerve.SensorPort, "zeromq sensor publish port")
	pflag.Int("control-port", nerve.ControlPort, "zeromq control reply port")
	pflag.String("font", "", "truetype font for the trend chart, empty uses a builtin bitmap font")
	pflag.Bool("otlp", false, "export logs, metrics and traces over OTLP")
	pflag.Parse()

	// Flags beat NERVE_* environment variables beat /etc/nerve/config.yaml.
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/nerve")
	v.AddConfigPath(".")
	v.SetEnvPrefix("nerve")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(pflag.CommandLine)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "nerve:", err)
			os.Exit(1)
		}
	}

	name := v.GetString("name")
	if name == "" {
		var err error
		if name, err = os.Hostname(); err != nil {
			fmt.Fprintln(os.Stderr, "nerve:", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if v.GetBool("otlp") {
		shutdown, err := setupOTelSDK(ctx, name)
		if err != nil {
			fmt.Fprintln(os.Stderr, "nerve:", err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				fmt.Fprintln(os.Stderr, "nerve:", err)
			}
		}()
	}

	level := zapcore.InfoLevel
	if v.GetBool("debug") {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(os.Stdout), level)
	if v.GetBool("otlp") {
		core = zapcore.NewTee(
			core,
			otelzap.NewCore("github.com/terrence2/OpenHouse", otelzap.WithLoggerProvider(global.GetLoggerProvider())),
		)
	}
	logger := zap.New(core)
	defer logger.Sync()
	logger.Info("starting up",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("buildDate", date),
		zap.String("name", name),
	)
	if used := v.ConfigFileUsed(); used != "" {
		logger.Info("loaded config file", zap.String("path", used))
	}

	typ, err := dhtxx.ParseSensorType(v.GetString("dht-type"))
	if err != nil {
		logger.Fatal("bad sensor type", zap.Error(err))
	}
	if _, err := host.Init(); err != nil {
		logger.Fatal("initializing the host failed", zap.Error(err))
	}
	pin := gpioreg.ByName(v.GetString("dht-pin"))
	if pin == nil {
		logger.Fatal("no such pin", zap.String("pin", v.GetString("dht-pin")))
	}
	dht, err := dhtxx.New(pin, &dhtxx.Opts{
		Type:       typ,
		ClockScale: v.GetFloat64("clock-scale"),
		Debug:      v.GetBool("debug"),
	})
	if err != nil {
		logger.Fatal("opening the climate sensor failed", zap.Error(err))
	}
	var motion nerve.MotionSensor
	if mp := v.GetString("motion-pin"); mp != "" {
		p := gpioreg.ByName(mp)
		if p == nil {
			logger.Fatal("no such pin", zap.String("pin", mp))
		}
		m, err := hcsr501.New(p)
		if err != nil {
			logger.Fatal("opening the motion detector failed", zap.Error(err))
		}
		motion = m
	}
	logger.Info("sensors ready", zap.String("dht", dht.String()), zap.Bool("motion", motion != nil))

	sink, err := trendsink.New(&trendsink.Options{FontPath: v.GetString("font")})
	if err != nil {
		logger.Fatal("building the trend sink failed", zap.Error(err))
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pub, err := nerve.NewPublisher(ctx, name, &nerve.PublisherOpts{
		SensorAddr:  fmt.Sprintf("tcp://*:%d", v.GetInt("publish-port")),
		ControlAddr: fmt.Sprintf("tcp://*:%d", v.GetInt("control-port")),
	})
	if err != nil {
		logger.Fatal("binding the network failed", zap.Error(err))
	}
	defer pub.Close()

	node, err := nerve.NewNode(dht, motion, pub, &nerve.NodeOpts{
		Name:     name,
		Logger:   logger,
		Registry: reg,
		Recorder: sink,
	})
	if err != nil {
		logger.Fatal("assembling the node failed", zap.Error(err))
	}
	pub.ServeControl(node.Status)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/trend", sink)
	srv := &http.Server{Addr: v.GetString("listen"), Handler: otelhttp.NewHandler(mux, "nerve")}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", zap.Error(err))
		}
	}()

	if err := node.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run loop failed", zap.Error(err))
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	if err := dht.Halt(); err != nil {
		logger.Warn("halting the sensor failed", zap.Error(err))
	}
	logger.Info("shut down")
}
