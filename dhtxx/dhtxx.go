// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dhtxx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// SensorType identifies the wire encoding of the attached sensor.
//
// DHT11 transmits whole degrees and whole percents. DHT22 and AM2302 share
// an encoding: tenths, with a sign bit on the temperature high byte.
type SensorType int

const (
	DHT11 SensorType = iota
	DHT22
	AM2302
)

// String implements fmt.Stringer.
func (t SensorType) String() string {
	switch t {
	case DHT11:
		return "DHT11"
	case DHT22:
		return "DHT22"
	case AM2302:
		return "AM2302"
	default:
		return fmt.Sprintf("SensorType(%d)", int(t))
	}
}

// ParseSensorType converts a name like "DHT22" into a SensorType. Matching
// is case insensitive.
func ParseSensorType(name string) (SensorType, error) {
	switch strings.ToUpper(name) {
	case "DHT11":
		return DHT11, nil
	case "DHT22":
		return DHT22, nil
	case "AM2302":
		return AM2302, nil
	}
	return 0, &InvalidTypeError{Name: name}
}

const (
	// numTimings is the number of line states in one frame:
	// 5 bytes * 8 bits per byte * 2 transitions per bit.
	numTimings = 80
	// frameLen is the decoded frame: humidity high, humidity low,
	// temperature high, temperature low, check byte.
	frameLen = 5

	// ackPolls bounds the wait for the sensor to answer a trigger. Each
	// poll sleeps 1µs, so this is roughly a 2s timeout.
	ackPolls = 200000
)

// Nominal cycle counts, measured on a stock clocked Raspberry Pi model B.
//
// The sensor holds the wire high or low for so little time that a syscall
// between edges loses the frame, so elapsed time inside the capture window
// is the number of poll loop iterations, and these constants are multiplied
// by Opts.ClockScale on hosts that run the loop at a different speed:
//
//	~ 200 cycles for the sync pulse between bits
//	~ 250 cycles for the sync pulse between bytes
//	~  95 cycles for low bits
//	~ 265 cycles for high bits
const (
	baseTimeout       = 100000 // polls before a wait gives up
	baseBitSyncDelay  = 200
	baseByteSyncDelay = 250
	baseLowHighCutoff = 180 // longer high pulses are ones
)

// sleep is swapped out in tests. It is only ever called outside the capture
// window.
var sleep = time.Sleep

// Opts holds the configuration options.
type Opts struct {
	// Type is the wire encoding of the attached sensor.
	Type SensorType
	// ClockScale adjusts the nominal cycle count thresholds to the host.
	// 1.0 fits a stock Raspberry Pi model B; a host that runs the poll
	// loop twice as fast wants roughly 2.0. 0 means 1.0. Use Debug or
	// Timings to measure a new host.
	ClockScale float64
	// Debug writes a per-timing report of every capture to DebugWriter.
	Debug bool
	// DebugWriter defaults to os.Stderr.
	DebugWriter io.Writer
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Type:       DHT22,
	ClockScale: 1.0,
}

// Reading is one decoded measurement.
type Reading struct {
	// Temperature is in degrees Celsius.
	Temperature float64
	// Humidity is in percent relative humidity.
	Humidity float64
	// Time is when the frame was decoded.
	Time time.Time
}

// Stats counts attempted and failed reads. Failures are routine with these
// sensors; callers are expected to retry on their next cycle.
type Stats struct {
	Reads    uint64
	Failures uint64
}

// Dev is a handle to a sensor on a single GPIO line.
//
// The Dev owns its pin and its capture buffers, and serializes reads
// internally. Use one Dev per physical pin.
type Dev struct {
	pin   gpio.PinIO
	typ   SensorType
	scale float64
	debug bool
	w     io.Writer

	mu       sync.Mutex
	wg       sync.WaitGroup
	stop     chan struct{}
	timings  [numTimings]uint32
	frame    [frameLen]byte
	last     Reading
	haveRead bool
	reads    uint64
	failures uint64
}

// New returns a handle to a DHT11, DHT22 or AM2302 wired to p.
//
// The pin is only driven while a read is in flight; New itself touches no
// hardware.
func New(p gpio.PinIO, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	switch opts.Type {
	case DHT11, DHT22, AM2302:
	default:
		return nil, &InvalidTypeError{Name: opts.Type.String()}
	}
	if p == nil {
		return nil, errors.New("dhtxx: pin is required")
	}
	scale := opts.ClockScale
	if scale == 0 {
		scale = 1.0
	}
	if scale < 0 {
		return nil, fmt.Errorf("dhtxx: clock scale must be positive, got %g", scale)
	}
	w := opts.DebugWriter
	if w == nil {
		w = os.Stderr
	}
	return &Dev{pin: p, typ: opts.Type, scale: scale, debug: opts.Debug, w: w}, nil
}

func (d *Dev) timeoutCycles() uint32 { return uint32(baseTimeout * d.scale) }
func (d *Dev) bitSyncDelay() int { return int(baseBitSyncDelay * d.scale) }
func (d *Dev) byteSyncDelay() int { return int(baseByteSyncDelay * d.scale) }
func (d *Dev) lowHighCutoff() uint32 { return uint32(baseLowHighCutoff * d.scale) }

// Read triggers one acquisition and decodes the frame.
//
// It blocks for the handshake and the capture, a little over half a second
// when the sensor cooperates and up to ~2.5s when it does not. On success
// the last reading is replaced; on failure the previous reading is kept and
// the failure counter is incremented. The error is one of *AckTimeoutError,
// *BitTimeoutError, *ChecksumError or *RangeError, or a wrapped pin error.
// All are recoverable by retrying after the sensor's 2s sample interval.
func (d *Dev) Read() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	r, err := d.readFrame()
	if err != nil {
		d.failures++
		return err
	}
	d.last = r
	d.haveRead = true
	return nil
}

func (d *Dev) readFrame() (Reading, error) {
	// Nothing is retained between frames.
	d.timings = [numTimings]uint32{}
	d.frame = [frameLen]byte{}

	if err := d.capture(); err != nil {
		return Reading{}, err
	}
	d.decodeBits()
	if got, want := d.frame[4], checksum(d.frame); got != want {
		return Reading{}, &ChecksumError{Got: got, Want: want}
	}
	return d.interpret()
}

// trigger yanks on the wire in the agreed manner: high for 500ms, low for
// 20ms, then release the line so the sensor can drive it.
func (d *Dev) trigger() error {
	if err := d.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("dhtxx: %w", err)
	}
	sleep(500 * time.Millisecond)
	if err := d.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("dhtxx: %w", err)
	}
	sleep(20 * time.Millisecond)
	if err := d.pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("dhtxx: %w", err)
	}
	return nil
}

// capture records how long the line holds each of the eighty states of one
// frame. The timing is extremely sensitive, so the counts are taken up
// front and parsing waits until the wire is quiet again.
func (d *Dev) capture() error {
	if err := d.trigger(); err != nil {
		return err
	}

	// The sensor keeps the line high until it is ready, then pulls low.
	// This wait is long and not timing critical, so it may sleep.
	n := 0
	for d.pin.Read() == gpio.High {
		n++
		if n == ackPolls {
			return &AckTimeoutError{}
		}
		sleep(time.Microsecond)
	}

	// Discard the acknowledgement pulse pair, it is framing, not data.
	if d.waitForLevel(gpio.High) == d.timeoutCycles() {
		return &AckTimeoutError{}
	}
	if d.waitForLevel(gpio.Low) == d.timeoutCycles() {
		return &AckTimeoutError{}
	}

	for i := range d.timings {
		want := gpio.Low
		if i%2 == 0 {
			want = gpio.High
		}
		d.timings[i] = d.waitForLevel(want)
		if d.timings[i] == d.timeoutCycles() {
			return &BitTimeoutError{Timing: i}
		}
	}

	if d.debug {
		d.dumpTimings()
	}
	return nil
}

// waitForLevel busy-waits until the line reads l, counting poll iterations.
// The count saturates at timeoutCycles.
func (d *Dev) waitForLevel(l gpio.Level) uint32 {
	timeout := d.timeoutCycles()
	var n uint32
	for d.pin.Read() != l {
		n++
		if n == timeout {
			break
		}
	}
	return n
}

// dumpTimings writes the raw cycle count of every state and, for the sync
// halves, its deviation from the nominal delay. The deviations are what you
// read off to derive ClockScale on a new host.
func (d *Dev) dumpTimings() {
	for i, t := range d.timings {
		expect := d.bitSyncDelay()
		if i != 0 && i%16 == 0 {
			expect = d.byteSyncDelay()
			fmt.Fprintf(d.w, "===\n")
		}
		if i%2 == 0 {
			fmt.Fprintf(d.w, "sync: %d: %d\n", t, int(t)-expect)
		} else {
			bit := 0
			if t > d.lowHighCutoff() {
				bit = 1
			}
			fmt.Fprintf(d.w, "bit : %d ----> %d\n", t, bit)
		}
	}
}

// decodeBits shifts each data half into the frame, most significant bit
// first. A high pulse longer than the cutoff is a one.
func (d *Dev) decodeBits() {
	cutoff := d.lowHighCutoff()
	for i := 1; i < numTimings; i += 2 {
		bit := byte(0)
		if d.timings[i] > cutoff {
			bit = 1
		}
		n := i / 2 / 8
		d.frame[n] = d.frame[n]<<1 | bit
	}

	if d.debug {
		fmt.Fprintf(d.w, "Data: 0x%x 0x%x 0x%x 0x%x: chkbyte 0x%x | chksum: 0x%x\n",
			d.frame[0], d.frame[1], d.frame[2], d.frame[3], d.frame[4], checksum(d.frame))
	}
}

// checksum is the low eight bits of the sum of the payload bytes.
func checksum(f [frameLen]byte) byte {
	return f[0] + f[1] + f[2] + f[3]
}

// interpret maps a validated frame to a reading.
//
// A checksum-valid DHT22 frame can still carry a nonsense value, so its
// fields are bounds checked before being believed. DHT11 frames are plain
// 8 bit integers and get no further check.
func (d *Dev) interpret() (Reading, error) {
	now := time.Now()
	if d.typ == DHT11 {
		return Reading{
			Temperature: float64(d.frame[2]),
			Humidity:    float64(d.frame[0]),
			Time:        now,
		}, nil
	}

	h := float64(int(d.frame[0])*256+int(d.frame[1])) / 10
	t := float64(int(d.frame[2]&0x7F)*256+int(d.frame[3])) / 10
	if d.frame[2]&0x80 != 0 {
		t = -t
	}
	if t < 0 || t > 100 {
		return Reading{}, &RangeError{Field: "temperature", Value: t}
	}
	if h < 0 || h > 100 {
		return Reading{}, &RangeError{Field: "humidity", Value: h}
	}
	return Reading{Temperature: t, Humidity: h, Time: now}, nil
}

// LastReading returns the last successfully decoded reading. It returns
// *NoReadingError until a read has succeeded.
func (d *Dev) LastReading() (Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.haveRead {
		return Reading{}, &NoReadingError{}
	}
	return d.last, nil
}

// Celsius returns the temperature of the last successful read.
func (d *Dev) Celsius() (float64, error) {
	r, err := d.LastReading()
	return r.Temperature, err
}

// Fahrenheit returns the temperature of the last successful read.
func (d *Dev) Fahrenheit() (float64, error) {
	c, err := d.Celsius()
	return c*9/5 + 32, err
}

// Humidity returns the relative humidity of the last successful read.
func (d *Dev) Humidity() (float64, error) {
	r, err := d.LastReading()
	return r.Humidity, err
}

// Stats returns a snapshot of the read counters.
func (d *Dev) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Reads: d.reads, Failures: d.failures}
}

// FailureRate returns the percentage of attempted reads that failed, 0
// before the first read.
func (d *Dev) FailureRate() float64 {
	s := d.Stats()
	if s.Reads == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Reads) * 100
}

// Timings returns a copy of the last complete capture. Even indexes hold
// sync halves, odd indexes data halves. Together with the nominal counts
// this is the raw material for picking a ClockScale.
func (d *Dev) Timings() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := make([]uint32, numTimings)
	copy(t, d.timings[:])
	return t
}

// Sense implements physic.SenseEnv. It runs one acquisition.
func (d *Dev) Sense(env *physic.Env) error {
	env.Temperature = 0
	env.Pressure = 0
	env.Humidity = 0

	if err := d.Read(); err != nil {
		return err
	}
	r, err := d.LastReading()
	if err != nil {
		return err
	}
	env.Temperature = physic.Temperature(r.Temperature*float64(physic.Kelvin)) + physic.ZeroCelsius
	env.Humidity = physic.RelativeHumidity(r.Humidity * float64(physic.PercentRH))
	return nil
}

// SenseContinuous implements physic.SenseEnv. The minimum interval is 2
// seconds, the sensor's sample rate limit. Call Halt to stop.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval < 2*time.Second {
		return nil, fmt.Errorf("dhtxx: invalid interval %s, the sensor samples at most every 2s", interval)
	}
	d.mu.Lock()
	if d.stop != nil {
		d.mu.Unlock()
		return nil, errors.New("dhtxx: sense continuous already running")
	}
	stop := make(chan struct{})
	d.stop = stop
	d.wg.Add(1)
	d.mu.Unlock()

	ch := make(chan physic.Env, 16)
	go func() {
		defer d.wg.Done()
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				var e physic.Env
				if err := d.Sense(&e); err != nil {
					continue
				}
				select {
				case ch <- e:
				case <-stop:
					return
				}
			}
		}
	}()
	return ch, nil
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(env *physic.Env) {
	if d.typ == DHT11 {
		env.Temperature = physic.Celsius
		env.Humidity = physic.PercentRH
	} else {
		env.Temperature = physic.Celsius / 10
		env.Humidity = physic.MilliRH
	}
	env.Pressure = 0
}

// Halt stops a continuous sense, if one is running. The Dev stays usable.
func (d *Dev) Halt() error {
	d.mu.Lock()
	if d.stop == nil {
		d.mu.Unlock()
		return nil
	}
	close(d.stop)
	d.stop = nil
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s{%s}", strings.ToLower(d.typ.String()), d.pin)
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
