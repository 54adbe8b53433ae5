// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dhtxx

import "fmt"

// AckTimeoutError is returned when the sensor never answers the trigger
// handshake. It usually means the wrong pin or a wiring problem.
type AckTimeoutError struct{}

func (e *AckTimeoutError) Error() string {
	return "dhtxx: timed out waiting for the sensor, double-check the pin settings"
}

// BitTimeoutError is returned when the line stops transitioning in the
// middle of a frame. Timing is the index of the wait that starved: sync
// halves at even indexes, data halves at odd.
type BitTimeoutError struct {
	Timing int
}

func (e *BitTimeoutError) Error() string {
	return fmt.Sprintf("dhtxx: timed out mid frame at timing %d", e.Timing)
}

// ChecksumError is returned when the check byte sent with the frame does
// not match the sum of the payload bytes.
type ChecksumError struct {
	Got  byte // check byte from the wire
	Want byte // sum of the payload bytes
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("dhtxx: checksum mismatch, got check byte 0x%x but checksum 0x%x", e.Got, e.Want)
}

// RangeError is returned when a checksum-valid frame decodes to a value the
// sensor cannot physically report. The frame is treated as line noise.
type RangeError struct {
	Field string // "temperature" or "humidity"
	Value float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("dhtxx: %s out of range, discarding: got %g", e.Field, e.Value)
}

// InvalidTypeError is returned for a sensor type the package does not know.
type InvalidTypeError struct {
	Name string
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("dhtxx: unknown sensor type %q", e.Name)
}

// NoReadingError is returned by the value accessors before any read has
// succeeded.
type NoReadingError struct{}

func (e *NoReadingError) Error() string {
	return "dhtxx: no successful read yet"
}
