// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dhtxx controls a DHT11, DHT22 or AM2302 temperature and humidity
// sensor over its single wire data line.
//
// The sensor has no clock line. After a trigger handshake it encodes each of
// its 40 bits as a fixed length low pulse followed by a high pulse whose
// duration is the bit value, tens of microseconds per state. The package
// captures a frame by busy-waiting on the line and counting poll iterations,
// then decodes, checksums and bounds checks the frame. See Opts.ClockScale
// for calibrating the counts to hosts of different speeds.
//
// Expect individual reads to fail routinely; the sensors are slow and touchy.
// Retry no faster than once every 2 seconds and track Stats if the failure
// rate matters to you.
//
// # Datasheet
//
// DHT22/AM2302: https://cdn-shop.adafruit.com/datasheets/DHT22.pdf
//
// DHT11: https://www.mouser.com/datasheet/2/758/DHT11-Technical-Data-Sheet-Translated-Version-1143054.pdf
package dhtxx
