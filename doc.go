// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package openhouse is a container for home sensor node pieces.
//
// The drivers live in dhtxx and hcsr501, the daemon glue in nerve and
// trendsink, and the binaries under cmd.
package openhouse
