// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"encoding/binary"
	"log"
	"time"

	"github.com/go-lpc/qdc/vme"
)

type config struct {
	plat    vme.Platform
	msg     *log.Logger
	swap    bool
	timeout time.Duration
	verbose bool
}

func newConfig() config {
	return config{
		plat:    vme.Linux,
		swap:    vme.NativeEndian == binary.LittleEndian,
		timeout: time.Second,
	}
}

// Option configures a Driver.
type Option func(*config)

// WithPlatform selects the host platform the driver runs on.
func WithPlatform(p vme.Platform) Option {
	return func(cfg *config) {
		cfg.plat = p
	}
}

// WithLogger sets the logger used for diagnostic messages.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithSwap forces byte-swapping of the words stored in caller buffers.
// By default words are swapped on little-endian hosts.
func WithSwap(v bool) Option {
	return func(cfg *config) {
		cfg.swap = v
	}
}

// WithVerbose enables logging of normal readout conditions, such as an
// empty output buffer.
func WithVerbose(v bool) Option {
	return func(cfg *config) {
		cfg.verbose = v
	}
}

func withDMATimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}
