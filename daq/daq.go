// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq holds the host side of a V792 QDC data acquisition:
// the per-trigger readout loop, the run records it produces and the
// TDAQ server driving it.
package daq // import "github.com/go-lpc/qdc/daq"

import (
	"io"
	"log"
	"os"

	"github.com/go-lpc/qdc/internal/config"
)

const (
	// MarkerBad replaces the data of a module that could not be read out.
	MarkerBad = 0xda000bad
	// MarkerEOB terminates the record of a trigger.
	MarkerEOB = 0xdaebd00d

	defaultPoll = 1000
)

type options struct {
	msg   *log.Logger
	mode  string
	poll  int
	alert *Alerter
}

func newOptions() options {
	return options{
		msg:  log.New(os.Stdout, "daq: ", 0),
		mode: config.ModePIO,
		poll: defaultPoll,
	}
}

// Option configures a Readout.
type Option func(*options)

// WithLogger sets the logger used to report readout errors.
func WithLogger(msg *log.Logger) Option {
	return func(o *options) {
		if msg == nil {
			msg = log.New(io.Discard, "", 0)
		}
		o.msg = msg
	}
}

// WithMode selects the readout mode, config.ModePIO or config.ModeDMA.
func WithMode(mode string) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithPoll sets the number of times a module is polled for data before
// giving up on a trigger.
func WithPoll(n int) Option {
	return func(o *options) {
		if n <= 0 {
			n = defaultPoll
		}
		o.poll = n
	}
}

// WithAlerter sets the alerter notified of readout failures.
func WithAlerter(a *Alerter) Option {
	return func(o *options) {
		o.alert = a
	}
}
