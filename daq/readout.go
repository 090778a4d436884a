// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"log"

	"github.com/go-lpc/qdc/internal/config"
	"github.com/go-lpc/qdc/v792"
)

// blockWords is the size of a DMA transfer draining a full output buffer.
const blockWords = v792.MaxEvents * v792.MaxEventWords

// Stats holds the counters of a readout.
type Stats struct {
	Triggers uint64 // number of triggers read out
	Events   uint64 // number of module events read out
	Empty    uint64 // number of module polls that timed out
	Failures uint64 // number of failed module reads
}

// Readout reads the modules of a driver, one trigger at a time.
type Readout struct {
	drv   *v792.Driver
	codec v792.Codec
	ids   []int

	msg   *log.Logger
	mode  string
	poll  int
	alert *Alerter

	buf   []uint32
	stats Stats
}

// NewReadout returns a readout of all the modules initialized in drv.
func NewReadout(drv *v792.Driver, opts ...Option) *Readout {
	cfg := newOptions()
	for _, opt := range opts {
		opt(&cfg)
	}

	rdo := &Readout{
		drv:   drv,
		codec: drv.Codec(),
		msg:   cfg.msg,
		mode:  cfg.mode,
		poll:  cfg.poll,
		alert: cfg.alert,
	}
	for id := 0; id < drv.Len(); id++ {
		rdo.ids = append(rdo.ids, id)
	}

	switch rdo.mode {
	case config.ModeDMA:
		// one spare word for the alignment filler.
		rdo.buf = make([]uint32, blockWords+1)
	default:
		rdo.buf = make([]uint32, v792.MaxEventWords)
	}
	return rdo
}

// Stats returns the readout counters.
func (rdo *Readout) Stats() Stats { return rdo.stats }

// Trigger reads out all modules for the trigger number trig into rec.
//
// A module without data after polling is cleared and contributes no word.
// A module that could not be read is cleared and contributes MarkerBad.
func (rdo *Readout) Trigger(rec *Record, trig uint32) {
	rec.Trigger = trig
	rec.Words = rec.Words[:0]
	for _, id := range rdo.ids {
		rec.Words = rdo.readModule(rec.Words, id)
	}
	rdo.stats.Triggers++
}

func (rdo *Readout) readModule(dst []uint32, id int) []uint32 {
	var (
		ready int
		err   error
		loop  int
	)
	for loop < rdo.poll {
		loop++
		ready, err = rdo.drv.Dready(id)
		if ready > 0 || err != nil {
			break
		}
	}

	if err == nil && ready <= 0 {
		rdo.msg.Printf("ERROR: no data in module %d (polls=%d)", id, loop)
		rdo.stats.Empty++
		rdo.clear(id)
		return dst
	}

	var words []uint32
	if err == nil {
		words, err = rdo.read(id, ready)
	}
	if err == nil && len(words) == 0 {
		err = fmt.Errorf("daq: no words read from module %d", id)
	}
	if err != nil {
		rdo.msg.Printf("ERROR: module %d read failed: %+v", id, err)
		rdo.stats.Failures++
		rdo.clear(id)
		if rdo.alert != nil {
			rdo.alert.Fail(id, err)
		}
		return append(dst, MarkerBad)
	}

	if rdo.alert != nil {
		rdo.alert.OK()
	}
	for _, w := range words {
		if v792.KindOf(w) == v792.KindTrailer {
			rdo.stats.Events++
		}
	}
	return append(dst, words...)
}

// read reads the next event(s) of module id and returns them as logical
// words. The returned slice aliases the readout buffer.
func (rdo *Readout) read(id, ready int) ([]uint32, error) {
	switch rdo.mode {
	case config.ModeDMA:
		if ready > v792.MaxEvents {
			ready = v792.MaxEvents
		}
		nwords := ready * v792.MaxEventWords
		n, err := rdo.drv.ReadBlock(id, rdo.buf, nwords)
		if err != nil {
			return nil, err
		}
		words := rdo.buf[:0]
		for _, v := range rdo.buf[:n] {
			w := rdo.codec.Decode(v)
			if v792.KindOf(w) == v792.KindInvalid {
				continue
			}
			words = append(words, w)
		}
		return words, nil

	default:
		n, err := rdo.drv.ReadEvent(id, rdo.buf)
		if err != nil {
			return nil, err
		}
		words := rdo.buf[:n]
		for i, v := range words {
			words[i] = rdo.codec.Decode(v)
		}
		return words, nil
	}
}

func (rdo *Readout) clear(id int) {
	err := rdo.drv.Clear(id)
	if err != nil {
		rdo.msg.Printf("could not clear module %d: %+v", id, err)
	}
}
