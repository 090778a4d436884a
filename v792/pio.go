// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"fmt"
	"io"
)

// ReadEvent reads a single event from the output buffer of a module into
// dst, word by word. It returns the number of words stored in dst
// (header, data and trailer), or 0 when no event is available yet.
//
// ReadEvent fails with ErrProtocolDesync when the event does not start
// with a header or does not end with a trailer. The module should then be
// cleared before reading again.
func (drv *Driver) ReadEvent(id int, dst []uint32) (int, error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	m, err := drv.module(id)
	if err != nil {
		return 0, err
	}

	n, err := drv.readEvent(id, m, len(dst), func(i int, w uint32) {
		dst[i] = drv.codec.Encode(w)
	})
	if err != nil {
		return 0, fmt.Errorf("v792: could not read event from module %d: %w", id, err)
	}
	return n, nil
}

// PrintEvent reads a single event from the output buffer of a module and
// writes a description of its words to w.
func (drv *Driver) PrintEvent(id int, w io.Writer) (int, error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	m, err := drv.module(id)
	if err != nil {
		return 0, err
	}

	n, err := drv.readEvent(id, m, 2+countMask>>countShift, func(i int, v uint32) {
		switch KindOf(v) {
		case KindHeader:
			h, _ := DecodeHeader(v)
			fmt.Fprintf(w, "  ADC data for module %d\n", id)
			fmt.Fprintf(w, "  Header:  0x%08x  geo=%d crate=%d words=%d\n", v, h.Geo, h.Crate, h.Count)
		case KindTrailer:
			t, _ := DecodeTrailer(v)
			fmt.Fprintf(w, "  Trailer: 0x%08x  event=%d\n", v, t.Seq)
		default:
			d, _ := DecodeDatum(v)
			flags := ""
			if d.Underflow {
				flags += " UN"
			}
			if d.Overflow {
				flags += " OV"
			}
			fmt.Fprintf(w, "    0x%08x  ch=%2d value=%4d%s\n", v, d.Channel, d.Value, flags)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("v792: could not print event from module %d: %w", id, err)
	}
	if n == 0 {
		fmt.Fprintf(w, "  no event ready for module %d\n", id)
	}
	return n, nil
}

// readEvent walks the next event of the module output buffer, handing each
// logical word to emit. Events longer than max words are rejected.
// The driver lock must be held.
func (drv *Driver) readEvent(id int, m *module, max int, emit func(i int, w uint32)) (int, error) {
	r := &m.regs
	empty := r.empty()
	if err := r.done(); err != nil {
		return 0, err
	}
	if empty {
		if drv.cfg.verbose {
			drv.msg.Printf("module %d: data buffer is empty", id)
		}
		return 0, nil
	}

	ready := r.ready()
	if err := r.done(); err != nil {
		return 0, err
	}
	if !ready {
		if drv.cfg.verbose {
			drv.msg.Printf("module %d: data not ready for readout", id)
		}
		return 0, nil
	}

	hw := r.word(0)
	if err := r.done(); err != nil {
		return 0, err
	}
	hdr, err := DecodeHeader(hw)
	if err != nil {
		drv.msg.Printf("module %d: invalid header word 0x%08x", id, hw)
		return 0, err
	}

	n := int(hdr.Count)
	if n+2 > max {
		return 0, fmt.Errorf("v792: event of %d words does not fit in %d words: %w", n+2, max, io.ErrShortBuffer)
	}

	emit(0, hw)
	for i := 1; i <= n; i++ {
		emit(i, r.word(i))
	}
	tw := r.word(n + 1)
	if err := r.done(); err != nil {
		return 0, err
	}

	tlr, err := DecodeTrailer(tw)
	if err != nil {
		drv.msg.Printf("module %d: invalid trailer word 0x%08x", id, tw)
		return 0, err
	}
	emit(n+1, tw)

	m.setEvtRead(tlr.Seq)
	return n + 2, nil
}

// FlushEvent reads and discards the words of the next event of a module,
// until a trailer or a not-valid-datum word is found.
// verbosity > 0 logs the framing words found, verbosity > 1 also logs
// every flushed word.
// FlushEvent returns the number of words read.
func (drv *Driver) FlushEvent(id int, verbosity int) (int, error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	m, err := drv.module(id)
	if err != nil {
		return 0, err
	}

	r := &m.regs
	empty := r.empty()
	ready := !empty && r.ready()
	if err := r.done(); err != nil {
		return 0, fmt.Errorf("v792: could not flush module %d: %w", id, err)
	}
	switch {
	case empty:
		if verbosity > 0 {
			drv.msg.Printf("module %d: data buffer is empty", id)
		}
		return 0, nil
	case !ready:
		if verbosity > 0 {
			drv.msg.Printf("module %d: data not ready for readout", id)
		}
		return 0, nil
	}

	for i := 0; i < bufferWords; i++ {
		w := r.word(i)
		if err := r.done(); err != nil {
			return i, fmt.Errorf("v792: could not flush module %d: %w", id, err)
		}
		if verbosity > 1 {
			drv.msg.Printf("module %d: flush word[%03d] = 0x%08x", id, i, w)
		}

		switch k := KindOf(w); k {
		case KindData:
		case KindHeader:
			if verbosity > 0 {
				drv.msg.Printf("module %d: found header 0x%08x", id, w)
			}
		case KindTrailer:
			if verbosity > 0 {
				drv.msg.Printf("module %d: found trailer 0x%08x", id, w)
			}
			m.setEvtRead(w & seqMask)
			return i + 1, nil
		case KindInvalid:
			if verbosity > 0 {
				drv.msg.Printf("module %d: buffer empty 0x%08x", id, w)
			}
			return i + 1, nil
		default:
			if verbosity > 0 {
				drv.msg.Printf("module %d: invalid data 0x%08x (%v)", id, w, k)
			}
		}
	}

	return bufferWords, fmt.Errorf(
		"v792: no end of event after %d words from module %d: %w",
		bufferWords, id, ErrProtocolDesync,
	)
}
