// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"context"
	"fmt"
	"io"
	"unsafe"
)

// ReadBlock transfers up to nwords words from the output buffer of a module
// into dst with a DMA block transfer, and returns the number of valid words
// stored in dst.
//
// When dst is not 8-byte aligned, a not-valid-datum word is stored first
// and the transfer starts at dst[1]. That word is part of the returned count,
// so dst must hold at least nwords+1 words.
//
// A transfer completing without a bus error must end on a trailer word,
// possibly followed by not-valid-datum words. Otherwise ReadBlock returns the
// number of words up to the last trailer together with ErrProtocolDesync,
// and the rest of the cut event is lost.
//
// With bus errors enabled (EnableBerr), the module terminates the transfer
// once its buffer is drained. The valid data then ends with the last
// trailer word found scanning backward from the last word transferred.
// If no trailer is found, ReadBlock returns the number of words transferred
// together with ErrRecoveryFailed.
//
// The sequence number of the last trailer transferred is recorded as the
// last event read.
func (drv *Driver) ReadBlock(id int, dst []uint32, nwords int) (int, error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	m, err := drv.module(id)
	if err != nil {
		return 0, err
	}

	if nwords <= 0 {
		return 0, fmt.Errorf("v792: invalid block size %d for module %d", nwords, id)
	}
	if len(dst) == 0 {
		return 0, fmt.Errorf("v792: could not read block from module %d: %w", id, io.ErrShortBuffer)
	}

	dummy := alignPad(dst)
	if len(dst) < nwords+dummy {
		return 0, fmt.Errorf(
			"v792: could not read %d words from module %d into %d words: %w",
			nwords, id, len(dst), io.ErrShortBuffer,
		)
	}
	if dummy == 1 {
		dst[0] = drv.codec.Encode(tagInvalid)
	}

	ctx, cancel := context.WithTimeout(context.Background(), drv.cfg.timeout)
	defer cancel()

	nb, err := drv.bus.DMA(ctx, dst[dummy:dummy+nwords], drv.am, m.addr+regData)
	if err == nil {
		n := nwords + dummy
		k := drv.lastTrailer(dst[:n])
		if k >= 0 {
			m.setEvtRead(drv.codec.Decode(dst[k]) & seqMask)
		}
		if j := drv.lastValid(dst[dummy:n]); j >= 0 && dummy+j != k {
			drv.msg.Printf("module %d: block of %d words ends within an event", id, nwords)
			return k + 1, fmt.Errorf(
				"v792: block of %d words from module %d ends within an event: %w",
				nwords, id, ErrProtocolDesync,
			)
		}
		return n, nil
	}

	r := &m.regs
	berr := r.berr()
	r.clearBerr()
	if rerr := r.done(); rerr != nil {
		return 0, fmt.Errorf(
			"v792: could not check bus error status of module %d after DMA (%v): %w",
			id, rerr, ErrDMATransfer,
		)
	}

	if !berr {
		drv.msg.Printf("module %d: DMA transfer error (bytes=%d): %+v", id, nb, err)
		return 0, fmt.Errorf("v792: could not read block from module %d (%v): %w", id, err, ErrDMATransfer)
	}

	xfer := nb/4 + dummy
	if xfer > nwords+dummy {
		xfer = nwords + dummy
	}

	k := drv.lastTrailer(dst[:xfer])
	if k < 0 {
		drv.msg.Printf("module %d: could not find end of block (words=%d)", id, xfer)
		return xfer, fmt.Errorf(
			"v792: no trailer in %d words read from module %d: %w",
			xfer, id, ErrRecoveryFailed,
		)
	}

	m.setEvtRead(drv.codec.Decode(dst[k]) & seqMask)
	return k + 1, nil
}

// alignPad returns the number of words to skip so that a transfer into dst
// starts on an 8-byte boundary.
func alignPad(dst []uint32) int {
	if uintptr(unsafe.Pointer(&dst[0]))&0x7 != 0 {
		return 1
	}
	return 0
}

// lastValid returns the index of the last word in words that is not a
// not-valid-datum word, or -1.
func (drv *Driver) lastValid(words []uint32) int {
	for i := len(words) - 1; i >= 0; i-- {
		if drv.codec.Kind(words[i]) != KindInvalid {
			return i
		}
	}
	return -1
}

// lastTrailer returns the index of the last trailer word in words, or -1.
func (drv *Driver) lastTrailer(words []uint32) int {
	for i := len(words) - 1; i >= 0; i-- {
		if drv.codec.Kind(words[i]) == KindTrailer {
			return i
		}
	}
	return -1
}
