// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"encoding/binary"
	"fmt"

	"github.com/go-lpc/qdc/vme"
)

// regmap is a typed view over the register block of a single module.
//
// Accessors are no-ops once an access failed: the first error is kept
// until done is called. Callers must hold the driver lock from the first
// access to done.
type regmap struct {
	bus  vme.Bus
	base int64 // local address of the D16 register block
	data int64 // local address of the D32 output buffer window

	err  error
	xbuf [4]byte
}

func newRegmap(bus vme.Bus, base, data int64) regmap {
	return regmap{bus: bus, base: base, data: data}
}

// done returns the first error encountered since the last call to done,
// and resets it.
func (r *regmap) done() error {
	err := r.err
	r.err = nil
	return err
}

func (r *regmap) r16(off int64) uint16 {
	if r.err != nil {
		return 0
	}
	_, r.err = r.bus.ReadAt(r.xbuf[:2], r.base+off)
	if r.err != nil {
		r.err = fmt.Errorf("v792: could not read register 0x%04x: %w", off, r.err)
		return 0
	}
	return binary.BigEndian.Uint16(r.xbuf[:2])
}

func (r *regmap) w16(off int64, v uint16) {
	if r.err != nil {
		return
	}
	binary.BigEndian.PutUint16(r.xbuf[:2], v)
	_, r.err = r.bus.WriteAt(r.xbuf[:2], r.base+off)
	if r.err != nil {
		r.err = fmt.Errorf("v792: could not write register 0x%04x: %w", off, r.err)
	}
}

// word reads the next 32-bit word of the output buffer, in logical order.
func (r *regmap) word(i int) uint32 {
	if r.err != nil {
		return 0
	}
	off := int64(4 * (i % bufferWords))
	_, r.err = r.bus.ReadAt(r.xbuf[:4], r.data+regData+off)
	if r.err != nil {
		r.err = fmt.Errorf("v792: could not read output buffer word %d: %w", i, r.err)
		return 0
	}
	return binary.BigEndian.Uint32(r.xbuf[:4])
}

func (r *regmap) thresh(ch int) int16 {
	return int16(r.r16(regThresh + 2*int64(ch)))
}

func (r *regmap) setThresh(ch int, v int16) {
	r.w16(regThresh+2*int64(ch), uint16(v))
}

// softReset pulses the soft reset bit of bit set 1.
// It also re-latches the geographical address.
func (r *regmap) softReset() {
	r.w16(regBitSet1, bitSoftReset)
	r.w16(regBitClear1, bitSoftReset)
}

// dataReset pulses the data reset bit of bit set 2, clearing the output buffer.
func (r *regmap) dataReset() {
	r.w16(regBitSet2, DataReset)
	r.w16(regBitClear2, DataReset)
}

// clearBerr clears the bus error flag of bit set 1.
func (r *regmap) clearBerr() {
	r.w16(regBitClear1, bitBusError)
}

func (r *regmap) berr() bool {
	return r.r16(regBitSet1)&bitBusError != 0
}

func (r *regmap) empty() bool {
	return r.r16(regStatus2)&statBufEmpty != 0
}

func (r *regmap) ready() bool {
	return r.r16(regStatus1)&statDataReady != 0
}

// evCount returns the 24-bit hardware event counter.
func (r *regmap) evCount() uint32 {
	lo := uint32(r.r16(regEvCountL))
	hi := uint32(r.r16(regEvCountH) & evtCountHiMask)
	return hi<<16 | lo
}

// setControl1 read-modify-writes control register 1: set bits are or-ed in,
// clr bits are cleared.
func (r *regmap) setControl1(set, clr uint16) {
	v := r.r16(regControl1)
	r.w16(regControl1, (v|set)&^clr)
}

// boardID reads the board identifier from the configuration ROM.
func (r *regmap) boardID() uint32 {
	id3 := uint32(r.r16(romID3) & 0xff)
	id2 := uint32(r.r16(romID2) & 0xff)
	id1 := uint32(r.r16(romID1) & 0xff)
	return id3<<16 | id2<<8 | id1
}
