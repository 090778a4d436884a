// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vmesim // import "github.com/go-lpc/qdc/vme/vmesim"

import (
	"sync"
)

// Register offsets of the simulated V792 register block.
const (
	Size = 0x10000 // size of a module address space

	offData     = 0x0000
	dataSize    = 0x0800
	offRev      = 0x1000
	offGeo      = 0x1002
	offCBLT     = 0x1004
	offBitSet1  = 0x1006
	offBitClr1  = 0x1008
	offIntLevel = 0x100a
	offIntVec   = 0x100c
	offStatus1  = 0x100e
	offControl1 = 0x1010
	offSSReset  = 0x1016
	offCBLTCtl  = 0x101a
	offEvTrig   = 0x1020
	offStatus2  = 0x1022
	offEvCntL   = 0x1024
	offEvCntH   = 0x1026
	offIncrEvt  = 0x1028
	offIncrOff  = 0x102a
	offFCLR     = 0x1030
	offBitSet2  = 0x1032
	offBitClr2  = 0x1034
	offCrate    = 0x103c
	offEvCntRst = 0x1040
	offIPED     = 0x1060
	offSWComm   = 0x1068
	offThresh   = 0x1080
	offROM      = 0x8026
)

const (
	tagHeader  = 0x02000000
	tagTrailer = 0x04000000
	tagInvalid = 0x06000000

	maxEvents = 32 // output buffer depth, in events
)

// BoardID is the identifier a V792 reports in its configuration ROM.
const BoardID = 0x318

// Module is a behavioural model of a CAEN V792 QDC.
//
// Reads in the data window pop words from the output buffer; an empty
// buffer yields not-valid-datum words. Gates produce events from the
// charges returned by Source, if any.
type Module struct {
	mu sync.Mutex

	bus   *Bus
	Rev   uint16
	Board uint32

	// Source returns the 32 charges converted on each gate.
	// A nil Source models a module with no input connected.
	Source func() []uint16

	geo      uint16
	crate    uint16
	cblt     uint16
	cbltCtl  uint16
	bitSet1  uint16
	control1 uint16
	bitSet2  uint16
	intLevel uint16
	intVec   uint16
	evTrig   uint16
	fclr     uint16
	iped     uint16
	thresh   [32]uint16

	evCount uint32
	evts    [][]uint32
	pos     int
	gates   int
}

// NewModule returns a module with the provided geographical address.
func NewModule(geo uint8) *Module {
	m := &Module{
		Rev:     0x0011,
		Board:   BoardID,
		geo:     uint16(geo) & 0x1f,
		evCount: 0xffffff,
		iped:    180,
		fclr:    0,
	}
	return m
}

// Gates returns the number of gates the module received.
func (m *Module) Gates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gates
}

// Events returns the number of events sitting in the output buffer.
func (m *Module) Events() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.evts)
}

// Thresh returns the threshold of channel ch.
func (m *Module) Thresh(ch int) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresh[ch]
}

// Push appends a raw block of words to the output buffer, as a single
// event, regardless of its content.
func (m *Module) Push(words ...uint32) {
	m.mu.Lock()
	m.evts = append(m.evts, append([]uint32(nil), words...))
	m.mu.Unlock()
	m.notify(false)
}

// Datum is a converted channel value.
type Datum struct {
	Channel   uint8
	Value     uint16
	Underflow bool
	Overflow  bool
}

// PushEvent appends a well-formed event holding data to the output buffer,
// and increments the event counter. It returns the event sequence number.
func (m *Module) PushEvent(data ...Datum) uint32 {
	m.mu.Lock()
	seq := m.store(data)
	m.mu.Unlock()
	m.notify(false)
	return seq
}

func (m *Module) store(data []Datum) uint32 {
	m.evCount = (m.evCount + 1) & 0xffffff
	geo := uint32(m.geo) << 27
	evt := make([]uint32, 0, len(data)+2)
	evt = append(evt, geo|tagHeader|uint32(m.crate&0xff)<<16|uint32(len(data)&0x3f)<<8)
	for _, d := range data {
		w := geo | uint32(d.Channel&0x3f)<<16 | uint32(d.Value&0xfff)
		if d.Underflow {
			w |= 0x2000
		}
		if d.Overflow {
			w |= 0x1000
		}
		evt = append(evt, w)
	}
	evt = append(evt, geo|tagTrailer|m.evCount)
	if len(m.evts) < maxEvents {
		m.evts = append(m.evts, evt)
	}
	return m.evCount
}

func (m *Module) gate() {
	m.gates++
	if m.bitSet2&0x2 != 0 || m.Source == nil {
		return
	}
	charges := m.Source()
	var data []Datum
	for i, q := range charges {
		if i >= len(m.thresh) {
			break
		}
		d := Datum{
			Channel:   uint8(i),
			Value:     q & 0xfff,
			Overflow:  q > 0xfff,
			Underflow: q < m.thresh[i]*16,
		}
		if d.Overflow {
			d.Value = 0xfff
		}
		if d.Overflow && m.bitSet2&0x8 == 0 {
			continue
		}
		if d.Underflow && m.bitSet2&0x10 == 0 {
			continue
		}
		data = append(data, d)
	}
	if len(data) == 0 && m.bitSet2&0x1000 == 0 {
		m.evCount = (m.evCount + 1) & 0xffffff
		return
	}
	m.store(data)
}

// notify raises the module interrupt when the trigger threshold is reached.
// Interrupts raised from within a register access are delivered from
// another goroutine, as the accessing master may hold locks the handler needs.
func (m *Module) notify(async bool) {
	m.mu.Lock()
	var (
		n     = len(m.evts)
		lvl   = uint8(m.intLevel & 0x7)
		vec   = uint8(m.intVec & 0xff)
		trig  = int(m.evTrig & 0x1f)
		raise = m.bus != nil && lvl > 0 && trig > 0 && n >= trig
	)
	m.mu.Unlock()

	switch {
	case !raise:
	case async:
		go m.bus.Raise(lvl, vec)
	default:
		m.bus.Raise(lvl, vec)
	}
}

func (m *Module) reset() {
	m.evts = nil
	m.pos = 0
}

func (m *Module) pop() uint32 {
	if len(m.evts) == 0 {
		return uint32(m.geo)<<27 | tagInvalid
	}
	w := m.evts[0][m.pos]
	m.pos++
	if m.pos >= len(m.evts[0]) {
		m.evts = m.evts[1:]
		m.pos = 0
	}
	return w
}

func (m *Module) status1() uint16 {
	v := uint16(0x40)
	if len(m.evts) > 0 {
		v |= 0x1
	}
	return v
}

func (m *Module) status2() uint16 {
	switch {
	case len(m.evts) == 0:
		return 0x2
	case len(m.evts) >= maxEvents:
		return 0x4
	}
	return 0
}

func (m *Module) read16(off uint32) (uint16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case off >= offThresh && off < offThresh+2*32:
		return m.thresh[(off-offThresh)/2], true
	case off >= offROM:
		return m.rom(off)
	}

	switch off {
	case offRev:
		return m.Rev, true
	case offGeo:
		return m.geo, true
	case offCBLT:
		return m.cblt, true
	case offBitSet1, offBitClr1:
		return m.bitSet1, true
	case offIntLevel:
		return m.intLevel, true
	case offIntVec:
		return m.intVec, true
	case offStatus1:
		return m.status1(), true
	case offControl1:
		return m.control1, true
	case offCBLTCtl:
		return m.cbltCtl, true
	case offEvTrig:
		return m.evTrig, true
	case offStatus2:
		return m.status2(), true
	case offEvCntL:
		return uint16(m.evCount), true
	case offEvCntH:
		return uint16(m.evCount>>16) & 0xff, true
	case offFCLR:
		return m.fclr, true
	case offBitSet2, offBitClr2:
		return m.bitSet2, true
	case offCrate:
		return m.crate, true
	case offIPED:
		return m.iped, true
	}
	return 0, false
}

func (m *Module) rom(off uint32) (uint16, bool) {
	switch off {
	case offROM + 0x00:
		return 0x00, true // OUI
	case offROM + 0x04:
		return 0x40, true
	case offROM + 0x08:
		return 0xe6, true
	case offROM + 0x0c:
		return 0x11, true // version
	case offROM + 0x10:
		return uint16(m.Board>>16) & 0xff, true
	case offROM + 0x14:
		return uint16(m.Board>>8) & 0xff, true
	case offROM + 0x18:
		return uint16(m.Board) & 0xff, true
	case offROM + 0x28:
		return 0x01, true // revision
	}
	return 0, false
}

func (m *Module) write16(off uint32, v uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if off >= offThresh && off < offThresh+2*32 {
		m.thresh[(off-offThresh)/2] = v & 0x1ff
		return true
	}

	switch off {
	case offGeo:
		// latched on the next reset.
		m.geo = v & 0x1f
	case offCBLT:
		m.cblt = v & 0xff
	case offBitSet1:
		m.bitSet1 |= v & 0x98
		if v&0x80 != 0 {
			m.softReset()
		}
	case offBitClr1:
		m.bitSet1 &^= v & 0x98
	case offIntLevel:
		m.intLevel = v & 0x7
	case offIntVec:
		m.intVec = v & 0xff
	case offControl1:
		m.control1 = v & 0xf4
	case offSSReset:
		m.softReset()
	case offCBLTCtl:
		m.cbltCtl = v & 0x3
	case offEvTrig:
		m.evTrig = v & 0x1f
	case offIncrEvt:
		if len(m.evts) > 0 {
			m.evts = m.evts[1:]
			m.pos = 0
		}
	case offIncrOff:
		m.pop()
	case offFCLR:
		m.fclr = v & 0x3ff
	case offBitSet2:
		m.bitSet2 |= v & 0x7fff
		if v&0x4 != 0 {
			m.reset()
		}
	case offBitClr2:
		m.bitSet2 &^= v & 0x7fff
	case offCrate:
		m.crate = v & 0xff
	case offEvCntRst:
		m.evCount = 0xffffff
	case offIPED:
		m.iped = v & 0xff
	case offSWComm:
		m.gate()
	default:
		return false
	}
	return true
}

func (m *Module) softReset() {
	m.reset()
	m.control1 = 0
	m.bitSet2 = 0
	m.evTrig = 0
	m.evCount = 0xffffff
}
