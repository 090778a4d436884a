// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/go-lpc/qdc/vme"
)

// Driver drives a set of V792 modules sitting on a VME bus.
type Driver struct {
	mu    sync.Mutex // serializes all register transactions
	bus   vme.Bus
	cfg   config
	msg   *log.Logger
	codec Codec

	am     vme.AddrMod
	offset int64 // local address minus bus address
	mods   []module

	irq irqState
}

type module struct {
	regs regmap
	addr uint32 // bus base address

	evtCount uint32 // shadow of the event counter
	evtRead  int64  // last event sequence read out, -1 if none
}

const noEvent = -1

// New returns a driver for modules reachable through bus.
// Modules are made available by Init.
func New(bus vme.Bus, opts ...Option) *Driver {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.msg == nil {
		cfg.msg = log.New(os.Stdout, "v792: ", 0)
	}
	return &Driver{
		bus:   bus,
		cfg:   cfg,
		msg:   cfg.msg,
		codec: Codec{Swap: cfg.swap},
	}
}

// Codec returns the codec used to store words in caller buffers.
func (drv *Driver) Codec() Codec { return drv.codec }

// Init probes n modules, stride bytes apart, starting at bus address base,
// and resets them. The crate identifier is programmed into each module.
//
// Init replaces any previously initialized set of modules, and resets the
// interrupt controller. Invalid arguments leave both untouched.
// If a module could not be probed, the modules found before it are kept
// and Init returns ErrPartialInit.
func (drv *Driver) Init(base, stride uint32, n int, crate uint8) error {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	if base == 0 {
		return fmt.Errorf("v792: could not initialize modules: %w", ErrInvalidAddress)
	}

	if stride == 0 || n == 0 {
		n = 1
	}
	if n > MaxModules {
		return fmt.Errorf("v792: could not initialize %d modules (max=%d): %w", n, MaxModules, ErrTooManyModules)
	}

	am := vme.A24
	if base >= a24Limit {
		am = vme.A32
		if drv.cfg.plat.NoA32 {
			return fmt.Errorf(
				"v792: could not initialize modules at 0x%08x (platform=%s): %w",
				base, drv.cfg.plat.Name, ErrUnsupportedAddressing,
			)
		}
	}

	local, err := drv.bus.Map(am, base)
	if err != nil {
		return fmt.Errorf("v792: could not map %v address 0x%08x (%v): %w", am, base, err, ErrBusMapping)
	}

	drv.mods = nil
	drv.resetIRQ()

	var (
		mods = make([]module, 0, n)
		perr error
	)
	for i := 0; i < n; i++ {
		var (
			addr = base + uint32(i)*stride
			regs = local + int64(i)*int64(stride)
			data = regs
		)
		if off := drv.cfg.plat.D32Offset; off != 0 {
			data = off + (regs & 0xffffff)
		}

		err := drv.bus.Probe(regs+regRev, 2)
		if err != nil {
			perr = err
			drv.msg.Printf("no addressable module at 0x%08x: %+v", addr, err)
			break
		}
		mods = append(mods, module{
			regs:    newRegmap(drv.bus, regs, data),
			addr:    addr,
			evtRead: noEvent,
		})
	}

	if len(mods) == 0 {
		return fmt.Errorf("v792: could not probe module at 0x%08x (%v): %w", base, perr, ErrNoModules)
	}

	for i := range mods {
		m := &mods[i]
		id := m.regs.boardID()
		rev := m.regs.r16(regRev)
		if err := m.regs.done(); err != nil {
			return fmt.Errorf("v792: could not read identity of module %d: %w", i, err)
		}
		if id != boardID {
			return fmt.Errorf(
				"v792: module %d at 0x%08x has board id 0x%x (want=0x%x): %w",
				i, m.addr, id, boardID, ErrWrongBoardType,
			)
		}
		drv.msg.Printf("initialized QDC %d at address 0x%08x (firmware=0x%04x)", i, m.addr, rev)
	}

	for i := range mods {
		m := &mods[i]
		m.regs.softReset()
		m.regs.dataReset()
		m.regs.w16(regIntLevel, 0)
		m.regs.w16(regEvTrigger, 0)
		m.regs.w16(regCrateSelect, uint16(crate))
		m.regs.w16(regBitClear2, IncrAllTrig)
		if err := m.regs.done(); err != nil {
			return fmt.Errorf("v792: could not reset module %d: %w", i, err)
		}
		m.evtCount = 0
		m.evtRead = noEvent
	}

	drv.am = am
	drv.offset = local - int64(base)
	drv.mods = mods

	if perr != nil {
		return fmt.Errorf("v792: initialized %d/%d modules: %w", len(mods), n, ErrPartialInit)
	}
	return nil
}

// module returns the module with the provided id.
// The driver lock must be held.
func (drv *Driver) module(id int) (*module, error) {
	if id < 0 || id >= len(drv.mods) {
		return nil, fmt.Errorf("v792: invalid module id %d: %w", id, ErrModuleNotInitialized)
	}
	return &drv.mods[id], nil
}

// Len returns the number of initialized modules.
func (drv *Driver) Len() int {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	return len(drv.mods)
}

// ScanMask returns a bit mask of the initialized module ids.
func (drv *Driver) ScanMask() uint32 {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	var mask uint32
	for i := range drv.mods {
		mask |= 1 << i
	}
	return mask
}

// BusAddr returns the VME bus address of a module, translated back from
// the local address its registers are mapped at.
func (drv *Driver) BusAddr(id int) (uint32, error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	m, err := drv.module(id)
	if err != nil {
		return 0, err
	}
	return uint32(m.regs.base - drv.offset), nil
}

// LastRead returns the sequence number of the last event read out of a
// module. ok is false when no event was read since the last clear.
func (drv *Driver) LastRead(id int) (seq uint32, ok bool, err error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	m, err := drv.module(id)
	if err != nil {
		return 0, false, err
	}
	if m.evtRead == noEvent {
		return 0, false, nil
	}
	return uint32(m.evtRead), true, nil
}

// SetEvtReadCnt sets the sequence number of the last event read out.
func (drv *Driver) SetEvtReadCnt(id int, seq uint32) error {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	m, err := drv.module(id)
	if err != nil {
		return err
	}
	m.setEvtRead(seq)
	return nil
}

// ReadEventCount reads the hardware event counter of a module, and
// returns the updated shadow counter.
func (drv *Driver) ReadEventCount(id int) (uint32, error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	m, err := drv.module(id)
	if err != nil {
		return 0, err
	}
	m.readEventCount()
	if err := m.regs.done(); err != nil {
		return 0, fmt.Errorf("v792: could not read event count of module %d: %w", id, err)
	}
	return m.evtCount, nil
}

func (m *module) readEventCount() {
	m.evtCount = m.evtCount&0xff000000 + m.regs.evCount()
}

// setEvtRead records seq as the last read event, keeping the roll-over
// bits of the previous value.
func (m *module) setEvtRead(seq uint32) {
	seq &= seqMask
	if m.evtRead < 0 {
		m.evtRead = int64(seq)
		return
	}
	m.evtRead = m.evtRead&0x7f000000 + int64(seq)
}

func (m *module) clearCounters() {
	m.evtRead = noEvent
	m.evtCount = 0
}
