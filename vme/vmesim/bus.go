// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vmesim provides an in-memory VME crate populated with simulated
// V792 modules.
package vmesim // import "github.com/go-lpc/qdc/vme/vmesim"

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/go-lpc/qdc/vme"
)

// Bus is a simulated VME crate implementing vme.Bus.
//
// Local addresses are am<<32|addr, as for vme.DevMem.
type Bus struct {
	lock sync.Mutex

	mu    sync.Mutex
	plat  vme.Platform
	slots []slot
	isrs  map[uint8]isr
	dmas  int

	// MapErr, when set, is returned by Map.
	MapErr error
	// IntErr, when set, is returned by IntConnect.
	IntErr error
	// DMAErr, when set, makes DMA fail without transferring any word
	// and without a bus error from the module.
	DMAErr error
	// Truncate, when positive, terminates DMA transfers with a bus error
	// after that many words.
	Truncate int
}

type slot struct {
	am   vme.AddrMod
	base uint32
	mod  *Module
}

type isr struct {
	vector uint8
	fct    func()
}

// New returns an empty crate for the provided platform.
func New(plat vme.Platform) *Bus {
	return &Bus{
		plat: plat,
		isrs: make(map[uint8]isr),
	}
}

// Insert plugs m at base address base in the am address space.
func (bus *Bus) Insert(am vme.AddrMod, base uint32, m *Module) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	m.bus = bus
	bus.slots = append(bus.slots, slot{am: am, base: base, mod: m})
}

// DMAs returns the number of DMA transfers that were started.
func (bus *Bus) DMAs() int {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return bus.dmas
}

func (bus *Bus) lookup(am vme.AddrMod, addr uint32) (*Module, uint32, bool) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	for _, s := range bus.slots {
		if s.am != am || addr < s.base || int64(addr) >= int64(s.base)+Size {
			continue
		}
		return s.mod, addr - s.base, true
	}
	return nil, 0, false
}

func (bus *Bus) resolve(off int64) (*Module, uint32, error) {
	am := vme.AddrMod(off >> 32)
	addr := uint32(off)
	if d32 := bus.plat.D32Offset; d32 != 0 && d32 <= off && off < d32+0x1000000 {
		am = vme.A24
		addr = uint32(off - d32)
	}
	m, rel, ok := bus.lookup(am, addr)
	if !ok {
		return nil, 0, fmt.Errorf("vmesim: no module at %v 0x%08x: %w", am, addr, vme.ErrBusError)
	}
	return m, rel, nil
}

func (bus *Bus) Map(am vme.AddrMod, addr uint32) (int64, error) {
	if bus.MapErr != nil {
		return 0, bus.MapErr
	}
	if am == vme.A32 && bus.plat.NoA32 {
		return 0, fmt.Errorf("vmesim: platform %q has no A32 window", bus.plat.Name)
	}
	return int64(am)<<32 | int64(addr), nil
}

func (bus *Bus) ReadAt(p []byte, off int64) (int, error) {
	m, rel, err := bus.resolve(off)
	if err != nil {
		return 0, err
	}

	switch len(p) {
	case 4:
		if rel >= offData+dataSize {
			return 0, fmt.Errorf("vmesim: invalid D32 read @0x%04x", rel)
		}
		m.mu.Lock()
		w := m.pop()
		m.mu.Unlock()
		binary.BigEndian.PutUint32(p, w)
		return 4, nil
	case 2:
		v, _ := m.read16(rel)
		binary.BigEndian.PutUint16(p, v)
		return 2, nil
	}
	return 0, fmt.Errorf("vmesim: invalid read size %d", len(p))
}

func (bus *Bus) WriteAt(p []byte, off int64) (int, error) {
	m, rel, err := bus.resolve(off)
	if err != nil {
		return 0, err
	}

	switch len(p) {
	case 4:
		// writes to the output buffer are ignored.
		return 4, nil
	case 2:
		v := binary.BigEndian.Uint16(p)
		if !m.write16(rel, v) {
			return 0, fmt.Errorf("vmesim: invalid write @0x%04x", rel)
		}
		if rel == offSWComm {
			m.notify(true)
		}
		return 2, nil
	}
	return 0, fmt.Errorf("vmesim: invalid write size %d", len(p))
}

func (bus *Bus) Probe(local int64, n int) error {
	_, _, err := bus.resolve(local)
	return err
}

func (bus *Bus) DMA(ctx context.Context, dst []uint32, am vme.AddrMod, addr uint32) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	bus.mu.Lock()
	bus.dmas++
	bus.mu.Unlock()

	if bus.DMAErr != nil {
		return 0, bus.DMAErr
	}

	m, rel, ok := bus.lookup(am, addr)
	if !ok || rel >= offData+dataSize {
		return 0, fmt.Errorf("vmesim: no data window at %v 0x%08x: %w", am, addr, vme.ErrBusError)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	berr := m.control1&0x20 != 0
	for i := range dst {
		if (berr && len(m.evts) == 0) || (bus.Truncate > 0 && i >= bus.Truncate) {
			m.bitSet1 |= 0x8
			return 4 * i, fmt.Errorf("vmesim: DMA from 0x%08x: %w", addr, vme.ErrBusError)
		}
		dst[i] = vme.HostWord(m.pop())
	}
	return 4 * len(dst), nil
}

func (bus *Bus) IntConnect(vector, level uint8, fct func()) error {
	if bus.IntErr != nil {
		return bus.IntErr
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.isrs[level] = isr{vector: vector, fct: fct}
	return nil
}

func (bus *Bus) IntDisconnect(level uint8) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.isrs, level)
	return nil
}

// Raise asserts an interrupt on level with the provided vector, and runs
// the connected handler in the calling goroutine.
// Raise reports whether a handler was run.
func (bus *Bus) Raise(level, vector uint8) bool {
	bus.mu.Lock()
	h, ok := bus.isrs[level]
	bus.mu.Unlock()
	if !ok || h.vector != vector {
		return false
	}
	h.fct()
	return true
}

func (bus *Bus) Lock()   { bus.lock.Lock() }
func (bus *Bus) Unlock() { bus.lock.Unlock() }

var (
	_ vme.Bus = (*Bus)(nil)
)
