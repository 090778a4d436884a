// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package vme // import "github.com/go-lpc/qdc/vme"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-lpc/qdc/internal/mmap"
	"golang.org/x/sys/unix"
)

// Window describes a VME master window exposed by a bridge driver as a
// region of a memory device.
type Window struct {
	AM     AddrMod
	Base   uint32 // first bus address covered by the window
	Size   int    // size of the window in bytes
	Offset int64  // offset of the window inside the memory device
}

func (w Window) contains(addr uint32) bool {
	return w.Base <= addr && int64(addr) < int64(w.Base)+int64(w.Size)
}

// DevMem is a Bus backed by character devices of a VME bridge driver:
//   - a memory device whose master windows are mmapped,
//   - an optional DMA device, read with pread at am<<32|addr,
//   - an optional IRQ device, delivering (level, vector) byte pairs.
//
// Local addresses handed out by Map are am<<32|addr.
type DevMem struct {
	bus sync.Mutex

	plat Platform
	mem  *os.File
	wins []Window
	maps []*mmap.Handle

	dma *os.File
	irq *os.File

	mu   sync.Mutex
	isrs map[uint8]devISR
	quit chan struct{}
}

type devISR struct {
	vector uint8
	fct    func()
}

// OpenDevMem opens the memory device mem and maps the provided windows.
// dma and irq may be empty when the bridge does not provide them.
func OpenDevMem(plat Platform, mem, dma, irq string, wins ...Window) (*DevMem, error) {
	f, err := os.OpenFile(mem, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("vme: could not open memory device %q: %w", mem, err)
	}

	bus := &DevMem{
		plat: plat,
		mem:  f,
		wins: make([]Window, 0, len(wins)),
		isrs: make(map[uint8]devISR),
		quit: make(chan struct{}),
	}

	for _, w := range wins {
		if w.AM == A32 && plat.NoA32 {
			_ = bus.Close()
			return nil, fmt.Errorf("vme: platform %q has no A32 window", plat.Name)
		}
		h, err := mmap.Map(f, w.Offset, w.Size)
		if err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("vme: could not map %v window @0x%08x: %w", w.AM, w.Base, err)
		}
		bus.wins = append(bus.wins, w)
		bus.maps = append(bus.maps, h)
	}

	if dma != "" {
		bus.dma, err = os.Open(dma)
		if err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("vme: could not open DMA device %q: %w", dma, err)
		}
	}

	if irq != "" {
		bus.irq, err = os.Open(irq)
		if err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("vme: could not open IRQ device %q: %w", irq, err)
		}
		go bus.dispatch()
	}

	return bus, nil
}

// Close unmaps all windows and closes the bridge devices.
func (bus *DevMem) Close() error {
	var errs []error
	for _, h := range bus.maps {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	bus.maps = nil
	bus.wins = nil

	select {
	case <-bus.quit:
	default:
		close(bus.quit)
	}

	for _, f := range []*os.File{bus.irq, bus.dma, bus.mem} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("vme: could not close bridge: %w", errs[0])
	}
	return nil
}

func (bus *DevMem) resolve(off int64) (*mmap.Handle, int64, error) {
	am := AddrMod(off >> 32)
	addr := uint32(off)
	if d32 := bus.plat.D32Offset; d32 != 0 && d32 <= off && off < d32+0x1000000 {
		am = A24
		addr = uint32(off - d32)
	}
	for i, w := range bus.wins {
		if w.AM == am && w.contains(addr) {
			return bus.maps[i], int64(addr - w.Base), nil
		}
	}
	return nil, 0, fmt.Errorf("vme: local address 0x%x: %w", off, ErrNoWindow)
}

func (bus *DevMem) Map(am AddrMod, addr uint32) (int64, error) {
	if am == A32 && bus.plat.NoA32 {
		return 0, fmt.Errorf("vme: platform %q has no A32 window", bus.plat.Name)
	}
	for _, w := range bus.wins {
		if w.AM == am && w.contains(addr) {
			return int64(am)<<32 | int64(addr), nil
		}
	}
	return 0, fmt.Errorf("vme: %v address 0x%08x: %w", am, addr, ErrNoWindow)
}

func (bus *DevMem) ReadAt(p []byte, off int64) (int, error) {
	h, rel, err := bus.resolve(off)
	if err != nil {
		return 0, err
	}
	return h.ReadAt(p, rel)
}

func (bus *DevMem) WriteAt(p []byte, off int64) (int, error) {
	h, rel, err := bus.resolve(off)
	if err != nil {
		return 0, err
	}
	return h.WriteAt(p, rel)
}

func (bus *DevMem) Probe(local int64, n int) error {
	h, rel, err := bus.resolve(local)
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	_, err = h.Peek(buf, rel)
	if err != nil {
		if errors.Is(err, mmap.ErrFault) {
			return fmt.Errorf("vme: probe 0x%x: %w", local, ErrBusError)
		}
		return fmt.Errorf("vme: probe 0x%x: %w", local, err)
	}
	return nil
}

func (bus *DevMem) DMA(ctx context.Context, dst []uint32, am AddrMod, addr uint32) (int, error) {
	if bus.dma == nil {
		return 0, fmt.Errorf("vme: no DMA device")
	}

	type result struct {
		n   int
		err error
	}

	var (
		buf = make([]byte, 4*len(dst))
		res = make(chan result, 1)
	)
	go func() {
		n, err := bus.dma.ReadAt(buf, int64(am)<<32|int64(addr))
		res <- result{n, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("vme: DMA from 0x%08x: %w", addr, ctx.Err())
	case r = <-res:
	}

	for i := 0; i < r.n/4; i++ {
		dst[i] = NativeEndian.Uint32(buf[4*i:])
	}

	switch {
	case r.err == nil, errors.Is(r.err, io.EOF) && r.n == len(buf):
		return r.n, nil
	case errors.Is(r.err, unix.EIO):
		return r.n, fmt.Errorf("vme: DMA from 0x%08x: %w", addr, ErrBusError)
	default:
		return r.n, fmt.Errorf("vme: DMA from 0x%08x: %w", addr, r.err)
	}
}

func (bus *DevMem) IntConnect(vector, level uint8, isr func()) error {
	if bus.irq == nil {
		return fmt.Errorf("vme: no IRQ device")
	}
	if level == 0 || level > 7 {
		return fmt.Errorf("vme: invalid interrupt level %d", level)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.isrs[level] = devISR{vector: vector, fct: isr}
	return nil
}

func (bus *DevMem) IntDisconnect(level uint8) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.isrs, level)
	return nil
}

func (bus *DevMem) dispatch() {
	buf := make([]byte, 2)
	for {
		_, err := io.ReadFull(bus.irq, buf)
		if err != nil {
			return
		}
		select {
		case <-bus.quit:
			return
		default:
		}

		bus.mu.Lock()
		isr, ok := bus.isrs[buf[0]]
		bus.mu.Unlock()
		if !ok || isr.vector != buf[1] {
			continue
		}
		isr.fct()
	}
}

func (bus *DevMem) Lock()   { bus.bus.Lock() }
func (bus *DevMem) Unlock() { bus.bus.Unlock() }

var (
	_ Bus = (*DevMem)(nil)
)
