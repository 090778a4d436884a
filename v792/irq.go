// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"fmt"
	"sync/atomic"
)

// Handler is a user interrupt service routine, called with the id of the
// module bound to the interrupt source.
type Handler func(id int)

type irqMode uint8

const (
	irqUnbound irqMode = iota
	irqBound           // handler installed on the bus
	irqArmed           // module programmed to raise interrupts (possibly suspended)
)

func (m irqMode) String() string {
	switch m {
	case irqUnbound:
		return "unbound"
	case irqBound:
		return "bound"
	case irqArmed:
		return "armed"
	}
	return fmt.Sprintf("irqMode(%d)", uint8(m))
}

// irqState is guarded by the driver lock, except for count.
type irqState struct {
	mode    irqMode
	id      int
	thresh  uint16
	level   uint8
	vector  uint8
	handler Handler

	count atomic.Uint64
}

// resetIRQ drops any interrupt binding.
// The driver lock must be held.
func (drv *Driver) resetIRQ() {
	if drv.irq.mode != irqUnbound {
		err := drv.bus.IntDisconnect(drv.irq.level)
		if err != nil {
			drv.msg.Printf("could not disconnect interrupt level %d: %+v", drv.irq.level, err)
		}
	}
	drv.irq.mode = irqUnbound
	drv.irq.id = -1
	drv.irq.thresh = 0
	drv.irq.level = 0
	drv.irq.vector = 0
	drv.irq.handler = nil
	drv.irq.count.Store(0)
}

// Bind installs the interrupt service routine on the bus for the provided
// level and vector. A zero level or vector selects the default (4, 0xaa).
// With a nil handler, the default handler advances the module read pointer
// by the number of events that raised the interrupt.
func (drv *Driver) Bind(h Handler, level, vector int) error {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	if drv.irq.mode != irqUnbound {
		return fmt.Errorf("v792: could not bind interrupt handler (%v): %w", drv.irq.mode, ErrAlreadyBound)
	}

	switch {
	case level == 0:
		level = defaultIntLvl
	case level < 0 || level > 7:
		return fmt.Errorf("v792: could not bind interrupt level %d: %w", level, ErrInvalidLevel)
	}

	switch {
	case vector == 0:
		vector = defaultIntVec
	case vector < 32 || vector > 255:
		return fmt.Errorf("v792: could not bind interrupt vector %d: %w", vector, ErrInvalidVector)
	}

	_ = drv.bus.IntDisconnect(uint8(level))
	err := drv.bus.IntConnect(uint8(vector), uint8(level), drv.isr)
	if err != nil {
		return fmt.Errorf(
			"v792: could not connect handler (level=%d, vector=0x%x): %v: %w",
			level, vector, err, ErrInterruptSetup,
		)
	}

	drv.irq.mode = irqBound
	drv.irq.level = uint8(level)
	drv.irq.vector = uint8(vector)
	drv.irq.handler = h
	return nil
}

// Arm programs module id to raise an interrupt every threshold events.
func (drv *Driver) Arm(id, threshold int) error {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	switch drv.irq.mode {
	case irqArmed:
		return fmt.Errorf("v792: could not arm module %d: %w", id, ErrAlreadyBound)
	case irqUnbound:
		return fmt.Errorf("v792: could not arm module %d: %w", id, ErrNotBound)
	}

	m, err := drv.module(id)
	if err != nil {
		return err
	}

	if threshold < 1 || threshold > maskEvTrigger {
		return fmt.Errorf(
			"v792: could not arm module %d with %d events (valid: 1-%d): %w",
			id, threshold, maskEvTrigger, ErrThresholdOutOfRange,
		)
	}

	drv.irq.count.Store(0)
	m.regs.w16(regIntVector, uint16(drv.irq.vector))
	m.regs.w16(regIntLevel, uint16(drv.irq.level))
	m.regs.w16(regEvTrigger, uint16(threshold))
	if err := m.regs.done(); err != nil {
		return fmt.Errorf("v792: could not program interrupts of module %d (%v): %w", id, err, ErrInterruptSetup)
	}

	drv.irq.mode = irqArmed
	drv.irq.id = id
	drv.irq.thresh = uint16(threshold)
	return nil
}

// Disarm stops the bound module from raising interrupts.
// With clearBinding, the module interrupt level and vector are zeroed and
// the handler is removed from the bus. Otherwise interrupts can be
// resumed with Resume.
//
// A handler bound but never armed is removed with clearBinding, and left
// in place otherwise.
func (drv *Driver) Disarm(clearBinding bool) error {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	switch drv.irq.mode {
	case irqUnbound:
		return fmt.Errorf("v792: could not disarm interrupts: %w", ErrNotBound)
	case irqBound:
		// no module programmed yet.
		if clearBinding {
			drv.resetIRQ()
		}
		return nil
	}

	m, err := drv.module(drv.irq.id)
	if err != nil {
		return err
	}

	m.regs.w16(regEvTrigger, 0)
	if clearBinding {
		m.regs.w16(regIntLevel, 0)
		m.regs.w16(regIntVector, 0)
	}
	if err := m.regs.done(); err != nil {
		return fmt.Errorf("v792: could not disarm module %d: %w", drv.irq.id, err)
	}

	if clearBinding {
		count := drv.irq.count.Load()
		drv.resetIRQ()
		drv.irq.count.Store(count)
	}
	return nil
}

// Resume re-enables interrupts suspended by Disarm(false).
func (drv *Driver) Resume() error {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	if drv.irq.mode != irqArmed {
		return fmt.Errorf("v792: could not resume interrupts: %w", ErrNotBound)
	}

	m, err := drv.module(drv.irq.id)
	if err != nil {
		return err
	}

	trig := m.regs.r16(regEvTrigger) & maskEvTrigger
	if err := m.regs.done(); err != nil {
		return fmt.Errorf("v792: could not resume interrupts of module %d: %w", drv.irq.id, err)
	}
	if trig != 0 {
		return fmt.Errorf(
			"v792: could not resume interrupts of module %d (trigger=%d): %w",
			drv.irq.id, trig, ErrAlreadyArmed,
		)
	}

	m.regs.w16(regEvTrigger, drv.irq.thresh)
	if err := m.regs.done(); err != nil {
		return fmt.Errorf("v792: could not resume interrupts of module %d: %w", drv.irq.id, err)
	}
	return nil
}

// IntCount returns the number of interrupts serviced since the last Arm.
func (drv *Driver) IntCount() uint64 {
	return drv.irq.count.Load()
}

func (drv *Driver) isr() {
	drv.bus.Lock()
	defer drv.bus.Unlock()

	drv.irq.count.Add(1)

	drv.mu.Lock()
	var (
		id   = drv.irq.id
		h    = drv.irq.handler
		mode = drv.irq.mode
	)
	drv.mu.Unlock()

	if mode != irqArmed {
		return
	}

	if h != nil {
		h(id)
		return
	}
	drv.defaultISR(id)
}

// defaultISR advances the read pointer of the module by the number of
// events the interrupt was configured for. If fewer events are ready,
// the module is cleared.
func (drv *Driver) defaultISR(id int) {
	drv.mu.Lock()
	m, err := drv.module(id)
	if err != nil {
		drv.mu.Unlock()
		drv.msg.Printf("interrupt: %+v", err)
		return
	}
	trig := int(m.regs.r16(regEvTrigger) & maskEvTrigger)
	err = m.regs.done()
	drv.mu.Unlock()
	if err != nil {
		drv.msg.Printf("interrupt: could not read trigger of module %d: %+v", id, err)
		return
	}

	ready, err := drv.Dready(id)
	if err != nil {
		drv.msg.Printf("interrupt: %+v", err)
		ready = 0
	}

	if ready < trig {
		drv.msg.Printf("ERROR: trigger register < events ready (module=%d, trigger=%d, ready=%d)", id, trig, ready)
		err = drv.Clear(id)
		if err != nil {
			drv.msg.Printf("interrupt: %+v", err)
		}
		return
	}

	drv.mu.Lock()
	defer drv.mu.Unlock()
	m, err = drv.module(id)
	if err != nil {
		drv.msg.Printf("interrupt: %+v", err)
		return
	}
	for i := 0; i < trig; i++ {
		m.incrEvent()
	}
	if err := m.regs.done(); err != nil {
		drv.msg.Printf("interrupt: could not advance module %d: %+v", id, err)
	}
}
