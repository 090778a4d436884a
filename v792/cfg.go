// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"fmt"
)

// exec runs fct on module id with the driver lock held, and reports the
// first register access error.
func (drv *Driver) exec(id int, name string, fct func(m *module)) error {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	m, err := drv.module(id)
	if err != nil {
		return err
	}
	fct(m)
	if err := m.regs.done(); err != nil {
		return fmt.Errorf("v792: could not %s module %d: %w", name, id, err)
	}
	return nil
}

func checkChannel(ch int) error {
	if ch < 0 || ch >= MaxChannels {
		return fmt.Errorf("v792: channel %d out of range (0-%d): %w", ch, MaxChannels-1, ErrChannelOutOfRange)
	}
	return nil
}

// SetThresh programs the threshold of channel ch and returns the value
// read back from the module.
func (drv *Driver) SetThresh(id, ch int, v int16) (int16, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	var rv int16
	err := drv.exec(id, "set threshold of", func(m *module) {
		m.regs.setThresh(ch, v)
		rv = m.regs.thresh(ch)
	})
	return rv, err
}

// Thresh returns the threshold of channel ch.
func (drv *Driver) Thresh(id, ch int) (int16, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	var rv int16
	err := drv.exec(id, "read threshold of", func(m *module) {
		rv = m.regs.thresh(ch)
	})
	return rv, err
}

// ClearThresh zeroes the thresholds of all channels.
func (drv *Driver) ClearThresh(id int) error {
	return drv.exec(id, "clear thresholds of", func(m *module) {
		for ch := 0; ch < MaxChannels; ch++ {
			m.regs.setThresh(ch, 0)
		}
	})
}

// Sparse enables or disables the overflow and under-threshold suppression.
// over (resp. under) drops overflowing (resp. under-threshold) channels
// from the events. Sparse returns the suppression bits of bit set 2: a set
// bit disables the corresponding suppression.
func (drv *Driver) Sparse(id int, over, under bool) (uint16, error) {
	var rv uint16
	err := drv.exec(id, "set sparsification of", func(m *module) {
		if !over {
			m.regs.w16(regBitSet2, OverflowSup)
		} else {
			m.regs.w16(regBitClear2, OverflowSup)
		}
		if !under {
			m.regs.w16(regBitSet2, UnderflowSup)
		} else {
			m.regs.w16(regBitClear2, UnderflowSup)
		}
		rv = m.regs.r16(regBitSet2) & maskBitSet2 & (OverflowSup | UnderflowSup)
	})
	return rv, err
}

// EnableBerr makes the module terminate block transfers with a bus error
// once its buffer is drained.
func (drv *Driver) EnableBerr(id int) error {
	return drv.exec(id, "enable bus error of", func(m *module) {
		m.regs.setControl1(ctlBerrEn|ctlBlkEnd|ctlAlign64, 0)
	})
}

// DisableBerr disables block transfer termination by bus error.
func (drv *Driver) DisableBerr(id int) error {
	return drv.exec(id, "disable bus error of", func(m *module) {
		m.regs.setControl1(0, ctlBerrEn|ctlBlkEnd)
	})
}

// Control writes control register 1 and returns its read-back value.
func (drv *Driver) Control(id int, v uint16) (uint16, error) {
	var rv uint16
	err := drv.exec(id, "write control register of", func(m *module) {
		m.regs.w16(regControl1, v)
		rv = m.regs.r16(regControl1)
	})
	return rv, err
}

// BitSet2 sets bits of the bit set 2 register and returns its read-back value.
func (drv *Driver) BitSet2(id int, v uint16) (uint16, error) {
	var rv uint16
	err := drv.exec(id, "write bit set 2 of", func(m *module) {
		m.regs.w16(regBitSet2, v)
		rv = m.regs.r16(regBitSet2)
	})
	return rv, err
}

// BitClear2 clears bits of the bit set 2 register.
func (drv *Driver) BitClear2(id int, v uint16) error {
	return drv.exec(id, "write bit clear 2 of", func(m *module) {
		m.regs.w16(regBitClear2, v)
	})
}

// SetGeoAddress programs the geographical address of a module.
// The module is soft reset so that the new address is latched.
func (drv *Driver) SetGeoAddress(id int, geo uint8) error {
	return drv.exec(id, "set geographical address of", func(m *module) {
		m.regs.w16(regGeoAddr, uint16(geo))
		m.regs.softReset()
	})
}

// Gate issues a software gate.
func (drv *Driver) Gate(id int) error {
	return drv.exec(id, "gate", func(m *module) {
		m.regs.w16(regSWComm, 1)
	})
}

// IncrWord moves the read pointer of the output buffer to the next word.
func (drv *Driver) IncrWord(id int) error {
	return drv.exec(id, "increment read pointer of", func(m *module) {
		m.regs.w16(regIncrOffset, 1)
	})
}

// IncrEvent moves the read pointer of the output buffer to the next event,
// and counts the skipped event as read.
func (drv *Driver) IncrEvent(id int) error {
	return drv.exec(id, "increment event of", func(m *module) {
		m.incrEvent()
	})
}

func (m *module) incrEvent() {
	m.regs.w16(regIncrEvent, 1)
	m.evtRead++
}

// IncrEventBlk counts n events, read with a block transfer, as read.
func (drv *Driver) IncrEventBlk(id, n int) error {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	m, err := drv.module(id)
	if err != nil {
		return err
	}
	if n <= 0 || n > MaxEvents {
		return fmt.Errorf("v792: invalid number of block events %d (valid: 1-%d)", n, MaxEvents)
	}
	m.evtRead += int64(n)
	return nil
}

// Enable brings a module online: gates are accepted.
func (drv *Driver) Enable(id int) error {
	return drv.exec(id, "enable", func(m *module) {
		m.regs.w16(regBitClear2, Offline)
	})
}

// Disable brings a module offline: gates are ignored.
func (drv *Driver) Disable(id int) error {
	return drv.exec(id, "disable", func(m *module) {
		m.regs.w16(regBitSet2, Offline)
	})
}

// Clear empties the output buffer of a module. The configuration is kept.
func (drv *Driver) Clear(id int) error {
	return drv.exec(id, "clear", func(m *module) {
		m.regs.dataReset()
		m.clearCounters()
	})
}

// Reset empties the output buffer, soft resets the module and zeroes
// its event counter.
func (drv *Driver) Reset(id int) error {
	return drv.exec(id, "reset", func(m *module) {
		m.regs.dataReset()
		m.regs.softReset()
		m.regs.w16(regEvCntReset, 1)
		m.clearCounters()
	})
}

// EventCounterReset zeroes the event counter of a module.
func (drv *Driver) EventCounterReset(id int) error {
	return drv.exec(id, "reset event counter of", func(m *module) {
		m.regs.w16(regEvCntReset, 1)
		m.clearCounters()
	})
}

// Dready returns the number of events ready for readout in a module.
func (drv *Driver) Dready(id int) (int, error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	m, err := drv.module(id)
	if err != nil {
		return 0, err
	}

	ready := m.regs.ready()
	if ready {
		m.readEventCount()
	}
	if err := m.regs.done(); err != nil {
		return 0, fmt.Errorf("v792: could not read status of module %d: %w", id, err)
	}
	if !ready {
		return 0, nil
	}

	n := int64(m.evtCount) - m.evtRead
	if n <= 0 {
		return 0, fmt.Errorf(
			"v792: module %d has data ready with %d events (count=%d, read=%d): %w",
			id, n, m.evtCount, m.evtRead, ErrBadEventCount,
		)
	}
	return int(n), nil
}

// GDReady polls, at most nloop times, the modules selected by mask until
// they all have data ready. It returns the mask of the modules with data.
func (drv *Driver) GDReady(mask uint32, nloop int) (uint32, error) {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	var dmask uint32
	for i := 0; i < nloop; i++ {
		for id := range drv.mods {
			bit := uint32(1) << id
			if mask&bit == 0 || dmask&bit != 0 {
				continue
			}
			r := &drv.mods[id].regs
			ready := r.ready()
			if err := r.done(); err != nil {
				return dmask, fmt.Errorf("v792: could not read status of module %d: %w", id, err)
			}
			if ready {
				dmask |= bit
			}
			if dmask == mask {
				return dmask, nil
			}
		}
	}
	return dmask, nil
}

// Settings is a snapshot of the configuration of a module.
type Settings struct {
	Geo       uint8              `json:"geo" yaml:"geo"`
	Crate     uint8              `json:"crate" yaml:"crate"`
	Control1  uint16             `json:"control1" yaml:"control1"`
	BitSet2   uint16             `json:"bitset2" yaml:"bitset2"`
	IntLevel  uint8              `json:"int_level" yaml:"int_level"`
	IntVector uint8              `json:"int_vector" yaml:"int_vector"`
	EvTrigger uint8              `json:"ev_trigger" yaml:"ev_trigger"`
	FCLR      uint16             `json:"fclr" yaml:"fclr"`
	IPED      uint8              `json:"iped" yaml:"iped"`
	Thresh    [MaxChannels]int16 `json:"thresh" yaml:"thresh"`
}

// Settings reads the configuration registers of a module.
func (drv *Driver) Settings(id int) (Settings, error) {
	var s Settings
	err := drv.exec(id, "read settings of", func(m *module) {
		r := &m.regs
		s.Geo = uint8(r.r16(regGeoAddr) & 0x1f)
		s.Crate = uint8(r.r16(regCrateSelect))
		s.Control1 = r.r16(regControl1)
		s.BitSet2 = r.r16(regBitSet2) & maskBitSet2
		s.IntLevel = uint8(r.r16(regIntLevel) & maskIntLevel)
		s.IntVector = uint8(r.r16(regIntVector) & maskIntVector)
		s.EvTrigger = uint8(r.r16(regEvTrigger) & maskEvTrigger)
		s.FCLR = r.r16(regFCLRWindow) & 0x3ff
		s.IPED = uint8(r.r16(regIPED))
		for ch := range s.Thresh {
			s.Thresh[ch] = r.thresh(ch)
		}
	})
	return s, err
}
