// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Status writes a description of the state of a module to w.
func (drv *Driver) Status(w io.Writer, id int) error {
	drv.mu.Lock()
	m, err := drv.module(id)
	if err != nil {
		drv.mu.Unlock()
		return err
	}

	r := &m.regs
	var (
		stat1 = r.r16(regStatus1) & maskStatus1
		stat2 = r.r16(regStatus2) & maskStatus2
		bit1  = r.r16(regBitSet1) & maskBitSet1
		bit2  = r.r16(regBitSet2) & maskBitSet2
		ctl1  = r.r16(regControl1) & maskControl1
		lvl   = r.r16(regIntLevel) & maskIntLevel
		vec   = r.r16(regIntVector) & maskIntVector
		trig  = r.r16(regEvTrigger) & maskEvTrigger
	)
	m.readEventCount()
	var (
		count = m.evtCount
		read  = m.evtRead
		local = r.base
		addr  = uint32(r.base - drv.offset)
	)
	err = r.done()
	drv.mu.Unlock()
	if err != nil {
		return fmt.Errorf("v792: could not read status of module %d: %w", id, err)
	}

	o := new(bytes.Buffer)
	fmt.Fprintf(o, "STATUS for QDC id %d at base VME (local) address 0x%08x (0x%x)\n", id, addr, local)
	fmt.Fprintf(o, "----------------------------------------------\n")
	if lvl > 0 && trig > 0 {
		fmt.Fprintf(o, " Interrupts Enabled - Every %d events\n", trig)
		fmt.Fprintf(o, " VME Interrupt Level: %d   Vector: 0x%x\n", lvl, vec)
		fmt.Fprintf(o, " Interrupt Count    : %d\n", drv.IntCount())
	} else {
		fmt.Fprintf(o, " Interrupts Disabled\n")
		fmt.Fprintf(o, " Last Interrupt Count    : %d\n", drv.IntCount())
	}
	fmt.Fprintf(o, "\n")

	fmt.Fprintf(o, "             --1--  --2--\n")
	switch {
	case stat2&statBufFull != 0 && stat1&statDataReady != 0:
		fmt.Fprintf(o, "  Status  = 0x%04x 0x%04x  (Buffer Full)\n", stat1, stat2)
	case stat1&statDataReady != 0:
		fmt.Fprintf(o, "  Status  = 0x%04x 0x%04x  (Data Ready)\n", stat1, stat2)
	default:
		fmt.Fprintf(o, "  Status  = 0x%04x 0x%04x\n", stat1, stat2)
	}
	fmt.Fprintf(o, "  BitSet  = 0x%04x 0x%04x\n", bit1, bit2)

	var flags []string
	if ctl1&ctlBerrEn != 0 {
		flags = append(flags, "Bus Error")
	}
	if ctl1&ctlBlkEnd != 0 {
		flags = append(flags, "Block End")
	}
	if len(flags) > 0 {
		fmt.Fprintf(o, "  Control = 0x%04x         (%s Enabled)\n", ctl1, strings.Join(flags, ","))
	} else {
		fmt.Fprintf(o, "  Control = 0x%04x\n", ctl1)
	}

	switch {
	case count == seqMask:
		fmt.Fprintf(o, "  Event Count     = (No Events Taken)\n")
		fmt.Fprintf(o, "  Last Event Read = (No Events Read)\n")
	case read == noEvent:
		fmt.Fprintf(o, "  Event Count     = %d\n", count)
		fmt.Fprintf(o, "  Last Event Read = (No Events Read)\n")
	default:
		fmt.Fprintf(o, "  Event Count     = %d\n", count)
		fmt.Fprintf(o, "  Last Event Read = %d\n", read)
	}

	_, err = w.Write(o.Bytes())
	return err
}

type gstatus struct {
	rev     uint16
	geo     uint16
	addr    uint32
	cblt    uint16
	cbltCtl uint16
	stat1   uint16
	stat2   uint16
	ctl1    uint16
	trig    uint16
	fclr    uint16
	bit2    uint16
	count   uint32
}

// GStatus writes a summary of the state of all the initialized modules to w.
func (drv *Driver) GStatus(w io.Writer) error {
	drv.mu.Lock()
	regs := make([]gstatus, len(drv.mods))
	for i := range drv.mods {
		r := &drv.mods[i].regs
		regs[i] = gstatus{
			rev:     r.r16(regRev),
			geo:     r.r16(regGeoAddr),
			addr:    uint32(r.base - drv.offset),
			cblt:    r.r16(regCBLTAddr),
			cbltCtl: r.r16(regCBLTControl),
			stat1:   r.r16(regStatus1),
			stat2:   r.r16(regStatus2),
			ctl1:    r.r16(regControl1),
			trig:    r.r16(regEvTrigger),
			fclr:    r.r16(regFCLRWindow),
			bit2:    r.r16(regBitSet2),
			count:   r.evCount(),
		}
		if err := r.done(); err != nil {
			drv.mu.Unlock()
			return fmt.Errorf("v792: could not read status of module %d: %w", i, err)
		}
	}
	drv.mu.Unlock()

	onoff := func(v bool) string {
		if v {
			return "ON "
		}
		return "OFF"
	}
	line := strings.Repeat("-", 80)

	o := new(bytes.Buffer)
	fmt.Fprintf(o, "\n                    CAEN792 ADC Module Status\n\n")
	fmt.Fprintf(o, "            Firmware                                          Control\n")
	fmt.Fprintf(o, "  #  GEO    Revision     Address      CBLT/MCST Address       Termination\n")
	fmt.Fprintf(o, "%s\n", line)
	for i, r := range regs {
		var (
			ctl  = [...]string{"DISABLED", "LAST    ", "FIRST   ", "MIDDLE  "}[r.cbltCtl&0x3]
			term = "MIXED"
		)
		switch r.stat1 & 0xc0 {
		case 0x40:
			term = "ON"
		case 0x80:
			term = "OFF"
		}
		fmt.Fprintf(o, " %2d  %2d     0x%04x       0x%08x   0x%08x - %s   %s\n",
			i, r.geo&0x1f, r.rev, r.addr, uint32(r.cblt)<<24, ctl, term,
		)
	}
	fmt.Fprintf(o, "%s\n\n", line)

	fmt.Fprintf(o, "                              Readout Configuration\n\n")
	fmt.Fprintf(o, "     Bus     FP     Block  Align  Fast Clear   Suppress   Auto  Empty  Trg\n")
	fmt.Fprintf(o, "  #  Errors  Reset  End    64     Window [us]  OF   Zero  Incr  Block  Counter\n")
	fmt.Fprintf(o, "%s\n", line)
	for i, r := range regs {
		fpreset := "CLEAR"
		if r.ctl1&0x80 != 0 {
			fpreset = "RESET"
		}
		blkend := "EOB"
		if r.ctl1&ctlBlkEnd != 0 {
			blkend = "ALL"
		}
		trg := "Accepted"
		if r.bit2&IncrAllTrig != 0 {
			trg = "All"
		}
		fmt.Fprintf(o, " %2d  %s     %s  %s    %s    %4.1f         %s  %s   %s   %s    %s\n",
			i,
			onoff(r.ctl1&ctlBerrEn != 0),
			fpreset, blkend,
			onoff(r.ctl1&ctlAlign64 != 0),
			FastClearWindow(r.fclr),
			onoff(r.bit2&OverflowSup == 0),
			onoff(r.bit2&UnderflowSup == 0),
			onoff(r.bit2&AutoIncr != 0),
			onoff(r.bit2&EmptyProg != 0),
			trg,
		)
	}
	fmt.Fprintf(o, "\n")

	fmt.Fprintf(o, "                                 Data Status\n\n")
	fmt.Fprintf(o, "     Output    Data     Block    Block     Busy      Event\n")
	fmt.Fprintf(o, "  #  Buffer    Ready    Level    Status    Status    Counter\n")
	fmt.Fprintf(o, "%s\n", line)
	for i, r := range regs {
		buf := "AVAIL"
		switch r.stat2 & 0x6 {
		case statBufEmpty:
			buf = "EMPTY"
		case statBufFull:
			buf = " FULL"
		}
		ready := "-----"
		if r.stat1&statDataReady != 0 {
			ready = "READY"
		}
		blk := "-----"
		if r.stat2&0x10 != 0 {
			blk = "READY"
		}
		busy := "----"
		if r.stat1&statBusy != 0 {
			busy = "BUSY"
		}
		fmt.Fprintf(o, " %2d  %s     %s   %2d        %s     %s      %-8d\n",
			i, buf, ready, r.trig&maskEvTrigger, blk, busy, r.count,
		)
	}
	fmt.Fprintf(o, "%s\n\n", line)

	_, err := w.Write(o.Bytes())
	return err
}

// FastClearWindow returns the fast clear window, in microseconds, programmed
// by the register value v.
func FastClearWindow(v uint16) float64 {
	return float64(v&0x3ff)/32 + 7
}
