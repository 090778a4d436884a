// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"errors"
	"testing"

	"github.com/go-lpc/qdc/vme/vmesim"
)

func TestThresholds(t *testing.T) {
	drv, _, mods := newTestDriver(t, 1)

	got, err := drv.SetThresh(0, 5, 100)
	if err != nil {
		t.Fatalf("could not set threshold: %+v", err)
	}
	if got != 100 {
		t.Fatalf("invalid threshold read-back: got=%d, want=100", got)
	}
	if got, want := mods[0].Thresh(5), uint16(100); got != want {
		t.Fatalf("invalid module threshold: got=%d, want=%d", got, want)
	}

	got, err = drv.Thresh(0, 5)
	if err != nil {
		t.Fatalf("could not read threshold: %+v", err)
	}
	if got != 100 {
		t.Fatalf("invalid threshold: got=%d, want=100", got)
	}

	for _, ch := range []int{-1, MaxChannels} {
		_, err = drv.SetThresh(0, ch, 1)
		if !errors.Is(err, ErrChannelOutOfRange) {
			t.Fatalf("invalid error for channel %d: got=%v, want=%v", ch, err, ErrChannelOutOfRange)
		}
		_, err = drv.Thresh(0, ch)
		if !errors.Is(err, ErrChannelOutOfRange) {
			t.Fatalf("invalid error for channel %d: got=%v, want=%v", ch, err, ErrChannelOutOfRange)
		}
	}

	_, err = drv.SetThresh(1, 0, 1)
	if !errors.Is(err, ErrModuleNotInitialized) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrModuleNotInitialized)
	}

	err = drv.ClearThresh(0)
	if err != nil {
		t.Fatalf("could not clear thresholds: %+v", err)
	}
	s, err := drv.Settings(0)
	if err != nil {
		t.Fatalf("could not read settings: %+v", err)
	}
	if s.Thresh != [MaxChannels]int16{} {
		t.Fatalf("thresholds not cleared: %v", s.Thresh)
	}
}

func TestGateReadout(t *testing.T) {
	drv, _, mods := newTestDriver(t, 1)

	buf := make([]uint32, MaxEventWords)
	err := drv.Gate(0)
	if err != nil {
		t.Fatalf("could not gate: %+v", err)
	}
	n, err := drv.ReadEvent(0, buf)
	if err != nil {
		t.Fatalf("could not read event: %+v", err)
	}
	if n != 0 {
		t.Fatalf("invalid number of words without input: got=%d, want=0", n)
	}

	charges := make([]uint16, MaxChannels)
	for i := range charges {
		charges[i] = 2000
	}
	charges[0] = 0x1800 // overflow
	charges[5] = 1000   // below threshold of channel 5
	mods[0].Source = func() []uint16 { return charges }

	_, err = drv.SetThresh(0, 5, 100)
	if err != nil {
		t.Fatalf("could not set threshold: %+v", err)
	}

	for _, tc := range []struct {
		name  string
		over  bool
		under bool
		bits  uint16
		words int
	}{
		{name: "suppress", over: true, under: true, bits: 0, words: 30 + 2},
		{name: "keep-under", over: true, under: false, bits: UnderflowSup, words: 31 + 2},
		{name: "keep-all", over: false, under: false, bits: OverflowSup | UnderflowSup, words: 32 + 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bits, err := drv.Sparse(0, tc.over, tc.under)
			if err != nil {
				t.Fatalf("could not set sparsification: %+v", err)
			}
			if bits != tc.bits {
				t.Fatalf("invalid sparsification bits: got=0x%x, want=0x%x", bits, tc.bits)
			}

			err = drv.Gate(0)
			if err != nil {
				t.Fatalf("could not gate: %+v", err)
			}
			n, err := drv.ReadEvent(0, buf)
			if err != nil {
				t.Fatalf("could not read event: %+v", err)
			}
			if n != tc.words {
				t.Fatalf("invalid number of words: got=%d, want=%d", n, tc.words)
			}

			var evt Event
			_, err = DecodeEvent(&evt, decodeAll(drv.Codec(), buf[:n]))
			if err != nil {
				t.Fatalf("could not decode event: %+v", err)
			}
			for _, d := range evt.Data {
				switch d.Channel {
				case 0:
					if !d.Overflow {
						t.Fatalf("channel 0 not flagged as overflow: %+v", d)
					}
				case 5:
					if !d.Underflow {
						t.Fatalf("channel 5 not flagged as underflow: %+v", d)
					}
				default:
					if d.Value != 2000 || d.Overflow || d.Underflow {
						t.Fatalf("invalid datum: %+v", d)
					}
				}
			}
		})
	}
}

func decodeAll(c Codec, words []uint32) []uint32 {
	out := make([]uint32, len(words))
	for i, w := range words {
		out[i] = c.Decode(w)
	}
	return out
}

func TestEnableDisable(t *testing.T) {
	drv, _, mods := newTestDriver(t, 1)
	mods[0].Source = func() []uint16 { return []uint16{10, 20} }

	for _, tc := range []struct {
		name   string
		fct    func(id int) error
		events int
	}{
		{"enabled", drv.Enable, 1},
		{"disabled", drv.Disable, 0},
		{"re-enabled", drv.Enable, 1},
	} {
		err := tc.fct(0)
		if err != nil {
			t.Fatalf("%s: could not configure module: %+v", tc.name, err)
		}
		err = drv.Gate(0)
		if err != nil {
			t.Fatalf("%s: could not gate: %+v", tc.name, err)
		}
		if got, want := mods[0].Events(), tc.events; got != want {
			t.Fatalf("%s: invalid number of events: got=%d, want=%d", tc.name, got, want)
		}
		err = drv.Clear(0)
		if err != nil {
			t.Fatalf("%s: could not clear: %+v", tc.name, err)
		}
	}
	if got, want := mods[0].Gates(), 3; got != want {
		t.Fatalf("invalid number of gates: got=%d, want=%d", got, want)
	}
}

func TestEmptyEvents(t *testing.T) {
	drv, _, mods := newTestDriver(t, 1)
	mods[0].Source = func() []uint16 { return []uint16{0x2000} }

	err := drv.Gate(0)
	if err != nil {
		t.Fatalf("could not gate: %+v", err)
	}
	if got := mods[0].Events(); got != 0 {
		t.Fatalf("empty event stored: got=%d events", got)
	}

	v, err := drv.BitSet2(0, EmptyProg)
	if err != nil {
		t.Fatalf("could not set bit set 2: %+v", err)
	}
	if v&EmptyProg == 0 {
		t.Fatalf("invalid bit set 2 read-back: 0x%x", v)
	}
	err = drv.Gate(0)
	if err != nil {
		t.Fatalf("could not gate: %+v", err)
	}
	n, err := drv.ReadEvent(0, make([]uint32, MaxEventWords))
	if err != nil {
		t.Fatalf("could not read event: %+v", err)
	}
	if n != 2 {
		t.Fatalf("invalid number of words: got=%d, want=2", n)
	}
	// the first (dropped) event was counted.
	seq, _, _ := drv.LastRead(0)
	if seq != 1 {
		t.Fatalf("invalid event sequence: got=%d, want=1", seq)
	}

	err = drv.BitClear2(0, EmptyProg)
	if err != nil {
		t.Fatalf("could not clear bit set 2: %+v", err)
	}
	s, _ := drv.Settings(0)
	if s.BitSet2&EmptyProg != 0 {
		t.Fatalf("empty event storage still enabled: 0x%x", s.BitSet2)
	}
}

func TestControl(t *testing.T) {
	drv, _, _ := newTestDriver(t, 1)

	err := drv.EnableBerr(0)
	if err != nil {
		t.Fatalf("could not enable bus error: %+v", err)
	}
	s, _ := drv.Settings(0)
	if got, want := s.Control1, uint16(ctlBerrEn|ctlBlkEnd|ctlAlign64); got != want {
		t.Fatalf("invalid control register: got=0x%x, want=0x%x", got, want)
	}

	err = drv.DisableBerr(0)
	if err != nil {
		t.Fatalf("could not disable bus error: %+v", err)
	}
	s, _ = drv.Settings(0)
	if got, want := s.Control1, uint16(ctlAlign64); got != want {
		t.Fatalf("invalid control register: got=0x%x, want=0x%x", got, want)
	}

	v, err := drv.Control(0, ctlBerrEn)
	if err != nil {
		t.Fatalf("could not write control register: %+v", err)
	}
	if v != ctlBerrEn {
		t.Fatalf("invalid control register: got=0x%x, want=0x%x", v, ctlBerrEn)
	}
}

func TestSetGeoAddress(t *testing.T) {
	drv, _, mods := newTestDriver(t, 1, WithSwap(false))

	err := drv.SetGeoAddress(0, 9)
	if err != nil {
		t.Fatalf("could not set geo address: %+v", err)
	}
	s, _ := drv.Settings(0)
	if s.Geo != 9 {
		t.Fatalf("invalid geo address: got=%d, want=9", s.Geo)
	}

	mods[0].PushEvent(vmesim.Datum{Channel: 1, Value: 1})
	buf := make([]uint32, MaxEventWords)
	_, err = drv.ReadEvent(0, buf)
	if err != nil {
		t.Fatalf("could not read event: %+v", err)
	}
	hdr, _ := DecodeHeader(buf[0])
	if hdr.Geo != 9 {
		t.Fatalf("invalid header geo address: got=%d, want=9", hdr.Geo)
	}
}

func TestIncr(t *testing.T) {
	drv, _, mods := newTestDriver(t, 1)
	buf := make([]uint32, MaxEventWords)

	pushEvents(mods[0], 2)
	err := drv.IncrEvent(0)
	if err != nil {
		t.Fatalf("could not skip event: %+v", err)
	}
	seq, ok, _ := drv.LastRead(0)
	if !ok || seq != 0 {
		t.Fatalf("invalid last read event: got=%d (ok=%v), want=0", seq, ok)
	}
	n, err := drv.ReadEvent(0, buf)
	if err != nil {
		t.Fatalf("could not read event: %+v", err)
	}
	if n != 4 {
		t.Fatalf("invalid number of words: got=%d, want=4", n)
	}
	seq, _, _ = drv.LastRead(0)
	if seq != 1 {
		t.Fatalf("invalid last read event: got=%d, want=1", seq)
	}

	pushEvents(mods[0], 1)
	err = drv.IncrWord(0)
	if err != nil {
		t.Fatalf("could not skip word: %+v", err)
	}
	_, err = drv.ReadEvent(0, buf)
	if !errors.Is(err, ErrProtocolDesync) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrProtocolDesync)
	}

	for _, n := range []int{0, MaxEvents + 1} {
		err = drv.IncrEventBlk(0, n)
		if err == nil {
			t.Fatalf("expected an error for %d events", n)
		}
	}
	err = drv.Clear(0)
	if err != nil {
		t.Fatalf("could not clear: %+v", err)
	}
	err = drv.IncrEventBlk(0, 3)
	if err != nil {
		t.Fatalf("could not count block events: %+v", err)
	}
	seq, ok, _ = drv.LastRead(0)
	if !ok || seq != 2 {
		t.Fatalf("invalid last read event: got=%d (ok=%v), want=2", seq, ok)
	}
}

func TestResets(t *testing.T) {
	drv, _, mods := newTestDriver(t, 1)

	pushEvents(mods[0], 2)
	bits, err := drv.Sparse(0, false, false)
	if err != nil {
		t.Fatalf("could not set sparsification: %+v", err)
	}
	if bits != OverflowSup|UnderflowSup {
		t.Fatalf("invalid sparsification bits: got=0x%x", bits)
	}

	err = drv.EventCounterReset(0)
	if err != nil {
		t.Fatalf("could not reset event counter: %+v", err)
	}
	cnt, err := drv.ReadEventCount(0)
	if err != nil {
		t.Fatalf("could not read event count: %+v", err)
	}
	if cnt != seqMask {
		t.Fatalf("invalid event count after reset: got=0x%x, want=0x%x", cnt, seqMask)
	}
	if got, want := mods[0].Events(), 2; got != want {
		t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
	}

	err = drv.Reset(0)
	if err != nil {
		t.Fatalf("could not reset module: %+v", err)
	}
	if got, want := mods[0].Events(), 0; got != want {
		t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
	}
	s, err := drv.Settings(0)
	if err != nil {
		t.Fatalf("could not read settings: %+v", err)
	}
	if s.BitSet2 != 0 {
		t.Fatalf("invalid bit set 2 after reset: got=0x%x, want=0", s.BitSet2)
	}
}

func TestGDReady(t *testing.T) {
	drv, _, mods := newTestDriver(t, 3)

	mask, err := drv.GDReady(0x7, 4)
	if err != nil {
		t.Fatalf("could not poll modules: %+v", err)
	}
	if mask != 0 {
		t.Fatalf("invalid ready mask: got=0x%x, want=0", mask)
	}

	pushEvents(mods[0], 1)
	pushEvents(mods[2], 1)

	for _, tc := range []struct {
		mask uint32
		want uint32
	}{
		{mask: 0x7, want: 0x5},
		{mask: 0x5, want: 0x5},
		{mask: 0x2, want: 0x0},
		{mask: 0x4, want: 0x4},
	} {
		got, err := drv.GDReady(tc.mask, 10)
		if err != nil {
			t.Fatalf("could not poll modules 0x%x: %+v", tc.mask, err)
		}
		if got != tc.want {
			t.Fatalf("invalid ready mask for 0x%x: got=0x%x, want=0x%x", tc.mask, got, tc.want)
		}
	}
}
