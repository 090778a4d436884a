// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package vme

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newMemFile(t *testing.T, size int) string {
	t.Helper()
	fname := filepath.Join(t.TempDir(), "vme-mem")
	err := os.WriteFile(fname, make([]byte, size), 0644)
	if err != nil {
		t.Fatalf("could not create memory device: %+v", err)
	}
	return fname
}

func TestDevMem(t *testing.T) {
	mem := newMemFile(t, 0x20000)

	for _, tc := range []struct {
		name string
		plat Platform
		wins []Window
		err  string
	}{
		{
			name: "linux",
			plat: Linux,
			wins: []Window{
				{AM: A24, Base: 0x100000, Size: 0x10000, Offset: 0},
				{AM: A32, Base: 0x08000000, Size: 0x10000, Offset: 0x10000},
			},
		},
		{
			name: "68k-a32",
			plat: M68K,
			wins: []Window{
				{AM: A32, Base: 0x08000000, Size: 0x10000, Offset: 0x10000},
			},
			err: `vme: platform "68k" has no A32 window`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bus, err := OpenDevMem(tc.plat, mem, "", "", tc.wins...)
			switch {
			case err != nil && tc.err != "":
				if got, want := err.Error(), tc.err; got != want {
					t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
				}
				return
			case err != nil:
				t.Fatalf("could not open bus: %+v", err)
			case tc.err != "":
				_ = bus.Close()
				t.Fatalf("expected an error")
			}
			defer bus.Close()

			for _, w := range tc.wins {
				local, err := bus.Map(w.AM, w.Base+0x1000)
				if err != nil {
					t.Fatalf("could not map %v: %+v", w.AM, err)
				}
				if got, want := local, int64(w.AM)<<32|int64(w.Base+0x1000); got != want {
					t.Fatalf("invalid local address: got=0x%x, want=0x%x", got, want)
				}

				_, err = bus.WriteAt([]byte{0x03, 0x18}, local)
				if err != nil {
					t.Fatalf("could not write: %+v", err)
				}
				buf := make([]byte, 2)
				_, err = bus.ReadAt(buf, local)
				if err != nil {
					t.Fatalf("could not read: %+v", err)
				}
				if got, want := buf, []byte{0x03, 0x18}; !bytes.Equal(got, want) {
					t.Fatalf("invalid read-back: got=%x, want=%x", got, want)
				}

				err = bus.Probe(local, 2)
				if err != nil {
					t.Fatalf("could not probe: %+v", err)
				}
			}

			_, err = bus.Map(A24, 0x200000)
			if !errors.Is(err, ErrNoWindow) {
				t.Fatalf("invalid error: %+v", err)
			}

			_, err = bus.DMA(context.Background(), make([]uint32, 4), A24, 0x100000)
			if err == nil {
				t.Fatalf("expected an error w/o DMA device")
			}
		})
	}
}

func TestDevMemD32Alias(t *testing.T) {
	mem := newMemFile(t, 0x10000)
	bus, err := OpenDevMem(M68K, mem, "", "", Window{AM: A24, Base: 0x110000, Size: 0x10000})
	if err != nil {
		t.Fatalf("could not open bus: %+v", err)
	}
	defer bus.Close()

	local, err := bus.Map(A24, 0x110000)
	if err != nil {
		t.Fatalf("could not map: %+v", err)
	}

	_, err = bus.WriteAt([]byte{0xde, 0xad, 0xbe, 0xef}, local+8)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}

	alias := M68K.D32Offset + (local & 0xffffff)
	buf := make([]byte, 4)
	_, err = bus.ReadAt(buf, alias+8)
	if err != nil {
		t.Fatalf("could not read through D32 alias: %+v", err)
	}
	if got, want := buf, []byte{0xde, 0xad, 0xbe, 0xef}; !bytes.Equal(got, want) {
		t.Fatalf("invalid read-back: got=%x, want=%x", got, want)
	}
}

func TestDevMemInterrupt(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("could not create pipe: %+v", err)
	}
	defer w.Close()

	bus := &DevMem{
		irq:  r,
		isrs: make(map[uint8]devISR),
		quit: make(chan struct{}),
	}
	defer bus.Close()
	go bus.dispatch()

	done := make(chan int, 2)
	err = bus.IntConnect(0xaa, 4, func() { done <- 1 })
	if err != nil {
		t.Fatalf("could not connect isr: %+v", err)
	}

	// wrong vector is ignored, right one is dispatched.
	_, err = w.Write([]byte{4, 0xab, 4, 0xaa})
	if err != nil {
		t.Fatalf("could not raise interrupt: %+v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for isr")
	}

	err = bus.IntConnect(0xaa, 8, func() {})
	if err == nil {
		t.Fatalf("expected an error for level 8")
	}

	err = bus.IntDisconnect(4)
	if err != nil {
		t.Fatalf("could not disconnect isr: %+v", err)
	}
}
