// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vme describes the capabilities a VME bus transport offers to
// module drivers, and the platforms those transports run on.
package vme // import "github.com/go-lpc/qdc/vme"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unsafe"
)

// AddrMod is a VME address modifier.
type AddrMod uint8

const (
	A24 AddrMod = 0x39 // standard non-privileged data access
	A32 AddrMod = 0x09 // extended non-privileged data access
)

func (am AddrMod) String() string {
	switch am {
	case A24:
		return "A24"
	case A32:
		return "A32"
	}
	return fmt.Sprintf("AM(0x%02x)", uint8(am))
}

var (
	// ErrBusError is reported when a cycle was terminated by a BERR*
	// assertion from the addressed slave.
	ErrBusError = errors.New("vme: bus error")

	// ErrNoWindow is reported when no master window covers an address.
	ErrNoWindow = errors.New("vme: no master window")
)

// Bus is the set of operations a module driver needs from a VME bus.
//
// ReadAt and WriteAt operate on the process-local address space returned
// by Map. Bytes are exchanged in bus (big-endian) order.
type Bus interface {
	io.ReaderAt
	io.WriterAt

	// Map translates a bus address in the am address space into a local
	// address usable with ReadAt/WriteAt.
	Map(am AddrMod, addr uint32) (int64, error)

	// Probe checks whether n bytes can be read at local without
	// raising a bus error.
	Probe(local int64, n int) error

	// DMA transfers len(dst) 32-bit words from the bus address addr into dst.
	// dst receives the words exactly as they sit in host memory after
	// the transfer, i.e. bus byte order reinterpreted in host order.
	// DMA returns the number of bytes transferred before the transfer
	// stopped. A transfer terminated by BERR* reports ErrBusError.
	DMA(ctx context.Context, dst []uint32, am AddrMod, addr uint32) (int, error)

	// IntConnect installs isr for the given interrupt vector and level.
	IntConnect(vector, level uint8, isr func()) error
	// IntDisconnect removes any handler installed on the level.
	IntDisconnect(level uint8) error

	// Lock locks the bus, preventing other masters from acquiring it.
	Lock()
	Unlock()
}

// Platform describes the host CPU/OS combination a bus transport runs on.
type Platform struct {
	Name string

	// NoA32 is set when the platform can not open A32 master windows.
	NoA32 bool

	// D32Offset, when non zero, is the base of the local window through
	// which A24/D32 accesses must be made. The data window of a module
	// is then D32Offset + (local & 0xffffff).
	D32Offset int64
}

var (
	Linux = Platform{Name: "linux"}
	PPC   = Platform{Name: "ppc"}
	M68K  = Platform{Name: "68k", NoA32: true, D32Offset: 0xe0000000}
)

// PlatformByName returns the platform with the given name.
func PlatformByName(name string) (Platform, error) {
	for _, p := range []Platform{Linux, PPC, M68K} {
		if p.Name == name {
			return p, nil
		}
	}
	return Platform{}, fmt.Errorf("vme: unknown platform %q", name)
}

// NativeEndian is the byte order of the host.
var NativeEndian binary.ByteOrder = nativeEndian()

func nativeEndian() binary.ByteOrder {
	v := uint16(0x0102)
	if *(*byte)(unsafe.Pointer(&v)) == 0x01 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// HostWord returns the value a 32-bit bus word w takes once stored in
// host memory by a DMA engine.
func HostWord(w uint32) uint32 {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], w)
	return NativeEndian.Uint32(buf[:])
}
