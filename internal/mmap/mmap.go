// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides read/write access to memory-mapped VME bridge windows.
//
// Accesses of 2 or 4 bytes at a naturally aligned offset are performed as
// a single load or store, so that they translate into a single D16 or D32
// bus cycle.
package mmap // import "github.com/go-lpc/qdc/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")

	// ErrFault is returned by Peek when the access raised a memory fault,
	// typically a bus error on an unpopulated VME address.
	ErrFault = errors.New("mmap: memory fault")
)

type Handle struct {
	data []byte
}

// Map maps size bytes of the provided file, starting at offset off.
func Map(f *os.File, off int64, size int) (*Handle, error) {
	data, err := unix.Mmap(
		int(f.Fd()), off, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"mmap: could not map %q [0x%x, 0x%x): %w",
			f.Name(), off, off+int64(size), err,
		)
	}
	return HandleFrom(data), nil
}

func HandleFrom(data []byte) *Handle {
	h := &Handle{data: data}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h
}

// Close closes the mmap handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	return unix.Munmap(data)
}

// Len returns the length of the underlying memory-mapped window.
func (h *Handle) Len() int {
	return len(h.data)
}

// At returns the byte at index i.
func (h *Handle) At(i int) byte {
	return h.data[i]
}

func (h *Handle) check(op string, off int64) error {
	if h == nil {
		return os.ErrInvalid
	}
	if h.data == nil {
		return errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return fmt.Errorf("mmap: invalid %s offset %d", op, off)
	}
	return nil
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	err := h.check("ReadAt", off)
	if err != nil {
		return 0, err
	}
	if n, ok := h.load(p, off); ok {
		return n, nil
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	err := h.check("WriteAt", off)
	if err != nil {
		return 0, err
	}
	if n, ok := h.store(p, off); ok {
		return n, nil
	}
	n := copy(h.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Peek reads like ReadAt but turns a memory fault raised by the access
// into ErrFault instead of crashing the process.
func (h *Handle) Peek(p []byte, off int64) (n int, err error) {
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if e := recover(); e != nil {
			n = 0
			err = fmt.Errorf("mmap: could not read offset 0x%x: %w", off, ErrFault)
		}
	}()
	return h.ReadAt(p, off)
}

func (h *Handle) load(p []byte, off int64) (int, bool) {
	if off+int64(len(p)) > int64(len(h.data)) {
		return 0, false
	}
	switch {
	case len(p) == 2 && off%2 == 0:
		v := *(*uint16)(unsafe.Pointer(&h.data[off]))
		*(*uint16)(unsafe.Pointer(&p[0])) = v
		return 2, true
	case len(p) == 4 && off%4 == 0:
		v := *(*uint32)(unsafe.Pointer(&h.data[off]))
		*(*uint32)(unsafe.Pointer(&p[0])) = v
		return 4, true
	}
	return 0, false
}

func (h *Handle) store(p []byte, off int64) (int, bool) {
	if off+int64(len(p)) > int64(len(h.data)) {
		return 0, false
	}
	switch {
	case len(p) == 2 && off%2 == 0:
		*(*uint16)(unsafe.Pointer(&h.data[off])) = *(*uint16)(unsafe.Pointer(&p[0]))
		return 2, true
	case len(p) == 4 && off%4 == 0:
		*(*uint32)(unsafe.Pointer(&h.data[off])) = *(*uint32)(unsafe.Pointer(&p[0]))
		return 4, true
	}
	return 0, false
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
