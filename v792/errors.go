// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import "errors"

var (
	// initialization
	ErrInvalidAddress        = errors.New("v792: invalid base address")
	ErrUnsupportedAddressing = errors.New("v792: unsupported addressing mode")
	ErrBusMapping            = errors.New("v792: could not map bus address")
	ErrNoModules             = errors.New("v792: no modules found")
	ErrPartialInit           = errors.New("v792: partial initialization")
	ErrTooManyModules        = errors.New("v792: too many modules")
	ErrWrongBoardType        = errors.New("v792: wrong board type")

	ErrModuleNotInitialized = errors.New("v792: module not initialized")

	// readout
	ErrProtocolDesync = errors.New("v792: protocol desync")
	ErrDMATransfer    = errors.New("v792: DMA transfer error")
	ErrRecoveryFailed = errors.New("v792: could not recover block boundary")
	ErrBadEventCount  = errors.New("v792: bad event ready count")

	// interrupts
	ErrAlreadyBound        = errors.New("v792: interrupts already bound")
	ErrAlreadyArmed        = errors.New("v792: interrupts already armed")
	ErrNotBound            = errors.New("v792: interrupts not bound")
	ErrThresholdOutOfRange = errors.New("v792: event threshold out of range")
	ErrInterruptSetup      = errors.New("v792: could not setup interrupt")
	ErrInvalidLevel        = errors.New("v792: invalid interrupt level")
	ErrInvalidVector       = errors.New("v792: invalid interrupt vector")

	// configuration
	ErrChannelOutOfRange = errors.New("v792: channel out of range")
)
