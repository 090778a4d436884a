// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package v792 is a driver for CAEN V792 32-channel QDC modules.
//
// A Driver holds the registry of the modules of a crate, initialized by
// probing a range of VME base addresses. Events are read out of each
// module's output buffer either word by word (ReadEvent, FlushEvent) or
// with block transfers terminated by a bus error (ReadBlock).
//
// Every register transaction of a Driver is serialized by a single lock
// shared by all modules.
package v792 // import "github.com/go-lpc/qdc/v792"

const (
	MaxModules     = 20 // maximum number of modules handled by a Driver
	MaxChannels    = 32
	MaxEventWords  = 34  // header + 32 data words + trailer
	MaxEvents      = 32  // depth of the output buffer, in events
	bufferWords    = 512 // depth of the output buffer window, in words
	boardID        = 0x318
	defaultIntVec  = 0xaa
	defaultIntLvl  = 4
	a24Limit       = 0x00ffffff
	moduleSize     = 0x10000
	romOffset      = 0x8026
	evtCountHiMask = 0xff
)

// register offsets, relative to a module base address.
const (
	regData        = 0x0000
	regRev         = 0x1000
	regGeoAddr     = 0x1002
	regCBLTAddr    = 0x1004
	regBitSet1     = 0x1006
	regBitClear1   = 0x1008
	regIntLevel    = 0x100a
	regIntVector   = 0x100c
	regStatus1     = 0x100e
	regControl1    = 0x1010
	regADERHigh    = 0x1012
	regADERLow     = 0x1014
	regSSReset     = 0x1016
	regCBLTControl = 0x101a
	regEvTrigger   = 0x1020
	regStatus2     = 0x1022
	regEvCountL    = 0x1024
	regEvCountH    = 0x1026
	regIncrEvent   = 0x1028
	regIncrOffset  = 0x102a
	regLoadTest    = 0x102c
	regFCLRWindow  = 0x1030
	regBitSet2     = 0x1032
	regBitClear2   = 0x1034
	regCrateSelect = 0x103c
	regTestEvWrite = 0x103e
	regEvCntReset  = 0x1040
	regIPED        = 0x1060
	regSWComm      = 0x1068
	regSlideConst  = 0x106a
	regAAD         = 0x1070
	regBAD         = 0x1072
	regThresh      = 0x1080

	romOUI3    = romOffset + 0x00
	romOUI2    = romOffset + 0x04
	romOUI1    = romOffset + 0x08
	romVersion = romOffset + 0x0c
	romID3     = romOffset + 0x10
	romID2     = romOffset + 0x14
	romID1     = romOffset + 0x18
	romRev     = romOffset + 0x28
)

// bit set 1 register.
const (
	bitBusError  = 0x08
	bitSoftReset = 0x80
)

// status registers.
const (
	statDataReady = 0x1 // status 1
	statBusy      = 0x4 // status 1

	statBufEmpty = 0x2 // status 2
	statBufFull  = 0x4 // status 2
)

// control register 1.
const (
	ctlBlkEnd  = 0x04
	ctlBerrEn  = 0x20
	ctlAlign64 = 0x40
)

// Bit set 2 register flags.
const (
	MemTest      = 0x0001
	Offline      = 0x0002
	DataReset    = 0x0004
	OverflowSup  = 0x0008 // set: overflow suppression disabled
	UnderflowSup = 0x0010 // set: under-threshold suppression disabled
	TestMode     = 0x0040
	SlideEnable  = 0x0080
	AutoIncr     = 0x0800
	EmptyProg    = 0x1000 // set: store empty events
	SlideSub     = 0x2000
	IncrAllTrig  = 0x4000 // set: count all triggers, not only accepted ones
)

// register masks.
const (
	maskBitSet1   = 0x0098
	maskIntLevel  = 0x0007
	maskIntVector = 0x00ff
	maskStatus1   = 0x01ff
	maskControl1  = 0x0034
	maskStatus2   = 0x00f6
	maskBitSet2   = 0x7fff
	maskEvTrigger = 0x001f
)
