// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"fmt"
	"math/bits"
)

// Kind classifies the words of the output buffer.
type Kind uint8

const (
	KindData    Kind = 0x0
	KindHeader  Kind = 0x2
	KindTrailer Kind = 0x4
	KindInvalid Kind = 0x6
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindHeader:
		return "HEADER"
	case KindTrailer:
		return "TRAILER"
	case KindInvalid:
		return "INVALID"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

const (
	tagMask    = 0x07000000
	tagData    = 0x00000000
	tagHeader  = 0x02000000
	tagTrailer = 0x04000000
	tagInvalid = 0x06000000

	geoMask    = 0xf8000000
	geoShift   = 27
	crateMask  = 0x00ff0000
	countMask  = 0x00003f00
	countShift = 8
	chanMask   = 0x003f0000
	chanShift  = 16
	unFlag     = 0x00002000
	ovFlag     = 0x00001000
	adcMask    = 0x00000fff
	seqMask    = 0x00ffffff
)

// KindOf returns the classification of a logical word.
func KindOf(w uint32) Kind {
	return Kind((w & tagMask) >> 24)
}

// Header is the first word of an event.
type Header struct {
	Geo   uint8 // geographical address
	Crate uint8
	Count uint8 // number of data words following the header
}

// Word encodes the header as a logical word.
func (h Header) Word() uint32 {
	return uint32(h.Geo)<<geoShift&geoMask |
		tagHeader |
		uint32(h.Crate)<<16 |
		uint32(h.Count)<<countShift&countMask
}

// DecodeHeader decodes a logical header word.
func DecodeHeader(w uint32) (Header, error) {
	if k := KindOf(w); k != KindHeader {
		return Header{}, fmt.Errorf("v792: word 0x%08x is not a header (%v): %w", w, k, ErrProtocolDesync)
	}
	return Header{
		Geo:   uint8((w & geoMask) >> geoShift),
		Crate: uint8((w & crateMask) >> 16),
		Count: uint8((w & countMask) >> countShift),
	}, nil
}

// Datum is a converted channel value.
type Datum struct {
	Geo       uint8
	Channel   uint8
	Value     uint16 // 12-bit converted charge
	Underflow bool
	Overflow  bool
}

// Word encodes the datum as a logical word.
func (d Datum) Word() uint32 {
	w := uint32(d.Geo)<<geoShift&geoMask |
		tagData |
		uint32(d.Channel)<<chanShift&chanMask |
		uint32(d.Value)&adcMask
	if d.Underflow {
		w |= unFlag
	}
	if d.Overflow {
		w |= ovFlag
	}
	return w
}

// DecodeDatum decodes a logical data word.
func DecodeDatum(w uint32) (Datum, error) {
	if k := KindOf(w); k != KindData {
		return Datum{}, fmt.Errorf("v792: word 0x%08x is not a datum (%v): %w", w, k, ErrProtocolDesync)
	}
	return Datum{
		Geo:       uint8((w & geoMask) >> geoShift),
		Channel:   uint8((w & chanMask) >> chanShift),
		Value:     uint16(w & adcMask),
		Underflow: w&unFlag != 0,
		Overflow:  w&ovFlag != 0,
	}, nil
}

// Trailer is the last word of an event.
type Trailer struct {
	Geo uint8
	Seq uint32 // 24-bit event counter
}

// Word encodes the trailer as a logical word.
func (t Trailer) Word() uint32 {
	return uint32(t.Geo)<<geoShift&geoMask | tagTrailer | t.Seq&seqMask
}

// DecodeTrailer decodes a logical trailer word.
func DecodeTrailer(w uint32) (Trailer, error) {
	if k := KindOf(w); k != KindTrailer {
		return Trailer{}, fmt.Errorf("v792: word 0x%08x is not a trailer (%v): %w", w, k, ErrProtocolDesync)
	}
	return Trailer{
		Geo: uint8((w & geoMask) >> geoShift),
		Seq: w & seqMask,
	}, nil
}

// Codec converts words between their logical value and the value stored
// in caller buffers.
//
// When Swap is set, every stored word, whatever its kind, is byte-swapped.
type Codec struct {
	Swap bool
}

// Encode returns the buffer representation of the logical word w.
func (c Codec) Encode(w uint32) uint32 {
	if c.Swap {
		return bits.ReverseBytes32(w)
	}
	return w
}

// Decode returns the logical value of the buffer word v.
func (c Codec) Decode(v uint32) uint32 {
	if c.Swap {
		return bits.ReverseBytes32(v)
	}
	return v
}

// Kind classifies the buffer word v.
func (c Codec) Kind(v uint32) Kind {
	return KindOf(c.Decode(v))
}
