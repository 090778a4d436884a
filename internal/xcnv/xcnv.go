// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcnv provides tools to convert data to/from LCIO to/from raw
// V792 QDC streams.
package xcnv // import "github.com/go-lpc/qdc/internal/xcnv"

const (
	// Collection is the name of the LCIO collection holding QDC data.
	Collection = "QDC_RAW"

	detector = "QDC-V792"
)

// cell identifiers pack the geo address, the crate number, the channel
// and the underflow/overflow flags of a datum.
const (
	cellUnderflow = 1 << 0
	cellOverflow  = 1 << 1
)

func cellID(geo, crate, ch uint8, un, ov bool) int32 {
	id := uint32(geo)<<24 | uint32(crate)<<16 | uint32(ch)<<8
	if un {
		id |= cellUnderflow
	}
	if ov {
		id |= cellOverflow
	}
	return int32(id)
}

func splitCellID(v int32) (geo, crate, ch uint8, un, ov bool) {
	id := uint32(v)
	geo = uint8(id >> 24)
	crate = uint8(id >> 16)
	ch = uint8(id >> 8)
	un = id&cellUnderflow != 0
	ov = id&cellOverflow != 0
	return geo, crate, ch, un, ov
}
