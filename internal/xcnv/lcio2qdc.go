// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/qdc/v792"
	"go-hep.org/x/hep/lcio"
)

// LCIO2QDC converts LCIO events back into a raw QDC stream.
func LCIO2QDC(w io.Writer, r *lcio.Reader, freq int, msg *log.Logger) error {
	var (
		enc = v792.NewEncoder(w)
		i   = 0
	)

	if freq <= 0 {
		freq = 1
	}

	for r.Next() {
		if i%freq == 0 {
			msg.Printf("processing evt %d...", i)
		}
		levt := r.Event()
		hits, ok := levt.Get(Collection).(*lcio.RawCalorimeterHitContainer)
		if !ok {
			return fmt.Errorf("event %d has no %q collection", levt.EventNumber, Collection)
		}

		evt, err := eventFrom(hits, levt.EventNumber)
		if err != nil {
			return fmt.Errorf("could not convert event %d: %w", levt.EventNumber, err)
		}

		err = enc.Encode(&evt)
		if err != nil {
			return fmt.Errorf("could not encode QDC event: %w", err)
		}
		i++
	}

	if err := r.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("could not read LCIO event: %w", err)
	}

	return nil
}

func eventFrom(hits *lcio.RawCalorimeterHitContainer, seq int32) (v792.Event, error) {
	hdr := hits.Params.Ints["Header"]
	if len(hdr) != 2 {
		return v792.Event{}, fmt.Errorf("invalid QDC header parameter (len=%d)", len(hdr))
	}
	evt := v792.Event{
		Header: v792.Header{
			Geo:   uint8(hdr[0]),
			Crate: uint8(hdr[1]),
			Count: uint8(len(hits.Hits)),
		},
		Trailer: v792.Trailer{
			Geo: uint8(hdr[0]),
			Seq: uint32(seq),
		},
	}
	for _, hit := range hits.Hits {
		geo, _, ch, un, ov := splitCellID(hit.CellID0)
		evt.Data = append(evt.Data, v792.Datum{
			Geo:       geo,
			Channel:   ch,
			Value:     uint16(hit.Amplitude),
			Underflow: un,
			Overflow:  ov,
		})
	}
	return evt, nil
}
