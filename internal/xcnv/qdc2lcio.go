// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/qdc/v792"
	"go-hep.org/x/hep/lcio"
)

// QDC2LCIO converts each event of the raw QDC stream into an LCIO event
// holding a raw calorimeter hit per converted channel.
func QDC2LCIO(w *lcio.Writer, dec *v792.Decoder, run int32, msg *log.Logger) error {
	var (
		evt  v792.Event
		hits = &lcio.RawCalorimeterHitContainer{
			Params: lcio.Params{
				Ints: make(map[string][]int32),
			},
		}
	)

loop:
	for i := 0; ; i++ {
		if i%100 == 0 {
			msg.Printf("processing evt %d...", i)
		}
		err := dec.Decode(&evt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode QDC event: %w", err)
		}

		if i == 0 {
			err = w.WriteRunHeader(&lcio.RunHeader{
				RunNumber: run,
				Detector:  detector,
				Descr:     "",
				Params: lcio.Params{
					Ints: map[string][]int32{
						"Channels": {v792.MaxChannels},
					},
				},
			})
			if err != nil {
				return fmt.Errorf("could not write run header: %w", err)
			}
		}

		hits.Params.Ints["Header"] = []int32{
			int32(evt.Header.Geo), int32(evt.Header.Crate),
		}
		hits.Hits = hits.Hits[:0]
		for _, d := range evt.Data {
			hits.Hits = append(hits.Hits, lcio.RawCalorimeterHit{
				CellID0:   cellID(d.Geo, evt.Header.Crate, d.Channel, d.Underflow, d.Overflow),
				Amplitude: int32(d.Value),
			})
		}

		levt := lcio.Event{
			RunNumber:   run,
			EventNumber: int32(evt.Trailer.Seq),
			Detector:    detector,
		}
		levt.Add(Collection, hits)

		err = w.WriteEvent(&levt)
		if err != nil {
			return fmt.Errorf("could not write QDC event: %w", err)
		}
	}

	return nil
}
