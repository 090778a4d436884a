// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"compress/flate"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-lpc/qdc/daq"
	"github.com/go-lpc/qdc/v792"
	"go-hep.org/x/hep/lcio"
)

func TestRunNbrFrom(t *testing.T) {
	for _, tc := range []struct {
		fname string
		run   int32
	}{
		{
			fname: "./qdc_000063.raw",
			run:   63,
		},
		{
			fname: "/some/dir/qdc_663.raw",
			run:   663,
		},
		{
			fname: "../some/dir/qdc_009.raw",
			run:   9,
		},
	} {
		t.Run(tc.fname, func(t *testing.T) {
			got, err := runNbrFrom(tc.fname)
			if err != nil {
				t.Fatalf("could not infer run-nbr: %+v", err)
			}
			if got != tc.run {
				t.Fatalf("invalid run: got=%d, want=%d", got, tc.run)
			}
		})
	}

	_, err := runNbrFrom("events.raw")
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestQDC2LCIO(t *testing.T) {
	tmp := t.TempDir()

	evts := []v792.Event{
		{
			Header:  v792.Header{Geo: 2, Crate: 1},
			Data:    []v792.Datum{{Geo: 2, Channel: 3, Value: 0x123}},
			Trailer: v792.Trailer{Geo: 2, Seq: 0},
		},
		{
			Header:  v792.Header{Geo: 3, Crate: 1},
			Data:    []v792.Datum{{Geo: 3, Channel: 4, Value: 0x456}},
			Trailer: v792.Trailer{Geo: 3, Seq: 0},
		},
		{
			Header:  v792.Header{Geo: 2, Crate: 1},
			Data:    []v792.Datum{{Geo: 2, Channel: 5, Value: 0x789, Overflow: true}},
			Trailer: v792.Trailer{Geo: 2, Seq: 1},
		},
	}

	recs := filepath.Join(tmp, "qdc_000042.raw")
	{
		f, err := os.Create(recs)
		if err != nil {
			t.Fatalf("could not create records file: %+v", err)
		}
		defer f.Close()

		enc := daq.NewEncoder(f)
		for i, words := range [][]uint32{
			evts[1].AppendWords(evts[0].AppendWords(nil)),
			evts[2].AppendWords([]uint32{daq.MarkerBad}),
		} {
			err = enc.Encode(&daq.Record{Trigger: uint32(i + 1), Words: words})
			if err != nil {
				t.Fatalf("could not encode record %d: %+v", i, err)
			}
		}
		err = f.Close()
		if err != nil {
			t.Fatalf("could not close records file: %+v", err)
		}
	}

	raw := filepath.Join(tmp, "events.raw")
	{
		f, err := os.Create(raw)
		if err != nil {
			t.Fatalf("could not create raw file: %+v", err)
		}
		defer f.Close()

		enc := v792.NewEncoder(f)
		for i := range evts {
			err = enc.Encode(&evts[i])
			if err != nil {
				t.Fatalf("could not encode event %d: %+v", i, err)
			}
		}
		err = f.Close()
		if err != nil {
			t.Fatalf("could not close raw file: %+v", err)
		}
	}

	for _, tc := range []struct {
		name  string
		fname string
		ifmt  string
		run   int32
		want  int32
	}{
		{name: "rec", fname: recs, ifmt: "rec", run: -1, want: 42},
		{name: "raw", fname: raw, ifmt: "raw", run: 7, want: 7},
	} {
		t.Run(tc.name, func(t *testing.T) {
			oname := filepath.Join(tmp, tc.name+".lcio")
			err := process(oname, flate.DefaultCompression, tc.ifmt, tc.run, tc.fname)
			if err != nil {
				t.Fatalf("could not convert QDC file: %+v", err)
			}

			r, err := lcio.Open(oname)
			if err != nil {
				t.Fatalf("could not open LCIO file: %+v", err)
			}
			defer r.Close()

			n := 0
			for r.Next() {
				evt := r.Event()
				if got, want := evt.RunNumber, tc.want; got != want {
					t.Fatalf("invalid run number: got=%d, want=%d", got, want)
				}
				n++
			}
			if got, want := n, len(evts); got != want {
				t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
			}
		})
	}

	err := process(filepath.Join(tmp, "out.lcio"), flate.DefaultCompression, "xml", 1, raw)
	if err == nil {
		t.Fatalf("expected an error for an invalid input format")
	}
}
