// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// qdc-dump decodes and displays QDC data from record, raw or LCIO files.
//
// Usage: qdc-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//  $> qdc-dump ./qdc_000042.raw
//  === trigger 1 ===
//  geo=2 crate=1 seq=0 data=2
//    ch=00 value= 180
//    ch=07 value=4095 OV
//  <bad>
//  [...]
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/qdc/daq"
	"github.com/go-lpc/qdc/internal/xcnv"
	"github.com/go-lpc/qdc/v792"
	"go-hep.org/x/hep/lcio"
)

const usage = `qdc-dump decodes and displays QDC data from record, raw or LCIO files.

Usage: qdc-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> qdc-dump ./qdc_000042.raw
 === trigger 1 ===
 geo=2 crate=1 seq=0 data=2
   ch=00 value= 180
   ch=07 value=4095 OV
 <bad>
 [...]

 $> qdc-dump -fmt=lcio ./qdc_000042.lcio

`

func main() {
	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	log.SetPrefix("qdc-dump: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("qdc-dump", flag.ExitOnError)

		ifmt = fset.String("fmt", "rec", "input file format (rec, raw, lcio)")
	)

	fset.Usage = func() {
		fmt.Print(usage)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse input arguments: %+v", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		log.Fatalf("missing path to input QDC file")
	}

	for _, fname := range fset.Args() {
		err := process(w, fname, *ifmt)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname, ifmt string) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	switch ifmt {
	case "rec":
		f, err := os.Open(fname)
		if err != nil {
			return fmt.Errorf("could not open QDC file: %w", err)
		}
		defer f.Close()
		err = dumpRecords(wbuf, daq.NewDecoder(f))
		if err != nil {
			return err
		}
		return wbuf.Flush()

	case "raw":
		f, err := os.Open(fname)
		if err != nil {
			return fmt.Errorf("could not open QDC file: %w", err)
		}
		defer f.Close()
		err = dumpEvents(wbuf, v792.NewDecoder(f))
		if err != nil {
			return err
		}
		return wbuf.Flush()

	case "lcio":
		r, err := lcio.Open(fname)
		if err != nil {
			return fmt.Errorf("could not open LCIO file: %w", err)
		}
		defer r.Close()

		rp, wp := io.Pipe()
		defer rp.Close()
		defer wp.Close()

		msg := log.New(io.Discard, "", 0)
		ch := make(chan error, 1)
		go func() {
			defer wp.Close()
			ch <- xcnv.LCIO2QDC(wp, r, 100, msg)
		}()

		err = dumpEvents(wbuf, v792.NewDecoder(rp))
		if err != nil {
			return err
		}

		err = <-ch
		if err != nil {
			return fmt.Errorf("could not encode QDC events: %w", err)
		}
		return wbuf.Flush()
	}

	return fmt.Errorf("invalid input format %q", ifmt)
}

func dumpRecords(w io.Writer, dec *daq.Decoder) error {
	var rec daq.Record
	for {
		err := dec.Decode(&rec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not decode record: %w", err)
		}
		fmt.Fprintf(w, "=== trigger %d ===\n", rec.Trigger)
		evts, bad, err := rec.Events()
		if err != nil {
			return err
		}
		for i := range evts {
			dumpEvent(w, &evts[i])
		}
		for i := 0; i < bad; i++ {
			fmt.Fprintf(w, "<bad>\n")
		}
	}
}

func dumpEvents(w io.Writer, dec *v792.Decoder) error {
	var evt v792.Event
	for {
		err := dec.Decode(&evt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not decode QDC event: %w", err)
		}
		dumpEvent(w, &evt)
	}
}

func dumpEvent(w io.Writer, evt *v792.Event) {
	fmt.Fprintf(w, "geo=%d crate=%d seq=%d data=%d\n",
		evt.Header.Geo, evt.Header.Crate, evt.Trailer.Seq, len(evt.Data),
	)
	for _, d := range evt.Data {
		flags := ""
		if d.Underflow {
			flags += " UN"
		}
		if d.Overflow {
			flags += " OV"
		}
		fmt.Fprintf(w, "  ch=%02d value=%4d%s\n", d.Channel, d.Value, flags)
	}
}
