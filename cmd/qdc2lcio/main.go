// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command qdc2lcio converts a QDC data file to an LCIO one.
package main // import "github.com/go-lpc/qdc/cmd/qdc2lcio"

import (
	"compress/flate"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/go-lpc/qdc/daq"
	"github.com/go-lpc/qdc/internal/xcnv"
	"github.com/go-lpc/qdc/v792"
	"go-hep.org/x/hep/lcio"
)

var (
	msg = log.New(os.Stdout, "qdc2lcio: ", 0)
)

func main() {
	var (
		oname = flag.String("o", "out.lcio", "path to output LCIO file")
		compr = flag.Int("lvl", flate.DefaultCompression, "compression level for output LCIO file")
		runNb = flag.Int("run", -1, "run number (default: inferred from input file name)")
		ifmt  = flag.String("fmt", "rec", "input file format (rec: c792-daq records, raw: V792 event stream)")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: qdc2lcio [OPTIONS] file.raw

ex:
 $> qdc2lcio -o out.lcio -lvl=9 ./qdc_000042.raw
 $> qdc2lcio -fmt=raw -run=42 -o out.lcio ./events.raw

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		msg.Fatalf("missing input QDC file")
	}

	if *oname == "" {
		flag.Usage()
		msg.Fatalf("invalid output LCIO file name")
	}

	err := process(*oname, *compr, *ifmt, int32(*runNb), flag.Arg(0))
	if err != nil {
		msg.Fatalf("could not convert QDC file: %+v", err)
	}
}

func process(oname string, lvl int, ifmt string, run int32, fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open QDC file: %w", err)
	}
	defer f.Close()

	if run < 0 {
		run, err = runNbrFrom(fname)
		if err != nil {
			return fmt.Errorf("could not infer run from %q: %w", fname, err)
		}
	}

	var r io.Reader
	switch ifmt {
	case "raw":
		r = f
	case "rec":
		pr, pw := io.Pipe()
		go func() {
			err := daq.Convert(v792.NewEncoder(pw), daq.NewDecoder(f))
			_ = pw.CloseWithError(err)
		}()
		defer pr.Close()
		r = pr
	default:
		return fmt.Errorf("invalid input format %q", ifmt)
	}

	w, err := lcio.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output LCIO file: %w", err)
	}
	defer w.Close()

	w.SetCompressionLevel(lvl)

	err = xcnv.QDC2LCIO(w, v792.NewDecoder(r), run, msg)
	if err != nil {
		return fmt.Errorf("could not convert QDC to LCIO: %w", err)
	}

	err = w.Close()
	if err != nil {
		return fmt.Errorf("could not close output LCIO file: %w", err)
	}

	return nil
}

func runNbrFrom(fname string) (int32, error) {
	var (
		name = filepath.Base(fname)
		run  int32
	)
	_, err := fmt.Sscanf(name, "qdc_%d.raw", &run)
	return run, err
}
