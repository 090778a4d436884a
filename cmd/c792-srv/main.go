// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command c792-srv starts a TDAQ server reading out a crate of V792 QDCs.
//
// Usage: c792-srv [TDAQ-OPTIONS] config.yaml
//
// The server publishes a record per trigger on its /qdc output.
package main // import "github.com/go-lpc/qdc/cmd/c792-srv"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/qdc"
	"github.com/go-lpc/qdc/daq"
	"github.com/go-lpc/qdc/internal/config"
)

func main() {
	log.SetPrefix("c792-srv: ")
	log.SetFlags(0)

	cmd := flags.New()

	if len(cmd.Args) != 1 {
		log.Fatalf("missing path to crate configuration file")
	}

	cfg, err := config.Load(cmd.Args[0])
	if err != nil {
		log.Fatalf("could not load crate configuration: %+v", err)
	}

	if vers, _ := qdc.Version(); vers != "" {
		log.Printf("qdc version: %s", vers)
	}

	dev := daq.NewServer(cfg)

	srv := tdaq.New(cmd, os.Stdout)
	dev.Register(srv)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
