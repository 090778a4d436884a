// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package daq

import (
	"fmt"

	"github.com/go-lpc/qdc/internal/config"
	"github.com/go-lpc/qdc/vme"
)

type devBus interface {
	vme.Bus
	Close() error
}

func openDevMem(plat vme.Platform, cfg config.Bus) (devBus, error) {
	wins := make([]vme.Window, len(cfg.Windows))
	for i, w := range cfg.Windows {
		am, err := config.ParseAddrMod(w.AM)
		if err != nil {
			return nil, fmt.Errorf("invalid window %d: %w", i, err)
		}
		wins[i] = vme.Window{
			AM:     am,
			Base:   w.Base,
			Size:   w.Size,
			Offset: w.Offset,
		}
	}
	bus, err := vme.OpenDevMem(plat, cfg.Mem, cfg.DMA, cfg.IRQ, wins...)
	if err != nil {
		return nil, err
	}
	return bus, nil
}
