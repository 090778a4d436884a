// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/go-lpc/qdc/internal/config"
	"github.com/go-lpc/qdc/v792"
	"github.com/go-lpc/qdc/vme"
	"github.com/go-lpc/qdc/vme/vmesim"
)

// Bus is a VME bus opened from a crate configuration.
type Bus struct {
	vme.Bus

	// Sim is the simulated crate, in simulation mode.
	Sim *vmesim.Bus

	closer io.Closer
}

// OpenBus opens the VME bus described by cfg.
//
// In simulation mode, the crate is populated with cfg.Modules simulated
// modules whose inputs see pedestals and random signals.
func OpenBus(cfg config.Config) (*Bus, error) {
	plat, err := vme.PlatformByName(cfg.Bus.Platform)
	if err != nil {
		return nil, fmt.Errorf("daq: could not open VME bus: %w", err)
	}

	if !cfg.Bus.Sim {
		bus, err := openDevMem(plat, cfg.Bus)
		if err != nil {
			return nil, fmt.Errorf("daq: could not open VME bus: %w", err)
		}
		return &Bus{Bus: bus, closer: bus}, nil
	}

	sim := vmesim.New(plat)
	am := vme.A24
	if cfg.Base > 0x00ffffff {
		am = vme.A32
	}
	rnd := rand.New(rand.NewSource(1234))
	for i := 0; i < cfg.Modules; i++ {
		m := vmesim.NewModule(uint8(i + 2))
		m.Source = chargeSource(rand.New(rand.NewSource(rnd.Int63())))
		sim.Insert(am, cfg.Base+uint32(i)*cfg.Stride, m)
	}
	return &Bus{Bus: sim, Sim: sim}, nil
}

// Close releases the bus resources.
func (bus *Bus) Close() error {
	if bus.closer == nil {
		return nil
	}
	return bus.closer.Close()
}

// Gate sends a software gate to all the modules of drv.
func Gate(drv *v792.Driver) error {
	for id := 0; id < drv.Len(); id++ {
		err := drv.Gate(id)
		if err != nil {
			return err
		}
	}
	return nil
}

// chargeSource returns charges distributed around the module pedestal,
// with a signal on a few channels.
func chargeSource(rnd *rand.Rand) func() []uint16 {
	const pedestal = 180
	return func() []uint16 {
		qs := make([]uint16, v792.MaxChannels)
		for i := range qs {
			q := pedestal + rnd.NormFloat64()*5
			if rnd.Float64() < 0.1 {
				q += rnd.ExpFloat64() * 800
			}
			if q < 0 {
				q = 0
			}
			if q > 0x1fff {
				q = 0x1fff
			}
			qs[i] = uint16(q)
		}
		return qs
	}
}
