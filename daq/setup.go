// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"fmt"

	"github.com/go-lpc/qdc/conddb"
	"github.com/go-lpc/qdc/internal/config"
	"github.com/go-lpc/qdc/v792"
)

// Setup initializes the modules of the crate described by cfg and
// programs their settings.
func Setup(drv *v792.Driver, cfg config.Config) error {
	err := drv.Init(cfg.Base, cfg.Stride, cfg.Modules, cfg.Crate)
	if err != nil {
		return fmt.Errorf("daq: could not initialize crate: %w", err)
	}

	for id := 0; id < drv.Len(); id++ {
		err := setupModule(drv, id, cfg)
		if err != nil {
			return fmt.Errorf("daq: could not setup module %d: %w", id, err)
		}
	}
	return nil
}

func setupModule(drv *v792.Driver, id int, cfg config.Config) error {
	set, _ := cfg.Lookup(id)
	if set.Geo != nil {
		err := drv.SetGeoAddress(id, *set.Geo)
		if err != nil {
			return err
		}
	}

	_, err := drv.Sparse(id, set.Over, set.Under)
	if err != nil {
		return err
	}

	err = drv.ClearThresh(id)
	if err != nil {
		return err
	}
	for ch, v := range set.Thresh {
		got, err := drv.SetThresh(id, ch, v)
		if err != nil {
			return err
		}
		if got != v {
			return fmt.Errorf("threshold of channel %d read back as %d (want=%d)", ch, got, v)
		}
	}

	if cfg.Berr {
		err = drv.EnableBerr(id)
	} else {
		err = drv.DisableBerr(id)
	}
	if err != nil {
		return err
	}

	return drv.Clear(id)
}

type condDB interface {
	LastConfig(ctx context.Context) (string, error)
	Modules(ctx context.Context, config string) ([]conddb.Module, error)
	Thresholds(ctx context.Context, config string, id int) ([v792.MaxChannels]int16, error)
}

var _ condDB = (*conddb.DB)(nil)

// FromDB replaces the module settings of cfg with the ones stored in the
// condition database under the configuration tag of cfg.CondDB.
// The tag "last" selects the most recent configuration.
// FromDB returns the configuration tag that was used.
func FromDB(ctx context.Context, db condDB, cfg *config.Config) (string, error) {
	if cfg.CondDB == nil {
		return "", fmt.Errorf("daq: no condition database configured")
	}
	tag := cfg.CondDB.Tag
	if tag == "" || tag == "last" {
		var err error
		tag, err = db.LastConfig(ctx)
		if err != nil {
			return "", fmt.Errorf("daq: could not retrieve last configuration: %w", err)
		}
		if tag == "" {
			return "", fmt.Errorf("daq: no configuration in condition database")
		}
	}

	mods, err := db.Modules(ctx, tag)
	if err != nil {
		return tag, fmt.Errorf("daq: could not retrieve modules of %q: %w", tag, err)
	}
	if len(mods) == 0 {
		return tag, fmt.Errorf("daq: no modules in configuration %q", tag)
	}

	setup := make([]config.Module, 0, len(mods))
	for _, mod := range mods {
		if mod.ID < 0 || mod.ID >= cfg.Modules {
			return tag, fmt.Errorf("daq: module %d of %q not in crate (modules=%d)", mod.ID, tag, cfg.Modules)
		}
		if addr := cfg.Base + uint32(mod.ID)*cfg.Stride; mod.Addr != addr {
			return tag, fmt.Errorf(
				"daq: module %d of %q at address 0x%08x (crate=0x%08x)",
				mod.ID, tag, mod.Addr, addr,
			)
		}

		thresh, err := db.Thresholds(ctx, tag, mod.ID)
		if err != nil {
			return tag, fmt.Errorf("daq: could not retrieve thresholds of module %d: %w", mod.ID, err)
		}

		geo := mod.Geo
		set := config.Module{
			ID:     mod.ID,
			Geo:    &geo,
			Over:   mod.Over,
			Under:  mod.Under,
			Thresh: make(map[int]int16),
		}
		for ch, v := range thresh {
			if v != 0 {
				set.Thresh[ch] = v
			}
		}
		setup = append(setup, set)
	}

	cfg.Setup = setup
	err = cfg.Validate()
	if err != nil {
		return tag, fmt.Errorf("daq: invalid configuration %q: %w", tag, err)
	}
	return tag, nil
}
