// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package daq

import (
	"fmt"
	"runtime"

	"github.com/go-lpc/qdc/internal/config"
	"github.com/go-lpc/qdc/vme"
)

type devBus interface {
	vme.Bus
	Close() error
}

func openDevMem(plat vme.Platform, cfg config.Bus) (devBus, error) {
	return nil, fmt.Errorf("no VME bridge support on %s", runtime.GOOS)
}
