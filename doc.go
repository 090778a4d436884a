// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package qdc holds code to drive and read out CAEN V792 QDC modules
// sitting in a VME crate.
//
// The driver itself lives in the v792 package, the VME bus transports
// in the vme package, and the DAQ glue in the daq package.
package qdc // import "github.com/go-lpc/qdc"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of qdc and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/qdc"
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}

	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			default:
				return m.Replace.Path, m.Replace.Sum
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
