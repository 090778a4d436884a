// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config describes the configuration of a crate of V792 QDCs,
// as read from a YAML file.
package config // import "github.com/go-lpc/qdc/internal/config"

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-lpc/qdc/v792"
	"github.com/go-lpc/qdc/vme"
	"gopkg.in/yaml.v3"
)

// Readout modes.
const (
	ModePIO = "pio"
	ModeDMA = "dma"
)

// Config is the configuration of a crate.
type Config struct {
	Bus     Bus      `yaml:"bus"`
	Base    uint32   `yaml:"base"`    // bus address of the first module
	Stride  uint32   `yaml:"stride"`  // distance between two modules
	Modules int      `yaml:"modules"` // number of modules
	Crate   uint8    `yaml:"crate"`   // crate number written in event headers
	Mode    string   `yaml:"mode"`    // readout mode: pio or dma
	Swap    *bool    `yaml:"swap,omitempty"`
	Berr    bool     `yaml:"berr"`
	Poll    int      `yaml:"poll"` // number of event-ready polls per event
	IRQ     *IRQ     `yaml:"irq,omitempty"`
	CondDB  *CondDB  `yaml:"conddb,omitempty"`
	Journal string   `yaml:"journal,omitempty"` // path to the run journal
	Alert   *Alert   `yaml:"alert,omitempty"`
	Setup   []Module `yaml:"setup,omitempty"`
}

// Bus describes how to reach the VME bus.
type Bus struct {
	Platform string   `yaml:"platform"`
	Sim      bool     `yaml:"sim"` // use an in-memory crate
	Mem      string   `yaml:"mem,omitempty"`
	DMA      string   `yaml:"dma,omitempty"`
	IRQ      string   `yaml:"irq,omitempty"`
	Windows  []Window `yaml:"windows,omitempty"`
}

// Window is a master window of the VME bridge.
type Window struct {
	AM     string `yaml:"am"`
	Base   uint32 `yaml:"base"`
	Size   int    `yaml:"size"`
	Offset int64  `yaml:"offset"`
}

// IRQ configures interrupt driven readout.
type IRQ struct {
	Level     int `yaml:"level"`
	Vector    int `yaml:"vector"`
	Threshold int `yaml:"threshold"` // number of events per interrupt
	Module    int `yaml:"module"`    // module raising the interrupt
}

// CondDB selects the module settings stored in the condition database.
type CondDB struct {
	DB  string `yaml:"db"`  // database name
	Tag string `yaml:"tag"` // configuration tag, or "last"
}

// Alert configures mail alerts on readout failures.
type Alert struct {
	Host  string   `yaml:"host"`
	Port  int      `yaml:"port"`
	User  string   `yaml:"user,omitempty"`
	Pass  string   `yaml:"pass,omitempty"`
	From  string   `yaml:"from"`
	To    []string `yaml:"to"`
	After int      `yaml:"after"` // consecutive failures before an alert
}

// Module holds the settings of a single module.
type Module struct {
	ID     int           `yaml:"id"`
	Geo    *uint8        `yaml:"geo,omitempty"`
	Over   bool          `yaml:"overflow"`  // suppress overflows
	Under  bool          `yaml:"underflow"` // suppress under-threshold channels
	Thresh map[int]int16 `yaml:"thresholds,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Bus:     Bus{Platform: vme.Linux.Name},
		Base:    0x100000,
		Stride:  0x10000,
		Modules: 1,
		Mode:    ModePIO,
		Poll:    1000,
	}
}

// Load reads, defaults and validates the configuration file fname.
func Load(fname string) (Config, error) {
	f, err := os.Open(fname)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not open %q: %w", fname, err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return cfg, fmt.Errorf("config: could not load %q: %w", fname, err)
	}
	return cfg, nil
}

// Decode reads, defaults and validates a configuration from r.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&cfg)
	switch {
	case errors.Is(err, io.EOF):
		// empty document: defaults.
	case err != nil:
		return cfg, fmt.Errorf("config: could not decode YAML: %w", err)
	}

	cfg.normalize()
	err = cfg.Validate()
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Encode writes the configuration as YAML.
func (cfg Config) Encode(w io.Writer) error {
	buf := new(bytes.Buffer)
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)
	err := enc.Encode(cfg)
	if err != nil {
		return fmt.Errorf("config: could not encode YAML: %w", err)
	}
	err = enc.Close()
	if err != nil {
		return fmt.Errorf("config: could not flush YAML: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func (cfg *Config) normalize() {
	cfg.Mode = strings.ToLower(cfg.Mode)
	if cfg.Bus.Platform == "" {
		cfg.Bus.Platform = vme.Linux.Name
	}
	if cfg.Modules == 0 {
		cfg.Modules = 1
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 1000
	}
	if irq := cfg.IRQ; irq != nil {
		if irq.Level == 0 {
			irq.Level = 4
		}
		if irq.Vector == 0 {
			irq.Vector = 0xaa
		}
		if irq.Threshold == 0 {
			irq.Threshold = 1
		}
	}
	if db := cfg.CondDB; db != nil && db.Tag == "" {
		db.Tag = "last"
	}
	if a := cfg.Alert; a != nil {
		if a.Port == 0 {
			a.Port = 25
		}
		if a.After <= 0 {
			a.After = 1
		}
	}
}

// Validate checks the configuration is consistent.
func (cfg Config) Validate() error {
	plat, err := vme.PlatformByName(cfg.Bus.Platform)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Base == 0 {
		return fmt.Errorf("config: invalid base address 0x%x", cfg.Base)
	}
	if cfg.Base > 0x00ffffff && plat.NoA32 {
		return fmt.Errorf("config: platform %q can not address 0x%08x", plat.Name, cfg.Base)
	}
	if cfg.Modules < 0 || cfg.Modules > v792.MaxModules {
		return fmt.Errorf("config: invalid number of modules %d (max=%d)", cfg.Modules, v792.MaxModules)
	}
	if cfg.Modules > 1 && cfg.Stride < 0x10000 {
		return fmt.Errorf("config: modules stride 0x%x overlaps module address space", cfg.Stride)
	}

	switch cfg.Mode {
	case ModePIO:
	case ModeDMA:
		if !cfg.Berr {
			return fmt.Errorf("config: DMA readout requires bus errors to be enabled")
		}
	default:
		return fmt.Errorf("config: invalid readout mode %q", cfg.Mode)
	}

	if !cfg.Bus.Sim {
		if cfg.Bus.Mem == "" {
			return fmt.Errorf("config: missing VME memory device")
		}
		if cfg.Mode == ModeDMA && cfg.Bus.DMA == "" {
			return fmt.Errorf("config: DMA readout requires a DMA device")
		}
		for i, w := range cfg.Bus.Windows {
			if _, err := ParseAddrMod(w.AM); err != nil {
				return fmt.Errorf("config: invalid window %d: %w", i, err)
			}
			if w.Size <= 0 {
				return fmt.Errorf("config: invalid window %d size %d", i, w.Size)
			}
		}
	}

	if irq := cfg.IRQ; irq != nil {
		if irq.Level < 1 || irq.Level > 7 {
			return fmt.Errorf("config: invalid interrupt level %d", irq.Level)
		}
		if irq.Vector < 32 || irq.Vector > 255 {
			return fmt.Errorf("config: invalid interrupt vector 0x%x", irq.Vector)
		}
		if irq.Threshold < 1 || irq.Threshold > 31 {
			return fmt.Errorf("config: invalid interrupt event threshold %d", irq.Threshold)
		}
		if irq.Module < 0 || irq.Module >= cfg.Modules {
			return fmt.Errorf("config: invalid interrupt module %d", irq.Module)
		}
	}

	if db := cfg.CondDB; db != nil && db.DB == "" {
		return fmt.Errorf("config: missing condition database name")
	}

	if a := cfg.Alert; a != nil {
		if a.Host == "" || a.From == "" || len(a.To) == 0 {
			return fmt.Errorf("config: incomplete alert configuration")
		}
	}

	seen := make(map[int]bool, len(cfg.Setup))
	for _, m := range cfg.Setup {
		if m.ID < 0 || m.ID >= cfg.Modules {
			return fmt.Errorf("config: invalid module id %d", m.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("config: duplicate setup for module %d", m.ID)
		}
		seen[m.ID] = true
		if m.Geo != nil && *m.Geo > 0x1f {
			return fmt.Errorf("config: invalid geo address %d for module %d", *m.Geo, m.ID)
		}
		for ch, v := range m.Thresh {
			if ch < 0 || ch >= v792.MaxChannels {
				return fmt.Errorf("config: invalid channel %d for module %d", ch, m.ID)
			}
			if v < 0 || v > 0x1ff {
				return fmt.Errorf("config: invalid threshold %d for module %d channel %d", v, m.ID, ch)
			}
		}
	}

	return nil
}

// Lookup returns the setup of module id, if any.
func (cfg Config) Lookup(id int) (Module, bool) {
	for _, m := range cfg.Setup {
		if m.ID == id {
			return m, true
		}
	}
	return Module{}, false
}

// ParseAddrMod parses an address modifier name (a24 or a32).
func ParseAddrMod(s string) (vme.AddrMod, error) {
	switch strings.ToLower(s) {
	case "a24":
		return vme.A24, nil
	case "a32":
		return vme.A32, nil
	}
	return 0, fmt.Errorf("invalid address modifier %q", s)
}
