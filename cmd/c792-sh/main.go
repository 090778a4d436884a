// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command c792-sh is an interactive shell to inspect and drive a crate of
// V792 QDCs.
//
// Usage: c792-sh [OPTIONS]
//
// Example:
//
//  $> c792-sh -cfg crate.yaml
//  c792> init
//  c792> gstatus
//  c792> thresh 0 3 12
//  c792> gate
//  c792> read 0
//  c792> quit
package main // import "github.com/go-lpc/qdc/cmd/c792-sh"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/qdc/daq"
	"github.com/go-lpc/qdc/internal/config"
	"github.com/go-lpc/qdc/v792"
	"github.com/go-lpc/qdc/vme"
	"github.com/peterh/liner"
	"gopkg.in/yaml.v3"
)

const prompt = "c792> "

func main() {
	log.SetPrefix("c792-sh: ")
	log.SetFlags(0)

	var (
		cfgName = flag.String("cfg", "", "path to crate configuration file")
		hist    = flag.String("hist", filepath.Join(os.TempDir(), ".c792-sh.history"), "path to shell history file")
	)

	flag.Parse()

	cfg := config.Default()
	if *cfgName != "" {
		var err error
		cfg, err = config.Load(*cfgName)
		if err != nil {
			log.Fatalf("could not load crate configuration: %+v", err)
		}
	}

	err := xmain(cfg, *hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func xmain(cfg config.Config, hist string) error {
	sh, err := newShell(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer sh.Close()

	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(sh.complete)

	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(sh.w, "error: %+v\n", err)
		}
	}
}

var errQuit = errors.New("quit")

type shell struct {
	cfg config.Config
	w   io.Writer
	bus *daq.Bus
	drv *v792.Driver
	cmd map[string]command
}

type command struct {
	help  string
	nargs int // minimum number of arguments
	fct   func(args []string) error
}

func newShell(cfg config.Config, w io.Writer) (*shell, error) {
	bus, err := daq.OpenBus(cfg)
	if err != nil {
		return nil, err
	}

	plat, err := vme.PlatformByName(cfg.Bus.Platform)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	opts := []v792.Option{
		v792.WithPlatform(plat),
		v792.WithLogger(log.New(w, "v792: ", 0)),
	}
	if cfg.Swap != nil {
		opts = append(opts, v792.WithSwap(*cfg.Swap))
	}

	sh := &shell{
		cfg: cfg,
		w:   w,
		bus: bus,
		drv: v792.New(bus, opts...),
	}
	sh.cmd = map[string]command{
		"help":     {help: "help: list commands", fct: sh.cmdHelp},
		"init":     {help: "init: initialize and setup the crate", fct: sh.cmdInit},
		"status":   {help: "status ID: display the state of a module", nargs: 1, fct: sh.cmdStatus},
		"gstatus":  {help: "gstatus: display a summary of all modules", fct: sh.cmdGStatus},
		"settings": {help: "settings ID: display the settings of a module", nargs: 1, fct: sh.cmdSettings},
		"thresh":   {help: "thresh ID CH [VALUE]: display or set a channel threshold", nargs: 2, fct: sh.cmdThresh},
		"sparse":   {help: "sparse ID OVER UNDER: enable or disable suppressions", nargs: 3, fct: sh.cmdSparse},
		"berr":     {help: "berr ID on|off: enable or disable bus errors", nargs: 2, fct: sh.cmdBerr},
		"gate":     {help: "gate [ID]: send a software gate to a module (default: all)", fct: sh.cmdGate},
		"dready":   {help: "dready ID: display the number of events ready", nargs: 1, fct: sh.cmdDready},
		"evcnt":    {help: "evcnt ID: display the event counter", nargs: 1, fct: sh.cmdEvCnt},
		"read":     {help: "read ID: read and display the next event", nargs: 1, fct: sh.cmdRead},
		"flush":    {help: "flush ID: discard the next event", nargs: 1, fct: sh.cmdFlush},
		"clear":    {help: "clear ID: clear the data of a module", nargs: 1, fct: sh.cmdClear},
		"reset":    {help: "reset ID: reset a module", nargs: 1, fct: sh.cmdReset},
		"quit":     {help: "quit: exit the shell", fct: sh.cmdQuit},
	}
	return sh, nil
}

func (sh *shell) Close() error {
	return sh.bus.Close()
}

func (sh *shell) complete(line string) []string {
	var out []string
	for name := range sh.cmd {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (sh *shell) exec(line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}
	name, args := toks[0], toks[1:]
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := sh.cmd[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	if len(args) < cmd.nargs {
		return fmt.Errorf("missing arguments (usage: %s)", cmd.help)
	}
	return cmd.fct(args)
}

func parseInt(s string) (int, error) {
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", s, err)
	}
	return int(v), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true", "yes":
		return true, nil
	case "off", "0", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func (sh *shell) cmdHelp(args []string) error {
	names := make([]string, 0, len(sh.cmd))
	for name := range sh.cmd {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(sh.w, "  %s\n", sh.cmd[name].help)
	}
	return nil
}

func (sh *shell) cmdInit(args []string) error {
	err := daq.Setup(sh.drv, sh.cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "initialized %d modules (mask=0x%x)\n", sh.drv.Len(), sh.drv.ScanMask())
	return nil
}

func (sh *shell) cmdStatus(args []string) error {
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	return sh.drv.Status(sh.w, id)
}

func (sh *shell) cmdGStatus(args []string) error {
	return sh.drv.GStatus(sh.w)
}

func (sh *shell) cmdSettings(args []string) error {
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	set, err := sh.drv.Settings(id)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(sh.w)
	enc.SetIndent(2)
	err = enc.Encode(set)
	if err != nil {
		return err
	}
	return enc.Close()
}

func (sh *shell) cmdThresh(args []string) error {
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	ch, err := parseInt(args[1])
	if err != nil {
		return err
	}
	var v int16
	switch len(args) {
	case 2:
		v, err = sh.drv.Thresh(id, ch)
	default:
		var set int
		set, err = parseInt(args[2])
		if err != nil {
			return err
		}
		v, err = sh.drv.SetThresh(id, ch, int16(set))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "module %d channel %d: threshold=%d\n", id, ch, v)
	return nil
}

func (sh *shell) cmdSparse(args []string) error {
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	over, err := parseBool(args[1])
	if err != nil {
		return err
	}
	under, err := parseBool(args[2])
	if err != nil {
		return err
	}
	bits, err := sh.drv.Sparse(id, over, under)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "module %d: bit set 2 suppression bits=0x%04x\n", id, bits)
	return nil
}

func (sh *shell) cmdBerr(args []string) error {
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	on, err := parseBool(args[1])
	if err != nil {
		return err
	}
	if on {
		return sh.drv.EnableBerr(id)
	}
	return sh.drv.DisableBerr(id)
}

func (sh *shell) cmdGate(args []string) error {
	if len(args) == 0 {
		return daq.Gate(sh.drv)
	}
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	return sh.drv.Gate(id)
}

func (sh *shell) cmdDready(args []string) error {
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	n, err := sh.drv.Dready(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "module %d: %d event(s) ready\n", id, n)
	return nil
}

func (sh *shell) cmdEvCnt(args []string) error {
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	n, err := sh.drv.ReadEventCount(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "module %d: event counter=%d\n", id, n)
	return nil
}

func (sh *shell) cmdRead(args []string) error {
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	_, err = sh.drv.PrintEvent(id, sh.w)
	return err
}

func (sh *shell) cmdFlush(args []string) error {
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	n, err := sh.drv.FlushEvent(id, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "module %d: flushed %d words\n", id, n)
	return nil
}

func (sh *shell) cmdClear(args []string) error {
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	return sh.drv.Clear(id)
}

func (sh *shell) cmdReset(args []string) error {
	id, err := parseInt(args[0])
	if err != nil {
		return err
	}
	return sh.drv.Reset(id)
}

func (sh *shell) cmdQuit(args []string) error {
	return errQuit
}
