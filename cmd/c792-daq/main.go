// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command c792-daq drives a V792 QDC data acquisition in stand-alone mode.
//
// Each trigger is written as a record to the output file
// <odir>/qdc_<run>.raw, until the requested number of triggers has been
// read out or the command is interrupted.
package main // import "github.com/go-lpc/qdc/cmd/c792-daq"

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-lpc/qdc"
	"github.com/go-lpc/qdc/daq"
	"github.com/go-lpc/qdc/internal/config"
	"github.com/go-lpc/qdc/internal/journal"
	"github.com/go-lpc/qdc/v792"
	"github.com/go-lpc/qdc/vme"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		cfgName = flag.String("cfg", "", "path to crate configuration file")
		runnbr  = flag.Int("run", -1, "run number")
		ntrig   = flag.Int("n", 0, "number of triggers to read out (0: until interrupted)")
		odir    = flag.String("o", ".", "output dir")
		doMon   = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq  = flag.Duration("freq", 1*time.Second, "pmon frequency")
	)

	log.SetPrefix("c792-daq: ")
	log.SetFlags(0)

	flag.Parse()

	if *runnbr < 0 {
		log.Fatalf("invalid run number value")
	}

	cfg := config.Default()
	if *cfgName != "" {
		var err error
		cfg, err = config.Load(*cfgName)
		if err != nil {
			log.Fatalf("could not load crate configuration: %+v", err)
		}
	}

	if vers, _ := qdc.Version(); vers != "" {
		log.Printf("qdc version: %s", vers)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	err := run(cfg, uint32(*runnbr), *ntrig, *odir, *doMon, *doFreq, stop)
	if err != nil {
		log.Fatalf("could not run c792-daq: %+v", err)
	}
}

func run(cfg config.Config, runnbr uint32, ntrig int, odir string, doMon bool, freq time.Duration, stop chan os.Signal) error {
	bus, err := daq.OpenBus(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	plat, err := vme.PlatformByName(cfg.Bus.Platform)
	if err != nil {
		return err
	}
	opts := []v792.Option{
		v792.WithPlatform(plat),
		v792.WithLogger(log.New(os.Stdout, "v792: ", 0)),
	}
	if cfg.Swap != nil {
		opts = append(opts, v792.WithSwap(*cfg.Swap))
	}
	drv := v792.New(bus, opts...)

	err = daq.Setup(drv, cfg)
	if err != nil {
		return fmt.Errorf("could not setup crate: %w", err)
	}

	var alert *daq.Alerter
	if cfg.Alert != nil {
		alert = daq.NewAlerter(*cfg.Alert)
	}

	rdo := daq.NewReadout(
		drv,
		daq.WithLogger(log.Default()),
		daq.WithMode(cfg.Mode),
		daq.WithPoll(cfg.Poll),
		daq.WithAlerter(alert),
	)

	f, err := os.Create(filepath.Join(odir, fmt.Sprintf("qdc_%06d.raw", runnbr)))
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}
	defer f.Close()

	if doMon {
		p, err := pmon.Monitor(os.Getpid())
		if err != nil {
			return fmt.Errorf("could not start monitoring: %w", err)
		}
		mon, err := os.Create(filepath.Join(odir, fmt.Sprintf("qdc_%06d-pmon.log", runnbr)))
		if err != nil {
			return fmt.Errorf("could not create pmon log file: %w", err)
		}
		defer mon.Close()
		p.W = mon
		p.Freq = freq

		go func() {
			err := p.Run()
			if err != nil {
				log.Printf("could not start monitoring: %+v", err)
			}
		}()

		defer func() {
			err := p.Kill()
			if err != nil {
				log.Printf("could not stop monitoring: %+v", err)
			}
		}()
	}

	var jnl *journal.Journal
	if cfg.Journal != "" {
		jnl, err = journal.Open(cfg.Journal)
		if err != nil {
			return err
		}
		defer jnl.Close()

		mods := make([]v792.Settings, drv.Len())
		for id := range mods {
			mods[id], err = drv.Settings(id)
			if err != nil {
				return err
			}
		}
		err = jnl.Begin(runnbr, "", time.Now().UTC(), mods)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			log.Printf("stopping run %d...", runnbr)
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		grp, gctx = errgroup.WithContext(ctx)
		recs      = make(chan daq.Record, 64)
		sim       = bus.Sim != nil
	)

	grp.Go(func() error {
		defer close(recs)
		for trig := uint32(1); ntrig <= 0 || int(trig) <= ntrig; trig++ {
			ok, err := wait(gctx, drv, sim, cfg.Poll)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			var rec daq.Record
			rdo.Trigger(&rec, trig)
			select {
			case recs <- rec:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	grp.Go(func() error {
		wbuf := bufio.NewWriter(f)
		enc := daq.NewEncoder(wbuf)
		for rec := range recs {
			err := enc.Encode(&rec)
			if err != nil {
				return fmt.Errorf("could not write record of trigger %d: %w", rec.Trigger, err)
			}
		}
		return wbuf.Flush()
	})

	err = grp.Wait()
	if err != nil {
		return fmt.Errorf("could not read out run %d: %w", runnbr, err)
	}

	st := rdo.Stats()
	log.Printf(
		"run %d: triggers=%d events=%d empty=%d failures=%d",
		runnbr, st.Triggers, st.Events, st.Empty, st.Failures,
	)

	if jnl != nil {
		err = jnl.End(runnbr, time.Now().UTC(), st.Events)
		if err != nil {
			return err
		}
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output file: %w", err)
	}

	return nil
}

// wait waits for the next trigger. In simulation mode, a software gate is
// sent to all modules instead.
func wait(ctx context.Context, drv *v792.Driver, sim bool, poll int) (bool, error) {
	mask := drv.ScanMask()
	for {
		select {
		case <-ctx.Done():
			return false, nil
		default:
		}

		if sim {
			return true, daq.Gate(drv)
		}

		got, err := drv.GDReady(mask, poll)
		if err != nil {
			return false, fmt.Errorf("could not poll modules: %w", err)
		}
		if got == mask {
			return true, nil
		}
	}
}
