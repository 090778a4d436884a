// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/qdc/conddb"
	"github.com/go-lpc/qdc/internal/config"
	"github.com/go-lpc/qdc/internal/journal"
	"github.com/go-lpc/qdc/v792"
	"github.com/go-lpc/qdc/vme"
)

// runDB is the subset of the condition database a server needs.
type runDB interface {
	condDB
	RecordRun(ctx context.Context, run uint32, config string, start time.Time) error
	Close() error
}

// Server is a TDAQ process reading out a crate of V792 QDCs.
// Each trigger is published as a Record on the /qdc output.
type Server struct {
	cfg config.Config
	msg *log.Logger

	openDB func(name string) (runDB, error)
	freq   time.Duration // software gate period in simulation mode, interrupt wait otherwise

	bus   *Bus
	jnl   *journal.Journal
	alert *Alerter
	tag   string

	// mu guards the crate and run state below.
	// The TDAQ run loop is started before the /start handler runs, and a
	// /quit may arrive while it is still running.
	mu      sync.Mutex
	drv     *v792.Driver
	rdo     *Readout
	run     uint32
	start   time.Time
	trig    uint32
	drops   uint64
	armed   bool // interrupts armed, possibly suspended by stopRun
	running bool // triggers are read out

	irq  chan int
	data chan []byte
}

// NewServer returns a server for the crate described by cfg.
func NewServer(cfg config.Config) *Server {
	return &Server{
		cfg: cfg,
		msg: log.New(os.Stdout, "daq: ", 0),
		openDB: func(name string) (runDB, error) {
			db, err := conddb.Open(name)
			if err != nil {
				return nil, err
			}
			return db, nil
		},
		freq: 10 * time.Millisecond,
		irq:  make(chan int, 1),
		data: make(chan []byte, 1024),
	}
}

// Register installs the server handlers on a TDAQ process.
func (srv *Server) Register(proc *tdaq.Server) {
	proc.CmdHandle("/config", srv.OnConfig)
	proc.CmdHandle("/init", srv.OnInit)
	proc.CmdHandle("/reset", srv.OnReset)
	proc.CmdHandle("/start", srv.OnStart)
	proc.CmdHandle("/stop", srv.OnStop)
	proc.CmdHandle("/quit", srv.OnQuit)

	proc.OutputHandle("/qdc", srv.output)

	proc.RunHandle(srv.loop)
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := srv.configure(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not configure crate: %+v", err)
		return fmt.Errorf("could not configure crate: %w", err)
	}
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := srv.init()
	if err != nil {
		ctx.Msg.Errorf("could not initialize crate: %+v", err)
		return fmt.Errorf("could not initialize crate: %w", err)
	}
	srv.mu.Lock()
	drv := srv.drv
	srv.mu.Unlock()
	ctx.Msg.Infof("initialized %d modules (mask=0x%x)", drv.Len(), drv.ScanMask())
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	err := srv.reset()
	if err != nil {
		ctx.Msg.Errorf("could not reset crate: %+v", err)
		return fmt.Errorf("could not reset crate: %w", err)
	}
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	srv.mu.Lock()
	run := srv.run + 1
	srv.mu.Unlock()
	if len(req.Body) >= 4 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		run = dec.ReadU32()
	}
	err := srv.startRun(ctx.Ctx, run)
	if err != nil {
		ctx.Msg.Errorf("could not start run %d: %+v", run, err)
		return fmt.Errorf("could not start run %d: %w", run, err)
	}
	ctx.Msg.Infof("started run %d (config=%q)", run, srv.tag)
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	run, st, drops, err := srv.stopRun()
	if err != nil {
		ctx.Msg.Errorf("could not stop run %d: %+v", run, err)
		return fmt.Errorf("could not stop run %d: %w", run, err)
	}
	ctx.Msg.Infof(
		"stopped run %d: triggers=%d events=%d empty=%d failures=%d drops=%d",
		run, st.Triggers, st.Events, st.Empty, st.Failures, drops,
	)
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	err := srv.close()
	if err != nil {
		ctx.Msg.Errorf("could not close crate: %+v", err)
		return fmt.Errorf("could not close crate: %w", err)
	}
	return nil
}

func (srv *Server) output(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
	case data := <-srv.data:
		dst.Body = data
	}
	return nil
}

func (srv *Server) loop(ctx tdaq.Context) error {
	return srv.readout(ctx.Ctx)
}

// configure opens the bus, the journal and retrieves the module settings
// from the condition database, when configured.
func (srv *Server) configure(ctx context.Context) error {
	err := srv.close()
	if err != nil {
		return err
	}

	if srv.cfg.CondDB != nil {
		db, err := srv.openDB(srv.cfg.CondDB.DB)
		if err != nil {
			return fmt.Errorf("could not open condition database: %w", err)
		}
		defer db.Close()

		srv.tag, err = FromDB(ctx, db, &srv.cfg)
		if err != nil {
			return err
		}
	}

	if srv.cfg.Alert != nil {
		srv.alert = NewAlerter(*srv.cfg.Alert)
	}

	if srv.cfg.Journal != "" {
		srv.jnl, err = journal.Open(srv.cfg.Journal)
		if err != nil {
			return err
		}
	}

	srv.bus, err = OpenBus(srv.cfg)
	if err != nil {
		return err
	}
	return nil
}

func (srv *Server) init() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.bus == nil {
		return fmt.Errorf("daq: crate not configured")
	}

	plat, err := vme.PlatformByName(srv.cfg.Bus.Platform)
	if err != nil {
		return err
	}
	opts := []v792.Option{
		v792.WithPlatform(plat),
		v792.WithLogger(log.New(srv.msg.Writer(), "v792: ", 0)),
	}
	if srv.cfg.Swap != nil {
		opts = append(opts, v792.WithSwap(*srv.cfg.Swap))
	}
	if srv.drv != nil {
		_ = srv.drv.Disarm(true)
	}
	srv.armed = false
	srv.drv = v792.New(srv.bus, opts...)

	err = Setup(srv.drv, srv.cfg)
	if err != nil {
		return err
	}

	if irq := srv.cfg.IRQ; irq != nil {
		err = srv.drv.Bind(srv.isr, irq.Level, irq.Vector)
		if err != nil {
			return fmt.Errorf("daq: could not bind interrupts: %w", err)
		}
	}

	srv.rdo = NewReadout(
		srv.drv,
		WithLogger(srv.msg),
		WithMode(srv.cfg.Mode),
		WithPoll(srv.cfg.Poll),
		WithAlerter(srv.alert),
	)
	return nil
}

func (srv *Server) isr(id int) {
	select {
	case srv.irq <- id:
	default:
	}
}

func (srv *Server) reset() error {
	srv.mu.Lock()
	drv := srv.drv
	srv.mu.Unlock()
	if drv == nil {
		return fmt.Errorf("daq: crate not initialized")
	}
	return srv.init()
}

func (srv *Server) startRun(ctx context.Context, run uint32) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.rdo == nil {
		return fmt.Errorf("daq: crate not initialized")
	}

	srv.run = run
	srv.start = time.Now().UTC()
	srv.trig = 0
	srv.drops = 0

	mods := make([]v792.Settings, srv.drv.Len())
	for id := range mods {
		err := srv.drv.Clear(id)
		if err != nil {
			return err
		}
		mods[id], err = srv.drv.Settings(id)
		if err != nil {
			return err
		}
	}

	if srv.jnl != nil {
		err := srv.jnl.Begin(run, srv.tag, srv.start, mods)
		if err != nil {
			return err
		}
	}

	if srv.cfg.CondDB != nil {
		db, err := srv.openDB(srv.cfg.CondDB.DB)
		if err != nil {
			return fmt.Errorf("could not open condition database: %w", err)
		}
		defer db.Close()
		err = db.RecordRun(ctx, run, srv.tag, srv.start)
		if err != nil {
			return err
		}
	}

	if irq := srv.cfg.IRQ; irq != nil {
		var err error
		switch {
		case srv.armed:
			err = srv.drv.Resume()
		default:
			err = srv.drv.Arm(irq.Module, irq.Threshold)
		}
		if err != nil {
			return fmt.Errorf("daq: could not arm interrupts: %w", err)
		}
		srv.armed = true
	}
	srv.running = true
	return nil
}

// stopRun ends the current run, and returns its number, readout counters
// and number of dropped records.
func (srv *Server) stopRun() (uint32, Stats, uint64, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.rdo == nil {
		return srv.run, Stats{}, 0, fmt.Errorf("daq: crate not initialized")
	}
	srv.running = false
	st := srv.rdo.Stats()

	if srv.cfg.IRQ != nil {
		err := srv.drv.Disarm(false)
		if err != nil {
			return srv.run, st, srv.drops, fmt.Errorf("daq: could not disarm interrupts: %w", err)
		}
	}

	if srv.jnl != nil {
		err := srv.jnl.End(srv.run, time.Now(), st.Events)
		if err != nil {
			return srv.run, st, srv.drops, err
		}
	}
	return srv.run, st, srv.drops, nil
}

func (srv *Server) close() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	var err error
	srv.running = false
	if srv.drv != nil {
		_ = srv.drv.Disarm(true)
		srv.drv = nil
		srv.rdo = nil
		srv.armed = false
	}
	if srv.jnl != nil {
		if e := srv.jnl.Close(); e != nil && err == nil {
			err = fmt.Errorf("could not close journal: %w", e)
		}
		srv.jnl = nil
	}
	if srv.bus != nil {
		if e := srv.bus.Close(); e != nil && err == nil {
			err = fmt.Errorf("could not close VME bus: %w", e)
		}
		srv.bus = nil
	}
	return err
}

// readout reads triggers out until ctx is done.
// Triggers are only read out between startRun and stopRun.
func (srv *Server) readout(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		idle, err := srv.step(ctx)
		if err != nil {
			return err
		}
		if !idle {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(srv.freq):
		}
	}
}

// step waits for the next trigger and publishes its record.
// step reports whether no run is going on.
func (srv *Server) step(ctx context.Context) (bool, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if !srv.running {
		return true, nil
	}

	ok, err := srv.wait(ctx)
	if err != nil || !ok {
		return false, err
	}

	var rec Record
	srv.trig++
	srv.rdo.Trigger(&rec, srv.trig)
	raw, err := rec.MarshalBinary()
	if err != nil {
		return false, fmt.Errorf("daq: could not marshal trigger %d: %w", rec.Trigger, err)
	}
	select {
	case srv.data <- raw:
	default:
		srv.drops++
	}
	return false, nil
}

// wait waits for the next trigger.
// The server lock must be held.
func (srv *Server) wait(ctx context.Context) (bool, error) {
	switch {
	case srv.cfg.IRQ != nil:
		if srv.bus.Sim != nil {
			err := Gate(srv.drv)
			if err != nil {
				return false, err
			}
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-srv.irq:
			return true, nil
		case <-time.After(srv.freq):
			return false, nil
		}

	case srv.bus.Sim != nil:
		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(srv.freq):
		}
		err := Gate(srv.drv)
		if err != nil {
			return false, err
		}
		return true, nil

	default:
		mask := srv.drv.ScanMask()
		got, err := srv.drv.GDReady(mask, srv.cfg.Poll)
		if err != nil {
			srv.msg.Printf("could not poll modules: %+v", err)
			return false, nil
		}
		return got == mask, nil
	}
}
