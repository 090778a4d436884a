// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-lpc/qdc/internal/config"
	"github.com/go-lpc/qdc/internal/journal"
)

func newTestServer(t *testing.T, cfg config.Config, db *fakeDB) *Server {
	t.Helper()
	srv := NewServer(cfg)
	srv.msg = quiet
	srv.freq = time.Millisecond
	srv.openDB = func(name string) (runDB, error) {
		return db, nil
	}
	return srv
}

func TestServer(t *testing.T) {
	for _, tc := range []struct {
		name string
		irq  *config.IRQ
	}{
		{name: "sim"},
		{name: "irq", irq: &config.IRQ{Level: 4, Vector: 0xaa, Threshold: 1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := simConfig(2)
			cfg.IRQ = tc.irq
			cfg.CondDB = &config.CondDB{DB: "qdc", Tag: "last"}
			cfg.Journal = filepath.Join(t.TempDir(), "runs.db")

			db := newFakeDB()
			srv := newTestServer(t, cfg, db)
			defer srv.close()

			ctx := context.Background()
			err := srv.configure(ctx)
			if err != nil {
				t.Fatalf("could not configure: %+v", err)
			}
			if got, want := srv.tag, "QDC2020_0"; got != want {
				t.Fatalf("invalid config tag: got=%q, want=%q", got, want)
			}

			err = srv.init()
			if err != nil {
				t.Fatalf("could not init: %+v", err)
			}

			for _, run := range []uint32{42, 43} {
				runServer(t, srv, run)
			}

			if got, want := len(db.runs), 2; got != want {
				t.Fatalf("invalid number of recorded runs: got=%d, want=%d", got, want)
			}

			err = srv.close()
			if err != nil {
				t.Fatalf("could not close server: %+v", err)
			}

			jnl, err := journal.Open(cfg.Journal)
			if err != nil {
				t.Fatalf("could not open journal: %+v", err)
			}
			defer jnl.Close()

			runs, err := jnl.Runs()
			if err != nil {
				t.Fatalf("could not list runs: %+v", err)
			}
			if got, want := len(runs), 2; got != want {
				t.Fatalf("invalid number of runs: got=%d, want=%d", got, want)
			}

			run, err := jnl.Run(42)
			if err != nil {
				t.Fatalf("could not read run 42: %+v", err)
			}
			if got, want := run.Config, "QDC2020_0"; got != want {
				t.Fatalf("invalid run config: got=%q, want=%q", got, want)
			}
			if run.Events == 0 {
				t.Fatalf("no events recorded for run 42")
			}
			if got, want := len(run.Modules), 2; got != want {
				t.Fatalf("invalid number of modules: got=%d, want=%d", got, want)
			}
			if got, want := run.Modules[1].Geo, uint8(5); got != want {
				t.Fatalf("invalid geo address: got=%d, want=%d", got, want)
			}
			if got, want := run.Modules[1].Thresh[7], int16(20); got != want {
				t.Fatalf("invalid threshold: got=%d, want=%d", got, want)
			}
		})
	}
}

func runServer(t *testing.T, srv *Server, run uint32) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := srv.startRun(ctx, run)
	if err != nil {
		t.Fatalf("could not start run %d: %+v", run, err)
	}

	done := make(chan error)
	go func() {
		done <- srv.readout(ctx)
	}()

	const n = 5
	for i := 0; i < n; i++ {
		var raw []byte
		select {
		case raw = <-srv.data:
		case <-time.After(5 * time.Second):
			t.Fatalf("run %d: timeout waiting for record %d", run, i)
		}

		var rec Record
		err := rec.UnmarshalBinary(raw)
		if err != nil {
			t.Fatalf("run %d: could not decode record %d: %+v", run, i, err)
		}
		if got, want := rec.Trigger, uint32(i+1); got != want {
			t.Fatalf("run %d: invalid trigger: got=%d, want=%d", run, got, want)
		}
		evts, bad, err := rec.Events()
		if err != nil {
			t.Fatalf("run %d: could not decode events of record %d: %+v", run, i, err)
		}
		if bad != 0 {
			t.Fatalf("run %d: record %d has %d bad modules", run, i, bad)
		}
		for _, evt := range evts {
			if got, want := evt.Header.Crate, uint8(testCrate); got != want {
				t.Fatalf("run %d: invalid crate: got=%d, want=%d", run, got, want)
			}
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run %d: readout failed: %+v", run, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run %d: timeout waiting for readout to stop", run)
	}

	got, st, _, err := srv.stopRun()
	if err != nil {
		t.Fatalf("could not stop run %d: %+v", run, err)
	}
	if got != run {
		t.Fatalf("invalid stopped run: got=%d, want=%d", got, run)
	}
	if st.Triggers < n {
		t.Fatalf("run %d: invalid number of triggers: got=%d, want>=%d", run, st.Triggers, n)
	}

	// drain records from the end of the run.
	for len(srv.data) > 0 {
		<-srv.data
	}
}

func TestServerLoopBeforeStart(t *testing.T) {
	cfg := simConfig(1)
	db := newFakeDB()
	srv := newTestServer(t, cfg, db)
	defer srv.close()

	err := srv.configure(context.Background())
	if err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	err = srv.init()
	if err != nil {
		t.Fatalf("could not init: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- srv.readout(ctx)
	}()

	time.Sleep(10 * srv.freq)
	if got := len(srv.data); got != 0 {
		t.Fatalf("records published before start: %d", got)
	}

	err = srv.startRun(ctx, 1)
	if err != nil {
		t.Fatalf("could not start run: %+v", err)
	}

	var rec Record
	select {
	case raw := <-srv.data:
		err = rec.UnmarshalBinary(raw)
		if err != nil {
			t.Fatalf("could not decode record: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for record")
	}
	if got, want := rec.Trigger, uint32(1); got != want {
		t.Fatalf("invalid trigger: got=%d, want=%d", got, want)
	}

	_, _, _, err = srv.stopRun()
	if err != nil {
		t.Fatalf("could not stop run: %+v", err)
	}

	// a quit while the run loop is still going.
	err = srv.close()
	if err != nil {
		t.Fatalf("could not close server: %+v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("readout failed: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for readout to stop")
	}
}
