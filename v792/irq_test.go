// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package v792

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInterruptStates(t *testing.T) {
	drv, bus, _ := newTestDriver(t, 2)

	settings := func(id int) Settings {
		t.Helper()
		s, err := drv.Settings(id)
		if err != nil {
			t.Fatalf("could not read settings: %+v", err)
		}
		return s
	}

	for _, step := range []struct {
		name string
		fct  func() error
		want error
	}{
		{"arm-unbound", func() error { return drv.Arm(0, 4) }, ErrNotBound},
		{"disarm-unbound", func() error { return drv.Disarm(false) }, ErrNotBound},
		{"resume-unbound", func() error { return drv.Resume() }, ErrNotBound},
		{"bind-level", func() error { return drv.Bind(nil, 8, 0) }, ErrInvalidLevel},
		{"bind-vector", func() error { return drv.Bind(nil, 0, 16) }, ErrInvalidVector},
		{"bind-vector-max", func() error { return drv.Bind(nil, 0, 256) }, ErrInvalidVector},
		{"bind", func() error { return drv.Bind(nil, 0, 0) }, nil},
		{"bind-bound", func() error { return drv.Bind(nil, 0, 0) }, ErrAlreadyBound},
		{"suspend-bound", func() error { return drv.Disarm(false) }, nil},
		{"resume-bound", func() error { return drv.Resume() }, ErrNotBound},
		{"unbind", func() error { return drv.Disarm(true) }, nil},
		{"unbind-unbound", func() error { return drv.Disarm(true) }, ErrNotBound},
		{"bind-unbound", func() error { return drv.Bind(nil, 0, 0) }, nil},
		{"arm-thresh-0", func() error { return drv.Arm(0, 0) }, ErrThresholdOutOfRange},
		{"arm-thresh-32", func() error { return drv.Arm(0, 32) }, ErrThresholdOutOfRange},
		{"arm-module", func() error { return drv.Arm(2, 4) }, ErrModuleNotInitialized},
		{"arm", func() error { return drv.Arm(1, 4) }, nil},
		{"arm-armed", func() error { return drv.Arm(1, 4) }, ErrAlreadyBound},
		{"bind-armed", func() error { return drv.Bind(nil, 0, 0) }, ErrAlreadyBound},
		{"resume-running", func() error { return drv.Resume() }, ErrAlreadyArmed},
		{"suspend", func() error { return drv.Disarm(false) }, nil},
		{"arm-suspended", func() error { return drv.Arm(1, 4) }, ErrAlreadyBound},
		{"resume", func() error { return drv.Resume() }, nil},
		{"disarm", func() error { return drv.Disarm(true) }, nil},
		{"disarm-disarmed", func() error { return drv.Disarm(true) }, ErrNotBound},
		{"resume-disarmed", func() error { return drv.Resume() }, ErrNotBound},
		{"rebind", func() error { return drv.Bind(nil, 3, 0x42) }, nil},
	} {
		err := step.fct()
		if !errors.Is(err, step.want) {
			t.Fatalf("%s: invalid error: got=%v, want=%v", step.name, err, step.want)
		}

		switch step.name {
		case "suspend-bound":
			if !bus.Raise(defaultIntLvl, defaultIntVec) {
				t.Fatalf("%s: interrupt handler disconnected", step.name)
			}
		case "unbind":
			if bus.Raise(defaultIntLvl, defaultIntVec) {
				t.Fatalf("%s: interrupt handler still connected", step.name)
			}
		case "arm", "resume":
			s := settings(1)
			if s.IntLevel != defaultIntLvl || s.IntVector != defaultIntVec || s.EvTrigger != 4 {
				t.Fatalf("%s: invalid interrupt settings: %+v", step.name, s)
			}
		case "suspend":
			s := settings(1)
			if s.EvTrigger != 0 || s.IntLevel != defaultIntLvl {
				t.Fatalf("%s: invalid interrupt settings: %+v", step.name, s)
			}
		case "disarm":
			s := settings(1)
			if s.EvTrigger != 0 || s.IntLevel != 0 || s.IntVector != 0 {
				t.Fatalf("%s: invalid interrupt settings: %+v", step.name, s)
			}
		}
	}
}

func TestBindSetupError(t *testing.T) {
	drv, bus, _ := newTestDriver(t, 1)
	bus.IntErr = errors.New("no such vector")

	err := drv.Bind(nil, 0, 0)
	if !errors.Is(err, ErrInterruptSetup) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrInterruptSetup)
	}

	bus.IntErr = nil
	err = drv.Bind(nil, 0, 0)
	if err != nil {
		t.Fatalf("could not bind after setup failure: %+v", err)
	}
}

func TestDefaultISR(t *testing.T) {
	drv, _, mods := newTestDriver(t, 1)

	err := drv.Bind(nil, 0, 0)
	if err != nil {
		t.Fatalf("could not bind: %+v", err)
	}
	err = drv.Arm(0, 2)
	if err != nil {
		t.Fatalf("could not arm: %+v", err)
	}

	pushEvents(mods[0], 1)
	if got := drv.IntCount(); got != 0 {
		t.Fatalf("invalid interrupt count: got=%d, want=0", got)
	}

	// the second event reaches the trigger and runs the handler.
	pushEvents(mods[0], 1)
	if got, want := drv.IntCount(), uint64(1); got != want {
		t.Fatalf("invalid interrupt count: got=%d, want=%d", got, want)
	}
	if got, want := mods[0].Events(), 0; got != want {
		t.Fatalf("invalid number of buffered events: got=%d, want=%d", got, want)
	}
	seq, ok, err := drv.LastRead(0)
	if err != nil || !ok {
		t.Fatalf("could not get last read event: ok=%v, err=%+v", ok, err)
	}
	if seq != 1 {
		t.Fatalf("invalid last read event: got=%d, want=1", seq)
	}

	n, err := drv.Dready(0)
	if err != nil {
		t.Fatalf("could not get events ready: %+v", err)
	}
	if n != 0 {
		t.Fatalf("invalid events ready: got=%d, want=0", n)
	}
}

func TestDefaultISRUnderrun(t *testing.T) {
	drv, bus, mods := newTestDriver(t, 1)

	err := drv.Bind(nil, 0, 0)
	if err != nil {
		t.Fatalf("could not bind: %+v", err)
	}
	err = drv.Arm(0, 4)
	if err != nil {
		t.Fatalf("could not arm: %+v", err)
	}

	pushEvents(mods[0], 2)
	if !bus.Raise(defaultIntLvl, defaultIntVec) {
		t.Fatalf("no interrupt handler connected")
	}

	if got, want := drv.IntCount(), uint64(1); got != want {
		t.Fatalf("invalid interrupt count: got=%d, want=%d", got, want)
	}
	if got, want := mods[0].Events(), 0; got != want {
		t.Fatalf("module not cleared: got=%d events, want=%d", got, want)
	}
	_, ok, err := drv.LastRead(0)
	if err != nil || ok {
		t.Fatalf("invalid last read event after clear: ok=%v, err=%v", ok, err)
	}
}

func TestUserISR(t *testing.T) {
	drv, _, mods := newTestDriver(t, 2)

	var (
		mu  sync.Mutex
		ids []int
	)
	err := drv.Bind(func(id int) {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, id)
	}, 5, 0x40)
	if err != nil {
		t.Fatalf("could not bind: %+v", err)
	}
	err = drv.Arm(1, 1)
	if err != nil {
		t.Fatalf("could not arm: %+v", err)
	}

	pushEvents(mods[1], 1)
	if got, want := drv.IntCount(), uint64(1); got != want {
		t.Fatalf("invalid interrupt count: got=%d, want=%d", got, want)
	}
	mu.Lock()
	got := append([]int(nil), ids...)
	mu.Unlock()
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("invalid handler calls: got=%v, want=[1]", got)
	}
	// a user handler leaves the buffer alone.
	if got, want := mods[1].Events(), 1; got != want {
		t.Fatalf("invalid number of buffered events: got=%d, want=%d", got, want)
	}
}

func TestGateInterrupt(t *testing.T) {
	drv, _, mods := newTestDriver(t, 1)
	mods[0].Source = func() []uint16 {
		return []uint16{100, 200, 300}
	}

	done := make(chan int, 1)
	err := drv.Bind(func(id int) { done <- id }, 0, 0)
	if err != nil {
		t.Fatalf("could not bind: %+v", err)
	}
	err = drv.Arm(0, 1)
	if err != nil {
		t.Fatalf("could not arm: %+v", err)
	}

	err = drv.Gate(0)
	if err != nil {
		t.Fatalf("could not gate: %+v", err)
	}

	select {
	case id := <-done:
		if id != 0 {
			t.Fatalf("invalid module id: got=%d, want=0", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for interrupt")
	}
	if got, want := mods[0].Gates(), 1; got != want {
		t.Fatalf("invalid number of gates: got=%d, want=%d", got, want)
	}
}
