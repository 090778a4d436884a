// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package journal records the settings of the QDC modules used for each
// data taking run.
package journal // import "github.com/go-lpc/qdc/internal/journal"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/qdc/v792"
	"go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"
)

var (
	bucketRuns = []byte("runs")

	// ErrNoRun is returned when a run is not in the journal.
	ErrNoRun = errors.New("journal: no such run")
)

// Run is the journal entry of a data taking run.
type Run struct {
	ID      uint32          `yaml:"id"`
	Config  string          `yaml:"config,omitempty"` // condition DB configuration tag
	Start   time.Time       `yaml:"start"`
	Stop    time.Time       `yaml:"stop,omitempty"`
	Events  uint64          `yaml:"events"`
	Modules []v792.Settings `yaml:"modules"`
}

// Journal is a run journal backed by a bolt database.
type Journal struct {
	db *bbolt.DB
}

// Open opens, creating it if needed, the journal at fname.
func Open(fname string) (*Journal, error) {
	db, err := bbolt.Open(fname, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal: could not open %q: %w", fname, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: could not create runs bucket: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

func runKey(id uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], id)
	return k[:]
}

// Begin records the start of a run with the settings of its modules.
// Begin overwrites any previous entry for that run.
func (j *Journal) Begin(id uint32, config string, start time.Time, mods []v792.Settings) error {
	run := Run{
		ID:      id,
		Config:  config,
		Start:   start.UTC(),
		Modules: mods,
	}
	return j.put(&run)
}

// End records the end of a run.
func (j *Journal) End(id uint32, stop time.Time, events uint64) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketRuns)
		run, err := get(bkt, id)
		if err != nil {
			return err
		}
		run.Stop = stop.UTC()
		run.Events = events
		return put(bkt, &run)
	})
}

// Run returns the journal entry of run id.
func (j *Journal) Run(id uint32) (Run, error) {
	var run Run
	err := j.db.View(func(tx *bbolt.Tx) error {
		var err error
		run, err = get(tx.Bucket(bucketRuns), id)
		return err
	})
	return run, err
}

// Runs returns the identifiers of all the journaled runs, in increasing order.
func (j *Journal) Runs() ([]uint32, error) {
	var ids []uint32
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, _ []byte) error {
			ids = append(ids, binary.BigEndian.Uint32(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("journal: could not list runs: %w", err)
	}
	return ids, nil
}

func (j *Journal) put(run *Run) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketRuns), run)
	})
}

func put(bkt *bbolt.Bucket, run *Run) error {
	raw, err := yaml.Marshal(run)
	if err != nil {
		return fmt.Errorf("journal: could not encode run %d: %w", run.ID, err)
	}
	err = bkt.Put(runKey(run.ID), raw)
	if err != nil {
		return fmt.Errorf("journal: could not store run %d: %w", run.ID, err)
	}
	return nil
}

func get(bkt *bbolt.Bucket, id uint32) (Run, error) {
	var run Run
	raw := bkt.Get(runKey(id))
	if raw == nil {
		return run, fmt.Errorf("journal: run %d: %w", id, ErrNoRun)
	}
	err := yaml.Unmarshal(raw, &run)
	if err != nil {
		return run, fmt.Errorf("journal: could not decode run %d: %w", id, err)
	}
	return run, nil
}
