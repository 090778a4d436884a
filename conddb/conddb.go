// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the condition and configuration
// database of a QDC crate.
package conddb // import "github.com/go-lpc/qdc/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"

	numChannels = 32
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to easily retrieve configuration data
// from the QDC database.
type DB struct {
	db   *sql.DB
	name string // name of the QDC database
}

// Open opens a connection to the QDC database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// Module describes the configuration of a QDC module.
type Module struct {
	ID    int    // module id in the crate
	Addr  uint32 // VME base address
	Geo   uint8  // geographical address
	Over  bool   // overflow suppression
	Under bool   // under-threshold suppression
}

// LastConfig returns the name of the most recent crate configuration.
func (db *DB) LastConfig(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	name := ""
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name FROM qdc_configs ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return name, fmt.Errorf("conddb: could not query QDC cfg: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&name)
		if err != nil {
			return name, fmt.Errorf("conddb: could not get QDC cfg value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return name, fmt.Errorf("conddb: could not scan db for QDC cfg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return name, fmt.Errorf("conddb: context error while retrieving QDC cfg: %w", err)
	}

	return name, nil
}

// Modules returns the modules of the named crate configuration,
// ordered by module id.
func (db *DB) Modules(ctx context.Context, config string) ([]Module, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var mods []Module
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT qdc_modules.module_id, qdc_modules.vme_addr, qdc_modules.geo,
       qdc_modules.overflow_sup, qdc_modules.underflow_sup
FROM qdc_modules
JOIN qdc_configs ON qdc_configs.identifier=qdc_modules.config
WHERE qdc_configs.name=?
ORDER BY qdc_modules.module_id
`,
		config,
	)
	if err != nil {
		return mods, fmt.Errorf("conddb: could not run QDC modules query: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var mod Module
		err = rows.Scan(&mod.ID, &mod.Addr, &mod.Geo, &mod.Over, &mod.Under)
		if err != nil {
			return mods, fmt.Errorf("conddb: could not scan row %d for QDC modules: %w", i, err)
		}
		i++
		mods = append(mods, mod)
	}

	if err := rows.Err(); err != nil {
		return mods, fmt.Errorf("conddb: could not scan db for QDC modules: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return mods, fmt.Errorf("conddb: context error while retrieving QDC modules: %w", err)
	}

	return mods, nil
}

// Thresholds returns the channel thresholds of module id in the named
// crate configuration. Channels missing from the database are zero.
func (db *DB) Thresholds(ctx context.Context, config string, id int) ([numChannels]int16, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var thr [numChannels]int16
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT qdc_thresholds.channel, qdc_thresholds.value
FROM qdc_thresholds
JOIN qdc_configs ON qdc_configs.identifier=qdc_thresholds.config
WHERE (
	qdc_configs.name=? AND qdc_thresholds.module_id=?
)
`,
		config, id,
	)
	if err != nil {
		return thr, fmt.Errorf("conddb: could not run QDC thresholds query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ch int
			v  int16
		)
		err = rows.Scan(&ch, &v)
		if err != nil {
			return thr, fmt.Errorf("conddb: could not scan QDC thresholds: %w", err)
		}
		if ch < 0 || ch >= numChannels {
			return thr, fmt.Errorf("conddb: invalid channel %d for module %d", ch, id)
		}
		thr[ch] = v
	}

	if err := rows.Err(); err != nil {
		return thr, fmt.Errorf("conddb: could not scan db for QDC thresholds: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return thr, fmt.Errorf("conddb: context error while retrieving QDC thresholds: %w", err)
	}

	return thr, nil
}

// RecordRun stores the start of a run taken with the named configuration.
func (db *DB) RecordRun(ctx context.Context, run uint32, config string, start time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO qdc_runs (run, config, start) VALUES (?, ?, ?)",
		run, config, start.UTC(),
	)
	if err != nil {
		return fmt.Errorf("conddb: could not record run %d: %w", run, err)
	}
	return nil
}

// LastRun returns the number of the most recent recorded run.
func (db *DB) LastRun(ctx context.Context) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var run uint32
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT run FROM qdc_runs ORDER BY start DESC LIMIT 1",
	)
	if err != nil {
		return run, fmt.Errorf("conddb: could not query last run: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&run)
		if err != nil {
			return run, fmt.Errorf("conddb: could not get last run value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return run, fmt.Errorf("conddb: could not scan db for last run: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return run, fmt.Errorf("conddb: context error while retrieving last run: %w", err)
	}

	return run, nil
}
