// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command qdc-sql inspects the QDC condition database.
package main // import "github.com/go-lpc/qdc/cmd/qdc-sql"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/go-lpc/qdc/conddb"
	"github.com/go-lpc/qdc/v792"
)

func main() {
	log.SetPrefix("qdc-sql: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "qdcsrv", "name of the QDC database")
		config = flag.String("cfg", "", "crate configuration to inspect (default: last one)")
	)

	flag.Parse()

	log.Printf("db:  %q", *dbname)
	log.Printf("cfg: %q", *config)

	db, err := conddb.Open(*dbname)
	if err != nil {
		log.Fatalf("could not open QDC db: %+v", err)
	}
	defer db.Close()

	err = doQuery(db, *config, log.Default())
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

type condDB interface {
	LastConfig(ctx context.Context) (string, error)
	Modules(ctx context.Context, config string) ([]conddb.Module, error)
	Thresholds(ctx context.Context, config string, id int) ([v792.MaxChannels]int16, error)
	LastRun(ctx context.Context) (uint32, error)
}

var _ condDB = (*conddb.DB)(nil)

func doQuery(db condDB, config string, msg *log.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if config == "" {
		v, err := db.LastConfig(ctx)
		if err != nil {
			return fmt.Errorf("could not get last config value: %w", err)
		}
		config = v
		msg.Printf("config: %q", config)
	}

	mods, err := db.Modules(ctx, config)
	if err != nil {
		return fmt.Errorf("could not get modules (cfg=%q): %w", config, err)
	}
	msg.Printf("modules: %d", len(mods))
	for _, mod := range mods {
		msg.Printf(
			">>> id=%02d addr=0x%08x geo=%02d over=%v under=%v",
			mod.ID, mod.Addr, mod.Geo, mod.Over, mod.Under,
		)
		thr, err := db.Thresholds(ctx, config, mod.ID)
		if err != nil {
			return fmt.Errorf("could not get thresholds (cfg=%q, id=%d): %w", config, mod.ID, err)
		}
		for ch, v := range thr {
			if v == 0 {
				continue
			}
			msg.Printf("    ch=%02d thresh=%d", ch, v)
		}
	}

	run, err := db.LastRun(ctx)
	if err != nil {
		return fmt.Errorf("could not get last run: %w", err)
	}
	msg.Printf("last run: %d", run)

	return nil
}
