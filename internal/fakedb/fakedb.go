// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb provides an in-memory database/sql driver serving
// scripted query results and recording executed statements.
package fakedb // import "github.com/go-lpc/qdc/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
)

// script holds the rows served to queries while Run is executing.
var script struct {
	mu   sync.Mutex
	rows Rows
}

var journal struct {
	mu    sync.Mutex
	execs []Exec
}

// Exec is a statement executed through the fakedb driver.
type Exec struct {
	Query string
	Args  []driver.Value
}

// Run runs f, serving rows to the queries it issues.
// Statements executed by f are available from Execs until the next Run.
func Run(ctx context.Context, rows Rows, f func(ctx context.Context) error) error {
	script.mu.Lock()
	defer script.mu.Unlock()
	script.rows = rows

	journal.mu.Lock()
	journal.execs = nil
	journal.mu.Unlock()

	return f(ctx)
}

// Execs returns the statements executed during the last Run.
func Execs() []Exec {
	journal.mu.Lock()
	defer journal.mu.Unlock()
	return append([]Exec(nil), journal.execs...)
}

func init() {
	sql.Register("fakedb", &Driver{})
}

type Driver struct{}

// Open returns a new connection to the database.
func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

type Conn struct{}

// Prepare returns a prepared statement, bound to this connection.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{query: query}, nil
}

func (c *Conn) Close() error {
	return nil
}

// Begin is not supported.
func (c *Conn) Begin() (driver.Tx, error) {
	return nil, errors.New("fakedb: transactions not supported")
}

type Stmt struct {
	query string
}

func (stmt *Stmt) Close() error {
	return nil
}

// NumInput returns -1: argument counts are not checked.
func (stmt *Stmt) NumInput() int {
	return -1
}

// Exec records the statement and reports a single affected row.
func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	journal.mu.Lock()
	defer journal.mu.Unlock()
	journal.execs = append(journal.execs, Exec{
		Query: stmt.query,
		Args:  append([]driver.Value(nil), args...),
	})
	return driver.RowsAffected(1), nil
}

// Query serves the rows of the current Run.
func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return &script.rows, nil
}

type Rows struct {
	Names  []string
	Values [][]driver.Value
}

// Columns returns the names of the columns.
func (rows *Rows) Columns() []string {
	return rows.Names
}

func (rows *Rows) Close() error {
	return nil
}

// Next populates dest with the next row, or returns io.EOF.
func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Rows   = (*Rows)(nil)
)
