// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// This file contains a wrapper sql.Driver over the SQLite driver which
// monitors the creation and closing of prepared statements, and counts the
// queries run on the connection and on prepared statements. The cache tests
// use it to check that statements are reused and closed.

// trackingDriverName is the name the wrapper driver is registered under.
const trackingDriverName = "sqlite3_tracked"

// testNameTag is the DSN parameter holding the name of the test that opened
// the connection.
const testNameTag = "testName"

// driverStats records the activity of every connection opened by one test.
type driverStats struct {
	opened    map[*trackedStmt]string
	closed    map[*trackedStmt]bool
	connQuery int
	stmtQuery int
}

var statsMutex sync.Mutex
var stats = map[string]*driverStats{}

// statsFor returns the stats of a test. statsMutex must be held.
func statsFor(testName string) *driverStats {
	st, ok := stats[testName]
	if !ok {
		st = &driverStats{
			opened: map[*trackedStmt]string{},
			closed: map[*trackedStmt]bool{},
		}
		stats[testName] = st
	}
	return st
}

func record(testName string, f func(st *driverStats)) {
	statsMutex.Lock()
	defer statsMutex.Unlock()
	f(statsFor(testName))
}

// snapshot returns the number of statements opened and still open, and the
// query counts, for a test.
func snapshot(testName string) (opened, open, connQueries, stmtQueries int) {
	statsMutex.Lock()
	defer statsMutex.Unlock()
	st := statsFor(testName)
	for s := range st.opened {
		if !st.closed[s] {
			open++
		}
	}
	return len(st.opened), open, st.connQuery, st.stmtQuery
}

// openedQueries returns the text of every statement prepared by a test.
func openedQueries(testName string) []string {
	statsMutex.Lock()
	defer statsMutex.Unlock()
	var qs []string
	for _, q := range statsFor(testName).opened {
		qs = append(qs, q)
	}
	return qs
}

type trackingDriver struct {
	driver.Driver
}

type trackedConn struct {
	testName string
	*sqlite3.SQLiteConn
}

type trackedStmt struct {
	testName string
	*sqlite3.SQLiteStmt
}

func (s *trackedStmt) Close() error {
	record(s.testName, func(st *driverStats) { st.closed[s] = true })
	return s.SQLiteStmt.Close()
}

func (c *trackedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	s, err := c.SQLiteConn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sm, ok := s.(*sqlite3.SQLiteStmt)
	if !ok {
		panic(fmt.Sprintf("internal error: base driver is not SQLite, got %T", s))
	}
	ts := &trackedStmt{SQLiteStmt: sm, testName: c.testName}
	record(c.testName, func(st *driverStats) { st.opened[ts] = query })
	return ts, nil
}

func (c *trackedConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *trackedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	rows, err := c.SQLiteConn.QueryContext(ctx, query, args)
	if err == nil {
		record(c.testName, func(st *driverStats) { st.connQuery++ })
	}
	return rows, err
}

func (c *trackedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	res, err := c.SQLiteConn.ExecContext(ctx, query, args)
	if err == nil {
		record(c.testName, func(st *driverStats) { st.connQuery++ })
	}
	return res, err
}

func (s *trackedStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	rows, err := s.SQLiteStmt.QueryContext(ctx, args)
	if err == nil {
		record(s.testName, func(st *driverStats) { st.stmtQuery++ })
	}
	return rows, err
}

func (s *trackedStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	res, err := s.SQLiteStmt.ExecContext(ctx, args)
	if err == nil {
		record(s.testName, func(st *driverStats) { st.stmtQuery++ })
	}
	return res, err
}

// Open expects the DSN to carry the test name in the testNameTag
// parameter.
func (d *trackingDriver) Open(name string) (driver.Conn, error) {
	var testName string
	if _, params, ok := strings.Cut(name, "?"); ok {
		for _, p := range strings.Split(params, "&") {
			if v, ok := strings.CutPrefix(p, testNameTag+"="); ok {
				testName = v
			}
		}
	}
	if testName == "" {
		panic("internal error: testName is not found in the db DSN")
	}

	baseConn, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	conn, ok := baseConn.(*sqlite3.SQLiteConn)
	if !ok {
		panic("internal error: base driver is not SQLite")
	}
	return &trackedConn{SQLiteConn: conn, testName: testName}, nil
}

func init() {
	sql.Register(trackingDriverName, &trackingDriver{
		&sqlite3.SQLiteDriver{},
	})
}
