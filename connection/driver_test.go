// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package connection_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/mattn/go-sqlite3"
)

// This file contains a wrapper sql.Driver over the SQLite driver which
// monitors the opening and closing of driver connections and prepared
// statements. Tests use it to check that reconnects really replace the
// physical connection and that cached statements do not leak.

// openedStmts and closedStmts store the pointers to the created/closed
// statements indexed by test name. Unsafe pointers are stored instead of
// references so that the statements can be garbage collected.
var openedStmts = map[string]map[uintptr]string{}
var closedStmts = map[string]map[uintptr]bool{}
var stmtRegistryMutex sync.RWMutex

// openedConns and closedConns count the driver connections opened and closed
// per test name.
var openedConns = map[string]int{}
var closedConns = map[string]int{}
var connRegistryMutex sync.RWMutex

type checkedDriver struct {
	driver.Driver
}

type checkedConn struct {
	testName string
	*sqlite3.SQLiteConn
}

type checkedStmt struct {
	testName string
	*sqlite3.SQLiteStmt
}

func (s *checkedStmt) Close() error {
	stmtRegistryMutex.Lock()
	defer stmtRegistryMutex.Unlock()
	if _, ok := closedStmts[s.testName]; !ok {
		closedStmts[s.testName] = map[uintptr]bool{}
	}
	closedStmts[s.testName][uintptr(unsafe.Pointer(s))] = true
	return s.SQLiteStmt.Close()
}

func (c *checkedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	s, err := c.SQLiteConn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sm, ok := s.(*sqlite3.SQLiteStmt)
	if !ok {
		panic(fmt.Sprintf("internal error: base driver is not SQLite, got %T", s))
	}
	sPtr := &checkedStmt{SQLiteStmt: sm, testName: c.testName}

	stmtRegistryMutex.Lock()
	defer stmtRegistryMutex.Unlock()
	if _, ok := openedStmts[c.testName]; !ok {
		openedStmts[c.testName] = map[uintptr]string{}
	}
	openedStmts[c.testName][uintptr(unsafe.Pointer(sPtr))] = query
	return sPtr, nil
}

func (c *checkedConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *checkedConn) Close() error {
	connRegistryMutex.Lock()
	closedConns[c.testName]++
	connRegistryMutex.Unlock()
	return c.SQLiteConn.Close()
}

const testNameTag = "testName"

// Open expects the DSN to contain the test name using the testNameTag
// attribute.
func (d *checkedDriver) Open(name string) (driver.Conn, error) {
	var testName string
	_, parameters, _ := strings.Cut(name, "?")
	for _, p := range strings.Split(parameters, "&") {
		if k, v, ok := strings.Cut(p, "="); ok && k == testNameTag {
			testName = v
		}
	}
	if testName == "" {
		panic("internal error: testName is not found in the db DSN")
	}

	baseConn, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	sqliteConn, ok := baseConn.(*sqlite3.SQLiteConn)
	if !ok {
		panic("internal error: base driver is not SQLite")
	}
	connRegistryMutex.Lock()
	openedConns[testName]++
	connRegistryMutex.Unlock()
	return &checkedConn{SQLiteConn: sqliteConn, testName: testName}, nil
}

func connCounts(testName string) (opened, closed int) {
	connRegistryMutex.RLock()
	defer connRegistryMutex.RUnlock()
	return openedConns[testName], closedConns[testName]
}

func stmtCounts(testName string) (opened, closed int) {
	stmtRegistryMutex.RLock()
	defer stmtRegistryMutex.RUnlock()
	return len(openedStmts[testName]), len(closedStmts[testName])
}

// stubDriver hands out a single connection whose pings can be made to fail,
// for testing liveness classification without a real database.
type stubDriver struct {
	conn *stubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	atomic.AddInt32(&d.conn.opened, 1)
	return d.conn, nil
}

type stubConn struct {
	opened int32
	// failPings is the number of upcoming pings that fail.
	failPings int32
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

func (c *stubConn) Close() error { return nil }

func (c *stubConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("not implemented") }

// Ping implements driver.Pinger.
func (c *stubConn) Ping(context.Context) error {
	if atomic.AddInt32(&c.failPings, -1) >= 0 {
		return fmt.Errorf("ping fail")
	}
	atomic.StoreInt32(&c.failPings, 0)
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *stubConn) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	return driver.RowsAffected(1), nil
}

var stubCount int64

// newStubDB registers a sql.DB backed by a stub connection.
func newStubDB() (*sql.DB, *stubConn) {
	conn := &stubConn{}
	name := fmt.Sprintf("stub%d", atomic.AddInt64(&stubCount, 1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

func init() {
	sql.Register("sqlite3_checked", &checkedDriver{
		&sqlite3.SQLiteDriver{},
	})
}
