// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package connection

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync"

	"github.com/pkg/errors"
)

// SQLFactory creates contexts on a connection pinned from a sql.DB. The pool
// itself is left to database/sql; SQLFactory only adds the pinned
// connection that a Manager closes and reopens.
type SQLFactory struct {
	db      *sql.DB
	dialect Dialect
	conn    *SQLConn
}

var (
	_ Factory               = (*SQLFactory)(nil)
	_ RawConnectionProvider = (*SQLFactory)(nil)
)

// SQLOption configures an SQLFactory.
type SQLOption func(*SQLFactory)

// WithDialect sets the placeholder dialect of the contexts created by the
// factory. The default is QuestionDialect.
func WithDialect(d Dialect) SQLOption {
	return func(f *SQLFactory) {
		f.dialect = d
	}
}

// NewSQLFactory returns a factory over db. The factory does not own db and
// never closes it.
func NewSQLFactory(db *sql.DB, opts ...SQLOption) *SQLFactory {
	f := &SQLFactory{db: db, conn: &SQLConn{db: db}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open opens a database with database/sql and returns a factory over it with
// the dialect of the driver.
func Open(driverName, dataSourceName string) (*SQLFactory, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %s database", driverName)
	}
	return NewSQLFactory(db, WithDialect(DialectFor(driverName))), nil
}

// DB returns the underlying sql.DB.
func (f *SQLFactory) DB() *sql.DB {
	return f.db
}

// RawConnection returns the pinned connection of the factory.
func (f *SQLFactory) RawConnection(context.Context) (RawConn, error) {
	return f.conn, nil
}

// Conn returns the pinned connection of the factory.
func (f *SQLFactory) Conn() *SQLConn {
	return f.conn
}

// CreateContext connects the pinned connection if needed and returns a
// context on it.
func (f *SQLFactory) CreateContext(ctx context.Context) (Context, error) {
	if err := f.conn.Connect(ctx); err != nil {
		return nil, err
	}
	return &sqlContext{conn: f.conn, dialect: f.dialect}, nil
}

// SQLConn is a sql.Conn that can be closed and reopened. Statements prepared
// through it are cached until it is closed.
type SQLConn struct {
	db *sql.DB

	mutex sync.Mutex
	conn  *sql.Conn
	stmts *statementCache
}

var (
	_ RawConn = (*SQLConn)(nil)
	_ Pinger  = (*SQLConn)(nil)
)

// IsConnected reports whether a connection is pinned.
func (c *SQLConn) IsConnected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conn != nil
}

// Connect pins a connection of the pool. It does nothing if one is already
// pinned.
func (c *SQLConn) Connect(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot connect")
	}
	c.conn = conn
	c.stmts = newStatementCache()
	return nil
}

// Close closes the cached statements and discards the pinned connection.
// The physical connection is thrown away rather than returned to the pool
// so that the next Connect opens a new one.
func (c *SQLConn) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.conn == nil {
		return nil
	}
	c.stmts.close()
	c.stmts = nil
	conn := c.conn
	c.conn = nil

	// Returning driver.ErrBadConn from Raw makes database/sql close the
	// driver connection instead of putting it back in the pool.
	err := conn.Raw(func(any) error {
		return driver.ErrBadConn
	})
	if err != nil && !errors.Is(err, driver.ErrBadConn) && !errors.Is(err, sql.ErrConnDone) {
		return errors.Wrap(err, "cannot close connection")
	}
	return nil
}

// Ping checks the pinned connection.
func (c *SQLConn) Ping(ctx context.Context) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	return conn.PingContext(ctx)
}

// CachedStatements returns the number of statements prepared on the pinned
// connection.
func (c *SQLConn) CachedStatements() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.stmts == nil {
		return 0
	}
	return c.stmts.len()
}

var errNotConnected = errors.New("connection is closed")

func (c *SQLConn) current() (*sql.Conn, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.conn == nil {
		return nil, errNotConnected
	}
	return c.conn, nil
}

func (c *SQLConn) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	c.mutex.Lock()
	conn, stmts := c.conn, c.stmts
	c.mutex.Unlock()
	if conn == nil {
		return nil, errNotConnected
	}
	stmt, err := stmts.prepareStmt(ctx, conn, query)
	if err != nil {
		return nil, errors.Wrap(err, "cannot prepare statement")
	}
	return stmt, nil
}

// sqlContext is the Context of an SQLFactory.
type sqlContext struct {
	conn    *SQLConn
	dialect Dialect
}

var (
	_ Dialecter = (*sqlContext)(nil)
	_ Preparer  = (*sqlContext)(nil)
)

func (c *sqlContext) RawConn() (RawConn, error) {
	return c.conn, nil
}

func (c *sqlContext) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := c.conn.current()
	if err != nil {
		return nil, err
	}
	return conn.ExecContext(ctx, query, args...)
}

func (c *sqlContext) Prepared(ctx context.Context, query string) (*sql.Stmt, error) {
	return c.conn.prepare(ctx, query)
}

func (c *sqlContext) Dialect() Dialect {
	return c.dialect
}
