// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package connection

import (
	"context"
	"database/sql"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// PgxFactory creates contexts on a single native pgx connection.
type PgxFactory struct {
	conn *PgxConn
}

var (
	_ Factory               = (*PgxFactory)(nil)
	_ RawConnectionProvider = (*PgxFactory)(nil)
)

// NewPgxFactory returns a factory connecting with config. No connection is
// opened until the first context is created.
func NewPgxFactory(config *pgx.ConnConfig) *PgxFactory {
	return &PgxFactory{conn: &PgxConn{config: config}}
}

// ParsePgxFactory returns a factory for a PostgreSQL connection string.
func ParsePgxFactory(connString string) (*PgxFactory, error) {
	config, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse connection string")
	}
	return NewPgxFactory(config), nil
}

func (f *PgxFactory) RawConnection(context.Context) (RawConn, error) {
	return f.conn, nil
}

// Conn returns the raw connection of the factory.
func (f *PgxFactory) Conn() *PgxConn {
	return f.conn
}

func (f *PgxFactory) CreateContext(ctx context.Context) (Context, error) {
	if err := f.conn.Connect(ctx); err != nil {
		return nil, err
	}
	return &pgxContext{conn: f.conn}, nil
}

// PgxConn is a pgx.Conn that can be closed and reopened.
type PgxConn struct {
	config *pgx.ConnConfig

	mutex sync.Mutex
	conn  *pgx.Conn
}

var (
	_ RawConn = (*PgxConn)(nil)
	_ Pinger  = (*PgxConn)(nil)
)

func (c *PgxConn) IsConnected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

func (c *PgxConn) Connect(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}
	conn, err := pgx.ConnectConfig(ctx, c.config.Copy())
	if err != nil {
		return errors.Wrap(err, "cannot connect")
	}
	c.conn = conn
	return nil
}

func (c *PgxConn) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	if err := conn.Close(context.Background()); err != nil {
		return errors.Wrap(err, "cannot close connection")
	}
	return nil
}

func (c *PgxConn) Ping(ctx context.Context) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	return conn.Ping(ctx)
}

func (c *PgxConn) current() (*pgx.Conn, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.conn == nil {
		return nil, errNotConnected
	}
	return c.conn, nil
}

// pgxContext is the Context of a PgxFactory.
type pgxContext struct {
	conn *PgxConn
}

var _ Dialecter = (*pgxContext)(nil)

func (c *pgxContext) RawConn() (RawConn, error) {
	return c.conn, nil
}

func (c *pgxContext) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := c.conn.current()
	if err != nil {
		return nil, err
	}
	tag, err := conn.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return commandTagResult{tag}, nil
}

func (c *pgxContext) Dialect() Dialect {
	return DollarDialect
}

// commandTagResult adapts a pgx command tag to sql.Result.
type commandTagResult struct {
	tag pgconn.CommandTag
}

func (r commandTagResult) LastInsertId() (int64, error) {
	return 0, errors.New("LastInsertId is not supported by PostgreSQL")
}

func (r commandTagResult) RowsAffected() (int64, error) {
	return r.tag.RowsAffected(), nil
}
