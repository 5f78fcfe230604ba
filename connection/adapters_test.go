// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package connection_test

import (
	"context"
	"path/filepath"

	. "gopkg.in/check.v1"
	_ "modernc.org/sqlite"

	"github.com/sktrendla/ecotone-dev/connection"
)

type AdapterSuite struct{}

var _ = Suite(&AdapterSuite{})

func (s *AdapterSuite) TestPureGoSQLite(c *C) {
	f, err := connection.Open("sqlite", filepath.Join(c.MkDir(), "persons.db"))
	c.Assert(err, IsNil)
	defer f.DB().Close()
	defer f.Conn().Close()
	m := connection.NewManager(f, connection.WithLogger(quietLogger))
	ctx := context.Background()

	cx, err := m.CreateContext(ctx)
	c.Assert(err, IsNil)
	_, err = cx.ExecContext(ctx, "CREATE TABLE persons (person_id INTEGER PRIMARY KEY, name TEXT)")
	c.Assert(err, IsNil)

	c.Assert(f.Conn().Close(), IsNil)
	c.Check(m.IsDisconnected(ctx, cx), Equals, true)

	cx, err = m.CreateContext(ctx)
	c.Assert(err, IsNil)
	c.Check(m.Liveness(ctx, cx), Equals, connection.Connected)
	res, err := cx.ExecContext(ctx, "INSERT INTO persons VALUES (?, ?)", 1, "Johny")
	c.Assert(err, IsNil)
	n, err := res.RowsAffected()
	c.Assert(err, IsNil)
	c.Check(n, Equals, int64(1))

	d, ok := cx.(connection.Dialecter)
	c.Assert(ok, Equals, true)
	c.Check(d.Dialect(), Equals, connection.QuestionDialect)
}

func (s *AdapterSuite) TestPgxFactoryBeforeConnect(c *C) {
	f, err := connection.ParsePgxFactory("postgres://dbal@localhost:5432/persons?sslmode=disable")
	c.Assert(err, IsNil)
	m := connection.NewManager(f, connection.WithLogger(quietLogger))
	ctx := context.Background()

	raw, err := m.Connection(ctx)
	c.Assert(err, IsNil)
	c.Check(raw, Equals, connection.RawConn(f.Conn()))
	c.Check(raw.IsConnected(), Equals, false)
	c.Check(f.Conn().Ping(ctx), ErrorMatches, "connection is closed")
	c.Check(f.Conn().Close(), IsNil)

	_, err = connection.ParsePgxFactory("postgres://dbal@localhost:notaport/persons")
	c.Check(err, ErrorMatches, "cannot parse connection string: .*")
}

func (s *AdapterSuite) TestOpenDqlite(c *C) {
	ctx := context.Background()
	_, err := connection.OpenDqlite(ctx, nil, "persons")
	c.Check(err, ErrorMatches, "cannot open dqlite database: no node addresses")

	// Opening is lazy: nothing is dialled until a connection is needed.
	f1, err := connection.OpenDqlite(ctx, []string{"127.0.0.1:9001"}, "persons")
	c.Assert(err, IsNil)
	defer f1.DB().Close()
	f2, err := connection.OpenDqlite(ctx, []string{"127.0.0.1:9001"}, "persons")
	c.Assert(err, IsNil)
	defer f2.DB().Close()

	c.Check(f1.Conn().IsConnected(), Equals, false)
	c.Check(connection.InstanceID(f1), Not(Equals), connection.InstanceID(f2))
}

func (s *AdapterSuite) TestDialectString(c *C) {
	c.Check(connection.QuestionDialect.String(), Equals, "question")
	c.Check(connection.DollarDialect.String(), Equals, "dollar")
}
