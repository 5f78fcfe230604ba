// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package connection keeps database connections handed to write methods
// alive. A Manager wraps a connection factory of any shape, reconnects it
// before contexts are created and classifies the liveness of contexts.
package connection

import (
	"context"
	"database/sql"
)

// Factory creates contexts that statements are executed on.
type Factory interface {
	CreateContext(ctx context.Context) (Context, error)
}

// Context is the unit a statement is executed on.
type Context interface {
	// RawConn returns the connection underlying the context.
	RawConn() (RawConn, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RawConn is the physical connection under a context.
type RawConn interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	Close() error
}

// Pinger is implemented by raw connections that support a cheap liveness
// probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RawConnectionProvider is implemented by factories that expose their raw
// connection directly. Factories that do not are searched by reflection, see
// WrappedConnection.
type RawConnectionProvider interface {
	RawConnection(ctx context.Context) (RawConn, error)
}

// Establisher is implemented by factories that open their connection lazily.
// EstablishConnection is called before the factory is searched for its
// connection field.
type Establisher interface {
	EstablishConnection(ctx context.Context) error
}

// Dialect is the placeholder syntax expected by a context.
type Dialect int

const (
	// QuestionDialect uses "?" placeholders (SQLite, MySQL, dqlite).
	QuestionDialect Dialect = iota
	// DollarDialect uses "$1" placeholders (PostgreSQL).
	DollarDialect
)

func (d Dialect) String() string {
	if d == DollarDialect {
		return "dollar"
	}
	return "question"
}

// DialectFor returns the dialect of a database/sql driver name.
func DialectFor(driverName string) Dialect {
	switch driverName {
	case "pgx", "postgres", "pgx-native", "postgresql":
		return DollarDialect
	}
	return QuestionDialect
}

// Dialecter is implemented by contexts that do not use QuestionDialect.
type Dialecter interface {
	Dialect() Dialect
}

// Preparer is implemented by contexts that cache prepared statements on their
// connection.
type Preparer interface {
	Prepared(ctx context.Context, query string) (*sql.Stmt, error)
}

// LivenessState is the classification of a context by a liveness probe.
type LivenessState int

const (
	Unknown LivenessState = iota
	Connected
	Disconnected
)

func (s LivenessState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}
