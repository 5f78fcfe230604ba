// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package connection

import (
	"context"
	"database/sql"
	"sync"

	"github.com/sktrendla/ecotone-dev/internal/metrics"
)

// prepareSubstrate is an object that queries can be prepared on, e.g. a sql.DB
// or sql.Conn.
type prepareSubstrate interface {
	PrepareContext(context.Context, string) (*sql.Stmt, error)
}

// statementCache caches the sql.Stmt values prepared on one pinned
// connection, indexed by query. Prepared statements do not survive their
// connection so the cache is dropped when the connection is closed.
//
// The mutex must be locked when accessing stmts.
type statementCache struct {
	stmts map[string]*sql.Stmt
	mutex sync.RWMutex
}

func newStatementCache() *statementCache {
	return &statementCache{stmts: map[string]*sql.Stmt{}}
}

// prepareStmt returns the statement for query, preparing it on ps if it is
// not cached yet.
func (sc *statementCache) prepareStmt(ctx context.Context, ps prepareSubstrate, query string) (*sql.Stmt, error) {
	sc.mutex.RLock()
	stmt, ok := sc.stmts[query]
	sc.mutex.RUnlock()
	if ok {
		return stmt, nil
	}

	stmt, err := ps.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	metrics.PreparedStatements.Inc()
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	// Check if a statement has been inserted by someone else since we last
	// checked.
	if alt, ok := sc.stmts[query]; ok {
		stmt.Close()
		return alt, nil
	}
	sc.stmts[query] = stmt
	return stmt, nil
}

// len returns the number of cached statements.
func (sc *statementCache) len() int {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return len(sc.stmts)
}

// close closes and forgets every cached statement.
func (sc *statementCache) close() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	for query, stmt := range sc.stmts {
		stmt.Close()
		delete(sc.stmts, query)
	}
}
