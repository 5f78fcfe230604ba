// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package connection

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/canonical/go-dqlite/client"
	"github.com/canonical/go-dqlite/driver"
	"github.com/pkg/errors"
)

var dqliteDriverCount int64

// OpenDqlite returns a factory over the dqlite database called database on
// the cluster reachable at addresses. Every call registers its own
// database/sql driver since the node store is bound to the driver.
func OpenDqlite(ctx context.Context, addresses []string, database string, opts ...SQLOption) (*SQLFactory, error) {
	if len(addresses) == 0 {
		return nil, errors.New("cannot open dqlite database: no node addresses")
	}
	store := client.NewInmemNodeStore()
	nodes := make([]client.NodeInfo, len(addresses))
	for i, address := range addresses {
		nodes[i] = client.NodeInfo{Address: address}
	}
	if err := store.Set(ctx, nodes); err != nil {
		return nil, errors.Wrap(err, "cannot open dqlite database")
	}
	drv, err := driver.New(store)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open dqlite database")
	}
	name := fmt.Sprintf("dqlite-%d", atomic.AddInt64(&dqliteDriverCount, 1))
	sql.Register(name, drv)
	db, err := sql.Open(name, database)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open dqlite database")
	}
	return NewSQLFactory(db, opts...), nil
}
