// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package metrics holds the Prometheus collectors updated by the connection
// manager and the compiled write methods.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dbal"

var (
	// Reconnects counts forced reconnects by result ("ok", "error", "noop").
	Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Number of forced reconnects of wrapped connection factories.",
	}, []string{"result"})

	// Probes counts liveness classifications by state.
	Probes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "liveness_probes_total",
		Help:      "Number of liveness probes by resulting state.",
	}, []string{"state"})

	// Statements counts executed write methods by declaration and result.
	Statements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "statements_total",
		Help:      "Number of executed write methods.",
	}, []string{"method", "result"})

	// PreparedStatements counts statements prepared on a connection, cache
	// hits excluded.
	PreparedStatements = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prepared_statements_total",
		Help:      "Number of statements prepared on pinned connections.",
	})
)

// Register registers every collector with reg. Collectors that are already
// registered are skipped so Register can be called more than once.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{Reconnects, Probes, Statements, PreparedStatements} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
