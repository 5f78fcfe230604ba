// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dbal

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sktrendla/ecotone-dev/internal/metrics"
)

// RegisterMetrics registers the reconnect, probe and statement counters with
// reg. It can be called more than once.
func RegisterMetrics(reg prometheus.Registerer) error {
	return metrics.Register(reg)
}
