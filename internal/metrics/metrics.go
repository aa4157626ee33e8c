// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

// Package metrics registers the daemon's Prometheus instrumentation: link
// create/destroy counters, active rule count, and handshake latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/gauge/histogram the reconciliation daemon
// updates.
type Metrics struct {
	LinksCreated     prometheus.Counter
	LinksDestroyed   prometheus.Counter
	LinkCreateErrors prometheus.Counter
	RulesActive      prometheus.Gauge
	HandshakeSeconds prometheus.Histogram
}

// New constructs a Metrics instance with all series defined but not yet
// registered to any Registerer.
func New() *Metrics {
	return &Metrics{
		LinksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeswitch_links_created_total",
			Help: "Total number of links created by the reconciliation daemon.",
		}),
		LinksDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeswitch_links_destroyed_total",
			Help: "Total number of links destroyed by the reconciliation daemon.",
		}),
		LinkCreateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeswitch_link_create_errors_total",
			Help: "Total number of failed link create requests.",
		}),
		RulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeswitch_rules_active",
			Help: "Number of rules currently loaded from configuration.",
		}),
		HandshakeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeswitch_handshake_seconds",
			Help:    "Duration of create/destroy link round-trips with the graph server.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// MustRegister registers every series on reg, panicking on a duplicate
// registration.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.LinksCreated, m.LinksDestroyed, m.LinkCreateErrors, m.RulesActive, m.HandshakeSeconds)
}

// ObserveHandshake records how long a create/destroy round-trip took.
func (m *Metrics) ObserveHandshake(start time.Time) {
	m.HandshakeSeconds.Observe(time.Since(start).Seconds())
}
