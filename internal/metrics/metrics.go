/*
 * metrics.go
 *
 * Copyright 2026 Benjamin Barenblat
 */
/*
 * This file is part of Scoville.
 *
 * It is licensed under the MIT license. The full license text can be found
 * in the License.txt file at the root of this project.
 */

// Package metrics collects per-callback operation metrics and optionally
// serves them over HTTP in Prometheus exposition format.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls the collector and its HTTP endpoint.
type Config struct {
	Enabled bool
	Address string
	Path    string
}

// Collector records operation counts, failures, and latencies. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	config     Config
	server     *http.Server
}

// NewCollector returns a collector for cfg, or nil when metrics are
// disabled.
func NewCollector(cfg Config) *Collector {
	if !cfg.Enabled {
		return nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		config:   cfg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoville",
			Name:      "operations_total",
			Help:      "Filesystem callbacks dispatched, by operation.",
		}, []string{"op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoville",
			Name:      "operation_errors_total",
			Help:      "Filesystem callbacks that returned an error, by operation.",
		}, []string{"op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scoville",
			Name:      "operation_duration_seconds",
			Help:      "Filesystem callback latency, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	registry.MustRegister(c.operations, c.errors, c.duration)
	return c
}

// Record observes one completed callback.
func (c *Collector) Record(op string, d time.Duration, failed bool) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(op).Inc()
	if failed {
		c.errors.WithLabelValues(op).Inc()
	}
	c.duration.WithLabelValues(op).Observe(d.Seconds())
}

// Handler returns the exposition handler, for embedding or tests.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve blocks serving the metrics endpoint until Shutdown is called.
func (c *Collector) Serve() error {
	if c == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	c.server = &http.Server{Addr: c.config.Address, Handler: mux}
	if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the metrics endpoint.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}
