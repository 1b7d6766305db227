// Copyright 2025 The Obskit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics defines the Prometheus collectors obskit exports.
//
// Collectors are registered on an explicit Registerer owned by the process
// entry point; there are no package-level metric globals.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for plugin load results.
const (
	OutcomeLoaded = "loaded"
	OutcomeFailed = "failed"
)

// Result labels for cache requests.
const (
	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Metrics holds all obskit collectors.
type Metrics struct {
	pluginLoads   *prometheus.CounterVec
	queryDuration prometheus.Histogram
	queryRetries  prometheus.Counter
	cacheRequests *prometheus.CounterVec
	poolConns     prometheus.Gauge
}

// New creates the obskit collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pluginLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obskit_plugin_loads_total",
			Help: "Plugin load attempts by plugin name and outcome.",
		}, []string{"plugin", "outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "obskit_query_duration_seconds",
			Help:    "NerdGraph query latency, including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		queryRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "obskit_query_retries_total",
			Help: "Number of NerdGraph request retries.",
		}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "obskit_cache_requests_total",
			Help: "Query cache lookups by result.",
		}, []string{"result"}),
		poolConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "obskit_pool_connections",
			Help: "Number of live pooled NerdGraph transports.",
		}),
	}

	reg.MustRegister(m.pluginLoads, m.queryDuration, m.queryRetries, m.cacheRequests, m.poolConns)
	return m
}

// PluginLoad records one plugin load outcome.
func (m *Metrics) PluginLoad(plugin, outcome string) {
	if m == nil {
		return
	}
	m.pluginLoads.WithLabelValues(plugin, outcome).Inc()
}

// ObserveQuery records the latency of one completed query.
func (m *Metrics) ObserveQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.Observe(d.Seconds())
}

// QueryRetry records one retried request attempt.
func (m *Metrics) QueryRetry() {
	if m == nil {
		return
	}
	m.queryRetries.Inc()
}

// CacheRequest records one cache lookup result.
func (m *Metrics) CacheRequest(result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

// PoolConnections sets the live pooled transport count.
func (m *Metrics) PoolConnections(n int) {
	if m == nil {
		return
	}
	m.poolConns.Set(float64(n))
}

// Handler returns an HTTP handler serving the given gatherer, for the optional
// metrics listener.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
