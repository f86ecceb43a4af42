// Package monitoring wraps the engine's two metric destinations behind the
// same armon/go-metrics sink interface the teacher uses for its HTTP
// instrumentation, fanning counters and timers out to Prometheus as well so
// operators can scrape the migration engine the same way they scrape the
// rest of the fleet.
package monitoring

import (
	"sync"
	"time"

	gometrics "github.com/armon/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu   sync.RWMutex
	sink gometrics.MetricSink = &gometrics.BlackholeSink{}

	drainCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clusterman_node_migration_drain_count",
		Help: "Number of nodes submitted for draining by the migration engine.",
	})
	migrationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "clusterman_node_migration_duration_seconds",
		Help: "Wall-clock duration of a single migration worker run.",
	})
	drainedNodeUptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clusterman_node_migration_drained_node_uptime_seconds",
		Help: "Instance uptime, in seconds, of the most recently drained node.",
	})
)

func init() {
	prometheus.MustRegister(drainCount, migrationDuration, drainedNodeUptime)
}

// Configure swaps the package-level go-metrics sink. Until it is called,
// go-metrics output goes to a BlackholeSink; Prometheus is updated either
// way.
func Configure(s gometrics.MetricSink) {
	mu.Lock()
	defer mu.Unlock()
	sink = s
}

// Count increments a counter metric by delta.
func Count(name string, delta float32) {
	mu.RLock()
	s := sink
	mu.RUnlock()

	key := []string{name}
	s.IncrCounter(key, delta)

	switch name {
	case "clusterman.node_migration.drain_count":
		drainCount.Add(float64(delta))
	}
}

// Gauge records a gauge metric value.
func Gauge(name string, value float64) {
	mu.RLock()
	s := sink
	mu.RUnlock()

	key := []string{name}
	s.SetGauge(key, float32(value))

	switch name {
	case "clusterman.node_migration.drained_node_uptime":
		drainedNodeUptime.Set(value)
	}
}

// Timing records a duration metric.
func Timing(name string, d time.Duration) {
	mu.RLock()
	s := sink
	mu.RUnlock()

	key := []string{name}
	s.AddSample(key, float32(d.Seconds()))

	switch name {
	case "clusterman.node_migration.duration":
		migrationDuration.Observe(d.Seconds())
	}
}
