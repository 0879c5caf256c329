package store

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsOnce ensures metrics are only initialized once.
var metricsOnce sync.Once

// metricsInstance is the singleton instance of store metrics.
var metricsInstance *Metrics

// Chunk outcomes recorded by RecordChunks.
const (
	ChunkCreated      = "created"
	ChunkDeduplicated = "deduplicated"
	ChunkDeleted      = "deleted"
	ChunkRetained     = "retained"
)

// Metrics holds all Prometheus metrics for the chunk store.
// All methods are safe on a nil receiver.
type Metrics struct {
	// Ledger metrics
	AllocationsTotal  *prometheus.CounterVec // chunkvault_allocations_total{result}
	AllocatedBytes    prometheus.Counter     // chunkvault_allocated_bytes_total
	StabilizeTotal    prometheus.Counter     // chunkvault_stabilize_total
	StabilizeDuration prometheus.Histogram   // chunkvault_stabilize_duration_seconds
	QuotaBytes        prometheus.Gauge       // chunkvault_quota_bytes
	AvailableBytes    prometheus.Gauge       // chunkvault_quota_available_bytes

	// I/O metrics
	BatchSize    *prometheus.HistogramVec // chunkvault_batch_size{operation}
	BytesWritten prometheus.Counter       // chunkvault_bytes_written_total
	BytesRead    prometheus.Counter       // chunkvault_bytes_read_total

	// Dedup metrics
	ChunksTotal *prometheus.CounterVec // chunkvault_chunks_total{outcome}
}

// InitMetrics initializes all store metrics.
// Metrics are only registered once; subsequent calls return the same instance.
func InitMetrics(registry prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		metricsInstance = &Metrics{
			AllocationsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "chunkvault_allocations_total",
				Help: "Total quota allocations by result",
			}, []string{"result"}),

			AllocatedBytes: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "chunkvault_allocated_bytes_total",
				Help: "Total bytes reserved from the quota",
			}),

			StabilizeTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "chunkvault_stabilize_total",
				Help: "Total ledger reconciliations",
			}),

			StabilizeDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
				Name:    "chunkvault_stabilize_duration_seconds",
				Help:    "Ledger reconciliation duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			}),

			QuotaBytes: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "chunkvault_quota_bytes",
				Help: "Configured store size in bytes",
			}),

			AvailableBytes: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "chunkvault_quota_available_bytes",
				Help: "Unreserved budget (sentinel size) in bytes",
			}),

			BatchSize: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
				Name:    "chunkvault_batch_size",
				Help:    "Number of files per batch operation",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			}, []string{"operation"}),

			BytesWritten: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "chunkvault_bytes_written_total",
				Help: "Total bytes written to chunk files",
			}),

			BytesRead: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "chunkvault_bytes_read_total",
				Help: "Total bytes read from chunk files",
			}),

			ChunksTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "chunkvault_chunks_total",
				Help: "Chunks by outcome (created, deduplicated, deleted, retained)",
			}, []string{"outcome"}),
		}
	})

	return metricsInstance
}

// GetMetrics returns the singleton metrics instance.
// Returns nil if metrics have not been initialized.
func GetMetrics() *Metrics {
	return metricsInstance
}

// RecordChunks counts n chunks with the given outcome.
func (m *Metrics) RecordChunks(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ChunksTotal.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) recordAllocation(n int64, ok bool) {
	if m == nil {
		return
	}
	if !ok {
		m.AllocationsTotal.WithLabelValues("exceeded").Inc()
		return
	}
	m.AllocationsTotal.WithLabelValues("ok").Inc()
	m.AllocatedBytes.Add(float64(n))
}

func (m *Metrics) observeStabilize(d time.Duration) {
	if m == nil {
		return
	}
	m.StabilizeTotal.Inc()
	m.StabilizeDuration.Observe(d.Seconds())
}

func (m *Metrics) observeBatch(operation string, n int) {
	if m == nil {
		return
	}
	m.BatchSize.WithLabelValues(operation).Observe(float64(n))
}

func (m *Metrics) recordWrite(n int) {
	if m == nil {
		return
	}
	m.BytesWritten.Add(float64(n))
}

func (m *Metrics) recordRead(n int) {
	if m == nil {
		return
	}
	m.BytesRead.Add(float64(n))
}

func (m *Metrics) setQuota(size int64) {
	if m == nil {
		return
	}
	m.QuotaBytes.Set(float64(size))
}

func (m *Metrics) setAvailable(n int64) {
	if m == nil {
		return
	}
	m.AvailableBytes.Set(float64(n))
}
