package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Partition publisher metrics
	publishTotal    *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec

	// Routing publisher metrics
	publishRejected   *prometheus.CounterVec
	partitionFailures *prometheus.CounterVec
	partitionsFailed  *prometheus.GaugeVec
	publisherHealthy  *prometheus.GaugeVec

	// Storage metrics
	storageOperationTotal    *prometheus.CounterVec
	storageOperationDuration *prometheus.HistogramVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_partition_publish_total",
				Help: "Total number of resolved publishes per partition",
			},
			[]string{"topic", "partition", "status"}, // status: success, error
		),

		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_partition_publish_duration_seconds",
				Help:    "Time from submission until a publish resolves",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic", "partition"},
		),

		publishRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_routing_publish_rejected_total",
				Help: "Publishes rejected before routing",
			},
			[]string{"topic", "reason"}, // reason: not_started, closed
		),

		partitionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_routing_partition_failures_total",
				Help: "Terminal partition publisher failures",
			},
			[]string{"topic", "partition"},
		),

		partitionsFailed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pub_routing_partitions_failed",
				Help: "Number of partitions currently in the failed state",
			},
			[]string{"topic"},
		),

		publisherHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pub_routing_publisher_healthy",
				Help: "1 while no partition of the topic has failed",
			},
			[]string{"topic"},
		),

		storageOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pub_storage_operation_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "status"}, // operation: get_offset, commit_offset, record_exists, insert_record
		),

		storageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pub_storage_operation_duration_seconds",
				Help:    "Time spent on storage operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pub_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pub_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.publishTotal,
		r.publishDuration,
		r.publishRejected,
		r.partitionFailures,
		r.partitionsFailed,
		r.publisherHealthy,
		r.storageOperationTotal,
		r.storageOperationDuration,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// Gatherer exposes the underlying registry for scraping in tests and tools.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordPartitionPublish records a resolved publish on one partition
func (r *Registry) RecordPartitionPublish(topic string, partition int, duration time.Duration, err error) {
	partitionStr := strconv.Itoa(partition)
	status := "success"
	if err != nil {
		status = "error"
	}

	r.publishTotal.WithLabelValues(topic, partitionStr, status).Inc()
	r.publishDuration.WithLabelValues(topic, partitionStr).Observe(duration.Seconds())
}

// RecordPublishRejected records a publish refused by the routing publisher
func (r *Registry) RecordPublishRejected(topic, reason string) {
	r.publishRejected.WithLabelValues(topic, reason).Inc()
}

// RecordPartitionFailure records the terminal failure of a partition
func (r *Registry) RecordPartitionFailure(topic string, partition int) {
	r.partitionFailures.WithLabelValues(topic, strconv.Itoa(partition)).Inc()
	r.partitionsFailed.WithLabelValues(topic).Inc()
}

func (r *Registry) SetPartitionsFailed(topic string, n int) {
	r.partitionsFailed.WithLabelValues(topic).Set(float64(n))
}

func (r *Registry) SetPublisherHealthy(topic string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	r.publisherHealthy.WithLabelValues(topic).Set(v)
}

// RecordStorageOperation records a storage operation
func (r *Registry) RecordStorageOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.storageOperationTotal.WithLabelValues(operation, status).Inc()
	r.storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}
