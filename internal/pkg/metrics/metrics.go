// Package metrics wires the indexer's metrics surface to Prometheus:
// one struct of promauto-constructed vectors, namespaced, with small
// Record*/Observe* methods that hide the label plumbing from callers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the Prometheus vectors the RequestQueue and
// IndexingStore report into. It also defines RpcCache hit/miss
// counters; rpc.Cache does not record into them.
type Recorder struct {
	RPCRequestLag      *prometheus.HistogramVec
	RPCRequestDuration  *prometheus.HistogramVec
	StoreMethodDuration *prometheus.HistogramVec
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	NamespacePublishTotal *prometheus.CounterVec
	QueuePending        *prometheus.GaugeVec
}

// New creates and registers the indexer's metric vectors under namespace.
func New(namespace string) *Recorder {
	if namespace == "" {
		namespace = "indexcore"
	}

	return &Recorder{
		RPCRequestLag: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_request_lag_seconds",
				Help:      "Time between a request's enqueue and its dispatch",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "network"},
		),
		RPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_request_duration_seconds",
				Help:      "Time between a request's dispatch and its settlement",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "network"},
		),
		StoreMethodDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "indexing_store_method_duration_seconds",
				Help:      "IndexingStore method call duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "table"},
		),
		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_cache_hit_total",
				Help:      "Total number of RpcCache lookups served from cache",
			},
			[]string{"method"},
		),
		CacheMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_cache_miss_total",
				Help:      "Total number of RpcCache lookups delegated to the transport",
			},
			[]string{"method"},
		),
		NamespacePublishTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "namespace_publish_total",
				Help:      "Total number of namespace publish operations",
			},
			[]string{"namespace"},
		),
		QueuePending: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rpc_queue_pending",
				Help:      "Current number of enqueued-but-undispatched RequestQueue tasks",
			},
			[]string{"network"},
		),
	}
}

func (r *Recorder) ObserveRequestLag(method, network string, d time.Duration) {
	r.RPCRequestLag.WithLabelValues(method, network).Observe(d.Seconds())
}

func (r *Recorder) ObserveRequestDuration(method, network string, d time.Duration) {
	r.RPCRequestDuration.WithLabelValues(method, network).Observe(d.Seconds())
}

func (r *Recorder) ObserveStoreMethod(method, table string, d time.Duration) {
	r.StoreMethodDuration.WithLabelValues(method, table).Observe(d.Seconds())
}

func (r *Recorder) CacheHit(method string)  { r.CacheHitsTotal.WithLabelValues(method).Inc() }
func (r *Recorder) CacheMiss(method string) { r.CacheMissesTotal.WithLabelValues(method).Inc() }

func (r *Recorder) NamespacePublished(namespace string) {
	r.NamespacePublishTotal.WithLabelValues(namespace).Inc()
}

func (r *Recorder) SetQueuePending(network string, n int) {
	r.QueuePending.WithLabelValues(network).Set(float64(n))
}
