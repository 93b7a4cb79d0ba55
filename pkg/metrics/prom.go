// Package metrics exports the reconciliation pipeline's per-transaction
// measurements as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/weft-dev/weft/pkg/reconcile"
)

// PromSink implements reconcile.MetricsSink on Prometheus collectors.
type PromSink struct {
	transactions *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	deltas       *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	dirty        prometheus.Histogram
}

var _ reconcile.MetricsSink = (*PromSink)(nil)

type sinkOptions struct {
	namespace string
	registry  prometheus.Registerer
	buckets   []float64
}

// Option configures a PromSink.
type Option func(*sinkOptions)

// WithNamespace overrides the metric namespace. Default: "weft".
func WithNamespace(ns string) Option {
	return func(o *sinkOptions) { o.namespace = ns }
}

// WithRegistry registers the collectors somewhere other than the
// default registerer.
func WithRegistry(r prometheus.Registerer) Option {
	return func(o *sinkOptions) { o.registry = r }
}

// WithBuckets overrides the transaction duration histogram buckets
// (seconds).
func WithBuckets(b []float64) Option {
	return func(o *sinkOptions) { o.buckets = b }
}

// NewPromSink builds and registers the collectors.
func NewPromSink(opts ...Option) *PromSink {
	o := sinkOptions{
		namespace: "weft",
		registry:  prometheus.DefaultRegisterer,
		// Editor transactions live in the sub-millisecond to tens of
		// milliseconds range.
		buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
	}
	for _, opt := range opts {
		opt(&o)
	}
	factory := promauto.With(o.registry)
	return &PromSink{
		transactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "transactions_total",
			Help:      "Reconciled transactions by path taken.",
		}, []string{"path"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "fallbacks_total",
			Help:      "Transactions that declined the optimized path, by reason.",
		}, []string{"reason"}),
		deltas: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "buffer_deltas_total",
			Help:      "Buffer mutations applied, by operation.",
		}, []string{"op"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Wall time of one reconciled transaction.",
			Buckets:   o.buckets,
		}, []string{"path"}),
		dirty: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "dirty_nodes",
			Help:      "Dirty nodes per transaction.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// Record implements reconcile.MetricsSink.
func (s *PromSink) Record(pathLabel string, duration time.Duration, counts reconcile.DeltaCounts, fallback reconcile.FallbackReason) {
	s.transactions.WithLabelValues(pathLabel).Inc()
	s.duration.WithLabelValues(pathLabel).Observe(duration.Seconds())
	if fallback != reconcile.FallbackNone {
		s.fallbacks.WithLabelValues(string(fallback)).Inc()
	}
	if counts.Inserts > 0 {
		s.deltas.WithLabelValues("insert").Add(float64(counts.Inserts))
	}
	if counts.Deletes > 0 {
		s.deltas.WithLabelValues("delete").Add(float64(counts.Deletes))
	}
	if counts.AttrSets > 0 {
		s.deltas.WithLabelValues("set_attributes").Add(float64(counts.AttrSets))
	}
	s.dirty.Observe(float64(counts.Dirty))
}
