package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborfanout_requests_total",
			Help: "Total number of inbound duplicate requests by priority and result.",
		},
		[]string{"priority", "result"}, // accepted, bad_request, rejected
	)

	EnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborfanout_enqueued_total",
			Help: "Total number of delivery tasks admitted to a queue.",
		},
		[]string{"priority"},
	)

	RejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborfanout_rejected_total",
			Help: "Total number of delivery tasks refused because the queue was full.",
		},
		[]string{"priority"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborfanout_deliveries_total",
			Help: "Total number of delivery attempts by priority and result.",
		},
		[]string{"priority", "result"}, // delivered, failed
	)

	DeliveryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harborfanout_delivery_latency_seconds",
			Help:    "Latency of delivery attempts.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"priority"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborfanout_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, queue_full
	)

	DroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborfanout_dropped_total",
			Help: "Total number of tasks dropped without success by priority and reason.",
		},
		[]string{"priority", "reason"}, // exhausted, flushed
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harborfanout_dlq_total",
			Help: "Total number of dropped deliveries published as dead letters.",
		},
		[]string{"reason"},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		RequestsTotal,
		EnqueuedTotal,
		RejectedTotal,
		DeliveriesTotal,
		DeliveryLatencySeconds,
		RetriesTotal,
		DroppedTotal,
		DLQTotal,
	)
}

// MustRegisterQueueDepth exposes harborfanout_queue_depth for each priority,
// read from depth at scrape time.
func MustRegisterQueueDepth(reg *prometheus.Registry, depth func(priority string) int64, priorities ...string) {
	for _, p := range priorities {
		p := p
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "harborfanout_queue_depth",
				Help:        "Outstanding delivery tasks per priority, including in-flight retries.",
				ConstLabels: prometheus.Labels{"priority": p},
			},
			func() float64 { return float64(depth(p)) },
		))
	}
}

func RecordRequest(priority, result string) {
	RequestsTotal.WithLabelValues(priority, result).Inc()
}

func RecordEnqueued(priority string, n int) {
	EnqueuedTotal.WithLabelValues(priority).Add(float64(n))
}

func RecordRejected(priority string) {
	RejectedTotal.WithLabelValues(priority).Inc()
}

// RecordAttempt counts one delivery attempt and observes its latency.
func RecordAttempt(priority, result string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(priority, result).Inc()
	DeliveryLatencySeconds.WithLabelValues(priority).Observe(latency.Seconds())
}

func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

func RecordDropped(priority, reason string, n int) {
	if n <= 0 {
		return
	}
	DroppedTotal.WithLabelValues(priority, reason).Add(float64(n))
}

func RecordDLQ(reason string) {
	DLQTotal.WithLabelValues(reason).Inc()
}
