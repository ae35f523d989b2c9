package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/event-notification-service/internal/domain"
	"github.com/notifyhub/event-notification-service/internal/queue"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	EventsIngested    *prometheus.CounterVec
	JobsProcessed     *prometheus.CounterVec
	ChannelDeliveries *prometheus.CounterVec
	DispatchDuration  prometheus.Histogram
	QueueJobs         *prometheus.GaugeVec
}

// New registers all instruments with the given registerer. A custom registry
// keeps tests isolated from the global one.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_ingested_total",
			Help: "Submitted events by outcome (accepted, duplicate, rate_limited, invalid, enqueue_failed, error).",
		}, []string{"result"}),

		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Dispatch attempts by outcome (completed, retried, exhausted).",
		}, []string{"outcome"}),

		ChannelDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channel_deliveries_total",
			Help: "Per-channel send attempts by delivery status.",
		}, []string{"channel", "status"}),

		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Time spent handling one dispatch attempt.",
			Buckets: prometheus.DefBuckets,
		}),

		QueueJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_jobs",
			Help: "Jobs currently in each queue state.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		m.EventsIngested,
		m.JobsProcessed,
		m.ChannelDeliveries,
		m.DispatchDuration,
		m.QueueJobs,
	)

	return m
}

// IngestHook returns the callback expected by service.EventService.
func (m *Metrics) IngestHook() func(result string) {
	return func(result string) {
		m.EventsIngested.WithLabelValues(result).Inc()
	}
}

// WorkerHooks returns the metric callbacks expected by worker.MetricHooks.
// Keeps the worker package free of prometheus imports.
func (m *Metrics) WorkerHooks() (
	onJob func(outcome string, took time.Duration),
	onChannel func(domain.Channel, domain.DeliveryStatus),
) {
	onJob = func(outcome string, took time.Duration) {
		m.JobsProcessed.WithLabelValues(outcome).Inc()
		m.DispatchDuration.Observe(took.Seconds())
	}
	onChannel = func(ch domain.Channel, st domain.DeliveryStatus) {
		m.ChannelDeliveries.WithLabelValues(string(ch), string(st)).Inc()
	}
	return
}

// SetQueueStats publishes a queue snapshot to the queue_jobs gauge.
func (m *Metrics) SetQueueStats(s queue.Stats) {
	m.QueueJobs.WithLabelValues(string(queue.StateWaiting)).Set(float64(s.Waiting))
	m.QueueJobs.WithLabelValues("delayed").Set(float64(s.Delayed))
	m.QueueJobs.WithLabelValues(string(queue.StateActive)).Set(float64(s.Active))
	m.QueueJobs.WithLabelValues(string(queue.StateCompleted)).Set(float64(s.Completed))
	m.QueueJobs.WithLabelValues(string(queue.StateFailed)).Set(float64(s.Failed))
}
