package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/notifyhub/event-notification-service/internal/domain"
	"github.com/notifyhub/event-notification-service/internal/metrics"
	"github.com/notifyhub/event-notification-service/internal/queue"
)

func TestMetrics_Hooks(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.IngestHook()("accepted")
	onJob, onChannel := m.WorkerHooks()
	onJob("completed", 20*time.Millisecond)
	onChannel(domain.ChannelEmail, domain.DeliveryFailed)
	onChannel(domain.ChannelEmail, domain.DeliveryFailed)

	if v := testutil.ToFloat64(m.EventsIngested.WithLabelValues("accepted")); v != 1 {
		t.Fatalf("expected 1 accepted, got %v", v)
	}
	if v := testutil.ToFloat64(m.JobsProcessed.WithLabelValues("completed")); v != 1 {
		t.Fatalf("expected 1 completed job, got %v", v)
	}
	if v := testutil.ToFloat64(m.ChannelDeliveries.WithLabelValues("EMAIL", "FAILED")); v != 2 {
		t.Fatalf("expected 2 failed email deliveries, got %v", v)
	}
}

func TestMetrics_SetQueueStats(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.SetQueueStats(queue.Stats{Waiting: 3, Delayed: 2, Failed: 1})

	if v := testutil.ToFloat64(m.QueueJobs.WithLabelValues("waiting")); v != 3 {
		t.Fatalf("expected 3 waiting, got %v", v)
	}
	if v := testutil.ToFloat64(m.QueueJobs.WithLabelValues("delayed")); v != 2 {
		t.Fatalf("expected 2 delayed, got %v", v)
	}
}
