package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/notifyhub/event-notification-service/internal/queue"
)

// QueueHandler serves a human-readable JSON queue snapshot.
// Prometheus gauges for the same numbers are exported at /metrics.
type QueueHandler struct {
	q      queue.Queue
	logger *zap.Logger
}

func NewQueueHandler(q queue.Queue, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{q: q, logger: logger}
}

// Stats handles GET /api/v1/queue/stats
//
// @Summary  Dispatch queue snapshot
// @Tags     queue
// @Produce  json
// @Success  200  {object}  map[string]any
// @Failure  503  {object}  map[string]string
// @Router   /api/v1/queue/stats [get]
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.q.Stats(r.Context())
	if err != nil {
		h.logger.Warn("queue stats failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"jobs": map[string]int64{
			"waiting":   s.Waiting,
			"delayed":   s.Delayed,
			"active":    s.Active,
			"completed": s.Completed,
			"failed":    s.Failed,
		},
		"pending": s.Waiting + s.Delayed + s.Active,
	})
}
