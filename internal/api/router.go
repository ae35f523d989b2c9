package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/event-notification-service/internal/api/handler"
	apimw "github.com/notifyhub/event-notification-service/internal/api/middleware"
	"github.com/notifyhub/event-notification-service/internal/queue"
	"github.com/notifyhub/event-notification-service/internal/realtime"
	"github.com/notifyhub/event-notification-service/internal/service"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Events   *service.EventService
	Queue    queue.Queue
	Hub      *realtime.Hub
	Gatherer prometheus.Gatherer
	// Checks back the readiness probe, keyed by dependency name.
	Checks map[string]handler.Check
	// InternalToken guards the producer endpoints when non-empty.
	InternalToken string
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(deps Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	eh := handler.NewEventHandler(deps.Events, logger)
	qh := handler.NewQueueHandler(deps.Queue, logger)
	hh := handler.NewHealthHandler(deps.Checks)

	// --- routes ---
	r.Get("/health", hh.Health)
	r.Get("/ready", hh.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	// Realtime sessions. The body limit below must not apply to an upgraded
	// connection.
	r.Get("/ws", realtime.Handler(deps.Hub, logger.Named("realtime")))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.RequestSize(1 << 20))

		r.Group(func(r chi.Router) {
			r.Use(apimw.InternalToken(deps.InternalToken))
			r.Post("/events", eh.Submit)
			r.Get("/events/{id}", eh.GetStatus)
		})

		r.Get("/queue/stats", qh.Stats)
	})

	return r
}
