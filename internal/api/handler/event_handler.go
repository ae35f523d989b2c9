package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/event-notification-service/internal/api/middleware"
	"github.com/notifyhub/event-notification-service/internal/domain"
	"github.com/notifyhub/event-notification-service/internal/service"
)

// IdempotencyKeyHeader is read when the body carries no idempotencyKey.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// EventHandler serves the ingestion endpoints used by upstream producers.
type EventHandler struct {
	svc    *service.EventService
	logger *zap.Logger
}

func NewEventHandler(svc *service.EventService, logger *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, logger: logger}
}

type submitResponse struct {
	Message string `json:"message"`
	*domain.SubmitResult
}

// Submit handles POST /api/v1/events
//
// @Summary     Submit a domain event for notification dispatch
// @Tags        events
// @Accept      json
// @Produce     json
// @Param       X-Idempotency-Key  header    string                false  "Idempotency key"
// @Param       body               body      domain.SubmitRequest  true   "Event"
// @Success     202                {object}  submitResponse
// @Success     200                {object}  submitResponse        "Duplicate: original event returned"
// @Failure     400                {object}  map[string]string
// @Failure     429                {object}  map[string]string
// @Failure     503                {object}  map[string]string
// @Router      /api/v1/events [post]
func (h *EventHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)
	}

	res, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		h.logger.Warn("submit event failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.String("event_type", req.EventType),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	if res.Duplicate {
		respondJSON(w, http.StatusOK, submitResponse{Message: "Event already submitted.", SubmitResult: res})
		return
	}
	respondJSON(w, http.StatusAccepted, submitResponse{Message: "Event accepted for processing.", SubmitResult: res})
}

// GetStatus handles GET /api/v1/events/{id}
//
// @Summary  Get the processing status of an event
// @Tags     events
// @Produce  json
// @Param    id   path      string  true  "Event UUID"
// @Success  200  {object}  domain.EventStatusView
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/events/{id} [get]
func (h *EventHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}
