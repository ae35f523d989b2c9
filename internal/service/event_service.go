package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/event-notification-service/internal/domain"
	"github.com/notifyhub/event-notification-service/internal/queue"
	"github.com/notifyhub/event-notification-service/internal/repository"
)

// Ingestion outcomes reported through Options.OnIngest.
const (
	ResultAccepted      = "accepted"
	ResultDuplicate     = "duplicate"
	ResultRateLimited   = "rate_limited"
	ResultInvalid       = "invalid"
	ResultEnqueueFailed = "enqueue_failed"
	ResultError         = "error"
)

// Options tune ingestion. Zero values fall back to the production defaults.
type Options struct {
	AllowedTypes    domain.EventTypeSet
	MaxPayloadBytes int
	// DebounceWindow rejects a second event of the same type for the same
	// user inside the window. Zero disables the check.
	DebounceWindow time.Duration
	// Job is the retry policy every processEvent job is enqueued with.
	Job      queue.JobOptions
	Clock    func() time.Time
	OnIngest func(result string)
}

// EventService is the ingestion gateway: it validates, deduplicates,
// persists and enqueues events. HTTP handlers and the Kafka consumer both
// depend on it.
type EventService struct {
	events repository.EventRepository
	q      queue.Queue
	opts   Options
	logger *zap.Logger
}

func NewEventService(
	events repository.EventRepository,
	q queue.Queue,
	opts Options,
	logger *zap.Logger,
) *EventService {
	if opts.AllowedTypes == nil {
		opts.AllowedTypes = domain.NewEventTypeSet()
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = domain.DefaultMaxPayloadBytes
	}
	if opts.Job.MaxAttempts <= 0 {
		opts.Job.MaxAttempts = 10
	}
	if opts.Job.Backoff.Base <= 0 {
		opts.Job.Backoff = queue.DefaultBackoff
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.OnIngest == nil {
		opts.OnIngest = func(string) {}
	}
	return &EventService{events: events, q: q, opts: opts, logger: logger}
}

// Submit accepts one event for asynchronous dispatch.
//
// A request carrying an idempotency key that was already used returns the
// original event with Duplicate set; nothing new is stored or queued.
func (s *EventService) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResult, error) {
	payload, err := req.Validate(s.opts.AllowedTypes, s.opts.MaxPayloadBytes)
	if err != nil {
		s.opts.OnIngest(ResultInvalid)
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.lookupKey(ctx, req.IdempotencyKey)
		if err != nil {
			s.opts.OnIngest(ResultError)
			return nil, err
		}
		if existing != nil {
			return s.replay(existing), nil
		}
	}

	now := s.opts.Clock().UTC()

	if s.opts.DebounceWindow > 0 {
		recent, err := s.events.ExistsSince(ctx, req.UserID, req.EventType, now.Add(-s.opts.DebounceWindow))
		if err != nil {
			s.opts.OnIngest(ResultError)
			return nil, fmt.Errorf("debounce lookup: %w", err)
		}
		if recent {
			// A concurrent submission with the same key may be what tripped
			// the window; that is a replay, not a rate limit.
			if req.IdempotencyKey != "" {
				if existing, err := s.lookupKey(ctx, req.IdempotencyKey); err == nil && existing != nil {
					return s.replay(existing), nil
				}
			}
			s.opts.OnIngest(ResultRateLimited)
			return nil, domain.ErrRateLimited
		}
	}

	e := &domain.Event{
		ID:        uuid.New().String(),
		EventType: req.EventType,
		UserID:    req.UserID,
		Payload:   payload,
		Status:    domain.EventPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		e.IdempotencyKey = &key
	}

	if err := s.events.Create(ctx, e); err != nil {
		if errors.Is(err, domain.ErrConflict) && req.IdempotencyKey != "" {
			// Lost the race to a concurrent submission with the same key.
			winner, lookupErr := s.lookupKey(ctx, req.IdempotencyKey)
			if lookupErr == nil && winner != nil {
				return s.replay(winner), nil
			}
		}
		s.opts.OnIngest(ResultError)
		return nil, fmt.Errorf("persist event: %w", err)
	}

	if err := s.enqueue(ctx, e); err != nil {
		s.opts.OnIngest(ResultEnqueueFailed)
		return nil, err
	}

	s.opts.OnIngest(ResultAccepted)
	s.logger.Debug("event accepted",
		zap.String("event_id", e.ID),
		zap.String("event_type", e.EventType),
		zap.String("user_id", e.UserID),
	)
	return &domain.SubmitResult{EventID: e.ID, Status: domain.EventPending, Accepted: true}, nil
}

// GetStatus returns the lifecycle view of an event, or domain.ErrNotFound.
func (s *EventService) GetStatus(ctx context.Context, id string) (*domain.EventStatusView, error) {
	e, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.EventStatusView{
		EventID:   e.ID,
		EventType: e.EventType,
		Status:    e.Status,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}, nil
}

// ---- private helpers ----

// lookupKey returns nil, nil when no event holds the key.
func (s *EventService) lookupKey(ctx context.Context, key string) (*domain.Event, error) {
	e, err := s.events.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	return e, nil
}

func (s *EventService) replay(e *domain.Event) *domain.SubmitResult {
	s.opts.OnIngest(ResultDuplicate)
	return &domain.SubmitResult{EventID: e.ID, Status: e.Status, Accepted: true, Duplicate: true}
}

// enqueue hands the event to the dispatch queue. The job id is the event id,
// so an event can never have two live jobs. If the queue refuses the job the
// event is marked FAILED; it would otherwise sit in PENDING forever.
func (s *EventService) enqueue(ctx context.Context, e *domain.Event) error {
	opts := s.opts.Job
	opts.JobID = e.ID
	_, err := s.q.Enqueue(ctx, queue.JobProcessEvent, queue.ProcessEventPayload{EventID: e.ID}, opts)
	if err == nil {
		return nil
	}

	s.logger.Error("enqueue failed, marking event FAILED",
		zap.String("event_id", e.ID), zap.Error(err))
	if _, terr := s.events.TransitionStatus(ctx, e.ID, domain.EventFailed); terr != nil {
		s.logger.Error("failed to mark event FAILED after enqueue error",
			zap.String("event_id", e.ID), zap.Error(terr))
	}
	return &domain.EnqueueError{EventID: e.ID, Err: err}
}
