package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/event-notification-service/internal/content"
	"github.com/notifyhub/event-notification-service/internal/domain"
	"github.com/notifyhub/event-notification-service/internal/provider"
	"github.com/notifyhub/event-notification-service/internal/queue"
	"github.com/notifyhub/event-notification-service/internal/ratelimiter"
	"github.com/notifyhub/event-notification-service/internal/realtime"
	"github.com/notifyhub/event-notification-service/internal/repository"
)

// Notifier pushes an in-app notification to the user's live sessions.
type Notifier interface {
	Notify(ctx context.Context, userID string, msg realtime.Message) error
}

// ChannelResult is the outcome of one channel's send attempt.
type ChannelResult struct {
	Channel        domain.Channel
	NotificationID string
	Err            error
}

// DispatcherDeps carries everything the dispatcher talks to.
// Limiter and Notifier are optional.
type DispatcherDeps struct {
	Events        repository.EventRepository
	Notifications repository.NotificationRepository
	DeliveryLogs  repository.DeliveryLogRepository
	Preferences   repository.PreferenceRepository
	Providers     provider.Set
	Limiter       *ratelimiter.ChannelLimiters
	Notifier      Notifier
	Clock         func() time.Time
	OnChannel     func(domain.Channel, domain.DeliveryStatus)
}

// Dispatcher turns one processEvent job into per-channel notifications.
// A failing channel never stops the others; the attempt only fails as a
// whole when no channel succeeded.
type Dispatcher struct {
	deps   DispatcherDeps
	logger *zap.Logger
}

func NewDispatcher(deps DispatcherDeps, logger *zap.Logger) *Dispatcher {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.OnChannel == nil {
		deps.OnChannel = func(domain.Channel, domain.DeliveryStatus) {}
	}
	return &Dispatcher{deps: deps, logger: logger}
}

// Handle runs one dispatch attempt. A nil return completes the job; an error
// lets the queue retry it unless it is wrapped with queue.Permanent.
func (d *Dispatcher) Handle(ctx context.Context, job *queue.Job) error {
	if job.Name != queue.JobProcessEvent {
		d.logger.Warn("ignoring unknown job", zap.String("job_id", job.ID), zap.String("name", job.Name))
		return nil
	}
	eventID, err := eventIDOf(job)
	if err != nil {
		return queue.Permanent(err)
	}
	log := d.logger.With(zap.String("event_id", eventID), zap.Int("attempt", job.Attempt()))

	e, err := d.deps.Events.GetByID(ctx, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		return queue.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	if e.Status.IsTerminal() {
		log.Debug("event already terminal, nothing to do", zap.String("status", string(e.Status)))
		return nil
	}

	pref, err := d.deps.Preferences.GetOrCreateDefault(ctx, e.UserID)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	if !pref.EventTypeEnabled(e.EventType) {
		log.Debug("event type disabled by user")
		return d.markProcessed(ctx, e.ID)
	}

	channels := pref.EnabledChannels()
	if len(channels) == 0 {
		log.Debug("every channel disabled by user")
		return d.markProcessed(ctx, e.ID)
	}

	c := content.Render(e.EventType, e.PayloadMap())

	results := make([]ChannelResult, 0, len(channels))
	for _, ch := range channels {
		results = append(results, d.deliver(ctx, log, e, ch, c, job.Attempt()))
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Channel, r.Err))
		}
	}
	if len(errs) == len(results) {
		return fmt.Errorf("%w: %w", domain.ErrTotalDispatchFailure, errors.Join(errs...))
	}
	if len(errs) > 0 {
		log.Warn("partial delivery", zap.Int("failed_channels", len(errs)), zap.Int("channels", len(results)))
	}
	return d.markProcessed(ctx, e.ID)
}

// OnExhausted marks the job's event FAILED once the queue has given up on it.
func (d *Dispatcher) OnExhausted(ctx context.Context, job *queue.Job, cause error) {
	eventID, err := eventIDOf(job)
	if err != nil {
		d.logger.Error("exhausted job has no event id", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	log := d.logger.With(zap.String("event_id", eventID), zap.Int("attempts", job.AttemptsMade))

	changed, err := d.deps.Events.TransitionStatus(ctx, eventID, domain.EventFailed)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Warn("exhausted job refers to a missing event", zap.NamedError("cause", cause))
	case err != nil:
		log.Error("failed to mark event FAILED", zap.Error(err))
	case changed:
		log.Error("event dispatch failed permanently", zap.NamedError("cause", cause))
	}
}

// Reconcile marks the event of an already failed job FAILED if it is still
// PENDING. It is safe to call repeatedly and only logs when it repairs one.
func (d *Dispatcher) Reconcile(ctx context.Context, job *queue.Job, cause error) {
	eventID, err := eventIDOf(job)
	if err != nil {
		return
	}
	changed, err := d.deps.Events.TransitionStatus(ctx, eventID, domain.EventFailed)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		d.logger.Error("failed to reconcile event", zap.String("event_id", eventID), zap.Error(err))
	case changed:
		d.logger.Warn("reconciled event left PENDING by an exhausted job",
			zap.String("event_id", eventID), zap.String("job_id", job.ID), zap.NamedError("cause", cause))
	}
}

// deliver runs one channel: optional rate limit, transport send, then the
// notification and its SUCCESS log in one write. Any failure is recorded as a
// FAILED delivery log with no notification.
func (d *Dispatcher) deliver(ctx context.Context, log *zap.Logger, e *domain.Event, ch domain.Channel, c content.Content, attempt int) ChannelResult {
	log = log.With(zap.String("channel", string(ch)))
	now := d.deps.Clock().UTC()
	n := &domain.Notification{
		ID:        uuid.New().String(),
		UserID:    e.UserID,
		EventID:   e.ID,
		Title:     c.Title,
		Message:   c.Message,
		Channel:   ch,
		Priority:  c.Priority,
		CreatedAt: now,
	}

	fail := func(err error) ChannelResult {
		log.Warn("channel delivery failed", zap.Error(err))
		d.recordFailure(ctx, log, e, ch, attempt, err)
		d.deps.OnChannel(ch, domain.DeliveryFailed)
		return ChannelResult{Channel: ch, Err: err}
	}

	if d.deps.Limiter != nil {
		if err := d.deps.Limiter.Wait(ctx, ch); err != nil {
			return fail(fmt.Errorf("rate limit wait: %w", err))
		}
	}

	resp, err := d.deps.Providers.For(ch).Send(ctx, n)
	if err != nil {
		return fail(err)
	}

	entry := &domain.DeliveryLog{
		ID:             uuid.New().String(),
		NotificationID: &n.ID,
		EventID:        e.ID,
		Channel:        ch,
		Status:         domain.DeliverySuccess,
		AttemptCount:   attempt,
		CreatedAt:      now,
	}
	if err := d.deps.Notifications.CreateDelivered(ctx, n, entry); err != nil {
		return fail(fmt.Errorf("store notification: %w", err))
	}
	d.deps.OnChannel(ch, domain.DeliverySuccess)

	if ch == domain.ChannelInApp && d.deps.Notifier != nil {
		if err := d.deps.Notifier.Notify(ctx, e.UserID, realtime.MessageFor(n)); err != nil {
			log.Warn("realtime push failed", zap.String("notification_id", n.ID), zap.Error(err))
		}
	}

	log.Debug("channel delivered",
		zap.String("notification_id", n.ID),
		zap.String("provider_msg_id", resp.MessageID),
	)
	return ChannelResult{Channel: ch, NotificationID: n.ID}
}

func (d *Dispatcher) recordFailure(ctx context.Context, log *zap.Logger, e *domain.Event, ch domain.Channel, attempt int, cause error) {
	msg := cause.Error()
	entry := &domain.DeliveryLog{
		ID:           uuid.New().String(),
		EventID:      e.ID,
		Channel:      ch,
		Status:       domain.DeliveryFailed,
		AttemptCount: attempt,
		ErrorMessage: &msg,
		CreatedAt:    d.deps.Clock().UTC(),
	}
	if err := d.deps.DeliveryLogs.Append(ctx, entry); err != nil {
		log.Error("failed to write delivery log", zap.Error(err))
	}
}

func (d *Dispatcher) markProcessed(ctx context.Context, eventID string) error {
	if _, err := d.deps.Events.TransitionStatus(ctx, eventID, domain.EventProcessed); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func eventIDOf(job *queue.Job) (string, error) {
	var p queue.ProcessEventPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return "", fmt.Errorf("decode job payload: %w", err)
	}
	if p.EventID == "" {
		return "", errors.New("job payload has no eventId")
	}
	return p.EventID, nil
}
