// Package ingest feeds domain events from Kafka into the event service.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/notifyhub/event-notification-service/internal/domain"
)

// Submitter is the part of service.EventService the consumer needs.
type Submitter interface {
	Submit(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResult, error)
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReaderConfig holds the connection settings for NewReader.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewReader opens a consumer-group reader. Offsets are committed explicitly
// by the Consumer once a message has been handled.
func NewReader(cfg ReaderConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}

// Consumer reads one message at a time and submits it. A message whose
// outcome is final (accepted, replayed, rejected) is committed; one that hit
// an infrastructure error is retried in place and stays uncommitted until it
// goes through, so a restart re-reads it.
type Consumer struct {
	reader     MessageReader
	svc        Submitter
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewConsumer(reader MessageReader, svc Submitter, logger *zap.Logger) *Consumer {
	return &Consumer{reader: reader, svc: svc, retryDelay: time.Second, logger: logger}
}

// WithRetryDelay sets the pause between attempts at an infrastructure error.
func (c *Consumer) WithRetryDelay(d time.Duration) *Consumer {
	c.retryDelay = d
	return c
}

// Run blocks until ctx is cancelled or the reader fails for good.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("kafka consumer started")
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("closing kafka reader", zap.Error(err))
		}
		c.logger.Info("kafka consumer stopped")
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if !c.handleUntilFinal(ctx, m) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// handleUntilFinal retries m until its outcome is final. It returns false
// when ctx was cancelled first.
func (c *Consumer) handleUntilFinal(ctx context.Context, m kafka.Message) bool {
	for {
		if c.handle(ctx, m) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryDelay):
		}
	}
}

// handle submits one message and reports whether its offset may be
// committed.
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	log := c.logger.With(zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))

	var req domain.SubmitRequest
	if err := json.Unmarshal(m.Value, &req); err != nil {
		log.Warn("dropping undecodable message", zap.Error(err))
		return true
	}

	res, err := c.svc.Submit(ctx, req)
	switch {
	case err == nil:
		log.Debug("event ingested",
			zap.String("event_id", res.EventID),
			zap.Bool("duplicate", res.Duplicate),
		)
		return true
	case domain.IsValidation(err):
		log.Warn("dropping invalid event", zap.String("event_type", req.EventType), zap.Error(err))
		return true
	case errors.Is(err, domain.ErrRateLimited):
		log.Info("dropping debounced event", zap.String("user_id", req.UserID), zap.String("event_type", req.EventType))
		return true
	case errors.Is(err, domain.ErrEnqueueFailed):
		// The event row exists and is already FAILED.
		log.Error("event stored but not queued", zap.Error(err))
		return true
	default:
		log.Error("submit failed, will retry", zap.Error(err))
		return false
	}
}
