package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/event-notification-service/internal/domain"
)

type pgEventRepository struct {
	pool *pgxpool.Pool
}

// NewPgEventRepository returns an EventRepository backed by PostgreSQL.
func NewPgEventRepository(pool *pgxpool.Pool) EventRepository {
	return &pgEventRepository{pool: pool}
}

const eventColumns = `id, event_type, user_id, payload, idempotency_key, status, created_at, updated_at`

func (r *pgEventRepository) Create(ctx context.Context, e *domain.Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events
			(id, event_type, user_id, payload, idempotency_key, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.EventType, e.UserID, []byte(e.Payload), e.IdempotencyKey, e.Status, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "events_idempotency_key_key") {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *pgEventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEventNotFound
	}
	return e, err
}

func (r *pgEventRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Event, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE idempotency_key = $1`, key)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEventNotFound
	}
	return e, err
}

func (r *pgEventRepository) ExistsSince(ctx context.Context, userID, eventType string, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE user_id = $1 AND event_type = $2 AND created_at > $3
		)`, userID, eventType, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent events: %w", err)
	}
	return exists, nil
}

// TransitionStatus only touches PENDING rows so a terminal status is never
// overwritten, even if two attempts race.
func (r *pgEventRepository) TransitionStatus(ctx context.Context, id string, to domain.EventStatus) (bool, error) {
	if !to.IsTerminal() {
		return false, domain.ErrInvalidTransition
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE events SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'PENDING'`, to, id)
	if err != nil {
		return false, fmt.Errorf("update event status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check event exists: %w", err)
	}
	if !exists {
		return false, domain.ErrEventNotFound
	}
	return false, nil
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		e       domain.Event
		payload []byte
	)
	err := row.Scan(
		&e.ID, &e.EventType, &e.UserID, &payload, &e.IdempotencyKey,
		&e.Status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
