package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/event-notification-service/internal/domain"
)

type pgNotificationRepository struct {
	pool *pgxpool.Pool
}

// NewPgNotificationRepository returns a NotificationRepository backed by PostgreSQL.
func NewPgNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &pgNotificationRepository{pool: pool}
}

func (r *pgNotificationRepository) CreateDelivered(ctx context.Context, n *domain.Notification, log *domain.DeliveryLog) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO notifications
			(id, user_id, event_id, title, message, channel, is_read, priority, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		n.ID, n.UserID, n.EventID, n.Title, n.Message, n.Channel, n.IsRead, n.Priority, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if err := insertDeliveryLog(ctx, tx, log); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit notification: %w", err)
	}
	return nil
}

func (r *pgNotificationRepository) ListByEvent(ctx context.Context, eventID string) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, event_id, title, message, channel, is_read, priority, created_at
		FROM notifications WHERE event_id = $1 ORDER BY created_at ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var result []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.EventID, &n.Title, &n.Message,
			&n.Channel, &n.IsRead, &n.Priority, &n.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &n)
	}
	return result, rows.Err()
}

// ---- helpers ----

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertDeliveryLog(ctx context.Context, db execer, l *domain.DeliveryLog) error {
	_, err := db.Exec(ctx, `
		INSERT INTO delivery_logs
			(id, notification_id, event_id, channel, status, attempt_count, error_message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		l.ID, l.NotificationID, l.EventID, l.Channel, l.Status, l.AttemptCount, l.ErrorMessage, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-constraint violation on
// the named constraint (any constraint when name is empty).
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

type pgDeliveryLogRepository struct {
	pool *pgxpool.Pool
}

// NewPgDeliveryLogRepository returns a DeliveryLogRepository backed by PostgreSQL.
func NewPgDeliveryLogRepository(pool *pgxpool.Pool) DeliveryLogRepository {
	return &pgDeliveryLogRepository{pool: pool}
}

func (r *pgDeliveryLogRepository) Append(ctx context.Context, l *domain.DeliveryLog) error {
	return insertDeliveryLog(ctx, r.pool, l)
}

const deliveryLogColumns = `id, notification_id, event_id, channel, status, attempt_count, error_message, created_at`

func (r *pgDeliveryLogRepository) ListByNotification(ctx context.Context, notificationID string, channel domain.Channel) ([]*domain.DeliveryLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+deliveryLogColumns+`
		FROM delivery_logs
		WHERE notification_id = $1 AND channel = $2
		ORDER BY created_at ASC`, notificationID, channel)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	defer rows.Close()
	return scanDeliveryLogs(rows)
}

func (r *pgDeliveryLogRepository) ListByEvent(ctx context.Context, eventID string) ([]*domain.DeliveryLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+deliveryLogColumns+`
		FROM delivery_logs WHERE event_id = $1
		ORDER BY created_at ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	defer rows.Close()
	return scanDeliveryLogs(rows)
}

func (r *pgDeliveryLogRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM delivery_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge delivery logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDeliveryLogs(rows pgx.Rows) ([]*domain.DeliveryLog, error) {
	var result []*domain.DeliveryLog
	for rows.Next() {
		var l domain.DeliveryLog
		if err := rows.Scan(
			&l.ID, &l.NotificationID, &l.EventID, &l.Channel, &l.Status,
			&l.AttemptCount, &l.ErrorMessage, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &l)
	}
	return result, rows.Err()
}
