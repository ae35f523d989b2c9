package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/event-notification-service/internal/domain"
)

type pgPreferenceRepository struct {
	pool *pgxpool.Pool
}

// NewPgPreferenceRepository returns a PreferenceRepository backed by PostgreSQL.
func NewPgPreferenceRepository(pool *pgxpool.Pool) PreferenceRepository {
	return &pgPreferenceRepository{pool: pool}
}

const preferenceColumns = `user_id, email_enabled, push_enabled, in_app_enabled, event_types,
	quiet_hours_enabled, quiet_hours_start, quiet_hours_end,
	max_per_hour, max_per_day, created_at, updated_at`

// GetOrCreateDefault relies on ON CONFLICT so two workers racing on a new
// user both end up reading the same row.
func (r *pgPreferenceRepository) GetOrCreateDefault(ctx context.Context, userID string) (*domain.UserPreference, error) {
	d := domain.DefaultPreference(userID, time.Now().UTC())
	eventTypes, err := json.Marshal(d.EventTypes)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO user_preferences (`+preferenceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING `+preferenceColumns,
		d.UserID, d.Channels.Email, d.Channels.Push, d.Channels.InApp, eventTypes,
		d.QuietHours.Enabled, d.QuietHours.StartTime, d.QuietHours.EndTime,
		d.Frequency.MaxPerHour, d.Frequency.MaxPerDay, d.CreatedAt, d.UpdatedAt,
	)
	p, err := scanPreference(row)
	if err != nil {
		return nil, fmt.Errorf("get or create preferences: %w", err)
	}
	return p, nil
}

func (r *pgPreferenceRepository) Upsert(ctx context.Context, p *domain.UserPreference) error {
	eventTypes, err := json.Marshal(p.EventTypes)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO user_preferences (`+preferenceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		ON CONFLICT (user_id) DO UPDATE SET
			email_enabled       = EXCLUDED.email_enabled,
			push_enabled        = EXCLUDED.push_enabled,
			in_app_enabled      = EXCLUDED.in_app_enabled,
			event_types         = EXCLUDED.event_types,
			quiet_hours_enabled = EXCLUDED.quiet_hours_enabled,
			quiet_hours_start   = EXCLUDED.quiet_hours_start,
			quiet_hours_end     = EXCLUDED.quiet_hours_end,
			max_per_hour        = EXCLUDED.max_per_hour,
			max_per_day         = EXCLUDED.max_per_day,
			updated_at          = EXCLUDED.updated_at`,
		p.UserID, p.Channels.Email, p.Channels.Push, p.Channels.InApp, eventTypes,
		p.QuietHours.Enabled, p.QuietHours.StartTime, p.QuietHours.EndTime,
		p.Frequency.MaxPerHour, p.Frequency.MaxPerDay, now,
	)
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

func scanPreference(row pgx.Row) (*domain.UserPreference, error) {
	var (
		p          domain.UserPreference
		eventTypes []byte
	)
	err := row.Scan(
		&p.UserID, &p.Channels.Email, &p.Channels.Push, &p.Channels.InApp, &eventTypes,
		&p.QuietHours.Enabled, &p.QuietHours.StartTime, &p.QuietHours.EndTime,
		&p.Frequency.MaxPerHour, &p.Frequency.MaxPerDay, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.EventTypes = map[string]bool{}
	if len(eventTypes) > 0 {
		if err := json.Unmarshal(eventTypes, &p.EventTypes); err != nil {
			return nil, fmt.Errorf("decode event type preferences: %w", err)
		}
	}
	return &p, nil
}
