package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/notifyhub/event-notification-service/internal/domain"
	"github.com/notifyhub/event-notification-service/internal/repository"
)

func TestMockEventRepository_TransitionIsMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMockEventRepository()
	_ = repo.Create(ctx, &domain.Event{ID: "e1", Status: domain.EventPending, CreatedAt: time.Now()})

	ok, err := repo.TransitionStatus(ctx, "e1", domain.EventProcessed)
	if err != nil || !ok {
		t.Fatalf("expected first transition to apply, got ok=%v err=%v", ok, err)
	}
	ok, err = repo.TransitionStatus(ctx, "e1", domain.EventFailed)
	if err != nil || ok {
		t.Fatalf("expected terminal status to stick, got ok=%v err=%v", ok, err)
	}
	e, _ := repo.GetByID(ctx, "e1")
	if e.Status != domain.EventProcessed {
		t.Fatalf("expected PROCESSED, got %s", e.Status)
	}

	if _, err := repo.TransitionStatus(ctx, "missing", domain.EventFailed); err != domain.ErrEventNotFound {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestMockDeliveryLogRepository_Purge(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMockDeliveryLogRepository()
	now := time.Now()
	_ = repo.Append(ctx, &domain.DeliveryLog{ID: "old", EventID: "e", CreatedAt: now.Add(-100 * 24 * time.Hour)})
	_ = repo.Append(ctx, &domain.DeliveryLog{ID: "new", EventID: "e", CreatedAt: now})

	n, err := repo.PurgeOlderThan(ctx, now.Add(-90*24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d err=%v", n, err)
	}
	logs, _ := repo.ListByEvent(ctx, "e")
	if len(logs) != 1 || logs[0].ID != "new" {
		t.Fatalf("unexpected remaining logs: %+v", logs)
	}
}

func TestMockPreferenceRepository_DefaultsOnce(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMockPreferenceRepository()

	p, _ := repo.GetOrCreateDefault(ctx, "u1")
	p.EventTypes["ORDER_PLACED"] = false
	if err := repo.Upsert(ctx, p); err != nil {
		t.Fatal(err)
	}
	again, _ := repo.GetOrCreateDefault(ctx, "u1")
	if again.EventTypeEnabled("ORDER_PLACED") {
		t.Fatal("expected stored preference to win over defaults")
	}
}
