package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/notifyhub/event-notification-service/internal/domain"
	"github.com/notifyhub/event-notification-service/internal/provider"
)

func notification() *domain.Notification {
	return &domain.Notification{
		ID:       "n1",
		EventID:  "e1",
		UserID:   "u1",
		Channel:  domain.ChannelEmail,
		Title:    "Payment Failed",
		Message:  "Your payment failed.",
		Priority: domain.PriorityHigh,
	}
}

func TestWebhookProvider_Accepted(t *testing.T) {
	var got provider.SendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"messageId":"m-1","status":"accepted"}`))
	}))
	defer srv.Close()

	p := provider.NewWebhookProvider(srv.URL, time.Second)
	resp, err := p.Send(context.Background(), notification())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.MessageID != "m-1" {
		t.Fatalf("unexpected message id %q", resp.MessageID)
	}
	if got.UserID != "u1" || got.Channel != domain.ChannelEmail || got.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestWebhookProvider_EmptyBodyIsFine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if _, err := provider.NewWebhookProvider(srv.URL, time.Second).Send(context.Background(), notification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWebhookProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := provider.NewWebhookProvider(srv.URL, time.Second).Send(context.Background(), notification()); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestSet_ForFallsBackToNoop(t *testing.T) {
	set := provider.Set{domain.ChannelEmail: provider.NewWebhookProvider("http://example.invalid", time.Second)}
	if _, ok := set.For(domain.ChannelPush).(provider.Noop); !ok {
		t.Fatal("expected Noop for unregistered channel")
	}
	if _, ok := set.For(domain.ChannelEmail).(*provider.WebhookProvider); !ok {
		t.Fatal("expected the registered webhook provider")
	}
}
