package provider

import (
	"context"

	"github.com/google/uuid"

	"github.com/notifyhub/event-notification-service/internal/domain"
)

// SendRequest is the JSON body posted to an external channel provider.
type SendRequest struct {
	NotificationID string          `json:"notificationId"`
	EventID        string          `json:"eventId"`
	UserID         string          `json:"userId"`
	Channel        domain.Channel  `json:"channel"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Priority       domain.Priority `json:"priority"`
}

// SendResponse maps the provider's acceptance body. Providers that answer
// with an empty body get a zero SendResponse.
type SendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// Provider abstracts delivery to an external notification service.
// Mocking this interface in tests gives full control over provider behaviour
// without making real HTTP calls.
type Provider interface {
	Send(ctx context.Context, n *domain.Notification) (*SendResponse, error)
}

// Noop accepts every notification without contacting anything. It stands in
// for channels that have no transport configured, and for IN_APP, whose
// delivery is the stored row plus the realtime push.
type Noop struct{}

func (Noop) Send(_ context.Context, _ *domain.Notification) (*SendResponse, error) {
	return &SendResponse{MessageID: uuid.NewString(), Status: "accepted"}, nil
}

// Set maps each channel to its transport.
type Set map[domain.Channel]Provider

// For returns the channel's provider, or Noop when none is registered.
func (s Set) For(ch domain.Channel) Provider {
	if p, ok := s[ch]; ok && p != nil {
		return p
	}
	return Noop{}
}

var _ Provider = Noop{}
