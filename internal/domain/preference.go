package domain

import "time"

// ChannelSettings toggles each delivery channel for a user.
type ChannelSettings struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
	InApp bool `json:"inApp"`
}

// QuietHours is stored for the preference-management surface.
// Dispatch does not enforce it.
type QuietHours struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"startTime"` // HH:mm
	EndTime   string `json:"endTime"`
}

// Frequency is stored for the preference-management surface.
// Dispatch does not enforce it.
type Frequency struct {
	MaxPerHour int `json:"maxPerHour"`
	MaxPerDay  int `json:"maxPerDay"`
}

// UserPreference holds one user's delivery settings.
type UserPreference struct {
	UserID     string          `json:"userId"`
	Channels   ChannelSettings `json:"channels"`
	EventTypes map[string]bool `json:"eventTypes"`
	QuietHours QuietHours      `json:"quietHours"`
	Frequency  Frequency       `json:"frequency"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// DefaultPreference is what a user gets on first dispatch: every channel on,
// no per-event overrides.
func DefaultPreference(userID string, now time.Time) *UserPreference {
	return &UserPreference{
		UserID:     userID,
		Channels:   ChannelSettings{Email: true, Push: true, InApp: true},
		EventTypes: map[string]bool{},
		QuietHours: QuietHours{Enabled: false, StartTime: "22:00", EndTime: "08:00"},
		Frequency:  Frequency{MaxPerHour: 10, MaxPerDay: 100},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// EventTypeEnabled is false only when the user explicitly disabled the type.
func (p *UserPreference) EventTypeEnabled(eventType string) bool {
	enabled, ok := p.EventTypes[eventType]
	return !ok || enabled
}

// EnabledChannels returns the enabled channels in fan-out order
// (IN_APP, EMAIL, PUSH).
func (p *UserPreference) EnabledChannels() []Channel {
	var out []Channel
	for _, ch := range Channels {
		switch ch {
		case ChannelInApp:
			if p.Channels.InApp {
				out = append(out, ch)
			}
		case ChannelEmail:
			if p.Channels.Email {
				out = append(out, ch)
			}
		case ChannelPush:
			if p.Channels.Push {
				out = append(out, ch)
			}
		}
	}
	return out
}
