package models

import "time"

const (
	EventTokenCreated   = "token_created"
	EventTokenCalled    = "token_called"
	EventTokenCompleted = "token_completed"
	EventReminder       = "reminder"
)

const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

type Notification struct {
	ID        string     `json:"id"`
	TokenID   string     `json:"token_id"`
	Type      string     `json:"type"`
	Channel   string     `json:"channel"`
	Recipient string     `json:"recipient"`
	Status    string     `json:"status"`
	Message   string     `json:"message"`
	Error     string     `json:"error,omitempty"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func ValidEvent(event string) bool {
	switch event {
	case EventTokenCreated, EventTokenCalled, EventTokenCompleted, EventReminder:
		return true
	default:
		return false
	}
}
