package models

import "time"

type Token struct {
	ID            string     `json:"id"`
	Number        int64      `json:"token_number"`
	CitizenID     string     `json:"citizen_id"`
	CitizenName   string     `json:"citizen_name,omitempty"`
	CitizenPhone  string     `json:"citizen_phone,omitempty"`
	ServiceType   string     `json:"service_type"`
	TimeSlot      time.Time  `json:"time_slot"`
	EstimatedTime string     `json:"estimated_time"`
	Status        string     `json:"status"`
	Priority      bool       `json:"priority"`
	CounterID     *int64     `json:"counter_id,omitempty"`
	QRPayload     string     `json:"qr_payload,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	CalledAt      *time.Time `json:"called_at,omitempty"`
	ServedAt      *time.Time `json:"served_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Version       int64      `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const (
	StatusWaiting   = "waiting"
	StatusServing   = "serving"
	StatusCompleted = "completed"
	StatusNoShow    = "no-show"
	StatusCancelled = "cancelled"
)

var Statuses = []string{StatusWaiting, StatusServing, StatusCompleted, StatusNoShow, StatusCancelled}

func ValidStatus(status string) bool {
	for _, s := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave status.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusNoShow || status == StatusCancelled
}
