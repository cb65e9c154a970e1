package models

import "time"

// QueueStats is derived from the token set of one day.
type QueueStats struct {
	Date               string  `json:"date"`
	TotalTokens        int     `json:"total_tokens"`
	CurrentlyServing   int     `json:"currently_serving"`
	CompletedToday     int     `json:"completed_today"`
	Waiting            int     `json:"waiting"`
	NoShow             int     `json:"no_show"`
	Cancelled          int     `json:"cancelled"`
	AverageWaitTime    float64 `json:"average_wait_time"`
	AverageServiceTime float64 `json:"average_service_time"`
}

// DailyStats is the persisted per-day snapshot.
type DailyStats struct {
	Date                  time.Time `json:"date"`
	TotalTokens           int       `json:"total_tokens"`
	CompletedTokens       int       `json:"completed_tokens"`
	AvgWaitTimeMinutes    float64   `json:"avg_wait_time_minutes"`
	AvgServiceTimeMinutes float64   `json:"avg_service_time_minutes"`
	PeakQueueSize         int       `json:"peak_queue_size"`
	UpdatedAt             time.Time `json:"updated_at"`
}
