// Package stats derives queue statistics from a token set.
package stats

import (
	"math"
	"time"

	"govqueue/internal/models"
)

// DayWindow returns [midnight, midnight+24h) of the day containing asOf, in
// asOf's location.
func DayWindow(asOf time.Time) (time.Time, time.Time) {
	start := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	return start, start.Add(24 * time.Hour)
}

// Compute summarises the tokens created on asOf's day. defaultWait is
// reported as the average wait when no token has been served yet.
func Compute(tokens []models.Token, asOf time.Time, defaultWait float64) models.QueueStats {
	start, end := DayWindow(asOf)
	result := models.QueueStats{Date: start.Format("2006-01-02")}

	var waitTotal, serviceTotal time.Duration
	var waited, serviced int
	for _, token := range tokens {
		if token.CreatedAt.Before(start) || !token.CreatedAt.Before(end) {
			continue
		}
		result.TotalTokens++
		switch token.Status {
		case models.StatusWaiting:
			result.Waiting++
		case models.StatusServing:
			result.CurrentlyServing++
		case models.StatusCompleted:
			result.CompletedToday++
		case models.StatusNoShow:
			result.NoShow++
		case models.StatusCancelled:
			result.Cancelled++
		}
		if token.ServedAt != nil {
			waitTotal += nonNegative(token.ServedAt.Sub(token.CreatedAt))
			waited++
			if token.CompletedAt != nil {
				serviceTotal += nonNegative(token.CompletedAt.Sub(*token.ServedAt))
				serviced++
			}
		}
	}

	result.AverageWaitTime = defaultWait
	if waited > 0 {
		result.AverageWaitTime = minutes(waitTotal / time.Duration(waited))
	}
	if serviced > 0 {
		result.AverageServiceTime = minutes(serviceTotal / time.Duration(serviced))
	}
	return result
}

// Snapshot converts computed stats into the persisted daily row.
func Snapshot(stats models.QueueStats, day time.Time) models.DailyStats {
	start, _ := DayWindow(day)
	return models.DailyStats{
		Date:                  start,
		TotalTokens:           stats.TotalTokens,
		CompletedTokens:       stats.CompletedToday,
		AvgWaitTimeMinutes:    stats.AverageWaitTime,
		AvgServiceTimeMinutes: stats.AverageServiceTime,
		PeakQueueSize:         stats.Waiting,
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// minutes rounds to one decimal place.
func minutes(d time.Duration) float64 {
	return math.Round(d.Minutes()*10) / 10
}
