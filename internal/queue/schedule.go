package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule turns token numbers into service times. Each token gets a fixed
// slot after the day start.
type Schedule struct {
	StartHour   int
	StartMinute int
	SlotLength  time.Duration
	Location    *time.Location
}

func DefaultSchedule() Schedule {
	return Schedule{StartHour: 9, SlotLength: 10 * time.Minute, Location: time.UTC}
}

// ParseDayStart reads an "HH:MM" clock time.
func ParseDayStart(value string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("day start %q must be HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("day start %q has an invalid hour", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("day start %q has an invalid minute", value)
	}
	return hour, minute, nil
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// DayStart is the opening time of the day containing t.
func (s Schedule) DayStart(t time.Time) time.Time {
	t = t.In(s.location())
	return time.Date(t.Year(), t.Month(), t.Day(), s.StartHour, s.StartMinute, 0, 0, s.location())
}

// TimeSlot is dayStart + (number-1) slots.
func (s Schedule) TimeSlot(number int64, day time.Time) time.Time {
	if number < 1 {
		number = 1
	}
	return s.DayStart(day).Add(time.Duration(number-1) * s.SlotLength)
}

// EstimatedWait is (number - serving) slots, floored at zero.
func (s Schedule) EstimatedWait(number int64, serving int) time.Duration {
	ahead := number - int64(serving)
	if ahead <= 0 {
		return 0
	}
	return time.Duration(ahead) * s.SlotLength
}

// FormatEstimate renders a wait as "Now" or "N mins".
func FormatEstimate(wait time.Duration) string {
	minutes := int64(wait / time.Minute)
	if minutes <= 0 {
		return "Now"
	}
	return fmt.Sprintf("%d mins", minutes)
}

type qrPayload struct {
	TokenNumber int64  `json:"tokenNumber"`
	CitizenID   string `json:"citizenId"`
	TimeSlot    string `json:"timeSlot"`
}

// QRPayload is the JSON document encoded into the token's QR code.
func QRPayload(number int64, citizenID string, slot time.Time) string {
	raw, err := json.Marshal(qrPayload{
		TokenNumber: number,
		CitizenID:   citizenID,
		TimeSlot:    slot.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return ""
	}
	return string(raw)
}
