package models

import "time"

type Counter struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	IsActive       bool      `json:"is_active"`
	OfficerID      *string   `json:"officer_id,omitempty"`
	OfficerName    string    `json:"officer_name,omitempty"`
	Services       []string  `json:"services"`
	CurrentTokenID *string   `json:"current_token_id,omitempty"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Handles reports whether the counter accepts serviceType. A counter with no
// configured services accepts everything.
func (c Counter) Handles(serviceType string) bool {
	if len(c.Services) == 0 {
		return true
	}
	for _, s := range c.Services {
		if s == serviceType {
			return true
		}
	}
	return false
}

func (c Counter) Occupied() bool {
	return c.CurrentTokenID != nil
}
