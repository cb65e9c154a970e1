// Package notify delivers SMS notifications for token events. Delivery runs
// off the request path and its failures are only logged and recorded.
package notify

import (
	"fmt"
	"strconv"
	"strings"

	"govqueue/internal/models"
)

var defaultTemplates = map[string]string{
	models.EventTokenCreated:   "Hi {name}, your token #{number} has been generated. Expected time: {estimated_time}. {agency} Queue Management",
	models.EventTokenCalled:    "Hi {name}, your token #{number} is now being called for service at {counter}. Please proceed immediately.",
	models.EventTokenCompleted: "Hi {name}, your service for token #{number} has been completed. Thank you for visiting {agency}.",
	models.EventReminder:       "Hi {name}, reminder: Your token #{number} will be called soon. Please be ready.",
}

type TemplateData struct {
	Name          string
	Number        int64
	EstimatedTime string
	Counter       string
	Agency        string
}

// Render fills the template for event.
func Render(event string, data TemplateData) (string, error) {
	body, ok := defaultTemplates[event]
	if !ok {
		return "", fmt.Errorf("no template for event %q", event)
	}
	name := data.Name
	if name == "" {
		name = "Citizen"
	}
	replacer := strings.NewReplacer(
		"{name}", name,
		"{number}", strconv.FormatInt(data.Number, 10),
		"{estimated_time}", data.EstimatedTime,
		"{counter}", data.Counter,
		"{agency}", data.Agency,
	)
	return replacer.Replace(body), nil
}
