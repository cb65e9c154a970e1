package queue

import "govqueue/internal/models"

// transitionMap lists, per target status, the statuses it may be entered from.
var transitionMap = map[string][]string{
	models.StatusServing:   {models.StatusWaiting},
	models.StatusCompleted: {models.StatusServing},
	models.StatusNoShow:    {models.StatusServing},
	models.StatusCancelled: {models.StatusWaiting, models.StatusServing},
}

func ValidTransition(from, to string) bool {
	allowed, ok := transitionMap[to]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}
