package store

import "digiturno/queue-service/internal/models"

var transitionMap = map[string][]string{
	"call_next":     {models.StatusWaiting},
	"recall":        {models.StatusCalled},
	"start_service": {models.StatusCalled},
	"finish":        {models.StatusCalled, models.StatusInService},
	"no_show":       {models.StatusWaiting, models.StatusCalled, models.StatusInService},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
