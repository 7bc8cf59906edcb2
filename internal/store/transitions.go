package store

import "qms/queueflow-service/internal/models"

const (
	ActionCallNext = "call_next"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
)

var transitionMap = map[string][]models.Status{
	ActionCallNext: {models.StatusWaiting},
	ActionComplete: {models.StatusServing},
	ActionCancel:   {models.StatusWaiting},
}

func ValidTransition(action string, fromStatus models.Status) bool {
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
