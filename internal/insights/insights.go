package insights

import (
	"context"
	"time"

	"qms/queueflow-service/internal/models"
)

type LoadLevel string

const (
	LoadLow    LoadLevel = "low"
	LoadMedium LoadLevel = "medium"
	LoadHigh   LoadLevel = "high"
)

type Insight struct {
	Recommendation       string    `json:"recommendation"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
	LoadLevel            LoadLevel `json:"load_level"`
	WaitingCount         int       `json:"waiting_count"`
	ServingCount         int       `json:"serving_count"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// Estimator turns a ticket snapshot into advisory text and a wait estimate.
// Implementations must not retain or modify the slice.
type Estimator interface {
	Estimate(ctx context.Context, tickets []models.Ticket) (Insight, error)
}

const (
	minutesPerWaiting = 5
	minimumWait       = 2
	congestionPenalty = 15

	surgeThreshold = 5
	alertThreshold = 10
)

const (
	recommendationIdle   = "Service flow is excellent. All counters are ready for new customers."
	recommendationNormal = "Waiting time is within expectations. Continue with standard service."
	recommendationSurge  = "Sudden increase in customers detected. Consider prioritising PRIORITY tickets to avoid bottlenecks."
	recommendationAlert  = "ALERT: the queue is very long. Open an extra counter or move support staff to fast triage."
)

// Heuristic estimates from the waiting and serving counts alone.
type Heuristic struct {
	Now func() time.Time
}

func (h Heuristic) Estimate(ctx context.Context, tickets []models.Ticket) (Insight, error) {
	if err := ctx.Err(); err != nil {
		return Insight{}, err
	}
	var waiting, serving int
	for _, t := range tickets {
		switch t.Status {
		case models.StatusWaiting:
			waiting++
		case models.StatusServing:
			serving++
		}
	}

	insight := Insight{
		WaitingCount:         waiting,
		ServingCount:         serving,
		EstimatedWaitMinutes: max(minimumWait, waiting*minutesPerWaiting),
		GeneratedAt:          h.now(),
	}
	switch {
	case waiting == 0:
		insight.Recommendation = recommendationIdle
		insight.EstimatedWaitMinutes = 1
		insight.LoadLevel = LoadLow
	case waiting < surgeThreshold:
		insight.Recommendation = recommendationNormal
		insight.LoadLevel = LoadLow
	case waiting < alertThreshold:
		insight.Recommendation = recommendationSurge
		insight.LoadLevel = LoadMedium
	default:
		insight.Recommendation = recommendationAlert
		insight.EstimatedWaitMinutes += congestionPenalty
		insight.LoadLevel = LoadHigh
	}
	return insight, nil
}

func (h Heuristic) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}
