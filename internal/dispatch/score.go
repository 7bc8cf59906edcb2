package dispatch

import (
	"iter"
	"sort"
	"time"

	"qms/queueflow-service/internal/models"
)

// Score ages a ticket linearly with its wait, scaled by the category
// weight, so long-waiting general tickets eventually outrank new priority
// ones.
func Score(ticket models.Ticket, now time.Time) float64 {
	waitSeconds := now.Sub(ticket.IssuedAt).Seconds()
	return waitSeconds * ticket.Category.Weight()
}

type Ranked struct {
	Ticket models.Ticket
	Score  float64
}

// Rank scores the tickets the counter may serve, highest first. Equal
// scores keep their input order.
func Rank(counter models.Counter, waiting iter.Seq[models.Ticket], now time.Time) []Ranked {
	var ranked []Ranked
	for ticket := range waiting {
		if !counter.Allows(ticket.Category) {
			continue
		}
		ranked = append(ranked, Ranked{Ticket: ticket, Score: Score(ticket, now)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

func SelectNext(counter models.Counter, waiting iter.Seq[models.Ticket], now time.Time) (models.Ticket, bool) {
	ranked := Rank(counter, waiting, now)
	if len(ranked) == 0 {
		return models.Ticket{}, false
	}
	return ranked[0].Ticket, true
}
