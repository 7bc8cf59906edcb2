package board

import (
	"fmt"
	"math"
	"sort"
	"time"

	"qms/queueflow-service/internal/dispatch"
	"qms/queueflow-service/internal/insights"
	"qms/queueflow-service/internal/models"
)

const (
	RecentCompletedLimit = 5
	HistoryLimit         = 10
)

type WaitingEntry struct {
	Ticket models.Ticket `json:"ticket"`
	Score  int64         `json:"score"`
}

type CompletedEntry struct {
	Ticket   models.Ticket `json:"ticket"`
	Duration string        `json:"duration"`
}

// Queue is the staff view of the line.
type Queue struct {
	Waiting             []WaitingEntry   `json:"waiting"`
	RecentlyCompleted   []CompletedEntry `json:"recently_completed"`
	WaitingCount        int              `json:"waiting_count"`
	CustomerWaitMinutes int              `json:"customer_wait_minutes"`
	GeneratedAt         time.Time        `json:"generated_at"`
}

type HistoryEntry struct {
	Ticket    models.Ticket `json:"ticket"`
	CounterID int           `json:"counter_id,omitempty"`
}

// Board is the public display view.
type Board struct {
	LastCalled          *models.Counter   `json:"last_called"`
	Counters            []models.Counter  `json:"counters"`
	History             []HistoryEntry    `json:"history"`
	WaitingCount        int               `json:"waiting_count"`
	CustomerWaitMinutes int               `json:"customer_wait_minutes"`
	Insight             *insights.Insight `json:"insight,omitempty"`
}

// WaitingList returns the waiting tickets with their whole-second scores,
// highest first.
func WaitingList(tickets []models.Ticket, now time.Time) []WaitingEntry {
	entries := []WaitingEntry{}
	for _, t := range tickets {
		if t.Status != models.StatusWaiting {
			continue
		}
		entries = append(entries, WaitingEntry{
			Ticket: t,
			Score:  int64(math.Floor(dispatch.Score(t, now))),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	return entries
}

func RecentlyCompleted(tickets []models.Ticket, n int) []CompletedEntry {
	var completed []models.Ticket
	for _, t := range tickets {
		if t.Status == models.StatusCompleted {
			completed = append(completed, t)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		return unixMilli(completed[i].CompletedAt) > unixMilli(completed[j].CompletedAt)
	})
	if len(completed) > n {
		completed = completed[:n]
	}
	entries := make([]CompletedEntry, 0, len(completed))
	for _, t := range completed {
		entries = append(entries, CompletedEntry{
			Ticket:   t,
			Duration: ServiceDuration(t.ServingStartedAt, t.CompletedAt),
		})
	}
	return entries
}

func BuildQueue(tickets []models.Ticket, now time.Time) Queue {
	waiting := WaitingList(tickets, now)
	return Queue{
		Waiting:             waiting,
		RecentlyCompleted:   RecentlyCompleted(tickets, RecentCompletedLimit),
		WaitingCount:        len(waiting),
		CustomerWaitMinutes: CustomerWait(len(waiting)),
		GeneratedAt:         now,
	}
}

// Display builds the public board. The last-called counter is the busy
// counter whose ticket started serving most recently.
func Display(tickets []models.Ticket, counters []models.Counter, insight *insights.Insight) Board {
	b := Board{
		Counters: counters,
		History:  []HistoryEntry{},
		Insight:  insight,
	}
	if b.Counters == nil {
		b.Counters = []models.Counter{}
	}

	owner := make(map[string]int)
	for i := range counters {
		c := counters[i]
		if c.CurrentTicket == nil {
			continue
		}
		owner[c.CurrentTicket.TicketID] = c.CounterID
		if b.LastCalled == nil || unixMilli(c.CurrentTicket.ServingStartedAt) > unixMilli(b.LastCalled.CurrentTicket.ServingStartedAt) {
			b.LastCalled = &counters[i]
		}
	}

	var history []models.Ticket
	for _, t := range tickets {
		switch t.Status {
		case models.StatusWaiting:
			b.WaitingCount++
		case models.StatusServing, models.StatusCompleted:
			history = append(history, t)
		}
	}
	sort.SliceStable(history, func(i, j int) bool {
		return unixMilli(history[i].ServingStartedAt) > unixMilli(history[j].ServingStartedAt)
	})
	if len(history) > HistoryLimit {
		history = history[:HistoryLimit]
	}
	for _, t := range history {
		b.History = append(b.History, HistoryEntry{Ticket: t, CounterID: owner[t.TicketID]})
	}
	b.CustomerWaitMinutes = CustomerWait(b.WaitingCount)
	return b
}

// CustomerWait is the estimate shown at the kiosk, in whole minutes.
func CustomerWait(waiting int) int {
	return max(1, int(math.Ceil(float64(waiting)*4/3)))
}

func ServiceDuration(start, end *time.Time) string {
	if start == nil || end == nil {
		return "---"
	}
	diff := int64(math.Floor(end.Sub(*start).Seconds()))
	mins := int64(math.Floor(float64(diff) / 60))
	secs := diff - mins*60
	return fmt.Sprintf("%dm %ds", mins, secs)
}

func unixMilli(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}
