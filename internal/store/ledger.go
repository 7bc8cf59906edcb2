package store

import (
	"iter"
	"log"
	"time"

	"qms/queueflow-service/internal/models"

	"github.com/google/uuid"
)

// Ledger owns every ticket issued in the session. It is not safe for
// concurrent use; the dispatch engine serializes access.
type Ledger struct {
	tickets          []models.Ticket
	index            map[string]int
	issued           map[models.Category]int
	events           map[string][]TicketEvent
	strictCompletion bool
	newID            func() string
}

type LedgerOptions struct {
	// StrictCompletion only completes tickets that are being served.
	StrictCompletion bool
	NewID            func() string
}

func NewLedger(options LedgerOptions) *Ledger {
	newID := options.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Ledger{
		index:            make(map[string]int),
		issued:           make(map[models.Category]int),
		events:           make(map[string][]TicketEvent),
		strictCompletion: options.StrictCompletion,
		newID:            newID,
	}
}

func (l *Ledger) Issue(category models.Category, now time.Time) (models.Ticket, error) {
	if !category.Valid() {
		return models.Ticket{}, ErrInvalidCategory
	}
	seq := l.issued[category] + 1
	prefix := category.Prefix()
	ticket := models.Ticket{
		TicketID:       l.newID(),
		Category:       category,
		SequenceNumber: seq,
		Prefix:         prefix,
		Label:          models.FormatLabel(prefix, seq),
		Status:         models.StatusWaiting,
		IssuedAt:       now,
	}
	l.issued[category] = seq
	l.index[ticket.TicketID] = len(l.tickets)
	l.tickets = append(l.tickets, ticket)
	l.record(EventTicketIssued, ticket, now)
	return ticket, nil
}

func (l *Ledger) Get(ticketID string) (models.Ticket, bool) {
	i, ok := l.index[ticketID]
	if !ok {
		return models.Ticket{}, false
	}
	return l.tickets[i], true
}

// TransitionToServing moves a waiting ticket to serving. Any other source
// state leaves the ledger untouched and reports false.
func (l *Ledger) TransitionToServing(ticketID string, now time.Time) (models.Ticket, bool) {
	i, ok := l.index[ticketID]
	if !ok || !ValidTransition(ActionCallNext, l.tickets[i].Status) {
		return models.Ticket{}, false
	}
	at := now
	ticket := &l.tickets[i]
	ticket.Status = models.StatusServing
	ticket.ServingStartedAt = &at
	l.record(EventTicketServing, *ticket, now)
	return *ticket, true
}

// TransitionToCompleted accepts any existing ticket unless the ledger was
// built with StrictCompletion.
func (l *Ledger) TransitionToCompleted(ticketID string, now time.Time) (models.Ticket, bool) {
	i, ok := l.index[ticketID]
	if !ok {
		return models.Ticket{}, false
	}
	ticket := &l.tickets[i]
	if l.strictCompletion && !ValidTransition(ActionComplete, ticket.Status) {
		return models.Ticket{}, false
	}
	if ticket.CompletedAt != nil {
		// completedAt is set exactly once
		return *ticket, true
	}
	at := now
	ticket.Status = models.StatusCompleted
	ticket.CompletedAt = &at
	l.record(EventTicketCompleted, *ticket, now)
	return *ticket, true
}

func (l *Ledger) TransitionToCancelled(ticketID string, now time.Time) (models.Ticket, bool) {
	i, ok := l.index[ticketID]
	if !ok || !ValidTransition(ActionCancel, l.tickets[i].Status) {
		return models.Ticket{}, false
	}
	at := now
	ticket := &l.tickets[i]
	ticket.Status = models.StatusCancelled
	ticket.CancelledAt = &at
	l.record(EventTicketCancelled, *ticket, now)
	return *ticket, true
}

// Query returns a restartable view over a snapshot taken at call time, in
// issuance order.
func (l *Ledger) Query(match func(models.Ticket) bool) iter.Seq[models.Ticket] {
	snapshot := l.Snapshot()
	return func(yield func(models.Ticket) bool) {
		for _, ticket := range snapshot {
			if match != nil && !match(ticket) {
				continue
			}
			if !yield(ticket) {
				return
			}
		}
	}
}

func (l *Ledger) Snapshot() []models.Ticket {
	out := make([]models.Ticket, len(l.tickets))
	copy(out, l.tickets)
	return out
}

func (l *Ledger) Len() int {
	return len(l.tickets)
}

func (l *Ledger) Events(ticketID string) ([]TicketEvent, bool) {
	events, ok := l.events[ticketID]
	if !ok {
		return nil, false
	}
	return append([]TicketEvent(nil), events...), true
}

func (l *Ledger) record(eventType string, ticket models.Ticket, at time.Time) {
	event, err := newTicketEvent(l.events[ticket.TicketID], eventType, ticket, at)
	if err != nil {
		log.Printf("ticket event error ticket=%s type=%s: %v", ticket.TicketID, eventType, err)
		return
	}
	l.events[ticket.TicketID] = append(l.events[ticket.TicketID], event)
}

func WithStatus(status models.Status) func(models.Ticket) bool {
	return func(ticket models.Ticket) bool {
		return ticket.Status == status
	}
}
