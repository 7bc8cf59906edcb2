package announce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qms/queueflow-service/internal/models"
)

const (
	EventTicketCalled   = "ticket.called"
	EventTicketRecalled = "ticket.recalled"
	EventPriorityAlert  = "priority.alert"
)

// Announcer is the best-effort announcement collaborator. Errors are
// reported to the caller but never affect queue state.
type Announcer interface {
	Announce(ctx context.Context, call Call) error
	AlertPriority(ctx context.Context, call Call) error
}

type Call struct {
	TicketID       string          `json:"ticket_id"`
	Prefix         string          `json:"prefix"`
	SequenceNumber int             `json:"sequence_number"`
	Category       models.Category `json:"category"`
	CounterID      int             `json:"counter_id"`
	Label          string          `json:"label"`
	Text           string          `json:"text"`
	Recall         bool            `json:"recall"`
	CalledAt       time.Time       `json:"called_at"`
}

func NewCall(ticket models.Ticket, counterID int, at time.Time, recall bool) Call {
	return Call{
		TicketID:       ticket.TicketID,
		Prefix:         ticket.Prefix,
		SequenceNumber: ticket.SequenceNumber,
		Category:       ticket.Category,
		CounterID:      counterID,
		Label:          models.FormatLabel(ticket.Prefix, ticket.SequenceNumber),
		Text:           SpokenText(ticket.Prefix, ticket.SequenceNumber, ticket.Category, counterID),
		Recall:         recall,
		CalledAt:       at,
	}
}

func (c Call) Priority() bool {
	return c.Category == models.CategoryPriority
}

func (c Call) EventType() string {
	if c.Recall {
		return EventTicketRecalled
	}
	return EventTicketCalled
}

// SpokenText is the phrase read out on the floor.
func SpokenText(prefix string, seq int, category models.Category, counterID int) string {
	return fmt.Sprintf("Ticket %s, %s, %s. Please proceed to counter %d.", prefix, models.PadSequence(seq), categoryName(category), counterID)
}

func categoryName(category models.Category) string {
	switch category {
	case models.CategoryPriority:
		return "PRIORITY"
	case models.CategoryBusiness:
		return "BUSINESS"
	default:
		return "GENERAL"
	}
}

type envelope struct {
	Type string `json:"type"`
	Call Call   `json:"call"`
}

func encodeEvent(eventType string, call Call) ([]byte, error) {
	return json.Marshal(envelope{Type: eventType, Call: call})
}

// Multi fans a call out to every announcer, continuing past failures.
type Multi []Announcer

func (m Multi) Announce(ctx context.Context, call Call) error {
	var errs []error
	for _, announcer := range m {
		if err := announcer.Announce(ctx, call); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) AlertPriority(ctx context.Context, call Call) error {
	var errs []error
	for _, announcer := range m {
		if err := announcer.AlertPriority(ctx, call); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
