package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/queueflow-service/internal/models"
)

const (
	EventTicketIssued    = "ticket.issued"
	EventTicketServing   = "ticket.serving"
	EventTicketCompleted = "ticket.completed"
	EventTicketCancelled = "ticket.cancelled"
)

type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	TicketID         string          `json:"ticket_id"`
	Category         models.Category `json:"category"`
	SequenceNumber   int             `json:"sequence_number"`
	Status           models.Status   `json:"status"`
	IssuedAt         *time.Time      `json:"issued_at"`
	ServingStartedAt *time.Time      `json:"serving_started_at"`
	CompletedAt      *time.Time      `json:"completed_at"`
	CancelledAt      *time.Time      `json:"cancelled_at"`
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

func newTicketEvent(prev []TicketEvent, eventType string, ticket models.Ticket, at time.Time) (TicketEvent, error) {
	issuedAt := ticket.IssuedAt
	payload, err := json.Marshal(eventPayload{
		TicketID:         ticket.TicketID,
		Category:         ticket.Category,
		SequenceNumber:   ticket.SequenceNumber,
		Status:           ticket.Status,
		IssuedAt:         &issuedAt,
		ServingStartedAt: ticket.ServingStartedAt,
		CompletedAt:      ticket.CompletedAt,
		CancelledAt:      ticket.CancelledAt,
	})
	if err != nil {
		return TicketEvent{}, err
	}
	prevHash := ""
	if len(prev) > 0 {
		prevHash = prev[len(prev)-1].Hash
	}
	seq := len(prev) + 1
	return TicketEvent{
		TicketID:  ticket.TicketID,
		TicketSeq: seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: at,
		PrevHash:  prevHash,
		Hash:      ComputeTicketEventHash(prevHash, ticket.TicketID, eventType, payload, at, seq),
	}, nil
}

// VerifyTicketEvents reports whether the chain links and hashes are intact.
func VerifyTicketEvents(events []TicketEvent) bool {
	prevHash := ""
	for i, event := range events {
		if event.TicketSeq != i+1 || event.PrevHash != prevHash {
			return false
		}
		if ComputeTicketEventHash(prevHash, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq) != event.Hash {
			return false
		}
		prevHash = event.Hash
	}
	return true
}

func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Ticket{}, err
		}
		if payload.TicketID != "" {
			ticket.TicketID = payload.TicketID
		}
		if payload.Category != "" {
			ticket.Category = payload.Category
			ticket.Prefix = payload.Category.Prefix()
		}
		if payload.SequenceNumber > 0 {
			ticket.SequenceNumber = payload.SequenceNumber
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		if payload.IssuedAt != nil {
			ticket.IssuedAt = *payload.IssuedAt
		}
		if payload.ServingStartedAt != nil {
			ticket.ServingStartedAt = payload.ServingStartedAt
		}
		if payload.CompletedAt != nil {
			ticket.CompletedAt = payload.CompletedAt
		}
		if payload.CancelledAt != nil {
			ticket.CancelledAt = payload.CancelledAt
		}
	}
	if ticket.Prefix != "" {
		ticket.Label = models.FormatLabel(ticket.Prefix, ticket.SequenceNumber)
	}
	return ticket, nil
}
