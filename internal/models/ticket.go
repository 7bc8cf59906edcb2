package models

import (
	"fmt"
	"strings"
	"time"
)

type Category string

const (
	CategoryGeneral  Category = "general"
	CategoryPriority Category = "priority"
	CategoryBusiness Category = "business"
)

// AllCategories is in display order; new counters start with every entry.
var AllCategories = []Category{CategoryGeneral, CategoryPriority, CategoryBusiness}

func ParseCategory(raw string) (Category, bool) {
	category := Category(strings.ToLower(strings.TrimSpace(raw)))
	if !category.Valid() {
		return "", false
	}
	return category, true
}

func (c Category) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryPriority, CategoryBusiness:
		return true
	default:
		return false
	}
}

func (c Category) Prefix() string {
	switch c {
	case CategoryPriority:
		return "P"
	case CategoryBusiness:
		return "B"
	default:
		return "G"
	}
}

// Weight scales elapsed wait into a dispatch score.
func (c Category) Weight() float64 {
	switch c {
	case CategoryPriority:
		return 2.5
	case CategoryBusiness:
		return 1.5
	default:
		return 1.0
	}
}

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusServing   Status = "serving"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

const labelPad = 3

type Ticket struct {
	TicketID         string     `json:"ticket_id"`
	Category         Category   `json:"category"`
	SequenceNumber   int        `json:"sequence_number"`
	Prefix           string     `json:"prefix"`
	Label            string     `json:"label"`
	Status           Status     `json:"status"`
	IssuedAt         time.Time  `json:"issued_at"`
	ServingStartedAt *time.Time `json:"serving_started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
}

// FormatLabel renders the display label, e.g. P007.
func FormatLabel(prefix string, seq int) string {
	return fmt.Sprintf("%s%s", prefix, PadSequence(seq))
}

func PadSequence(seq int) string {
	return fmt.Sprintf("%0*d", labelPad, seq)
}
