package store

import (
	"sort"

	"qms/queueflow-service/internal/models"
)

// Counters is the active counter set. Like Ledger it relies on the caller
// for serialization.
type Counters struct {
	counters []models.Counter
}

func NewCounters(configs []models.CounterConfig) *Counters {
	c := &Counters{}
	c.Restore(configs)
	return c
}

// Restore replaces the counter set. Restored counters are always idle.
func (c *Counters) Restore(configs []models.CounterConfig) {
	seen := make(map[int]bool, len(configs))
	counters := make([]models.Counter, 0, len(configs))
	for _, cfg := range configs {
		if cfg.CounterID <= 0 || seen[cfg.CounterID] {
			continue
		}
		seen[cfg.CounterID] = true
		counters = append(counters, models.Counter{
			CounterID:         cfg.CounterID,
			AllowedCategories: normalizeCategories(cfg.AllowedCategories),
		})
	}
	sort.SliceStable(counters, func(i, j int) bool {
		return counters[i].CounterID < counters[j].CounterID
	})
	c.counters = counters
}

func (c *Counters) Get(counterID int) (models.Counter, bool) {
	i := c.find(counterID)
	if i < 0 {
		return models.Counter{}, false
	}
	return copyCounter(c.counters[i]), true
}

func (c *Counters) Add() models.Counter {
	next := 1
	for _, counter := range c.counters {
		if counter.CounterID >= next {
			next = counter.CounterID + 1
		}
	}
	counter := models.Counter{
		CounterID:         next,
		AllowedCategories: append([]models.Category(nil), models.AllCategories...),
	}
	c.counters = append(c.counters, counter)
	return copyCounter(counter)
}

// Remove drops a counter and returns it as it was, including any ticket it
// was serving.
func (c *Counters) Remove(counterID int) (models.Counter, error) {
	i := c.find(counterID)
	if i < 0 {
		return models.Counter{}, ErrCounterNotFound
	}
	if len(c.counters) <= 1 {
		return models.Counter{}, ErrLastCounter
	}
	removed := c.counters[i]
	c.counters = append(c.counters[:i], c.counters[i+1:]...)
	return removed, nil
}

func (c *Counters) ToggleCategory(counterID int, category models.Category) (models.Counter, error) {
	if !category.Valid() {
		return models.Counter{}, ErrInvalidCategory
	}
	i := c.find(counterID)
	if i < 0 {
		return models.Counter{}, ErrCounterNotFound
	}
	counter := &c.counters[i]
	if counter.Allows(category) {
		kept := make([]models.Category, 0, len(counter.AllowedCategories))
		for _, allowed := range counter.AllowedCategories {
			if allowed != category {
				kept = append(kept, allowed)
			}
		}
		counter.AllowedCategories = kept
	} else {
		counter.AllowedCategories = append(counter.AllowedCategories, category)
		models.SortCategories(counter.AllowedCategories)
	}
	return copyCounter(*counter), nil
}

// SetCurrent points the counter at ticket, or clears it when ticket is nil.
func (c *Counters) SetCurrent(counterID int, ticket *models.Ticket) error {
	i := c.find(counterID)
	if i < 0 {
		return ErrCounterNotFound
	}
	if ticket == nil {
		c.counters[i].CurrentTicket = nil
		return nil
	}
	current := *ticket
	c.counters[i].CurrentTicket = &current
	return nil
}

func (c *Counters) Snapshot() []models.Counter {
	out := make([]models.Counter, 0, len(c.counters))
	for _, counter := range c.counters {
		out = append(out, copyCounter(counter))
	}
	return out
}

func (c *Counters) Configs() []models.CounterConfig {
	out := make([]models.CounterConfig, 0, len(c.counters))
	for _, counter := range c.counters {
		out = append(out, counter.Config())
	}
	return out
}

func (c *Counters) Len() int {
	return len(c.counters)
}

func (c *Counters) find(counterID int) int {
	for i, counter := range c.counters {
		if counter.CounterID == counterID {
			return i
		}
	}
	return -1
}

func copyCounter(counter models.Counter) models.Counter {
	out := models.Counter{
		CounterID:         counter.CounterID,
		AllowedCategories: append([]models.Category{}, counter.AllowedCategories...),
	}
	if counter.CurrentTicket != nil {
		current := *counter.CurrentTicket
		out.CurrentTicket = &current
	}
	return out
}

func normalizeCategories(categories []models.Category) []models.Category {
	out := make([]models.Category, 0, len(categories))
	seen := make(map[models.Category]bool, len(categories))
	for _, category := range categories {
		if !category.Valid() || seen[category] {
			continue
		}
		seen[category] = true
		out = append(out, category)
	}
	models.SortCategories(out)
	return out
}
