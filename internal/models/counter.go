package models

import "sort"

type Counter struct {
	CounterID         int        `json:"counter_id"`
	AllowedCategories []Category `json:"allowed_categories"`
	CurrentTicket     *Ticket    `json:"current_ticket"`
}

// CounterConfig is the persisted shape of a counter. It never carries the
// ticket being served.
type CounterConfig struct {
	CounterID         int        `json:"counter_id" yaml:"counter_id"`
	AllowedCategories []Category `json:"allowed_categories" yaml:"allowed_categories"`
}

func (c Counter) Allows(category Category) bool {
	for _, allowed := range c.AllowedCategories {
		if allowed == category {
			return true
		}
	}
	return false
}

func (c Counter) Config() CounterConfig {
	return CounterConfig{
		CounterID:         c.CounterID,
		AllowedCategories: append([]Category(nil), c.AllowedCategories...),
	}
}

func (c Counter) Busy() bool {
	return c.CurrentTicket != nil
}

// SortCategories orders categories the way AllCategories lists them.
func SortCategories(categories []Category) {
	rank := func(c Category) int {
		for i, known := range AllCategories {
			if known == c {
				return i
			}
		}
		return len(AllCategories)
	}
	sort.SliceStable(categories, func(i, j int) bool {
		return rank(categories[i]) < rank(categories[j])
	})
}

func DefaultCounters() []CounterConfig {
	return []CounterConfig{
		{CounterID: 1, AllowedCategories: []Category{CategoryGeneral, CategoryPriority, CategoryBusiness}},
		{CounterID: 2, AllowedCategories: []Category{CategoryGeneral, CategoryPriority}},
		{CounterID: 3, AllowedCategories: []Category{CategoryGeneral}},
	}
}
