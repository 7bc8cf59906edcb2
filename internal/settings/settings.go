package settings

import (
	"context"
	"log"

	"qms/queueflow-service/internal/models"
)

// Persister keeps counter configuration across restarts. Load reports false
// when nothing has been saved yet.
type Persister interface {
	Load(ctx context.Context) ([]models.CounterConfig, bool, error)
	Save(ctx context.Context, configs []models.CounterConfig) error
}

// LoadCounters returns the persisted counters, or the default counter set
// when nothing usable is stored. Load failures are logged, not returned.
func LoadCounters(ctx context.Context, p Persister) []models.CounterConfig {
	if p == nil {
		return models.DefaultCounters()
	}
	configs, found, err := p.Load(ctx)
	if err != nil {
		log.Printf("settings load error: %v", err)
		return models.DefaultCounters()
	}
	usable := usableCounters(configs)
	if !found || len(usable) == 0 {
		if found {
			log.Printf("settings load: no counter with a positive unique id in %d stored entries, using defaults", len(configs))
		}
		return models.DefaultCounters()
	}
	return usable
}

// usableCounters keeps the entries the counter set would accept: a positive
// id seen for the first time.
func usableCounters(configs []models.CounterConfig) []models.CounterConfig {
	seen := make(map[int]bool, len(configs))
	out := make([]models.CounterConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg.CounterID <= 0 || seen[cfg.CounterID] {
			continue
		}
		seen[cfg.CounterID] = true
		out = append(out, cfg)
	}
	return out
}
