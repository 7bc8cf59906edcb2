package insights

import (
	"context"
	"errors"
	"expvar"
	"log"
	"sync"
	"time"

	"qms/queueflow-service/internal/models"
)

var refreshErrors = expvar.NewInt("insights_refresh_errors_total")

var errNoTickets = errors.New("no tickets issued yet")

// Refresher periodically recomputes the insight from a ticket snapshot and
// caches the result. A failed or skipped refresh keeps the previous insight.
type Refresher struct {
	estimator Estimator
	source    func() []models.Ticket
	timeout   time.Duration
	changed   chan struct{}

	mu     sync.RWMutex
	latest Insight
	ok     bool
}

func NewRefresher(estimator Estimator, source func() []models.Ticket, timeout time.Duration) *Refresher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Refresher{
		estimator: estimator,
		source:    source,
		timeout:   timeout,
		changed:   make(chan struct{}, 1),
	}
}

// Trigger asks a running Start loop to refresh without waiting for the next
// tick. It never blocks; triggers that arrive while one is pending collapse.
func (r *Refresher) Trigger() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// Refresh runs one estimation. It returns an error without touching the
// cached insight when the estimator fails or the ledger is empty.
func (r *Refresher) Refresh(ctx context.Context) error {
	tickets := r.source()
	if len(tickets) == 0 {
		return errNoTickets
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	insight, err := r.estimator.Estimate(ctx, tickets)
	if err != nil {
		refreshErrors.Add(1)
		return err
	}
	r.mu.Lock()
	r.latest = insight
	r.ok = true
	r.mu.Unlock()
	return nil
}

func (r *Refresher) Latest() (Insight, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, r.ok
}

// Start refreshes once immediately, then on every tick or Trigger until ctx
// is done.
func Start(ctx context.Context, interval time.Duration, r *Refresher) {
	refresh := func() {
		if err := r.Refresh(ctx); err != nil && !errors.Is(err, errNoTickets) {
			log.Printf("insights refresh error: %v", err)
		}
	}
	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		case <-r.changed:
			refresh()
		}
	}
}
