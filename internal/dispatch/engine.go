package dispatch

import (
	"context"
	"expvar"
	"log"
	"sync"
	"time"

	"qms/queueflow-service/internal/announce"
	"qms/queueflow-service/internal/models"
	"qms/queueflow-service/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ticketsIssued    = expvar.NewInt("tickets_issued_total")
	ticketsCalled    = expvar.NewInt("tickets_called_total")
	ticketsCompleted = expvar.NewInt("tickets_completed_total")
)

// Notifier receives committed calls. Submit must not block.
type Notifier interface {
	Submit(call announce.Call) bool
}

// ConfigSaver receives the counter configuration after every change.
// Submit must not block.
type ConfigSaver interface {
	Submit(configs []models.CounterConfig)
}

// ChangeListener is told that the ticket ledger changed. Trigger must not
// block.
type ChangeListener interface {
	Trigger()
}

// Engine is the single writer for the ledger and the counter set. Every
// command runs under one lock, so a counter's current ticket and the
// ledger entry it mirrors always change together.
type Engine struct {
	mu       sync.Mutex
	ledger   *store.Ledger
	counters *store.Counters
	notifier Notifier
	saver    ConfigSaver
	listener ChangeListener
	now      func() time.Time
	tracer   trace.Tracer
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithNotifier(notifier Notifier) Option {
	return func(e *Engine) {
		e.notifier = notifier
	}
}

func WithConfigSaver(saver ConfigSaver) Option {
	return func(e *Engine) {
		e.saver = saver
	}
}

func WithChangeListener(listener ChangeListener) Option {
	return func(e *Engine) {
		e.listener = listener
	}
}

func New(ledger *store.Ledger, counters *store.Counters, opts ...Option) *Engine {
	e := &Engine{
		ledger:   ledger,
		counters: counters,
		now:      func() time.Time { return time.Now().UTC() },
		tracer:   otel.Tracer("qms/queueflow-service/dispatch"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Issue(ctx context.Context, category models.Category) (models.Ticket, error) {
	_, span := e.tracer.Start(ctx, "dispatch.issue", trace.WithAttributes(attribute.String("ticket.category", string(category))))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	ticket, err := e.ledger.Issue(category, e.now())
	if err != nil {
		span.RecordError(err)
		return models.Ticket{}, err
	}
	ticketsIssued.Add(1)
	e.changed()
	return ticket, nil
}

// CallNext commits the best eligible ticket to the counter. It does not
// check whether the counter is already serving; use CallNextIdle where
// that must be enforced.
func (e *Engine) CallNext(ctx context.Context, counterID int) (models.Ticket, error) {
	return e.callNext(ctx, counterID, false)
}

// CallNextIdle is CallNext with the idle-counter precondition checked under
// the same lock.
func (e *Engine) CallNextIdle(ctx context.Context, counterID int) (models.Ticket, error) {
	return e.callNext(ctx, counterID, true)
}

func (e *Engine) callNext(ctx context.Context, counterID int, requireIdle bool) (models.Ticket, error) {
	_, span := e.tracer.Start(ctx, "dispatch.call_next", trace.WithAttributes(attribute.Int("counter.id", counterID)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	counter, ok := e.counters.Get(counterID)
	if !ok {
		return models.Ticket{}, store.ErrCounterNotFound
	}
	if requireIdle && counter.Busy() {
		return models.Ticket{}, store.ErrCounterBusy
	}

	now := e.now()
	next, ok := SelectNext(counter, e.ledger.Query(store.WithStatus(models.StatusWaiting)), now)
	if !ok {
		return models.Ticket{}, store.ErrNoEligibleTicket
	}
	serving, ok := e.ledger.TransitionToServing(next.TicketID, now)
	if !ok {
		log.Printf("call next: selected ticket %s is no longer waiting", next.TicketID)
		return models.Ticket{}, store.ErrInvalidTransition
	}
	if err := e.counters.SetCurrent(counterID, &serving); err != nil {
		return models.Ticket{}, err
	}
	ticketsCalled.Add(1)
	span.SetAttributes(attribute.String("ticket.label", serving.Label))

	e.notify(announce.NewCall(serving, counterID, now, false))
	e.changed()
	return serving, nil
}

// Recall repeats the announcement for the counter's current ticket.
func (e *Engine) Recall(ctx context.Context, counterID int) (models.Ticket, error) {
	_, span := e.tracer.Start(ctx, "dispatch.recall", trace.WithAttributes(attribute.Int("counter.id", counterID)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	counter, ok := e.counters.Get(counterID)
	if !ok {
		return models.Ticket{}, store.ErrCounterNotFound
	}
	if counter.CurrentTicket == nil {
		return models.Ticket{}, store.ErrCounterIdle
	}
	current := *counter.CurrentTicket
	e.notify(announce.NewCall(current, counterID, e.now(), true))
	return current, nil
}

func (e *Engine) Complete(ctx context.Context, counterID int) (models.Ticket, error) {
	_, span := e.tracer.Start(ctx, "dispatch.complete", trace.WithAttributes(attribute.Int("counter.id", counterID)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	counter, ok := e.counters.Get(counterID)
	if !ok {
		return models.Ticket{}, store.ErrCounterNotFound
	}
	if counter.CurrentTicket == nil {
		return models.Ticket{}, store.ErrCounterIdle
	}
	completed, ok := e.ledger.TransitionToCompleted(counter.CurrentTicket.TicketID, e.now())
	if !ok {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	if err := e.counters.SetCurrent(counterID, nil); err != nil {
		return models.Ticket{}, err
	}
	ticketsCompleted.Add(1)
	e.changed()
	return completed, nil
}

// Cancel withdraws a waiting ticket, e.g. when the customer leaves.
func (e *Engine) Cancel(ctx context.Context, ticketID string) (models.Ticket, error) {
	_, span := e.tracer.Start(ctx, "dispatch.cancel")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.ledger.Get(ticketID); !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	cancelled, ok := e.ledger.TransitionToCancelled(ticketID, e.now())
	if !ok {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	e.changed()
	return cancelled, nil
}

func (e *Engine) AddCounter(ctx context.Context) models.Counter {
	e.mu.Lock()
	defer e.mu.Unlock()
	counter := e.counters.Add()
	e.save()
	return counter
}

// RemoveCounter drops a counter. A ticket it was serving stays SERVING in
// the ledger with no counter left to complete it.
func (e *Engine) RemoveCounter(ctx context.Context, counterID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed, err := e.counters.Remove(counterID)
	if err != nil {
		return err
	}
	if removed.CurrentTicket != nil {
		log.Printf("counter removed while serving counter=%d ticket=%s label=%s", counterID, removed.CurrentTicket.TicketID, removed.CurrentTicket.Label)
	}
	e.save()
	return nil
}

func (e *Engine) ToggleCategory(ctx context.Context, counterID int, category models.Category) (models.Counter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	counter, err := e.counters.ToggleCategory(counterID, category)
	if err != nil {
		return models.Counter{}, err
	}
	e.save()
	return counter, nil
}

// RestoreCounters replaces the counter set with persisted configuration.
// Serving state is never restored.
func (e *Engine) RestoreCounters(configs []models.CounterConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters.Restore(configs)
}

type Snapshot struct {
	Tickets  []models.Ticket  `json:"tickets"`
	Counters []models.Counter `json:"counters"`
	At       time.Time        `json:"at"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Tickets:  e.ledger.Snapshot(),
		Counters: e.counters.Snapshot(),
		At:       e.now(),
	}
}

func (e *Engine) Tickets() []models.Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Snapshot()
}

func (e *Engine) Ticket(ticketID string) (models.Ticket, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Get(ticketID)
}

func (e *Engine) TicketEvents(ticketID string) ([]store.TicketEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Events(ticketID)
}

func (e *Engine) Counters() []models.Counter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters.Snapshot()
}

func (e *Engine) Counter(counterID int) (models.Counter, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters.Get(counterID)
}

func (e *Engine) Now() time.Time {
	return e.now()
}

func (e *Engine) notify(call announce.Call) {
	if e.notifier == nil {
		return
	}
	e.notifier.Submit(call)
}

func (e *Engine) changed() {
	if e.listener == nil {
		return
	}
	e.listener.Trigger()
}

func (e *Engine) save() {
	if e.saver == nil {
		return
	}
	e.saver.Submit(e.counters.Configs())
}
