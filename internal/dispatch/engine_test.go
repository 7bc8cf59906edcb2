package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qms/queueflow-service/internal/announce"
	"qms/queueflow-service/internal/models"
	"qms/queueflow-service/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeNotifier struct {
	calls []announce.Call
}

func (n *fakeNotifier) Submit(call announce.Call) bool {
	n.calls = append(n.calls, call)
	return true
}

type fakeSaver struct {
	saved [][]models.CounterConfig
}

func (s *fakeSaver) Submit(configs []models.CounterConfig) {
	s.saved = append(s.saved, configs)
}

func (s *fakeSaver) last() []models.CounterConfig {
	if len(s.saved) == 0 {
		return nil
	}
	return s.saved[len(s.saved)-1]
}

type countingListener struct {
	triggers int
}

func (l *countingListener) Trigger() {
	l.triggers++
}

type harness struct {
	engine   *Engine
	clock    *fakeClock
	notifier *fakeNotifier
	saver    *fakeSaver
	listener *countingListener
}

func newHarness(t *testing.T, configs []models.CounterConfig) harness {
	t.Helper()
	clock := &fakeClock{now: t0}
	notifier := &fakeNotifier{}
	saver := &fakeSaver{}
	listener := &countingListener{}
	engine := New(store.NewLedger(store.LedgerOptions{}), store.NewCounters(configs),
		WithClock(clock.Now),
		WithNotifier(notifier),
		WithConfigSaver(saver),
		WithChangeListener(listener),
	)
	return harness{engine: engine, clock: clock, notifier: notifier, saver: saver, listener: listener}
}

func allOpen(id int) models.CounterConfig {
	return models.CounterConfig{CounterID: id, AllowedCategories: models.AllCategories}
}

func mustIssue(t *testing.T, e *Engine, category models.Category) models.Ticket {
	t.Helper()
	ticket, err := e.Issue(context.Background(), category)
	if err != nil {
		t.Fatalf("issue %s: %v", category, err)
	}
	return ticket
}

func assertExclusive(t *testing.T, e *Engine) {
	t.Helper()
	seen := map[string]int{}
	for _, counter := range e.Counters() {
		if counter.CurrentTicket == nil {
			continue
		}
		id := counter.CurrentTicket.TicketID
		if other, ok := seen[id]; ok {
			t.Fatalf("ticket %s referenced by counters %d and %d", id, other, counter.CounterID)
		}
		seen[id] = counter.CounterID
		stored, ok := e.Ticket(id)
		if !ok || stored.Status != models.StatusServing {
			t.Fatalf("counter %d references ticket %s with status %s", counter.CounterID, id, stored.Status)
		}
	}
}

func TestCallNextPriorityScenario(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{allOpen(1)})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		mustIssue(t, h.engine, models.CategoryGeneral)
	}
	priority := mustIssue(t, h.engine, models.CategoryPriority)

	h.clock.Set(t0.Add(10 * time.Second))
	called, err := h.engine.CallNext(ctx, 1)
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if called.TicketID != priority.TicketID || called.Status != models.StatusServing {
		t.Fatalf("expected priority ticket serving, got %+v", called)
	}
	if !called.ServingStartedAt.Equal(t0.Add(10 * time.Second)) {
		t.Fatalf("unexpected servingStartedAt %v", called.ServingStartedAt)
	}

	counter, _ := h.engine.Counter(1)
	if counter.CurrentTicket == nil || counter.CurrentTicket.TicketID != priority.TicketID || counter.CurrentTicket.Status != models.StatusServing {
		t.Fatalf("counter slot not set: %+v", counter.CurrentTicket)
	}
	if len(h.notifier.calls) != 1 {
		t.Fatalf("expected one call notification, got %d", len(h.notifier.calls))
	}
	call := h.notifier.calls[0]
	if call.Label != "P001" || call.CounterID != 1 || !call.Priority() || call.Recall {
		t.Fatalf("unexpected call: %+v", call)
	}
	assertExclusive(t, h.engine)
}

func TestCallNextNoEligibleTicket(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{{CounterID: 1, AllowedCategories: []models.Category{models.CategoryGeneral}}})
	priority := mustIssue(t, h.engine, models.CategoryPriority)

	h.clock.Set(t0.Add(time.Minute))
	if _, err := h.engine.CallNext(context.Background(), 1); !errors.Is(err, store.ErrNoEligibleTicket) {
		t.Fatalf("expected ErrNoEligibleTicket, got %v", err)
	}
	counter, _ := h.engine.Counter(1)
	if counter.CurrentTicket != nil {
		t.Fatalf("counter should stay idle")
	}
	stored, _ := h.engine.Ticket(priority.TicketID)
	if stored.Status != models.StatusWaiting {
		t.Fatalf("ticket should stay waiting, got %s", stored.Status)
	}
	if len(h.notifier.calls) != 0 {
		t.Fatalf("no notification expected")
	}
}

func TestCallNextBusinessBeatsGeneral(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{allOpen(1)})
	mustIssue(t, h.engine, models.CategoryGeneral)
	business := mustIssue(t, h.engine, models.CategoryBusiness)

	h.clock.Set(t0.Add(20 * time.Second))
	called, err := h.engine.CallNext(context.Background(), 1)
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if called.TicketID != business.TicketID {
		t.Fatalf("expected business ticket, got %s", called.Label)
	}
	if h.notifier.calls[0].Priority() {
		t.Fatalf("business call must not be a priority alert")
	}
}

func TestCallNextUnknownCounter(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{allOpen(1)})
	mustIssue(t, h.engine, models.CategoryGeneral)
	if _, err := h.engine.CallNext(context.Background(), 9); !errors.Is(err, store.ErrCounterNotFound) {
		t.Fatalf("expected ErrCounterNotFound, got %v", err)
	}
	if len(h.notifier.calls) != 0 {
		t.Fatalf("no notification expected")
	}
}

func TestCallNextIdleRejectsBusyCounter(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{allOpen(1)})
	mustIssue(t, h.engine, models.CategoryGeneral)
	second := mustIssue(t, h.engine, models.CategoryGeneral)
	ctx := context.Background()

	if _, err := h.engine.CallNextIdle(ctx, 1); err != nil {
		t.Fatalf("call next: %v", err)
	}
	if _, err := h.engine.CallNextIdle(ctx, 1); !errors.Is(err, store.ErrCounterBusy) {
		t.Fatalf("expected ErrCounterBusy, got %v", err)
	}
	stored, _ := h.engine.Ticket(second.TicketID)
	if stored.Status != models.StatusWaiting {
		t.Fatalf("second ticket should still be waiting")
	}
}

func TestCountersNeverShareTicket(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{allOpen(1), allOpen(2), {CounterID: 3, AllowedCategories: []models.Category{models.CategoryGeneral}}})
	ctx := context.Background()
	categories := []models.Category{models.CategoryGeneral, models.CategoryPriority, models.CategoryBusiness}

	for step := 0; step < 30; step++ {
		h.clock.Set(t0.Add(time.Duration(step) * 7 * time.Second))
		mustIssue(t, h.engine, categories[step%3])
		counterID := step%3 + 1
		if step%4 == 3 {
			_, _ = h.engine.Complete(ctx, counterID)
		} else {
			_, _ = h.engine.CallNextIdle(ctx, counterID)
		}
		assertExclusive(t, h.engine)
	}
}

func TestRecall(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{allOpen(1)})
	ctx := context.Background()
	if _, err := h.engine.Recall(ctx, 1); !errors.Is(err, store.ErrCounterIdle) {
		t.Fatalf("expected ErrCounterIdle, got %v", err)
	}
	if _, err := h.engine.Recall(ctx, 4); !errors.Is(err, store.ErrCounterNotFound) {
		t.Fatalf("expected ErrCounterNotFound, got %v", err)
	}

	mustIssue(t, h.engine, models.CategoryPriority)
	called, _ := h.engine.CallNext(ctx, 1)
	before := h.engine.Tickets()

	h.clock.Set(t0.Add(time.Minute))
	recalled, err := h.engine.Recall(ctx, 1)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if recalled.TicketID != called.TicketID {
		t.Fatalf("recalled a different ticket")
	}
	if len(h.notifier.calls) != 2 || !h.notifier.calls[1].Recall || !h.notifier.calls[1].Priority() {
		t.Fatalf("expected priority recall notification, got %+v", h.notifier.calls)
	}
	after := h.engine.Tickets()
	if after[0].Status != before[0].Status || !after[0].ServingStartedAt.Equal(*before[0].ServingStartedAt) {
		t.Fatalf("recall must not change state")
	}
}

func TestComplete(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{allOpen(1)})
	ctx := context.Background()
	mustIssue(t, h.engine, models.CategoryGeneral)
	called, _ := h.engine.CallNext(ctx, 1)

	h.clock.Set(t0.Add(90 * time.Second))
	completed, err := h.engine.Complete(ctx, 1)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.TicketID != called.TicketID || completed.Status != models.StatusCompleted {
		t.Fatalf("unexpected completed ticket: %+v", completed)
	}
	if !completed.CompletedAt.Equal(t0.Add(90 * time.Second)) {
		t.Fatalf("unexpected completedAt %v", completed.CompletedAt)
	}
	counter, _ := h.engine.Counter(1)
	if counter.CurrentTicket != nil {
		t.Fatalf("counter slot should be cleared")
	}
}

func TestCompleteIdleCounterIsNoop(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{allOpen(1), allOpen(2)})
	ctx := context.Background()
	mustIssue(t, h.engine, models.CategoryGeneral)
	mustIssue(t, h.engine, models.CategoryBusiness)
	h.engine.CallNext(ctx, 2)

	before := h.engine.Snapshot()
	if _, err := h.engine.Complete(ctx, 1); !errors.Is(err, store.ErrCounterIdle) {
		t.Fatalf("expected ErrCounterIdle, got %v", err)
	}
	after := h.engine.Snapshot()

	if len(before.Tickets) != len(after.Tickets) {
		t.Fatalf("ticket count changed")
	}
	for i := range before.Tickets {
		if before.Tickets[i].Status != after.Tickets[i].Status || (before.Tickets[i].CompletedAt == nil) != (after.Tickets[i].CompletedAt == nil) {
			t.Fatalf("ticket %d changed", i)
		}
	}
	for i := range before.Counters {
		b, a := before.Counters[i], after.Counters[i]
		if (b.CurrentTicket == nil) != (a.CurrentTicket == nil) {
			t.Fatalf("counter %d slot changed", b.CounterID)
		}
	}
	if len(h.saver.saved) != 0 {
		t.Fatalf("completion must not touch configuration")
	}
}

func TestReloadDropsServingState(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{allOpen(1), allOpen(2)})
	ctx := context.Background()
	mustIssue(t, h.engine, models.CategoryGeneral)
	mustIssue(t, h.engine, models.CategoryGeneral)
	h.engine.CallNext(ctx, 1)
	h.engine.CallNext(ctx, 2)
	h.engine.Complete(ctx, 1)
	h.engine.ToggleCategory(ctx, 2, models.CategoryBusiness)

	persisted := h.saver.last()
	if len(persisted) != 2 {
		t.Fatalf("expected persisted configuration, got %+v", persisted)
	}

	h.engine.RestoreCounters(persisted)
	for _, counter := range h.engine.Counters() {
		if counter.CurrentTicket != nil {
			t.Fatalf("counter %d kept serving state across reload", counter.CounterID)
		}
	}
	counter, _ := h.engine.Counter(2)
	if counter.Allows(models.CategoryBusiness) {
		t.Fatalf("toggled category should survive reload")
	}
}

func TestRemoveCounterOrphansServingTicket(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{allOpen(1), allOpen(2)})
	ctx := context.Background()
	ticket := mustIssue(t, h.engine, models.CategoryGeneral)
	h.engine.CallNext(ctx, 2)

	if err := h.engine.RemoveCounter(ctx, 2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := h.engine.Counter(2); ok {
		t.Fatalf("counter 2 should be gone")
	}
	stored, _ := h.engine.Ticket(ticket.TicketID)
	if stored.Status != models.StatusServing || stored.CompletedAt != nil {
		t.Fatalf("orphaned ticket should remain serving, got %+v", stored)
	}
	if _, err := h.engine.Complete(ctx, 2); !errors.Is(err, store.ErrCounterNotFound) {
		t.Fatalf("expected ErrCounterNotFound, got %v", err)
	}
	assertExclusive(t, h.engine)
}

func TestCounterConfiguration(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{allOpen(1)})
	ctx := context.Background()

	added := h.engine.AddCounter(ctx)
	if added.CounterID != 2 || len(added.AllowedCategories) != 3 {
		t.Fatalf("unexpected counter: %+v", added)
	}
	if len(h.saver.last()) != 2 {
		t.Fatalf("expected save after add")
	}

	toggled, err := h.engine.ToggleCategory(ctx, 2, models.CategoryPriority)
	if err != nil || toggled.Allows(models.CategoryPriority) {
		t.Fatalf("expected priority removed, got %+v (%v)", toggled, err)
	}

	if err := h.engine.RemoveCounter(ctx, 1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := h.engine.RemoveCounter(ctx, 2); !errors.Is(err, store.ErrLastCounter) {
		t.Fatalf("expected ErrLastCounter, got %v", err)
	}
	if len(h.engine.Counters()) != 1 {
		t.Fatalf("expected one counter left")
	}
	if len(h.saver.saved) != 3 {
		t.Fatalf("expected 3 saves, got %d", len(h.saver.saved))
	}
}

func TestCancelWaitingTicket(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{allOpen(1)})
	ctx := context.Background()
	ticket := mustIssue(t, h.engine, models.CategoryPriority)

	cancelled, err := h.engine.Cancel(ctx, ticket.TicketID)
	if err != nil || cancelled.Status != models.StatusCancelled {
		t.Fatalf("expected cancellation, got %+v (%v)", cancelled, err)
	}
	if _, err := h.engine.CallNext(ctx, 1); !errors.Is(err, store.ErrNoEligibleTicket) {
		t.Fatalf("cancelled ticket must not be called, got %v", err)
	}
	if _, err := h.engine.Cancel(ctx, ticket.TicketID); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := h.engine.Cancel(ctx, "missing"); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}

	next := mustIssue(t, h.engine, models.CategoryPriority)
	if next.SequenceNumber != 2 {
		t.Fatalf("cancelled tickets still count for numbering, got %d", next.SequenceNumber)
	}
}

func TestLedgerChangesTriggerListener(t *testing.T) {
	h := newHarness(t, []models.CounterConfig{allOpen(1)})
	ctx := context.Background()

	mustIssue(t, h.engine, models.CategoryGeneral)
	leaving := mustIssue(t, h.engine, models.CategoryGeneral)
	if h.listener.triggers != 2 {
		t.Fatalf("expected a trigger per issue, got %d", h.listener.triggers)
	}
	if _, err := h.engine.CallNext(ctx, 1); err != nil {
		t.Fatalf("call next: %v", err)
	}
	if _, err := h.engine.Recall(ctx, 1); err != nil {
		t.Fatalf("recall: %v", err)
	}
	if _, err := h.engine.Complete(ctx, 1); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := h.engine.Cancel(ctx, leaving.TicketID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if h.listener.triggers != 5 {
		t.Fatalf("expected issue, call, complete and cancel to trigger, got %d", h.listener.triggers)
	}

	if _, err := h.engine.CallNext(ctx, 1); !errors.Is(err, store.ErrNoEligibleTicket) {
		t.Fatalf("expected no eligible ticket, got %v", err)
	}
	h.engine.AddCounter(ctx)
	if h.listener.triggers != 5 {
		t.Fatalf("failed calls and counter edits must not trigger, got %d", h.listener.triggers)
	}
}
