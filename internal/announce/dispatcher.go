package announce

import (
	"context"
	"expvar"
	"log"
	"time"
)

var (
	announcementsDropped = expvar.NewInt("announcements_dropped_total")
	announcementsFailed  = expvar.NewInt("announcements_failed_total")
)

// Dispatcher delivers calls on its own goroutine, in submission order, so
// that slow or failing announcers never hold up the queue.
type Dispatcher struct {
	announcer Announcer
	queue     chan Call
	timeout   time.Duration
}

func NewDispatcher(announcer Announcer, size int, timeout time.Duration) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		announcer: announcer,
		queue:     make(chan Call, size),
		timeout:   timeout,
	}
}

// Submit never blocks. It reports false when the call was dropped.
func (d *Dispatcher) Submit(call Call) bool {
	select {
	case d.queue <- call:
		return true
	default:
		announcementsDropped.Add(1)
		log.Printf("announce queue full, drop label=%s counter=%d", call.Label, call.CounterID)
		return false
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case call := <-d.queue:
			d.deliver(ctx, call)
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, call Call) {
	defer func() {
		if r := recover(); r != nil {
			announcementsFailed.Add(1)
			log.Printf("announce panic label=%s counter=%d: %v", call.Label, call.CounterID, r)
		}
	}()

	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	if call.Priority() {
		if err := d.announcer.AlertPriority(ctx, call); err != nil {
			announcementsFailed.Add(1)
			log.Printf("priority alert error label=%s counter=%d: %v", call.Label, call.CounterID, err)
		}
	}
	if err := d.announcer.Announce(ctx, call); err != nil {
		announcementsFailed.Add(1)
		log.Printf("announce error label=%s counter=%d: %v", call.Label, call.CounterID, err)
	}
}
