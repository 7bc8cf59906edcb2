package settings

import (
	"context"
	"expvar"
	"log"
	"time"

	"qms/queueflow-service/internal/models"
)

var saveErrors = expvar.NewInt("settings_save_errors_total")

// Writer saves counter configuration off the request path. Only the most
// recent submission is kept; older pending ones are replaced.
type Writer struct {
	persister Persister
	pending   chan []models.CounterConfig
	timeout   time.Duration
}

func NewWriter(persister Persister, timeout time.Duration) *Writer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Writer{
		persister: persister,
		pending:   make(chan []models.CounterConfig, 1),
		timeout:   timeout,
	}
}

func (w *Writer) Submit(configs []models.CounterConfig) {
	for {
		select {
		case w.pending <- configs:
			return
		default:
		}
		select {
		case <-w.pending:
		default:
		}
	}
}

// Run saves submissions until ctx is done, then flushes whatever is still
// pending.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			select {
			case configs := <-w.pending:
				w.save(context.Background(), configs)
			default:
			}
			return
		case configs := <-w.pending:
			w.save(ctx, configs)
		}
	}
}

func (w *Writer) save(parent context.Context, configs []models.CounterConfig) {
	ctx, cancel := context.WithTimeout(parent, w.timeout)
	defer cancel()
	if err := w.persister.Save(ctx, configs); err != nil {
		saveErrors.Add(1)
		log.Printf("settings save error: %v", err)
	}
}
