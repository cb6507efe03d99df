package alert

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imobcloud/billing/pkg/logger"
)

const defaultQueueSize = 64

// AsyncReporter hands incidents to a wrapped reporter from one background
// goroutine. Report never blocks: when the queue is full, or after Close,
// the incident is dropped and logged.
type AsyncReporter struct {
	next      Reporter
	log       *slog.Logger
	queueSize int

	mu     sync.RWMutex
	closed bool
	queue  chan queuedIncident
	done   chan struct{}

	dropped atomic.Int64
}

type queuedIncident struct {
	ctx context.Context
	inc Incident
}

// AsyncOption configures an AsyncReporter.
type AsyncOption func(*AsyncReporter)

// WithQueueSize bounds the number of incidents waiting for delivery.
func WithQueueSize(n int) AsyncOption {
	return func(r *AsyncReporter) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithAsyncLogger sets where dropped incidents are logged.
func WithAsyncLogger(l *slog.Logger) AsyncOption {
	return func(r *AsyncReporter) {
		if l != nil {
			r.log = l
		}
	}
}

// NewAsyncReporter starts the delivery goroutine. Call Close to stop it.
func NewAsyncReporter(next Reporter, opts ...AsyncOption) *AsyncReporter {
	if next == nil {
		next = Nop
	}
	r := &AsyncReporter{
		next:      next,
		log:       logger.Nop(),
		queueSize: defaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.queue = make(chan queuedIncident, r.queueSize)
	go r.run()
	return r
}

func (r *AsyncReporter) Report(ctx context.Context, inc Incident) {
	if inc.At.IsZero() {
		inc.At = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(ctx, inc, "reporter closed")
		return
	}
	select {
	case r.queue <- queuedIncident{ctx: context.WithoutCancel(ctx), inc: inc}:
	default:
		r.drop(ctx, inc, "queue full")
	}
}

// Dropped returns how many incidents were discarded.
func (r *AsyncReporter) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting incidents and waits until the queued ones are
// delivered or ctx is done. It is safe to call more than once.
func (r *AsyncReporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncReporter) run() {
	defer close(r.done)
	for q := range r.queue {
		r.next.Report(q.ctx, q.inc)
	}
}

func (r *AsyncReporter) drop(ctx context.Context, inc Incident, reason string) {
	r.dropped.Add(1)
	r.log.WarnContext(ctx, "alert dropped",
		logger.Component("alert"),
		logger.Provider(inc.Provider),
		logger.EventID(inc.EventID),
		slog.String("reason", reason),
	)
}
