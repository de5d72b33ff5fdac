package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/turnguard/internal/interrupt"
	"github.com/MrWong99/turnguard/internal/observe"
)

const (
	defaultQueueSize     = 1024
	defaultBatchSize     = 64
	defaultFlushInterval = time.Second

	// drainTimeout bounds the final flush after Run's context is done.
	drainTimeout = 5 * time.Second
)

// WriterOption configures a [Writer].
type WriterOption func(*Writer)

// WithQueueSize sets the number of records that may wait to be written.
// Default: 1024.
func WithQueueSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithBatchSize sets the maximum number of records per [Store.Append].
// Default: 64.
func WithBatchSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithFlushInterval sets how often a partial batch is flushed. Default: 1s.
func WithFlushInterval(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.flushInterval = d
		}
	}
}

// WithMetrics sets the metrics sink for dropped records.
func WithMetrics(m *observe.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = m }
}

// Writer queues decision records and persists them in batches from
// [Writer.Run]. Enqueueing never blocks: when the queue is full the record
// is dropped and counted.
type Writer struct {
	store         Store
	queueSize     int
	batchSize     int
	flushInterval time.Duration
	metrics       *observe.Metrics

	queue   chan Record
	dropped atomic.Int64
	written atomic.Int64
}

// NewWriter returns a Writer persisting to store.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:         store,
		queueSize:     defaultQueueSize,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	w.queue = make(chan Record, w.queueSize)
	return w
}

// Observe enqueues o. It has the [interrupt.Observer] signature so it can be
// passed straight to [interrupt.WithObserver].
func (w *Writer) Observe(o interrupt.Outcome) {
	w.Enqueue(FromOutcome(o))
}

// Enqueue adds r to the queue and reports whether it was accepted.
func (w *Writer) Enqueue(r Record) bool {
	select {
	case w.queue <- r:
		return true
	default:
		w.dropped.Add(1)
		w.metrics.AuditDropped.Add(context.Background(), 1)
		return false
	}
}

// Dropped returns how many records were dropped because the queue was full.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Written returns how many records were persisted successfully.
func (w *Writer) Written() int64 { return w.written.Load() }

// Run persists queued records until ctx is done, then flushes what is left
// within a short grace period. Store errors are logged and the failed batch
// is discarded. Run always returns nil so it can live in an errgroup.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, w.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.store.Append(ctx, batch); err != nil {
			slog.Warn("audit: failed to write records", "count", len(batch), "err", err)
		} else {
			w.written.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case r := <-w.queue:
			batch = append(batch, r)
			if len(batch) >= w.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			defer cancel()
			for {
				select {
				case r := <-w.queue:
					batch = append(batch, r)
					if len(batch) >= w.batchSize {
						flush(dctx)
					}
				default:
					flush(dctx)
					slog.Debug("audit: writer stopped", "written", w.Written(), "dropped", w.Dropped())
					return nil
				}
			}
		}
	}
}
