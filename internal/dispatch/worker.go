package dispatch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	dmetrics "smartop/internal/dispatch/metrics"
	"smartop/internal/dispatch/models"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultBatchSize    = 32
	defaultLease        = 30 * time.Second
)

// Worker drains one queue class. Claimed items are delivered concurrently up
// to the class's concurrency cap; outcomes follow the backoff schedule until
// delivery or dead-letter.
type Worker struct {
	store     ItemStore
	consumers map[models.ItemKind]Consumer
	queue     models.QueueClass
	logger    *slog.Logger
	metrics   *dmetrics.Metrics

	concurrency  int
	pollInterval time.Duration
	batchSize    int
	lease        time.Duration

	now func() time.Time
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerMetrics attaches prometheus metrics.
func WithWorkerMetrics(m *dmetrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithPollInterval sets how often an idle worker checks for due items.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollInterval = d }
}

// WithLease sets the claim lease. Items claimed by a worker that dies
// mid-delivery reappear after this long.
func WithLease(d time.Duration) WorkerOption {
	return func(w *Worker) { w.lease = d }
}

// WithClock overrides the worker's time source.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(store ItemStore, queue models.QueueClass, concurrency int, consumers []Consumer, logger *slog.Logger, opts ...WorkerOption) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	byKind := make(map[models.ItemKind]Consumer, len(consumers))
	for _, c := range consumers {
		byKind[c.Kind()] = c
	}
	w := &Worker{
		store:        store,
		consumers:    byKind,
		queue:        queue,
		logger:       logger,
		concurrency:  concurrency,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		lease:        defaultLease,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is done. It always returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil {
				w.logger.ErrorContext(ctx, "queue drain failed",
					"queue", string(w.queue),
					"error", err,
				)
			}
		}
	}
}

// Drain claims and delivers due items until the queue is momentarily empty.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		items, err := w.store.ClaimDue(ctx, w.queue, w.now(), w.batchSize, w.lease)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.concurrency)
		for _, item := range items {
			item := item
			g.Go(func() error {
				w.deliver(gctx, item)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

func (w *Worker) deliver(ctx context.Context, item *models.WorkItem) {
	start := w.now()

	consumer, ok := w.consumers[item.Kind]
	var err error
	if !ok {
		err = Permanent(errUnknownKind(item.Kind))
	} else {
		err = consumer.Handle(ctx, item)
	}

	now := w.now()
	switch {
	case err == nil:
		item.RecordDelivery(now)
		if w.metrics != nil {
			w.metrics.ObserveDelivery(string(item.Queue), string(item.Kind), start)
		}
	case IsPermanent(err):
		item.DeadLetter(err.Error(), now)
	default:
		item.RecordFailure(err.Error(), now)
	}

	if err != nil {
		if item.Status == models.StatusDeadLettered {
			if w.metrics != nil {
				w.metrics.DeadLetteredTotal.WithLabelValues(string(item.Queue), string(item.Kind)).Inc()
			}
			// Never dropped silently: dead-lettered items stay in the store
			// and the operator gets an alert line.
			w.logger.ErrorContext(ctx, "work item dead-lettered",
				"item_id", item.ID.String(),
				"tenant_id", item.TenantID.String(),
				"queue", string(item.Queue),
				"kind", string(item.Kind),
				"attempts", item.AttemptCount,
				"error", err,
			)
		} else {
			if w.metrics != nil {
				w.metrics.RetriesTotal.WithLabelValues(string(item.Queue), string(item.Kind)).Inc()
			}
			w.logger.WarnContext(ctx, "work item delivery failed, retrying",
				"item_id", item.ID.String(),
				"queue", string(item.Queue),
				"kind", string(item.Kind),
				"attempt", item.AttemptCount,
				"next_attempt_at", item.AvailableAt,
				"error", err,
			)
		}
	}

	if updateErr := w.store.Update(ctx, item); updateErr != nil {
		w.logger.ErrorContext(ctx, "work item update failed",
			"item_id", item.ID.String(),
			"error", updateErr,
		)
	}
}

type errUnknownKind models.ItemKind

func (e errUnknownKind) Error() string { return "no consumer registered for kind " + string(e) }

// Pool runs one worker per queue class.
type Pool struct {
	workers []*Worker
}

// NewPool builds a worker per queue class using the per-class concurrency
// caps; classes missing from the map get a single consumer goroutine.
func NewPool(store ItemStore, consumers []Consumer, concurrencyByClass map[string]int, logger *slog.Logger, opts ...WorkerOption) *Pool {
	p := &Pool{}
	for _, queue := range models.QueueClasses() {
		concurrency := concurrencyByClass[string(queue)]
		p.workers = append(p.workers, NewWorker(store, queue, concurrency, consumers, logger, opts...))
	}
	return p
}

// Run blocks until ctx is done, then returns ctx.Err().
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}
