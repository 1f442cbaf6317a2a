package writer

import (
	"context"
	"time"

	"table-bulkwriter/internal/bulkwriter/monitor"
	"table-bulkwriter/pkg/logger"
	"table-bulkwriter/pkg/utils"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tracerName = "bulkwriter"

// Store is the external batch-write service. BatchWrite returns the subset of
// batch the store did not durably write; an empty (or nil) result means the
// whole batch was accepted. A non-nil error means the call itself failed.
type Store[T any] interface {
	BatchWrite(ctx context.Context, batch []T) ([]T, error)
	MaxBatchSize() int
	Close() error
}

// KeyFunc returns the stable identity of a record.
type KeyFunc[T any] func(T) string

type Options struct {
	ID            string
	BatchSize     int
	MaxRetries    int
	RetryWait     time.Duration
	Concurrency   int
	RatePerSecond float64
}

// Writer submits records to a Store in capacity-bounded batches and retries
// only the records the store reports as unprocessed. It keeps no state
// between Write calls.
type Writer[T any] struct {
	id          string
	tl          *zap.Logger
	store       Store[T]
	key         KeyFunc[T]
	capacity    int
	maxRetries  int
	retryWait   time.Duration
	concurrency int
	limiter     *rate.Limiter
}

func New[T any](tl *zap.Logger, store Store[T], key KeyFunc[T], opts Options) (*Writer[T], error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if key == nil {
		return nil, ErrNilKeyFunc
	}
	if tl == nil {
		tl = zap.NewNop()
	}
	if opts.ID == "" {
		opts.ID = "bulkwriter"
	}

	capacity := opts.BatchSize
	if limit := store.MaxBatchSize(); limit > 0 && (capacity <= 0 || capacity > limit) {
		capacity = limit
	}
	if capacity <= 0 {
		capacity = 1
	}

	w := &Writer[T]{
		id:          opts.ID,
		tl:          tl.With(zap.String("writer_id", opts.ID)),
		store:       store,
		key:         key,
		capacity:    capacity,
		maxRetries:  max(opts.MaxRetries, 0),
		retryWait:   max(opts.RetryWait, 0),
		concurrency: max(opts.Concurrency, 1),
	}
	if opts.RatePerSecond > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return w, nil
}

func (w *Writer[T]) ID() string {
	return w.id
}

// Capacity is the effective batch size limit.
func (w *Writer[T]) Capacity() int {
	return w.capacity
}

func (w *Writer[T]) Key(record T) string {
	return w.key(record)
}

func (w *Writer[T]) Close() error {
	return w.store.Close()
}

// Write stores records. A nil error comes with either StatusSuccess or
// StatusPartialFailure; callers must check the report to tell them apart.
// A failed store call returns StatusFailed with a *StoreCallError, and a
// cancelled ctx returns StatusCancelled with an error wrapping ErrCancelled.
func (w *Writer[T]) Write(ctx context.Context, records []T) (report Report[T], err error) {
	start := time.Now()
	ctx, span := logger.StartSpan(ctx, tracerName, "bulkwriter.write",
		attribute.String("writer_id", w.id),
		attribute.Int("records", len(records)),
	)
	tl := logger.WithTrace(ctx, w.tl)

	pending, dropped := utils.DeduplicateBy(records, w.key)
	report.Records = len(pending)
	report.Duplicates = len(dropped)
	report.DuplicateKeys = w.keys(dropped)
	if len(dropped) > 0 {
		tl.Warn("Dropped records with duplicate keys",
			zap.Int("duplicates", len(dropped)),
			zap.Strings("keys", report.DuplicateKeys))
	}

	defer func() {
		report.Duration = time.Since(start)
		report.PendingKeys = w.keys(report.Pending)
		monitor.BulkWriterOutcomes.WithLabelValues(w.id, string(report.Status)).Inc()
		monitor.BulkWriterDuration.WithLabelValues(w.id).Observe(report.Duration.Seconds())
		span.SetAttributes(
			attribute.String("status", string(report.Status)),
			attribute.Int("rounds", report.Rounds),
			attribute.Int("pending", len(report.Pending)),
		)
		logger.EndSpan(span, err)
	}()

	for len(pending) > 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			report.Status, report.Pending = StatusCancelled, pending
			return report, cancelledError(ctxErr)
		}

		report.Rounds++
		res := w.round(ctx, report.Rounds, pending)
		report.Batches += res.batches
		report.BatchesPerRound = append(report.BatchesPerRound, res.batches)
		report.Accepted = append(report.Accepted, res.accepted...)

		if res.err != nil {
			report.Pending = res.unconfirmed
			if ctxErr := ctx.Err(); ctxErr != nil {
				report.Status = StatusCancelled
				tl.Warn("Bulk write cancelled mid-round",
					zap.Int("round", report.Rounds),
					zap.Int("accepted", len(report.Accepted)),
					zap.Int("pending", len(report.Pending)))
				return report, cancelledError(ctxErr)
			}
			report.Status = StatusFailed
			tl.Error("❌ Batch write call failed, aborting",
				zap.Int("round", report.Rounds),
				zap.Int("accepted", len(report.Accepted)),
				zap.Int("pending", len(report.Pending)),
				zap.Error(res.err))
			return report, res.err
		}

		pending = res.unprocessed
		if len(pending) == 0 || report.Retries >= w.maxRetries {
			break
		}

		// 重试机制: 固定间隔后只重写未处理的记录
		report.Retries++
		monitor.BulkWriterRetries.WithLabelValues(w.id).Inc()
		tl.Warn("Store returned unprocessed records, retrying",
			zap.Int("round", report.Rounds),
			zap.Int("unprocessed", len(pending)),
			zap.Int("retry", report.Retries),
			zap.Int("max_retries", w.maxRetries),
			zap.Duration("wait", w.retryWait))

		if waitErr := w.backoff(ctx); waitErr != nil {
			report.Status, report.Pending = StatusCancelled, pending
			return report, cancelledError(waitErr)
		}
	}

	report.Pending = pending
	if len(pending) > 0 {
		report.Status = StatusPartialFailure
		tl.Warn("Max retry attempts reached, some records could not be written",
			zap.Int("rounds", report.Rounds),
			zap.Int("accepted", len(report.Accepted)),
			zap.Strings("pending", w.keys(pending)))
		return report, nil
	}

	report.Status = StatusSuccess
	tl.Info("✅ All records written",
		zap.Int("records", report.Records),
		zap.Int("rounds", report.Rounds),
		zap.Int("batches", report.Batches))
	return report, nil
}

// batchResult is one batch slot. failed means the store was called and the
// call errored; neither flag set means the batch was never sent.
type batchResult[T any] struct {
	done        bool
	failed      bool
	accepted    []T
	unprocessed []T
}

type roundResult[T any] struct {
	batches     int
	accepted    []T
	unprocessed []T
	// unconfirmed is set only when the round aborted: everything in the
	// round's input that no finished batch accepted.
	unconfirmed []T
	err         error
}

func (w *Writer[T]) round(ctx context.Context, round int, pending []T) roundResult[T] {
	ctx, span := logger.StartSpan(ctx, tracerName, "bulkwriter.round",
		attribute.Int("round", round),
		attribute.Int("pending", len(pending)),
	)

	batches := Split(pending, w.capacity)
	results := make([]batchResult[T], len(batches))
	monitor.BulkWriterRounds.WithLabelValues(w.id).Inc()
	w.tl.Debug("Starting round",
		zap.Int("round", round),
		zap.Int("pending", len(pending)),
		zap.Int("batches", len(batches)),
		zap.Int("capacity", w.capacity))

	var err error
	if w.concurrency > 1 && len(batches) > 1 {
		err = w.submitParallel(ctx, round, batches, results)
	} else {
		err = w.submitSequential(ctx, round, batches, results)
	}

	var res roundResult[T]
	for _, r := range results {
		if r.failed {
			res.batches++
			continue
		}
		if !r.done {
			continue
		}
		res.batches++
		res.accepted = append(res.accepted, r.accepted...)
		res.unprocessed = append(res.unprocessed, r.unprocessed...)
	}
	if err != nil {
		res.err = err
		res.unconfirmed = w.subtract(pending, res.accepted)
	}

	monitor.BulkWriterRecordsAccepted.WithLabelValues(w.id).Add(float64(len(res.accepted)))
	monitor.BulkWriterRecordsUnprocessed.WithLabelValues(w.id).Add(float64(len(res.unprocessed)))
	span.SetAttributes(
		attribute.Int("batches", res.batches),
		attribute.Int("accepted", len(res.accepted)),
		attribute.Int("unprocessed", len(res.unprocessed)),
	)
	logger.EndSpan(span, err)
	return res
}

func (w *Writer[T]) submitSequential(ctx context.Context, round int, batches [][]T, results []batchResult[T]) error {
	for i, batch := range batches {
		r, err := w.submit(ctx, round, i, batch)
		results[i] = r
		if err != nil {
			return err
		}
	}
	return nil
}

// submitParallel runs the batches of one round on a bounded pool. The first
// failure cancels the siblings that have not finished (fail-fast); results
// land in per-batch slots so the merge order stays deterministic.
func (w *Writer[T]) submitParallel(ctx context.Context, round int, batches [][]T, results []batchResult[T]) error {
	p := pool.New().
		WithMaxGoroutines(w.concurrency).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for i, batch := range batches {
		p.Go(func(ctx context.Context) error {
			r, err := w.submit(ctx, round, i, batch)
			results[i] = r
			return err
		})
	}
	return p.Wait()
}

func (w *Writer[T]) submit(ctx context.Context, round, index int, batch []T) (batchResult[T], error) {
	if err := w.throttle(ctx); err != nil {
		return batchResult[T]{}, err
	}

	monitor.BulkWriterBatches.WithLabelValues(w.id).Inc()
	monitor.BulkWriterBatchSize.WithLabelValues(w.id).Observe(float64(len(batch)))

	returned, err := w.store.BatchWrite(ctx, batch)
	if err != nil {
		monitor.BulkWriterCallFailures.WithLabelValues(w.id).Inc()
		return batchResult[T]{failed: true}, &StoreCallError{Round: round, Batch: index, Size: len(batch), Err: err}
	}

	accepted, unprocessed, foreign := w.reconcile(batch, returned)
	if foreign > 0 {
		w.tl.Warn("Store reported unprocessed records that were not in the batch, ignoring them",
			zap.Int("round", round),
			zap.Int("batch", index),
			zap.Int("foreign", foreign))
	}
	w.tl.Debug("Batch written",
		zap.Int("round", round),
		zap.Int("batch", index),
		zap.Int("size", len(batch)),
		zap.Int("unprocessed", len(unprocessed)))
	return batchResult[T]{done: true, accepted: accepted, unprocessed: unprocessed}, nil
}

// reconcile splits batch into accepted and unprocessed by the keys the store
// returned. Unprocessed keeps batch order and holds each record once; keys
// that were never submitted are counted and dropped.
func (w *Writer[T]) reconcile(batch, returned []T) (accepted, unprocessed []T, foreign int) {
	if len(returned) == 0 {
		return batch, nil, 0
	}
	submitted := utils.KeySet(batch, w.key)
	rejected := make(map[string]struct{}, len(returned))
	for _, r := range returned {
		k := w.key(r)
		if _, ok := submitted[k]; !ok {
			foreign++
			continue
		}
		rejected[k] = struct{}{}
	}
	for _, r := range batch {
		if _, ok := rejected[w.key(r)]; ok {
			unprocessed = append(unprocessed, r)
		} else {
			accepted = append(accepted, r)
		}
	}
	return accepted, unprocessed, foreign
}

func (w *Writer[T]) subtract(from, remove []T) []T {
	if len(remove) == 0 {
		return append([]T(nil), from...)
	}
	removed := utils.KeySet(remove, w.key)
	out := make([]T, 0, len(from)-len(remove))
	for _, r := range from {
		if _, ok := removed[w.key(r)]; !ok {
			out = append(out, r)
		}
	}
	return out
}

func (w *Writer[T]) keys(records []T) []string {
	if len(records) == 0 {
		return nil
	}
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = w.key(r)
	}
	return keys
}

// throttle waits for the rate limiter. The wait ends only on the token or on
// ctx, so an error here is always ctx.Err().
func (w *Writer[T]) throttle(ctx context.Context) error {
	if w.limiter == nil {
		return ctx.Err()
	}
	r := w.limiter.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff waits the fixed retry delay or until ctx is done.
func (w *Writer[T]) backoff(ctx context.Context) error {
	if w.retryWait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(w.retryWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
