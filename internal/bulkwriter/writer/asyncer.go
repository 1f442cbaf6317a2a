package writer

import (
	"context"
	"sync"
	"time"

	"table-bulkwriter/internal/bulkwriter/monitor"

	"go.uber.org/zap"
)

const drainTimeout = 30 * time.Second

type AsyncOptions[T any] struct {
	Workers       int
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	// OnReport receives the outcome of every flush.
	OnReport func(Report[T], error)
}

// AsyncWriter buffers submitted records and flushes them through a Writer
// when a chunk fills up or the flush interval elapses.
type AsyncWriter[T any] struct {
	id            string
	workers       int
	tl            *zap.Logger
	writer        *Writer[T]
	inputChan     chan T
	wg            sync.WaitGroup
	batchSize     int
	flushInterval time.Duration
	onReport      func(Report[T], error)
	ctx           context.Context

	mu     sync.RWMutex
	closed bool
}

func NewAsyncWriter[T any](tl *zap.Logger, w *Writer[T], opts AsyncOptions[T]) *AsyncWriter[T] {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = w.Capacity()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	return &AsyncWriter[T]{
		id:            w.ID(),
		workers:       opts.Workers,
		tl:            tl,
		writer:        w,
		inputChan:     make(chan T, opts.QueueSize),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		onReport:      opts.OnReport,
	}
}

func (b *AsyncWriter[T]) Start(ctx context.Context) {
	b.ctx = ctx
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.processItems(ctx)
	}
}

func (b *AsyncWriter[T]) processItems(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	var batch = make([]T, 0, b.batchSize)
	for {
		select {
		case <-ctx.Done():
			b.drain(ctx, batch)
			return
		case item, ok := <-b.inputChan:
			if !ok {
				b.drain(ctx, batch)
				return
			}
			batch = append(batch, item)
			if len(batch) >= b.batchSize {
				b.flush(ctx, batch)
				batch = make([]T, 0, b.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = make([]T, 0, b.batchSize)
			}
		}
	}
}

// drain 退出前尽量写完已缓冲的数据, 不受 ctx 取消影响
func (b *AsyncWriter[T]) drain(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	b.flush(drainCtx, batch)
}

// 封装写入操作并记录指标
func (b *AsyncWriter[T]) flush(ctx context.Context, batch []T) {
	startTime := time.Now()

	report, err := b.writer.Write(ctx, batch)
	if err != nil {
		b.tl.Warn("Async flush failed", zap.String("id", b.id), zap.String("status", string(report.Status)), zap.Error(err))
	}
	if b.onReport != nil {
		b.onReport(report, err)
	}

	monitor.AsyncWriterFlushDuration.WithLabelValues(b.id).Observe(time.Since(startTime).Seconds())
	monitor.AsyncWriterFlushCount.WithLabelValues(b.id).Inc()
}

// Submit enqueues item without blocking. It returns false when the queue is
// full or the writer is closed; the item is dropped in that case.
func (b *AsyncWriter[T]) Submit(item T) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}

	select {
	case b.inputChan <- item:
		monitor.AsyncWriterMessagesQueued.WithLabelValues(b.id).Inc()
		return true
	default:
		monitor.AsyncWriterMessagesDropped.WithLabelValues(b.id).Inc()
		b.tl.Warn("Batch input channel full, dropping item", zap.String("id", b.id))
		return false
	}
}

// SubmitWait enqueues item, blocking while the queue is full.
func (b *AsyncWriter[T]) SubmitWait(ctx context.Context, item T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrAsyncClosed
	}

	select {
	case b.inputChan <- item:
		monitor.AsyncWriterMessagesQueued.WithLabelValues(b.id).Inc()
		return nil
	case <-ctx.Done():
		return cancelledError(ctx.Err())
	}
}

// Close stops accepting items, flushes what is buffered and waits for the
// workers. Items the workers never took (ctx cancelled, or never started)
// are reported once as cancelled and pending. It does not close the
// underlying store.
func (b *AsyncWriter[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.inputChan)
	b.mu.Unlock()

	b.wg.Wait()

	var left []T
	for item := range b.inputChan {
		left = append(left, item)
	}
	if len(left) > 0 {
		b.abandon(left)
	}
}

// abandon 报告未写入的剩余数据, 保证调用方能知道哪些记录没有落库
func (b *AsyncWriter[T]) abandon(items []T) {
	cause := ErrAsyncClosed
	if b.ctx != nil && b.ctx.Err() != nil {
		cause = b.ctx.Err()
	}
	err := cancelledError(cause)
	b.tl.Warn("Async writer closed with unwritten records",
		zap.String("id", b.id),
		zap.Int("pending", len(items)),
		zap.Error(err))
	if b.onReport == nil {
		return
	}
	b.onReport(Report[T]{
		Status:      StatusCancelled,
		Records:     len(items),
		Pending:     items,
		PendingKeys: b.writer.keys(items),
	}, err)
}
