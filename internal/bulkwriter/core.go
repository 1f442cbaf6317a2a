package bulkwriter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"table-bulkwriter/internal/bulkwriter/cache"
	"table-bulkwriter/internal/bulkwriter/config"
	"table-bulkwriter/internal/bulkwriter/model"
	"table-bulkwriter/internal/bulkwriter/monitor"
	"table-bulkwriter/internal/bulkwriter/repository"
	"table-bulkwriter/internal/bulkwriter/store"
	"table-bulkwriter/internal/bulkwriter/writer"

	"go.uber.org/zap"
)

const maxLineBytes = 1024 * 1024

type Core struct {
	cfg     config.Config
	tl      *zap.Logger
	repo    repository.Repository
	writer  *writer.Writer[model.Student]
	reports *cache.ReportCache
	metrics *monitor.MetricsServer
}

// New connects the configured store and builds the writer on top of it.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Core, error) {
	// 初始化repo
	repo, err := repository.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s, err := store.New(cfg, repo, model.StudentKey, logger)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	core, err := NewWithStore(cfg, logger, s)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	core.repo = repo
	return core, nil
}

// NewWithStore builds a Core around an existing store. The store is closed by
// Stop.
func NewWithStore(cfg config.Config, logger *zap.Logger, s writer.Store[model.Student]) (*Core, error) {
	w, err := writer.New(logger, s, model.StudentKey, writer.Options{
		ID:            cfg.Writer.ID,
		BatchSize:     cfg.Writer.BatchSize,
		MaxRetries:    cfg.Writer.MaxRetries,
		RetryWait:     cfg.Writer.RetryWait(),
		Concurrency:   cfg.Writer.Concurrency,
		RatePerSecond: cfg.Writer.RatePerSecond,
	})
	if err != nil {
		return nil, err
	}

	reports := cache.NewReportCache(logger, time.Duration(cfg.Monitor.ReportTTLMinute)*time.Minute)
	return &Core{
		cfg:     cfg,
		tl:      logger,
		writer:  w,
		reports: reports,
		metrics: monitor.NewMetricsServer(cfg.Monitor, logger, reports),
	}, nil
}

func (c *Core) Start() {
	c.tl.Info("Starting bulk writer core...",
		zap.String("store", c.cfg.Store.Kind),
		zap.Int("capacity", c.writer.Capacity()),
		zap.Int("max_retries", c.cfg.Writer.MaxRetries))
	// 启动监控服务
	if c.metrics != nil {
		c.metrics.Run()
	}
}

func (c *Core) Reports() *cache.ReportCache {
	return c.reports
}

// Write runs one bulk write and records its summary.
func (c *Core) Write(ctx context.Context, students []model.Student) (writer.Report[model.Student], error) {
	report, err := c.writer.Write(ctx, students)
	c.reports.Add(report.Summary(c.writer.ID(), err))
	return report, err
}

// RunBatch writes the JSON array file at path in one Write call.
func (c *Core) RunBatch(ctx context.Context, path string) (writer.Report[model.Student], error) {
	students, err := model.LoadStudents(path)
	if err != nil {
		return writer.Report[model.Student]{Status: writer.StatusFailed}, fmt.Errorf("load input %s: %w", path, err)
	}
	c.tl.Info("Loaded input", zap.String("path", path), zap.Int("records", len(students)))
	return c.Write(ctx, students)
}

// StreamResult 汇总 stream 模式下所有 flush 的结果
type StreamResult struct {
	Status   writer.Status
	Read     int
	Invalid  int
	Flushes  int
	Accepted int
	Pending  []string
	Errors   []error
}

// RunStream reads NDJSON students from r and writes them through an
// AsyncWriter until EOF or ctx is done.
func (c *Core) RunStream(ctx context.Context, r io.Reader) (StreamResult, error) {
	var mu sync.Mutex
	res := StreamResult{Status: writer.StatusSuccess}

	aw := writer.NewAsyncWriter(c.tl, c.writer, writer.AsyncOptions[model.Student]{
		Workers:       c.cfg.Writer.AsyncWorkers,
		QueueSize:     c.cfg.Writer.QueueSize,
		BatchSize:     c.cfg.Writer.BatchSize,
		FlushInterval: c.cfg.Writer.FlushInterval(),
		OnReport: func(report writer.Report[model.Student], err error) {
			c.reports.Add(report.Summary(c.writer.ID(), err))
			mu.Lock()
			defer mu.Unlock()
			res.Flushes++
			res.Accepted += len(report.Accepted)
			res.Pending = append(res.Pending, report.PendingKeys...)
			res.Status = worse(res.Status, report.Status)
			if err != nil {
				res.Errors = append(res.Errors, err)
			}
		},
	})
	aw.Start(ctx)

	lines, scanErr := readLines(ctx, r)
	var submitErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			res.Read++
			student, err := model.DecodeStudentLine(line)
			if err != nil {
				res.Invalid++
				c.tl.Warn("Skipping invalid input line", zap.Int("line", res.Read), zap.Error(err))
				continue
			}
			if submitErr = aw.SubmitWait(ctx, student); submitErr != nil {
				break loop
			}
		}
	}
	aw.Close()

	mu.Lock()
	defer mu.Unlock()
	if ctx.Err() != nil {
		res.Status = worse(res.Status, writer.StatusCancelled)
		return res, fmt.Errorf("%w: %w", writer.ErrCancelled, ctx.Err())
	}
	if submitErr != nil {
		return res, submitErr
	}
	if err := <-scanErr; err != nil {
		res.Status = worse(res.Status, writer.StatusFailed)
		return res, fmt.Errorf("read input: %w", err)
	}
	return res, errors.Join(res.Errors...)
}

// readLines 在独立 goroutine 中读取, 以便取消时不被阻塞的 Read 卡住
func readLines(ctx context.Context, r io.Reader) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		for sc.Scan() {
			if len(sc.Bytes()) == 0 {
				continue
			}
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				errCh <- nil
				return
			}
		}
		errCh <- sc.Err()
	}()
	return lines, errCh
}

var severity = map[writer.Status]int{
	writer.StatusSuccess:        0,
	writer.StatusPartialFailure: 1,
	writer.StatusCancelled:      2,
	writer.StatusFailed:         3,
}

func worse(a, b writer.Status) writer.Status {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// ExitCode maps a final status to the process exit code.
func ExitCode(status writer.Status) int {
	switch status {
	case writer.StatusSuccess:
		return 0
	case writer.StatusPartialFailure:
		return 2
	default:
		return 1
	}
}

// Stop 优雅关闭 Core 的所有资源
func (c *Core) Stop(ctx context.Context) {
	c.tl.Info("Stopping bulk writer core...")

	// 停止 Prometheus 监控服务
	if c.metrics != nil {
		_ = c.metrics.Stop(ctx)
	}

	if err := c.writer.Close(); err != nil {
		c.tl.Warn("Close store failed", zap.Error(err))
	}
	if c.repo != nil {
		if err := c.repo.Close(); err != nil {
			c.tl.Warn("Close repository failed", zap.Error(err))
		}
	}

	c.tl.Info("Bulk writer core stopped.")
}
