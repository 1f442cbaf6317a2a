package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"table-bulkwriter/internal/bulkwriter"
	"table-bulkwriter/internal/bulkwriter/config"
	"table-bulkwriter/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	startTime := time.Now()
	// 初始化配置文件
	cfg := config.InitConfig()

	// 初始化 trace provider
	shutdownTrace := logger.InitTrace("table-bulkwriter", "bulkwriter")
	defer func() { _ = shutdownTrace(context.Background()) }()
	// 启动主 span
	ctx, span := logger.StartSpan(context.Background(), "main", "main")
	defer span.End()

	// 创建 root logger 并注入 trace 上下文
	rootLogger := logger.NewLogger("bulkwriter", logger.Options{
		Dir:        cfg.Log.Dir,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    cfg.Log.Console,
	})
	logger.SetLogLevel(cfg.Log.Level)
	tl := logger.WithTrace(ctx, rootLogger)
	defer func() { _ = tl.Sync() }()

	// 启动配置热加载监听
	go config.WatchConfig(&cfg)

	// SIGINT/SIGTERM 取消进行中的写入
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := bulkwriter.New(ctx, cfg, tl)
	if err != nil {
		tl.Error("Failed to init bulk writer", zap.Error(err))
		return 1
	}
	core.Start()
	defer core.Stop(context.Background())

	switch cfg.Input.Mode {
	case config.InputModeStream:
		tl.Info("Reading NDJSON records from stdin...")
		res, err := core.RunStream(ctx, os.Stdin)
		tl.Info("Stream finished",
			zap.String("status", string(res.Status)),
			zap.Int("read", res.Read),
			zap.Int("invalid", res.Invalid),
			zap.Int("flushes", res.Flushes),
			zap.Int("accepted", res.Accepted),
			zap.Strings("pending", res.Pending),
			zap.Duration("taken_time", time.Since(startTime)),
			zap.Error(err))
		return bulkwriter.ExitCode(res.Status)

	default:
		report, err := core.RunBatch(ctx, cfg.Input.Path)
		tl.Info("Batch finished",
			zap.String("status", string(report.Status)),
			zap.Int("records", report.Records),
			zap.Int("accepted", len(report.Accepted)),
			zap.Strings("pending", report.PendingKeys),
			zap.Int("rounds", report.Rounds),
			zap.Int("batches", report.Batches),
			zap.Duration("taken_time", time.Since(startTime)),
			zap.Error(err))
		return bulkwriter.ExitCode(report.Status)
	}
}
