// Package main はOCRワーカーとオペレーション用APIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/config"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/files"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/jobs"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/ocr"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pdf"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
)

func main() {
	runFileID := flag.Int64("run", 0, "キューを使わずに指定したファイルIDを1回だけ処理する")
	flag.Parse()

	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// pdfcpu のユーザー設定ディレクトリは使用しない
	pdfapi.DisableConfigDir()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := files.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open file store", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	deps, cleanup, err := setupPipeline(ctx, cfg, store, logger)
	if err != nil {
		logger.Error("failed to set up pipeline", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if *runFileID > 0 {
		code := runOnce(ctx, deps, cfg, *runFileID, logger)
		cleanup()
		store.Close()
		stop()
		os.Exit(code)
	}

	manager, closeRedis, err := setupJobs(cfg, deps)
	if err != nil {
		logger.Error("failed to set up job manager", "error", err)
		os.Exit(1)
	}
	manager.StartWorkers()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	setupRoutes(router, manager)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting ops server", "addr", srv.Addr, "mode", cfg.GinMode, "strategy", cfg.OCRStrategy)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown failed", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("job manager shutdown failed", "error", err)
	}
	if err := closeRedis(); err != nil {
		logger.Warn("failed to close redis client", "error", err)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.GinMode == gin.DebugMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// setupPipeline は分割・OCR・結合の各コンポーネントを組み立てます。
func setupPipeline(ctx context.Context, cfg *config.Config, store files.Store, logger *slog.Logger) (jobs.Deps, func(), error) {
	pdfService := pdf.NewService(pdf.Config{
		BatchSize:   cfg.BatchSize,
		Parallelism: cfg.PartitionParallelism,
	}, logger)

	strategy, err := ocr.NewStrategy(ocr.Options{
		Strategy:        cfg.OCRStrategy,
		OcrmypdfPath:    cfg.OcrmypdfPath,
		TesseractPath:   cfg.TesseractPath,
		GhostscriptPath: cfg.GhostscriptPath,
		Language:        cfg.OCRLanguage,
		DPI:             cfg.RasterDPI,
	}, ocr.ExecRunner{}, pdfService)
	if err != nil {
		return jobs.Deps{}, nil, err
	}
	worker, err := ocr.NewWorker(strategy, pdfService, logger)
	if err != nil {
		return jobs.Deps{}, nil, err
	}

	publisher, closePublisher, err := setupPublisher(ctx, cfg)
	if err != nil {
		return jobs.Deps{}, nil, err
	}
	policy, err := pipeline.ParsePolicy(cfg.PartialFailurePolicy)
	if err != nil {
		closePublisher()
		return jobs.Deps{}, nil, err
	}
	aggregator, err := pipeline.NewAggregator(store, pdfService, pdfService, pipeline.AggregatorOptions{
		Policy:            policy,
		MarkFailedOnError: cfg.FailOnAggregationError,
		Publisher:         publisher,
		Logger:            logger,
	})
	if err != nil {
		closePublisher()
		return jobs.Deps{}, nil, err
	}

	return jobs.Deps{
		Files:       store,
		Partitioner: pdfService,
		Worker:      worker,
		Joiner:      aggregator,
		Logger:      logger,
	}, closePublisher, nil
}

// runOnce はキューを使わずに1ファイルを処理し、終了コードを返します。
func runOnce(ctx context.Context, deps jobs.Deps, cfg *config.Config, fileID int64, logger *slog.Logger) int {
	runner, err := jobs.NewLocalRunner(deps, cfg.WorkerConcurrency)
	if err != nil {
		logger.Error("failed to create local runner", "error", err)
		return 1
	}
	result, err := runner.Run(ctx, fileID)
	if err != nil {
		logger.Error("ocr run failed", "fileId", fileID, "error", err)
		return 1
	}
	logger.Info("ocr run completed",
		"fileId", fileID,
		"output", result.OutputPath,
		"pages", result.Pages,
		"omitted", len(result.Omitted),
		"bookmarks", result.BookmarksAttached)
	return 0
}

// requestLogger はリクエストごとに構造化ログを出力します。
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String())
	}
}
