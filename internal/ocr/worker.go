package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
)

// PageCounter はPDFのページ数を返します。
type PageCounter interface {
	PageCount(ctx context.Context, path string) (int, error)
}

// Worker は1つのバッチを変換し、結果を BatchOutcome として返します。
// 兄弟バッチと状態を共有しないため、順不同で並行に実行できます。
type Worker struct {
	strategy Strategy
	pages    PageCounter
	logger   *slog.Logger
}

// NewWorker は Worker を初期化します。
func NewWorker(strategy Strategy, pages PageCounter, logger *slog.Logger) (*Worker, error) {
	if strategy == nil {
		return nil, errors.New("strategy is nil")
	}
	if pages == nil {
		return nil, errors.New("page counter is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{strategy: strategy, pages: pages, logger: logger}, nil
}

// Strategy は使用中の変換方式名を返します。
func (w *Worker) Strategy() string {
	return w.strategy.Name()
}

// Process はバッチファイルをその場で変換します。失敗はエラーではなく
// pipeline.Failure として返し、呼び出し元に例外を伝播させません。
// ジョブ側のキャンセルは外部ツールの実行中には伝わりません。
func (w *Worker) Process(ctx context.Context, d pipeline.BatchDescriptor) (outcome pipeline.BatchOutcome) {
	log := w.logger.With("range", d.PageRange.String(), "artifact", d.ArtifactPath, "strategy", w.strategy.Name())
	fail := func(message string, err error) pipeline.BatchOutcome {
		cause := pipeline.NewError(pipeline.CodeBatchTransform, message, err)
		log.Warn("batch transform failed", "error", cause)
		return pipeline.Failure{PageRange: d.PageRange, Cause: cause.Error()}
	}
	defer func() {
		if p := recover(); p != nil {
			outcome = fail("transform panicked", fmt.Errorf("%v", p))
		}
	}()

	if _, err := os.Stat(d.ArtifactPath); err != nil {
		return fail("batch artifact missing", err)
	}

	callCtx := context.WithoutCancel(ctx)
	want, err := w.pages.PageCount(callCtx, d.ArtifactPath)
	if err != nil {
		return fail("failed to read batch page count", err)
	}
	if want != d.Pages() {
		return fail(fmt.Sprintf("batch has %d pages, descriptor expects %d", want, d.Pages()), nil)
	}

	out := siblingPath(d.ArtifactPath, "ocr")
	defer os.Remove(out)

	if err := w.strategy.Transform(callCtx, d.ArtifactPath, out); err != nil {
		return fail("recognition tool failed", err)
	}
	got, err := w.pages.PageCount(callCtx, out)
	if err != nil {
		return fail("transformed batch is unreadable", err)
	}
	if got != want {
		return fail(fmt.Sprintf("transformed batch has %d pages, want %d", got, want), nil)
	}
	if err := os.Rename(out, d.ArtifactPath); err != nil {
		return fail("failed to replace batch artifact", err)
	}

	log.Debug("batch transformed", "pages", got)
	return pipeline.Success{PageRange: d.PageRange, ArtifactPath: d.ArtifactPath}
}
