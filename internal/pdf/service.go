// Package pdf は pdfcpu を使ったページ分割・結合・しおり操作を提供します。
package pdf

import (
	"log/slog"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
)

const defaultParallelism = 4

// Config は Service の設定です。
type Config struct {
	BatchSize   int
	Parallelism int
}

// Service はOCRパイプラインのPDF操作を担います。
type Service struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewService は Service を初期化します。
func NewService(cfg Config, logger *slog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = pipeline.DefaultBatchSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, logger: logger, now: time.Now}
}

// newConf は呼び出しごとに新しい設定を返します。
// pdfcpu は処理中に設定を書き換えるため、goroutine間で共有しません。
func newConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}
