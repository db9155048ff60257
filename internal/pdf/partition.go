package pdf

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
)

const pdfMimeType = "application/pdf"

// Partition は入力PDFを BatchSize ページごとのバッチファイルに分割し、
// ページ順に並んだ BatchDescriptor を返します。
// 0ページの文書は空のスライスを返します。失敗時は空のスライスと
// PARTITION_FAILED エラーを返し、書き出し途中のファイルは削除します。
func (s *Service) Partition(ctx context.Context, inputPath, scratchDir string, progress ProgressReporter) ([]pipeline.BatchDescriptor, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	empty := []pipeline.BatchDescriptor{}

	info, err := os.Stat(inputPath)
	if err != nil {
		return empty, pipeline.NewError(pipeline.CodePartition, "input document is not readable", err)
	}
	if info.IsDir() {
		return empty, pipeline.NewError(pipeline.CodePartition, fmt.Sprintf("input %s is a directory", inputPath), nil)
	}
	mtype, err := mimetype.DetectFile(inputPath)
	if err != nil {
		return empty, pipeline.NewError(pipeline.CodePartition, "failed to detect input type", err)
	}
	if !mtype.Is(pdfMimeType) {
		return empty, pipeline.NewError(pipeline.CodePartition, fmt.Sprintf("input is %s, not a PDF", mtype.String()), nil)
	}

	pages, err := pdfapi.PageCountFile(inputPath)
	if err != nil {
		return empty, pipeline.NewError(pipeline.CodePartition, "failed to read page count", err)
	}
	if pages == 0 {
		return empty, nil
	}

	ws := workspace{dir: scratchDir, source: inputPath}
	if err := ws.create(); err != nil {
		return empty, pipeline.NewError(pipeline.CodePartition, "failed to create scratch directory", err)
	}

	ranges := pipeline.PlanBatches(pages, s.cfg.BatchSize)
	descriptors := make([]pipeline.BatchDescriptor, len(ranges))
	var written atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, r := range ranges {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			artifact := ws.artifactPath(r)
			if err := pdfapi.CollectFile(inputPath, artifact, []string{fmt.Sprintf("%d-%d", r.Start, r.End)}, newConf()); err != nil {
				return fmt.Errorf("failed to write pages %s: %w", r, err)
			}
			descriptors[i] = pipeline.BatchDescriptor{PageRange: r, ArtifactPath: artifact}
			reportProgress(progress, StagePartition, int(written.Add(1)), len(ranges))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.discard(ws, ranges)
		return empty, pipeline.NewError(pipeline.CodePartition, "failed to split document", err)
	}

	manifest := &PartitionManifest{
		Source:    inputPath,
		MimeType:  mtype.String(),
		Pages:     pages,
		BatchSize: s.cfg.BatchSize,
		Batches:   descriptors,
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws, manifest); err != nil {
		s.logger.Warn("failed to write partition manifest", "dir", scratchDir, "error", err)
	}

	s.logger.Info("document partitioned", "input", inputPath, "pages", pages, "batches", len(descriptors))
	return descriptors, nil
}

// PageCount はPDFのページ数を返します。
func (s *Service) PageCount(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return pdfapi.PageCountFile(path)
}

func (s *Service) discard(ws workspace, ranges []pipeline.PageRange) {
	for _, r := range ranges {
		path := ws.artifactPath(r)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove partial batch", "path", path, "error", err)
		}
	}
}
