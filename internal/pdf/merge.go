package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// Merge は inputs を順番通りに結合して outputPath に書き出し、結合後のページ数を返します。
// 書き込みは一時ファイル経由で行い、完了後に outputPath へリネームします。
func (s *Service) Merge(ctx context.Context, inputs []string, outputPath string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(inputs) == 0 {
		return 0, errors.New("no input documents")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, in := range inputs {
		if _, err := os.Stat(in); err != nil {
			return 0, fmt.Errorf("merge input missing: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp := partialPath(outputPath)
	if err := pdfapi.MergeCreateFile(inputs, tmp, false, newConf()); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to merge documents: %w", err)
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to move merged document: %w", err)
	}

	pages, err := pdfapi.PageCountFile(outputPath)
	if err != nil {
		return 0, fmt.Errorf("failed to count merged pages: %w", err)
	}
	s.logger.Debug("documents merged", "inputs", len(inputs), "output", outputPath, "pages", pages)
	return pages, nil
}

// partialPath は拡張子を保ったまま書き込み途中のファイル名を返します。
func partialPath(path string) string {
	return filepath.Join(filepath.Dir(path), ".partial-"+filepath.Base(path))
}
