package pdf

import (
	"context"
	"fmt"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// Normalize は文書を書き直し、増分更新(署名リビジョンなど)を取り除きます。
func (s *Service) Normalize(ctx context.Context, inputPath, outputPath string) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if err := pdfapi.OptimizeFile(inputPath, outputPath, newConf()); err != nil {
		return fmt.Errorf("failed to normalize %s: %w", inputPath, err)
	}
	return nil
}
