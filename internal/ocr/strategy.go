package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Strategy は1バッチ分のPDFを変換します。ページ数と順序は保たれなければなりません。
type Strategy interface {
	Name() string
	Transform(ctx context.Context, inputPath, outputPath string) error
}

// Normalizer は入力PDFを書き直して署名などの増分更新を取り除きます。
type Normalizer interface {
	Normalize(ctx context.Context, inputPath, outputPath string) error
}

// Merger はページ単位のPDFを1つに結合します。
type Merger interface {
	Merge(ctx context.Context, inputs []string, outputPath string) (int, error)
}

// 変換方式の名前
const (
	StrategyEmbedded  = "embedded"
	StrategyRasterize = "rasterize"
)

const defaultLanguage = "eng"

// EmbeddedStrategy は ocrmypdf をバッチ全体に1回実行します。
type EmbeddedStrategy struct {
	Runner     Runner
	Normalizer Normalizer
	Binary     string
	Language   string
}

// Name は方式名を返します。
func (s *EmbeddedStrategy) Name() string { return StrategyEmbedded }

// Transform は入力を正規化したうえで ocrmypdf を実行します。
func (s *EmbeddedStrategy) Transform(ctx context.Context, inputPath, outputPath string) error {
	source := inputPath
	if s.Normalizer != nil {
		normalized := siblingPath(outputPath, "normalized")
		defer os.Remove(normalized)
		if err := s.Normalizer.Normalize(ctx, inputPath, normalized); err != nil {
			return err
		}
		source = normalized
	}

	args := []string{"--optimize", "1", "--force-ocr", "--rotate-pages", "-l", language(s.Language), source, outputPath}
	if _, err := s.Runner.Run(ctx, binary(s.Binary, "ocrmypdf"), args...); err != nil {
		return err
	}
	return nil
}

// RasterizeStrategy はページごとに画像化してから tesseract で認識し、結果を再結合します。
type RasterizeStrategy struct {
	Runner          Runner
	Merger          Merger
	GhostscriptPath string
	TesseractPath   string
	Language        string
	DPI             int
}

// Name は方式名を返します。
func (s *RasterizeStrategy) Name() string { return StrategyRasterize }

// Transform は Ghostscript でPNGに変換し、ページごとに tesseract でPDFを生成して結合します。
func (s *RasterizeStrategy) Transform(ctx context.Context, inputPath, outputPath string) error {
	if s.Merger == nil {
		return errors.New("rasterize strategy has no merger")
	}
	work, err := os.MkdirTemp(filepath.Dir(outputPath), ".raster-")
	if err != nil {
		return fmt.Errorf("failed to create raster directory: %w", err)
	}
	defer os.RemoveAll(work)

	if _, err := s.Runner.Run(ctx, binary(s.GhostscriptPath, "gs"), ghostscriptArgs(work, inputPath, s.DPI)...); err != nil {
		return err
	}

	images, err := filepath.Glob(filepath.Join(work, "page-*.png"))
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("ghostscript produced no pages for %s", filepath.Base(inputPath))
	}
	sort.Strings(images)

	pages := make([]string, 0, len(images))
	for _, img := range images {
		base := strings.TrimSuffix(img, filepath.Ext(img))
		if _, err := s.Runner.Run(ctx, binary(s.TesseractPath, "tesseract"), img, base, "-l", language(s.Language), "pdf"); err != nil {
			return err
		}
		pages = append(pages, base+".pdf")
	}

	if _, err := s.Merger.Merge(ctx, pages, outputPath); err != nil {
		return err
	}
	return nil
}

func ghostscriptArgs(workDir, inputPath string, dpi int) []string {
	if dpi <= 0 {
		dpi = 300
	}
	return []string{
		"-sDEVICE=png16m",
		"-r" + strconv.Itoa(dpi),
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-dSAFER",
		fmt.Sprintf("-sOutputFile=%s", filepath.Join(workDir, "page-%04d.png")),
		inputPath,
	}
}

func binary(path, fallback string) string {
	if strings.TrimSpace(path) == "" {
		return fallback
	}
	return path
}

func language(lang string) string {
	if strings.TrimSpace(lang) == "" {
		return defaultLanguage
	}
	return lang
}

func siblingPath(path, tag string) string {
	return filepath.Join(filepath.Dir(path), "."+tag+"-"+filepath.Base(path))
}

// Options は変換方式の設定です。
type Options struct {
	Strategy        string
	OcrmypdfPath    string
	TesseractPath   string
	GhostscriptPath string
	Language        string
	DPI             int
}

// Toolkit は変換方式が必要とするPDF操作です。
type Toolkit interface {
	Normalizer
	Merger
}

// NewStrategy は設定に対応する Strategy を返します。
func NewStrategy(opts Options, runner Runner, pdfs Toolkit) (Strategy, error) {
	if runner == nil {
		runner = ExecRunner{}
	}
	switch strings.ToLower(strings.TrimSpace(opts.Strategy)) {
	case "", StrategyEmbedded:
		return &EmbeddedStrategy{
			Runner:     runner,
			Normalizer: pdfs,
			Binary:     opts.OcrmypdfPath,
			Language:   opts.Language,
		}, nil
	case StrategyRasterize:
		return &RasterizeStrategy{
			Runner:          runner,
			Merger:          pdfs,
			GhostscriptPath: opts.GhostscriptPath,
			TesseractPath:   opts.TesseractPath,
			Language:        opts.Language,
			DPI:             opts.DPI,
		}, nil
	default:
		return nil, fmt.Errorf("unknown OCR strategy %q (want embedded or rasterize)", opts.Strategy)
	}
}
