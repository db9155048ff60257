// Package pipeline はバッチOCRジョブのモデルを提供します。
// ページ範囲ごとのバッチとその結果、結合処理、結合後のしおり再配置を扱います。
package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultBatchSize は未設定時の1バッチあたりのページ数です。
const DefaultBatchSize = 10

// PageRange は1始まりの閉区間で表したページ範囲です（End >= Start）。
type PageRange struct {
	Start int `json:"start_page"`
	End   int `json:"end_page"`
}

// Pages は範囲に含まれるページ数を返します。
func (r PageRange) Pages() int {
	return r.End - r.Start + 1
}

func (r PageRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

// BatchDescriptor は分割処理が書き出した1バッチ分のファイルを表します。
type BatchDescriptor struct {
	PageRange
	ArtifactPath string `json:"artifact_path"`
}

// PlanBatches は n ページを ⌈n/size⌉ 個の連続した昇順の範囲に分割します。
// 各ページはちょうど1つの範囲に含まれます。size が0以下の場合は DefaultBatchSize を使います。
func PlanBatches(n, size int) []PageRange {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if n <= 0 {
		return []PageRange{}
	}
	ranges := make([]PageRange, 0, (n+size-1)/size)
	for start := 1; start <= n; start += size {
		end := start + size - 1
		if end > n {
			end = n
		}
		ranges = append(ranges, PageRange{Start: start, End: end})
	}
	return ranges
}

const (
	outputSuffix           = "_OCRed"
	bookmarkedOutputSuffix = "_OCRed_with_bookmarks"
)

// OutputPath は入力ファイルに対応する最終成果物のパスを返します。
// 形式: {dir(inputPath)}/{basename(fileName)}_OCRed{ext}
func OutputPath(inputPath, fileName string) string {
	if fileName == "" {
		fileName = filepath.Base(inputPath)
	}
	ext := filepath.Ext(fileName)
	base := strings.TrimSuffix(filepath.Base(fileName), ext)
	return filepath.Join(filepath.Dir(inputPath), base+outputSuffix+ext)
}

// BookmarkedOutputPath はしおり付与中に書き出す一時ファイルのパスです。
// 完了後に OutputPath へリネームされます。
func BookmarkedOutputPath(outputPath string) string {
	ext := filepath.Ext(outputPath)
	base := strings.TrimSuffix(outputPath, ext)
	base = strings.TrimSuffix(base, outputSuffix)
	return base + bookmarkedOutputSuffix + ext
}

// ScratchDir は入力ファイルの隣に作るワークフロー単位の作業ディレクトリを返します。
// 形式: {dir(inputPath)}/tmp/{fileID}/{workflowID}
func ScratchDir(inputPath string, fileID int64, workflowID string) string {
	return filepath.Join(filepath.Dir(inputPath), "tmp", fmt.Sprintf("%d", fileID), workflowID)
}

// BatchArtifactName はバッチファイルのファイル名を返します。
func BatchArtifactName(inputPath string, r PageRange) string {
	ext := filepath.Ext(inputPath)
	base := strings.TrimSuffix(filepath.Base(inputPath), ext)
	if ext == "" {
		ext = ".pdf"
	}
	return fmt.Sprintf("%s_pages_%d_to_%d%s", base, r.Start, r.End, ext)
}
