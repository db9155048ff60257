package pdf

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
)

const manifestFilename = "manifest.json"

// PartitionManifest は分割結果を作業ディレクトリに記録します。
type PartitionManifest struct {
	Source    string                     `json:"source"`
	MimeType  string                     `json:"mimeType"`
	Pages     int                        `json:"pages"`
	BatchSize int                        `json:"batchSize"`
	Batches   []pipeline.BatchDescriptor `json:"batches"`
	CreatedAt time.Time                  `json:"createdAt"`
}

func writeManifest(ws workspace, manifest *PartitionManifest) error {
	if manifest == nil {
		return errors.New("manifest is nil")
	}
	file, err := os.OpenFile(ws.manifestPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(manifest)
}

// loadManifest は作業ディレクトリの manifest.json を読み込みます。
func loadManifest(scratchDir string) (*PartitionManifest, error) {
	data, err := os.ReadFile(filepath.Join(scratchDir, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest PartitionManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}
