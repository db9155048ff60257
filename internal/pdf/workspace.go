package pdf

import (
	"os"
	"path/filepath"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
)

// workspace は1ジョブ分のバッチファイルを置く作業ディレクトリです。
type workspace struct {
	dir    string
	source string
}

func (w workspace) create() error {
	return os.MkdirAll(w.dir, 0o755)
}

func (w workspace) manifestPath() string {
	return filepath.Join(w.dir, manifestFilename)
}

func (w workspace) artifactPath(r pipeline.PageRange) string {
	return filepath.Join(w.dir, pipeline.BatchArtifactName(w.source, r))
}
