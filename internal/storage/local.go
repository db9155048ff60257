package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalPublisher は完成ファイルをローカルのアーカイブディレクトリにコピーします。
// 保存先: <Dir>/<fileID>/<ファイル名>
type LocalPublisher struct {
	Dir string
}

// Publish はファイルをコピーします。既存のファイルは置き換えます。
func (p *LocalPublisher) Publish(ctx context.Context, fileID int64, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest := filepath.Join(p.Dir, filepath.FromSlash(objectName("", fileID, filepath.Base(localPath))))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	defer src.Close()

	tmp := dest + ".tmp"
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to copy output: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close archive file: %w", err)
	}
	return os.Rename(tmp, dest)
}
