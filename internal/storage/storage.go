// Package storage は完成したOCR済みPDFを保管先へコピーします。
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Publisher は完成ファイルを保管先に公開します。
type Publisher interface {
	Publish(ctx context.Context, fileID int64, localPath string) error
}

// Multi は複数の Publisher に順番に公開します。どれかが失敗しても残りは実行します。
type Multi []Publisher

// Publish はすべての Publisher を実行し、発生したエラーをまとめて返します。
func (m Multi) Publish(ctx context.Context, fileID int64, localPath string) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, fileID, localPath); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func objectName(prefix string, fileID int64, base string) string {
	if prefix == "" {
		return fmt.Sprintf("%d/%s", fileID, base)
	}
	return fmt.Sprintf("%s/%d/%s", prefix, fileID, base)
}
