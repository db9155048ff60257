package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSPublisher は完成ファイルを Google Cloud Storage にアップロードします。
// 保存先: gs://<bucket>/<prefix>/<fileID>/<ファイル名>
type GCSPublisher struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSPublisher は GCS クライアントを作成します。
// credentialsFile が空の場合はアプリケーションデフォルト認証情報を使用します。
func NewGCSPublisher(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSPublisher, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSPublisher{client: client, bucket: bucket, prefix: prefix}, nil
}

// Publish はファイルをアップロードします。同名のオブジェクトは新しい内容で置き換えます。
func (p *GCSPublisher) Publish(ctx context.Context, fileID int64, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	defer src.Close()

	name := objectName(p.prefix, fileID, filepath.Base(localPath))
	w := p.client.Bucket(p.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/pdf"

	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize upload %s: %w", name, err)
	}
	return nil
}

// Close はクライアントを閉じます。
func (p *GCSPublisher) Close() error {
	return p.client.Close()
}
