// Package files はアップロードされた文書とOCR処理状態を管理します。
//
// レコード自体はアプリケーション側が所有します。
// このパッケージはOCRパイプラインに必要な操作（取得、状態遷移、出力パスの保存）だけを提供します。
package files

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status はファイルの処理状態です。
type Status string

const (
	StatusNotProcessed Status = "Not processed"
	StatusProcessing   Status = "Processing"
	StatusProcessed    Status = "Processed"
	// パイプラインは FAIL_ON_AGGREGATION_ERROR が有効なときだけ設定する
	StatusFailed Status = "Failed"
)

var (
	// ErrNotFound は指定IDのレコードが存在しない場合に返されます。
	ErrNotFound = errors.New("file record not found")
	// ErrInvalidTransition は状態を後戻りさせる遷移の場合に返されます。
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Record はOCRパイプラインが使うファイル情報です。
type Record struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"projectId"`
	FileName    string     `json:"fileName"`
	FileSize    int64      `json:"fileSize"`
	FilePath    string     `json:"filePath"`
	OutputPath  string     `json:"outputPath,omitempty"`
	OutputPages int        `json:"outputPages,omitempty"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// CanTransition は状態遷移が許可されているかを判定します。
// 停止したジョブを再投入できるよう Processing -> Processing は許可します。
func CanTransition(from, to Status) bool {
	switch from {
	case StatusNotProcessed, "":
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusProcessing || to == StatusProcessed || to == StatusFailed
	default:
		return false
	}
}

// Session はストアに対する1単位の作業です。
type Session interface {
	Get(ctx context.Context, id int64) (*Record, error)
	Create(ctx context.Context, record *Record) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status, completedAt *time.Time) error
	UpdateOutput(ctx context.Context, id int64, outputPath string, pages int) error
}

// Tx はコミットまたはロールバックが必要な Session です。
type Tx interface {
	Session
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store はデータベースに対するセッションを開きます。
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// WithSession は fn をセッション内で実行し、必ず解放します。
// fn が成功すればコミットし、エラーやパニックの場合はロールバックします。
func WithSession(ctx context.Context, store Store, fn func(Session) error) (err error) {
	if store == nil {
		return errors.New("store is nil")
	}
	tx, err := store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

// Transition はレコードを読み込み、遷移を検証して新しい状態を保存します。
// completedAt は StatusProcessed のときだけ書き込みます。
func Transition(ctx context.Context, s Session, id int64, to Status, now time.Time) (*Record, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(record.Status, to) {
		return nil, fmt.Errorf("%w: %q -> %q (file %d)", ErrInvalidTransition, record.Status, to, id)
	}
	var completedAt *time.Time
	if to == StatusProcessed {
		t := now.UTC()
		completedAt = &t
	}
	if err := s.UpdateStatus(ctx, id, to, completedAt); err != nil {
		return nil, err
	}
	record.Status = to
	record.CompletedAt = completedAt
	return record, nil
}
