package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/files"
)

// Policy は一部のバッチが失敗したときの結合の振る舞いを決めます。
type Policy string

const (
	// PolicyLenient は失敗・欠落した範囲を省いてジョブを完了させます。
	// ただし成功したバッチが1つも無い場合は空の成果物を作らず PARTIAL_FAILURE で中断します。
	PolicyLenient Policy = "lenient"
	// PolicyStrict は1つでも範囲が欠けると結合を中断します。
	PolicyStrict Policy = "strict"
)

// ParsePolicy はポリシー名を検証します。空文字列は lenient として扱います。
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyLenient:
		return PolicyLenient, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown partial failure policy %q (want lenient or strict)", s)
	}
}

// Merger は文書を順に連結し、出力のページ数を返します。
type Merger interface {
	Merge(ctx context.Context, inputs []string, outputPath string) (int, error)
}

// Outliner は既存の文書にしおりを書き込みます。
type Outliner interface {
	AttachBookmarks(ctx context.Context, documentPath string, entries []BookmarkEntry) error
}

// Publisher はジョブ完了後に最終成果物を受け取ります。
type Publisher interface {
	Publish(ctx context.Context, fileID int64, localPath string) error
}

// JoinRequest は結合対象のジョブを表します。
type JoinRequest struct {
	FileID     int64
	WorkflowID string
	InputPath  string
	FileName   string
	ScratchDir string
	// 投入した全範囲。結果が届かなかった範囲は失敗として扱う
	Expected  []PageRange
	Bookmarks []BookmarkEntry
	// しおり再配置の対象範囲。ゼロ値は最終文書全体
	Window PageRange
}

// JoinResult は完了した結合の概要です。
type JoinResult struct {
	OutputPath        string      `json:"outputPath"`
	Pages             int         `json:"pages"`
	Included          []PageRange `json:"included"`
	Omitted           []PageRange `json:"omitted,omitempty"`
	BookmarksAttached int         `json:"bookmarksAttached"`
}

// AggregatorOptions は Aggregator の設定です。
type AggregatorOptions struct {
	Policy Policy
	// 結合中断時に Processing のままにせず Failed へ遷移させる
	MarkFailedOnError bool
	Publisher         Publisher
	Logger            *slog.Logger
	Now               func() time.Time
}

// Aggregator はジョブの結合（ファンイン）処理を実行します。
type Aggregator struct {
	store    files.Store
	merger   Merger
	outliner Outliner
	opts     AggregatorOptions
}

// NewAggregator は依存を検証して Aggregator を生成します。
func NewAggregator(store files.Store, merger Merger, outliner Outliner, opts AggregatorOptions) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if merger == nil {
		return nil, errors.New("merger is nil")
	}
	if opts.Policy == "" {
		opts.Policy = PolicyLenient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{store: store, merger: merger, outliner: outliner, opts: opts}, nil
}

// JoinPayload はキューのペイロードをデコードして結合します。
func (a *Aggregator) JoinPayload(ctx context.Context, req JoinRequest, raw []byte) (*JoinResult, error) {
	outcomes, err := DecodeOutcomes(raw)
	if err != nil {
		log := a.logger(req)
		defer a.cleanup(req.ScratchDir, log)
		a.abort(ctx, req, err, log)
		return nil, err
	}
	return a.Join(ctx, req, outcomes)
}

// Join は結果をページ順に並べ、成功したバッチを最終成果物に連結してファイルを Processed にします。
// その後、再配置したしおりを付与します。
// 中断時はファイルの状態を変更せず（設定があれば Failed にし）、再試行もしません。
// 作業ファイルはどの場合でも削除します。
func (a *Aggregator) Join(ctx context.Context, req JoinRequest, outcomes []BatchOutcome) (*JoinResult, error) {
	log := a.logger(req)
	defer a.cleanup(req.ScratchDir, log)

	result, err := a.assemble(ctx, req, outcomes)
	if err == nil {
		err = files.WithSession(ctx, a.store, func(s files.Session) error {
			if _, err := files.Transition(ctx, s, req.FileID, files.StatusProcessed, a.opts.Now()); err != nil {
				return err
			}
			return s.UpdateOutput(ctx, req.FileID, result.OutputPath, result.Pages)
		})
	}
	if err != nil {
		a.abort(ctx, req, err, log)
		return nil, err
	}
	log.Info("join completed",
		"output", result.OutputPath,
		"pages", result.Pages,
		"included", len(result.Included),
		"omitted", len(result.Omitted))

	a.finalize(ctx, req, result, log)
	return result, nil
}

func (a *Aggregator) assemble(ctx context.Context, req JoinRequest, outcomes []BatchOutcome) (*JoinResult, error) {
	if outcomes == nil {
		return nil, NewError(CodeAggregationFormat, "join received no outcome list", nil)
	}

	ordered := make([]BatchOutcome, 0, len(outcomes))
	seen := make(map[int]struct{}, len(outcomes))
	for i, o := range outcomes {
		if o == nil {
			return nil, NewError(CodeAggregationFormat, fmt.Sprintf("outcome %d is nil", i), nil)
		}
		r := o.Range()
		if r.Start < 1 || r.End < r.Start {
			return nil, NewError(CodeAggregationKey, fmt.Sprintf("outcome %d has invalid range %s", i, r), nil)
		}
		if s, ok := o.(Success); ok && s.ArtifactPath == "" {
			return nil, NewError(CodeAggregationKey, fmt.Sprintf("outcome %d has no artifact path", i), nil)
		}
		if _, dup := seen[r.Start]; dup {
			return nil, NewError(CodeAggregationFormat, fmt.Sprintf("duplicate outcome for range %s", r), nil)
		}
		seen[r.Start] = struct{}{}
		ordered = append(ordered, o)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Range().Start < ordered[j].Range().Start
	})

	result := &JoinResult{OutputPath: OutputPath(req.InputPath, req.FileName)}
	inputs := make([]string, 0, len(ordered))
	for _, o := range ordered {
		switch v := o.(type) {
		case Success:
			inputs = append(inputs, v.ArtifactPath)
			result.Included = append(result.Included, v.PageRange)
		case Failure:
			result.Omitted = append(result.Omitted, v.PageRange)
		}
	}
	for _, r := range req.Expected {
		if _, ok := seen[r.Start]; !ok {
			result.Omitted = append(result.Omitted, r)
		}
	}
	sort.Slice(result.Omitted, func(i, j int) bool {
		return result.Omitted[i].Start < result.Omitted[j].Start
	})

	if len(result.Omitted) > 0 && a.opts.Policy == PolicyStrict {
		return nil, NewError(CodePartialFailure, fmt.Sprintf("%d batch(es) missing from output: %v", len(result.Omitted), result.Omitted), nil)
	}
	if len(inputs) == 0 {
		return nil, NewError(CodePartialFailure, "no batch produced output", nil)
	}

	pages, err := a.merger.Merge(ctx, inputs, result.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to concatenate batches: %w", err)
	}
	result.Pages = pages
	return result, nil
}

func (a *Aggregator) abort(ctx context.Context, req JoinRequest, cause error, log *slog.Logger) {
	log.Error("join aborted; file status left unchanged", "error", cause, "markFailed", a.opts.MarkFailedOnError)
	if !a.opts.MarkFailedOnError {
		return
	}
	err := files.WithSession(ctx, a.store, func(s files.Session) error {
		_, err := files.Transition(ctx, s, req.FileID, files.StatusFailed, a.opts.Now())
		return err
	})
	if err != nil {
		log.Error("failed to mark file as failed", "error", err)
	}
}

// finalize はしおりを付与して成果物を公開します。
// エラーはログに記録するだけで、ジョブは Processed のままです。
func (a *Aggregator) finalize(ctx context.Context, req JoinRequest, result *JoinResult, log *slog.Logger) {
	if a.outliner != nil && len(req.Bookmarks) > 0 {
		window := req.Window
		if window.Start == 0 && window.End == 0 {
			window = PageRange{Start: 1, End: result.Pages}
		}
		entries := RemapBookmarks(req.Bookmarks, window.Start, window.End)
		if len(entries) > 0 {
			if err := a.outliner.AttachBookmarks(ctx, result.OutputPath, entries); err != nil {
				log.Error("failed to reattach bookmarks",
					"error", NewError(CodeFinalization, "bookmark reattachment failed", err))
			} else {
				result.BookmarksAttached = len(entries)
			}
		}
	}

	if a.opts.Publisher != nil {
		if err := a.opts.Publisher.Publish(ctx, req.FileID, result.OutputPath); err != nil {
			log.Error("failed to publish output",
				"error", NewError(CodeFinalization, "publish failed", err))
		}
	}
}

func (a *Aggregator) cleanup(dir string, log *slog.Logger) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("failed to remove scratch directory", "dir", dir, "error", err)
		return
	}
	// 他のワークフローが使用中でなければファイル単位のディレクトリも消える
	_ = os.Remove(filepath.Dir(dir))
}

func (a *Aggregator) logger(req JoinRequest) *slog.Logger {
	return a.opts.Logger.With("fileId", req.FileID, "workflowId", req.WorkflowID)
}
