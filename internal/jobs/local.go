package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/files"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
)

// LocalRunner はキューを使わずに1つのプロセス内でジョブを実行します。
// バッチは並行に変換され、すべての完了を待ってから結合します。
type LocalRunner struct {
	deps        Deps
	parallelism int
	logger      *slog.Logger
	now         func() time.Time
}

// NewLocalRunner は LocalRunner を作成します。parallelism が0以下の場合は無制限です。
func NewLocalRunner(deps Deps, parallelism int) (*LocalRunner, error) {
	if deps.Groups == nil {
		deps.Groups = NewMemoryGroups()
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &LocalRunner{deps: deps, parallelism: parallelism, logger: deps.Logger, now: time.Now}, nil
}

// Run はファイルを Processing に遷移させ、分割・変換・結合を順に実行します。
func (r *LocalRunner) Run(ctx context.Context, fileID int64) (*pipeline.JoinResult, error) {
	var record *files.Record
	err := files.WithSession(ctx, r.deps.Files, func(s files.Session) error {
		var err error
		record, err = files.Transition(ctx, s, fileID, files.StatusProcessing, r.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	workflowID := uuid.NewString()
	log := r.logger.With("fileId", fileID, "workflowId", workflowID)

	bookmarks := r.deps.Partitioner.ExtractBookmarks(ctx, record.FilePath)
	scratch := pipeline.ScratchDir(record.FilePath, record.ID, workflowID)
	batches, err := r.deps.Partitioner.Partition(ctx, record.FilePath, scratch, nil)
	if err != nil {
		log.Error("partition failed", "error", err)
		return nil, err
	}

	group := &Group{
		WorkflowID: workflowID,
		FileID:     record.ID,
		InputPath:  record.FilePath,
		FileName:   record.FileName,
		ScratchDir: scratch,
		Expected:   len(batches),
		Batches:    batches,
		Bookmarks:  bookmarks,
	}
	if err := r.deps.Groups.Create(ctx, group); err != nil {
		return nil, err
	}

	outcomes := make([]pipeline.BatchOutcome, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	if r.parallelism > 0 {
		g.SetLimit(r.parallelism)
	}
	for i, b := range batches {
		g.Go(func() error {
			outcomes[i] = r.deps.Worker.Process(gctx, b)
			if _, _, err := r.deps.Groups.RecordOutcome(gctx, workflowID, outcomes[i]); err != nil {
				log.Warn("failed to record outcome", "range", b.PageRange.String(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	result, joinErr := r.deps.Joiner.Join(ctx, group.JoinRequest(), outcomes)
	_, err = r.deps.Groups.Update(ctx, workflowID, func(g *Group) {
		if joinErr != nil {
			g.Stage = StageJoinFailed
			g.Error = toErrorInfo(joinErr)
			return
		}
		g.Stage = StageJoined
		g.Result = result
	})
	if err != nil && !errors.Is(err, ErrGroupNotFound) {
		log.Warn("failed to update group after join", "error", err)
	}
	if joinErr != nil {
		return nil, fmt.Errorf("join failed: %w", joinErr)
	}
	return result, nil
}
