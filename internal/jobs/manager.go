package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/config"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/files"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pdf"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
)

// タスク種別
const (
	TaskTypeFile  = "ocr:file"
	TaskTypeBatch = "ocr:batch"
	TaskTypeJoin  = "ocr:join"
)

const defaultQueue = "ocr"

// Enqueuer はタスクをキューに投入します。*asynq.Client が満たします。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Partitioner は入力PDFの分割としおりの抽出を行います。*pdf.Service が満たします。
type Partitioner interface {
	Partition(ctx context.Context, inputPath, scratchDir string, progress pdf.ProgressReporter) ([]pipeline.BatchDescriptor, error)
	ExtractBookmarks(ctx context.Context, path string) []pipeline.BookmarkEntry
}

// BatchProcessor は1バッチを変換します。*ocr.Worker が満たします。
type BatchProcessor interface {
	Process(ctx context.Context, batch pipeline.BatchDescriptor) pipeline.BatchOutcome
}

// Joiner はバッチの結果を結合します。*pipeline.Aggregator が満たします。
type Joiner interface {
	Join(ctx context.Context, req pipeline.JoinRequest, outcomes []pipeline.BatchOutcome) (*pipeline.JoinResult, error)
	JoinPayload(ctx context.Context, req pipeline.JoinRequest, raw []byte) (*pipeline.JoinResult, error)
}

// Deps は Manager が利用するコンポーネントです。
type Deps struct {
	Files       files.Store
	Groups      GroupStore
	Partitioner Partitioner
	Worker      BatchProcessor
	Joiner      Joiner
	Logger      *slog.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Files == nil:
		return errors.New("file store is nil")
	case d.Groups == nil:
		return errors.New("group store is nil")
	case d.Partitioner == nil:
		return errors.New("partitioner is nil")
	case d.Worker == nil:
		return errors.New("worker is nil")
	case d.Joiner == nil:
		return errors.New("joiner is nil")
	}
	return nil
}

// FilePayload はファイル単位タスク（分割と展開）のペイロードです。
type FilePayload struct {
	FileID     int64  `json:"fileId"`
	WorkflowID string `json:"workflowId"`
}

// BatchPayload はバッチ変換タスクのペイロードです。
type BatchPayload struct {
	WorkflowID string                   `json:"workflowId"`
	Batch      pipeline.BatchDescriptor `json:"batch"`
}

// JoinPayload は結合タスクのペイロードです。
type JoinPayload struct {
	WorkflowID string `json:"workflowId"`
}

// Manager はOCRジョブの投入と、分割・変換・結合の各タスクの処理を担います。
type Manager struct {
	client Enqueuer
	closer func() error
	server *asynq.Server
	mux    *asynq.ServeMux
	queue  string
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// NewManager は Asynq のクライアントとサーバーを作成し、Manager を初期化します。
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	queue := cfg.QueueName
	if queue == "" {
		queue = defaultQueue
	}
	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queue: 1,
			},
			Logger:   newAsynqLogger(deps.Logger),
			LogLevel: asynq.WarnLevel,
		},
	)

	m, err := newManager(client, server, queue, deps)
	if err != nil {
		client.Close()
		return nil, err
	}
	m.closer = client.Close
	return m, nil
}

func newManager(client Enqueuer, server *asynq.Server, queue string, deps Deps) (*Manager, error) {
	if client == nil {
		return nil, errors.New("client is nil")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if queue == "" {
		queue = defaultQueue
	}

	mux := asynq.NewServeMux()
	m := &Manager{
		client: client,
		server: server,
		mux:    mux,
		queue:  queue,
		deps:   deps,
		logger: deps.Logger,
		now:    time.Now,
	}
	mux.HandleFunc(TaskTypeFile, m.handleFileTask)
	mux.HandleFunc(TaskTypeBatch, m.handleBatchTask)
	mux.HandleFunc(TaskTypeJoin, m.handleJoinTask)
	return m, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	if m.server == nil {
		return
	}
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", "error", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.server != nil {
		m.server.Shutdown()
	}
	if m.closer != nil {
		return m.closer()
	}
	return nil
}

// Dispatch はファイルを Processing に遷移させ、分割タスクを投入します。
// 処理中のファイルを再度ディスパッチすると新しいワークフローIDで最初からやり直します。
// 同じファイルへの同時ディスパッチは排他制御していません。
func (m *Manager) Dispatch(ctx context.Context, fileID int64) (string, error) {
	err := files.WithSession(ctx, m.deps.Files, func(s files.Session) error {
		_, err := files.Transition(ctx, s, fileID, files.StatusProcessing, m.now())
		return err
	})
	if err != nil {
		return "", err
	}

	workflowID := uuid.NewString()
	body, err := json.Marshal(FilePayload{FileID: fileID, WorkflowID: workflowID})
	if err != nil {
		return "", err
	}
	task := asynq.NewTask(TaskTypeFile, body, asynq.Queue(m.queue))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(1)); err != nil {
		return "", fmt.Errorf("failed to enqueue file task: %w", err)
	}
	m.logger.Info("ocr job dispatched", "fileId", fileID, "workflowId", workflowID)
	return workflowID, nil
}

// JobStatus はファイルの状態と最新のバッチグループをまとめたものです。
type JobStatus struct {
	File  *files.Record `json:"file"`
	Group *Group        `json:"group,omitempty"`
}

// Status はファイルの処理状況を返します。グループが期限切れの場合は File のみを返します。
func (m *Manager) Status(ctx context.Context, fileID int64) (*JobStatus, error) {
	var record *files.Record
	err := files.WithSession(ctx, m.deps.Files, func(s files.Session) error {
		var err error
		record, err = s.Get(ctx, fileID)
		return err
	})
	if err != nil {
		return nil, err
	}

	status := &JobStatus{File: record}
	workflowID, err := m.deps.Groups.Latest(ctx, fileID)
	if errors.Is(err, ErrGroupNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, err
	}
	group, err := m.deps.Groups.Get(ctx, workflowID)
	if errors.Is(err, ErrGroupNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, err
	}
	status.Group = group
	return status, nil
}

func (m *Manager) handleFileTask(ctx context.Context, task *asynq.Task) error {
	var payload FilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid file payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.WorkflowID == "" {
		return fmt.Errorf("missing workflowId in payload: %w", asynq.SkipRetry)
	}
	log := m.logger.With("fileId", payload.FileID, "workflowId", payload.WorkflowID)

	var record *files.Record
	err := files.WithSession(ctx, m.deps.Files, func(s files.Session) error {
		var err error
		record, err = s.Get(ctx, payload.FileID)
		return err
	})
	if errors.Is(err, files.ErrNotFound) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	bookmarks := m.deps.Partitioner.ExtractBookmarks(ctx, record.FilePath)
	scratch := pipeline.ScratchDir(record.FilePath, record.ID, payload.WorkflowID)
	batches, err := m.deps.Partitioner.Partition(ctx, record.FilePath, scratch, func(stage string, percent int) {
		log.Debug("partition progress", "stage", stage, "percent", percent)
	})
	if err != nil {
		// ファイルは Processing のまま。分割エラーは再試行しない
		log.Error("partition failed", "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	group := &Group{
		WorkflowID: payload.WorkflowID,
		FileID:     record.ID,
		InputPath:  record.FilePath,
		FileName:   record.FileName,
		ScratchDir: scratch,
		Expected:   len(batches),
		Batches:    batches,
		Bookmarks:  bookmarks,
		Stage:      StageTransforming,
	}
	if err := m.deps.Groups.Create(ctx, group); err != nil {
		return err
	}

	if len(batches) == 0 {
		return m.enqueueJoin(ctx, payload.WorkflowID)
	}
	for _, b := range batches {
		body, err := json.Marshal(BatchPayload{WorkflowID: payload.WorkflowID, Batch: b})
		if err != nil {
			return err
		}
		t := asynq.NewTask(TaskTypeBatch, body, asynq.Queue(m.queue))
		if _, err := m.client.EnqueueContext(ctx, t,
			asynq.TaskID(fmt.Sprintf("%s:batch:%d", payload.WorkflowID, b.Start)),
			asynq.MaxRetry(3),
		); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
			return fmt.Errorf("failed to enqueue batch %s: %w", b.PageRange, err)
		}
	}
	log.Info("batches dispatched", "batches", len(batches), "bookmarks", len(bookmarks))
	return nil
}

func (m *Manager) handleBatchTask(ctx context.Context, task *asynq.Task) error {
	var payload BatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid batch payload: %v: %w", err, asynq.SkipRetry)
	}
	if _, err := m.deps.Groups.Get(ctx, payload.WorkflowID); err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	outcome := m.deps.Worker.Process(ctx, payload.Batch)

	// 変換失敗は結果として記録し、再試行はインフラ起因のエラーに限る
	group, _, err := m.deps.Groups.RecordOutcome(ctx, payload.WorkflowID, outcome)
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", payload.Batch.PageRange, err)
	}
	m.logger.Debug("batch outcome recorded",
		"workflowId", payload.WorkflowID,
		"range", payload.Batch.PageRange.String(),
		"percent", group.Progress.Percent)

	// 結合タスクの投入に失敗したバッチが再試行されたときも投入し直す。
	// 重複は TaskID で1つにまとまる
	if !group.Complete() || group.Stage != StageTransforming {
		return nil
	}
	return m.enqueueJoin(ctx, payload.WorkflowID)
}

func (m *Manager) enqueueJoin(ctx context.Context, workflowID string) error {
	body, err := json.Marshal(JoinPayload{WorkflowID: workflowID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskTypeJoin, body, asynq.Queue(m.queue))
	_, err = m.client.EnqueueContext(ctx, task, asynq.TaskID(workflowID+":join"), asynq.MaxRetry(0))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue join: %w", err)
	}
	return nil
}

func (m *Manager) handleJoinTask(ctx context.Context, task *asynq.Task) error {
	var payload JoinPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid join payload: %v: %w", err, asynq.SkipRetry)
	}
	group, err := m.deps.Groups.Update(ctx, payload.WorkflowID, func(g *Group) {
		g.Stage = StageJoining
		g.Progress.Stage = pdf.StageJoin
	})
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	result, joinErr := m.deps.Joiner.JoinPayload(ctx, group.JoinRequest(), group.OutcomePayload())

	_, err = m.deps.Groups.Update(ctx, payload.WorkflowID, func(g *Group) {
		if joinErr != nil {
			g.Stage = StageJoinFailed
			g.Error = toErrorInfo(joinErr)
			return
		}
		g.Stage = StageJoined
		g.Result = result
		g.Progress.Stage = pdf.StageCompleted
		g.Progress.Percent = 100
	})
	if err != nil {
		m.logger.Warn("failed to update group after join", "workflowId", payload.WorkflowID, "error", err)
	}
	if joinErr != nil {
		return fmt.Errorf("%w: %w", joinErr, asynq.SkipRetry)
	}
	return nil
}

func toErrorInfo(err error) *ErrorInfo {
	var pe *pipeline.Error
	if errors.As(err, &pe) {
		return &ErrorInfo{Code: pe.Code, Message: pe.Message}
	}
	return &ErrorInfo{Code: "INTERNAL_ERROR", Message: err.Error()}
}
