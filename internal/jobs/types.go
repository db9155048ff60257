package jobs

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pdf"
	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
)

// Stage はバッチグループの進行段階を表します。
type Stage string

const (
	StageTransforming Stage = "transforming"
	StageJoining      Stage = "joining"
	StageJoined       Stage = "joined"
	StageJoinFailed   Stage = "join_failed"
)

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent   int    `json:"percent"`
	Stage     string `json:"stage,omitempty"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// ErrorInfo は結合失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Group は1回のディスパッチで生成されたバッチ群と、その結果を保持します。
// すべてのバッチが終端状態になった時点で結合タスクが投入されます。
type Group struct {
	WorkflowID string                     `json:"workflowId"`
	FileID     int64                      `json:"fileId"`
	InputPath  string                     `json:"inputPath"`
	FileName   string                     `json:"fileName"`
	ScratchDir string                     `json:"scratchDir"`
	Expected   int                        `json:"expected"`
	Batches    []pipeline.BatchDescriptor `json:"batches"`
	Bookmarks  []pipeline.BookmarkEntry   `json:"bookmarks,omitempty"`
	Outcomes   map[int]json.RawMessage    `json:"outcomes"`
	Stage      Stage                      `json:"stage"`
	Progress   ProgressInfo               `json:"progress"`
	Result     *pipeline.JoinResult       `json:"result,omitempty"`
	Error      *ErrorInfo                 `json:"error,omitempty"`
	CreatedAt  time.Time                  `json:"createdAt"`
	UpdatedAt  time.Time                  `json:"updatedAt"`
	ExpiresAt  time.Time                  `json:"expiresAt"`
}

// Complete はすべてのバッチの結果が揃っているかを返します。
func (g *Group) Complete() bool {
	return len(g.Outcomes) >= g.Expected
}

// OutcomePayload は結果を開始ページ順に並べたJSON配列を返します。
func (g *Group) OutcomePayload() []byte {
	starts := make([]int, 0, len(g.Outcomes))
	for start := range g.Outcomes {
		starts = append(starts, start)
	}
	sort.Ints(starts)
	items := make([]json.RawMessage, 0, len(starts))
	for _, start := range starts {
		items = append(items, g.Outcomes[start])
	}
	payload, _ := json.Marshal(items)
	return payload
}

// JoinRequest は結合処理への入力を組み立てます。
func (g *Group) JoinRequest() pipeline.JoinRequest {
	expected := make([]pipeline.PageRange, 0, len(g.Batches))
	for _, b := range g.Batches {
		expected = append(expected, b.PageRange)
	}
	return pipeline.JoinRequest{
		FileID:     g.FileID,
		WorkflowID: g.WorkflowID,
		InputPath:  g.InputPath,
		FileName:   g.FileName,
		ScratchDir: g.ScratchDir,
		Expected:   expected,
		Bookmarks:  g.Bookmarks,
	}
}

// applyOutcome はバッチの結果を保存し、この呼び出しでグループが完了した場合のみ true を返します。
// 同じ範囲の結果が再度届いた場合は上書きし、グループを二度完了させることはありません。
func applyOutcome(g *Group, outcome pipeline.BatchOutcome) (bool, error) {
	payload, err := pipeline.MarshalOutcome(outcome)
	if err != nil {
		return false, err
	}
	if g.Outcomes == nil {
		g.Outcomes = make(map[int]json.RawMessage)
	}
	wasComplete := g.Complete()
	g.Outcomes[outcome.Range().Start] = payload

	completed, failed := 0, 0
	for _, raw := range g.Outcomes {
		var probe struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(raw, &probe); err == nil && probe.Kind == "failure" {
			failed++
		} else {
			completed++
		}
	}
	g.Progress = ProgressInfo{
		Percent:   pdf.BatchProgress(len(g.Outcomes), g.Expected),
		Stage:     pdf.StageTransform,
		Completed: completed,
		Failed:    failed,
	}
	return !wasComplete && g.Complete(), nil
}
