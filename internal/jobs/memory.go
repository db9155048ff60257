package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
)

// MemoryGroups はプロセス内で完結する GroupStore です。単一プロセスでの実行とテストに使用します。
type MemoryGroups struct {
	mu     sync.Mutex
	groups map[string][]byte
	latest map[int64]string
	now    func() time.Time
}

// NewMemoryGroups は MemoryGroups を作成します。
func NewMemoryGroups() *MemoryGroups {
	return &MemoryGroups{
		groups: make(map[string][]byte),
		latest: make(map[int64]string),
		now:    time.Now,
	}
}

// Create はグループを保存します。
func (s *MemoryGroups) Create(ctx context.Context, group *Group) error {
	if group == nil || group.WorkflowID == "" {
		return errors.New("group with workflow id is required")
	}
	stampNew(group, s.now(), 0)
	payload, err := json.Marshal(group)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[group.WorkflowID] = payload
	s.latest[group.FileID] = group.WorkflowID
	return nil
}

// Get はグループのコピーを返します。
func (s *MemoryGroups) Get(ctx context.Context, workflowID string) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(workflowID)
}

// RecordOutcome はバッチの結果を登録します。
func (s *MemoryGroups) RecordOutcome(ctx context.Context, workflowID string, outcome pipeline.BatchOutcome) (*Group, bool, error) {
	var complete bool
	group, err := s.update(workflowID, func(g *Group) error {
		var err error
		complete, err = applyOutcome(g, outcome)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return group, complete, nil
}

// Update はグループを部分更新します。
func (s *MemoryGroups) Update(ctx context.Context, workflowID string, mutate func(*Group)) (*Group, error) {
	return s.update(workflowID, func(g *Group) error {
		mutate(g)
		return nil
	})
}

// Latest はファイルに対して最後にディスパッチされたワークフローIDを返します。
func (s *MemoryGroups) Latest(ctx context.Context, fileID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.latest[fileID]
	if !ok {
		return "", fmt.Errorf("%w: file %d", ErrGroupNotFound, fileID)
	}
	return id, nil
}

func (s *MemoryGroups) update(workflowID string, mutate func(*Group) error) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, err := s.load(workflowID)
	if err != nil {
		return nil, err
	}
	if err := mutate(group); err != nil {
		return nil, err
	}
	group.UpdatedAt = s.now().UTC()
	payload, err := json.Marshal(group)
	if err != nil {
		return nil, err
	}
	s.groups[workflowID] = payload
	return group, nil
}

func (s *MemoryGroups) load(workflowID string) (*Group, error) {
	data, ok := s.groups[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, workflowID)
	}
	var group Group
	if err := json.Unmarshal(data, &group); err != nil {
		return nil, err
	}
	return &group, nil
}
