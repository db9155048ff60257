package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
)

const (
	groupKeyPrefix   = "ocr:group:"
	latestKeyPrefix  = "ocr:file:"
	maxUpdateRetries = 50
)

// ErrGroupNotFound はバッチグループが存在しない（期限切れを含む）場合に返されます。
var ErrGroupNotFound = errors.New("batch group not found")

// GroupStore はバッチグループの状態を保存します。
type GroupStore interface {
	Create(ctx context.Context, group *Group) error
	Get(ctx context.Context, workflowID string) (*Group, error)
	RecordOutcome(ctx context.Context, workflowID string, outcome pipeline.BatchOutcome) (*Group, bool, error)
	Update(ctx context.Context, workflowID string, mutate func(*Group)) (*Group, error)
	Latest(ctx context.Context, fileID int64) (string, error)
}

// RedisGroups はバッチグループを Redis に保存します。
// 更新は WATCH による楽観的トランザクションで行うため、並行するバッチからの結果登録が失われません。
type RedisGroups struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedisGroups は RedisGroups を作成します。
func NewRedisGroups(rdb *redis.Client, ttl time.Duration) *RedisGroups {
	return &RedisGroups{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

// Create はグループを保存し、ファイルごとの最新ワークフローとして記録します。
func (s *RedisGroups) Create(ctx context.Context, group *Group) error {
	if group == nil {
		return errors.New("group is nil")
	}
	if group.WorkflowID == "" {
		return errors.New("group.WorkflowID is required")
	}
	stampNew(group, s.now(), s.ttl)

	payload, err := json.Marshal(group)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, groupKey(group.WorkflowID), payload, s.ttl)
		pipe.Set(ctx, latestKey(group.FileID), group.WorkflowID, s.ttl)
		return nil
	})
	return err
}

// Get はグループを取得します。
func (s *RedisGroups) Get(ctx context.Context, workflowID string) (*Group, error) {
	if workflowID == "" {
		return nil, errors.New("workflowID is required")
	}
	data, err := s.rdb.Get(ctx, groupKey(workflowID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, workflowID)
		}
		return nil, err
	}
	var group Group
	if err := json.Unmarshal(data, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// RecordOutcome はバッチの結果を登録します。この登録でグループが完了した場合のみ true を返します。
func (s *RedisGroups) RecordOutcome(ctx context.Context, workflowID string, outcome pipeline.BatchOutcome) (*Group, bool, error) {
	var complete bool
	group, err := s.update(ctx, workflowID, func(g *Group) error {
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
func (s *RedisGroups) Update(ctx context.Context, workflowID string, mutate func(*Group)) (*Group, error) {
	return s.update(ctx, workflowID, func(g *Group) error {
		mutate(g)
		return nil
	})
}

// Latest はファイルに対して最後にディスパッチされたワークフローIDを返します。
func (s *RedisGroups) Latest(ctx context.Context, fileID int64) (string, error) {
	id, err := s.rdb.Get(ctx, latestKey(fileID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: file %d", ErrGroupNotFound, fileID)
	}
	return id, err
}

func (s *RedisGroups) update(ctx context.Context, workflowID string, mutate func(*Group) error) (*Group, error) {
	key := groupKey(workflowID)
	var result *Group
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrGroupNotFound, workflowID)
			}
			return err
		}
		var group Group
		if err := json.Unmarshal(data, &group); err != nil {
			return err
		}
		if err := mutate(&group); err != nil {
			return err
		}
		group.UpdatedAt = s.now().UTC()
		payload, err := json.Marshal(&group)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		if err == nil {
			result = &group
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("group %s: too many concurrent updates", workflowID)
}

func stampNew(group *Group, now time.Time, ttl time.Duration) {
	now = now.UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	if group.ExpiresAt.IsZero() && ttl > 0 {
		group.ExpiresAt = group.CreatedAt.Add(ttl)
	}
	if group.Stage == "" {
		group.Stage = StageTransforming
	}
}

func groupKey(id string) string {
	return groupKeyPrefix + id
}

func latestKey(fileID int64) string {
	return latestKeyPrefix + strconv.FormatInt(fileID, 10) + ":workflow"
}
