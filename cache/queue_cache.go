package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// 队列快照与播放进度的缓存过期时间
const snapshotTTL = 24 * time.Hour

// QueueCache 播放队列快照缓存。
// 快照是队列管理器导出的不透明JSON，这里只负责存取。
type QueueCache struct {
	client *redis.Client
}

// NewQueueCache 创建队列快照缓存
func NewQueueCache(client *redis.Client) *QueueCache {
	return &QueueCache{client: client}
}

// snapshotKey 根据播放器ID生成快照键
func snapshotKey(playerID string) string {
	return fmt.Sprintf("queue:%s:snapshot", playerID)
}

// positionKey 根据播放器ID生成播放进度键
func positionKey(playerID string) string {
	return fmt.Sprintf("queue:%s:position", playerID)
}

// SaveSnapshot 保存队列快照
func (c *QueueCache) SaveSnapshot(ctx context.Context, playerID string, snapshot []byte) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	if err := c.client.Set(ctx, snapshotKey(playerID), snapshot, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to save queue snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot 读取队列快照，不存在时返回 nil
func (c *QueueCache) LoadSnapshot(ctx context.Context, playerID string) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	data, err := c.client.Get(ctx, snapshotKey(playerID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue snapshot: %w", err)
	}
	return data, nil
}

// SavePosition 保存当前曲目与曲目内位置（秒）
func (c *QueueCache) SavePosition(ctx context.Context, playerID, trackID string, position float64) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	err := c.client.HSet(ctx, positionKey(playerID), map[string]interface{}{
		"trackId":  trackID,
		"position": position,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to save playback position: %w", err)
	}
	return c.client.Expire(ctx, positionKey(playerID), snapshotTTL).Err()
}

// LoadPosition 读取保存的播放进度
func (c *QueueCache) LoadPosition(ctx context.Context, playerID string) (trackID string, position float64, err error) {
	if c == nil || c.client == nil {
		return "", 0, fmt.Errorf("Redis client not initialized")
	}

	vals, err := c.client.HGetAll(ctx, positionKey(playerID)).Result()
	if err != nil {
		return "", 0, fmt.Errorf("failed to load playback position: %w", err)
	}
	if len(vals) == 0 {
		return "", 0, nil
	}

	trackID = vals["trackId"]
	fmt.Sscanf(vals["position"], "%f", &position)
	return trackID, position, nil
}
