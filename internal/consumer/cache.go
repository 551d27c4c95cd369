package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/config"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CacheManager Redis 缓存管理器
// 维护两类键：实时状态（供查询 API 读取，短 TTL）与引擎状态
// 快照（跨重启恢复用，长 TTL）
type CacheManager struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// UpdateRealtime 更新实时状态缓存
func (c *CacheManager) UpdateRealtime(ctx context.Context, snapshot *models.RealtimeSnapshot) error {
	key := c.config.Monitor.Cache.RealtimePrefix + snapshot.WearerID

	jsonData, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal realtime snapshot: %w", err)
	}

	err = c.redisClient.Set(ctx, key, jsonData,
		time.Duration(c.config.Monitor.Cache.RealtimeTTL)*time.Second,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set realtime cache: %w", err)
	}

	c.logger.Debug("Updated realtime cache",
		zap.String("wearer_id", snapshot.WearerID),
		zap.String("key", key),
	)

	return nil
}

// GetRealtime 读取实时状态缓存
// 缓存未命中（过期或从未写入）返回 (nil, nil)
func (c *CacheManager) GetRealtime(ctx context.Context, wearerID string) (*models.RealtimeSnapshot, error) {
	key := c.config.Monitor.Cache.RealtimePrefix + wearerID

	data, err := c.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get realtime cache: %w", err)
	}

	var snapshot models.RealtimeSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal realtime snapshot: %w", err)
	}

	return &snapshot, nil
}

// SaveEngineState 保存引擎状态快照
func (c *CacheManager) SaveEngineState(ctx context.Context, snapshot models.EngineSnapshot) error {
	key := c.config.Monitor.Cache.StatePrefix + snapshot.WearerID

	jsonData, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal engine snapshot: %w", err)
	}

	err = c.redisClient.Set(ctx, key, jsonData,
		time.Duration(c.config.Monitor.Cache.StateTTL)*time.Second,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set engine state: %w", err)
	}

	return nil
}

// LoadEngineState 加载引擎状态快照
// 没有快照（新佩戴者或已过期）返回 (nil, nil)
func (c *CacheManager) LoadEngineState(ctx context.Context, wearerID string) (*models.EngineSnapshot, error) {
	key := c.config.Monitor.Cache.StatePrefix + wearerID

	data, err := c.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get engine state: %w", err)
	}

	var snapshot models.EngineSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal engine snapshot: %w", err)
	}

	return &snapshot, nil
}

// ListActiveWearers 列出有实时数据的佩戴者（通过扫描 Redis 键）
// 注意：这个方法效率较低，只用于低频查询
func (c *CacheManager) ListActiveWearers(ctx context.Context) ([]string, error) {
	pattern := c.config.Monitor.Cache.RealtimePrefix + "*"

	var wearerIDs []string
	iter := c.redisClient.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		wearerIDs = append(wearerIDs, key[len(c.config.Monitor.Cache.RealtimePrefix):])
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan realtime keys: %w", err)
	}

	return wearerIDs, nil
}
