package consumer

import (
	"context"
	"sync"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/engine"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/metrics"

	"go.uber.org/zap"
)

// engineEntry 单个佩戴者的引擎与串行化锁
// 引擎本身不做并发保护，所有访问都必须持有 mu
type engineEntry struct {
	mu     sync.Mutex
	engine *engine.Engine
}

// EngineRegistry 按佩戴者管理检测引擎
// 第一次见到佩戴者时创建引擎，并尝试从状态快照恢复
type EngineRegistry struct {
	mu      sync.RWMutex
	entries map[string]*engineEntry

	engineCfg engine.Config
	cache     *CacheManager // 可为 nil（不做恢复）
	logger    *zap.Logger
}

// NewEngineRegistry 创建引擎注册表
func NewEngineRegistry(engineCfg engine.Config, cache *CacheManager, logger *zap.Logger) *EngineRegistry {
	return &EngineRegistry{
		entries:   make(map[string]*engineEntry),
		engineCfg: engineCfg,
		cache:     cache,
		logger:    logger,
	}
}

// WithEngine 在持锁状态下访问某个佩戴者的引擎
func (r *EngineRegistry) WithEngine(ctx context.Context, wearerID string, fn func(*engine.Engine)) {
	entry := r.getOrCreate(ctx, wearerID)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	fn(entry.engine)
}

// ForEach 遍历所有在管引擎（用于时钟驱动与快照落盘）
// 逐个持锁执行，不整体锁表
func (r *EngineRegistry) ForEach(fn func(wearerID string, e *engine.Engine)) {
	r.mu.RLock()
	snapshot := make(map[string]*engineEntry, len(r.entries))
	for id, entry := range r.entries {
		snapshot[id] = entry
	}
	r.mu.RUnlock()

	for id, entry := range snapshot {
		entry.mu.Lock()
		fn(id, entry.engine)
		entry.mu.Unlock()
	}
}

// Count 在管引擎数量
func (r *EngineRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *EngineRegistry) getOrCreate(ctx context.Context, wearerID string) *engineEntry {
	r.mu.RLock()
	entry, ok := r.entries[wearerID]
	r.mu.RUnlock()
	if ok {
		return entry
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// 双检：拿写锁期间别的协程可能已经创建
	if entry, ok := r.entries[wearerID]; ok {
		return entry
	}

	eng := engine.New(wearerID, r.engineCfg)

	if r.cache != nil {
		snapshot, err := r.cache.LoadEngineState(ctx, wearerID)
		if err != nil {
			r.logger.Warn("Failed to load engine state, starting fresh",
				zap.String("wearer_id", wearerID),
				zap.Error(err),
			)
		} else if snapshot != nil {
			eng.Restore(*snapshot)
			r.logger.Info("Restored engine state from snapshot",
				zap.String("wearer_id", wearerID),
				zap.Time("saved_at", snapshot.SavedAt),
				zap.Int("events", len(snapshot.Events)),
			)
		}
	}

	entry = &engineEntry{engine: eng}
	r.entries[wearerID] = entry
	metrics.ActiveEngines.Set(float64(len(r.entries)))

	return entry
}
