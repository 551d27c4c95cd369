package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	rediscommon "github.com/LauraMoney42/SecureHeart-sub001/internal/common/redis"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/config"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/engine"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/metrics"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Metrics 监控指标
type Metrics struct {
	mu sync.RWMutex

	// 消息处理统计
	MessagesProcessed int64 // 处理的消息总数
	MessagesSucceeded int64 // 成功处理的消息数
	MessagesFailed    int64 // 处理失败的消息数
	MessagesSkipped   int64 // 跳过的消息数（佩戴者缺失、未知类型等）

	// 错误分类统计
	ErrorsParse    int64 // 解析错误
	ErrorsDispatch int64 // 结果分发失败（落库/发布/缓存）
	ErrorsSnapshot int64 // 引擎状态落盘失败

	// 性能指标
	TotalProcessingTime time.Duration // 总处理时间
	LastProcessTime     time.Time     // 最后处理时间

	// 启动时间
	StartTime time.Time
}

// GetSnapshot 获取指标快照（线程安全）
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed:   m.MessagesProcessed,
		MessagesSucceeded:   m.MessagesSucceeded,
		MessagesFailed:      m.MessagesFailed,
		MessagesSkipped:     m.MessagesSkipped,
		ErrorsParse:         m.ErrorsParse,
		ErrorsDispatch:      m.ErrorsDispatch,
		ErrorsSnapshot:      m.ErrorsSnapshot,
		TotalProcessingTime: m.TotalProcessingTime,
		LastProcessTime:     m.LastProcessTime,
		StartTime:           m.StartTime,
	}
}

// IncrementProcessed 增加处理计数
func (m *Metrics) IncrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
}

// IncrementSucceeded 增加成功计数
func (m *Metrics) IncrementSucceeded(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSucceeded++
	m.TotalProcessingTime += duration
	m.LastProcessTime = time.Now()
}

// IncrementFailed 增加失败计数
func (m *Metrics) IncrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	switch errorType {
	case "parse":
		m.ErrorsParse++
	case "dispatch":
		m.ErrorsDispatch++
	case "snapshot":
		m.ErrorsSnapshot++
	}
}

// IncrementSkipped 增加跳过计数
func (m *Metrics) IncrementSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSkipped++
}

// IncrementSnapshotFailed 增加落盘失败计数（不计入消息失败）
func (m *Metrics) IncrementSnapshotFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorsSnapshot++
}

// tickResult 时钟驱动产生的待分发结果
type tickResult struct {
	out engine.PostureOutcome
	rt  *models.RealtimeSnapshot
}

// StreamConsumer Redis Streams 消费者
// 消费遥测流，按佩戴者路由到检测引擎，再把引擎产出交给分发器；
// 同时驱动引擎时钟（到期的稳定期/静默检测）和周期性状态落盘
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	registry    *EngineRegistry
	dispatcher  *Dispatcher
	cache       *CacheManager
	logger      *zap.Logger
	metrics     *Metrics
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	registry *EngineRegistry,
	dispatcher *Dispatcher,
	cache *CacheManager,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		registry:    registry,
		dispatcher:  dispatcher,
		cache:       cache,
		logger:      logger,
		metrics: &Metrics{
			StartTime: time.Now(),
		},
	}
}

// Start 启动消费者
func (c *StreamConsumer) Start(ctx context.Context) error {
	// 创建消费者组
	stream := c.config.Monitor.Stream.Telemetry
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, stream, c.config.Monitor.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("consumer_group", c.config.Monitor.ConsumerGroup),
		zap.String("consumer_name", c.config.Monitor.ConsumerName),
		zap.String("stream", stream),
	)

	// 启动后台协程：指标报告、引擎时钟、状态落盘
	loopCtx, loopCancel := context.WithCancel(ctx)
	defer loopCancel()
	go c.reportMetrics(loopCtx)
	go c.tickLoop(loopCtx)
	go c.snapshotLoop(loopCtx)

	// 启动消费循环
	backoffDuration := time.Second // 初始退避时间
	maxBackoff := 30 * time.Second // 最大退避时间

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeStream(ctx, stream); err != nil {
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				// 指数退避：等待后重试
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					// 指数退避，但不超过最大值
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				// 成功时重置退避时间
				backoffDuration = time.Second
			}
		}
	}
}

// consumeStream 消费单个 Stream
func (c *StreamConsumer) consumeStream(ctx context.Context, stream string) error {
	// 从 Stream 读取消息
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		stream,
		c.config.Monitor.ConsumerGroup,
		c.config.Monitor.ConsumerName,
		c.config.Monitor.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	// 处理消息
	for _, msg := range messages {
		c.metrics.IncrementProcessed()
		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.Error("Failed to process message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
		}

		// 解析失败的消息重投也无法成功，处理过即确认
		if err := rediscommon.AckMessage(ctx, c.redisClient, stream, c.config.Monitor.ConsumerGroup, msg.ID); err != nil {
			c.logger.Error("Failed to ack message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// processMessage 处理单条消息
//
// 处理流程：
// 1. 解析遥测消息（心率/运动分类/加速度）
// 2. 路由到该佩戴者的检测引擎（引擎内无 I/O，持锁执行）
// 3. 引擎产出在锁外分发：落库、发布输出流、刷新缓存、推送报警
func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	startTime := time.Now()

	// 解析消息数据
	var dataStr string
	if val, ok := msg.Values["data"]; ok {
		if str, ok := val.(string); ok {
			dataStr = str
		} else {
			c.metrics.IncrementFailed("parse")
			return fmt.Errorf("invalid data format in message")
		}
	} else {
		c.metrics.IncrementFailed("parse")
		return fmt.Errorf("missing data field in message")
	}

	// 解析 JSON
	var telemetry models.TelemetryMessage
	if err := json.Unmarshal([]byte(dataStr), &telemetry); err != nil {
		c.metrics.IncrementFailed("parse")
		c.logger.Error("Failed to parse telemetry message",
			zap.String("stream_id", msg.ID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal telemetry message: %w", err)
	}

	if telemetry.WearerID == "" {
		c.metrics.IncrementSkipped()
		c.logger.Warn("Telemetry without wearer_id",
			zap.String("stream_id", msg.ID),
			zap.String("kind", telemetry.Kind),
		)
		return nil
	}

	// 样本时间：优先用设备时间戳，缺失时退回服务器时间
	at := time.Now()
	if telemetry.Timestamp > 0 {
		at = time.Unix(telemetry.Timestamp, 0)
	}

	c.logger.Debug("Processing telemetry",
		zap.String("wearer_id", telemetry.WearerID),
		zap.String("kind", telemetry.Kind),
		zap.Time("sample_time", at),
	)

	// 路由到引擎，锁内只执行纯计算，产出带出锁外分发
	var hrOut engine.HeartRateOutcome
	var postureOut engine.PostureOutcome
	var rt *models.RealtimeSnapshot
	isHeartRate := false

	switch telemetry.Kind {
	case models.TelemetryKindHeartRate:
		isHeartRate = true
		c.registry.WithEngine(ctx, telemetry.WearerID, func(e *engine.Engine) {
			hrOut = e.ProcessHeartRate(telemetry.BPM, at)
			rt = buildRealtime(e, telemetry.WearerID, at)
		})
	case models.TelemetryKindMotion:
		c.registry.WithEngine(ctx, telemetry.WearerID, func(e *engine.Engine) {
			postureOut = e.ObserveActivity(models.ActivityKind(telemetry.Activity), models.Confidence(telemetry.Confidence), at)
			if len(postureOut.Changes) > 0 {
				rt = buildRealtime(e, telemetry.WearerID, at)
			}
		})
	case models.TelemetryKindAccel:
		c.registry.WithEngine(ctx, telemetry.WearerID, func(e *engine.Engine) {
			postureOut = e.ObserveAcceleration(telemetry.X, telemetry.Y, telemetry.Z, at)
			if len(postureOut.Changes) > 0 {
				rt = buildRealtime(e, telemetry.WearerID, at)
			}
		})
	default:
		c.metrics.IncrementSkipped()
		c.logger.Warn("Unknown telemetry kind",
			zap.String("stream_id", msg.ID),
			zap.String("kind", telemetry.Kind),
		)
		return nil
	}

	metrics.SamplesProcessed.WithLabelValues(telemetry.Kind).Inc()

	// 分发引擎产出
	var dispatchErr error
	if isHeartRate {
		dispatchErr = c.dispatcher.DispatchHeartRate(ctx, hrOut, rt)
	} else {
		dispatchErr = c.dispatcher.DispatchPosture(ctx, postureOut, rt)
	}
	if dispatchErr != nil {
		c.metrics.IncrementFailed("dispatch")
		return fmt.Errorf("failed to dispatch engine outcome: %w", dispatchErr)
	}

	processingDuration := time.Since(startTime)
	c.metrics.IncrementSucceeded(processingDuration)
	metrics.ProcessingLatency.Observe(processingDuration.Seconds())

	return nil
}

// buildRealtime 在引擎锁内构造实时状态快照
func buildRealtime(e *engine.Engine, wearerID string, at time.Time) *models.RealtimeSnapshot {
	return &models.RealtimeSnapshot{
		WearerID:   wearerID,
		HeartRate:  e.CurrentHR(),
		BaselineHR: e.BaselineHR(),
		Posture:    e.Posture(),
		IsElevated: e.IsElevated(),
		UpdatedAt:  at,
	}
}

// tickLoop 周期驱动引擎时钟
// 稳定期到期和超过 2 分钟无活动信号的静默检测都依赖时钟推进，
// 没有新样本时也要按期触发
func (c *StreamConsumer) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.config.Monitor.TickInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			var results []tickResult

			c.registry.ForEach(func(wearerID string, e *engine.Engine) {
				out := e.Tick(now)
				if len(out.Changes) == 0 && out.Event == nil {
					return
				}
				results = append(results, tickResult{
					out: out,
					rt:  buildRealtime(e, wearerID, now),
				})
			})

			for _, res := range results {
				if err := c.dispatcher.DispatchPosture(ctx, res.out, res.rt); err != nil {
					c.metrics.IncrementFailed("dispatch")
					c.logger.Error("Failed to dispatch tick outcome",
						zap.String("wearer_id", res.rt.WearerID),
						zap.Error(err),
					)
				}
			}
		}
	}
}

// snapshotLoop 周期落盘引擎状态
// 服务重启后由注册表按佩戴者恢复，避免丢失事件历史和报警冷却状态
func (c *StreamConsumer) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.config.Monitor.SnapshotInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			var snapshots []models.EngineSnapshot

			c.registry.ForEach(func(wearerID string, e *engine.Engine) {
				snapshots = append(snapshots, e.Snapshot(now))
			})

			saved := 0
			for _, snap := range snapshots {
				if err := c.cache.SaveEngineState(ctx, snap); err != nil {
					c.metrics.IncrementSnapshotFailed()
					c.logger.Error("Failed to save engine state",
						zap.String("wearer_id", snap.WearerID),
						zap.Error(err),
					)
					continue
				}
				saved++
			}

			if saved > 0 {
				c.logger.Debug("Engine states saved",
					zap.Int("saved", saved),
					zap.Int("total", len(snapshots)),
				)
			}
		}
	}
}

// reportMetrics 定期报告指标（每60秒）
func (c *StreamConsumer) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.metrics.GetSnapshot()
			uptime := time.Since(snapshot.StartTime)

			var avgProcessingTime time.Duration
			if snapshot.MessagesSucceeded > 0 {
				avgProcessingTime = snapshot.TotalProcessingTime / time.Duration(snapshot.MessagesSucceeded)
			}

			successRate := float64(0)
			if snapshot.MessagesProcessed > 0 {
				successRate = float64(snapshot.MessagesSucceeded) / float64(snapshot.MessagesProcessed) * 100
			}

			c.logger.Info("Metrics report",
				zap.Int64("messages_processed", snapshot.MessagesProcessed),
				zap.Int64("messages_succeeded", snapshot.MessagesSucceeded),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Int64("messages_skipped", snapshot.MessagesSkipped),
				zap.Float64("success_rate", successRate),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_dispatch", snapshot.ErrorsDispatch),
				zap.Int64("errors_snapshot", snapshot.ErrorsSnapshot),
				zap.Duration("avg_processing_time", avgProcessingTime),
				zap.Duration("uptime", uptime),
				zap.Int("active_engines", c.registry.Count()),
			)
		}
	}
}
