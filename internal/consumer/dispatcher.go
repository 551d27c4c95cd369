package consumer

import (
	"context"
	"fmt"

	rediscommon "github.com/LauraMoney42/SecureHeart-sub001/internal/common/redis"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/config"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/engine"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/metrics"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/notifier"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// eventEnvelope 事件流消息
// action 区分新建与修订，下游按 event.id 做幂等合并
type eventEnvelope struct {
	Action string                   `json:"action"` // created / amended
	Event  *models.OrthostaticEvent `json:"event"`
}

// Dispatcher 引擎结果分发器
// 把引擎产出的事件/变化/报警落库、发布到输出流、刷新实时缓存，
// 并在配置启用时调用报警推送
type Dispatcher struct {
	config      *config.Config
	redisClient *redis.Client
	events      *repository.OrthostaticEventsRepository
	changes     *repository.SignificantChangesRepository
	cache       *CacheManager
	notifier    *notifier.Client // 可为 nil（推送未启用）
	logger      *zap.Logger
}

// NewDispatcher 创建分发器
func NewDispatcher(
	cfg *config.Config,
	redisClient *redis.Client,
	events *repository.OrthostaticEventsRepository,
	changes *repository.SignificantChangesRepository,
	cache *CacheManager,
	notifierClient *notifier.Client,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		config:      cfg,
		redisClient: redisClient,
		events:      events,
		changes:     changes,
		cache:       cache,
		notifier:    notifierClient,
		logger:      logger,
	}
}

// DispatchHeartRate 分发一次心率样本的处理结果
// 各路分发相互独立，单路失败不阻断其余，返回首个错误供调用方计数
func (d *Dispatcher) DispatchHeartRate(ctx context.Context, out engine.HeartRateOutcome, rt *models.RealtimeSnapshot) error {
	var firstErr error

	if out.PostureChange != nil {
		if err := d.handlePostureChange(ctx, out.PostureChange); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if out.Event != nil {
		if err := d.handleEvent(ctx, out.Event); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if out.Amended != nil {
		if err := d.handleAmended(ctx, out.Amended); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if out.Change != nil {
		if err := d.handleChange(ctx, out.Change); err != nil && firstErr == nil {
			firstErr = err
		}
		// 有显著变化但未生成报警，说明命中冷却窗口
		if out.Alert == nil {
			metrics.AlertsSuppressed.Inc()
		}
	}

	if out.Alert != nil {
		if err := d.handleAlert(ctx, out.Alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if out.Forward && rt != nil {
		if _, err := rediscommon.PublishJSONToStream(ctx, d.redisClient, d.config.Monitor.Stream.HeartRate, rt); err != nil {
			d.logger.Error("Failed to publish heart rate update",
				zap.String("wearer_id", rt.WearerID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to publish heart rate update: %w", err)
			}
		}
	}

	if rt != nil {
		if err := d.cache.UpdateRealtime(ctx, rt); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// DispatchPosture 分发体位观察/定时器到期的处理结果
func (d *Dispatcher) DispatchPosture(ctx context.Context, out engine.PostureOutcome, rt *models.RealtimeSnapshot) error {
	var firstErr error

	for i := range out.Changes {
		if err := d.handlePostureChange(ctx, &out.Changes[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if out.Event != nil {
		if err := d.handleEvent(ctx, out.Event); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if rt != nil && len(out.Changes) > 0 {
		if err := d.cache.UpdateRealtime(ctx, rt); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// handlePostureChange 发布体位变化
func (d *Dispatcher) handlePostureChange(ctx context.Context, change *models.PostureChange) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, d.redisClient, d.config.Monitor.Stream.PostureChanges, change); err != nil {
		d.logger.Error("Failed to publish posture change",
			zap.String("wearer_id", change.WearerID),
			zap.String("to", string(change.To)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish posture change: %w", err)
	}

	metrics.PostureChanges.Inc()

	d.logger.Info("Posture changed",
		zap.String("wearer_id", change.WearerID),
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
	)

	return nil
}

// handleEvent 落库并发布新的直立性事件
func (d *Dispatcher) handleEvent(ctx context.Context, event *models.OrthostaticEvent) error {
	var firstErr error

	if err := d.events.CreateEvent(ctx, event.WearerID, event); err != nil {
		d.logger.Error("Failed to persist orthostatic event",
			zap.String("event_id", event.ID),
			zap.String("wearer_id", event.WearerID),
			zap.Error(err),
		)
		firstErr = err
	}

	envelope := eventEnvelope{Action: "created", Event: event}
	if _, err := rediscommon.PublishJSONToStream(ctx, d.redisClient, d.config.Monitor.Stream.OrthostaticEvents, envelope); err != nil {
		d.logger.Error("Failed to publish orthostatic event",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to publish orthostatic event: %w", err)
		}
	}

	severity := event.Severity()
	metrics.OrthostaticEvents.WithLabelValues(string(severity)).Inc()

	d.logger.Info("Orthostatic event detected",
		zap.String("event_id", event.ID),
		zap.String("wearer_id", event.WearerID),
		zap.Int("hr_increase", event.Increase),
		zap.Int("sustained_seconds", event.SustainedDurationSec),
		zap.String("severity", string(severity)),
	)

	return firstErr
}

// handleAmended 修订已有事件的恢复信息
func (d *Dispatcher) handleAmended(ctx context.Context, event *models.OrthostaticEvent) error {
	var firstErr error

	if err := d.events.AmendEvent(ctx, event.WearerID, event); err != nil {
		d.logger.Error("Failed to amend orthostatic event",
			zap.String("event_id", event.ID),
			zap.String("wearer_id", event.WearerID),
			zap.Error(err),
		)
		firstErr = err
	}

	envelope := eventEnvelope{Action: "amended", Event: event}
	if _, err := rediscommon.PublishJSONToStream(ctx, d.redisClient, d.config.Monitor.Stream.OrthostaticEvents, envelope); err != nil {
		d.logger.Error("Failed to publish amended event",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to publish amended event: %w", err)
		}
	}

	metrics.EventsAmended.Inc()

	recovery := 0
	if event.RecoveryTimeSec != nil {
		recovery = *event.RecoveryTimeSec
	}
	d.logger.Info("Orthostatic event recovered",
		zap.String("event_id", event.ID),
		zap.String("wearer_id", event.WearerID),
		zap.Int("recovery_seconds", recovery),
	)

	return firstErr
}

// handleChange 落库并发布显著心率变化
func (d *Dispatcher) handleChange(ctx context.Context, change *models.SignificantChange) error {
	var firstErr error

	if err := d.changes.CreateChange(ctx, change.WearerID, change); err != nil {
		d.logger.Error("Failed to persist significant change",
			zap.String("change_id", change.ID),
			zap.String("wearer_id", change.WearerID),
			zap.Error(err),
		)
		firstErr = err
	}

	if _, err := rediscommon.PublishJSONToStream(ctx, d.redisClient, d.config.Monitor.Stream.SignificantChanges, change); err != nil {
		d.logger.Error("Failed to publish significant change",
			zap.String("change_id", change.ID),
			zap.Error(err),
		)
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to publish significant change: %w", err)
		}
	}

	metrics.SignificantChanges.Inc()

	return firstErr
}

// handleAlert 发布报警并调用推送网关
func (d *Dispatcher) handleAlert(ctx context.Context, alert *models.AlertRequest) error {
	var firstErr error

	if _, err := rediscommon.PublishJSONToStream(ctx, d.redisClient, d.config.Monitor.Stream.Alerts, alert); err != nil {
		d.logger.Error("Failed to publish alert",
			zap.String("wearer_id", alert.WearerID),
			zap.Error(err),
		)
		firstErr = fmt.Errorf("failed to publish alert: %w", err)
	}

	metrics.AlertsEmitted.WithLabelValues(string(alert.Severity)).Inc()

	d.logger.Warn("Heart rate alert",
		zap.String("wearer_id", alert.WearerID),
		zap.String("severity", string(alert.Severity)),
		zap.Int("from_hr", alert.FromHR),
		zap.Int("to_hr", alert.ToHR),
		zap.Int("delta", alert.Delta),
	)

	if d.notifier != nil {
		if err := d.notifier.SendAlert(ctx, alert); err != nil {
			metrics.NotifierFailures.Inc()
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
