package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/common/mqtt"
	rediscommon "github.com/LauraMoney42/SecureHeart-sub001/internal/common/redis"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/config"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/metrics"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// MQTTConsumer 手表遥测接入
// 订阅手表上报主题，把三类遥测（心率/运动分类/加速度）标准化为
// TelemetryMessage 后发布到遥测流，由流消费者统一处理
type MQTTConsumer struct {
	config      *config.Config
	mqttClient  *mqtt.Client
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqtt.Client,
	redisClient *redis.Client,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:      cfg,
		mqttClient:  mqttClient,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Start 启动消费者，订阅三类遥测主题
func (c *MQTTConsumer) Start(ctx context.Context) error {
	topics := []string{
		c.config.Monitor.Topics.HeartRate,
		c.config.Monitor.Topics.Motion,
		c.config.Monitor.Topics.Accel,
	}

	for _, topic := range topics {
		if err := c.mqttClient.Subscribe(topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
	}

	c.logger.Info("MQTT consumer started",
		zap.Strings("topics", topics),
	)

	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	err := c.mqttClient.Unsubscribe(
		c.config.Monitor.Topics.HeartRate,
		c.config.Monitor.Topics.Motion,
		c.config.Monitor.Topics.Accel,
	)
	if err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理一条手表上报
// 主题格式: secureheart/{wearer_id}/{kind}
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		metrics.SamplesDropped.WithLabelValues("invalid_topic").Inc()
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	wearerID := parts[1]
	kind := parts[2]

	if wearerID == "" || wearerID == "+" {
		metrics.SamplesDropped.WithLabelValues("invalid_topic").Inc()
		return fmt.Errorf("missing wearer id in topic: %s", topic)
	}

	switch kind {
	case models.TelemetryKindHeartRate, models.TelemetryKindMotion, models.TelemetryKindAccel:
	default:
		metrics.SamplesDropped.WithLabelValues("unknown_kind").Inc()
		return fmt.Errorf("unknown telemetry kind: %s", kind)
	}

	msg, err := c.standardize(wearerID, kind, payload)
	if err != nil {
		metrics.SamplesDropped.WithLabelValues("decode_error").Inc()
		c.logger.Warn("Failed to standardize telemetry",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return err
	}

	streamID, err := rediscommon.PublishJSONToStream(context.Background(), c.redisClient,
		c.config.Monitor.Stream.Telemetry, msg)
	if err != nil {
		c.logger.Error("Failed to publish to Redis Streams",
			zap.String("stream", c.config.Monitor.Stream.Telemetry),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish to stream: %w", err)
	}

	c.logger.Debug("Published telemetry to Redis Streams",
		zap.String("wearer_id", wearerID),
		zap.String("kind", kind),
		zap.String("stream_id", streamID),
	)

	return nil
}

// 手表上报的三种报文
type heartRatePayload struct {
	BPM       int   `json:"bpm"`
	Timestamp int64 `json:"timestamp"`
}

type motionPayload struct {
	Activity   string `json:"activity"`
	Confidence string `json:"confidence"`
	Timestamp  int64  `json:"timestamp"`
}

type accelPayload struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Timestamp int64   `json:"timestamp"`
}

// standardize 按消息类型解析并标准化
func (c *MQTTConsumer) standardize(wearerID, kind string, payload []byte) (*models.TelemetryMessage, error) {
	switch kind {
	case models.TelemetryKindHeartRate:
		var p heartRatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal heart rate payload: %w", err)
		}
		return &models.TelemetryMessage{
			WearerID:  wearerID,
			Kind:      models.TelemetryKindHeartRate,
			BPM:       p.BPM,
			Timestamp: p.Timestamp,
		}, nil

	case models.TelemetryKindMotion:
		var p motionPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal motion payload: %w", err)
		}
		if p.Activity == "" {
			return nil, fmt.Errorf("motion payload missing activity")
		}
		return &models.TelemetryMessage{
			WearerID:   wearerID,
			Kind:       models.TelemetryKindMotion,
			Activity:   p.Activity,
			Confidence: p.Confidence,
			Timestamp:  p.Timestamp,
		}, nil

	case models.TelemetryKindAccel:
		var p accelPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal accel payload: %w", err)
		}
		return &models.TelemetryMessage{
			WearerID:  wearerID,
			Kind:      models.TelemetryKindAccel,
			X:         p.X,
			Y:         p.Y,
			Z:         p.Z,
			Timestamp: p.Timestamp,
		}, nil

	default:
		return nil, fmt.Errorf("unknown telemetry kind: %s", kind)
	}
}
