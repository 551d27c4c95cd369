package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	rediscommon "github.com/LauraMoney42/SecureHeart-sub001/internal/common/redis"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/engine"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupStreamConsumer(t *testing.T) (*StreamConsumer, sqlmock.Sqlmock, *redis.Client) {
	_, redisClient, cacheManager := setupTestRedis(t)
	cfg := testConfig()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	eventsRepo := repository.NewOrthostaticEventsRepository(db, logger)
	changesRepo := repository.NewSignificantChangesRepository(db, logger)

	dispatcher := NewDispatcher(cfg, redisClient, eventsRepo, changesRepo, cacheManager, nil, logger)
	registry := NewEngineRegistry(engine.DefaultConfig(), nil, logger)

	c := NewStreamConsumer(cfg, redisClient, registry, dispatcher, cacheManager, logger)
	return c, mock, redisClient
}

// telemetryStreamMessage 把遥测消息包装成流消息（与 PublishJSONToStream 的格式一致）
func telemetryStreamMessage(t *testing.T, m models.TelemetryMessage) rediscommon.StreamMessage {
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return rediscommon.StreamMessage{
		Stream: "secureheart:stream:telemetry",
		ID:     "1-1",
		Values: map[string]interface{}{"data": string(data)},
	}
}

func streamLen(t *testing.T, client *redis.Client, stream string) int64 {
	n, err := client.XLen(context.Background(), stream).Result()
	require.NoError(t, err)
	return n
}

// ============================================
// 消息路由
// ============================================

func TestStreamConsumer_HeartRateSampleUpdatesRealtimeCache(t *testing.T) {
	c, mock, redisClient := setupStreamConsumer(t)
	ctx := context.Background()

	msg := telemetryStreamMessage(t, models.TelemetryMessage{
		WearerID:  "wearer-001",
		Kind:      models.TelemetryKindHeartRate,
		BPM:       72,
		Timestamp: 1700000100,
	})
	require.NoError(t, c.processMessage(ctx, msg))

	// 实时缓存已刷新
	rt, err := c.cache.GetRealtime(ctx, "wearer-001")
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, 72, rt.HeartRate)
	assert.Equal(t, models.PostureSitting, rt.Posture)
	assert.Equal(t, time.Unix(1700000100, 0).Unix(), rt.UpdatedAt.Unix())

	// 首个样本即转发
	assert.Equal(t, int64(1), streamLen(t, redisClient, "secureheart:stream:heart_rate"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStreamConsumer_WalkingPublishesPostureChange(t *testing.T) {
	c, mock, redisClient := setupStreamConsumer(t)
	ctx := context.Background()

	msg := telemetryStreamMessage(t, models.TelemetryMessage{
		WearerID:   "wearer-001",
		Kind:       models.TelemetryKindMotion,
		Activity:   "walking",
		Confidence: "high",
		Timestamp:  1700000105,
	})
	require.NoError(t, c.processMessage(ctx, msg))

	assert.Equal(t, int64(1), streamLen(t, redisClient, "secureheart:stream:posture_changes"))

	rt, err := c.cache.GetRealtime(ctx, "wearer-001")
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, models.PostureStanding, rt.Posture)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStreamConsumer_StationaryObservationIsQuiet(t *testing.T) {
	c, mock, redisClient := setupStreamConsumer(t)
	ctx := context.Background()

	msg := telemetryStreamMessage(t, models.TelemetryMessage{
		WearerID:   "wearer-001",
		Kind:       models.TelemetryKindMotion,
		Activity:   "stationary",
		Confidence: "high",
		Timestamp:  1700000105,
	})
	require.NoError(t, c.processMessage(ctx, msg))

	// 已经是坐姿，无变化则不发布也不写缓存
	assert.Equal(t, int64(0), streamLen(t, redisClient, "secureheart:stream:posture_changes"))

	rt, err := c.cache.GetRealtime(ctx, "wearer-001")
	require.NoError(t, err)
	assert.Nil(t, rt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStreamConsumer_UnknownKindSkipped(t *testing.T) {
	c, mock, _ := setupStreamConsumer(t)

	msg := telemetryStreamMessage(t, models.TelemetryMessage{
		WearerID: "wearer-001",
		Kind:     "spo2",
	})
	require.NoError(t, c.processMessage(context.Background(), msg))

	snapshot := c.metrics.GetSnapshot()
	assert.Equal(t, int64(1), snapshot.MessagesSkipped)
	assert.Equal(t, int64(0), snapshot.MessagesSucceeded)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStreamConsumer_MissingWearerSkipped(t *testing.T) {
	c, _, _ := setupStreamConsumer(t)

	msg := telemetryStreamMessage(t, models.TelemetryMessage{
		Kind: models.TelemetryKindHeartRate,
		BPM:  72,
	})
	require.NoError(t, c.processMessage(context.Background(), msg))

	snapshot := c.metrics.GetSnapshot()
	assert.Equal(t, int64(1), snapshot.MessagesSkipped)
}

func TestStreamConsumer_MalformedDataFails(t *testing.T) {
	c, _, _ := setupStreamConsumer(t)
	ctx := context.Background()

	err := c.processMessage(ctx, rediscommon.StreamMessage{
		ID:     "1-1",
		Values: map[string]interface{}{"data": "{not json"},
	})
	assert.Error(t, err)

	err = c.processMessage(ctx, rediscommon.StreamMessage{
		ID:     "1-2",
		Values: map[string]interface{}{},
	})
	assert.Error(t, err)

	snapshot := c.metrics.GetSnapshot()
	assert.Equal(t, int64(2), snapshot.ErrorsParse)
}

// ============================================
// 端到端：直立性事件生命周期
// ============================================

func TestStreamConsumer_OrthostaticEventLifecycle(t *testing.T) {
	c, mock, redisClient := setupStreamConsumer(t)
	ctx := context.Background()
	base := int64(1700000000)

	feedHeartRate := func(bpm int, offset int64) {
		msg := telemetryStreamMessage(t, models.TelemetryMessage{
			WearerID:  "wearer-001",
			Kind:      models.TelemetryKindHeartRate,
			BPM:       bpm,
			Timestamp: base + offset,
		})
		require.NoError(t, c.processMessage(ctx, msg))
	}

	// 坐姿时的基线读数
	feedHeartRate(70, 100)

	// 起立
	motion := telemetryStreamMessage(t, models.TelemetryMessage{
		WearerID:   "wearer-001",
		Kind:       models.TelemetryKindMotion,
		Activity:   "walking",
		Confidence: "high",
		Timestamp:  base + 105,
	})
	require.NoError(t, c.processMessage(ctx, motion))

	// 预热期之后心率爬升，135 秒起相对基线升高 35 bpm
	feedHeartRate(95, 117)

	mock.ExpectExec(`INSERT INTO orthostatic_events`).
		WithArgs(
			sqlmock.AnyArg(), // id
			"wearer-001",
			sqlmock.AnyArg(), // event_time
			70,               // baseline_hr
			105,              // peak_hr
			35,               // hr_increase
			70,               // standing_duration_seconds
			35,               // sustained_duration_seconds
			nil,              // recovery_time_seconds
			false,            // is_recovered
			"mild",           // severity
			sqlmock.AnyArg(), // pattern
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	feedHeartRate(105, 140)
	// 回落：升高持续 35 秒，生成事件并进入恢复观察
	feedHeartRate(76, 175)

	mock.ExpectExec(`UPDATE orthostatic_events`).
		WithArgs(
			sqlmock.AnyArg(), // recovery_time_seconds
			true,             // is_recovered
			"mild",           // severity
			sqlmock.AnyArg(), // id
			"wearer-001",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// 贴近基线保持 36 秒，确认恢复并修订事件
	feedHeartRate(74, 180)
	feedHeartRate(75, 211)

	// 事件流：created + amended 各一条
	assert.Equal(t, int64(2), streamLen(t, redisClient, "secureheart:stream:orthostatic_events"))
	// 全程无显著变化（相邻样本差值都在 30 以内）
	assert.Equal(t, int64(0), streamLen(t, redisClient, "secureheart:stream:significant_changes"))
	assert.Equal(t, int64(0), streamLen(t, redisClient, "secureheart:stream:alerts"))
	// 体位变化一次
	assert.Equal(t, int64(1), streamLen(t, redisClient, "secureheart:stream:posture_changes"))
	// 每个心率样本间隔都超过转发下限
	assert.Equal(t, int64(6), streamLen(t, redisClient, "secureheart:stream:heart_rate"))

	// 事件流内容
	entries, err := redisClient.XRange(ctx, "secureheart:stream:orthostatic_events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var created, amended struct {
		Action string                   `json:"action"`
		Event  *models.OrthostaticEvent `json:"event"`
	}
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &created))
	require.NoError(t, json.Unmarshal([]byte(entries[1].Values["data"].(string)), &amended))

	assert.Equal(t, "created", created.Action)
	assert.Equal(t, 70, created.Event.BaselineHR)
	assert.Equal(t, 105, created.Event.PeakHR)
	assert.Equal(t, 35, created.Event.Increase)
	assert.False(t, created.Event.IsRecovered)

	assert.Equal(t, "amended", amended.Action)
	assert.Equal(t, created.Event.ID, amended.Event.ID)
	assert.True(t, amended.Event.IsRecovered)
	require.NotNil(t, amended.Event.RecoveryTimeSec)
	assert.Equal(t, 36, *amended.Event.RecoveryTimeSec)

	// 实时缓存收敛到恢复后的状态
	rt, err := c.cache.GetRealtime(ctx, "wearer-001")
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, 75, rt.HeartRate)
	assert.Equal(t, models.PostureStanding, rt.Posture)
	assert.False(t, rt.IsElevated)

	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 突变报警
// ============================================

func TestStreamConsumer_SuddenJumpPersistsChangeAndAlert(t *testing.T) {
	c, mock, redisClient := setupStreamConsumer(t)
	ctx := context.Background()
	base := int64(1700000000)

	msg := telemetryStreamMessage(t, models.TelemetryMessage{
		WearerID:  "wearer-001",
		Kind:      models.TelemetryKindHeartRate,
		BPM:       70,
		Timestamp: base,
	})
	require.NoError(t, c.processMessage(ctx, msg))

	mock.ExpectExec(`INSERT INTO significant_changes`).
		WithArgs(
			sqlmock.AnyArg(), // id
			"wearer-001",
			sqlmock.AnyArg(), // change_time
			70,               // from_hr
			125,              // to_hr
			55,               // delta
			true,             // is_major
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	jump := telemetryStreamMessage(t, models.TelemetryMessage{
		WearerID:  "wearer-001",
		Kind:      models.TelemetryKindHeartRate,
		BPM:       125,
		Timestamp: base + 2,
	})
	require.NoError(t, c.processMessage(ctx, jump))

	assert.Equal(t, int64(1), streamLen(t, redisClient, "secureheart:stream:significant_changes"))
	assert.Equal(t, int64(1), streamLen(t, redisClient, "secureheart:stream:alerts"))
	// 差值达到显著阈值的样本绕过转发间隔限制
	assert.Equal(t, int64(2), streamLen(t, redisClient, "secureheart:stream:heart_rate"))

	entries, err := redisClient.XRange(ctx, "secureheart:stream:alerts", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var alert models.AlertRequest
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &alert))
	assert.Equal(t, "wearer-001", alert.WearerID)
	assert.Equal(t, models.AlertSeverityMajor, alert.Severity)
	assert.Equal(t, 70, alert.FromHR)
	assert.Equal(t, 125, alert.ToHR)
	assert.Equal(t, 55, alert.Delta)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStreamConsumer_NonPositiveRateIgnored(t *testing.T) {
	c, mock, redisClient := setupStreamConsumer(t)
	ctx := context.Background()

	msg := telemetryStreamMessage(t, models.TelemetryMessage{
		WearerID:  "wearer-001",
		Kind:      models.TelemetryKindHeartRate,
		BPM:       0,
		Timestamp: 1700000100,
	})
	require.NoError(t, c.processMessage(ctx, msg))

	// 非法读数不转发，但实时缓存仍反映最新引擎状态
	assert.Equal(t, int64(0), streamLen(t, redisClient, "secureheart:stream:heart_rate"))

	rt, err := c.cache.GetRealtime(ctx, "wearer-001")
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, 0, rt.HeartRate)

	require.NoError(t, mock.ExpectationsWereMet())
}
