package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/config"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *CacheManager) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cfg := testConfig()
	logger := zap.NewNop()
	cacheManager := NewCacheManager(cfg, redisClient, logger)

	return mr, redisClient, cacheManager
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Monitor.Stream.Telemetry = "secureheart:stream:telemetry"
	cfg.Monitor.Stream.PostureChanges = "secureheart:stream:posture_changes"
	cfg.Monitor.Stream.OrthostaticEvents = "secureheart:stream:orthostatic_events"
	cfg.Monitor.Stream.SignificantChanges = "secureheart:stream:significant_changes"
	cfg.Monitor.Stream.Alerts = "secureheart:stream:alerts"
	cfg.Monitor.Stream.HeartRate = "secureheart:stream:heart_rate"
	cfg.Monitor.ConsumerGroup = "secureheart-monitor-group"
	cfg.Monitor.ConsumerName = "secureheart-monitor-test"
	cfg.Monitor.BatchSize = 10
	cfg.Monitor.Cache.RealtimePrefix = "secureheart:realtime:"
	cfg.Monitor.Cache.RealtimeTTL = 120
	cfg.Monitor.Cache.StatePrefix = "secureheart:engine_state:"
	cfg.Monitor.Cache.StateTTL = 86400
	cfg.Monitor.TickInterval = 1
	cfg.Monitor.SnapshotInterval = 30
	return cfg
}

func TestCacheManager_UpdateRealtime_WritesJSONWithTTL(t *testing.T) {
	mr, redisClient, cacheManager := setupTestRedis(t)

	ctx := context.Background()
	snapshot := &models.RealtimeSnapshot{
		WearerID:   "wearer-001",
		HeartRate:  95,
		BaselineHR: 70,
		Posture:    models.PostureStanding,
		IsElevated: true,
		UpdatedAt:  time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
	}

	err := cacheManager.UpdateRealtime(ctx, snapshot)
	require.NoError(t, err)

	// 验证数据已写入
	key := "secureheart:realtime:wearer-001"
	val, err := redisClient.Get(ctx, key).Result()
	require.NoError(t, err)

	var cached models.RealtimeSnapshot
	err = json.Unmarshal([]byte(val), &cached)
	require.NoError(t, err)
	assert.Equal(t, "wearer-001", cached.WearerID)
	assert.Equal(t, 95, cached.HeartRate)
	assert.Equal(t, 70, cached.BaselineHR)
	assert.Equal(t, models.PostureStanding, cached.Posture)
	assert.True(t, cached.IsElevated)

	// 验证 TTL
	assert.Equal(t, 120*time.Second, mr.TTL(key))
}

func TestCacheManager_GetRealtime_Success(t *testing.T) {
	_, redisClient, cacheManager := setupTestRedis(t)

	ctx := context.Background()
	snapshot := &models.RealtimeSnapshot{
		WearerID:  "wearer-001",
		HeartRate: 72,
		Posture:   models.PostureSitting,
	}
	jsonData, err := json.Marshal(snapshot)
	require.NoError(t, err)

	key := "secureheart:realtime:wearer-001"
	err = redisClient.Set(ctx, key, jsonData, time.Minute).Err()
	require.NoError(t, err)

	got, err := cacheManager.GetRealtime(ctx, "wearer-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 72, got.HeartRate)
	assert.Equal(t, models.PostureSitting, got.Posture)
}

func TestCacheManager_GetRealtime_MissReturnsNil(t *testing.T) {
	_, _, cacheManager := setupTestRedis(t)

	got, err := cacheManager.GetRealtime(context.Background(), "wearer-unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheManager_EngineStateRoundTrip(t *testing.T) {
	mr, _, cacheManager := setupTestRedis(t)

	ctx := context.Background()
	recovery := 35
	snapshot := models.EngineSnapshot{
		WearerID:   "wearer-001",
		Posture:    models.PostureStanding,
		BaselineHR: 70,
		PreviousHR: 102,
		CurrentHR:  98,
		Events: []models.OrthostaticEvent{
			{
				ID:                   "event-001",
				WearerID:             "wearer-001",
				BaselineHR:           70,
				PeakHR:               108,
				Increase:             38,
				SustainedDurationSec: 930,
				RecoveryTimeSec:      &recovery,
				IsRecovered:          true,
			},
		},
		SavedAt: time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC),
	}

	err := cacheManager.SaveEngineState(ctx, snapshot)
	require.NoError(t, err)

	got, err := cacheManager.LoadEngineState(ctx, "wearer-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.PostureStanding, got.Posture)
	assert.Equal(t, 70, got.BaselineHR)
	assert.Equal(t, 98, got.CurrentHR)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "event-001", got.Events[0].ID)
	require.NotNil(t, got.Events[0].RecoveryTimeSec)
	assert.Equal(t, 35, *got.Events[0].RecoveryTimeSec)

	assert.Equal(t, 86400*time.Second, mr.TTL("secureheart:engine_state:wearer-001"))
}

func TestCacheManager_LoadEngineState_MissReturnsNil(t *testing.T) {
	_, _, cacheManager := setupTestRedis(t)

	got, err := cacheManager.LoadEngineState(context.Background(), "wearer-unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheManager_ListActiveWearers(t *testing.T) {
	_, _, cacheManager := setupTestRedis(t)
	ctx := context.Background()

	for _, wearerID := range []string{"wearer-001", "wearer-002"} {
		err := cacheManager.UpdateRealtime(ctx, &models.RealtimeSnapshot{
			WearerID:  wearerID,
			HeartRate: 72,
			Posture:   models.PostureSitting,
			UpdatedAt: time.Now(),
		})
		require.NoError(t, err)
	}

	wearers, err := cacheManager.ListActiveWearers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"wearer-001", "wearer-002"}, wearers)
}

func TestCacheManager_ListActiveWearers_Empty(t *testing.T) {
	_, _, cacheManager := setupTestRedis(t)

	wearers, err := cacheManager.ListActiveWearers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, wearers)
}
