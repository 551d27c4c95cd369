package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"
)

var testBase = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

// at 测试用时间轴：以 testBase 为原点的秒偏移
func at(sec int) time.Time {
	return testBase.Add(time.Duration(sec) * time.Second)
}

func newTestEngine() *Engine {
	return New("wearer-1", Config{})
}

// ============================================
// 端到端场景测试
// ============================================

// 典型发作：站立后心率爬升并长时间维持，回落后确认恢复。
// 时间轴上的唯一运动观测在 t=0，之后全靠心率样本与空闲合成推进
func TestEngine_SustainedEpisodeWithRecovery(t *testing.T) {
	e := newTestEngine()

	// 坐姿基线
	out := e.ProcessHeartRate(70, at(-20))
	assert.True(t, out.Forward)
	assert.Equal(t, 70, e.BaselineHR())

	po := e.ObserveActivity(models.ActivityWalking, models.ConfidenceHigh, at(0))
	require.Len(t, po.Changes, 1)
	assert.Equal(t, models.PostureStanding, po.Changes[0].To)

	// 爬升期
	out = e.ProcessHeartRate(95, at(12))
	assert.Nil(t, out.Event)
	assert.False(t, e.IsElevated())

	out = e.ProcessHeartRate(105, at(35))
	assert.Nil(t, out.Event)
	assert.True(t, e.IsElevated())

	// 长时间维持（期间无运动观测，空闲合成不得打断站立态）
	out = e.ProcessHeartRate(108, at(600))
	assert.Nil(t, out.Event)
	assert.Nil(t, out.PostureChange)

	out = e.ProcessHeartRate(102, at(960))
	assert.Nil(t, out.Event)
	assert.Nil(t, out.PostureChange)
	assert.Equal(t, models.PostureStanding, e.Posture())

	// 回落，升高段收尾生成事件
	out = e.ProcessHeartRate(98, at(965))
	require.NotNil(t, out.Event)
	ev := out.Event
	assert.Equal(t, 70, ev.BaselineHR)
	assert.Equal(t, 108, ev.PeakHR)
	assert.Equal(t, 38, ev.Increase)
	assert.Equal(t, 930, ev.SustainedDurationSec)
	assert.Equal(t, 965, ev.StandingDurationSec)
	assert.False(t, ev.IsRecovered)
	assert.Equal(t, models.SeveritySevere, ev.Severity())

	// 贴近基线保持满 30 秒后修订事件
	out = e.ProcessHeartRate(78, at(1010))
	assert.Nil(t, out.Amended)

	out = e.ProcessHeartRate(76, at(1045))
	require.NotNil(t, out.Amended)
	require.NotNil(t, out.Amended.RecoveryTimeSec)
	assert.Equal(t, 35, *out.Amended.RecoveryTimeSec)
	assert.True(t, out.Amended.IsRecovered)

	events := e.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].IsRecovered)

	// 整条时间轴上相邻样本差值都不足 30，不应出现显著变化
	assert.Empty(t, e.Changes())
	assert.Equal(t, models.PostureStanding, e.Posture())
}

func TestEngine_SuddenJumpRaisesMajorAlert(t *testing.T) {
	e := newTestEngine()

	e.ProcessHeartRate(70, at(0))
	out := e.ProcessHeartRate(125, at(2))

	require.NotNil(t, out.Change)
	assert.Equal(t, 55, out.Change.Delta)
	assert.True(t, out.Change.IsMajor)

	require.NotNil(t, out.Alert)
	assert.Equal(t, models.AlertSeverityMajor, out.Alert.Severity)

	// 显著变化绕过最小转发间隔
	assert.True(t, out.Forward)
}

// ============================================
// 输入守卫与转发节流测试
// ============================================

func TestEngine_NonPositiveRateIsFullNoop(t *testing.T) {
	e := newTestEngine()
	e.ProcessHeartRate(80, at(0))

	out := e.ProcessHeartRate(0, at(5))
	assert.Equal(t, HeartRateOutcome{}, out)

	out = e.ProcessHeartRate(-12, at(6))
	assert.Equal(t, HeartRateOutcome{}, out)

	assert.Equal(t, 80, e.CurrentHR())
	assert.Equal(t, 80, e.BaselineHR())
}

func TestEngine_ForwardThrottledByMinInterval(t *testing.T) {
	e := newTestEngine()

	assert.True(t, e.ProcessHeartRate(70, at(0)).Forward)
	assert.False(t, e.ProcessHeartRate(72, at(2)).Forward)
	assert.False(t, e.ProcessHeartRate(74, at(4)).Forward)
	assert.True(t, e.ProcessHeartRate(76, at(6)).Forward)
	// 节流窗口从上次实际转发（t=6）起算
	assert.False(t, e.ProcessHeartRate(78, at(8)).Forward)
	assert.True(t, e.ProcessHeartRate(80, at(11)).Forward)
}

func TestEngine_InvalidConfidenceLeavesEngineUntouched(t *testing.T) {
	e := newTestEngine()

	out := e.ObserveActivity(models.ActivityWalking, "garbled", at(0))

	assert.Empty(t, out.Changes)
	assert.Equal(t, models.PostureSitting, e.Posture())
	assert.True(t, e.posture.lastObservationAt.IsZero())
}

// ============================================
// 体位联动测试
// ============================================

func TestEngine_HeartRateSampleSettlesPendingSit(t *testing.T) {
	e := newTestEngine()
	e.ProcessHeartRate(70, at(-20))
	e.ObserveActivity(models.ActivityWalking, models.ConfidenceHigh, at(0))

	e.ProcessHeartRate(110, at(11))
	require.True(t, e.IsElevated())

	e.ObserveActivity(models.ActivityStationary, models.ConfidenceHigh, at(20))
	e.ObserveActivity(models.ActivityStationary, models.ConfidenceHigh, at(22))

	// 防抖截止（t=25）之后才来的心率样本先结清体位转换，
	// 站立回合随之结束，升高段以截至此刻的时长收尾
	out := e.ProcessHeartRate(112, at(50))

	require.NotNil(t, out.PostureChange)
	assert.Equal(t, models.PostureSitting, out.PostureChange.To)
	require.NotNil(t, out.Event)
	assert.Equal(t, 39, out.Event.SustainedDurationSec)
	assert.Equal(t, 50, out.Event.StandingDurationSec)
	assert.Equal(t, models.PostureSitting, e.Posture())
	assert.False(t, e.IsElevated())
}

func TestEngine_TickSettlesStabilizationDeadline(t *testing.T) {
	e := newTestEngine()
	e.ObserveActivity(models.ActivityWalking, models.ConfidenceHigh, at(0))
	e.ObserveActivity(models.ActivityStationary, models.ConfidenceHigh, at(10))
	e.ObserveActivity(models.ActivityStationary, models.ConfidenceHigh, at(12))

	assert.Empty(t, e.Tick(at(14)).Changes)

	out := e.Tick(at(15))
	require.Len(t, out.Changes, 1)
	assert.Equal(t, models.PostureSitting, out.Changes[0].To)
	assert.Nil(t, out.Event)
}

func TestEngine_IdleTicksEventuallyForceSit(t *testing.T) {
	e := newTestEngine()
	e.ObserveActivity(models.ActivityWalking, models.ConfidenceHigh, at(0))

	assert.Empty(t, e.Tick(at(121)).Changes)
	assert.Empty(t, e.Tick(at(242)).Changes)

	out := e.Tick(at(363))
	require.Len(t, out.Changes, 1)
	assert.Equal(t, models.PostureSitting, out.Changes[0].To)
}

func TestEngine_EpisodeBaselineFromLatestReading(t *testing.T) {
	e := newTestEngine()
	e.ProcessHeartRate(70, at(-100))
	e.ProcessHeartRate(90, at(-5))

	// 回合基线取站立瞬间的最新读数，而非全局首样本
	e.ObserveActivity(models.ActivityWalking, models.ConfidenceHigh, at(0))
	e.ProcessHeartRate(125, at(12))
	require.True(t, e.IsElevated())

	out := e.ProcessHeartRate(95, at(45))
	require.NotNil(t, out.Event)
	assert.Equal(t, 90, out.Event.BaselineHR)
	assert.Equal(t, 125, out.Event.PeakHR)
	assert.Equal(t, 35, out.Event.Increase)
}

// ============================================
// 加速度计辅助判定测试
// ============================================

func TestEngine_AccelAdvisorySuppressedThenApplied(t *testing.T) {
	e := newTestEngine()
	e.ObserveActivity(models.ActivityWalking, models.ConfidenceHigh, at(0))

	// 静坐特征窗口在 t=5 凑满样本，但距高置信观测只有 5 秒，被抑制
	for i := 1; i <= 5; i++ {
		out := e.ObserveAcceleration(-0.8, 0, -0.6, at(i))
		assert.Empty(t, out.Changes)
	}
	assert.Equal(t, models.PostureStanding, e.Posture())

	// 下一个计算点（t=15）已脱离抑制窗口，建议落地
	var flipped *models.PostureChange
	for i := 6; i <= 15; i++ {
		out := e.ObserveAcceleration(-0.8, 0, -0.6, at(i))
		if len(out.Changes) > 0 {
			flipped = &out.Changes[0]
		}
	}

	require.NotNil(t, flipped)
	assert.Equal(t, models.PostureStanding, flipped.From)
	assert.Equal(t, models.PostureSitting, flipped.To)
	assert.Equal(t, at(15), flipped.Timestamp)
	assert.Equal(t, models.PostureSitting, e.Posture())
}

// ============================================
// 快照与恢复测试
// ============================================

func TestEngine_SnapshotRestoreRoundTrip(t *testing.T) {
	e := newTestEngine()
	e.ProcessHeartRate(70, at(0))

	out := e.ProcessHeartRate(105, at(5))
	require.NotNil(t, out.Alert) // lastAlertAt = t5

	e.ObserveActivity(models.ActivityWalking, models.ConfidenceHigh, at(10))
	e.ProcessHeartRate(140, at(21))
	out = e.ProcessHeartRate(100, at(55))
	require.NotNil(t, out.Event)
	require.NotNil(t, out.Alert) // lastAlertAt = t55

	snap := e.Snapshot(at(60))
	assert.Equal(t, "wearer-1", snap.WearerID)
	assert.Equal(t, models.PostureStanding, snap.Posture)
	assert.Equal(t, 70, snap.BaselineHR)
	assert.Equal(t, 100, snap.CurrentHR)
	assert.Equal(t, at(55), snap.LastAlertAt)
	assert.Equal(t, at(60), snap.SavedAt)
	require.Len(t, snap.Events, 1)
	require.Len(t, snap.Changes, 3)

	restored := New("wearer-1", Config{})
	restored.Restore(snap)

	assert.Equal(t, models.PostureStanding, restored.Posture())
	assert.Equal(t, 70, restored.BaselineHR())
	assert.Equal(t, 100, restored.CurrentHR())
	require.Len(t, restored.Events(), 1)
	assert.Equal(t, snap.Events[0].ID, restored.Events()[0].ID)
	assert.Len(t, restored.Changes(), 3)

	// 站立回合属于瞬态，不跨快照重建
	assert.False(t, restored.IsElevated())

	// 报警冷却期随快照延续：t=70 仍在 t=55 的冷却窗口内
	out = restored.ProcessHeartRate(140, at(70))
	require.NotNil(t, out.Change)
	assert.Nil(t, out.Alert)

	out = restored.ProcessHeartRate(100, at(90))
	require.NotNil(t, out.Alert)
}
