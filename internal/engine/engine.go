// Package engine 实现体位性心率响应检测引擎。
//
// 引擎是纯同步的决策核心：不做任何 I/O，不起协程，不读墙钟。
// 所有输入（运动观测、加速度采样、心率样本）都带时间戳按到达顺序
// 处理，防抖延迟、冷却期、空闲超时等计时器全部建模为截止时刻，
// 在每次入口调用时与传入的时间比较。宿主通过 Tick 驱动只依赖
// 时间流逝的状态迁移。
//
// 引擎本身不做并发保护，调用方负责串行化（本服务由消费端的
// per-wearer 锁保证）。
package engine

import (
	"time"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"
)

// PostureOutcome 运动观测 / 时钟驱动的处理结果
type PostureOutcome struct {
	Changes []models.PostureChange   // 本次调用产生的体位变化（最多两次）
	Event   *models.OrthostaticEvent // 站立回合结束时收尾生成的事件
}

// HeartRateOutcome 心率样本的处理结果
type HeartRateOutcome struct {
	PostureChange *models.PostureChange     // 截止时刻到期引起的体位变化
	Event         *models.OrthostaticEvent  // 新生成的直立性事件
	Amended       *models.OrthostaticEvent  // 恢复确认后被修订的事件
	Change        *models.SignificantChange // 显著心率变化
	Alert         *models.AlertRequest      // 报警请求（冷却期外）
	Forward       bool                      // 是否应向外部转发本次更新
}

// Engine 单个佩戴者的检测引擎
type Engine struct {
	cfg      Config
	wearerID string

	posture *postureClassifier
	accel   *accelEstimator
	tracker *orthostaticTracker
	alerts  *alertEvaluator

	baselineHR      int
	previousHR      int
	currentHR       int
	lastForwardedAt time.Time
}

// New 创建引擎，cfg 零值字段取默认参数
func New(wearerID string, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		wearerID: wearerID,
		posture:  newPostureClassifier(cfg),
		accel:    newAccelEstimator(cfg),
		tracker:  newOrthostaticTracker(wearerID, cfg),
		alerts:   newAlertEvaluator(wearerID, cfg),
	}
}

// ObserveActivity 处理一次运动分类观测
func (e *Engine) ObserveActivity(activity models.ActivityKind, confidence models.Confidence, at time.Time) PostureOutcome {
	if !confidence.IsValid() {
		return PostureOutcome{}
	}

	var out PostureOutcome
	// 真实观测即将落地，只需结清已到期的防抖延迟，不合成空闲信号
	e.applyTransition(e.posture.checkStabilization(at), at, &out)
	e.applyTransition(e.posture.observe(activity, confidence, at), at, &out)
	return out
}

// ObserveAcceleration 处理一个加速度采样
func (e *Engine) ObserveAcceleration(x, y, z float64, at time.Time) PostureOutcome {
	var out PostureOutcome
	e.advance(at, &out)

	if suggestion := e.accel.addSample(x, y, z, at); suggestion != nil {
		e.applyTransition(e.posture.applyAdvisory(suggestion.posture, at), at, &out)
	}
	return out
}

// ProcessHeartRate 处理一个心率样本
// bpm <= 0 视为传感器噪声，静默丢弃，状态不变
func (e *Engine) ProcessHeartRate(bpm int, at time.Time) HeartRateOutcome {
	if bpm <= 0 {
		return HeartRateOutcome{}
	}

	var posture PostureOutcome
	e.advance(at, &posture)

	out := HeartRateOutcome{Event: posture.Event}
	if len(posture.Changes) > 0 {
		out.PostureChange = &posture.Changes[0]
	}

	e.previousHR = e.currentHR
	e.currentHR = bpm
	if e.baselineHR == 0 {
		e.baselineHR = bpm
	}

	created, amended := e.tracker.processSample(bpm, at)
	if created != nil {
		out.Event = created
	}
	out.Amended = amended

	out.Change, out.Alert = e.alerts.evaluate(e.previousHR, e.currentHR, at)

	out.Forward = e.shouldForward(at)
	if out.Forward {
		e.lastForwardedAt = at
	}

	return out
}

// Tick 推进时间：结清到期的防抖延迟，必要时合成空闲静止信号
func (e *Engine) Tick(now time.Time) PostureOutcome {
	var out PostureOutcome
	e.advance(now, &out)
	return out
}

// advance 处理所有已到期的时间驱动迁移
func (e *Engine) advance(at time.Time, out *PostureOutcome) {
	e.applyTransition(e.posture.checkStabilization(at), at, out)
	e.applyTransition(e.posture.checkIdle(at), at, out)
}

// applyTransition 落地一次体位翻转并联动事件追踪器
// 转为站立开启新回合（基线取此刻已知心率）；转为坐结束回合
func (e *Engine) applyTransition(tr *postureTransition, at time.Time, out *PostureOutcome) {
	if tr == nil {
		return
	}

	out.Changes = append(out.Changes, models.PostureChange{
		WearerID:  e.wearerID,
		From:      tr.from,
		To:        tr.to,
		Timestamp: at,
	})

	switch tr.to {
	case models.PostureStanding:
		baseline := e.currentHR
		if baseline == 0 {
			baseline = e.baselineHR
		}
		e.tracker.beginEpisode(baseline, at)
	case models.PostureSitting:
		if ev := e.tracker.endEpisode(at); ev != nil {
			out.Event = ev
		}
	}
}

// 最小转发间隔：显著变化不受节流限制，普通更新按间隔放行
func (e *Engine) shouldForward(at time.Time) bool {
	if e.previousHR > 0 {
		delta := e.currentHR - e.previousHR
		if delta < 0 {
			delta = -delta
		}
		if delta >= e.cfg.SignificantDelta {
			return true
		}
	}
	return e.lastForwardedAt.IsZero() || at.Sub(e.lastForwardedAt) >= e.cfg.MinRecordingInterval
}

// Posture 当前体位
func (e *Engine) Posture() models.Posture {
	return e.posture.posture
}

// CurrentHR 最近一次有效心率
func (e *Engine) CurrentHR() int {
	return e.currentHR
}

// BaselineHR 全局基线心率（首个非零样本）
func (e *Engine) BaselineHR() int {
	return e.baselineHR
}

// IsElevated 当前站立回合是否处于升高状态
func (e *Engine) IsElevated() bool {
	return e.tracker.isElevated()
}

// Events 直立性事件历史副本
func (e *Engine) Events() []models.OrthostaticEvent {
	return e.tracker.eventList()
}

// Changes 显著变化历史副本
func (e *Engine) Changes() []models.SignificantChange {
	return e.alerts.changeList()
}

// Snapshot 导出可持久化的引擎状态
// 进行中的站立回合与加速度窗口属于瞬态，不在快照内
func (e *Engine) Snapshot(now time.Time) models.EngineSnapshot {
	return models.EngineSnapshot{
		WearerID:              e.wearerID,
		Posture:               e.posture.posture,
		ConsecutiveStationary: e.posture.consecutiveStationary,
		LastObservationAt:     e.posture.lastObservationAt,
		BaselineHR:            e.baselineHR,
		PreviousHR:            e.previousHR,
		CurrentHR:             e.currentHR,
		LastAlertAt:           e.alerts.lastAlertAt,
		LastForwardedAt:       e.lastForwardedAt,
		Events:                e.tracker.eventList(),
		Changes:               e.alerts.changeList(),
		SavedAt:               now,
	}
}

// Restore 从快照恢复引擎状态
// 快照里的站立态只恢复体位本身，不重建站立回合：跨重启的回合
// 缺少基线与升高簿记，放弃比猜测更安全
func (e *Engine) Restore(snap models.EngineSnapshot) {
	if snap.Posture == models.PostureStanding || snap.Posture == models.PostureSitting {
		e.posture.posture = snap.Posture
	}
	e.posture.consecutiveStationary = snap.ConsecutiveStationary
	e.posture.lastObservationAt = snap.LastObservationAt
	e.baselineHR = snap.BaselineHR
	e.previousHR = snap.PreviousHR
	e.currentHR = snap.CurrentHR
	e.alerts.lastAlertAt = snap.LastAlertAt
	e.lastForwardedAt = snap.LastForwardedAt
	e.tracker.restoreEvents(snap.Events)
	e.alerts.restoreChanges(snap.Changes)
}
