package engine

import (
	"time"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"

	"github.com/google/uuid"
)

// standingEpisode 一段连续站立区间的工作状态
// 体位转为坐或开始新的站立回合时销毁，不跨回合保留
type standingEpisode struct {
	startedAt time.Time
	baseline  int // 站立瞬间的心率，0 表示尚无可用基线

	pattern []models.HeartRatePoint // 升高期间的心率曲线，只保留最近窗口

	isElevated         bool
	hadElevation       bool      // 本回合是否出现过升高（进入恢复观察的前提）
	elevationStartedAt time.Time // 零值表示未在升高中
	recoveryStartedAt  time.Time // 当前连续贴近基线段的起点，零值表示无
	hasRecovered       bool
}

func (ep *standingEpisode) recordPoint(rate int, elapsed time.Duration, window time.Duration) {
	seconds := int(elapsed / time.Second)
	ep.pattern = append(ep.pattern, models.HeartRatePoint{
		Rate:                 rate,
		SecondsSinceStanding: seconds,
	})

	// 丢弃窗口外的旧点
	cutoff := seconds - int(window/time.Second)
	if cutoff <= 0 {
		return
	}
	idx := 0
	for idx < len(ep.pattern) && ep.pattern[idx].SecondsSinceStanding < cutoff {
		idx++
	}
	if idx > 0 {
		ep.pattern = ep.pattern[idx:]
	}
}

func (ep *standingEpisode) peakRate() int {
	peak := ep.baseline
	for _, pt := range ep.pattern {
		if pt.Rate > peak {
			peak = pt.Rate
		}
	}
	return peak
}

// orthostaticTracker 直立性事件追踪器
//
// 每个站立回合内按 NoElevation -> Elevated -> Recovering 推进：
// 心率相对基线升高达到阈值进入升高态；首次回落到阈值以下时，
// 若升高已持续到下限则生成事件；之后观察恢复（连续贴近基线满
// 保持时长），确认恢复后对最近一条事件做一次性修订。
// 回合内不存在 Recovering 回到 Elevated 的边：恢复期再次飙升
// 只会重置贴近基线的连续段。
type orthostaticTracker struct {
	cfg      Config
	wearerID string

	episode *standingEpisode
	events  []models.OrthostaticEvent
}

func newOrthostaticTracker(wearerID string, cfg Config) *orthostaticTracker {
	return &orthostaticTracker{cfg: cfg, wearerID: wearerID}
}

// beginEpisode 开始新的站立回合
// baseline 取站立瞬间的已知心率，可能为 0（尚无读数）
func (t *orthostaticTracker) beginEpisode(baseline int, at time.Time) {
	t.episode = &standingEpisode{
		startedAt: at,
		baseline:  baseline,
	}
}

// endEpisode 结束站立回合
// 回合结束时仍在升高中的，以截至当前的持续时长收尾生成事件
func (t *orthostaticTracker) endEpisode(at time.Time) *models.OrthostaticEvent {
	ep := t.episode
	if ep == nil {
		return nil
	}
	t.episode = nil

	if !ep.isElevated || ep.elevationStartedAt.IsZero() {
		return nil
	}
	sustained := at.Sub(ep.elevationStartedAt)
	if sustained < t.cfg.SustainFloor {
		return nil
	}
	return t.appendEvent(ep, at, sustained)
}

// processSample 处理站立期间的一个心率样本
// 返回（新生成的事件，被修订的事件），未发生时为 nil
func (t *orthostaticTracker) processSample(rate int, at time.Time) (created, amended *models.OrthostaticEvent) {
	ep := t.episode
	if ep == nil {
		return nil, nil
	}

	// 刚站立的头几秒心率还在爬升，不做评估
	elapsed := at.Sub(ep.startedAt)
	if elapsed < t.cfg.StandingWarmup {
		return nil, nil
	}

	// 回合开始时没有基线的，用首个有效样本补上
	if ep.baseline == 0 {
		ep.baseline = rate
		return nil, nil
	}

	increase := rate - ep.baseline

	switch {
	case ep.isElevated:
		if increase >= t.cfg.ElevationThreshold {
			ep.recordPoint(rate, elapsed, t.cfg.PatternWindow)
			return nil, nil
		}
		// 升高结束：持续够久的生成事件，过短的静默丢弃
		sustained := at.Sub(ep.elevationStartedAt)
		ep.isElevated = false
		if sustained >= t.cfg.SustainFloor {
			created = t.appendEvent(ep, at, sustained)
		}
		if increase <= t.cfg.RecoveryMargin {
			ep.recoveryStartedAt = at
		}
		return created, nil

	case !ep.hadElevation:
		if increase >= t.cfg.ElevationThreshold {
			ep.isElevated = true
			ep.hadElevation = true
			ep.elevationStartedAt = at
			ep.recoveryStartedAt = time.Time{}
			ep.hasRecovered = false
			ep.recordPoint(rate, elapsed, t.cfg.PatternWindow)
		}
		return nil, nil

	case !ep.hasRecovered:
		// 恢复观察：连续贴近基线满保持时长即确认恢复
		if increase > t.cfg.RecoveryMargin {
			ep.recoveryStartedAt = time.Time{}
			return nil, nil
		}
		if ep.recoveryStartedAt.IsZero() {
			ep.recoveryStartedAt = at
			return nil, nil
		}
		held := at.Sub(ep.recoveryStartedAt)
		if held >= t.cfg.RecoveryHold {
			ep.hasRecovered = true
			amended = t.amendLastEvent(int(held / time.Second))
		}
		return nil, amended
	}

	return nil, nil
}

// appendEvent 生成事件并追加到有界历史，满了淘汰最旧的
func (t *orthostaticTracker) appendEvent(ep *standingEpisode, at time.Time, sustained time.Duration) *models.OrthostaticEvent {
	peak := ep.peakRate()
	pattern := make([]models.HeartRatePoint, len(ep.pattern))
	copy(pattern, ep.pattern)

	ev := models.OrthostaticEvent{
		ID:                   uuid.New().String(),
		WearerID:             t.wearerID,
		EventTime:            at,
		BaselineHR:           ep.baseline,
		PeakHR:               peak,
		Increase:             peak - ep.baseline,
		StandingDurationSec:  int(at.Sub(ep.startedAt) / time.Second),
		SustainedDurationSec: int(sustained / time.Second),
		IsRecovered:          false,
		Pattern:              pattern,
	}

	t.events = append(t.events, ev)
	if len(t.events) > t.cfg.MaxEvents {
		t.events = t.events[len(t.events)-t.cfg.MaxEvents:]
	}
	return &ev
}

// amendLastEvent 对最近一条事件补写恢复信息
// 以整体替换而非原地改字段的方式修订；每条事件至多修订一次
func (t *orthostaticTracker) amendLastEvent(recoverySec int) *models.OrthostaticEvent {
	if len(t.events) == 0 {
		return nil
	}
	last := t.events[len(t.events)-1]
	if last.IsRecovered {
		return nil
	}
	last.RecoveryTimeSec = &recoverySec
	last.IsRecovered = true
	t.events[len(t.events)-1] = last
	return &last
}

// isElevated 当前是否处于升高状态（用于实时快照）
func (t *orthostaticTracker) isElevated() bool {
	return t.episode != nil && t.episode.isElevated
}

// eventList 事件历史的副本
func (t *orthostaticTracker) eventList() []models.OrthostaticEvent {
	out := make([]models.OrthostaticEvent, len(t.events))
	copy(out, t.events)
	return out
}

func (t *orthostaticTracker) restoreEvents(events []models.OrthostaticEvent) {
	t.events = make([]models.OrthostaticEvent, len(events))
	copy(t.events, events)
	if len(t.events) > t.cfg.MaxEvents {
		t.events = t.events[len(t.events)-t.cfg.MaxEvents:]
	}
}
