package engine

import (
	"time"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"
)

// postureTransition 一次体位翻转
type postureTransition struct {
	from models.Posture
	to   models.Posture
}

// postureClassifier 体位分类器
//
// 输入是手表运动分类器的观测流（走路/跑步/静止/驾车/骑行），带置信度。
// 走路和跑步信号即时可靠，坐下判定需要防抖：
//   - 坐转站立即生效（基线捕获的时机比误报更重要）
//   - 站转坐走防抖延迟，延迟到期时若连续静止计数不足则取消
//   - 连续静止观测达到阈值无条件判坐，防止长时间无观测后卡在站立态
type postureClassifier struct {
	cfg Config

	posture               models.Posture
	consecutiveStationary int
	lastObservationAt     time.Time
	lastConfidentAt       time.Time  // 最近一次中/高置信观测时间
	pendingSitAt          *time.Time // 防抖延迟到期时刻，nil 表示无待定转换
}

func newPostureClassifier(cfg Config) *postureClassifier {
	return &postureClassifier{
		cfg:     cfg,
		posture: models.PostureSitting,
	}
}

// observe 处理一次运动观测，返回体位翻转（无翻转返回 nil）
func (p *postureClassifier) observe(activity models.ActivityKind, confidence models.Confidence, at time.Time) *postureTransition {
	if !confidence.IsValid() {
		// 未知置信度：整条观测丢弃
		return nil
	}

	p.lastObservationAt = at

	// 低置信观测只记录，不参与任何状态迁移
	if confidence == models.ConfidenceLow {
		return nil
	}

	p.lastConfidentAt = at

	switch activity {
	case models.ActivityWalking, models.ActivityRunning:
		p.consecutiveStationary = 0
		p.pendingSitAt = nil
		return p.transitionTo(models.PostureStanding)

	case models.ActivityStationary:
		p.consecutiveStationary++
		if p.consecutiveStationary >= p.cfg.StationaryForceCount {
			p.pendingSitAt = nil
			return p.transitionTo(models.PostureSitting)
		}
		if p.posture == models.PostureStanding && p.pendingSitAt == nil {
			deadline := at.Add(p.cfg.StabilizationDelay)
			p.pendingSitAt = &deadline
		}
		return nil

	case models.ActivityAutomotive, models.ActivityCycling:
		// 驾车/骑行计入静止连击，但不触发即时转换，也不单独起防抖计时
		p.consecutiveStationary++
		if p.consecutiveStationary >= p.cfg.StationaryForceCount {
			p.pendingSitAt = nil
			return p.transitionTo(models.PostureSitting)
		}
		return nil
	}

	// unknown 等其他类型：记录即可
	return nil
}

// checkStabilization 检查防抖延迟是否到期
// 到期时连续静止计数不足 2 说明期间插入了行走信号，转换取消
func (p *postureClassifier) checkStabilization(at time.Time) *postureTransition {
	if p.pendingSitAt == nil || at.Before(*p.pendingSitAt) {
		return nil
	}
	p.pendingSitAt = nil
	if p.posture == models.PostureStanding && p.consecutiveStationary >= 2 {
		return p.transitionTo(models.PostureSitting)
	}
	return nil
}

// checkIdle 超时无观测时合成一次隐式静止信号
// 每个静默区间至多合成一次（合成后刷新观测时间）。
// 合成信号只累积静止连击、靠连击阈值强制判坐，不单独起防抖
// 计时：它的职责是在长时间静默后解开卡住的站立态，而不是替代
// 真实观测驱动的坐下判定
func (p *postureClassifier) checkIdle(at time.Time) *postureTransition {
	if p.lastObservationAt.IsZero() || at.Sub(p.lastObservationAt) <= p.cfg.IdleTimeout {
		return nil
	}
	p.lastObservationAt = at

	p.consecutiveStationary++
	if p.consecutiveStationary >= p.cfg.StationaryForceCount {
		p.pendingSitAt = nil
		return p.transitionTo(models.PostureSitting)
	}
	return nil
}

// applyAdvisory 应用加速度计辅助判定的体位建议
// 最近有高置信运动观测时主分类器优先，建议被抑制
func (p *postureClassifier) applyAdvisory(suggested models.Posture, at time.Time) *postureTransition {
	if !p.lastConfidentAt.IsZero() && at.Sub(p.lastConfidentAt) <= p.cfg.AccelSuppression {
		return nil
	}
	return p.transitionTo(suggested)
}

func (p *postureClassifier) transitionTo(to models.Posture) *postureTransition {
	if p.posture == to {
		return nil
	}
	from := p.posture
	p.posture = to
	p.consecutiveStationary = 0
	p.pendingSitAt = nil
	return &postureTransition{from: from, to: to}
}
