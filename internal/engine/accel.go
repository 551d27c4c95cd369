package engine

import (
	"math"
	"time"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"
)

// postureSuggestion 加速度计辅助判定结果
type postureSuggestion struct {
	posture    models.Posture
	confidence float64
}

// accelEstimator 基于腕部加速度的体位估计器
//
// 维护 x/y/z 三轴与合成幅值的滚动窗口（约 10 秒），按固定节奏计算一次
// 加权站立评分：
//   - 垂直朝向 40%（手臂自然下垂时 y 轴读数接近 -1g）
//   - 运动幅度方差 30%（站立伴随持续微晃）
//   - 手臂角度 20%（横向轴均值接近 0 表示手臂下垂）
//   - 活动范围 10%
//
// 置信度 = |score - 0.5| * 2，超过阈值才给出翻转建议。
// 该判定只是辅助，主运动分类器的高置信信号始终优先。
type accelEstimator struct {
	cfg Config

	xs, ys, zs, mags []float64
	lastComputeAt    time.Time
}

func newAccelEstimator(cfg Config) *accelEstimator {
	return &accelEstimator{cfg: cfg}
}

// addSample 追加一个加速度采样，到达计算节奏时返回体位建议
func (a *accelEstimator) addSample(x, y, z float64, at time.Time) *postureSuggestion {
	if !isFinite(x) || !isFinite(y) || !isFinite(z) {
		return nil
	}

	mag := math.Sqrt(x*x + y*y + z*z)
	a.xs = pushCapped(a.xs, x, a.cfg.AccelWindowSize)
	a.ys = pushCapped(a.ys, y, a.cfg.AccelWindowSize)
	a.zs = pushCapped(a.zs, z, a.cfg.AccelWindowSize)
	a.mags = pushCapped(a.mags, mag, a.cfg.AccelWindowSize)

	if len(a.mags) < a.cfg.AccelMinSamples {
		return nil
	}
	if !a.lastComputeAt.IsZero() && at.Sub(a.lastComputeAt) < a.cfg.AccelComputeInterval {
		return nil
	}
	a.lastComputeAt = at

	score := a.standingScore()
	confidence := math.Abs(score-0.5) * 2
	if confidence <= a.cfg.AccelFlipConfidence {
		return nil
	}

	suggested := models.PostureSitting
	if score > 0.5 {
		suggested = models.PostureStanding
	}
	return &postureSuggestion{posture: suggested, confidence: confidence}
}

func (a *accelEstimator) standingScore() float64 {
	meanX := mean(a.xs)
	meanY := mean(a.ys)
	varMag := variance(a.mags)
	rangeMag := valueRange(a.mags)

	// 手臂下垂时重力沿 y 轴负方向
	vertical := clamp01(-meanY)
	// 站立时幅值方差明显高于静坐，0.02g² 作为满分参考
	movement := clamp01(varMag / 0.02)
	// 横向轴均值越接近 0 手臂越接近下垂姿态
	arm := clamp01(1 - math.Abs(meanX)/0.5)
	motionRange := clamp01(rangeMag / 0.5)

	return 0.4*vertical + 0.3*movement + 0.2*arm + 0.1*motionRange
}

func pushCapped(buf []float64, v float64, limit int) []float64 {
	buf = append(buf, v)
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return buf
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

func variance(s []float64) float64 {
	if len(s) < 2 {
		return 0
	}
	mu := mean(s)
	var sum float64
	for _, v := range s {
		d := v - mu
		sum += d * d
	}
	return sum / float64(len(s))
}

func valueRange(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	lo, hi := s[0], s[0]
	for _, v := range s[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
