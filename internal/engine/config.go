package engine

import (
	"time"
)

// Config 检测引擎参数
// 零值字段在 New 中回填默认值，便于调用方只覆盖个别参数
type Config struct {
	// 直立性事件检测
	ElevationThreshold int           // 相对基线的升高阈值（bpm）
	SustainFloor       time.Duration // 升高持续多久才算事件
	RecoveryMargin     int           // 恢复判定：相对基线的允许偏差（bpm）
	RecoveryHold       time.Duration // 恢复判定：偏差内需要保持的时长
	PatternWindow      time.Duration // 心率曲线缓冲窗口（只保留最近这段）
	StandingWarmup     time.Duration // 站立后忽略心率评估的时长
	MaxEvents          int           // 事件历史上限（FIFO 淘汰）

	// 显著变化与报警
	SignificantDelta int           // 相邻样本差值达到该值记为显著变化
	MajorDelta       int           // 达到该值为重大变化
	AlertCooldown    time.Duration // 报警冷却期
	MaxChanges       int           // 显著变化历史上限（FIFO 淘汰）

	// 体位分类
	StabilizationDelay   time.Duration // 静止转坐的防抖延迟
	StationaryForceCount int           // 连续静止观测达到该数强制判坐
	IdleTimeout          time.Duration // 超过该时长无观测视为隐式静止
	MinRecordingInterval time.Duration // 对外转发心率更新的最小间隔

	// 加速度计辅助分类
	AccelWindowSize      int           // 采样窗口容量（约 1Hz 下 10 秒）
	AccelComputeInterval time.Duration // 两次计算之间的最小间隔
	AccelMinSamples      int           // 计算所需的最少样本数
	AccelFlipConfidence  float64       // 翻转体位所需的最低置信度
	AccelSuppression     time.Duration // 最近有高置信运动观测时抑制辅助判定
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		ElevationThreshold: 30,
		SustainFloor:       30 * time.Second,
		RecoveryMargin:     10,
		RecoveryHold:       30 * time.Second,
		PatternWindow:      600 * time.Second,
		StandingWarmup:     10 * time.Second,
		MaxEvents:          20,

		SignificantDelta: 30,
		MajorDelta:       50,
		AlertCooldown:    30 * time.Second,
		MaxChanges:       50,

		StabilizationDelay:   5 * time.Second,
		StationaryForceCount: 3,
		IdleTimeout:          120 * time.Second,
		MinRecordingInterval: 5 * time.Second,

		AccelWindowSize:      10,
		AccelComputeInterval: 10 * time.Second,
		AccelMinSamples:      5,
		AccelFlipConfidence:  0.7,
		AccelSuppression:     10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ElevationThreshold == 0 {
		c.ElevationThreshold = def.ElevationThreshold
	}
	if c.SustainFloor == 0 {
		c.SustainFloor = def.SustainFloor
	}
	if c.RecoveryMargin == 0 {
		c.RecoveryMargin = def.RecoveryMargin
	}
	if c.RecoveryHold == 0 {
		c.RecoveryHold = def.RecoveryHold
	}
	if c.PatternWindow == 0 {
		c.PatternWindow = def.PatternWindow
	}
	if c.StandingWarmup == 0 {
		c.StandingWarmup = def.StandingWarmup
	}
	if c.MaxEvents == 0 {
		c.MaxEvents = def.MaxEvents
	}
	if c.SignificantDelta == 0 {
		c.SignificantDelta = def.SignificantDelta
	}
	if c.MajorDelta == 0 {
		c.MajorDelta = def.MajorDelta
	}
	if c.AlertCooldown == 0 {
		c.AlertCooldown = def.AlertCooldown
	}
	if c.MaxChanges == 0 {
		c.MaxChanges = def.MaxChanges
	}
	if c.StabilizationDelay == 0 {
		c.StabilizationDelay = def.StabilizationDelay
	}
	if c.StationaryForceCount == 0 {
		c.StationaryForceCount = def.StationaryForceCount
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.MinRecordingInterval == 0 {
		c.MinRecordingInterval = def.MinRecordingInterval
	}
	if c.AccelWindowSize == 0 {
		c.AccelWindowSize = def.AccelWindowSize
	}
	if c.AccelComputeInterval == 0 {
		c.AccelComputeInterval = def.AccelComputeInterval
	}
	if c.AccelMinSamples == 0 {
		c.AccelMinSamples = def.AccelMinSamples
	}
	if c.AccelFlipConfidence == 0 {
		c.AccelFlipConfidence = def.AccelFlipConfidence
	}
	if c.AccelSuppression == 0 {
		c.AccelSuppression = def.AccelSuppression
	}
	return c
}
