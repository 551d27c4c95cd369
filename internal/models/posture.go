package models

import (
	"time"
)

// Posture 体位状态
type Posture string

const (
	PostureSitting  Posture = "sitting"
	PostureStanding Posture = "standing"
)

// ActivityKind 运动类型（来自手表的运动分类器）
type ActivityKind string

const (
	ActivityWalking    ActivityKind = "walking"
	ActivityRunning    ActivityKind = "running"
	ActivityStationary ActivityKind = "stationary"
	ActivityAutomotive ActivityKind = "automotive"
	ActivityCycling    ActivityKind = "cycling"
	ActivityUnknown    ActivityKind = "unknown"
)

// Confidence 运动分类置信度
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// IsValid 置信度是否为已知枚举值
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// PostureSample 一次运动分类观测
type PostureSample struct {
	Activity   ActivityKind `json:"activity"`
	Confidence Confidence   `json:"confidence"`
	Timestamp  time.Time    `json:"timestamp"`
}

// PostureChange 体位变化通知
type PostureChange struct {
	WearerID  string    `json:"wearer_id"`
	From      Posture   `json:"from"`
	To        Posture   `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}
