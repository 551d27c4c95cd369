package models

import (
	"time"
)

// HeartRatePoint 站立期间的一个心率采样点
type HeartRatePoint struct {
	Rate                 int `json:"rate"`
	SecondsSinceStanding int `json:"seconds_since_standing"`
}

// SignificantChange 显著心率变化（对应 significant_changes 表）
type SignificantChange struct {
	ID         string    `json:"id" db:"id"`
	WearerID   string    `json:"wearer_id" db:"wearer_id"`
	ChangeTime time.Time `json:"change_time" db:"change_time"`
	FromHR     int       `json:"from_hr" db:"from_hr"`
	ToHR       int       `json:"to_hr" db:"to_hr"`
	Delta      int       `json:"delta" db:"delta"`
	IsMajor    bool      `json:"is_major" db:"is_major"` // |delta| >= 50
	CreatedAt  time.Time `json:"created_at,omitempty" db:"created_at"`
}

// AlertSeverity 报警级别
type AlertSeverity string

const (
	AlertSeverityMinor AlertSeverity = "minor" // 30 <= |delta| < 50
	AlertSeverityMajor AlertSeverity = "major" // |delta| >= 50
)

// AlertRequest 报警请求，由下游推送网关负责实际送达
type AlertRequest struct {
	WearerID  string        `json:"wearer_id"`
	FromHR    int           `json:"from_hr"`
	ToHR      int           `json:"to_hr"`
	Delta     int           `json:"delta"`
	Severity  AlertSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
}

// RealtimeSnapshot 实时状态缓存（Redis JSON）
type RealtimeSnapshot struct {
	WearerID   string    `json:"wearer_id"`
	HeartRate  int       `json:"heart_rate"`
	BaselineHR int       `json:"baseline_hr"`
	Posture    Posture   `json:"posture"`
	IsElevated bool      `json:"is_elevated"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// 遥测消息类型
const (
	TelemetryKindHeartRate = "heartrate"
	TelemetryKindMotion    = "motion"
	TelemetryKindAccel     = "accel"
)

// TelemetryMessage 标准化后的手表遥测消息（MQTT -> Redis Streams）
// Kind 决定哪些字段有效
type TelemetryMessage struct {
	WearerID   string  `json:"wearer_id"`
	Kind       string  `json:"kind"` // heartrate, motion, accel
	BPM        int     `json:"bpm,omitempty"`
	Activity   string  `json:"activity,omitempty"`
	Confidence string  `json:"confidence,omitempty"`
	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
	Z          float64 `json:"z,omitempty"`
	Timestamp  int64   `json:"timestamp"` // 设备时间戳（epoch 秒），0 表示未提供
}
