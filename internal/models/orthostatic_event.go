package models

import (
	"fmt"
	"time"
)

// EventSeverity 直立性事件严重程度
type EventSeverity string

const (
	SeverityNormal   EventSeverity = "normal"
	SeverityMild     EventSeverity = "mild"     // increase 30-39
	SeverityModerate EventSeverity = "moderate" // increase 40-49
	SeveritySevere   EventSeverity = "severe"   // increase >= 50
)

// OrthostaticEvent 直立性心率事件（对应 orthostatic_events 表）
// 事件一旦创建即不可变；唯一允许的修订是恢复确认后补写
// RecoveryTimeSec / IsRecovered（整体替换，不做字段级原地修改）
type OrthostaticEvent struct {
	ID                   string           `json:"id" db:"id"`
	WearerID             string           `json:"wearer_id" db:"wearer_id"`
	EventTime            time.Time        `json:"event_time" db:"event_time"`
	BaselineHR           int              `json:"baseline_hr" db:"baseline_hr"`
	PeakHR               int              `json:"peak_hr" db:"peak_hr"`
	Increase             int              `json:"hr_increase" db:"hr_increase"` // peak - baseline
	StandingDurationSec  int              `json:"standing_duration_seconds" db:"standing_duration_seconds"`
	SustainedDurationSec int              `json:"sustained_duration_seconds" db:"sustained_duration_seconds"`
	RecoveryTimeSec      *int             `json:"recovery_time_seconds,omitempty" db:"recovery_time_seconds"`
	IsRecovered          bool             `json:"is_recovered" db:"is_recovered"`
	Pattern              []HeartRatePoint `json:"pattern" db:"pattern"` // JSONB
	CreatedAt            time.Time        `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at,omitempty" db:"updated_at"`
}

// Severity 事件严重程度，由事件字段纯函数推导，不单独存储状态
// 基础分级按心率升幅；长时间未恢复的事件上调级别
func (e *OrthostaticEvent) Severity() EventSeverity {
	base := severityForIncrease(e.Increase)

	// 持续 10 分钟以上的升高一律视为严重
	if e.SustainedDurationSec >= 600 && e.Increase >= 30 {
		return SeveritySevere
	}
	// 轻度事件持续 3 分钟以上上调为中度
	if base == SeverityMild && e.SustainedDurationSec >= 180 {
		return SeverityModerate
	}
	return base
}

func severityForIncrease(increase int) EventSeverity {
	switch {
	case increase < 30:
		return SeverityNormal
	case increase < 40:
		return SeverityMild
	case increase < 50:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}

// Summary 事件的可读摘要（用于通知与导出）
func (e *OrthostaticEvent) Summary() string {
	s := fmt.Sprintf("Heart rate rose %d bpm above baseline (%d -> %d) after standing, sustained for %s",
		e.Increase, e.BaselineHR, e.PeakHR, formatSeconds(e.SustainedDurationSec))
	if e.IsRecovered && e.RecoveryTimeSec != nil {
		s += fmt.Sprintf(", recovered in %s", formatSeconds(*e.RecoveryTimeSec))
	} else {
		s += ", not yet recovered"
	}
	return s
}

func formatSeconds(sec int) string {
	if sec < 60 {
		return fmt.Sprintf("%ds", sec)
	}
	if sec%60 == 0 {
		return fmt.Sprintf("%dm", sec/60)
	}
	return fmt.Sprintf("%dm%ds", sec/60, sec%60)
}
