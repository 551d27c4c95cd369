package models

import (
	"time"
)

// EngineSnapshot 检测引擎的可持久化状态（Redis JSON）
// 只覆盖需要跨重启保留的簿记：体位状态、心率基线与有界历史。
// 进行中的站立回合属于瞬态，重启后放弃，不在快照内。
type EngineSnapshot struct {
	WearerID              string              `json:"wearer_id"`
	Posture               Posture             `json:"posture"`
	ConsecutiveStationary int                 `json:"consecutive_stationary"`
	LastObservationAt     time.Time           `json:"last_observation_at"`
	BaselineHR            int                 `json:"baseline_hr"`
	PreviousHR            int                 `json:"previous_hr"`
	CurrentHR             int                 `json:"current_hr"`
	LastAlertAt           time.Time           `json:"last_alert_at"`
	LastForwardedAt       time.Time           `json:"last_forwarded_at"`
	Events                []OrthostaticEvent  `json:"events"`
	Changes               []SignificantChange `json:"changes"`
	SavedAt               time.Time           `json:"saved_at"`
}
