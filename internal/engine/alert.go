package engine

import (
	"time"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"

	"github.com/google/uuid"
)

// alertEvaluator 显著变化与报警判定
//
// 相邻样本差值达到显著阈值就记录一条显著变化，不受冷却期影响；
// 报警额外受冷却期限制，只有真正发出报警才刷新冷却计时。
type alertEvaluator struct {
	cfg      Config
	wearerID string

	lastAlertAt time.Time
	changes     []models.SignificantChange
}

func newAlertEvaluator(wearerID string, cfg Config) *alertEvaluator {
	return &alertEvaluator{cfg: cfg, wearerID: wearerID}
}

// evaluate 评估一对相邻心率样本
// previous 为 0 表示还没有可比较的上一个样本，直接跳过
func (a *alertEvaluator) evaluate(previous, current int, at time.Time) (*models.SignificantChange, *models.AlertRequest) {
	if previous <= 0 {
		return nil, nil
	}

	delta := current - previous
	absDelta := delta
	if absDelta < 0 {
		absDelta = -absDelta
	}
	if absDelta < a.cfg.SignificantDelta {
		return nil, nil
	}

	change := models.SignificantChange{
		ID:         uuid.New().String(),
		WearerID:   a.wearerID,
		ChangeTime: at,
		FromHR:     previous,
		ToHR:       current,
		Delta:      delta,
		IsMajor:    absDelta >= a.cfg.MajorDelta,
	}
	a.changes = append(a.changes, change)
	if len(a.changes) > a.cfg.MaxChanges {
		a.changes = a.changes[len(a.changes)-a.cfg.MaxChanges:]
	}

	// 冷却期内只记录变化，不发报警
	if !a.lastAlertAt.IsZero() && at.Sub(a.lastAlertAt) <= a.cfg.AlertCooldown {
		return &change, nil
	}

	severity := models.AlertSeverityMinor
	if absDelta >= a.cfg.MajorDelta {
		severity = models.AlertSeverityMajor
	}
	alert := &models.AlertRequest{
		WearerID:  a.wearerID,
		FromHR:    previous,
		ToHR:      current,
		Delta:     delta,
		Severity:  severity,
		Timestamp: at,
	}
	a.lastAlertAt = at

	return &change, alert
}

// changeList 显著变化历史的副本
func (a *alertEvaluator) changeList() []models.SignificantChange {
	out := make([]models.SignificantChange, len(a.changes))
	copy(out, a.changes)
	return out
}

func (a *alertEvaluator) restoreChanges(changes []models.SignificantChange) {
	a.changes = make([]models.SignificantChange, len(changes))
	copy(a.changes, changes)
	if len(a.changes) > a.cfg.MaxChanges {
		a.changes = a.changes[len(a.changes)-a.cfg.MaxChanges:]
	}
}
