package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"

	"go.uber.org/zap"
)

// OrthostaticEventsRepository 直立性事件仓库
type OrthostaticEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOrthostaticEventsRepository 创建直立性事件仓库
func NewOrthostaticEventsRepository(db *sql.DB, logger *zap.Logger) *OrthostaticEventsRepository {
	return &OrthostaticEventsRepository{
		db:     db,
		logger: logger,
	}
}

// OrthostaticEventFilters 直立性事件过滤条件
type OrthostaticEventFilters struct {
	StartTime   *time.Time // 开始时间（event_time >= StartTime）
	EndTime     *time.Time // 结束时间（event_time <= EndTime）
	IsRecovered *bool      // 恢复状态过滤
	MinIncrease *int       // 最小升幅过滤
}

// ============================================
// 基础操作
// ============================================

// CreateEvent 写入直立性事件（需验证 wearer_id）
func (r *OrthostaticEventsRepository) CreateEvent(ctx context.Context, wearerID string, event *models.OrthostaticEvent) error {
	if wearerID == "" {
		return fmt.Errorf("wearer_id is required")
	}
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.WearerID != wearerID {
		return fmt.Errorf("event.wearer_id must match wearer_id parameter")
	}

	pattern, err := json.Marshal(event.Pattern)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern: %w", err)
	}

	query := `
		INSERT INTO orthostatic_events (
			id,
			wearer_id,
			event_time,
			baseline_hr,
			peak_hr,
			hr_increase,
			standing_duration_seconds,
			sustained_duration_seconds,
			recovery_time_seconds,
			is_recovered,
			severity,
			pattern,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
		)
	`

	_, err = r.db.ExecContext(ctx,
		query,
		event.ID,
		event.WearerID,
		event.EventTime,
		event.BaselineHR,
		event.PeakHR,
		event.Increase,
		event.StandingDurationSec,
		event.SustainedDurationSec,
		event.RecoveryTimeSec,
		event.IsRecovered,
		string(event.Severity()),
		pattern,
	)

	if err != nil {
		return fmt.Errorf("failed to create orthostatic event: %w", err)
	}

	return nil
}

// AmendEvent 恢复确认后补写恢复信息（需验证 wearer_id）
// severity 随恢复信息一并重算落库
func (r *OrthostaticEventsRepository) AmendEvent(ctx context.Context, wearerID string, event *models.OrthostaticEvent) error {
	if wearerID == "" {
		return fmt.Errorf("wearer_id is required")
	}
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.RecoveryTimeSec == nil {
		return fmt.Errorf("event has no recovery info to amend")
	}

	query := `
		UPDATE orthostatic_events
		SET recovery_time_seconds = $1,
		    is_recovered = $2,
		    severity = $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $4
		  AND wearer_id = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		event.RecoveryTimeSec,
		event.IsRecovered,
		string(event.Severity()),
		event.ID,
		wearerID,
	)
	if err != nil {
		return fmt.Errorf("failed to amend orthostatic event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("orthostatic event not found: id=%s, wearer_id=%s", event.ID, wearerID)
	}

	return nil
}

// GetEvent 根据 id 获取单个事件（需验证 wearer_id）
func (r *OrthostaticEventsRepository) GetEvent(ctx context.Context, wearerID, eventID string) (*models.OrthostaticEvent, error) {
	if wearerID == "" {
		return nil, fmt.Errorf("wearer_id is required")
	}
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := `
		SELECT
			id,
			wearer_id,
			event_time,
			baseline_hr,
			peak_hr,
			hr_increase,
			standing_duration_seconds,
			sustained_duration_seconds,
			recovery_time_seconds,
			is_recovered,
			pattern,
			created_at,
			updated_at
		FROM orthostatic_events
		WHERE id = $1
		  AND wearer_id = $2
	`

	event, err := scanEvent(r.db.QueryRowContext(ctx, query, eventID, wearerID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("orthostatic event not found: id=%s, wearer_id=%s", eventID, wearerID)
		}
		return nil, fmt.Errorf("failed to get orthostatic event: %w", err)
	}

	return event, nil
}

// GetLatestEvent 获取佩戴者最近一条事件（用于恢复修订时定位）
// 没有任何事件时返回 (nil, nil)
func (r *OrthostaticEventsRepository) GetLatestEvent(ctx context.Context, wearerID string) (*models.OrthostaticEvent, error) {
	if wearerID == "" {
		return nil, fmt.Errorf("wearer_id is required")
	}

	query := `
		SELECT
			id,
			wearer_id,
			event_time,
			baseline_hr,
			peak_hr,
			hr_increase,
			standing_duration_seconds,
			sustained_duration_seconds,
			recovery_time_seconds,
			is_recovered,
			pattern,
			created_at,
			updated_at
		FROM orthostatic_events
		WHERE wearer_id = $1
		ORDER BY event_time DESC
		LIMIT 1
	`

	event, err := scanEvent(r.db.QueryRowContext(ctx, query, wearerID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // 还没有事件
		}
		return nil, fmt.Errorf("failed to query latest orthostatic event: %w", err)
	}

	return event, nil
}

// ============================================
// 查询操作
// ============================================

// buildWhereClause 构建 WHERE 子句
func (r *OrthostaticEventsRepository) buildWhereClause(wearerID string, filters OrthostaticEventFilters, args *[]interface{}, argN *int) []string {
	where := []string{fmt.Sprintf("wearer_id = $%d", *argN)}
	*args = append(*args, wearerID)
	*argN++

	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("event_time >= $%d", *argN))
		*args = append(*args, *filters.StartTime)
		*argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("event_time <= $%d", *argN))
		*args = append(*args, *filters.EndTime)
		*argN++
	}
	if filters.IsRecovered != nil {
		where = append(where, fmt.Sprintf("is_recovered = $%d", *argN))
		*args = append(*args, *filters.IsRecovered)
		*argN++
	}
	if filters.MinIncrease != nil {
		where = append(where, fmt.Sprintf("hr_increase >= $%d", *argN))
		*args = append(*args, *filters.MinIncrease)
		*argN++
	}

	return where
}

// ListEvents 列表查询（支持时间段过滤、分页），按事件时间倒序
func (r *OrthostaticEventsRepository) ListEvents(ctx context.Context, wearerID string, filters OrthostaticEventFilters, page, size int) ([]*models.OrthostaticEvent, int, error) {
	if wearerID == "" {
		return []*models.OrthostaticEvent{}, 0, nil
	}

	args := []interface{}{}
	argN := 1
	where := r.buildWhereClause(wearerID, filters, &args, &argN)
	whereClause := "WHERE " + strings.Join(where, " AND ")

	// 计算总数
	queryCount := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM orthostatic_events
		%s
	`, whereClause)

	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orthostatic events: %w", err)
	}

	// 分页处理
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`
		SELECT
			id,
			wearer_id,
			event_time,
			baseline_hr,
			peak_hr,
			hr_increase,
			standing_duration_seconds,
			sustained_duration_seconds,
			recovery_time_seconds,
			is_recovered,
			pattern,
			created_at,
			updated_at
		FROM orthostatic_events
		%s
		ORDER BY event_time DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, len(args)+1, len(args)+2)

	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query orthostatic events: %w", err)
	}
	defer rows.Close()

	events := []*models.OrthostaticEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan orthostatic event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate orthostatic events: %w", err)
	}

	return events, total, nil
}

// CountUnrecovered 统计未恢复事件数量
func (r *OrthostaticEventsRepository) CountUnrecovered(ctx context.Context, wearerID string) (int, error) {
	if wearerID == "" {
		return 0, nil
	}

	query := `
		SELECT COUNT(*)
		FROM orthostatic_events
		WHERE wearer_id = $1
		  AND is_recovered = false
	`

	var total int
	if err := r.db.QueryRowContext(ctx, query, wearerID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count unrecovered events: %w", err)
	}

	return total, nil
}

// scanner 兼容 *sql.Row 与 *sql.Rows 的扫描入口
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(s scanner) (*models.OrthostaticEvent, error) {
	var event models.OrthostaticEvent
	var recoveryTime sql.NullInt64
	var pattern []byte

	err := s.Scan(
		&event.ID,
		&event.WearerID,
		&event.EventTime,
		&event.BaselineHR,
		&event.PeakHR,
		&event.Increase,
		&event.StandingDurationSec,
		&event.SustainedDurationSec,
		&recoveryTime,
		&event.IsRecovered,
		&pattern,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if recoveryTime.Valid {
		v := int(recoveryTime.Int64)
		event.RecoveryTimeSec = &v
	}

	if len(pattern) > 0 {
		if err := json.Unmarshal(pattern, &event.Pattern); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pattern: %w", err)
		}
	} else {
		event.Pattern = []models.HeartRatePoint{}
	}

	return &event, nil
}
