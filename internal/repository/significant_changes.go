package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"

	"go.uber.org/zap"
)

// SignificantChangesRepository 显著心率变化仓库
type SignificantChangesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSignificantChangesRepository 创建显著变化仓库
func NewSignificantChangesRepository(db *sql.DB, logger *zap.Logger) *SignificantChangesRepository {
	return &SignificantChangesRepository{
		db:     db,
		logger: logger,
	}
}

// SignificantChangeFilters 显著变化过滤条件
type SignificantChangeFilters struct {
	StartTime *time.Time // 开始时间（change_time >= StartTime）
	EndTime   *time.Time // 结束时间（change_time <= EndTime）
	MajorOnly bool       // 只看重大变化
}

// CreateChange 写入显著变化（需验证 wearer_id）
func (r *SignificantChangesRepository) CreateChange(ctx context.Context, wearerID string, change *models.SignificantChange) error {
	if wearerID == "" {
		return fmt.Errorf("wearer_id is required")
	}
	if change == nil {
		return fmt.Errorf("change is required")
	}
	if change.WearerID != wearerID {
		return fmt.Errorf("change.wearer_id must match wearer_id parameter")
	}

	query := `
		INSERT INTO significant_changes (
			id,
			wearer_id,
			change_time,
			from_hr,
			to_hr,
			delta,
			is_major,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		change.ID,
		change.WearerID,
		change.ChangeTime,
		change.FromHR,
		change.ToHR,
		change.Delta,
		change.IsMajor,
	)

	if err != nil {
		return fmt.Errorf("failed to create significant change: %w", err)
	}

	return nil
}

// ListChanges 列表查询（支持时间段过滤、分页），按变化时间倒序
func (r *SignificantChangesRepository) ListChanges(ctx context.Context, wearerID string, filters SignificantChangeFilters, page, size int) ([]*models.SignificantChange, int, error) {
	if wearerID == "" {
		return []*models.SignificantChange{}, 0, nil
	}

	args := []interface{}{wearerID}
	where := []string{"wearer_id = $1"}
	argN := 2

	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("change_time >= $%d", argN))
		args = append(args, *filters.StartTime)
		argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("change_time <= $%d", argN))
		args = append(args, *filters.EndTime)
		argN++
	}
	if filters.MajorOnly {
		where = append(where, "is_major = true")
	}

	whereClause := "WHERE " + strings.Join(where, " AND ")

	queryCount := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM significant_changes
		%s
	`, whereClause)

	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count significant changes: %w", err)
	}

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
			change_time,
			from_hr,
			to_hr,
			delta,
			is_major,
			created_at
		FROM significant_changes
		%s
		ORDER BY change_time DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, len(args)+1, len(args)+2)

	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query significant changes: %w", err)
	}
	defer rows.Close()

	changes := []*models.SignificantChange{}
	for rows.Next() {
		var change models.SignificantChange
		if err := rows.Scan(
			&change.ID,
			&change.WearerID,
			&change.ChangeTime,
			&change.FromHR,
			&change.ToHR,
			&change.Delta,
			&change.IsMajor,
			&change.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan significant change: %w", err)
		}
		changes = append(changes, &change)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate significant changes: %w", err)
	}

	return changes, total, nil
}
