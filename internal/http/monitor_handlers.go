package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/metrics"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// RealtimeReader 实时状态读取（由 consumer.CacheManager 实现）
type RealtimeReader interface {
	GetRealtime(ctx context.Context, wearerID string) (*models.RealtimeSnapshot, error)
	ListActiveWearers(ctx context.Context) ([]string, error)
}

// MonitorHandler 监测查询 API
type MonitorHandler struct {
	events   *repository.OrthostaticEventsRepository
	changes  *repository.SignificantChangesRepository
	realtime RealtimeReader
	logger   *zap.Logger
}

func NewMonitorHandler(
	events *repository.OrthostaticEventsRepository,
	changes *repository.SignificantChangesRepository,
	realtime RealtimeReader,
	logger *zap.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		events:   events,
		changes:  changes,
		realtime: realtime,
		logger:   logger,
	}
}

// pagination 列表响应的分页信息
type pagination struct {
	Page  int `json:"page"`
	Size  int `json:"size"`
	Count int `json:"count"`
}

type eventListResult struct {
	Items      []*models.OrthostaticEvent `json:"items"`
	Pagination pagination                 `json:"pagination"`
}

type changeListResult struct {
	Items      []*models.SignificantChange `json:"items"`
	Pagination pagination                  `json:"pagination"`
}

type statsResult struct {
	WearerID         string                   `json:"wearer_id"`
	UnrecoveredCount int                      `json:"unrecovered_count"`
	LatestEvent      *models.OrthostaticEvent `json:"latest_event,omitempty"`
}

// Health GET /health
func (h *MonitorHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "secureheart-monitor",
	})
}

// GetRealtime GET /api/v1/realtime?wearer_id=
// 从 Redis 缓存读取最近一次心率/体位状态
func (h *MonitorHandler) GetRealtime(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/v1/realtime", r.Method))
	defer timer.ObserveDuration()

	wearerID := r.URL.Query().Get("wearer_id")
	if wearerID == "" {
		metrics.RequestsTotal.WithLabelValues("/api/v1/realtime", r.Method, "400").Inc()
		writeJSON(w, http.StatusBadRequest, Fail("wearer_id is required"))
		return
	}

	snapshot, err := h.realtime.GetRealtime(r.Context(), wearerID)
	if err != nil {
		h.logger.Error("Failed to get realtime snapshot",
			zap.String("wearer_id", wearerID),
			zap.Error(err),
		)
		metrics.RequestsTotal.WithLabelValues("/api/v1/realtime", r.Method, "500").Inc()
		writeJSON(w, http.StatusInternalServerError, Fail("failed to get realtime data"))
		return
	}
	if snapshot == nil {
		metrics.RequestsTotal.WithLabelValues("/api/v1/realtime", r.Method, "404").Inc()
		writeJSON(w, http.StatusNotFound, Fail(fmt.Sprintf("no realtime data for wearer %s", wearerID)))
		return
	}

	metrics.RequestsTotal.WithLabelValues("/api/v1/realtime", r.Method, "200").Inc()
	writeJSON(w, http.StatusOK, Ok(snapshot))
}

// ListWearers GET /api/v1/wearers
// 列出当前有实时数据的佩戴者
func (h *MonitorHandler) ListWearers(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/v1/wearers", r.Method))
	defer timer.ObserveDuration()

	wearers, err := h.realtime.ListActiveWearers(r.Context())
	if err != nil {
		h.logger.Error("Failed to list active wearers", zap.Error(err))
		metrics.RequestsTotal.WithLabelValues("/api/v1/wearers", r.Method, "500").Inc()
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list wearers"))
		return
	}
	if wearers == nil {
		wearers = []string{}
	}

	metrics.RequestsTotal.WithLabelValues("/api/v1/wearers", r.Method, "200").Inc()
	writeJSON(w, http.StatusOK, Ok(wearers))
}

// ListOrthostaticEvents GET /api/v1/orthostatic-events
// params:
// - wearer_id string（必填）
// - page, size number
// - start_time, end_time RFC3339
// - recovered true/false
// - min_increase number
func (h *MonitorHandler) ListOrthostaticEvents(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/v1/orthostatic-events", r.Method))
	defer timer.ObserveDuration()

	q := r.URL.Query()
	wearerID := q.Get("wearer_id")
	if wearerID == "" {
		metrics.RequestsTotal.WithLabelValues("/api/v1/orthostatic-events", r.Method, "400").Inc()
		writeJSON(w, http.StatusBadRequest, Fail("wearer_id is required"))
		return
	}

	filters := repository.OrthostaticEventFilters{
		StartTime: parseTime(q.Get("start_time")),
		EndTime:   parseTime(q.Get("end_time")),
	}
	if v := q.Get("recovered"); v != "" {
		recovered := v == "true"
		filters.IsRecovered = &recovered
	}
	if v := parseInt(q.Get("min_increase"), 0); v > 0 {
		filters.MinIncrease = &v
	}

	page := parseInt(q.Get("page"), 1)
	size := parseInt(q.Get("size"), 20)

	events, total, err := h.events.ListEvents(r.Context(), wearerID, filters, page, size)
	if err != nil {
		h.logger.Error("Failed to list orthostatic events",
			zap.String("wearer_id", wearerID),
			zap.Error(err),
		)
		metrics.RequestsTotal.WithLabelValues("/api/v1/orthostatic-events", r.Method, "500").Inc()
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list orthostatic events"))
		return
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}

	metrics.RequestsTotal.WithLabelValues("/api/v1/orthostatic-events", r.Method, "200").Inc()
	writeJSON(w, http.StatusOK, Ok(eventListResult{
		Items:      events,
		Pagination: pagination{Page: page, Size: size, Count: total},
	}))
}

// ExportOrthostaticEvents GET /api/v1/orthostatic-events/export
// 与列表相同的过滤参数，导出 Excel
func (h *MonitorHandler) ExportOrthostaticEvents(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/v1/orthostatic-events/export", r.Method))
	defer timer.ObserveDuration()

	q := r.URL.Query()
	wearerID := q.Get("wearer_id")
	if wearerID == "" {
		metrics.RequestsTotal.WithLabelValues("/api/v1/orthostatic-events/export", r.Method, "400").Inc()
		writeJSON(w, http.StatusBadRequest, Fail("wearer_id is required"))
		return
	}

	filters := repository.OrthostaticEventFilters{
		StartTime: parseTime(q.Get("start_time")),
		EndTime:   parseTime(q.Get("end_time")),
	}
	if v := q.Get("recovered"); v != "" {
		recovered := v == "true"
		filters.IsRecovered = &recovered
	}

	events, _, err := h.events.ListEvents(r.Context(), wearerID, filters, 1, 10000)
	if err != nil {
		h.logger.Error("Failed to list events for export",
			zap.String("wearer_id", wearerID),
			zap.Error(err),
		)
		metrics.RequestsTotal.WithLabelValues("/api/v1/orthostatic-events/export", r.Method, "500").Inc()
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list orthostatic events"))
		return
	}

	excelData, err := GenerateEventsExport(events)
	if err != nil {
		h.logger.Error("Failed to generate export", zap.Error(err))
		metrics.RequestsTotal.WithLabelValues("/api/v1/orthostatic-events/export", r.Method, "500").Inc()
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	metrics.RequestsTotal.WithLabelValues("/api/v1/orthostatic-events/export", r.Method, "200").Inc()
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=orthostatic-events.xlsx")
	w.WriteHeader(http.StatusOK)
	w.Write(excelData)
}

// ListSignificantChanges GET /api/v1/significant-changes
// params:
// - wearer_id string（必填）
// - page, size number
// - start_time, end_time RFC3339
// - major_only true
func (h *MonitorHandler) ListSignificantChanges(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/v1/significant-changes", r.Method))
	defer timer.ObserveDuration()

	q := r.URL.Query()
	wearerID := q.Get("wearer_id")
	if wearerID == "" {
		metrics.RequestsTotal.WithLabelValues("/api/v1/significant-changes", r.Method, "400").Inc()
		writeJSON(w, http.StatusBadRequest, Fail("wearer_id is required"))
		return
	}

	filters := repository.SignificantChangeFilters{
		StartTime: parseTime(q.Get("start_time")),
		EndTime:   parseTime(q.Get("end_time")),
		MajorOnly: q.Get("major_only") == "true",
	}

	page := parseInt(q.Get("page"), 1)
	size := parseInt(q.Get("size"), 20)

	changes, total, err := h.changes.ListChanges(r.Context(), wearerID, filters, page, size)
	if err != nil {
		h.logger.Error("Failed to list significant changes",
			zap.String("wearer_id", wearerID),
			zap.Error(err),
		)
		metrics.RequestsTotal.WithLabelValues("/api/v1/significant-changes", r.Method, "500").Inc()
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list significant changes"))
		return
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}

	metrics.RequestsTotal.WithLabelValues("/api/v1/significant-changes", r.Method, "200").Inc()
	writeJSON(w, http.StatusOK, Ok(changeListResult{
		Items:      changes,
		Pagination: pagination{Page: page, Size: size, Count: total},
	}))
}

// GetStats GET /api/v1/stats?wearer_id=
// 佩戴者当前的事件统计
func (h *MonitorHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/api/v1/stats", r.Method))
	defer timer.ObserveDuration()

	wearerID := r.URL.Query().Get("wearer_id")
	if wearerID == "" {
		metrics.RequestsTotal.WithLabelValues("/api/v1/stats", r.Method, "400").Inc()
		writeJSON(w, http.StatusBadRequest, Fail("wearer_id is required"))
		return
	}

	unrecovered, err := h.events.CountUnrecovered(r.Context(), wearerID)
	if err != nil {
		h.logger.Error("Failed to count unrecovered events",
			zap.String("wearer_id", wearerID),
			zap.Error(err),
		)
		metrics.RequestsTotal.WithLabelValues("/api/v1/stats", r.Method, "500").Inc()
		writeJSON(w, http.StatusInternalServerError, Fail("failed to get stats"))
		return
	}

	latest, err := h.events.GetLatestEvent(r.Context(), wearerID)
	if err != nil {
		h.logger.Error("Failed to get latest event",
			zap.String("wearer_id", wearerID),
			zap.Error(err),
		)
		metrics.RequestsTotal.WithLabelValues("/api/v1/stats", r.Method, "500").Inc()
		writeJSON(w, http.StatusInternalServerError, Fail("failed to get stats"))
		return
	}

	metrics.RequestsTotal.WithLabelValues("/api/v1/stats", r.Method, "200").Inc()
	writeJSON(w, http.StatusOK, Ok(statsResult{
		WearerID:         wearerID,
		UnrecoveredCount: unrecovered,
		LatestEvent:      latest,
	}))
}
