package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
)

type fakeRealtime struct {
	data map[string]*models.RealtimeSnapshot
	err  error
}

func (f *fakeRealtime) GetRealtime(ctx context.Context, wearerID string) (*models.RealtimeSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data[wearerID], nil
}

func (f *fakeRealtime) ListActiveWearers(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	wearers := make([]string, 0, len(f.data))
	for id := range f.data {
		wearers = append(wearers, id)
	}
	return wearers, nil
}

func setupMonitorHandler(t *testing.T) (*MonitorHandler, sqlmock.Sqlmock, *fakeRealtime) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	rt := &fakeRealtime{data: map[string]*models.RealtimeSnapshot{}}
	h := NewMonitorHandler(
		repository.NewOrthostaticEventsRepository(db, logger),
		repository.NewSignificantChangesRepository(db, logger),
		rt,
		logger,
	)
	return h, mock, rt
}

var eventColumns = []string{
	"id", "wearer_id", "event_time", "baseline_hr", "peak_hr", "hr_increase",
	"standing_duration_seconds", "sustained_duration_seconds", "recovery_time_seconds",
	"is_recovered", "pattern", "created_at", "updated_at",
}

func TestHealth_ReturnsHealthy(t *testing.T) {
	h, _, _ := setupMonitorHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"healthy"`) {
		t.Fatalf("expected healthy status, got: %s", w.Body.String())
	}
}

func TestGetRealtime_RequiresWearerID(t *testing.T) {
	h, _, _ := setupMonitorHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/realtime", nil)
	w := httptest.NewRecorder()
	h.GetRealtime(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"code":-1`) {
		t.Fatalf("expected error wrapper, got: %s", w.Body.String())
	}
}

func TestGetRealtime_MissReturns404(t *testing.T) {
	h, _, _ := setupMonitorHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/realtime?wearer_id=wearer-001", nil)
	w := httptest.NewRecorder()
	h.GetRealtime(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "wearer-001") {
		t.Fatalf("expected wearer id in message, got: %s", w.Body.String())
	}
}

func TestGetRealtime_WrapsSnapshot(t *testing.T) {
	h, _, rt := setupMonitorHandler(t)
	rt.data["wearer-001"] = &models.RealtimeSnapshot{
		WearerID:   "wearer-001",
		HeartRate:  102,
		BaselineHR: 68,
		Posture:    models.PostureStanding,
		IsElevated: true,
		UpdatedAt:  time.Unix(1700000000, 0).UTC(),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/realtime?wearer_id=wearer-001", nil)
	w := httptest.NewRecorder()
	h.GetRealtime(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"code":2000`) {
		t.Fatalf("expected wrapper code=2000, got: %s", body)
	}
	if !strings.Contains(body, `"heart_rate":102`) || !strings.Contains(body, `"posture":"standing"`) {
		t.Fatalf("expected snapshot fields, got: %s", body)
	}
	if !strings.Contains(body, `"is_elevated":true`) {
		t.Fatalf("expected elevated flag, got: %s", body)
	}
}

func TestListWearers_ReturnsActiveSet(t *testing.T) {
	h, _, rt := setupMonitorHandler(t)
	rt.data["wearer-001"] = &models.RealtimeSnapshot{WearerID: "wearer-001", HeartRate: 72}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wearers", nil)
	w := httptest.NewRecorder()
	h.ListWearers(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"wearer-001"`) {
		t.Fatalf("expected wearer in list, got: %s", w.Body.String())
	}
}

func TestListWearers_EmptyIsArray(t *testing.T) {
	h, _, _ := setupMonitorHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wearers", nil)
	w := httptest.NewRecorder()
	h.ListWearers(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"result":[]`) {
		t.Fatalf("expected empty array result, got: %s", w.Body.String())
	}
}

func TestListOrthostaticEvents_FiltersAndPaginates(t *testing.T) {
	h, mock, _ := setupMonitorHandler(t)

	recovery := 45
	rows := sqlmock.NewRows(eventColumns).AddRow(
		"event-001", "wearer-001", time.Unix(1700000200, 0), 68, 104, 36,
		120, 90, recovery, true, []byte(`[]`), time.Now(), time.Now(),
	)

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs("wearer-001", true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))
	mock.ExpectQuery(`SELECT`).
		WithArgs("wearer-001", true, 5, 5).
		WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/orthostatic-events?wearer_id=wearer-001&recovered=true&page=2&size=5", nil)
	w := httptest.NewRecorder()
	h.ListOrthostaticEvents(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `"id":"event-001"`) || !strings.Contains(body, `"hr_increase":36`) {
		t.Fatalf("expected event in items, got: %s", body)
	}
	if !strings.Contains(body, `"page":2`) || !strings.Contains(body, `"size":5`) || !strings.Contains(body, `"count":6`) {
		t.Fatalf("expected pagination echo, got: %s", body)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestListOrthostaticEvents_RequiresWearerID(t *testing.T) {
	h, _, _ := setupMonitorHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orthostatic-events", nil)
	w := httptest.NewRecorder()
	h.ListOrthostaticEvents(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestExportOrthostaticEvents_ReturnsXLSX(t *testing.T) {
	h, mock, _ := setupMonitorHandler(t)

	rows := sqlmock.NewRows(eventColumns).AddRow(
		"event-001", "wearer-001", time.Unix(1700000200, 0), 68, 104, 36,
		120, 90, nil, false, []byte(`[]`), time.Now(), time.Now(),
	)

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs("wearer-001").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT`).
		WithArgs("wearer-001", 10000, 0).
		WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orthostatic-events/export?wearer_id=wearer-001", nil)
	w := httptest.NewRecorder()
	h.ExportOrthostaticEvents(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type: %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "orthostatic-events.xlsx") {
		t.Fatalf("unexpected content disposition: %s", cd)
	}
	// xlsx 是 zip 容器，以 PK 开头
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected xlsx payload, got %d bytes", w.Body.Len())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestListSignificantChanges_MajorOnly(t *testing.T) {
	h, mock, _ := setupMonitorHandler(t)

	changeColumns := []string{"id", "wearer_id", "change_time", "from_hr", "to_hr", "delta", "is_major", "created_at"}
	rows := sqlmock.NewRows(changeColumns).AddRow(
		"change-001", "wearer-001", time.Unix(1700000300, 0), 70, 125, 55, true, time.Now(),
	)

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs("wearer-001").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT`).
		WithArgs("wearer-001", 20, 0).
		WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/significant-changes?wearer_id=wearer-001&major_only=true", nil)
	w := httptest.NewRecorder()
	h.ListSignificantChanges(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `"delta":55`) || !strings.Contains(body, `"is_major":true`) {
		t.Fatalf("expected change in items, got: %s", body)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestGetStats_CountsUnrecovered(t *testing.T) {
	h, mock, _ := setupMonitorHandler(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs("wearer-001").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	// 没有历史事件：latest_event 省略
	mock.ExpectQuery(`SELECT`).
		WithArgs("wearer-001").
		WillReturnRows(sqlmock.NewRows(eventColumns))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats?wearer_id=wearer-001", nil)
	w := httptest.NewRecorder()
	h.GetStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `"unrecovered_count":2`) {
		t.Fatalf("expected unrecovered count, got: %s", body)
	}
	if strings.Contains(body, "latest_event") {
		t.Fatalf("expected latest_event omitted, got: %s", body)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestRouter_RejectsNonGETMethods(t *testing.T) {
	h, _, _ := setupMonitorHandler(t)
	router := NewRouter(zap.NewNop())
	router.RegisterMonitorRoutes(h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/realtime?wearer_id=wearer-001", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
