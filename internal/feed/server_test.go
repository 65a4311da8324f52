package feed

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/oddsradar/internal/models"
	"github.com/rewired-gh/oddsradar/internal/storage"
)

type fakeStore struct {
	lastFilter storage.QueryFilter
	anomalies  []models.Anomaly
	counts     map[models.AnomalyKind]int
	lastHours  int
	err        error
}

func (f *fakeStore) QueryAnomalies(filter storage.QueryFilter) ([]models.Anomaly, error) {
	f.lastFilter = filter
	return f.anomalies, f.err
}

func (f *fakeStore) CountByKind(hours int) (map[models.AnomalyKind]int, error) {
	f.lastHours = hours
	return f.counts, f.err
}

func get(t *testing.T, handler http.HandlerFunc, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHandleAnomaliesDefaults(t *testing.T) {
	store := &fakeStore{anomalies: []models.Anomaly{
		{Kind: models.KindSharpDrop, Severity: models.SeverityMedium, DetectedAt: time.Now()},
	}}
	srv := NewServer(":0", store)

	rec, body := get(t, srv.handleAnomalies, "/api/anomalies")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, 24, store.lastFilter.Hours)
	assert.Equal(t, 100, store.lastFilter.Limit)
	assert.Empty(t, store.lastFilter.Kinds)
	assert.Nil(t, store.lastFilter.Live)
}

func TestHandleAnomaliesParsesFilters(t *testing.T) {
	store := &fakeStore{}
	srv := NewServer(":0", store)

	rec, _ := get(t, srv.handleAnomalies, "/api/anomalies?kind=sharp_drop,value_bet&hours=6&live=true&limit=10")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []models.AnomalyKind{models.KindSharpDrop, models.KindValueBet}, store.lastFilter.Kinds)
	assert.Equal(t, 6, store.lastFilter.Hours)
	assert.Equal(t, 10, store.lastFilter.Limit)
	require.NotNil(t, store.lastFilter.Live)
	assert.True(t, *store.lastFilter.Live)
}

func TestHandleAnomaliesKindAllMeansNoFilter(t *testing.T) {
	store := &fakeStore{}
	srv := NewServer(":0", store)

	rec, _ := get(t, srv.handleAnomalies, "/api/anomalies?kind=all")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, store.lastFilter.Kinds)
}

func TestHandleAnomaliesRejectsUnknownKind(t *testing.T) {
	store := &fakeStore{}
	srv := NewServer(":0", store)

	rec, body := get(t, srv.handleAnomalies, "/api/anomalies?kind=bogus")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "unknown kind")
}

func TestHandleAnomaliesRejectsBadLive(t *testing.T) {
	store := &fakeStore{}
	srv := NewServer(":0", store)

	rec, body := get(t, srv.handleAnomalies, "/api/anomalies?live=maybe")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestHandleAnomaliesCapsLimit(t *testing.T) {
	store := &fakeStore{}
	srv := NewServer(":0", store)

	get(t, srv.handleAnomalies, "/api/anomalies?limit=9999")
	assert.Equal(t, maxLimit, store.lastFilter.Limit)
}

func TestHandleAnomaliesIgnoresMalformedNumbers(t *testing.T) {
	store := &fakeStore{}
	srv := NewServer(":0", store)

	get(t, srv.handleAnomalies, "/api/anomalies?hours=abc&limit=-5")
	assert.Equal(t, defaultHours, store.lastFilter.Hours)
	assert.Equal(t, defaultLimit, store.lastFilter.Limit)
}

func TestHandleAnomaliesStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db closed")}
	srv := NewServer(":0", store)

	rec, body := get(t, srv.handleAnomalies, "/api/anomalies")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestHandleAnomaliesMethodNotAllowed(t *testing.T) {
	srv := NewServer(":0", &fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/anomalies", nil)
	rec := httptest.NewRecorder()
	srv.handleAnomalies(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleStats(t *testing.T) {
	store := &fakeStore{counts: map[models.AnomalyKind]int{
		models.KindSharpDrop: 3,
		models.KindLimitCut:  1,
	}}
	srv := NewServer(":0", store)

	rec, body := get(t, srv.handleStats, "/api/anomalies/stats?hours=6")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(4), body["total"])
	assert.Equal(t, 6, store.lastHours)

	byKind, ok := body["by_kind"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), byKind["sharp_drop"])
	assert.Equal(t, float64(1), byKind["limit_cut"])
}

func TestHandleHealth(t *testing.T) {
	srv := NewServer(":0", &fakeStore{})

	rec, body := get(t, srv.handleHealth, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
