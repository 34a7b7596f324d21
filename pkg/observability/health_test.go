package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*HealthChecker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewHealthChecker(db, nil, "test"), mock
}

func redisPinger(t *testing.T) (Pinger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return PingerFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}), mr
}

func TestHealthChecker_Check_Healthy(t *testing.T) {
	checker, mock := newMockDB(t)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	status := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, StatusHealthy, status.Dependencies["database"].Status)
	assert.Nil(t, status.LastCycle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_Check_DatabaseDown(t *testing.T) {
	checker, mock := newMockDB(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	status := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Contains(t, status.Dependencies["database"].Message, "connection refused")
}

func TestHealthChecker_Check_QueryFails(t *testing.T) {
	checker, mock := newMockDB(t)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("read only"))

	status := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Contains(t, status.Dependencies["database"].Message, "query failed")
}

func TestHealthChecker_Check_Redis(t *testing.T) {
	pinger, mr := redisPinger(t)
	checker := NewHealthChecker(nil, pinger, "test")

	status := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Dependencies["redis"].Status)

	mr.SetError("ERR redis unavailable")

	status = checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status, "redis outage only degrades the service")
	assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
}

func TestHealthChecker_Check_DatabaseDownWinsOverRedis(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("down"))

	checker := NewHealthChecker(db, PingerFunc(func(context.Context) error {
		return errors.New("also down")
	}), "test")

	status := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
}

func TestHealthChecker_RecordCycle(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "test")
	finished := time.Date(2024, 3, 1, 0, 0, 5, 0, time.UTC)
	checker.RecordCycle(finished)

	status := checker.Check(context.Background())
	require.NotNil(t, status.LastCycle)
	assert.True(t, finished.Equal(*status.LastCycle))
}

func TestRegisterHealthRoutes(t *testing.T) {
	checker, mock := newMockDB(t)
	router := mux.NewRouter()
	RegisterHealthRoutes(router, checker)

	t.Run("liveness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, StatusHealthy, body["status"])
	})

	t.Run("readiness healthy", func(t *testing.T) {
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var status HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, StatusHealthy, status.Status)
	})

	t.Run("readiness unhealthy", func(t *testing.T) {
		mock.ExpectPing().WillReturnError(errors.New("down"))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
