package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketflow/internal/metrics"
)

type fixedCounter int

func (c fixedCounter) ClientCount() int { return int(c) }

func TestHealth_ReportsComponents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler(newTestDB(t), "database", fixedCounter(2))
	r := gin.New()
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Services["database"].Status)
	assert.Contains(t, resp.Services, "automation")
	assert.Contains(t, resp.Services, "websocket")
}

func TestHealth_DegradedWhenDatabaseClosed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	h := NewHealthHandler(db, "memory", nil)
	r := gin.New()
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestMetrics_PrometheusOutput(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.Reset()
	t.Cleanup(metrics.Reset)
	metrics.IncDispatch()
	metrics.IncAction("send_email", "success")

	h := NewMetricsHandler(fixedCounter(3), newTestDB(t))
	r := gin.New()
	r.GET("/metrics", h.GetMetrics)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))

	body := w.Body.String()
	assert.Contains(t, body, "ticketflow_automation_dispatches_total 1\n")
	assert.Contains(t, body, `ticketflow_automation_actions_total{type="send_email",status="success"} 1`)
	assert.Contains(t, body, "ticketflow_websocket_active_connections 3\n")
	assert.Contains(t, body, "ticketflow_db_open_connections")
	assert.Contains(t, body, "# TYPE ticketflow_go_goroutines gauge")
}
