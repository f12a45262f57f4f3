package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ticketflow/internal/models"
	"ticketflow/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

func newTicketFixture(t *testing.T) *automationFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := services.NewTicketService(newTestDB(t), quietLogger())
	r := gin.New()
	RegisterTicketRoutes(r.Group("/api/v1"), NewTicketHandler(svc, quietLogger()))
	return &automationFixture{router: r}
}

type ticketEnvelope struct {
	Data models.Ticket `json:"data"`
}

func TestTicketHandler_CreateAndGet(t *testing.T) {
	f := newTicketFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/tickets", map[string]any{
		"title":       "Printer on fire",
		"customer_id": 3,
		"priority":    "urgent",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created ticketEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "urgent", created.Data.Priority)
	assert.Equal(t, "open", created.Data.Status)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/tickets/%d", created.Data.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got ticketEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Printer on fire", got.Data.Title)
	assert.Len(t, got.Data.StatusHistory, 1)
}

func TestTicketHandler_Validation(t *testing.T) {
	f := newTicketFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/tickets", map[string]any{"title": "x", "customer_id": 1, "priority": "whenever"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/tickets/abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/tickets/999", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPatch, "/api/v1/tickets/999", map[string]any{"status": "closed"}).Code)
}

func TestTicketHandler_UpdateAndMessage(t *testing.T) {
	f := newTicketFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/tickets", map[string]any{"title": "Slow VPN", "customer_id": 1})
	require.Equal(t, http.StatusCreated, w.Code)
	var created ticketEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	base := fmt.Sprintf("/api/v1/tickets/%d", created.Data.ID)

	w = f.do(t, http.MethodPatch, base, map[string]any{"status": "resolved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated ticketEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "resolved", updated.Data.Status)
	assert.NotNil(t, updated.Data.ResolvedAt)

	w = f.do(t, http.MethodPost, base+"/messages", map[string]any{"sender": "customer", "content": "still slow"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, base+"/messages", map[string]any{"sender": "customer"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTicketHandler_List(t *testing.T) {
	f := newTicketFixture(t)
	for _, p := range []string{"low", "high", "high"} {
		w := f.do(t, http.MethodPost, "/api/v1/tickets", map[string]any{"title": "t", "customer_id": 1, "priority": p})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := f.do(t, http.MethodGet, "/api/v1/tickets?priority=high&page_size=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data     []models.Ticket `json:"data"`
		Total    int64           `json:"total"`
		PageSize int             `json:"page_size"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 2, resp.Total)
	assert.Equal(t, 1, resp.PageSize)
	assert.Len(t, resp.Data, 1)
}
