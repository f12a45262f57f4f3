package cli

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ticketflow/internal/automation"
	"ticketflow/internal/config"
	"ticketflow/internal/models"
	"ticketflow/internal/rulestore"
	"ticketflow/internal/services"
)

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := gorm.Open(sqlite.Open("file:cli_router?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	cfg := config.GetDefaultConfig()
	store := rulestore.NewMemoryStore(10)
	tickets := services.NewTicketService(db, log)
	opts := engineOptions(cfg.Automation, log)
	opts.Store = store
	opts.Recorder = store
	opts.Entities = tickets
	engine := automation.NewEngine(opts)
	tickets.SetAutomation(engine)

	return setupRouter(cfg, log, routerDeps{
		db:      db,
		store:   store,
		backend: rulestore.BackendMemory,
		engine:  engine,
		tickets: tickets,
	})
}

func TestSetupRouter_Routes(t *testing.T) {
	r := testRouter(t)

	for _, path := range []string{"/health", "/metrics", "/api/v1/automations", "/api/v1/automations/runs", "/api/v1/tickets"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/tickets", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEngineOptions_Breaker(t *testing.T) {
	cfg := config.GetDefaultConfig().Automation
	opts := engineOptions(cfg, nil)
	assert.Nil(t, opts.Webhook.Breaker)
	assert.Equal(t, 4, opts.RuleConcurrency)

	cfg.Webhook.CircuitBreaker.Enabled = true
	opts = engineOptions(cfg, nil)
	require.NotNil(t, opts.Webhook.Breaker)
	assert.Equal(t, 5, opts.Webhook.Breaker.MaxFailures)
}

func TestTriggerEventContext(t *testing.T) {
	t.Cleanup(func() { triggerContext, triggerEvent, triggerTicketID, triggerFile = "", "", "", "" })

	triggerContext = `{"event_type":"ticket_updated","ticket":{"priority":"high"},"changes":{"status":{"old":"open","new":"closed"}}}`
	triggerTicketID = "9"
	evt, err := triggerEventContext()
	require.NoError(t, err)
	assert.Equal(t, automation.EventTicketUpdated, evt.EventType)
	assert.Equal(t, "9", evt.TicketID)
	assert.Equal(t, "high", evt.Ticket["priority"])
	assert.Equal(t, "closed", evt.Changes["status"].New)

	triggerContext = "{"
	_, err = triggerEventContext()
	assert.Error(t, err)
}
