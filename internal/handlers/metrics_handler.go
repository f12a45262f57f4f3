package handlers

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"ticketflow/internal/metrics"
	"ticketflow/internal/version"
)

// ClientCounter 在线 websocket 连接数
type ClientCounter interface {
	ClientCount() int
}

// MetricsHandler 指标处理器
type MetricsHandler struct {
	hub       ClientCounter
	db        *gorm.DB
	startedAt time.Time
}

// NewMetricsHandler 创建指标处理器；hub、db 可为 nil
func NewMetricsHandler(hub ClientCounter, db *gorm.DB) *MetricsHandler {
	return &MetricsHandler{hub: hub, db: db, startedAt: time.Now()}
}

// GetMetrics 获取系统指标（Prometheus 格式）
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4")

	b := &strings.Builder{}
	v := strings.ReplaceAll(version.Version, "\"", "\\\"")
	cmt := strings.ReplaceAll(version.Commit, "\"", "\\\"")
	fmt.Fprintf(b, "# HELP ticketflow_info Information about the ticketflow instance\n")
	fmt.Fprintf(b, "# TYPE ticketflow_info gauge\n")
	fmt.Fprintf(b, "ticketflow_info{version=\"%s\",commit=\"%s\"} 1\n\n", v, cmt)

	fmt.Fprintf(b, "# HELP ticketflow_uptime_seconds Total uptime in seconds\n")
	fmt.Fprintf(b, "# TYPE ticketflow_uptime_seconds counter\n")
	fmt.Fprintf(b, "ticketflow_uptime_seconds %.0f\n\n", time.Since(h.startedAt).Seconds())

	fmt.Fprintf(b, "# HELP ticketflow_go_goroutines Number of goroutines\n")
	fmt.Fprintf(b, "# TYPE ticketflow_go_goroutines gauge\n")
	fmt.Fprintf(b, "ticketflow_go_goroutines %d\n\n", runtime.NumGoroutine())

	snap := metrics.AutomationSnapshot()
	fmt.Fprintf(b, "# HELP ticketflow_automation_dispatches_total Events evaluated by the automation engine\n")
	fmt.Fprintf(b, "# TYPE ticketflow_automation_dispatches_total counter\n")
	fmt.Fprintf(b, "ticketflow_automation_dispatches_total %d\n", snap.Dispatches)
	fmt.Fprintf(b, "# HELP ticketflow_automation_matches_total Rules whose actions were invoked\n")
	fmt.Fprintf(b, "# TYPE ticketflow_automation_matches_total counter\n")
	fmt.Fprintf(b, "ticketflow_automation_matches_total %d\n", snap.Matches)
	fmt.Fprintf(b, "# HELP ticketflow_automation_store_errors_total Dispatches skipped because rules could not be loaded\n")
	fmt.Fprintf(b, "# TYPE ticketflow_automation_store_errors_total counter\n")
	fmt.Fprintf(b, "ticketflow_automation_store_errors_total %d\n", snap.StoreErrors)
	fmt.Fprintf(b, "# HELP ticketflow_automation_webhook_failures_total Failed webhook deliveries\n")
	fmt.Fprintf(b, "# TYPE ticketflow_automation_webhook_failures_total counter\n")
	fmt.Fprintf(b, "ticketflow_automation_webhook_failures_total %d\n", snap.WebhookFailures)
	fmt.Fprintf(b, "# HELP ticketflow_automation_actions_total Action outcomes by type and status\n")
	fmt.Fprintf(b, "# TYPE ticketflow_automation_actions_total counter\n")
	for _, a := range snap.Actions {
		fmt.Fprintf(b, "ticketflow_automation_actions_total{type=\"%s\",status=\"%s\"} %d\n", a.Type, a.Status, a.Count)
	}

	if h.hub != nil {
		fmt.Fprintf(b, "\n# HELP ticketflow_websocket_active_connections Connected agents\n")
		fmt.Fprintf(b, "# TYPE ticketflow_websocket_active_connections gauge\n")
		fmt.Fprintf(b, "ticketflow_websocket_active_connections %d\n", h.hub.ClientCount())
	}

	if h.db != nil {
		if sqlDB, err := h.db.DB(); err == nil {
			ds := sqlDB.Stats()
			fmt.Fprintf(b, "\n# HELP ticketflow_db_open_connections The number of established connections both in use and idle\n")
			fmt.Fprintf(b, "# TYPE ticketflow_db_open_connections gauge\n")
			fmt.Fprintf(b, "ticketflow_db_open_connections %d\n", ds.OpenConnections)
			fmt.Fprintf(b, "# HELP ticketflow_db_inuse_connections The number of connections currently in use\n")
			fmt.Fprintf(b, "# TYPE ticketflow_db_inuse_connections gauge\n")
			fmt.Fprintf(b, "ticketflow_db_inuse_connections %d\n", ds.InUse)
			fmt.Fprintf(b, "# HELP ticketflow_db_wait_count The total number of connections waited for\n")
			fmt.Fprintf(b, "# TYPE ticketflow_db_wait_count counter\n")
			fmt.Fprintf(b, "ticketflow_db_wait_count %d\n", ds.WaitCount)
		}
	}

	c.String(200, b.String())
}
