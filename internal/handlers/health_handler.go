package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"ticketflow/internal/version"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	db           *gorm.DB
	storeBackend string
	hub          ClientCounter
}

// NewHealthHandler db、hub 可为 nil
func NewHealthHandler(db *gorm.DB, storeBackend string, hub ClientCounter) *HealthHandler {
	return &HealthHandler{db: db, storeBackend: storeBackend, hub: hub}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

var startTime = time.Now()

// Health 健康检查端点。数据库不可用时返回 503。
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   version.Version,
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			GoVersion: runtime.Version(),
		},
	}

	if h.db != nil {
		resp.Services["database"] = h.checkDatabase(ctx)
		if resp.Services["database"].Status != "healthy" {
			resp.Status = "degraded"
		}
	}
	resp.Services["automation"] = ServiceInfo{
		Status:  "healthy",
		Details: map[string]string{"rule_store": h.storeBackend},
	}
	if h.hub != nil {
		resp.Services["websocket"] = ServiceInfo{
			Status:  "healthy",
			Details: map[string]int{"clients": h.hub.ClientCount()},
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ServiceInfo {
	start := time.Now()
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	info := ServiceInfo{Status: "healthy", Latency: time.Since(start).String()}
	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
	}
	return info
}
