package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"ticketflow/internal/automation"
	"ticketflow/internal/config"
	"ticketflow/internal/handlers"
	"ticketflow/internal/models"
	"ticketflow/internal/notify"
	"ticketflow/internal/observability"
	"ticketflow/internal/rulestore"
	"ticketflow/internal/services"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ticketflow server",
	Long:  `Run the ticket API, the automation engine and the agent notification websocket`,
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg.Monitoring.Tracing)
	if err != nil {
		log.Warnf("tracing disabled: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	db, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer closeDatabase(db)
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	appCtx, stop := context.WithCancel(context.Background())
	defer stop()

	store, backend := rulestore.New(appCtx, cfg.Automation, db, log)

	var hub *notify.Hub
	if cfg.Notify.WebSocket.Enabled {
		hub = notify.NewHub(log)
		go hub.Run(appCtx)
	}
	out := buildSenders(cfg, log, hub)
	defer out.Close(log)

	ticketService := services.NewTicketService(db, log)
	opts := engineOptions(cfg.Automation, log)
	opts.Store = store
	opts.Recorder = store
	opts.Entities = ticketService
	opts.Email = out.email
	opts.Notifier = out.notifier
	engine := automation.NewEngine(opts)
	ticketService.SetAutomation(engine)

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(cfg, log, routerDeps{
		db:      db,
		store:   store,
		backend: backend,
		engine:  engine,
		tickets: ticketService,
		hub:     hub,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	go func() {
		log.Infof("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := withTimeout(cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	// 等待后台自动化任务结束后再关闭投递渠道
	if err := engine.Wait(ctx); err != nil {
		log.Warnf("automation: pending dispatches abandoned: %v", err)
	}
	stop()
	if err := shutdownTracing(ctx); err != nil {
		log.Warnf("tracing shutdown: %v", err)
	}
	log.Info("Server exited")
	return nil
}

type routerDeps struct {
	db      *gorm.DB
	store   rulestore.Store
	backend string
	engine  *automation.Engine
	tickets *services.TicketService
	hub     *notify.Hub
}

func setupRouter(cfg *config.Config, log *logrus.Logger, d routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	if cfg.Monitoring.Tracing.Enabled {
		name := cfg.Monitoring.Tracing.ServiceName
		if name == "" {
			name = "ticketflow"
		}
		router.Use(otelgin.Middleware(name))
	}
	if cfg.Security.CORS.Enabled {
		router.Use(corsMiddleware(cfg.Security.CORS))
	}

	var counter handlers.ClientCounter
	if d.hub != nil {
		counter = d.hub
	}
	router.GET("/health", handlers.NewHealthHandler(d.db, d.backend, counter).Health)
	if cfg.Monitoring.Enabled {
		path := cfg.Monitoring.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, handlers.NewMetricsHandler(counter, d.db).GetMetrics)
	}
	if d.hub != nil {
		router.GET("/ws/notifications", d.hub.HandleWebSocket)
	}

	api := router.Group("/api/v1")
	handlers.RegisterTicketRoutes(api, handlers.NewTicketHandler(d.tickets, log))
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(d.store, d.store, d.engine, d.tickets, log))

	return router
}

// corsMiddleware CORS 中间件
func corsMiddleware(c config.CORSConfig) gin.HandlerFunc {
	origins := strings.Join(c.AllowedOrigins, ", ")
	if origins == "" {
		origins = "*"
	}
	methods := strings.Join(c.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PATCH, DELETE, OPTIONS"
	}
	headers := strings.Join(c.AllowedHeaders, ", ")
	if headers == "" {
		headers = "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization"
	}
	return func(ctx *gin.Context) {
		ctx.Header("Access-Control-Allow-Origin", origins)
		ctx.Header("Access-Control-Allow-Methods", methods)
		ctx.Header("Access-Control-Allow-Headers", headers)

		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}

		ctx.Next()
	}
}
