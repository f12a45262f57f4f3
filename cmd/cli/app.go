package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"ticketflow/internal/automation"
	"ticketflow/internal/config"
	"ticketflow/internal/notify"
)

// loadConfig 读取配置并初始化日志
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := config.InitLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

// openDatabase 连接 Postgres 并挂载 gorm 追踪插件
func openDatabase(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.Log.Level == "debug" {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			log.Warnf("gorm tracing plugin: %v", err)
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}
	return db, nil
}

func closeDatabase(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// senders 组装 send_email / send_notification 的投递渠道。日志渠道总是启用，
// Kafka 和 websocket hub 按配置追加。
type senders struct {
	email    notify.Multi
	notifier notify.Multi
	closers  []io.Closer
}

func buildSenders(cfg *config.Config, log *logrus.Logger, hub *notify.Hub) *senders {
	s := &senders{
		email:    notify.Multi{notify.NewLogSender(notify.ChannelEmail, log)},
		notifier: notify.Multi{notify.NewLogSender(notify.ChannelNotification, log)},
	}
	if k := cfg.Notify.Kafka; k.Enabled && len(k.Brokers) > 0 {
		if k.EmailTopic != "" {
			w := notify.NewKafkaSender(k.Brokers, k.EmailTopic, notify.ChannelEmail, log)
			s.email = append(s.email, w)
			s.closers = append(s.closers, w)
		}
		if k.NotificationTopic != "" {
			w := notify.NewKafkaSender(k.Brokers, k.NotificationTopic, notify.ChannelNotification, log)
			s.notifier = append(s.notifier, w)
			s.closers = append(s.closers, w)
		}
		log.Infof("notify: kafka enabled (brokers=%v)", k.Brokers)
	}
	if hub != nil {
		s.notifier = append(s.notifier, hub)
	}
	return s
}

func (s *senders) Close(log *logrus.Logger) {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			log.Warnf("notify: close: %v", err)
		}
	}
}

// engineOptions 把配置映射为引擎参数
func engineOptions(cfg config.AutomationConfig, log *logrus.Logger) automation.Options {
	opts := automation.Options{
		Logger:          log,
		RuleConcurrency: cfg.RuleConcurrency,
		ActionTimeout:   cfg.ActionTimeout,
		DispatchTimeout: cfg.DispatchTimeout,
		Webhook: automation.WebhookConfig{
			Timeout:              cfg.Webhook.Timeout,
			MaxRetries:           cfg.Webhook.MaxRetries,
			RetryInitialInterval: cfg.Webhook.RetryInitialInterval,
		},
	}
	if cb := cfg.Webhook.CircuitBreaker; cb.Enabled {
		opts.Webhook.Breaker = &automation.BreakerConfig{
			MaxFailures:     cb.MaxFailures,
			ResetTimeout:    cb.ResetTimeout,
			HalfOpenMaxReqs: cb.HalfOpenMaxReqs,
		}
	}
	return opts
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
