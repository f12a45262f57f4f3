package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，例如 TICKETFLOW_SERVER_PORT
const EnvPrefix = "TICKETFLOW"

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security" yaml:"security"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
	Notify     NotifyConfig     `mapstructure:"notify" yaml:"notify"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// DSN 返回 postgres 连接串
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, sslmode)
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	Output     string `mapstructure:"output" yaml:"output"` // stdout, file, both
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`       // MB
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`         // days
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // number of backup files
	Compress   bool   `mapstructure:"compress" yaml:"compress"`       // compress backup files
}

type MonitoringConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	MetricsPath string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	Tracing     TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`         // OTLP gRPC 端点，例如 http://otel-collector:4317
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`         // 是否使用明文（本地/开发）
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"` // 缺省使用 "ticketflow"
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors" yaml:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers" yaml:"allowed_headers"`
}

// AutomationConfig 自动化引擎配置
type AutomationConfig struct {
	Store           string        `mapstructure:"store" yaml:"store"`         // database, memory
	SeedFile        string        `mapstructure:"seed_file" yaml:"seed_file"` // YAML 规则种子文件
	RuleConcurrency int           `mapstructure:"rule_concurrency" yaml:"rule_concurrency"`
	ActionTimeout   time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout" yaml:"dispatch_timeout"`
	RunHistory      int           `mapstructure:"run_history" yaml:"run_history"` // 内存模式下保留的执行记录数
	Webhook         WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
}

type WebhookConfig struct {
	Timeout              time.Duration        `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries           int                  `mapstructure:"max_retries" yaml:"max_retries"` // 0 表示至多一次
	RetryInitialInterval time.Duration        `mapstructure:"retry_initial_interval" yaml:"retry_initial_interval"`
	CircuitBreaker       CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxFailures     int           `mapstructure:"max_failures" yaml:"max_failures"`
	ResetTimeout    time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
	HalfOpenMaxReqs int           `mapstructure:"half_open_max_requests" yaml:"half_open_max_requests"`
}

// NotifyConfig 通知渠道配置
type NotifyConfig struct {
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
	WebSocket WebSocketConfig `mapstructure:"websocket" yaml:"websocket"`
}

type KafkaConfig struct {
	Enabled           bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers           []string `mapstructure:"brokers" yaml:"brokers"`
	NotificationTopic string   `mapstructure:"notification_topic" yaml:"notification_topic"`
	EmailTopic        string   `mapstructure:"email_topic" yaml:"email_topic"`
}

type WebSocketConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// LoadEnvFile 读取 .env（不存在时忽略）
func LoadEnvFile(paths ...string) {
	_ = godotenv.Load(paths...)
}

// BindEnv 让 viper 读取 TICKETFLOW_ 前缀的环境变量。
// AutomaticEnv 只对已知的 key 生效，所以先把默认配置注册为 viper 默认值。
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	raw, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	setDefaults(v, "", tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Load 在默认配置之上合并 viper 中的配置
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom 同 Load，但使用指定的 viper 实例
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg := GetDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "ticketflow",
			SSLMode:         "disable",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/ticketflow.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "ticketflow",
			},
		},
		Security: SecurityConfig{
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
				AllowedHeaders: []string{"*"},
			},
		},
		Automation: AutomationConfig{
			Store:           "database",
			RuleConcurrency: 4,
			ActionTimeout:   10 * time.Second,
			DispatchTimeout: 60 * time.Second,
			RunHistory:      500,
			Webhook: WebhookConfig{
				Timeout:              5 * time.Second,
				MaxRetries:           0,
				RetryInitialInterval: 500 * time.Millisecond,
				CircuitBreaker: CircuitBreakerConfig{
					Enabled:         false,
					MaxFailures:     5,
					ResetTimeout:    60 * time.Second,
					HalfOpenMaxReqs: 1,
				},
			},
		},
		Notify: NotifyConfig{
			Kafka: KafkaConfig{
				Enabled:           false,
				Brokers:           []string{"localhost:9092"},
				NotificationTopic: "automation.notifications",
				EmailTopic:        "automation.emails",
			},
			WebSocket: WebSocketConfig{Enabled: true},
		},
	}
}
