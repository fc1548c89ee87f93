package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version" ignored:"true"`

	Chrome    ChromeConfig    `yaml:"chrome"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Intercept InterceptConfig `yaml:"intercept"`
	Sqlite    SqliteConfig    `yaml:"sqlite"`
	Log       LogConfig       `yaml:"log"`
}

// ChromeConfig 远程调试端点
type ChromeConfig struct {
	Host string `yaml:"host" envconfig:"CHROME_DEBUGGING_HOST"`
	Port int    `yaml:"port" envconfig:"CHROME_DEBUGGING_PORT"`
}

// LifecycleConfig 会话生命周期参数
type LifecycleConfig struct {
	RefreshInterval       int           `yaml:"refreshInterval" envconfig:"REFRESH_INTERVAL"`
	OnStartOnFirstRequest bool          `yaml:"onStartOnFirstRequest" envconfig:"ONSTART_ON_FIRST_REQUEST"`
	CloseReplacedTab      bool          `yaml:"closeReplacedTab" envconfig:"CLOSE_REPLACED_TAB"`
	OperationTimeout      time.Duration `yaml:"operationTimeout" envconfig:"OPERATION_TIMEOUT"`
	DecoyURLs             []string      `yaml:"decoyURLs" envconfig:"DECOY_URLS"`
}

// InterceptConfig 导航期间的资源拦截策略
type InterceptConfig struct {
	Enabled              bool     `yaml:"enabled" envconfig:"INTERCEPT_ENABLED"`
	BlockedResourceTypes []string `yaml:"blockedResourceTypes" envconfig:"INTERCEPT_BLOCKED_TYPES"`
	TrackerPatterns      []string `yaml:"trackerPatterns" envconfig:"INTERCEPT_TRACKER_PATTERNS"`
	Concurrency          int      `yaml:"concurrency" envconfig:"INTERCEPT_CONCURRENCY"`
	QueueSize            int      `yaml:"queueSize" envconfig:"INTERCEPT_QUEUE_SIZE"`
	ProcessTimeoutMS     int      `yaml:"processTimeoutMS" envconfig:"INTERCEPT_PROCESS_TIMEOUT_MS"`
}

// SqliteConfig 状态持久化
type SqliteConfig struct {
	Dsn    string `yaml:"dsn" envconfig:"SQLITE_DSN"`
	Prefix string `yaml:"prefix" envconfig:"SQLITE_PREFIX"`
}

// LogConfig 日志输出
type LogConfig struct {
	Level  string   `yaml:"level" envconfig:"LOG_LEVEL"`
	Writer []string `yaml:"writer" envconfig:"LOG_WRITER"`
	File   string   `yaml:"file" envconfig:"LOG_FILE"`
}

// DefaultTrackerPatterns 默认拦截的统计/广告/推荐端点
var DefaultTrackerPatterns = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"doubleclick.net",
	"googlesyndication.com",
	"connect.facebook.net",
	"bat.bing.com",
	"hotjar.com",
	"scorecardresearch.com",
	"criteo.",
	"taboola.com",
	"outbrain.com",
	"/recommendations",
	"/analytics",
	"/collect?",
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Chrome: ChromeConfig{
			Host: "127.0.0.1",
			Port: 9222,
		},
		Lifecycle: LifecycleConfig{
			RefreshInterval:  4,
			CloseReplacedTab: true,
		},
		Intercept: InterceptConfig{
			Enabled:              true,
			BlockedResourceTypes: []string{"Image", "Media", "Font"},
			TrackerPatterns:      append([]string(nil), DefaultTrackerPatterns...),
			Concurrency:          8,
			QueueSize:            256,
			ProcessTimeoutMS:     3000,
		},
		Sqlite: SqliteConfig{
			Dsn:    "db.sqlite3",
			Prefix: "cdpkeeper_",
		},
		Log: LogConfig{
			Level:  "info",
			Writer: []string{"console"},
			File:   "cdpkeeper.log",
		},
	}
}

// Load 依次应用默认值、YAML 文件（可选）和环境变量
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Chrome.Host == "" {
		return fmt.Errorf("chrome host is empty")
	}
	if c.Chrome.Port <= 0 || c.Chrome.Port > 65535 {
		return fmt.Errorf("chrome port out of range: %d", c.Chrome.Port)
	}
	if c.Lifecycle.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive: %d", c.Lifecycle.RefreshInterval)
	}
	if c.Lifecycle.OperationTimeout < 0 {
		return fmt.Errorf("operation timeout must not be negative")
	}
	return nil
}

// DevToolsURL 返回远程调试 HTTP 端点
func (c *Config) DevToolsURL() string {
	return "http://" + net.JoinHostPort(c.Chrome.Host, strconv.Itoa(c.Chrome.Port))
}
