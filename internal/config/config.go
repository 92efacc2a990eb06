package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"oikos/concierge/internal/logger"
)

// Config 全局配置结构
type Config struct {
	App          AppConfig          `yaml:"app"`
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Log          logger.Config      `yaml:"log"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Watchdog     WatchdogConfig     `yaml:"watchdog"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"` // dev, test, prod
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Address      string `yaml:"address"`
	ReadTimeout  int    `yaml:"read_timeout"`  // 秒
	WriteTimeout int    `yaml:"write_timeout"` // 秒
	EnableCORS   bool   `yaml:"enable_cors"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Driver          string `yaml:"driver"` // mysql, postgres
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	Charset         string `yaml:"charset"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// OrchestratorConfig 编排器配置
type OrchestratorConfig struct {
	// PushBufferSize 每个推送订阅的缓冲帧数
	PushBufferSize int `yaml:"push_buffer_size"`
	// MaxAppendAttempts 事件追加冲突重试上限
	MaxAppendAttempts int `yaml:"max_append_attempts"`
}

// WatchdogConfig 看门狗配置
type WatchdogConfig struct {
	Enabled bool `yaml:"enabled"`
	// Interval 扫描间隔（秒）
	Interval int `yaml:"interval"`
	// WaitingDeadline 允许停留在 waiting 状态的最长时间（秒）
	WaitingDeadline int `yaml:"waiting_deadline"`
}

var (
	globalConfig *Config
	once         sync.Once
)

// Default 返回默认配置
func Default() *Config {
	return &Config{
		App:    AppConfig{Name: "concierge", Version: "0.1.0", Env: "dev"},
		Server: ServerConfig{Address: ":8080", ReadTimeout: 30, WriteTimeout: 30, EnableCORS: true},
		Log:    logger.Config{Level: "info", Format: "console", Output: "stdout"},
		Orchestrator: OrchestratorConfig{
			PushBufferSize:    64,
			MaxAppendAttempts: 5,
		},
		Watchdog: WatchdogConfig{
			Enabled:         false,
			Interval:        30,
			WaitingDeadline: 600,
		},
	}
}

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	once.Do(func() {
		globalConfig = cfg
	})

	return cfg, nil
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	return globalConfig
}

// SetConfig 设置全局配置
func SetConfig(cfg *Config) {
	globalConfig = cfg
}
