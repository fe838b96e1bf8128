package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`   // 服务器配置
	Database DatabaseConfig `mapstructure:"database"` // 主库配置
	Sheets   SheetsConfig   `mapstructure:"sheets"`   // 表格镜像配置
	Quota    QuotaConfig    `mapstructure:"quota"`    // 表格接口限流配置
	Sync     SyncConfig     `mapstructure:"sync"`     // 同步调度配置
	Log      LogConfig      `mapstructure:"log"`      // 日志配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `mapstructure:"port"` // 服务端口
	Mode string `mapstructure:"mode"` // Gin运行模式：debug/release/test
}

// DatabaseConfig PostgreSQL 配置
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`               // 连接DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
}

// SheetsConfig 表格镜像配置；SpreadsheetID 为空时使用内存镜像
type SheetsConfig struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`   // 表格ID
	CredentialsFile string `mapstructure:"credentials_file"` // 服务账号JSON
	Endpoint        string `mapstructure:"endpoint"`         // 自定义接口地址（测试/代理网关）
	Timeout         int    `mapstructure:"timeout"`          // 请求超时（秒）
	Proxy           string `mapstructure:"proxy"`            // 代理地址
	ListDelimiter   string `mapstructure:"list_delimiter"`   // 列表字段分隔符
}

// QuotaConfig 表格接口限流
type QuotaConfig struct {
	MaxCalls   int           `mapstructure:"max_calls"`   // 每窗口允许调用数
	Buffer     int           `mapstructure:"buffer"`      // 预留余量
	Window     time.Duration `mapstructure:"window"`      // 窗口长度
	Cooldown   time.Duration `mapstructure:"cooldown"`    // 命中429后的冷却时长
	MaxRetries int           `mapstructure:"max_retries"` // 限流重试次数
}

// SyncConfig 同步调度配置
type SyncConfig struct {
	PullInterval time.Duration `mapstructure:"pull_interval"` // 定时从表格拉取的间隔，0 表示关闭
	Types        []string      `mapstructure:"types"`         // 定时拉取的类型，空表示全部
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"` // debug/info/warn/error
}

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load() // 忽略错误（.env 可不存在）
	return loadConfig(viper.New(), "./config")
}

func loadConfig(v *viper.Viper, paths ...string) (*Config, error) {
	setDefaults(v)

	// 2. 读取 config.yaml
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("sheets.timeout", 30)
	v.SetDefault("sheets.list_delimiter", ";")
	v.SetDefault("quota.max_calls", 100)
	v.SetDefault("quota.buffer", 10)
	v.SetDefault("quota.window", time.Minute)
	v.SetDefault("quota.cooldown", time.Minute)
	v.SetDefault("quota.max_retries", 3)
	v.SetDefault("log.level", "info")
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SHEETS_SPREADSHEET_ID"); v != "" {
		cfg.Sheets.SpreadsheetID = v
	}
	if v := os.Getenv("SHEETS_CREDENTIALS_FILE"); v != "" {
		cfg.Sheets.CredentialsFile = v
	}
	if v := os.Getenv("SHEETS_PROXY"); v != "" {
		cfg.Sheets.Proxy = v
	}
}

// GetGORMConfig 获取主库 GORM 配置（唯一约束冲突翻译为 gorm.ErrDuplicatedKey）
func (d *DatabaseConfig) GetGORMConfig() gorm.Config {
	return gorm.Config{TranslateError: true}
}
