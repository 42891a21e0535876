// Package config 提供 TOML 配置加载与环境变量覆盖
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 支付平台配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// 汇率源配置
	Rates RatesConfig `mapstructure:"rates"`
	// 路由配置
	Routing RoutingConfig `mapstructure:"routing"`
	// 回调配置
	Callback CallbackConfig `mapstructure:"callback"`
	// 限流配置
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 是否启用
	Enabled bool `mapstructure:"enabled"`
	// 每秒请求数
	QPS int `mapstructure:"qps"`
	// 突发容量
	Burst int `mapstructure:"burst"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	// 监听地址
	Host string `mapstructure:"host"`
	// 监听端口
	Port int `mapstructure:"port"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用 SQL 日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// broker 地址列表
	Brokers []string `mapstructure:"brokers"`
	// 交易事件主题
	TransactionTopic string `mapstructure:"transaction_topic"`
	// 发送最大重试次数
	MaxRetries int `mapstructure:"max_retries"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	// 日志级别：debug, info, warn, error
	Level string `mapstructure:"level"`
	// 输出目标：stdout, file, both
	Output string `mapstructure:"output"`
	// 日志文件路径
	FilePath string `mapstructure:"file_path"`
	// 最大文件大小（MB）
	MaxSize int `mapstructure:"max_size"`
	// 最大备份文件数
	MaxBackups int `mapstructure:"max_backups"`
	// 最大保留天数
	MaxAge int `mapstructure:"max_age"`
}

// RatesConfig 汇率源配置
type RatesConfig struct {
	// 默认汇率源：rapira, bybit
	DefaultSource string `mapstructure:"default_source"`
	// Rapira API 地址
	RapiraURL string `mapstructure:"rapira_url"`
	// Bybit API 地址
	BybitURL string `mapstructure:"bybit_url"`
	// 缓存 TTL（秒）
	CacheTTL int `mapstructure:"cache_ttl"`
	// KKK 百分比（汇率加价/减价）
	KKKPercent string `mapstructure:"kkk_percent"`
	// KKK 方向：markup, markdown
	KKKOperation string `mapstructure:"kkk_operation"`
}

// RoutingConfig 路由配置
type RoutingConfig struct {
	// 聚合器最大尝试次数
	MaxAggregatorAttempts int `mapstructure:"max_aggregator_attempts"`
	// 聚合器请求超时（秒）
	DispatchTimeout int `mapstructure:"dispatch_timeout"`
	// 过期交易扫描间隔（秒）
	ExpirySweepInterval int `mapstructure:"expiry_sweep_interval"`
}

// CallbackConfig 回调配置
type CallbackConfig struct {
	// 回调请求超时（秒）
	Timeout int `mapstructure:"timeout"`
	// 聚合器回调的对外地址前缀
	BaseURL string `mapstructure:"base_url"`
}

// Load 从文件加载配置，环境变量以 PAYMENT_ 前缀覆盖
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetEnvPrefix("PAYMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "payment-platform")
	v.SetDefault("environment", "dev")
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("kafka.transaction_topic", "payment.transactions")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/payment.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("rates.default_source", "rapira")
	v.SetDefault("rates.cache_ttl", 10)
	v.SetDefault("rates.kkk_percent", "0")
	v.SetDefault("rates.kkk_operation", "markup")
	v.SetDefault("routing.max_aggregator_attempts", 10)
	v.SetDefault("routing.dispatch_timeout", 10)
	v.SetDefault("routing.expiry_sweep_interval", 60)
	v.SetDefault("callback.timeout", 5)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.qps", 100)
	v.SetDefault("rate_limit.burst", 200)
}
