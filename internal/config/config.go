package config

import (
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	TransactionSettled string `mapstructure:"transaction_settled"`
	LedgerAlert        string `mapstructure:"ledger_alert"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type BusinessConfig struct {
	MinBalance           string `mapstructure:"min_balance"`             // 账户最低余额（十进制字符串）
	RateCacheTTLSeconds  int    `mapstructure:"rate_cache_ttl_seconds"`  // 汇率缓存有效期
	LockWaitMs           int    `mapstructure:"lock_wait_ms"`            // 账户锁最长等待时间
	LockRetryIntervalMs  int    `mapstructure:"lock_retry_interval_ms"`  // 账户锁重试间隔
	AuditIntervalSeconds int    `mapstructure:"audit_interval_seconds"`  // 账本审计扫描间隔
	MaxRetryCount        int    `mapstructure:"max_retry_count"`         // 发件箱最大重试次数
	WorkerID             int64  `mapstructure:"worker_id"`               // 雪花算法机器ID
}

// MinBalanceDecimal 解析最低余额配置，非法配置直接终止进程
func (b *BusinessConfig) MinBalanceDecimal() decimal.Decimal {
	if b.MinBalance == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(b.MinBalance)
	if err != nil {
		log.Fatalf("min_balance 配置非法: %q", b.MinBalance)
	}
	return d
}

// LockWait 账户锁等待上限
func (b *BusinessConfig) LockWait() time.Duration {
	if b.LockWaitMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(b.LockWaitMs) * time.Millisecond
}

// LockRetryInterval 账户锁重试间隔
func (b *BusinessConfig) LockRetryInterval() time.Duration {
	if b.LockRetryIntervalMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(b.LockRetryIntervalMs) * time.Millisecond
}

// RateCacheTTL 汇率缓存有效期
func (b *BusinessConfig) RateCacheTTL() time.Duration {
	if b.RateCacheTTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(b.RateCacheTTLSeconds) * time.Second
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
