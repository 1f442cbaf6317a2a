package config

import (
	"fmt"
	"strings"
	"time"

	"table-bulkwriter/pkg/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	DefaultConfigName = "config.bulkwriter"
	DefaultConfigPath = "./config/"
)

// 支持的存储类型
const (
	KindDynamoDB      = "dynamodb"
	KindElasticsearch = "elasticsearch"
	KindRedis         = "redis"
	KindKafka         = "kafka"
	KindNSQ           = "nsq"
	KindPostgres      = "postgres"
	KindMySQL         = "mysql"
	KindHTTP          = "http"

	InputModeBatch  = "batch"
	InputModeStream = "stream"
)

// Config 定义整个配置的结构
type Config struct {
	Log           LogConfig           `mapstructure:"log"`
	Writer        WriterConfig        `mapstructure:"writer"`
	Store         StoreConfig         `mapstructure:"store"`
	DynamoDB      DynamoDBConfig      `mapstructure:"dynamodb"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	NSQ           NSQConfig           `mapstructure:"nsq"`
	Database      DatabaseConfig      `mapstructure:"database"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Monitor       MonitorConfig       `mapstructure:"monitor"`
	Input         InputConfig         `mapstructure:"input"`
}

// LogConfig Log 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Console    bool   `mapstructure:"console"`
}

// WriterConfig controls batching and the retry loop.
type WriterConfig struct {
	ID              string  `mapstructure:"id"`
	BatchSize       int     `mapstructure:"batch_size"`
	MaxRetries      int     `mapstructure:"max_retries"`
	RetryWaitMs     int     `mapstructure:"retry_wait_ms"`
	Concurrency     int     `mapstructure:"concurrency"`
	RatePerSecond   float64 `mapstructure:"rate_per_second"`
	FlushIntervalMs int     `mapstructure:"flush_interval_ms"`
	AsyncWorkers    int     `mapstructure:"async_workers"`
	QueueSize       int     `mapstructure:"queue_size"`
}

func (w WriterConfig) RetryWait() time.Duration {
	return time.Duration(w.RetryWaitMs) * time.Millisecond
}

func (w WriterConfig) FlushInterval() time.Duration {
	return time.Duration(w.FlushIntervalMs) * time.Millisecond
}

// StoreConfig 选择目标存储
type StoreConfig struct {
	Kind string `mapstructure:"kind"`
}

type DynamoDBConfig struct {
	Table    string `mapstructure:"table"`
	Region   string `mapstructure:"region"`
	Profile  string `mapstructure:"profile"`
	Endpoint string `mapstructure:"endpoint"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
	BatchSize int      `mapstructure:"batch_size"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Address    string `mapstructure:"address"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers   string `mapstructure:"brokers"`
	Topic     string `mapstructure:"topic"`
	BatchSize int    `mapstructure:"batch_size"`
}

type NSQConfig struct {
	Address   string `mapstructure:"address"`
	Topic     string `mapstructure:"topic"`
	BatchSize int    `mapstructure:"batch_size"`
}

// DatabaseConfig SQL 存储配置, 驱动由 store.kind (postgres/mysql) 决定
type DatabaseConfig struct {
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	BatchSize int    `mapstructure:"batch_size"`
}

type HTTPConfig struct {
	URL        string `mapstructure:"url"`
	APIKey     string `mapstructure:"api_key"`
	RateLimit  int    `mapstructure:"rate_limit"`
	Timeout    int    `mapstructure:"timeout"`
	MaxRetries int    `mapstructure:"max_retries"`
	BatchSize  int    `mapstructure:"batch_size"`
}

type MonitorConfig struct {
	Enable          bool   `mapstructure:"enable"`
	PrometheusAddr  string `mapstructure:"prometheus_addr"`
	ReportTTLMinute int    `mapstructure:"report_ttl_minute"`
}

// InputConfig 数据来源, mode 为 batch 或 stream
type InputConfig struct {
	Mode string `mapstructure:"mode"`
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.console", true)
	v.SetDefault("writer.id", "bulkwriter")
	v.SetDefault("writer.batch_size", 25)
	v.SetDefault("writer.max_retries", 1)
	v.SetDefault("writer.retry_wait_ms", 1000)
	v.SetDefault("writer.concurrency", 1)
	v.SetDefault("writer.flush_interval_ms", 1000)
	v.SetDefault("writer.async_workers", 1)
	v.SetDefault("writer.queue_size", 10000)
	v.SetDefault("store.kind", "dynamodb")
	v.SetDefault("dynamodb.table", "Student")
	v.SetDefault("dynamodb.region", "eu-west-1")
	v.SetDefault("database.table", "bulk_records")
	v.SetDefault("monitor.report_ttl_minute", 60)
	v.SetDefault("input.mode", "batch")
	v.SetDefault("input.path", "./config/students.json")
}

// Load reads the named config file from dir. Env vars prefixed BULKWRITER_
// override file values.
func Load(dir, name string) (Config, error) {
	var config Config

	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("BULKWRITER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return config, fmt.Errorf("read config file: %w", err)
	}

	// 环境变量的值都是字符串, 需要弱类型转换
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &config,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return config, err
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return config, fmt.Errorf("decode config file: %w", err)
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	if c.Writer.BatchSize <= 0 {
		return fmt.Errorf("writer.batch_size must be positive, got %d", c.Writer.BatchSize)
	}
	if c.Writer.MaxRetries < 0 {
		return fmt.Errorf("writer.max_retries must not be negative, got %d", c.Writer.MaxRetries)
	}
	if c.Writer.RetryWaitMs < 0 {
		return fmt.Errorf("writer.retry_wait_ms must not be negative, got %d", c.Writer.RetryWaitMs)
	}
	switch c.Store.Kind {
	case KindDynamoDB, KindElasticsearch, KindRedis, KindKafka, KindNSQ, KindPostgres, KindMySQL, KindHTTP:
	default:
		return fmt.Errorf("unknown store.kind %q", c.Store.Kind)
	}
	switch c.Input.Mode {
	case InputModeBatch, InputModeStream:
	default:
		return fmt.Errorf("input.mode must be batch or stream, got %q", c.Input.Mode)
	}
	return nil
}

func InitConfig() Config {
	config, err := Load(DefaultConfigPath, DefaultConfigName)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %s", err))
	}
	return config
}

// WatchConfig 只热加载日志级别, 写入参数在进程生命周期内保持不变
func WatchConfig(config *Config) {
	v := viper.New()
	v.SetConfigName(DefaultConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(DefaultConfigPath)
	if err := v.ReadInConfig(); err != nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := Load(DefaultConfigPath, DefaultConfigName)
		if err != nil {
			return
		}
		config.Log.Level = newConfig.Log.Level
		logger.SetLogLevel(config.Log.Level)
	})
	v.WatchConfig()
}
