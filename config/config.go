package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"freelancehub/pkg/config"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// StoreConfig 选择聚合存储后端
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory | postgres | mongo
}

// GuardConfig 项目锁配置；Lease 打开后多实例之间通过 Redis 租约互斥
type GuardConfig struct {
	TimeoutMS  int  `yaml:"timeout_ms"`
	Lease      bool `yaml:"lease"`
	LeaseTTLMS int  `yaml:"lease_ttl_ms"`
}

func (c GuardConfig) Timeout() time.Duration  { return ms(c.TimeoutMS, 5000) }
func (c GuardConfig) LeaseTTL() time.Duration { return ms(c.LeaseTTLMS, 10000) }

// FanoutConfig 推送配置
type FanoutConfig struct {
	BufferSize int  `yaml:"buffer_size"`
	Bridge     bool `yaml:"bridge"` // 订阅 events 交换机，把其他实例提交的事件推给本地观察者
	DedupTTLS  int  `yaml:"dedup_ttl_sec"`
}

// PaymentConfig 里程碑批准后的支付通知
type PaymentConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failure_threshold"`
	OpenTimeoutS     int    `yaml:"open_timeout_sec"`
}

// OutboxConfig outbox worker 配置
type OutboxConfig struct {
	IntervalMS int `yaml:"interval_ms"`
	BatchSize  int `yaml:"batch_size"`
	MaxRetries int `yaml:"max_retries"`
}

func (c OutboxConfig) Interval() time.Duration { return ms(c.IntervalMS, 1000) }

type Config struct {
	InstanceID string             `yaml:"instance_id"`
	Server     config.ServerConfig `yaml:"server"`
	Log        config.LogConfig    `yaml:"log"`
	Otel       config.OtelConfig   `yaml:"otel"`
	Store      StoreConfig         `yaml:"store"`
	DB         config.DBConfig     `yaml:"db"`
	Mongo      config.MongoConfig  `yaml:"mongo"`
	MQ         config.MQConfig     `yaml:"mq"`
	Redis      config.RedisConfig  `yaml:"redis"`
	JWT        config.JWTConfig    `yaml:"jwt"`
	Guard      GuardConfig         `yaml:"guard"`
	Fanout     FanoutConfig        `yaml:"fanout"`
	Payment    PaymentConfig       `yaml:"payment"`
	Outbox     OutboxConfig        `yaml:"outbox"`
}

// Load 读取 CONFIG_DIR 下的 base.yaml 与 <CONFIG_ENV>.yaml，失败直接退出
func Load() *Config {
	cfg, err := LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func LoadFrom(env, dir string) (*Config, error) {
	raw, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := config.Decode(raw, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMongoFromEnv(&cfg.Mongo)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLogFromEnv(&cfg.Log)
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("INSTANCE_ID"); v != "" {
		cfg.InstanceID = v
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.InstanceID == "" {
		host, _ := os.Hostname()
		c.InstanceID = host + "-" + uuid.NewString()[:8]
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30
	}
	if c.Fanout.DedupTTLS <= 0 {
		c.Fanout.DedupTTLS = 600
	}
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StorePostgres, StoreMongo:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Fanout.Bridge && c.MQ.URL == "" {
		return fmt.Errorf("fanout.bridge requires mq.url")
	}
	if c.Guard.Lease && c.Redis.Addr == "" {
		return fmt.Errorf("guard.lease requires redis.addr")
	}
	return nil
}

func ms(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}
