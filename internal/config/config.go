package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Tracing   TracingConfig   `mapstructure:"tracing"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Content   ContentConfig   `mapstructure:"content"`
	Engine    EngineConfig    `mapstructure:"engine"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"`
	MigrateOnly  bool `mapstructure:"-"`
}

type ServerConfig struct {
	Port string
	Mode string
	// AdminToken 为空时管理接口整体关闭
	AdminToken string `mapstructure:"admin_token"`
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

// LedgerConfig 外部代币支付通道
type LedgerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	SandboxPrefix  string `mapstructure:"sandbox_prefix"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ContentConfig 外部题面内容服务
type ContentConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	APIKey          string `mapstructure:"api_key"`
	CacheTTLMinutes int    `mapstructure:"cache_ttl_minutes"`
}

// EngineConfig exposes the allocation tuning knobs that were inferred
// from observed behavior rather than fixed by design, so deployments
// can adjust them without a rebuild.
type EngineConfig struct {
	// ReallocDivisor: a difficulty re-targeting pass is requested every
	// questionCap/ReallocDivisor newly completed allocations.
	ReallocDivisor int `mapstructure:"realloc_divisor"`
	// TargetMinAnswers: number of non-practice answers before the
	// engine starts difficulty targeting.
	TargetMinAnswers int `mapstructure:"target_min_answers"`
	// RetargetEvictFraction: share of the pool evicted (at least one)
	// when a re-targeting pass runs at cap.
	RetargetEvictFraction float64 `mapstructure:"retarget_evict_fraction"`
	// SyncLockSeconds: TTL of the per student/lecture sync mutex.
	SyncLockSeconds int `mapstructure:"sync_lock_seconds"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("ADAPTIVE_QUIZ")
	viper.AutomaticEnv()

	// Database
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	viper.BindEnv("server.mode", "SERVER_MODE")
	viper.BindEnv("server.admin_token", "ADMIN_TOKEN")

	// Ledger
	viper.BindEnv("ledger.base_url", "LEDGER_BASE_URL")
	viper.BindEnv("ledger.api_key", "LEDGER_API_KEY")

	// Content
	viper.BindEnv("content.base_url", "CONTENT_BASE_URL")
	viper.BindEnv("content.api_key", "CONTENT_API_KEY")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	viper.SetDefault("engine.realloc_divisor", 2)
	viper.SetDefault("engine.target_min_answers", 9)
	viper.SetDefault("engine.retarget_evict_fraction", 0.1)
	viper.SetDefault("engine.sync_lock_seconds", 30)
	viper.SetDefault("ledger.sandbox_prefix", "TEST")
	viper.SetDefault("ledger.timeout_seconds", 10)
	viper.SetDefault("content.cache_ttl_minutes", 15)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if cfg.Engine.ReallocDivisor <= 0 {
		cfg.Engine.ReallocDivisor = 2
	}
	if cfg.Engine.TargetMinAnswers <= 0 {
		cfg.Engine.TargetMinAnswers = 9
	}
	if cfg.Engine.RetargetEvictFraction <= 0 || cfg.Engine.RetargetEvictFraction > 1 {
		cfg.Engine.RetargetEvictFraction = 0.1
	}

	return &cfg, nil
}
