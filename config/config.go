package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime settings of the election backend.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	DB          DatabaseConfig  `mapstructure:"db"`
	Redis       RedisConfig     `mapstructure:"redis"`
	MQ          MQConfig        `mapstructure:"mq"`
	RocketMQ    RocketMQConfig  `mapstructure:"rocketmq"`
	Auth        AuthConfig      `mapstructure:"auth"`
	RateLimit   RateLimitConfig `mapstructure:"ratelimit"`
	Log         LogConfig       `mapstructure:"log"`
	Scheduler   SchedConfig     `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
}

// DatabaseConfig selects the gorm dialect. DSN wins over the discrete fields.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Mock     bool   `mapstructure:"mock"`
}

// MQConfig picks the event transport: redis, rocketmq or memory.
type MQConfig struct {
	Driver     string `mapstructure:"driver"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type RocketMQConfig struct {
	NamesrvAddr string `mapstructure:"namesrv_addr"`
	Group       string `mapstructure:"group"`
	Topic       string `mapstructure:"topic"`
	Mock        bool   `mapstructure:"mock"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type RateLimitConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	GlobalRate  int  `mapstructure:"global_rate"`
	GlobalBurst int  `mapstructure:"global_burst"`
	UserRate    int  `mapstructure:"user_rate"`
	UserBurst   int  `mapstructure:"user_burst"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// SchedConfig holds cron specs (with seconds) for background jobs.
type SchedConfig struct {
	LifecycleSpec  string        `mapstructure:"lifecycle_spec"`
	DeadLetterSpec string        `mapstructure:"dead_letter_spec"`
	LockExpiry     time.Duration `mapstructure:"lock_expiry"`
}

// Load reads an optional .env file, an optional config file and the
// environment, in increasing order of precedence over the defaults.
// Environment keys are the upper-cased config keys with dots replaced by
// underscores, e.g. DB_HOST or REDIS_ADDR.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.port", "8090")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("db.driver", "mysql")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.host", "mysql")
	v.SetDefault("db.port", "3306")
	v.SetDefault("db.user", "voteuser")
	v.SetDefault("db.password", "votepassword")
	v.SetDefault("db.name", "electiondb")
	v.SetDefault("db.max_open_conns", 100)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", "1h")
	v.SetDefault("db.log_level", "warn")

	v.SetDefault("redis.addr", "localhost:16379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.mock", false)

	v.SetDefault("mq.driver", "redis")
	v.SetDefault("mq.max_retries", 3)

	v.SetDefault("rocketmq.namesrv_addr", "localhost:9876")
	v.SetDefault("rocketmq.group", "election_producer")
	v.SetDefault("rocketmq.topic", "election_events")
	v.SetDefault("rocketmq.mock", false)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "campus-election")
	v.SetDefault("auth.token_ttl", "12h")

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.global_rate", 100)
	v.SetDefault("ratelimit.global_burst", 200)
	v.SetDefault("ratelimit.user_rate", 10)
	v.SetDefault("ratelimit.user_burst", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.compress", true)

	v.SetDefault("scheduler.lifecycle_spec", "*/30 * * * * *")
	v.SetDefault("scheduler.dead_letter_spec", "0 */10 * * * *")
	v.SetDefault("scheduler.lock_expiry", "25s")
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DB.Driver)
	}

	switch c.MQ.Driver {
	case "redis", "rocketmq", "memory":
	default:
		return fmt.Errorf("unsupported mq driver %q", c.MQ.Driver)
	}

	if c.Auth.JWTSecret == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("auth.jwt_secret is required outside development")
		}
		c.Auth.JWTSecret = "dev-secret-change-me"
	}

	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if c.RateLimit.Enabled && (c.RateLimit.GlobalRate <= 0 || c.RateLimit.UserRate <= 0) {
		return fmt.Errorf("rate limits must be positive when enabled")
	}

	return nil
}
