package main

import (
	"fmt"
	"os"
	"time"

	"codeassess/internal/assessment/credential"
	"codeassess/internal/assessment/events"
	"codeassess/internal/assessment/session"
	"codeassess/internal/common/cache"
	commonmw "codeassess/internal/common/http/middleware"
	"codeassess/internal/common/http/remote"
	"codeassess/internal/common/mq"
	"codeassess/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 90 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultRemoteTimeout   = 30 * time.Second
	defaultCacheTimeout    = time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// ServicesConfig points at the execution and persistence services.
type ServicesConfig struct {
	Execution   remote.Config `yaml:"execution"`
	Persistence remote.Config `yaml:"persistence"`
}

// GuardConfig tunes the Redis backed submit guard and paste ledger.
type GuardConfig struct {
	SubmitTTL    time.Duration `yaml:"submitTTL"`
	PasteTTL     time.Duration `yaml:"pasteTTL"`
	CacheTimeout time.Duration `yaml:"cacheTimeout"`
}

// EventsConfig routes external session events. Publishing is off without Kafka brokers.
type EventsConfig struct {
	Topic string         `yaml:"topic"`
	Kafka mq.KafkaConfig `yaml:"kafka"`
}

// AppConfig holds assessment-server configuration.
type AppConfig struct {
	Server     ServerConfig      `yaml:"server"`
	Logger     logger.Config     `yaml:"logger"`
	Credential credential.Config `yaml:"credential"`
	Session    session.Config    `yaml:"session"`
	Services   ServicesConfig    `yaml:"services"`
	// Redis is optional. Without it submits are guarded per process only.
	Redis  cache.RedisConfig   `yaml:"redis"`
	Guard  GuardConfig         `yaml:"guard"`
	Events EventsConfig        `yaml:"events"`
	CORS   commonmw.CORSConfig `yaml:"cors"`
	// RateLimit applies to run and evaluate. It needs Redis.
	RateLimit commonmw.RateLimitPolicy `yaml:"rateLimit"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if cfg.Services.Execution.BaseURL == "" {
		return nil, fmt.Errorf("services.execution.baseURL is required")
	}
	if cfg.Services.Persistence.BaseURL == "" {
		return nil, fmt.Errorf("services.persistence.baseURL is required")
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Services.Execution.Timeout == 0 {
		cfg.Services.Execution.Timeout = defaultRemoteTimeout
	}
	if cfg.Services.Persistence.Timeout == 0 {
		cfg.Services.Persistence.Timeout = defaultRemoteTimeout
	}
	if cfg.Services.Persistence.Token == "" {
		cfg.Services.Persistence.Token = cfg.Services.Execution.Token
	}

	cfg.Session.ApplyDefaults()
	if cfg.Redis.Addr != "" {
		cfg.Redis.ApplyDefaults()
	}
	if cfg.Guard.SubmitTTL == 0 {
		cfg.Guard.SubmitTTL = 2 * cfg.Session.SubmitTimeout
	}
	if cfg.Guard.PasteTTL == 0 {
		cfg.Guard.PasteTTL = 24 * time.Hour
	}
	if cfg.Guard.CacheTimeout == 0 {
		cfg.Guard.CacheTimeout = defaultCacheTimeout
	}
	cfg.CORS.ApplyDefaults()
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = events.DefaultTopic
	}
}
