package server

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/qichat/pkg/errors"
)

// ErrInvalidConfig 配置错误
var ErrInvalidConfig = errors.New(4299, 500, "server: invalid config", nil)

// Config HTTP 服务配置
type Config struct {
	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`

	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`

	// ShutdownTimeout 优雅关机超时
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// MaxMessageBytes 单条发布消息的最大字节数
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`

	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Mode:            gin.ReleaseMode,
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 10 * time.Second,
		MaxMessageBytes: 64 * 1024,
		CORS:            *DefaultCORSConfig(),
		RateLimit:       *DefaultRateLimitConfig(),
	}
}

// Validate 验证配置
// WriteTimeout 为 0 表示不限制，WebSocket 长连接依赖这一点
func (c *Config) Validate() error {
	switch c.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		return ErrInvalidConfig.WithError(fmt.Errorf("unknown mode %q", c.Mode))
	}
	if c.Addr == "" {
		return ErrInvalidConfig.WithError(fmt.Errorf("addr is required"))
	}
	if c.ShutdownTimeout <= 0 {
		return ErrInvalidConfig.WithError(fmt.Errorf("shutdown_timeout must be positive"))
	}
	if c.MaxMessageBytes <= 0 {
		return ErrInvalidConfig.WithError(fmt.Errorf("max_message_bytes must be positive"))
	}
	if c.CORS.AllowCredentials && allowsAll(c.CORS.AllowOrigins) {
		return ErrInvalidConfig.WithError(fmt.Errorf("cors: allow_credentials cannot be used with allow_origins [\"*\"]"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return ErrInvalidConfig.WithError(fmt.Errorf("rate_limit: requests_per_second and burst must be positive"))
	}
	return nil
}
