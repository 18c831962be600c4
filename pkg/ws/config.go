package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tokmz/qichat/pkg/logger"
)

// Config WebSocket 网关配置
type Config struct {
	// 连接配置
	MaxConnections   int           `mapstructure:"max_connections"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`

	// 心跳配置
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	WriteWait         time.Duration `mapstructure:"write_wait"`

	// 发送队列
	MessageQueueSize int `mapstructure:"message_queue_size"` // 聊天消息
	ControlQueueSize int `mapstructure:"control_queue_size"` // 确认与错误帧

	// 连续无效帧超过该值时断开连接
	MaxInvalidFrames int `mapstructure:"max_invalid_frames"`

	Upgrader UpgraderConfig `mapstructure:"upgrader"`

	Metrics Metrics       `mapstructure:"-"`
	Logger  logger.Logger `mapstructure:"-"`
}

// UpgraderConfig Upgrader 配置
type UpgraderConfig struct {
	ReadBufferSize    int                      `mapstructure:"read_buffer_size"`
	WriteBufferSize   int                      `mapstructure:"write_buffer_size"`
	EnableCompression bool                     `mapstructure:"enable_compression"`
	AllowedOrigins    []string                 `mapstructure:"allowed_origins"` // 为空时使用同源检查
	AllowAllOrigins   bool                     `mapstructure:"allow_all_origins"`
	CheckOrigin       func(*http.Request) bool `mapstructure:"-"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    10000,
		HandshakeTimeout:  10 * time.Second,
		MaxMessageSize:    64 * 1024,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		WriteWait:         10 * time.Second,
		MessageQueueSize:  256,
		ControlQueueSize:  32,
		MaxInvalidFrames:  10,
		Upgrader: UpgraderConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value int64
	}{
		{"MaxConnections", int64(c.MaxConnections)},
		{"HandshakeTimeout", int64(c.HandshakeTimeout)},
		{"MaxMessageSize", c.MaxMessageSize},
		{"HeartbeatInterval", int64(c.HeartbeatInterval)},
		{"WriteWait", int64(c.WriteWait)},
		{"MessageQueueSize", int64(c.MessageQueueSize)},
		{"ControlQueueSize", int64(c.ControlQueueSize)},
		{"MaxInvalidFrames", int64(c.MaxInvalidFrames)},
		{"Upgrader.ReadBufferSize", int64(c.Upgrader.ReadBufferSize)},
		{"Upgrader.WriteBufferSize", int64(c.Upgrader.WriteBufferSize)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return ErrInvalidConfig.WithError(fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return ErrInvalidConfig.WithError(fmt.Errorf("HeartbeatTimeout (%v) must be greater than HeartbeatInterval (%v)",
			c.HeartbeatTimeout, c.HeartbeatInterval))
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithConfig 用已有配置覆盖默认值（通常来自配置文件），零值字段保留默认
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		if cfg.MaxConnections > 0 {
			c.MaxConnections = cfg.MaxConnections
		}
		if cfg.HandshakeTimeout > 0 {
			c.HandshakeTimeout = cfg.HandshakeTimeout
		}
		if cfg.MaxMessageSize > 0 {
			c.MaxMessageSize = cfg.MaxMessageSize
		}
		if cfg.HeartbeatInterval > 0 {
			c.HeartbeatInterval = cfg.HeartbeatInterval
		}
		if cfg.HeartbeatTimeout > 0 {
			c.HeartbeatTimeout = cfg.HeartbeatTimeout
		}
		if cfg.WriteWait > 0 {
			c.WriteWait = cfg.WriteWait
		}
		if cfg.MessageQueueSize > 0 {
			c.MessageQueueSize = cfg.MessageQueueSize
		}
		if cfg.ControlQueueSize > 0 {
			c.ControlQueueSize = cfg.ControlQueueSize
		}
		if cfg.MaxInvalidFrames > 0 {
			c.MaxInvalidFrames = cfg.MaxInvalidFrames
		}
		if cfg.Upgrader.ReadBufferSize > 0 {
			c.Upgrader.ReadBufferSize = cfg.Upgrader.ReadBufferSize
		}
		if cfg.Upgrader.WriteBufferSize > 0 {
			c.Upgrader.WriteBufferSize = cfg.Upgrader.WriteBufferSize
		}
		c.Upgrader.EnableCompression = cfg.Upgrader.EnableCompression
		c.Upgrader.AllowAllOrigins = cfg.Upgrader.AllowAllOrigins
		if len(cfg.Upgrader.AllowedOrigins) > 0 {
			c.Upgrader.AllowedOrigins = cfg.Upgrader.AllowedOrigins
		}
	}
}

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithHeartbeat 设置心跳间隔和超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.HeartbeatTimeout = timeout
	}
}

// WithMessageSizeLimit 设置单帧大小限制
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = size
	}
}

// WithMessageQueueSize 设置聊天消息发送队列大小
func WithMessageQueueSize(size int) Option {
	return func(c *Config) {
		c.MessageQueueSize = size
	}
}

// WithMaxInvalidFrames 设置连续无效帧上限
func WithMaxInvalidFrames(n int) Option {
	return func(c *Config) {
		c.MaxInvalidFrames = n
	}
}

// WithCheckOrigin 设置 Origin 检查函数
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *Config) {
		c.Upgrader.CheckOrigin = fn
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
func WithCheckOriginWhitelist(allowedOrigins []string) Option {
	return func(c *Config) {
		c.Upgrader.AllowedOrigins = allowedOrigins
	}
}

// WithAllowAllOrigins 允许所有来源（仅用于开发环境）
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.Upgrader.AllowAllOrigins = true
	}
}

// WithEnableCompression 启用压缩
func WithEnableCompression(enable bool) Option {
	return func(c *Config) {
		c.Upgrader.EnableCompression = enable
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithLogger 设置日志
func WithLogger(log logger.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// sameOrigin 默认 Origin 检查，拒绝空 Origin
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// whitelist 白名单检查
func whitelist(allowedOrigins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := allowed[r.Header.Get("Origin")]
		return ok
	}
}

// newUpgrader 创建升级器，CheckOrigin 优先，其次允许全部、白名单、同源
func newUpgrader(cfg *Config) *websocket.Upgrader {
	checkOrigin := cfg.Upgrader.CheckOrigin
	switch {
	case checkOrigin != nil:
	case cfg.Upgrader.AllowAllOrigins:
		checkOrigin = func(*http.Request) bool { return true }
	case len(cfg.Upgrader.AllowedOrigins) > 0:
		checkOrigin = whitelist(cfg.Upgrader.AllowedOrigins)
	default:
		checkOrigin = sameOrigin
	}

	return &websocket.Upgrader{
		HandshakeTimeout:  cfg.HandshakeTimeout,
		ReadBufferSize:    cfg.Upgrader.ReadBufferSize,
		WriteBufferSize:   cfg.Upgrader.WriteBufferSize,
		CheckOrigin:       checkOrigin,
		EnableCompression: cfg.Upgrader.EnableCompression,
	}
}
