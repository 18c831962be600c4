package chat

import (
	"fmt"
	"os"

	"github.com/tokmz/qichat/pkg/logger"
)

// Config 聊天服务配置
type Config struct {
	// 会话配置
	SinkSize        int `mapstructure:"sink_size"`          // 每个会话的投递队列大小
	MaxRoomsPerJoin int `mapstructure:"max_rooms_per_join"` // 单次加入的最大房间数

	// 问候配置
	Greeting          bool                     `mapstructure:"greeting"` // 加入时是否在每个房间发布问候
	NodeID            string                   `mapstructure:"node_id"`  // 问候中的节点标识，默认主机名
	GreetingFormatter func(user string) string `mapstructure:"-"`

	// 事件配置
	EventWorkers   int `mapstructure:"event_workers"`
	EventQueueSize int `mapstructure:"event_queue_size"`

	Logger  logger.Logger `mapstructure:"-"`
	Metrics Metrics       `mapstructure:"-"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	node, err := os.Hostname()
	if err != nil {
		node = "unknown"
	}
	return &Config{
		SinkSize:        256,
		MaxRoomsPerJoin: 64,
		Greeting:        true,
		NodeID:          node,
		EventWorkers:    4,
		EventQueueSize:  1024,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.SinkSize <= 0 {
		return ErrInvalidConfig.WithError(fmt.Errorf("SinkSize must be positive, got %d", c.SinkSize))
	}
	if c.MaxRoomsPerJoin <= 0 {
		return ErrInvalidConfig.WithError(fmt.Errorf("MaxRoomsPerJoin must be positive, got %d", c.MaxRoomsPerJoin))
	}
	if c.EventWorkers <= 0 {
		return ErrInvalidConfig.WithError(fmt.Errorf("EventWorkers must be positive, got %d", c.EventWorkers))
	}
	if c.EventQueueSize <= 0 {
		return ErrInvalidConfig.WithError(fmt.Errorf("EventQueueSize must be positive, got %d", c.EventQueueSize))
	}
	return nil
}

// greeting 生成问候内容
func (c *Config) greeting(user string) string {
	if c.GreetingFormatter != nil {
		return c.GreetingFormatter(user)
	}
	return fmt.Sprintf("process: %d node: %s -> Hello my name is %s!", os.Getpid(), c.NodeID, user)
}

// Option 配置选项
type Option func(*Config)

// WithSinkSize 设置会话投递队列大小
func WithSinkSize(size int) Option {
	return func(c *Config) {
		c.SinkSize = size
	}
}

// WithMaxRoomsPerJoin 设置单次加入的最大房间数
func WithMaxRoomsPerJoin(n int) Option {
	return func(c *Config) {
		c.MaxRoomsPerJoin = n
	}
}

// WithGreeting 开启或关闭加入问候
func WithGreeting(enabled bool) Option {
	return func(c *Config) {
		c.Greeting = enabled
	}
}

// WithGreetingFormatter 自定义问候内容
func WithGreetingFormatter(fn func(user string) string) Option {
	return func(c *Config) {
		c.GreetingFormatter = fn
	}
}

// WithNodeID 设置节点标识
func WithNodeID(node string) Option {
	return func(c *Config) {
		c.NodeID = node
	}
}

// WithEventWorkers 设置事件总线 worker 数与队列大小
func WithEventWorkers(workers, queueSize int) Option {
	return func(c *Config) {
		c.EventWorkers = workers
		c.EventQueueSize = queueSize
	}
}

// WithLogger 设置日志器
func WithLogger(log logger.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithMetrics 设置监控
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithConfig 用已有配置覆盖默认值（通常来自配置文件）
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		formatter, log, metrics := c.GreetingFormatter, c.Logger, c.Metrics
		*c = cfg
		if c.GreetingFormatter == nil {
			c.GreetingFormatter = formatter
		}
		if c.Logger == nil {
			c.Logger = log
		}
		if c.Metrics == nil {
			c.Metrics = metrics
		}
		if c.NodeID == "" {
			c.NodeID = DefaultConfig().NodeID
		}
	}
}
