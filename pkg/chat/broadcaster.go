package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/qichat/pkg/logger"
)

// Transport 跨进程广播通道
// 实现必须保证同一分组的消息在所有进程上以相同顺序投递，
// 并且 GroupSend 的消息同样回送给本进程（loopback）
type Transport interface {
	// GroupAdd 将本进程的连接加入分组
	GroupAdd(ctx context.Context, group RoomID, connID string) error
	// GroupDiscard 将本进程的连接移出分组
	GroupDiscard(ctx context.Context, group RoomID, connID string) error
	// GroupSend 向分组的所有成员发送消息
	GroupSend(ctx context.Context, group RoomID, env Envelope) error
	// Receive 注册本进程的投递回调，必须在 GroupAdd 之前调用
	Receive(handler func(Envelope))
	// Close 释放连接
	Close() error
}

// Broadcaster 广播层
// 未配置 Transport 时在进程内直接投递；配置后所有消息经 Transport 回送再投递
type Broadcaster struct {
	registry  *Registry
	transport Transport
	metrics   Metrics
	log       logger.Logger
}

// BroadcasterOption 广播层选项
type BroadcasterOption func(*Broadcaster)

// WithTransport 使用分布式传输
func WithTransport(t Transport) BroadcasterOption {
	return func(b *Broadcaster) {
		b.transport = t
	}
}

// WithBroadcastMetrics 设置广播监控
func WithBroadcastMetrics(m Metrics) BroadcasterOption {
	return func(b *Broadcaster) {
		b.metrics = m
	}
}

// WithBroadcastLogger 设置广播日志
func WithBroadcastLogger(log logger.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		b.log = log
	}
}

// NewBroadcaster 创建广播层
func NewBroadcaster(registry *Registry, opts ...BroadcasterOption) *Broadcaster {
	if registry == nil {
		registry = NewRegistry()
	}
	b := &Broadcaster{
		registry: registry,
		metrics:  NoopMetrics{},
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.transport != nil {
		b.transport.Receive(b.deliverLocal)
	}
	return b
}

// Registry 返回本地注册表
func (b *Broadcaster) Registry() *Registry {
	return b.registry
}

// Distributed 是否为分布式模式
func (b *Broadcaster) Distributed() bool {
	return b.transport != nil
}

// Publish 发布消息，不等待任何消费者
func (b *Broadcaster) Publish(ctx context.Context, env Envelope) error {
	b.metrics.IncrementPublished(env.Room)

	if b.transport == nil {
		b.deliverLocal(env)
		return nil
	}

	if err := b.transport.GroupSend(ctx, env.Room, env); err != nil {
		b.log.ErrorContext(ctx, "group send failed",
			zap.String("room", env.Room.String()),
			zap.Error(err),
		)
		return TransportError(err)
	}
	return nil
}

// deliverLocal 投递给本进程的订阅者
func (b *Broadcaster) deliverLocal(env Envelope) {
	start := time.Now()
	delivered, failures := b.registry.fanout(env.Room, env)
	b.metrics.RecordBroadcastLatency(time.Since(start))
	b.metrics.IncrementDelivered(env.Room, delivered)

	// 失败在房间锁之外上报，回调可以安全地访问注册表
	for _, f := range failures {
		b.metrics.IncrementDroppedMessages(env.Room, f.err)
		f.handle.sink.report(env, f.err)
	}
}

// AddGroup 订阅分组，本地模式下为空操作
func (b *Broadcaster) AddGroup(ctx context.Context, room RoomID, connID string) error {
	if b.transport == nil {
		return nil
	}
	if err := b.transport.GroupAdd(ctx, room, connID); err != nil {
		return TransportError(err)
	}
	return nil
}

// DiscardGroup 退订分组，本地模式下为空操作
func (b *Broadcaster) DiscardGroup(ctx context.Context, room RoomID, connID string) error {
	if b.transport == nil {
		return nil
	}
	if err := b.transport.GroupDiscard(ctx, room, connID); err != nil {
		return TransportError(err)
	}
	return nil
}

// Close 关闭传输
func (b *Broadcaster) Close() error {
	if b.transport == nil {
		return nil
	}
	return b.transport.Close()
}
