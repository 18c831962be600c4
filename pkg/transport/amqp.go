package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/tokmz/qichat/pkg/chat"
	"github.com/tokmz/qichat/pkg/logger"
)

// AMQP 基于 RabbitMQ topic 交换机的传输
// 每个进程声明一个独占队列，按分组绑定路由键
type AMQP struct {
	conn     *amqp.Connection
	ch       *amqp.Channel // 声明、绑定和消费
	pubCh    *amqp.Channel // 发布
	exchange string
	queue    string
	prefix   string
	codec    Codec
	log      logger.Logger

	mu      sync.Mutex // 串行化绑定变更
	pubMu   sync.Mutex // 串行化发布
	groups  *groupSet
	handler handlerSlot

	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ chat.Transport = (*AMQP)(nil)

// dialAMQP 连接 RabbitMQ 并准备交换机与队列
func dialAMQP(cfg *Config, log logger.Logger) (*AMQP, error) {
	conn, err := amqp.DialConfig(cfg.AMQP.URL, amqp.Config{
		Heartbeat: cfg.AMQP.Heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(cfg.AMQP.DialTimeout),
	})
	if err != nil {
		return nil, chat.TransportError(ErrConnection.WithError(err))
	}

	t, err := newAMQP(conn, cfg.AMQP.Exchange, cfg.ChannelPrefix, cfg.Codec, log)
	if err != nil {
		_ = conn.Close()
		return nil, chat.TransportError(err)
	}
	return t, nil
}

func newAMQP(conn *amqp.Connection, exchange, prefix string, codec Codec, log logger.Logger) (*AMQP, error) {
	if codec == nil {
		codec = JSONCodec{}
	}
	if log == nil {
		log = logger.NewNop()
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, ErrConnection.WithError(err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		return nil, ErrConnection.WithError(err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, ErrOperation.WithError(err)
	}

	// 服务端命名的独占队列，连接断开后自动删除
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, ErrOperation.WithError(err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, ErrOperation.WithError(err)
	}

	t := &AMQP{
		conn:     conn,
		ch:       ch,
		pubCh:    pubCh,
		exchange: exchange,
		queue:    q.Name,
		prefix:   prefix,
		codec:    codec,
		log:      log.With(zap.String("queue", q.Name)),
		groups:   newGroupSet(),
	}

	t.wg.Add(1)
	go t.loop(deliveries)
	return t, nil
}

func (t *AMQP) routingKey(group chat.RoomID) string {
	return t.prefix + string(group)
}

// GroupAdd 实现 chat.Transport
func (t *AMQP) GroupAdd(_ context.Context, group chat.RoomID, connID string) error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.groups.add(group, connID) {
		return nil
	}
	if err := t.ch.QueueBind(t.queue, t.routingKey(group), t.exchange, false, nil); err != nil {
		t.groups.discard(group, connID)
		return ErrOperation.WithError(err)
	}
	return nil
}

// GroupDiscard 实现 chat.Transport
func (t *AMQP) GroupDiscard(_ context.Context, group chat.RoomID, connID string) error {
	if t.closed.Load() {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.groups.discard(group, connID) {
		return nil
	}
	if err := t.ch.QueueUnbind(t.queue, t.routingKey(group), t.exchange, nil); err != nil {
		return ErrOperation.WithError(err)
	}
	return nil
}

// GroupSend 实现 chat.Transport
func (t *AMQP) GroupSend(ctx context.Context, group chat.RoomID, env chat.Envelope) error {
	if t.closed.Load() {
		return ErrClosed
	}

	data, err := t.codec.Encode(env)
	if err != nil {
		return err
	}

	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	err = t.pubCh.PublishWithContext(ctx, t.exchange, t.routingKey(group), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Type:         string(env.Kind),
		Body:         data,
	})
	if err != nil {
		return ErrOperation.WithError(err)
	}
	return nil
}

// Receive 实现 chat.Transport
func (t *AMQP) Receive(handler func(chat.Envelope)) {
	t.handler.set(handler)
}

// loop 单消费者，保持队列顺序
func (t *AMQP) loop(deliveries <-chan amqp.Delivery) {
	defer t.wg.Done()

	for d := range deliveries {
		env, err := t.codec.Decode(d.Body)
		if err != nil {
			t.log.Warn("drop undecodable message", zap.String("routing_key", d.RoutingKey), zap.Error(err))
			continue
		}
		// 绑定变更与投递之间存在窗口，以本地成员表为准
		if !t.groups.has(env.Room) {
			continue
		}
		t.handler.call(env)
	}
}

// Close 实现 chat.Transport
func (t *AMQP) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := t.conn.Close()
	t.wg.Wait()
	return err
}
