package transport

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokmz/qichat/pkg/chat"
	"github.com/tokmz/qichat/pkg/logger"
)

// Redis 基于 Redis Pub/Sub 的传输
// 每个分组对应一个频道；Redis 对同一频道的消息保持发布顺序
type Redis struct {
	client redis.UniversalClient
	pubsub *redis.PubSub
	prefix string
	codec  Codec
	log    logger.Logger

	mu      sync.Mutex // 串行化订阅变更
	groups  *groupSet
	handler handlerSlot

	wg     sync.WaitGroup
	closed atomic.Bool
	owned  bool // 是否由本实例关闭 client
}

var _ chat.Transport = (*Redis)(nil)

// newRedisClient 根据模式创建客户端
func newRedisClient(cfg *RedisConfig) (redis.UniversalClient, error) {
	switch cfg.Mode {
	case RedisStandalone, "":
		return redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}), nil

	case RedisCluster:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}), nil

	case RedisSentinel:
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MaxRetries:    cfg.MaxRetries,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		}), nil

	default:
		return nil, ErrInvalidConfig.WithMessage("transport invalid config: unsupported redis mode " + string(cfg.Mode))
	}
}

// dialRedis 创建客户端并测试连接
func dialRedis(cfg *Config, log logger.Logger) (*Redis, error) {
	client, err := newRedisClient(cfg.Redis)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, chat.TransportError(ErrConnection.WithError(err))
	}

	r := NewRedis(client, cfg.ChannelPrefix, cfg.Codec, log)
	r.owned = true
	return r, nil
}

// NewRedis 使用已有客户端创建传输，Close 不会关闭该客户端
func NewRedis(client redis.UniversalClient, prefix string, codec Codec, log logger.Logger) *Redis {
	if codec == nil {
		codec = JSONCodec{}
	}
	if log == nil {
		log = logger.NewNop()
	}

	r := &Redis{
		client: client,
		pubsub: client.Subscribe(context.Background()),
		prefix: prefix,
		codec:  codec,
		log:    log,
		groups: newGroupSet(),
	}

	r.wg.Add(1)
	go r.loop(r.pubsub.Channel(redis.WithChannelSize(1024)))
	return r
}

func (r *Redis) channel(group chat.RoomID) string {
	return r.prefix + string(group)
}

func (r *Redis) group(channel string) chat.RoomID {
	return chat.RoomID(strings.TrimPrefix(channel, r.prefix))
}

// GroupAdd 实现 chat.Transport
func (r *Redis) GroupAdd(ctx context.Context, group chat.RoomID, connID string) error {
	if r.closed.Load() {
		return ErrClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.groups.add(group, connID) {
		return nil
	}
	if err := r.pubsub.Subscribe(ctx, r.channel(group)); err != nil {
		r.groups.discard(group, connID)
		return ErrOperation.WithError(err)
	}
	return nil
}

// GroupDiscard 实现 chat.Transport
func (r *Redis) GroupDiscard(ctx context.Context, group chat.RoomID, connID string) error {
	if r.closed.Load() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.groups.discard(group, connID) {
		return nil
	}
	if err := r.pubsub.Unsubscribe(ctx, r.channel(group)); err != nil {
		return ErrOperation.WithError(err)
	}
	return nil
}

// GroupSend 实现 chat.Transport
func (r *Redis) GroupSend(ctx context.Context, group chat.RoomID, env chat.Envelope) error {
	if r.closed.Load() {
		return ErrClosed
	}

	data, err := r.codec.Encode(env)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel(group), data).Err(); err != nil {
		return ErrOperation.WithError(err)
	}
	return nil
}

// Receive 实现 chat.Transport
func (r *Redis) Receive(handler func(chat.Envelope)) {
	r.handler.set(handler)
}

// loop 单协程读取，保持频道内的顺序
func (r *Redis) loop(ch <-chan *redis.Message) {
	defer r.wg.Done()

	for msg := range ch {
		group := r.group(msg.Channel)
		if !r.groups.has(group) {
			continue
		}
		env, err := r.codec.Decode([]byte(msg.Payload))
		if err != nil {
			r.log.Warn("drop undecodable message", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		r.handler.call(env)
	}
}

// Close 实现 chat.Transport
func (r *Redis) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := r.pubsub.Close()
	r.wg.Wait()
	if r.owned {
		if cerr := r.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
