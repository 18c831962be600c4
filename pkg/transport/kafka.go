package transport

import (
	"context"
	"sync/atomic"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/qichat/pkg/chat"
	"github.com/tokmz/qichat/pkg/logger"
)

// Kafka 基于 Kafka 主题的传输
// 消息以房间为 key 写入，同一房间落在同一分区，分区内有序；
// 每个进程从最新位置消费全部分区，只投递本地有成员的分组
type Kafka struct {
	client     sarama.Client // 由 dialKafka 创建时非 nil
	producer   sarama.SyncProducer
	consumer   sarama.Consumer
	partitions []sarama.PartitionConsumer
	topic      string
	codec      Codec
	log        logger.Logger

	groups  *groupSet
	handler handlerSlot

	g      errgroup.Group
	closed atomic.Bool
}

var _ chat.Transport = (*Kafka)(nil)

// newSaramaConfig 构建 sarama 配置
func newSaramaConfig(cfg *KafkaConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, ErrInvalidConfig.WithError(err)
		}
		sc.Version = v
	}
	if cfg.DialTimeout > 0 {
		sc.Net.DialTimeout = cfg.DialTimeout
	}

	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Consumer.Return.Errors = true
	return sc, nil
}

// dialKafka 连接 Kafka 集群
func dialKafka(cfg *Config, log logger.Logger) (*Kafka, error) {
	sc, err := newSaramaConfig(cfg.Kafka)
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(cfg.Kafka.Brokers, sc)
	if err != nil {
		return nil, chat.TransportError(ErrConnection.WithError(err))
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, chat.TransportError(ErrConnection.WithError(err))
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, chat.TransportError(ErrConnection.WithError(err))
	}

	k, err := NewKafka(producer, consumer, cfg.Kafka.Topic, cfg.Codec, log)
	if err != nil {
		_ = consumer.Close()
		_ = producer.Close()
		_ = client.Close()
		return nil, chat.TransportError(err)
	}
	k.client = client
	return k, nil
}

// NewKafka 使用已有的生产者和消费者创建传输，Close 会关闭两者
func NewKafka(producer sarama.SyncProducer, consumer sarama.Consumer, topic string, codec Codec, log logger.Logger) (*Kafka, error) {
	if codec == nil {
		codec = JSONCodec{}
	}
	if log == nil {
		log = logger.NewNop()
	}

	ids, err := consumer.Partitions(topic)
	if err != nil {
		return nil, ErrOperation.WithError(err)
	}

	k := &Kafka{
		producer: producer,
		consumer: consumer,
		topic:    topic,
		codec:    codec,
		log:      log.With(zap.String("topic", topic)),
		groups:   newGroupSet(),
	}

	for _, id := range ids {
		pc, err := consumer.ConsumePartition(topic, id, sarama.OffsetNewest)
		if err != nil {
			for _, started := range k.partitions {
				started.AsyncClose()
			}
			_ = k.g.Wait()
			return nil, ErrOperation.WithError(err)
		}
		k.partitions = append(k.partitions, pc)
		k.g.Go(func() error {
			k.consume(id, pc)
			return nil
		})
	}
	return k, nil
}

// consume 单分区单协程，保持分区内顺序
func (k *Kafka) consume(partition int32, pc sarama.PartitionConsumer) {
	messages, errs := pc.Messages(), pc.Errors()
	for messages != nil || errs != nil {
		select {
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			k.dispatch(msg)
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			k.log.Warn("partition consumer error", zap.Int32("partition", partition), zap.Error(cerr))
		}
	}
}

func (k *Kafka) dispatch(msg *sarama.ConsumerMessage) {
	if k.closed.Load() {
		return
	}
	env, err := k.codec.Decode(msg.Value)
	if err != nil {
		k.log.Warn("drop undecodable message",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}
	if !k.groups.has(env.Room) {
		return
	}
	k.handler.call(env)
}

// GroupAdd 实现 chat.Transport，只更新本地成员表
func (k *Kafka) GroupAdd(_ context.Context, group chat.RoomID, connID string) error {
	if k.closed.Load() {
		return ErrClosed
	}
	k.groups.add(group, connID)
	return nil
}

// GroupDiscard 实现 chat.Transport
func (k *Kafka) GroupDiscard(_ context.Context, group chat.RoomID, connID string) error {
	k.groups.discard(group, connID)
	return nil
}

// GroupSend 实现 chat.Transport
func (k *Kafka) GroupSend(ctx context.Context, group chat.RoomID, env chat.Envelope) error {
	if k.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return ErrOperation.WithError(err)
	}

	data, err := k.codec.Encode(env)
	if err != nil {
		return err
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(group),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return ErrOperation.WithError(err)
	}
	return nil
}

// Receive 实现 chat.Transport
func (k *Kafka) Receive(handler func(chat.Envelope)) {
	k.handler.set(handler)
}

// Close 实现 chat.Transport
func (k *Kafka) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, pc := range k.partitions {
		pc.AsyncClose()
	}
	_ = k.g.Wait()

	var firstErr error
	for _, closeFn := range []func() error{k.consumer.Close, k.producer.Close} {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if k.client != nil {
		if err := k.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
