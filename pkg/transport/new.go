package transport

import (
	"go.uber.org/zap"

	"github.com/tokmz/qichat/pkg/chat"
	"github.com/tokmz/qichat/pkg/logger"
)

// New 创建传输实例
func New(cfg *Config, log logger.Logger) (chat.Transport, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Codec == nil {
		cfg.Codec = JSONCodec{}
	}
	if log == nil {
		log = logger.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log = log.With(zap.String("transport", string(cfg.Driver)))

	var (
		t   chat.Transport
		err error
	)
	switch cfg.Driver {
	case DriverMemory:
		t = NewMemory(cfg.Hub, cfg.Codec, log)
	case DriverRedis:
		t, err = dialRedis(cfg, log)
	case DriverAMQP:
		t, err = dialAMQP(cfg, log)
	case DriverKafka:
		t, err = dialKafka(cfg, log)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Tracing {
		t = NewTracing(t, cfg.Driver, nil)
	}
	log.Info("transport ready")
	return t, nil
}

// NewWithOptions 使用 Options 模式创建传输实例
func NewWithOptions(log logger.Logger, opts ...Option) (chat.Transport, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg, log)
}
