// Command server runs one qichat node. Several nodes sharing a redis, amqp or
// kafka transport form one chat cluster.
//
//	go run ./example/server -config example/server/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/qichat/internal/server"
	"github.com/tokmz/qichat/pkg/chat"
	"github.com/tokmz/qichat/pkg/config"
	"github.com/tokmz/qichat/pkg/logger"
	"github.com/tokmz/qichat/pkg/tracing"
	"github.com/tokmz/qichat/pkg/transport"
	"github.com/tokmz/qichat/pkg/ws"
)

func main() {
	path := flag.String("config", "example/server/config.yaml", "config file")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string) error {
	var (
		cfg *config.Config
		log logger.Logger
	)
	cfg = config.New(
		config.WithConfigFile(path),
		config.WithDefaults(map[string]any{
			"log.level":  "info",
			"log.format": "console",
		}),
		config.WithEnv("QICHAT"),
		config.WithOnChange(func(string) {
			// 只热更新日志级别，其余配置需重启
			level, err := logger.ParseLevel(cfg.GetString("log.level"))
			if err != nil {
				log.Warn("ignore invalid log level", zap.Error(err))
				return
			}
			log.SetLevel(level)
			log.Info("log level reloaded", zap.String("level", level.String()))
		}),
	)
	if err := cfg.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer cfg.Close()

	var err error
	log, err = newLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.StartWatch(); err != nil {
		log.Warn("config watch disabled", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 链路追踪
	traceCfg := tracing.DefaultConfig()
	if err := cfg.UnmarshalKey("tracing", traceCfg); err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}
	tp, err := tracing.NewProvider(ctx, traceCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), traceCfg.BatchTimeout+time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	// 传输层
	transportCfg := transport.DefaultConfig()
	transportCfg.Redis = transport.DefaultRedisConfig()
	transportCfg.AMQP = transport.DefaultAMQPConfig()
	transportCfg.Kafka = transport.DefaultKafkaConfig()
	if err := cfg.UnmarshalKey("transport", transportCfg); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}
	t, err := transport.New(transportCfg, log)
	if err != nil {
		return err
	}

	// 聊天服务
	chatCfg := chat.DefaultConfig()
	if err := cfg.UnmarshalKey("chat", chatCfg); err != nil {
		return fmt.Errorf("chat config: %w", err)
	}
	if chatCfg.NodeID == "" {
		chatCfg.NodeID = chat.DefaultConfig().NodeID
	}
	chatMetrics := chat.NewCounterMetrics()
	broadcaster := chat.NewBroadcaster(chat.NewRegistry(),
		chat.WithTransport(t),
		chat.WithBroadcastMetrics(chatMetrics),
		chat.WithBroadcastLogger(log),
	)
	defer broadcaster.Close()

	svc, err := chat.NewService(broadcaster,
		chat.WithConfig(*chatCfg),
		chat.WithLogger(log),
		chat.WithMetrics(chatMetrics),
	)
	if err != nil {
		return err
	}
	defer svc.Close()
	svc.Subscribe(chat.EventDeliveryFailed, func(e chat.Event) {
		log.Debug("delivery failed", zap.String("conn_id", e.ConnID), zap.String("room", e.Room.Name()), zap.Error(e.Err))
	})

	// WebSocket 网关
	wsCfg := ws.DefaultConfig()
	if err := cfg.UnmarshalKey("ws", wsCfg); err != nil {
		return fmt.Errorf("ws config: %w", err)
	}
	gatewayMetrics := ws.NewCounterMetrics()
	gateway, err := ws.NewManager(svc,
		ws.WithConfig(*wsCfg),
		ws.WithLogger(log),
		ws.WithMetrics(gatewayMetrics),
	)
	if err != nil {
		return err
	}
	if err := gateway.Use(ws.TracingMiddleware(), ws.LoggingMiddleware(log)); err != nil {
		return err
	}

	// HTTP 服务
	httpCfg := server.DefaultConfig()
	if err := cfg.UnmarshalKey("server", httpCfg); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	srv, err := server.New(httpCfg, server.Deps{
		Service:        svc,
		Gateway:        gateway,
		Node:           chatCfg.NodeID,
		Transport:      string(transportCfg.Driver),
		ChatMetrics:    chatMetrics,
		GatewayMetrics: gatewayMetrics,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})

	log.Info("qichat node started",
		zap.String("node", chatCfg.NodeID),
		zap.String("transport", string(transportCfg.Driver)),
		zap.String("addr", httpCfg.Addr),
	)
	return g.Wait()
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	var settings logger.Settings
	if err := cfg.UnmarshalKey("log", &settings); err != nil {
		return nil, err
	}
	settings.Console = true
	logCfg, err := settings.Config()
	if err != nil {
		return nil, err
	}
	return logger.New(logCfg)
}
