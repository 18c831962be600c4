// Package server exposes a chat node over HTTP: the WebSocket gateway, a
// publish endpoint for server-side producers, and health/stats checks.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/qichat/pkg/chat"
	"github.com/tokmz/qichat/pkg/logger"
	"github.com/tokmz/qichat/pkg/tracing"
	"github.com/tokmz/qichat/pkg/ws"
)

// Deps 服务依赖
type Deps struct {
	Service *chat.Service
	Gateway *ws.Manager

	Node      string // 节点标识，仅用于 /stats
	Transport string // 传输驱动名称，仅用于 /stats

	// 可选，提供时 /stats 附带计数
	ChatMetrics    *chat.CounterMetrics
	GatewayMetrics *ws.CounterMetrics

	Logger logger.Logger
}

// Server HTTP 服务
type Server struct {
	config  *Config
	engine  *gin.Engine
	limiter *limiter
	log     logger.Logger

	svc            *chat.Service
	gateway        *ws.Manager
	node           string
	transport      string
	chatMetrics    *chat.CounterMetrics
	gatewayMetrics *ws.CounterMetrics
}

// New 创建 HTTP 服务并注册路由
func New(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Service == nil || deps.Gateway == nil {
		return nil, ErrInvalidConfig.WithMessage("server: chat service and gateway are required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}

	gin.SetMode(cfg.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.TrustedProxies != nil {
		if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			return nil, ErrInvalidConfig.WithError(err)
		}
	}

	s := &Server{
		config:         cfg,
		engine:         engine,
		log:            deps.Logger,
		svc:            deps.Service,
		gateway:        deps.Gateway,
		node:           deps.Node,
		transport:      deps.Transport,
		chatMetrics:    deps.ChatMetrics,
		gatewayMetrics: deps.GatewayMetrics,
	}
	if cfg.RateLimit.Enabled {
		s.limiter = newLimiter(cfg.RateLimit)
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	healthCheck := func(c *gin.Context) bool {
		return c.Request.URL.Path != "/healthz"
	}
	s.engine.Use(
		tracing.Middleware(tracing.WithFilter(healthCheck)),
		logger.Middleware(s.log, "/healthz"),
		cors(s.config.CORS),
	)

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/stats", s.handleStats)
	s.engine.GET("/ws", s.handleWS)

	rooms := s.engine.Group("/rooms")
	rooms.GET("/:room", s.handleRoom)
	if s.limiter != nil {
		rooms.POST("/:room/messages", rateLimit(s.limiter, s.log), s.handlePublish)
	} else {
		rooms.POST("/:room/messages", s.handlePublish)
	}
}

// Handler 返回 http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 监听配置的地址，直到 ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在 ln 上提供服务，ctx 取消后先关闭 HTTP 监听再关闭网关连接
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:        s.engine,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		BaseContext:    func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	if s.limiter != nil {
		cleanupCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Go(func() { s.limiter.runCleanup(cleanupCtx, s.config.RateLimit.CleanupInterval) })
		defer func() {
			cancel()
			wg.Wait()
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	// 已升级的连接不受 http.Server 管理，由网关单独关闭
	httpErr := srv.Shutdown(shutdownCtx)
	wsErr := s.gateway.Shutdown(shutdownCtx)
	<-errCh

	if httpErr != nil {
		return httpErr
	}
	return wsErr
}
