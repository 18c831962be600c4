package ws

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/qichat/pkg/chat"
	"github.com/tokmz/qichat/pkg/logger"
)

// Manager WebSocket 网关，把连接接入聊天服务
type Manager struct {
	chat   chat.ChatService
	pool   *connectionPool
	router *Router

	config   *Config
	upgrader *websocket.Upgrader
	metrics  Metrics
	log      logger.Logger

	// 生命周期
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closed     atomic.Bool
	freezeOnce sync.Once
}

// NewManager 创建网关
func NewManager(svc chat.ChatService, opts ...Option) (*Manager, error) {
	if svc == nil {
		return nil, ErrInvalidConfig.WithMessage("ws: chat service is required")
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Metrics == nil {
		config.Metrics = NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		chat:     svc,
		pool:     newConnectionPool(config.MaxConnections),
		router:   NewRouter(),
		config:   config,
		upgrader: newUpgrader(config),
		metrics:  config.Metrics,
		log:      config.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	_ = m.router.Use(RecoverMiddleware(m.log))
	m.registerChatHandlers()
	return m, nil
}

// Register 注册自定义帧处理器，必须在第一个连接接入前调用
func (m *Manager) Register(frameType FrameType, handler Handler) error {
	return m.router.Register(frameType, handler)
}

// Use 添加帧中间件，必须在第一个连接接入前调用
func (m *Manager) Use(middleware ...MiddlewareFunc) error {
	return m.router.Use(middleware...)
}

// ServeHTTP 以匿名身份接入连接，用户由 join 帧提供
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = m.HandleUpgrade(w, r)
}

// HandleUpgrade 升级连接并启动客户端
func (m *Manager) HandleUpgrade(w http.ResponseWriter, r *http.Request, opts ...ClientOption) error {
	if m.closed.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return ErrConnectionClosed
	}
	if m.pool.full() {
		m.metrics.IncrementRejectedConnections()
		http.Error(w, "too many connections", ErrTooManyConnections.HttpCode)
		return ErrTooManyConnections
	}

	m.freezeOnce.Do(m.router.Freeze)

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已写回错误响应
		return err
	}

	client := newClient(conn, m, opts...)
	if err := m.pool.add(client); err != nil {
		m.metrics.IncrementRejectedConnections()
		client.closed.Store(true)
		client.cancel()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return err
	}
	m.metrics.IncrementConnections()
	client.log.Debug("ws client connected", zap.String("user", client.user), zap.String("remote", r.RemoteAddr))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		client.run()
	}()
	return nil
}

// Client 按 ID 查找客户端
func (m *Manager) Client(id string) (*Client, bool) {
	return m.pool.get(id)
}

// ClientsOf 某用户的全部连接
func (m *Manager) ClientsOf(user string) []*Client {
	return m.pool.ofUser(user)
}

// ClientCount 在线连接数
func (m *Manager) ClientCount() int {
	return m.pool.count()
}

// SendToUser 向某用户的全部连接发送帧，返回成功入队的连接数
func (m *Manager) SendToUser(user string, f *OutboundFrame) int {
	sent := 0
	for _, c := range m.pool.ofUser(user) {
		if err := c.SendFrame(f); err == nil {
			sent++
		}
	}
	return sent
}

// Shutdown 关闭全部连接并等待客户端协程退出
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	var closeWg sync.WaitGroup
	for _, c := range m.pool.snapshot() {
		closeWg.Add(1)
		go func(c *Client) {
			defer closeWg.Done()
			c.CloseWithReason(websocket.CloseGoingAway, "server shutdown")
		}(c)
	}
	closeWg.Wait()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("ws gateway stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
