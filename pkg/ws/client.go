package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/qichat/pkg/chat"
	"github.com/tokmz/qichat/pkg/errors"
	"github.com/tokmz/qichat/pkg/logger"
	"github.com/tokmz/qichat/pkg/tracing"
)

// Client 一个 WebSocket 连接，最多持有一个聊天会话
type Client struct {
	id      string
	user    string // 升级时认证的用户，为空时由 join 帧提供
	conn    *websocket.Conn
	manager *Manager
	log     logger.Logger

	// 发送队列
	send    chan []byte // 聊天消息
	control chan []byte // 确认与错误帧，优先写出

	metadata sync.Map

	mu      sync.Mutex
	session *chat.Session

	// 仅由 readPump 访问
	frameCtx      context.Context
	traceID       string
	invalidFrames int

	lastPong atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	forwards  sync.WaitGroup
}

// ClientOption 客户端选项
type ClientOption func(*Client)

// WithClientID 设置客户端 ID，默认随机 UUID
func WithClientID(id string) ClientOption {
	return func(c *Client) {
		c.id = id
	}
}

// WithUser 设置已认证的用户，join 帧中的 user 将被忽略
func WithUser(user string) ClientOption {
	return func(c *Client) {
		c.user = user
	}
}

// WithMetadata 设置元数据
func WithMetadata(key string, value any) ClientOption {
	return func(c *Client) {
		c.metadata.Store(key, value)
	}
}

func newClient(conn *websocket.Conn, m *Manager, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(m.ctx)

	c := &Client{
		id:      uuid.NewString(),
		conn:    conn,
		manager: m,
		send:    make(chan []byte, m.config.MessageQueueSize),
		control: make(chan []byte, m.config.ControlQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.log = m.log.With(zap.String("client_id", c.id))
	c.ctx = logger.WithConnID(c.ctx, c.id)
	if c.user != "" {
		c.ctx = logger.WithUser(c.ctx, c.user)
	}
	c.lastPong.Store(time.Now().Unix())
	return c
}

// ID 客户端 ID，同时作为聊天会话的连接 ID
func (c *Client) ID() string {
	return c.id
}

// User 已认证的用户
func (c *Client) User() string {
	return c.user
}

// Context 当前帧的上下文，帧之外为连接上下文
func (c *Client) Context() context.Context {
	if c.frameCtx != nil {
		return c.frameCtx
	}
	return c.ctx
}

func (c *Client) withFrameContext(ctx context.Context) {
	c.frameCtx = ctx
	if ctx != nil {
		c.traceID = tracing.TraceID(ctx)
	}
}

// reply 发送确认帧，附带当前帧的 TraceID
func (c *Client) reply(requestID string, data any) error {
	f := NewAckFrame(requestID, data)
	f.TraceID = tracing.TraceID(c.Context())
	return c.sendControl(f)
}

// Session 当前聊天会话
func (c *Client) Session() (*chat.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.session != nil
}

// GetMetadata 获取元数据
func (c *Client) GetMetadata(key string) (any, bool) {
	return c.metadata.Load(key)
}

// SetMetadata 设置元数据
func (c *Client) SetMetadata(key string, value any) {
	c.metadata.Store(key, value)
}

// LastPong 最近一次收到 pong 的时间
func (c *Client) LastPong() time.Time {
	return time.Unix(c.lastPong.Load(), 0)
}

// IsClosed 检查是否已关闭
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// run 运行读写协程，返回时连接与会话均已关闭
func (c *Client) run() {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.readPump()
	}()
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	wg.Wait()
	c.Close()
	c.forwards.Wait()
}

func (c *Client) readPump() {
	defer c.Close()

	cfg := c.manager.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().Unix())
		return c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) && !c.closed.Load() {
				c.log.Warn("ws read failed", zap.Error(err))
			}
			return
		}
		if !c.handle(data) {
			c.CloseWithReason(websocket.ClosePolicyViolation, "too many invalid frames")
			return
		}
	}
}

// handle 处理一个入站帧，连续无效帧超限时返回 false
func (c *Client) handle(data []byte) bool {
	metrics := c.manager.metrics

	c.traceID = ""
	frame, err := decodeFrame(data)
	if err == nil {
		start := time.Now()
		err = c.manager.router.Route(c, frame)
		metrics.IncrementFrames(frame.Type)
		metrics.RecordFrameLatency(frame.Type, time.Since(start))
	}

	switch {
	case err == nil:
		c.invalidFrames = 0
		return true
	case errors.Is(err, ErrInvalidFrame), errors.Is(err, ErrUnknownFrame):
		metrics.IncrementInvalidFrames()
		c.invalidFrames++
		if c.invalidFrames > c.manager.config.MaxInvalidFrames {
			return false
		}
	default:
		c.invalidFrames = 0
		metrics.IncrementFrameErrors(frame.Type)
	}

	requestID := ""
	if frame != nil {
		requestID = frame.RequestID
	}
	f := NewErrorFrame(requestID, err)
	f.TraceID, c.traceID = c.traceID, ""
	_ = c.sendControl(f)
	return true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.manager.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		// 控制帧优先
		select {
		case data := <-c.control:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
			continue
		default:
		}

		select {
		case <-c.ctx.Done():
			return
		case data := <-c.control:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteWait)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		if !c.closed.Load() {
			c.manager.metrics.IncrementWriteErrors()
			c.log.Debug("ws write failed", zap.Error(err))
		}
		return err
	}
	return nil
}

// SendFrame 发送出站帧（非阻塞），队列满时丢弃并返回 ErrChannelFull
func (c *Client) SendFrame(f *OutboundFrame) error {
	return c.enqueue(c.send, f)
}

func (c *Client) sendControl(f *OutboundFrame) error {
	return c.enqueue(c.control, f)
}

func (c *Client) enqueue(queue chan []byte, f *OutboundFrame) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	data, err := json.Marshal(f)
	if err != nil {
		return ErrInvalidFrame.WithError(err)
	}

	select {
	case queue <- data:
		return nil
	default:
		c.manager.metrics.IncrementDroppedFrames()
		return ErrChannelFull
	}
}

// attach 绑定新会话并开始转发其消息，调用方持有 c.mu
func (c *Client) attach(sess *chat.Session) {
	c.session = sess
	c.forwards.Add(1)
	go c.forward(sess)
}

// forward 将会话消息转发到发送队列，直到会话关闭或连接断开
func (c *Client) forward(sess *chat.Session) {
	defer c.forwards.Done()

	for msg := range sess.Messages(c.ctx) {
		if err := c.SendFrame(NewMessageFrame(msg)); errors.Is(err, ErrConnectionClosed) {
			return
		}
	}
}

// detach 解绑并关闭当前会话
func (c *Client) detach() {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
}

// Close 关闭连接，同时关闭聊天会话
func (c *Client) Close() {
	c.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason 发送关闭帧后关闭连接
func (c *Client) CloseWithReason(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.detach()

		if c.manager.pool.remove(c) {
			c.manager.metrics.DecrementConnections()
		}

		deadline := time.Now().Add(c.manager.config.WriteWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		c.conn.Close()

		c.log.Debug("ws client closed", zap.Int("code", code))
	})
}
