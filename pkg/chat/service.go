package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tokmz/qichat/pkg/logger"
)

// Publisher 发布入口
type Publisher interface {
	SendChatMessage(ctx context.Context, roomName, message, sender string) error
}

// Joiner 订阅入口
type Joiner interface {
	JoinChatRooms(ctx context.Context, req JoinRequest) (*Session, error)
}

// ChatService 完整的聊天服务接口
type ChatService interface {
	Publisher
	Joiner
}

// JoinRequest 加入请求
type JoinRequest struct {
	Rooms  []string `json:"rooms"`
	User   string   `json:"user"`
	ConnID string   `json:"conn_id,omitempty"` // 为空时自动生成，已被在线会话占用时返回 ErrConnInUse
}

// Service 聊天服务
type Service struct {
	broadcaster *Broadcaster
	config      *Config
	log         logger.Logger
	metrics     Metrics
	events      *EventBus

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

var _ ChatService = (*Service)(nil)

// NewService 创建聊天服务
func NewService(b *Broadcaster, opts ...Option) (*Service, error) {
	if b == nil {
		return nil, ErrInvalidConfig.WithError(fmt.Errorf("broadcaster is required"))
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}
	if config.Metrics == nil {
		config.Metrics = NoopMetrics{}
	}

	return &Service{
		broadcaster: b,
		config:      config,
		log:         config.Logger,
		metrics:     config.Metrics,
		events:      NewEventBus(config.EventWorkers, config.EventQueueSize),
		sessions:    make(map[string]*Session),
	}, nil
}

func (s *Service) registry() *Registry {
	return s.broadcaster.Registry()
}

// Broadcaster 返回广播层
func (s *Service) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Subscribe 订阅生命周期事件
func (s *Service) Subscribe(eventType EventType, handler EventHandler) {
	s.events.Subscribe(eventType, handler)
}

// SendChatMessage 向房间发布消息，不等待任何订阅者
func (s *Service) SendChatMessage(ctx context.Context, roomName, message, sender string) error {
	room, err := ResolveRoom(roomName)
	if err != nil {
		return err
	}
	return s.broadcaster.Publish(ctx, NewEnvelope(room, sender, message))
}

// JoinChatRooms 加入一组房间并返回会话
// ctx 取消时会话自动关闭；任何房间失败都不会留下注册
func (s *Service) JoinChatRooms(ctx context.Context, req JoinRequest) (*Session, error) {
	rooms, err := s.resolve(req.Rooms)
	if err != nil {
		return nil, err
	}

	connID := req.ConnID
	if connID == "" {
		connID = uuid.NewString()
	}
	sess := newSession(s, connID, req.User)
	if err := s.track(sess); err != nil {
		return nil, err
	}

	sess.mu.Lock()
	_, err = sess.joinLocked(ctx, rooms)
	sess.mu.Unlock()
	if err != nil {
		sess.Close()
		return nil, err
	}

	if err := s.greet(ctx, req.User, rooms); err != nil {
		sess.Close()
		return nil, err
	}

	if !sess.state.CompareAndSwap(int32(SessionJoining), int32(SessionListening)) {
		return nil, ErrSessionClosed
	}
	sess.mu.Lock()
	sess.stop = context.AfterFunc(ctx, sess.Close)
	sess.mu.Unlock()

	s.events.Publish(Event{Type: EventSessionJoined, ConnID: connID, User: req.User})
	s.log.InfoContext(ctx, "session joined",
		zap.String("conn_id", connID),
		zap.String("user", req.User),
		zap.Int("rooms", len(rooms)),
	)
	return sess, nil
}

func (s *Service) resolve(names []string) ([]RoomID, error) {
	rooms, err := ResolveRooms(names)
	if err != nil {
		return nil, err
	}
	if len(rooms) > s.config.MaxRoomsPerJoin {
		return nil, ErrTooManyRooms.WithError(fmt.Errorf("%d rooms, limit %d", len(rooms), s.config.MaxRoomsPerJoin))
	}
	return rooms, nil
}

// greet 在每个房间发布一条问候
func (s *Service) greet(ctx context.Context, user string, rooms []RoomID) error {
	if !s.config.Greeting {
		return nil
	}
	for _, room := range rooms {
		if err := s.broadcaster.Publish(ctx, NewEnvelope(room, user, s.config.greeting(user))); err != nil {
			return err
		}
	}
	return nil
}

// Session 按连接标识查找会话
func (s *Service) Session(connID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[connID]
	return sess, ok
}

// SessionCount 当前会话数
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// track 登记会话，连接标识在旧会话完全关闭前不可复用
func (s *Service) track(sess *Session) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if _, ok := s.sessions[sess.connID]; ok {
		s.mu.Unlock()
		return ErrConnInUse.WithError(fmt.Errorf("conn %s", sess.connID))
	}
	s.sessions[sess.connID] = sess
	s.mu.Unlock()
	s.updateGauges()
	return nil
}

func (s *Service) untrack(sess *Session) {
	s.mu.Lock()
	if s.sessions[sess.connID] == sess {
		delete(s.sessions, sess.connID)
	}
	s.mu.Unlock()
	s.updateGauges()
}

func (s *Service) updateGauges() {
	s.metrics.SetSessionCount(s.SessionCount())
	s.metrics.SetRoomCount(s.registry().Rooms())
}

// Close 关闭所有会话和事件总线，不关闭广播层
// 之后的 JoinChatRooms 返回 ErrSessionClosed
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	s.events.Close()
}
