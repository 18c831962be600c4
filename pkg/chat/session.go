package chat

import (
	"context"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/qichat/pkg/logger"
)

// SessionState 会话状态
type SessionState int32

const (
	SessionJoining SessionState = iota
	SessionListening
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionJoining:
		return "joining"
	case SessionListening:
		return "listening"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// releaseTimeout 关闭会话时释放传输分组的超时时间
const releaseTimeout = 5 * time.Second

// Session 一个连接的订阅会话
// 会话只被一个消费者读取；Join、Leave、Close 可以在任意协程调用
type Session struct {
	connID string
	user   string
	svc    *Service
	sink   *Sink
	log    logger.Logger

	state atomic.Int32

	mu    sync.Mutex // 串行化房间变更
	rooms []RoomID

	stop      func() bool // 受 mu 保护
	closeOnce sync.Once
}

func newSession(svc *Service, connID, user string) *Session {
	s := &Session{
		connID: connID,
		user:   user,
		svc:    svc,
		log: svc.log.With(
			zap.String("conn_id", connID),
			zap.String("user", user),
		),
	}
	s.sink = NewSink(svc.config.SinkSize, s.onDeliveryFailure)
	s.state.Store(int32(SessionJoining))
	return s
}

// ConnID 连接标识
func (s *Session) ConnID() string {
	return s.connID
}

// User 用户名
func (s *Session) User() string {
	return s.user
}

// State 当前状态
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Rooms 当前加入的房间，按加入顺序
func (s *Session) Rooms() []RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rooms)
}

// Dropped 投递失败的次数
func (s *Session) Dropped() int64 {
	return s.sink.Dropped()
}

// Recv 阻塞读取下一条消息
// 会话关闭后返回 ErrSessionClosed，即使队列中仍有未读消息
func (s *Session) Recv(ctx context.Context) (ChatRoomMessage, error) {
	if s.State() == SessionClosed {
		return ChatRoomMessage{}, ErrSessionClosed
	}

	select {
	case env, ok := <-s.sink.C():
		if !ok || s.State() == SessionClosed {
			return ChatRoomMessage{}, ErrSessionClosed
		}
		return ChatRoomMessage{
			RoomName:    env.Room.String(),
			CurrentUser: s.user,
			Sender:      env.Sender,
			Message:     env.Payload,
		}, nil
	case <-ctx.Done():
		return ChatRoomMessage{}, ctx.Err()
	}
}

// Messages 以序列形式读取消息，直到会话关闭或 ctx 取消
// 序列只能被遍历一次
func (s *Session) Messages(ctx context.Context) iter.Seq[ChatRoomMessage] {
	return func(yield func(ChatRoomMessage) bool) {
		for {
			msg, err := s.Recv(ctx)
			if err != nil {
				return
			}
			if !yield(msg) {
				return
			}
		}
	}
}

// Join 加入更多房间，全部成功或全部回滚
func (s *Session) Join(ctx context.Context, names ...string) error {
	rooms, err := s.svc.resolve(names)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.State() == SessionClosed {
		s.mu.Unlock()
		return nil
	}
	added, err := s.joinLocked(ctx, rooms)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	return s.svc.greet(ctx, s.user, added)
}

// joinLocked 注册句柄并订阅分组，失败时撤销本次新增的房间
// 会话已关闭时不做任何注册
func (s *Session) joinLocked(ctx context.Context, rooms []RoomID) ([]RoomID, error) {
	if s.State() == SessionClosed {
		return nil, ErrSessionClosed
	}

	var added []RoomID
	for _, room := range rooms {
		if slices.Contains(s.rooms, room) {
			continue
		}

		s.svc.registry().Join(room, NewHandle(s.connID, room, s.sink))
		if err := s.svc.broadcaster.AddGroup(ctx, room, s.connID); err != nil {
			s.svc.registry().Leave(room, s.connID)
			s.rollback(added)
			s.log.ErrorContext(ctx, "join rolled back",
				zap.String("room", room.String()),
				zap.Error(err),
			)
			return nil, err
		}
		added = append(added, room)
	}

	s.rooms = append(s.rooms, added...)
	for _, room := range added {
		s.svc.events.Publish(Event{Type: EventRoomJoined, ConnID: s.connID, User: s.user, Room: room})
	}
	s.svc.updateGauges()
	return added, nil
}

func (s *Session) rollback(rooms []RoomID) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	for _, room := range rooms {
		s.svc.registry().Leave(room, s.connID)
		if err := s.svc.broadcaster.DiscardGroup(ctx, room, s.connID); err != nil {
			s.log.Warn("discard group failed", zap.String("room", room.String()), zap.Error(err))
		}
	}
}

// Leave 离开房间，不在的房间被忽略
func (s *Session) Leave(ctx context.Context, names ...string) error {
	rooms, err := ResolveRooms(names)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == SessionClosed {
		return nil
	}

	var firstErr error
	for _, room := range rooms {
		idx := slices.Index(s.rooms, room)
		if idx < 0 {
			continue
		}
		s.rooms = slices.Delete(s.rooms, idx, idx+1)
		s.svc.registry().Leave(room, s.connID)
		if err := s.svc.broadcaster.DiscardGroup(ctx, room, s.connID); err != nil && firstErr == nil {
			firstErr = err
		}
		s.svc.events.Publish(Event{Type: EventRoomLeft, ConnID: s.connID, User: s.user, Room: room})
	}
	s.svc.updateGauges()
	return firstErr
}

// Close 关闭会话，可重复调用
// 返回后注册表中不再有该连接的句柄，阻塞中的 Recv 立即返回
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(SessionClosed))

		s.mu.Lock()
		if s.stop != nil {
			s.stop()
		}
		left := s.svc.registry().LeaveAll(s.connID)
		s.rooms = nil
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		for _, room := range left {
			if err := s.svc.broadcaster.DiscardGroup(ctx, room, s.connID); err != nil {
				s.log.Warn("discard group failed", zap.String("room", room.String()), zap.Error(err))
			}
		}

		s.sink.close()
		s.svc.untrack(s)
		s.svc.events.Publish(Event{Type: EventSessionClosed, ConnID: s.connID, User: s.user})
		s.log.Debug("session closed", zap.Int("rooms", len(left)), zap.Int64("dropped", s.Dropped()))
	})
}

// onDeliveryFailure 投递失败只影响本会话
func (s *Session) onDeliveryFailure(env Envelope, err error) {
	if s.State() == SessionClosed {
		return
	}
	s.log.Warn("message dropped",
		zap.String("room", env.Room.String()),
		zap.Error(err),
	)
	s.svc.events.Publish(Event{Type: EventDeliveryFailed, ConnID: s.connID, User: s.user, Room: env.Room, Err: err})
}
