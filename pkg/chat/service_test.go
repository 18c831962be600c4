package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	return newTestServiceWith(t, NewBroadcaster(NewRegistry()), opts...)
}

func newTestServiceWith(t *testing.T, b *Broadcaster, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(b, append([]Option{WithNodeID("test")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func join(t *testing.T, svc *Service, user string, rooms ...string) *Session {
	t.Helper()
	sess, err := svc.JoinChatRooms(context.Background(), JoinRequest{Rooms: rooms, User: user})
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess
}

func recv(t *testing.T, sess *Session) ChatRoomMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sess.Recv(ctx)
	require.NoError(t, err)
	return msg
}

func assertNoMessage(t *testing.T, sess *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sess.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewService(NewBroadcaster(nil), WithSinkSize(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestJoinAndPublish(t *testing.T) {
	svc := newTestService(t, WithGreeting(false))
	a := join(t, svc, "alice", "lobby")
	b := join(t, svc, "bob", "lobby")

	require.NoError(t, svc.SendChatMessage(context.Background(), "lobby", "hi", "alice"))

	msg := recv(t, b)
	assert.Equal(t, ChatRoomMessage{RoomName: "chat_lobby", CurrentUser: "bob", Sender: "alice", Message: "hi"}, msg)

	// 发布者也加入了房间，所以同样收到
	assert.Equal(t, "hi", recv(t, a).Message)
}

func TestPublisherNotJoinedReceivesNothing(t *testing.T) {
	svc := newTestService(t, WithGreeting(false))
	a := join(t, svc, "alice", "elsewhere")
	b := join(t, svc, "bob", "lobby")

	require.NoError(t, svc.SendChatMessage(context.Background(), "lobby", "hi", "alice"))

	assert.Equal(t, "hi", recv(t, b).Message)
	assertNoMessage(t, a)
}

func TestGreetingOnJoin(t *testing.T) {
	svc := newTestService(t)
	sess := join(t, svc, "alice", "a", "b")

	require.NoError(t, svc.SendChatMessage(context.Background(), "a", "later", "bob"))

	first := recv(t, sess)
	second := recv(t, sess)
	assert.Equal(t, "chat_a", first.RoomName)
	assert.Equal(t, "chat_b", second.RoomName)
	for _, msg := range []ChatRoomMessage{first, second} {
		assert.Contains(t, msg.Message, "alice")
		assert.Contains(t, msg.Message, "node: test")
		assert.Equal(t, "alice", msg.CurrentUser)
	}
	assert.Equal(t, "later", recv(t, sess).Message)
}

func TestGreetingVisibleToRoom(t *testing.T) {
	svc := newTestService(t, WithGreetingFormatter(func(user string) string { return "welcome " + user }))
	bob := join(t, svc, "bob", "lobby")
	assert.Equal(t, "welcome bob", recv(t, bob).Message)

	join(t, svc, "alice", "lobby")
	msg := recv(t, bob)
	assert.Equal(t, "welcome alice", msg.Message)
	assert.Equal(t, "alice", msg.Sender)
}

func TestDuplicateRoomsCollapse(t *testing.T) {
	svc := newTestService(t)
	sess := join(t, svc, "alice", "a", "a")

	assert.Equal(t, []RoomID{"chat_a"}, sess.Rooms())
	assert.Equal(t, 1, svc.Broadcaster().Registry().Members("chat_a"))
	recv(t, sess)
	assertNoMessage(t, sess)
}

func TestJoinRejectsInvalidRooms(t *testing.T) {
	svc := newTestService(t, WithMaxRoomsPerJoin(2))

	_, err := svc.JoinChatRooms(context.Background(), JoinRequest{Rooms: []string{"ok", "bad room"}, User: "u"})
	assert.ErrorIs(t, err, ErrRoomResolution)

	_, err = svc.JoinChatRooms(context.Background(), JoinRequest{User: "u"})
	assert.ErrorIs(t, err, ErrEmptyRooms)

	_, err = svc.JoinChatRooms(context.Background(), JoinRequest{Rooms: []string{"a", "b", "c"}, User: "u"})
	assert.ErrorIs(t, err, ErrTooManyRooms)

	assert.Zero(t, svc.Broadcaster().Registry().Rooms())
	assert.Zero(t, svc.SessionCount())

	err = svc.SendChatMessage(context.Background(), "", "m", "u")
	assert.ErrorIs(t, err, ErrRoomResolution)
}

func TestRoomIsolation(t *testing.T) {
	svc := newTestService(t, WithGreeting(false))
	a := join(t, svc, "alice", "a")
	b := join(t, svc, "bob", "b")

	for i := range 5 {
		require.NoError(t, svc.SendChatMessage(context.Background(), "a", fmt.Sprint(i), "x"))
	}
	for i := range 5 {
		assert.Equal(t, fmt.Sprint(i), recv(t, a).Message)
	}
	assertNoMessage(t, b)
}

func TestPerRoomOrdering(t *testing.T) {
	const publishers, perPublisher = 4, 50
	svc := newTestService(t, WithGreeting(false), WithSinkSize(publishers*perPublisher))
	subs := []*Session{
		join(t, svc, "s1", "lobby"),
		join(t, svc, "s2", "lobby"),
		join(t, svc, "s3", "lobby", "other"),
	}

	var wg sync.WaitGroup
	for p := range publishers {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := range perPublisher {
				assert.NoError(t, svc.SendChatMessage(context.Background(), "lobby", fmt.Sprintf("%d-%d", p, i), "x"))
			}
		}(p)
	}
	wg.Wait()

	var sequences [][]string
	for _, sub := range subs {
		seq := make([]string, 0, publishers*perPublisher)
		for range publishers * perPublisher {
			seq = append(seq, recv(t, sub).Message)
		}
		sequences = append(sequences, seq)
	}

	// 所有订阅者看到同一个全序
	assert.Equal(t, sequences[0], sequences[1])
	assert.Equal(t, sequences[0], sequences[2])

	// 同一发布者的消息保持发布顺序
	last := map[string]int{}
	for _, m := range sequences[0] {
		var p, i int
		_, err := fmt.Sscanf(m, "%d-%d", &p, &i)
		require.NoError(t, err)
		key := fmt.Sprint(p)
		if prev, ok := last[key]; ok {
			assert.Greater(t, i, prev)
		}
		last[key] = i
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	metrics := NewCounterMetrics()
	b := NewBroadcaster(NewRegistry(), WithBroadcastMetrics(metrics))
	svc := newTestServiceWith(t, b, WithGreeting(false), WithSinkSize(4), WithMetrics(metrics))
	slow := join(t, svc, "slow", "lobby")
	fast := join(t, svc, "fast", "lobby")

	dropped := make(chan Event, 16)
	svc.Subscribe(EventDeliveryFailed, func(e Event) { dropped <- e })

	for i := range 10 {
		require.NoError(t, svc.SendChatMessage(context.Background(), "lobby", fmt.Sprint(i), "x"))
		assert.Equal(t, fmt.Sprint(i), recv(t, fast).Message)
	}

	assert.Equal(t, int64(6), slow.Dropped())
	assert.Zero(t, fast.Dropped())
	assert.Equal(t, int64(6), metrics.Snapshot().Dropped)
	assert.Equal(t, int64(10), metrics.Snapshot().Published)
	assert.Equal(t, int64(14), metrics.Snapshot().Delivered)

	select {
	case e := <-dropped:
		assert.Equal(t, slow.ConnID(), e.ConnID)
		assert.ErrorIs(t, e.Err, ErrSinkFull)
	case <-time.After(time.Second):
		t.Fatal("no delivery failure event")
	}

	for i := range 4 {
		assert.Equal(t, fmt.Sprint(i), recv(t, slow).Message)
	}
}

func TestCloseRemovesHandles(t *testing.T) {
	svc := newTestService(t, WithGreeting(false))
	sess := join(t, svc, "alice", "a", "b")
	other := join(t, svc, "bob", "a")
	reg := svc.Broadcaster().Registry()

	sess.Close()
	sess.Close()

	assert.Equal(t, SessionClosed, sess.State())
	assert.Equal(t, []string{other.ConnID()}, handleIDs(reg.Snapshot("chat_a")))
	assert.Empty(t, reg.Snapshot("chat_b"))
	assert.Empty(t, sess.Rooms())
	assert.Equal(t, 1, svc.SessionCount())
}

// closingMetrics 在会话被登记时关闭它，模拟与 Service.Close 并发的 join
type closingMetrics struct {
	NoopMetrics
	svc    *Service
	connID string
	once   sync.Once
}

func (m *closingMetrics) SetSessionCount(int) {
	if sess, ok := m.svc.Session(m.connID); ok {
		m.once.Do(sess.Close)
	}
}

func TestJoinClosedWhileTracked(t *testing.T) {
	metrics := &closingMetrics{connID: "y"}
	svc := newTestService(t, WithGreeting(false), WithMetrics(metrics))
	metrics.svc = svc
	reg := svc.Broadcaster().Registry()

	sess, err := svc.JoinChatRooms(context.Background(), JoinRequest{Rooms: []string{"lobby"}, User: "y", ConnID: "y"})
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Nil(t, sess)

	assert.Empty(t, reg.Snapshot("chat_lobby"))
	assert.Empty(t, reg.ConnRooms("y"))
	assert.Zero(t, reg.Rooms())
	assert.Zero(t, svc.SessionCount())
}

func TestJoinRejectsConnInUse(t *testing.T) {
	svc := newTestService(t, WithGreeting(false))
	reg := svc.Broadcaster().Registry()

	first, err := svc.JoinChatRooms(context.Background(), JoinRequest{Rooms: []string{"lobby"}, User: "a", ConnID: "x"})
	require.NoError(t, err)
	t.Cleanup(first.Close)

	_, err = svc.JoinChatRooms(context.Background(), JoinRequest{Rooms: []string{"lobby"}, User: "b", ConnID: "x"})
	assert.ErrorIs(t, err, ErrConnInUse)

	// 被拒绝的请求不影响在线会话
	got, ok := svc.Session("x")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, []string{"x"}, handleIDs(reg.Snapshot("chat_lobby")))
	require.NoError(t, svc.SendChatMessage(context.Background(), "lobby", "still here", "c"))
	assert.Equal(t, "still here", recv(t, first).Message)

	// 旧会话关闭后连接标识可以复用
	first.Close()
	second, err := svc.JoinChatRooms(context.Background(), JoinRequest{Rooms: []string{"lobby"}, User: "b", ConnID: "x"})
	require.NoError(t, err)
	t.Cleanup(second.Close)

	require.NoError(t, svc.SendChatMessage(context.Background(), "lobby", "again", "c"))
	assert.Equal(t, "again", recv(t, second).Message)
	assert.Equal(t, []string{"x"}, handleIDs(reg.Snapshot("chat_lobby")))
}

func TestJoinAfterServiceClose(t *testing.T) {
	svc := newTestService(t, WithGreeting(false))
	sess := join(t, svc, "alice", "lobby")

	svc.Close()
	assert.Equal(t, SessionClosed, sess.State())

	_, err := svc.JoinChatRooms(context.Background(), JoinRequest{Rooms: []string{"lobby"}, User: "bob"})
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Zero(t, svc.Broadcaster().Registry().Rooms())
}

func TestClosedSessionTerminates(t *testing.T) {
	svc := newTestService(t, WithGreeting(false))
	gone := join(t, svc, "gone", "lobby")
	publisher := join(t, svc, "publisher", "lobby")

	gone.Close()
	require.NoError(t, svc.SendChatMessage(context.Background(), "lobby", "after", publisher.User()))

	_, err := gone.Recv(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)

	var got []ChatRoomMessage
	for msg := range gone.Messages(context.Background()) {
		got = append(got, msg)
	}
	assert.Empty(t, got)
	assert.Zero(t, gone.Dropped())
}

func TestCloseUnblocksRecv(t *testing.T) {
	svc := newTestService(t, WithGreeting(false))
	sess := join(t, svc, "alice", "lobby")

	done := make(chan error, 1)
	go func() {
		_, err := sess.Recv(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	sess.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("Recv not unblocked by Close")
	}
}

func TestContextCancelClosesSession(t *testing.T) {
	svc := newTestService(t, WithGreeting(false))
	ctx, cancel := context.WithCancel(context.Background())

	sess, err := svc.JoinChatRooms(ctx, JoinRequest{Rooms: []string{"lobby"}, User: "alice"})
	require.NoError(t, err)
	assert.Equal(t, SessionListening, sess.State())

	cancel()
	assert.Eventually(t, func() bool {
		return sess.State() == SessionClosed
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, svc.Broadcaster().Registry().Members("chat_lobby"))
	assert.Zero(t, svc.SessionCount())
}

func TestMessagesSequence(t *testing.T) {
	svc := newTestService(t, WithGreeting(false))
	sess := join(t, svc, "alice", "lobby")

	for i := range 3 {
		require.NoError(t, svc.SendChatMessage(context.Background(), "lobby", fmt.Sprint(i), "bob"))
	}

	var got []string
	for msg := range sess.Messages(context.Background()) {
		got = append(got, msg.Message)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []string{"0", "1", "2"}, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range sess.Messages(ctx) {
		t.Fatal("cancelled sequence yielded")
	}
}

func TestSessionJoinAndLeave(t *testing.T) {
	svc := newTestService(t, WithGreeting(false))
	sess := join(t, svc, "alice", "a")
	ctx := context.Background()

	require.NoError(t, sess.Join(ctx, "b", "a"))
	assert.Equal(t, []RoomID{"chat_a", "chat_b"}, sess.Rooms())

	require.NoError(t, svc.SendChatMessage(ctx, "b", "in b", "bob"))
	assert.Equal(t, "chat_b", recv(t, sess).RoomName)

	require.NoError(t, sess.Leave(ctx, "a", "missing"))
	assert.Equal(t, []RoomID{"chat_b"}, sess.Rooms())
	require.NoError(t, svc.SendChatMessage(ctx, "a", "in a", "bob"))
	assertNoMessage(t, sess)

	assert.ErrorIs(t, sess.Join(ctx, "bad room"), ErrRoomResolution)

	sess.Close()
	assert.NoError(t, sess.Join(ctx, "c"))
	assert.NoError(t, sess.Leave(ctx, "b"))
	assert.Empty(t, sess.Rooms())
	assert.Zero(t, svc.Broadcaster().Registry().Rooms())
}

func TestLifecycleEvents(t *testing.T) {
	svc := newTestService(t, WithGreeting(false))

	var mu sync.Mutex
	var seen []EventType
	for _, typ := range []EventType{EventSessionJoined, EventRoomJoined, EventRoomLeft, EventSessionClosed} {
		svc.Subscribe(typ, func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, e.Type)
		})
	}

	sess := join(t, svc, "alice", "a")
	require.NoError(t, sess.Leave(context.Background(), "a"))
	sess.Close()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.ElementsMatch(t, []EventType{EventRoomJoined, EventSessionJoined, EventRoomLeft, EventSessionClosed}, seen)
	mu.Unlock()
}

// stubTransport 同步回送的传输，用于验证分布式模式下的错误处理
type stubTransport struct {
	mu        sync.Mutex
	handler   func(Envelope)
	failAdd   RoomID
	failSend  bool
	groups    map[RoomID]int
	discarded []RoomID
}

func newStubTransport() *stubTransport {
	return &stubTransport{groups: map[RoomID]int{}}
}

func (s *stubTransport) GroupAdd(_ context.Context, group RoomID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group == s.failAdd {
		return errors.New("broker unreachable")
	}
	s.groups[group]++
	return nil
}

func (s *stubTransport) GroupDiscard(_ context.Context, group RoomID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[group]--
	if s.groups[group] == 0 {
		delete(s.groups, group)
	}
	s.discarded = append(s.discarded, group)
	return nil
}

func (s *stubTransport) GroupSend(_ context.Context, _ RoomID, env Envelope) error {
	s.mu.Lock()
	fail, handler := s.failSend, s.handler
	s.mu.Unlock()
	if fail {
		return errors.New("publish timeout")
	}
	handler(env)
	return nil
}

func (s *stubTransport) Receive(handler func(Envelope)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

func (s *stubTransport) Close() error { return nil }

func TestDistributedLoopback(t *testing.T) {
	tr := newStubTransport()
	b := NewBroadcaster(NewRegistry(), WithTransport(tr))
	assert.True(t, b.Distributed())
	svc := newTestServiceWith(t, b, WithGreeting(false))

	a := join(t, svc, "alice", "lobby")
	require.NoError(t, svc.SendChatMessage(context.Background(), "lobby", "hi", "alice"))

	// 自己发布的消息只经 loopback 投递一次
	assert.Equal(t, "hi", recv(t, a).Message)
	assertNoMessage(t, a)

	a.Close()
	tr.mu.Lock()
	assert.Empty(t, tr.groups)
	assert.Equal(t, []RoomID{"chat_lobby"}, tr.discarded)
	tr.mu.Unlock()
}

func TestJoinRollsBackOnTransportFailure(t *testing.T) {
	tr := newStubTransport()
	tr.failAdd = "chat_b"
	svc := newTestServiceWith(t, NewBroadcaster(NewRegistry(), WithTransport(tr)))

	sess, err := svc.JoinChatRooms(context.Background(), JoinRequest{Rooms: []string{"a", "b", "c"}, User: "alice"})
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.True(t, strings.Contains(err.Error(), "broker unreachable"))

	reg := svc.Broadcaster().Registry()
	assert.Zero(t, reg.Rooms())
	assert.Zero(t, svc.SessionCount())

	tr.mu.Lock()
	assert.Empty(t, tr.groups)
	assert.Equal(t, []RoomID{"chat_a"}, tr.discarded)
	tr.mu.Unlock()
}

func TestPublishTransportFailure(t *testing.T) {
	tr := newStubTransport()
	svc := newTestServiceWith(t, NewBroadcaster(NewRegistry(), WithTransport(tr)), WithGreeting(false))
	join(t, svc, "alice", "lobby")

	tr.mu.Lock()
	tr.failSend = true
	tr.mu.Unlock()

	err := svc.SendChatMessage(context.Background(), "lobby", "hi", "alice")
	assert.ErrorIs(t, err, ErrTransportUnavailable)

	// 问候发布失败同样使加入失败
	_, err = svc.JoinChatRooms(context.Background(), JoinRequest{Rooms: []string{"other"}, User: "bob"})
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, 1, svc.SessionCount())
}
