package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/tokmz/qichat/pkg/chat"
	"github.com/tokmz/qichat/pkg/logger"
)

// Hub 进程内消息总线
// 每个 Memory 节点相当于一个进程；同一分组的发送被串行化，
// 所有节点看到的顺序一致
type Hub struct {
	mu    sync.RWMutex
	nodes map[*Memory]struct{}

	// 按分组哈希分片的发送锁，数量固定
	stripes [hubStripes]sync.Mutex
}

const hubStripes = 64

// NewHub 创建总线
func NewHub() *Hub {
	return &Hub{
		nodes: make(map[*Memory]struct{}),
	}
}

func (h *Hub) attach(m *Memory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes[m] = struct{}{}
}

func (h *Hub) detach(m *Memory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, m)
}

// Nodes 已连接的节点数
func (h *Hub) Nodes() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

func (h *Hub) lock(group chat.RoomID) *sync.Mutex {
	return &h.stripes[xxhash.Sum64String(string(group))%hubStripes]
}

// send 在分组锁内投递给所有持有该分组的节点
func (h *Hub) send(group chat.RoomID, data []byte) {
	l := h.lock(group)
	l.Lock()
	defer l.Unlock()

	h.mu.RLock()
	nodes := make([]*Memory, 0, len(h.nodes))
	for m := range h.nodes {
		nodes = append(nodes, m)
	}
	h.mu.RUnlock()

	for _, m := range nodes {
		m.dispatch(group, data)
	}
}

// Memory 进程内传输
type Memory struct {
	hub     *Hub
	codec   Codec
	log     logger.Logger
	groups  *groupSet
	handler handlerSlot
	closed  atomic.Bool
}

var _ chat.Transport = (*Memory)(nil)

// NewMemory 创建连接到 hub 的节点
func NewMemory(hub *Hub, codec Codec, log logger.Logger) *Memory {
	if hub == nil {
		hub = NewHub()
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	m := &Memory{
		hub:    hub,
		codec:  codec,
		log:    log,
		groups: newGroupSet(),
	}
	hub.attach(m)
	return m
}

// GroupAdd 实现 chat.Transport
func (m *Memory) GroupAdd(_ context.Context, group chat.RoomID, connID string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.groups.add(group, connID)
	return nil
}

// GroupDiscard 实现 chat.Transport
func (m *Memory) GroupDiscard(_ context.Context, group chat.RoomID, connID string) error {
	m.groups.discard(group, connID)
	return nil
}

// GroupSend 实现 chat.Transport
func (m *Memory) GroupSend(ctx context.Context, group chat.RoomID, env chat.Envelope) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return ErrOperation.WithError(err)
	}

	data, err := m.codec.Encode(env)
	if err != nil {
		return err
	}
	m.hub.send(group, data)
	return nil
}

// Receive 实现 chat.Transport
func (m *Memory) Receive(handler func(chat.Envelope)) {
	m.handler.set(handler)
}

func (m *Memory) dispatch(group chat.RoomID, data []byte) {
	if m.closed.Load() || !m.groups.has(group) {
		return
	}
	env, err := m.codec.Decode(data)
	if err != nil {
		m.log.Warn("drop undecodable message", zap.String("room", group.String()), zap.Error(err))
		return
	}
	m.handler.call(env)
}

// Close 实现 chat.Transport
func (m *Memory) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.hub.detach(m)
	return nil
}
