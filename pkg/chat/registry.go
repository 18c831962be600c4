package chat

import (
	"runtime"
	"slices"
	"sync"
)

// Handle 一个连接在一个房间中的注册
type Handle struct {
	ConnID string
	Room   RoomID
	sink   *Sink
}

// NewHandle 创建注册句柄
func NewHandle(connID string, room RoomID, sink *Sink) *Handle {
	return &Handle{ConnID: connID, Room: room, sink: sink}
}

// Sink 返回句柄的投递队列
func (h *Handle) Sink() *Sink {
	return h.sink
}

// roomEntry 房间条目，拥有独立的锁
type roomEntry struct {
	mu      sync.Mutex
	handles map[string]*Handle
	// dead 表示条目已被清理，持有旧指针的 Join 必须重试
	dead bool
}

// deliveryFailure 一次失败的投递
type deliveryFailure struct {
	handle *Handle
	err    error
}

// Registry 订阅者注册表
// 房间表只在查找或增删条目时短暂加锁，房间内的变更和广播由房间锁串行化
type Registry struct {
	mu    sync.RWMutex
	rooms map[RoomID]*roomEntry

	connMu sync.Mutex
	conns  map[string]map[RoomID]struct{}
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[RoomID]*roomEntry),
		conns: make(map[string]map[RoomID]struct{}),
	}
}

func (r *Registry) lookup(room RoomID) *roomEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[room]
}

func (r *Registry) lookupOrCreate(room RoomID) *roomEntry {
	if e := r.lookup(room); e != nil {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.rooms[room]
	if e == nil {
		e = &roomEntry{handles: make(map[string]*Handle)}
		r.rooms[room] = e
	}
	return e
}

// Join 将句柄加入房间，同一连接重复加入同一房间不产生新句柄
// 返回是否新增
func (r *Registry) Join(room RoomID, h *Handle) bool {
	for {
		e := r.lookupOrCreate(room)
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			runtime.Gosched()
			continue
		}

		_, exists := e.handles[h.ConnID]
		if !exists {
			e.handles[h.ConnID] = h
			r.index(h.ConnID, room)
		}
		e.mu.Unlock()
		return !exists
	}
}

// Leave 将连接移出房间，房间为空时清理条目
// 返回是否确实移除了句柄
func (r *Registry) Leave(room RoomID, connID string) bool {
	e := r.lookup(room)
	if e == nil {
		return false
	}

	e.mu.Lock()
	_, ok := e.handles[connID]
	if ok {
		delete(e.handles, connID)
		r.unindex(connID, room)
	}
	prune := len(e.handles) == 0 && !e.dead
	if prune {
		e.dead = true
	}
	e.mu.Unlock()

	if prune {
		r.mu.Lock()
		if r.rooms[room] == e {
			delete(r.rooms, room)
		}
		r.mu.Unlock()
	}
	return ok
}

// LeaveAll 移除连接的所有句柄，返回离开的房间
func (r *Registry) LeaveAll(connID string) []RoomID {
	rooms := r.ConnRooms(connID)

	left := rooms[:0]
	for _, room := range rooms {
		if r.Leave(room, connID) {
			left = append(left, room)
		}
	}
	return left
}

// Snapshot 房间当前句柄的时间点拷贝
func (r *Registry) Snapshot(room RoomID) []*Handle {
	e := r.lookup(room)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return nil
	}

	handles := make([]*Handle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	return handles
}

// fanout 在房间锁内向所有句柄做非阻塞投递
// 同一房间的两次 fanout 不会交错，所以每个订阅者看到的顺序一致
func (r *Registry) fanout(room RoomID, env Envelope) (int, []deliveryFailure) {
	e := r.lookup(room)
	if e == nil {
		return 0, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return 0, nil
	}

	var (
		delivered int
		failures  []deliveryFailure
	)
	for _, h := range e.handles {
		if err := h.sink.push(env); err != nil {
			failures = append(failures, deliveryFailure{handle: h, err: err})
			continue
		}
		delivered++
	}
	return delivered, failures
}

// Rooms 当前非空房间数
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Members 房间当前成员数
func (r *Registry) Members(room RoomID) int {
	e := r.lookup(room)
	if e == nil {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles)
}

// ConnRooms 连接当前所在的房间，按字典序
func (r *Registry) ConnRooms(connID string) []RoomID {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	set := r.conns[connID]
	rooms := make([]RoomID, 0, len(set))
	for room := range set {
		rooms = append(rooms, room)
	}
	slices.Sort(rooms)
	return rooms
}

func (r *Registry) index(connID string, room RoomID) {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	set, ok := r.conns[connID]
	if !ok {
		set = make(map[RoomID]struct{})
		r.conns[connID] = set
	}
	set[room] = struct{}{}
}

func (r *Registry) unindex(connID string, room RoomID) {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	set := r.conns[connID]
	delete(set, room)
	if len(set) == 0 {
		delete(r.conns, connID)
	}
}
