package transport

import (
	"sync"

	"github.com/tokmz/qichat/pkg/chat"
)

// groupSet 本进程的分组成员表
// 分组的第一个本地成员触发订阅，最后一个成员离开触发退订
type groupSet struct {
	mu     sync.RWMutex
	groups map[chat.RoomID]map[string]struct{}
}

func newGroupSet() *groupSet {
	return &groupSet{groups: make(map[chat.RoomID]map[string]struct{})}
}

// add 加入成员，返回是否为该分组的第一个成员
func (g *groupSet) add(group chat.RoomID, connID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.groups[group]
	if !ok {
		members = make(map[string]struct{})
		g.groups[group] = members
	}
	members[connID] = struct{}{}
	return !ok
}

// discard 移除成员，返回分组是否因此变空
func (g *groupSet) discard(group chat.RoomID, connID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.groups[group]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(g.groups, group)
		return true
	}
	return false
}

// has 分组是否有本地成员
func (g *groupSet) has(group chat.RoomID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.groups[group]
	return ok
}

// len 有本地成员的分组数
func (g *groupSet) len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.groups)
}

// handlerSlot 投递回调的并发安全存储
type handlerSlot struct {
	mu sync.RWMutex
	fn func(chat.Envelope)
}

func (h *handlerSlot) set(fn func(chat.Envelope)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fn = fn
}

func (h *handlerSlot) call(env chat.Envelope) {
	h.mu.RLock()
	fn := h.fn
	h.mu.RUnlock()
	if fn != nil {
		fn(env)
	}
}
