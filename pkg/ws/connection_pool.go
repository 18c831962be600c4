package ws

import (
	"sort"
	"sync"
)

// connectionPool 在线连接表，同时按用户建立索引
type connectionPool struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	byUser   map[string]map[string]*Client
	maxConns int
}

func newConnectionPool(maxConns int) *connectionPool {
	return &connectionPool{
		clients:  make(map[string]*Client),
		byUser:   make(map[string]map[string]*Client),
		maxConns: maxConns,
	}
}

// full 升级前的容量预检，add 时仍会再次检查
func (p *connectionPool) full() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients) >= p.maxConns
}

func (p *connectionPool) add(c *Client) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.clients[c.id]; exists {
		return ErrClientIDExists
	}
	if len(p.clients) >= p.maxConns {
		return ErrTooManyConnections
	}

	p.clients[c.id] = c
	if c.user != "" {
		conns, ok := p.byUser[c.user]
		if !ok {
			conns = make(map[string]*Client)
			p.byUser[c.user] = conns
		}
		conns[c.id] = c
	}
	return nil
}

func (p *connectionPool) remove(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, exists := p.clients[c.id]; !exists || cur != c {
		return false
	}
	delete(p.clients, c.id)
	if conns, ok := p.byUser[c.user]; ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(p.byUser, c.user)
		}
	}
	return true
}

func (p *connectionPool) get(id string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[id]
	return c, ok
}

func (p *connectionPool) count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// ofUser 返回某用户的全部连接，按 ID 排序
func (p *connectionPool) ofUser(user string) []*Client {
	p.mu.RLock()
	conns := make([]*Client, 0, len(p.byUser[user]))
	for _, c := range p.byUser[user] {
		conns = append(conns, c)
	}
	p.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	return conns
}

// snapshot 返回当前全部连接
func (p *connectionPool) snapshot() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	clients := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	return clients
}
