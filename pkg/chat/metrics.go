package chat

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics 监控接口
type Metrics interface {
	// 消息指标
	IncrementPublished(room RoomID)
	IncrementDelivered(room RoomID, n int)
	IncrementDroppedMessages(room RoomID, reason error)
	RecordBroadcastLatency(d time.Duration)

	// 会话与房间指标
	SetSessionCount(count int)
	SetRoomCount(count int)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementPublished(RoomID)              {}
func (NoopMetrics) IncrementDelivered(RoomID, int)         {}
func (NoopMetrics) IncrementDroppedMessages(RoomID, error) {}
func (NoopMetrics) RecordBroadcastLatency(time.Duration)   {}
func (NoopMetrics) SetSessionCount(int)                    {}
func (NoopMetrics) SetRoomCount(int)                       {}

// MetricsSnapshot 计数器快照
type MetricsSnapshot struct {
	Published     int64         `json:"published"`
	Delivered     int64         `json:"delivered"`
	Dropped       int64         `json:"dropped"`
	Sessions      int64         `json:"sessions"`
	Rooms         int64         `json:"rooms"`
	MaxBroadcast  time.Duration `json:"max_broadcast_ns"`
	LastBroadcast time.Duration `json:"last_broadcast_ns"`
}

// CounterMetrics 进程内计数器实现，用于 /stats 和测试
type CounterMetrics struct {
	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	sessions  atomic.Int64
	rooms     atomic.Int64

	mu            sync.Mutex
	maxBroadcast  time.Duration
	lastBroadcast time.Duration
}

// NewCounterMetrics 创建计数器
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{}
}

func (m *CounterMetrics) IncrementPublished(RoomID) {
	m.published.Add(1)
}

func (m *CounterMetrics) IncrementDelivered(_ RoomID, n int) {
	m.delivered.Add(int64(n))
}

func (m *CounterMetrics) IncrementDroppedMessages(RoomID, error) {
	m.dropped.Add(1)
}

func (m *CounterMetrics) RecordBroadcastLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBroadcast = d
	if d > m.maxBroadcast {
		m.maxBroadcast = d
	}
}

func (m *CounterMetrics) SetSessionCount(count int) {
	m.sessions.Store(int64(count))
}

func (m *CounterMetrics) SetRoomCount(count int) {
	m.rooms.Store(int64(count))
}

// Snapshot 读取当前计数
func (m *CounterMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	maxB, lastB := m.maxBroadcast, m.lastBroadcast
	m.mu.Unlock()

	return MetricsSnapshot{
		Published:     m.published.Load(),
		Delivered:     m.delivered.Load(),
		Dropped:       m.dropped.Load(),
		Sessions:      m.sessions.Load(),
		Rooms:         m.rooms.Load(),
		MaxBroadcast:  maxB,
		LastBroadcast: lastB,
	}
}
