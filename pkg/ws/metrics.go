package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics 网关监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()
	IncrementRejectedConnections()

	// 帧指标
	IncrementFrames(frameType FrameType)
	IncrementFrameErrors(frameType FrameType)
	RecordFrameLatency(frameType FrameType, d time.Duration)
	IncrementInvalidFrames()

	// 出站指标
	IncrementDroppedFrames()
	IncrementWriteErrors()
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections()                       {}
func (NoopMetrics) DecrementConnections()                       {}
func (NoopMetrics) IncrementRejectedConnections()               {}
func (NoopMetrics) IncrementFrames(FrameType)                   {}
func (NoopMetrics) IncrementFrameErrors(FrameType)              {}
func (NoopMetrics) RecordFrameLatency(FrameType, time.Duration) {}
func (NoopMetrics) IncrementInvalidFrames()                     {}
func (NoopMetrics) IncrementDroppedFrames()                     {}
func (NoopMetrics) IncrementWriteErrors()                       {}

// CounterMetrics 进程内计数实现，供 /stats 之类的接口读取
type CounterMetrics struct {
	connections atomic.Int64
	rejected    atomic.Int64
	invalid     atomic.Int64
	dropped     atomic.Int64
	writeErrors atomic.Int64

	mu     sync.Mutex
	frames map[FrameType]int64
	errors map[FrameType]int64
}

// GatewaySnapshot 计数快照
type GatewaySnapshot struct {
	Connections   int64               `json:"connections"`
	Rejected      int64               `json:"rejected"`
	InvalidFrames int64               `json:"invalid_frames"`
	DroppedFrames int64               `json:"dropped_frames"`
	WriteErrors   int64               `json:"write_errors"`
	Frames        map[FrameType]int64 `json:"frames"`
	FrameErrors   map[FrameType]int64 `json:"frame_errors"`
}

// NewCounterMetrics 创建计数监控
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{
		frames: make(map[FrameType]int64),
		errors: make(map[FrameType]int64),
	}
}

func (m *CounterMetrics) IncrementConnections()         { m.connections.Add(1) }
func (m *CounterMetrics) DecrementConnections()         { m.connections.Add(-1) }
func (m *CounterMetrics) IncrementRejectedConnections() { m.rejected.Add(1) }
func (m *CounterMetrics) IncrementInvalidFrames()       { m.invalid.Add(1) }
func (m *CounterMetrics) IncrementDroppedFrames()       { m.dropped.Add(1) }
func (m *CounterMetrics) IncrementWriteErrors()         { m.writeErrors.Add(1) }

func (m *CounterMetrics) IncrementFrames(frameType FrameType) {
	m.mu.Lock()
	m.frames[frameType]++
	m.mu.Unlock()
}

func (m *CounterMetrics) IncrementFrameErrors(frameType FrameType) {
	m.mu.Lock()
	m.errors[frameType]++
	m.mu.Unlock()
}

func (m *CounterMetrics) RecordFrameLatency(FrameType, time.Duration) {}

// Snapshot 读取当前计数
func (m *CounterMetrics) Snapshot() GatewaySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := GatewaySnapshot{
		Connections:   m.connections.Load(),
		Rejected:      m.rejected.Load(),
		InvalidFrames: m.invalid.Load(),
		DroppedFrames: m.dropped.Load(),
		WriteErrors:   m.writeErrors.Load(),
		Frames:        make(map[FrameType]int64, len(m.frames)),
		FrameErrors:   make(map[FrameType]int64, len(m.errors)),
	}
	for k, v := range m.frames {
		s.Frames[k] = v
	}
	for k, v := range m.errors {
		s.FrameErrors[k] = v
	}
	return s
}
