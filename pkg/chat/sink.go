package chat

import (
	"sync"
	"sync/atomic"
)

// Sink 有界投递队列，由会话独占读取，由广播层写入
// 写入永不阻塞：队列满返回 ErrSinkFull，关闭后返回 ErrSinkClosed
type Sink struct {
	mu      sync.RWMutex
	ch      chan Envelope
	closed  bool
	dropped atomic.Int64

	onFailure func(Envelope, error)
}

// NewSink 创建投递队列，onFailure 在投递失败时调用（可为 nil）
func NewSink(size int, onFailure func(Envelope, error)) *Sink {
	if size < 1 {
		size = 1
	}
	return &Sink{
		ch:        make(chan Envelope, size),
		onFailure: onFailure,
	}
}

// push 非阻塞写入
func (s *Sink) push(env Envelope) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.ch <- env:
		return nil
	default:
		return ErrSinkFull
	}
}

// report 记录一次投递失败
func (s *Sink) report(env Envelope, err error) {
	s.dropped.Add(1)
	if s.onFailure != nil {
		s.onFailure(env, err)
	}
}

// close 关闭队列，关闭后的通道即阻塞读的哨兵
func (s *Sink) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.ch)
	return true
}

// C 返回读取端
func (s *Sink) C() <-chan Envelope {
	return s.ch
}

// Len 当前排队的消息数
func (s *Sink) Len() int {
	return len(s.ch)
}

// Cap 队列容量
func (s *Sink) Cap() int {
	return cap(s.ch)
}

// Dropped 投递失败的累计次数
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}
