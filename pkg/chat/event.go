package chat

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType 生命周期事件类型
type EventType string

const (
	// EventSessionJoined 会话完成加入
	EventSessionJoined EventType = "session.joined"
	// EventSessionClosed 会话关闭
	EventSessionClosed EventType = "session.closed"
	// EventRoomJoined 加入房间
	EventRoomJoined EventType = "room.joined"
	// EventRoomLeft 离开房间
	EventRoomLeft EventType = "room.left"
	// EventDeliveryFailed 投递失败
	EventDeliveryFailed EventType = "delivery.failed"
)

// Event 生命周期事件
type Event struct {
	Type   EventType
	ConnID string
	User   string
	Room   RoomID
	Err    error
	Time   time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 异步事件总线，处理器在固定数量的 worker 中执行
type EventBus struct {
	handlers map[EventType][]EventHandler
	mu       sync.RWMutex
	workerCh chan func()
	stopCh   chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	dropped  atomic.Int64
}

// NewEventBus 创建事件总线
func NewEventBus(workers, queueSize int) *EventBus {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		workerCh: make(chan func(), queueSize),
		stopCh:   make(chan struct{}),
	}
	for range workers {
		eb.wg.Add(1)
		go eb.worker()
	}
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case task := <-eb.workerCh:
			task()
		case <-eb.stopCh:
			return
		}
	}
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish 发布事件，队列满时丢弃
func (eb *EventBus) Publish(event Event) {
	if eb.closed.Load() {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		select {
		case eb.workerCh <- func() { h(event) }:
		default:
			eb.dropped.Add(1)
		}
	}
}

// Close 关闭事件总线并等待 worker 退出
func (eb *EventBus) Close() {
	if !eb.closed.CompareAndSwap(false, true) {
		return
	}
	close(eb.stopCh)
	eb.wg.Wait()
}

// Dropped 丢弃的事件数量
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}
