package services

import (
	"sync"
)

// 事件类型常量
const (
	EventExecutionCreated    = "execution.created"
	EventExecutionUpdated    = "execution.updated"
	EventCommunicationLogged = "communication.logged"
)

// Event 进程内事件。仅作为唤醒提示与看板推送：数据库才是事实来源，
// 丢失事件由 Processor 的周期 tick 兜底。
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventBus 进程内发布订阅。Publish 永不阻塞：订阅方缓冲满时丢弃。
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventBus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Publish 向所有订阅者投递：非阻塞，满则丢
func (b *EventBus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe 注册订阅者，返回事件通道与取消函数
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// SubscriberCount 当前订阅者数量（测试与指标用）
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
