package event

import (
	"sync"

	"CoralPlay/model"

	"github.com/google/uuid"
)

// Handler 事件回调
type Handler func(model.Event)

type subscription struct {
	id string
	fn Handler
}

// Bus 是按事件名组织的发布/订阅注册表。
// 回调按订阅顺序同步调用；取消订阅按句柄移除。
type Bus struct {
	mu       sync.RWMutex
	handlers map[model.EventType][]subscription
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[model.EventType][]subscription),
	}
}

// Subscribe 注册指定事件类型的回调，返回用于取消订阅的句柄。
// 订阅 model.EventAny 可接收所有事件。
func (b *Bus) Subscribe(t model.EventType, fn Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	b.handlers[t] = append(b.handlers[t], subscription{id: id, fn: fn})
	return id
}

// Unsubscribe 按句柄移除订阅，句柄不存在时为空操作
func (b *Bus) Unsubscribe(t model.EventType, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[t]
	for i, s := range subs {
		if s.id == id {
			b.handlers[t] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit 构造事件并按订阅顺序派发。
// 回调在持锁之外调用，回调内允许再次订阅或发布。
func (b *Bus) Emit(t model.EventType, data interface{}) {
	ev := model.NewEvent(t, data)

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.handlers[t])+len(b.handlers[model.EventAny]))
	subs = append(subs, b.handlers[t]...)
	subs = append(subs, b.handlers[model.EventAny]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// SubscriberCount 返回某事件类型当前的订阅数量
func (b *Bus) SubscriberCount(t model.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}
