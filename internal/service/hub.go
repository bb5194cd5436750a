package service

import (
	"sync"

	"github.com/HrishikShaji/mqtt-dashboard/internal/viewmodel"
)

const subscriberBuffer = 8

// Hub рассылает модели подписчикам топика.
// Медленный подписчик пропускает обновление и не блокирует конвейер.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan viewmodel.View]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan viewmodel.View]struct{})}
}

func (h *Hub) Subscribe(topic string) (<-chan viewmodel.View, func()) {
	ch := make(chan viewmodel.View, subscriberBuffer)

	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[chan viewmodel.View]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[topic], ch)
			if len(h.subs[topic]) == 0 {
				delete(h.subs, topic)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (h *Hub) Broadcast(view viewmodel.View) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[view.Topic] {
		select {
		case ch <- view:
		default:
		}
	}
}

// Subscribers количество подписчиков топика
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
