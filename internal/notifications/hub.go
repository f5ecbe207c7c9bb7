package notifications

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventProjectionReady  = "projection_ready"
	EventCacheInvalidated = "cache_invalidated"
)

const subscriberBuffer = 10

type Event struct {
	Type      string      `json:"type"`
	EntityID  uuid.UUID   `json:"entity_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ProjectionReady — краткая сводка свежего расчета. Ответы из кэша событий не порождают.
type ProjectionReady struct {
	MonthsAhead       int     `json:"months_ahead"`
	FirstDeficitMonth *string `json:"first_deficit_month,omitempty"`
	ClosingBalance    string  `json:"closing_balance"`
}

type subscription struct {
	entityID uuid.UUID
}

type Hub struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[chan Event]subscription
}

// NewHub создает хаб для SSE-подписок.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]map[chan Event]subscription),
	}
}

// Subscribe подписывает пользователя на события прогнозов.
// uuid.Nil в entityID означает подписку на все сущности пользователя.
func (h *Hub) Subscribe(userID, entityID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	userSubs, ok := h.subscribers[userID]
	if !ok {
		userSubs = make(map[chan Event]subscription)
		h.subscribers[userID] = userSubs
	}
	userSubs[ch] = subscription{entityID: entityID}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			if subs, exists := h.subscribers[userID]; exists {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(h.subscribers, userID)
				}
			}
			close(ch)
		})
	}
}

// Publish отправляет событие подписчикам пользователя, следящим за сущностью события.
// Медленный подписчик пропускает событие, а не блокирует расчет.
func (h *Hub) Publish(userID uuid.UUID, event Event) {
	event.Timestamp = time.Now().UTC()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch, sub := range h.subscribers[userID] {
		if sub.entityID != uuid.Nil && sub.entityID != event.EntityID {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers возвращает число активных подписок пользователя.
func (h *Hub) Subscribers(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subscribers[userID])
}
