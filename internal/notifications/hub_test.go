package notifications

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestHubPublishSubscribe проверяет доставку события о готовом прогнозе.
func TestHubPublishSubscribe(t *testing.T) {
	hub := NewHub()
	userID := uuid.New()
	entityID := uuid.New()

	ch, unsubscribe := hub.Subscribe(userID, uuid.Nil)
	defer unsubscribe()

	hub.Publish(userID, Event{Type: EventProjectionReady, EntityID: entityID, Data: ProjectionReady{MonthsAhead: 6}})

	select {
	case event := <-ch:
		if event.Type != EventProjectionReady {
			t.Fatalf("expected event type %s, got %s", EventProjectionReady, event.Type)
		}
		if event.EntityID != entityID {
			t.Fatalf("expected entity %s, got %s", entityID, event.EntityID)
		}
		if event.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be set")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event to be delivered")
	}
}

// TestHubEntityFilter проверяет, что подписка на сущность не получает чужие события.
func TestHubEntityFilter(t *testing.T) {
	hub := NewHub()
	userID := uuid.New()
	watched := uuid.New()

	ch, unsubscribe := hub.Subscribe(userID, watched)
	defer unsubscribe()

	hub.Publish(userID, Event{Type: EventProjectionReady, EntityID: uuid.New()})
	hub.Publish(userID, Event{Type: EventCacheInvalidated, EntityID: watched})

	select {
	case event := <-ch:
		if event.EntityID != watched {
			t.Fatalf("expected only watched entity events, got %s", event.EntityID)
		}
		if event.Type != EventCacheInvalidated {
			t.Fatalf("expected %s, got %s", EventCacheInvalidated, event.Type)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event to be delivered")
	}

	select {
	case event := <-ch:
		t.Fatalf("unexpected event %+v", event)
	default:
	}
}

// TestHubUnsubscribe проверяет закрытие канала и повторную отписку.
func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	userID := uuid.New()

	ch, unsubscribe := hub.Subscribe(userID, uuid.Nil)
	if hub.Subscribers(userID) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Subscribers(userID))
	}

	unsubscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
	if hub.Subscribers(userID) != 0 {
		t.Fatalf("expected no subscribers, got %d", hub.Subscribers(userID))
	}
}

// TestEventWireFormat проверяет имена событий и полей в SSE-потоке.
func TestEventWireFormat(t *testing.T) {
	deficit := "2026-12"
	cases := []struct {
		event Event
		want  string
	}{
		{
			event: Event{Type: EventCacheInvalidated, Data: map[string]int{"deleted": 2}},
			want:  `{"type":"cache_invalidated","entity_id":"00000000-0000-0000-0000-000000000000","timestamp":"0001-01-01T00:00:00Z","data":{"deleted":2}}`,
		},
		{
			event: Event{Type: EventProjectionReady, Data: ProjectionReady{MonthsAhead: 3, FirstDeficitMonth: &deficit, ClosingBalance: "-10.00"}},
			want:  `{"type":"projection_ready","entity_id":"00000000-0000-0000-0000-000000000000","timestamp":"0001-01-01T00:00:00Z","data":{"months_ahead":3,"first_deficit_month":"2026-12","closing_balance":"-10.00"}}`,
		},
	}

	for _, tc := range cases {
		payload, err := json.Marshal(tc.event)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if string(payload) != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, payload)
		}
	}
}
