package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"example.com/cashflow-forecast/internal/auth"
	"example.com/cashflow-forecast/internal/notifications"
)

// TestHealth проверяет статус при доступных и недоступных зависимостях.
func TestHealth(t *testing.T) {
	e := echo.New()

	ok := NewHealthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	rec := httptest.NewRecorder()
	if err := ok.Health(e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	degraded := NewHealthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	rec = httptest.NewRecorder()
	if err := degraded.Health(e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"redis":"unavailable"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "refused") {
		t.Fatalf("expected error details to be hidden: %s", rec.Body.String())
	}
}

// TestStreamConnected проверяет первое событие SSE-потока.
func TestStreamConnected(t *testing.T) {
	e := echo.New()
	handler := NewNotificationHandler(notifications.NewHub())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(auth.ContextUserIDKey, uuid.New())

	if err := handler.Stream(c); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "text/event-stream" {
		t.Fatalf("unexpected content type %s", got)
	}
	if !strings.HasPrefix(rec.Body.String(), "event: connected\n") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

// TestStreamInvalidEntity проверяет отказ при неверном entity_id.
func TestStreamInvalidEntity(t *testing.T) {
	e := echo.New()
	handler := NewNotificationHandler(notifications.NewHub())

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?entity_id=nope", nil), rec)
	c.Set(auth.ContextUserIDKey, uuid.New())

	if err := handler.Stream(c); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
