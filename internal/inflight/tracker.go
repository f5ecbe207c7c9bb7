package inflight

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded — причина отмены запроса, который перекрыт более новым.
var ErrSuperseded = errors.New("superseded by a newer request")

type entry struct {
	id     uint64
	cancel context.CancelCauseFunc
}

// Tracker реализует правило "последний запрос побеждает": для каждого ключа
// активен только самый новый расчет, предыдущий отменяется.
type Tracker struct {
	mu     sync.Mutex
	seq    uint64
	active map[string]entry
}

// NewTracker создает пустой трекер.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]entry)}
}

// Begin регистрирует новый расчет для ключа и отменяет предыдущий.
// Вызывающий обязан вызвать done по завершении.
func (t *Tracker) Begin(ctx context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)

	t.mu.Lock()
	t.seq++
	id := t.seq
	if prev, ok := t.active[key]; ok {
		prev.cancel(ErrSuperseded)
	}
	t.active[key] = entry{id: id, cancel: cancel}
	t.mu.Unlock()

	return ctx, func() {
		t.mu.Lock()
		if current, ok := t.active[key]; ok && current.id == id {
			delete(t.active, key)
		}
		t.mu.Unlock()
		cancel(nil)
	}
}

// Active возвращает число ключей с незавершенным расчетом.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.active)
}

// Superseded сообщает, был ли контекст отменен более новым запросом.
func Superseded(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrSuperseded)
}
