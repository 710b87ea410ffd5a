package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/arena/internal/logging"
)

// PublishTimeout ограничивает ожидание Emit при заполненной шине или медленном брокере
var PublishTimeout = 2 * time.Second

var (
	globalMu  sync.RWMutex
	globalBus EventBus
)

// Init устанавливает глобальную шину. nil отключает публикацию.
func Init(bus EventBus) {
	globalMu.Lock()
	globalBus = bus
	globalMu.Unlock()
}

// Default возвращает глобальную шину или nil.
func Default() EventBus {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalBus
}

// Publish отправляет событие в глобальную шину, если она инициализирована.
func Publish(ctx context.Context, ev *Envelope) error {
	bus := Default()
	if bus == nil {
		return nil
	}
	return bus.Publish(ctx, ev)
}

// Emit упаковывает payload в Envelope и публикует его в глобальную шину.
// Ошибки только логируются: игровые операции не зависят от доставки событий.
func Emit(ctx context.Context, eventType string, priority int, payload interface{}) {
	if Default() == nil {
		return
	}

	ev, err := NewEnvelope(eventType, priority, payload)
	if err != nil {
		logging.GetEventBusLogger().Warn("⚠️ EventBus: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()
	if err := Publish(ctx, ev); err != nil {
		logging.GetEventBusLogger().Warn("⚠️ EventBus: не удалось опубликовать %s: %v", eventType, err)
	}
}
