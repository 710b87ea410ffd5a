package network

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/annel0/arena/internal/logging"
	"github.com/annel0/arena/internal/world"
)

// ErrAlreadyRunning цикл уже запущен
var ErrAlreadyRunning = errors.New("loop already running")

// periodicTask выполняет fn с фиксированным периодом в своей горутине.
// Пропущенные тики не накапливаются: time.Ticker отбрасывает лишние.
type periodicTask struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newPeriodicTask(name string, interval time.Duration, fn func(ctx context.Context)) *periodicTask {
	return &periodicTask{name: name, interval: interval, fn: fn}
}

// Start запускает цикл; он завершается по Stop или отмене ctx
func (t *periodicTask) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.run(ctx, t.done)
	logging.GetNetworkLogger().Info("⏱️ Цикл %s запущен (каждые %v)", t.name, t.interval)
	return nil
}

// Stop останавливает цикл и дожидается завершения горутины. Идемпотентен.
func (t *periodicTask) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logging.GetNetworkLogger().Info("🛑 Цикл %s остановлен", t.name)
}

// Running сообщает, запущен ли цикл
func (t *periodicTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *periodicTask) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fn(ctx)
		}
	}
}

// TickBroadcaster с фиксированной частотой рассылает полный снимок мира.
// После рассылки удаляет мёртвых игроков, попавших в этот снимок.
type TickBroadcaster struct {
	*periodicTask
	handler *GameHandler
	store   *world.EntityStore
	log     *logging.Logger
}

// NewTickBroadcaster создаёт цикл рассылки снимков
func NewTickBroadcaster(handler *GameHandler, store *world.EntityStore, interval time.Duration) *TickBroadcaster {
	tb := &TickBroadcaster{
		handler: handler,
		store:   store,
		log:     logging.GetNetworkLogger(),
	}
	tb.periodicTask = newPeriodicTask("tick-broadcaster", interval, tb.Tick)
	return tb
}

// Tick выполняет одну рассылку
func (tb *TickBroadcaster) Tick(ctx context.Context) {
	snap, err := tb.handler.BroadcastSnapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			tb.log.Error("❌ Ошибка рассылки снимка: %v", err)
		}
		return
	}

	dead := snap.DeadPlayerIDs()
	if len(dead) == 0 {
		return
	}
	if _, err := tb.store.SweepDead(ctx, dead); err != nil && ctx.Err() == nil {
		tb.log.Error("❌ Ошибка удаления мёртвых игроков: %v", err)
	}
}

// SpawnScheduler периодически создаёт пачку еды и объявляет её всем соединениям
type SpawnScheduler struct {
	*periodicTask
	handler *GameHandler
	store   *world.EntityStore
	batch   int
	log     *logging.Logger
}

// NewSpawnScheduler создаёт планировщик появления еды
func NewSpawnScheduler(handler *GameHandler, store *world.EntityStore, interval time.Duration, batch int) *SpawnScheduler {
	if batch < 1 {
		batch = 1
	}
	ss := &SpawnScheduler{
		handler: handler,
		store:   store,
		batch:   batch,
		log:     logging.GetNetworkLogger(),
	}
	ss.periodicTask = newPeriodicTask("spawn-scheduler", interval, ss.Tick)
	return ss
}

// Tick создаёт одну пачку еды
func (ss *SpawnScheduler) Tick(ctx context.Context) {
	batch, err := ss.store.SpawnFood(ctx, ss.batch)
	if err != nil {
		if ctx.Err() == nil {
			ss.log.Error("❌ Ошибка создания еды: %v", err)
		}
		return
	}
	if err := ss.handler.AnnounceFoodSpawned(ctx, batch); err != nil && ctx.Err() == nil {
		ss.log.Error("❌ Ошибка рассылки food_spawned: %v", err)
	}
}
