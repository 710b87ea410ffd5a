package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/arena/internal/game"
)

// MemoryRepository реализует Repository в памяти процесса.
// Бэкенд по умолчанию; данные теряются при перезапуске.
type MemoryRepository struct {
	mu sync.RWMutex

	players     map[string]game.Player
	playerOrder []string
	food        map[string]game.Food
	foodOrder   []string
	config      *game.GameConfig
}

// NewMemoryRepository создаёт пустое хранилище в памяти
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		players: make(map[string]game.Player),
		food:    make(map[string]game.Food),
	}
}

// checkCtx проверяет контекст на отмену
func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (r *MemoryRepository) PutPlayer(ctx context.Context, p game.Player) error {
	if p.ID == "" {
		return fmt.Errorf("недействительный id игрока")
	}
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.players[p.ID]; !exists {
		r.playerOrder = append(r.playerOrder, p.ID)
	}
	r.players[p.ID] = p
	return nil
}

func (r *MemoryRepository) GetPlayer(ctx context.Context, id string) (game.Player, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return game.Player{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.players[id]
	return p, ok, nil
}

func (r *MemoryRepository) DeletePlayer(ctx context.Context, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.players[id]; !exists {
		return nil
	}
	delete(r.players, id)
	r.playerOrder = removeID(r.playerOrder, id)
	return nil
}

func (r *MemoryRepository) ListPlayers(ctx context.Context) ([]game.Player, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]game.Player, 0, len(r.playerOrder))
	for _, id := range r.playerOrder {
		result = append(result, r.players[id])
	}
	return result, nil
}

func (r *MemoryRepository) PutFood(ctx context.Context, food ...game.Food) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	// Валидация всех записей перед сохранением
	for _, f := range food {
		if f.ID == "" {
			return fmt.Errorf("недействительный id еды в batch")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range food {
		if _, exists := r.food[f.ID]; !exists {
			r.foodOrder = append(r.foodOrder, f.ID)
		}
		r.food[f.ID] = f
	}
	return nil
}

func (r *MemoryRepository) GetFood(ctx context.Context, id string) (game.Food, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return game.Food{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.food[id]
	return f, ok, nil
}

func (r *MemoryRepository) ListFood(ctx context.Context) ([]game.Food, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]game.Food, 0, len(r.foodOrder))
	for _, id := range r.foodOrder {
		result = append(result, r.food[id])
	}
	return result, nil
}

func (r *MemoryRepository) GetConfig(ctx context.Context) (game.GameConfig, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return game.GameConfig{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.config == nil {
		return game.GameConfig{}, false, nil
	}
	return *r.config, true, nil
}

func (r *MemoryRepository) PutConfigIfAbsent(ctx context.Context, cfg game.GameConfig) (game.GameConfig, error) {
	if err := checkCtx(ctx); err != nil {
		return game.GameConfig{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config != nil {
		return *r.config, nil
	}
	r.config = &cfg
	return cfg, nil
}

// CommitConsumption применяет итог поглощения под одной блокировкой записи
func (r *MemoryRepository) CommitConsumption(ctx context.Context, c Consumption) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.players[c.Consumer.ID]; !exists {
		return ErrConflict
	}

	switch c.Target.Kind {
	case game.TargetFood:
		if _, exists := r.food[c.Target.ID]; !exists {
			return ErrConflict
		}
		delete(r.food, c.Target.ID)
		r.foodOrder = removeID(r.foodOrder, c.Target.ID)
	case game.TargetPlayer:
		if c.Victim == nil {
			return fmt.Errorf("отсутствует состояние цели для %s", c.Target)
		}
		current, exists := r.players[c.Target.ID]
		if !exists || !current.IsAlive {
			return ErrConflict
		}
		r.players[c.Target.ID] = *c.Victim
	default:
		return fmt.Errorf("%w: %q", game.ErrInvalidTargetKind, c.Target.Kind)
	}

	r.players[c.Consumer.ID] = c.Consumer
	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}

// Count возвращает количество игроков и еды (для отладки и тестов)
func (r *MemoryRepository) Count() (players, food int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players), len(r.food)
}

// removeID удаляет id из упорядоченного списка, сохраняя порядок
func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
