package world

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/annel0/arena/internal/eventbus"
	"github.com/annel0/arena/internal/game"
	"github.com/annel0/arena/internal/logging"
	"github.com/annel0/arena/internal/storage"
	"github.com/google/uuid"
)

// Rules игровые константы мира
type Rules struct {
	StartMass float64         // масса нового игрока
	FoodMass  float64         // масса одной частицы еды
	Defaults  game.GameConfig // конфигурация, с которой инициализируется мир
}

// DefaultRules возвращает стандартные правила
func DefaultRules() Rules {
	return Rules{
		StartMass: game.DefaultStartMass,
		FoodMass:  game.DefaultFoodMass,
		Defaults:  game.DefaultGameConfig(),
	}
}

// EntityStore владеет каноническим состоянием мира: игроками, едой и конфигурацией.
// Все изменения одной сущности сериализуются через KeyedLocker.
type EntityStore struct {
	repo  storage.Repository
	locks *KeyedLocker
	rules Rules
	log   *logging.Logger

	joinMu sync.Mutex // проверка max_players и создание игрока

	rngMu sync.Mutex
	rng   *rand.Rand

	configMu sync.RWMutex
	config   *game.GameConfig

	now func() time.Time
}

// NewEntityStore создаёт хранилище поверх репозитория
func NewEntityStore(repo storage.Repository, rules Rules) *EntityStore {
	if rules.StartMass <= 0 {
		rules.StartMass = game.DefaultStartMass
	}
	if rules.FoodMass <= 0 {
		rules.FoodMass = game.DefaultFoodMass
	}
	if rules.Defaults.ID == "" {
		rules.Defaults.ID = game.DefaultConfigID
	}

	return &EntityStore{
		repo:  repo,
		locks: NewKeyedLocker(),
		rules: rules,
		log:   logging.GetWorldLogger(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:   time.Now,
	}
}

// Rules возвращает правила мира
func (s *EntityStore) Rules() Rules {
	return s.rules
}

// InitConfig создаёт конфигурацию мира, если её ещё нет.
// Повторный вызов возвращает уже существующую запись.
func (s *EntityStore) InitConfig(ctx context.Context) (game.GameConfig, error) {
	now := s.now()
	cfg := s.rules.Defaults
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	stored, err := s.repo.PutConfigIfAbsent(ctx, cfg)
	if err != nil {
		return game.GameConfig{}, fmt.Errorf("init game config: %w", err)
	}

	s.configMu.Lock()
	s.config = &stored
	s.configMu.Unlock()
	return stored, nil
}

// Config возвращает конфигурацию мира, инициализируя её при первом обращении
func (s *EntityStore) Config(ctx context.Context) (game.GameConfig, error) {
	s.configMu.RLock()
	cached := s.config
	s.configMu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	cfg, found, err := s.repo.GetConfig(ctx)
	if err != nil {
		return game.GameConfig{}, fmt.Errorf("get game config: %w", err)
	}
	if !found {
		return s.InitConfig(ctx)
	}

	s.configMu.Lock()
	s.config = &cfg
	s.configMu.Unlock()
	return cfg, nil
}

// CreatePlayer создаёт живого игрока со стартовой массой.
// Если pos == nil, позиция выбирается случайно в пределах карты.
func (s *EntityStore) CreatePlayer(ctx context.Context, name string, pos *game.Vec2) (game.Player, error) {
	if err := game.ValidateName(name); err != nil {
		return game.Player{}, err
	}

	cfg, err := s.Config(ctx)
	if err != nil {
		return game.Player{}, err
	}

	p, err := s.admitPlayer(ctx, cfg, name, pos)
	if err != nil {
		return game.Player{}, err
	}

	s.log.Info("🎮 Игрок %s (%s) вошёл в мир в (%.1f, %.1f)", p.Name, p.ID, p.X, p.Y)
	eventbus.Emit(ctx, eventbus.EventPlayerJoined, 1, p)
	return p, nil
}

// admitPlayer проверяет лимит и записывает игрока под joinMu
func (s *EntityStore) admitPlayer(ctx context.Context, cfg game.GameConfig, name string, pos *game.Vec2) (game.Player, error) {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	if cfg.MaxPlayers > 0 {
		alive, err := s.countAlive(ctx)
		if err != nil {
			return game.Player{}, err
		}
		if alive >= cfg.MaxPlayers {
			return game.Player{}, fmt.Errorf("%w: %d/%d players", game.ErrWorldFull, alive, cfg.MaxPlayers)
		}
	}

	position := s.randomPosition(cfg)
	if pos != nil {
		position = *pos
	}

	now := s.now()
	p := game.Player{
		ID:        "player_" + uuid.NewString(),
		Name:      name,
		X:         position.X,
		Y:         position.Y,
		Mass:      s.rules.StartMass,
		Color:     s.pickColor(game.PlayerColors),
		IsAlive:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.PutPlayer(ctx, p); err != nil {
		return game.Player{}, fmt.Errorf("create player: %w", err)
	}
	return p, nil
}

// SpawnFood создаёт пачку еды в случайных точках карты
func (s *EntityStore) SpawnFood(ctx context.Context, count int) ([]game.Food, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: %d", game.ErrInvalidCount, count)
	}

	cfg, err := s.Config(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	batch := make([]game.Food, count)
	for i := range batch {
		pos := s.randomPosition(cfg)
		batch[i] = game.Food{
			ID:        "food_" + uuid.NewString(),
			X:         pos.X,
			Y:         pos.Y,
			Mass:      s.rules.FoodMass,
			Color:     s.pickColor(game.FoodColors),
			CreatedAt: now,
		}
	}

	if err := s.repo.PutFood(ctx, batch...); err != nil {
		return nil, fmt.Errorf("spawn food: %w", err)
	}

	s.log.Trace("🍎 Создано %d частиц еды", count)
	eventbus.Emit(ctx, eventbus.EventFoodSpawned, 0, batch)
	return batch, nil
}

// GetPlayer возвращает игрока или ошибку, оборачивающую game.ErrNotFound
func (s *EntityStore) GetPlayer(ctx context.Context, id string) (game.Player, error) {
	p, found, err := s.repo.GetPlayer(ctx, id)
	if err != nil {
		return game.Player{}, fmt.Errorf("get player %s: %w", id, err)
	}
	if !found {
		return game.Player{}, fmt.Errorf("player %s: %w", id, game.ErrNotFound)
	}
	return p, nil
}

// ListPlayers возвращает всех игроков (живых и мёртвых) в порядке создания
func (s *EntityStore) ListPlayers(ctx context.Context) ([]game.Player, error) {
	players, err := s.repo.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	if players == nil {
		players = []game.Player{}
	}
	return players, nil
}

// GetFood возвращает частицу еды или ошибку, оборачивающую game.ErrNotFound
func (s *EntityStore) GetFood(ctx context.Context, id string) (game.Food, error) {
	f, found, err := s.repo.GetFood(ctx, id)
	if err != nil {
		return game.Food{}, fmt.Errorf("get food %s: %w", id, err)
	}
	if !found {
		return game.Food{}, fmt.Errorf("food %s: %w", id, game.ErrNotFound)
	}
	return f, nil
}

// ListFood возвращает всю еду в порядке создания
func (s *EntityStore) ListFood(ctx context.Context) ([]game.Food, error) {
	food, err := s.repo.ListFood(ctx)
	if err != nil {
		return nil, fmt.Errorf("list food: %w", err)
	}
	if food == nil {
		food = []game.Food{}
	}
	return food, nil
}

// UpdatePosition перемещает игрока без проверки скорости и границ
func (s *EntityStore) UpdatePosition(ctx context.Context, id string, x, y float64) (game.Player, error) {
	unlock := s.locks.Lock(playerLockKey(id))
	defer unlock()

	p, err := s.GetPlayer(ctx, id)
	if err != nil {
		return game.Player{}, err
	}

	p.X = x
	p.Y = y
	p.UpdatedAt = s.now()

	if err := s.repo.PutPlayer(ctx, p); err != nil {
		return game.Player{}, fmt.Errorf("update position %s: %w", id, err)
	}
	return p, nil
}

// DeletePlayer удаляет игрока. Удаление неизвестного id ничего не делает.
func (s *EntityStore) DeletePlayer(ctx context.Context, id string) error {
	removed, err := s.removePlayer(ctx, id)
	if err != nil || !removed {
		return err
	}

	s.log.Debug("🗑️ Игрок %s удалён", id)
	eventbus.Emit(ctx, eventbus.EventPlayerRemoved, 1, map[string]string{"playerId": id})
	return nil
}

func (s *EntityStore) removePlayer(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(playerLockKey(id))
	defer unlock()

	_, found, err := s.repo.GetPlayer(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete player %s: %w", id, err)
	}
	if !found {
		return false, nil
	}
	if err := s.repo.DeletePlayer(ctx, id); err != nil {
		return false, fmt.Errorf("delete player %s: %w", id, err)
	}
	return true, nil
}

// Snapshot читает полную копию мира
func (s *EntityStore) Snapshot(ctx context.Context) (game.Snapshot, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return game.Snapshot{}, err
	}
	players, err := s.ListPlayers(ctx)
	if err != nil {
		return game.Snapshot{}, err
	}
	food, err := s.ListFood(ctx)
	if err != nil {
		return game.Snapshot{}, err
	}
	return game.Snapshot{Players: players, Food: food, Config: cfg}, nil
}

// SweepDead удаляет перечисленных игроков, если они всё ещё мертвы.
// Вызывается после того, как мёртвые игроки попали хотя бы в один снимок.
func (s *EntityStore) SweepDead(ctx context.Context, ids []string) (int, error) {
	removed := 0
	for _, id := range ids {
		ok, err := s.removeIfDead(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	if removed > 0 {
		s.log.Debug("🧹 Удалено мёртвых игроков: %d", removed)
	}
	return removed, nil
}

func (s *EntityStore) removeIfDead(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(playerLockKey(id))
	defer unlock()

	p, found, err := s.repo.GetPlayer(ctx, id)
	if err != nil {
		return false, fmt.Errorf("sweep %s: %w", id, err)
	}
	if !found || p.IsAlive {
		return false, nil
	}
	if err := s.repo.DeletePlayer(ctx, id); err != nil {
		return false, fmt.Errorf("sweep %s: %w", id, err)
	}
	return true, nil
}

func (s *EntityStore) countAlive(ctx context.Context) (int, error) {
	players, err := s.repo.ListPlayers(ctx)
	if err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	alive := 0
	for _, p := range players {
		if p.IsAlive {
			alive++
		}
	}
	return alive, nil
}

func (s *EntityStore) randomPosition(cfg game.GameConfig) game.Vec2 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return game.Vec2{
		X: s.rng.Float64() * cfg.MapWidth,
		Y: s.rng.Float64() * cfg.MapHeight,
	}
}

func (s *EntityStore) pickColor(palette []string) string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return palette[s.rng.Intn(len(palette))]
}
