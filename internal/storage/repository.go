package storage

import (
	"context"
	"errors"

	"github.com/annel0/arena/internal/game"
)

// ErrConflict возвращается CommitConsumption, если цель исчезла или умерла
// между проверкой и фиксацией (например, её изменил другой процесс).
var ErrConflict = errors.New("storage: consumption target changed concurrently")

// Repository определяет ключ-адресуемое хранилище сущностей арены.
// Игровые правила здесь не проверяются: этим занимается world.EntityStore.
type Repository interface {
	// PutPlayer создаёт или перезаписывает игрока.
	PutPlayer(ctx context.Context, p game.Player) error

	// GetPlayer возвращает игрока; bool == false если id неизвестен.
	GetPlayer(ctx context.Context, id string) (game.Player, bool, error)

	// DeletePlayer удаляет игрока. Удаление неизвестного id: не ошибка.
	DeletePlayer(ctx context.Context, id string) error

	// ListPlayers возвращает всех игроков в порядке создания.
	ListPlayers(ctx context.Context) ([]game.Player, error)

	// PutFood сохраняет пачку еды.
	PutFood(ctx context.Context, food ...game.Food) error

	// GetFood возвращает частицу еды; bool == false если id неизвестен.
	GetFood(ctx context.Context, id string) (game.Food, bool, error)

	// ListFood возвращает всю еду в порядке создания.
	ListFood(ctx context.Context) ([]game.Food, error)

	// GetConfig возвращает конфигурацию мира; bool == false если мир не инициализирован.
	GetConfig(ctx context.Context) (game.GameConfig, bool, error)

	// PutConfigIfAbsent сохраняет конфигурацию, только если её ещё нет.
	// Возвращает ту конфигурацию, которая оказалась в хранилище.
	PutConfigIfAbsent(ctx context.Context, cfg game.GameConfig) (game.GameConfig, error)

	// CommitConsumption атомарно применяет итог поглощения.
	CommitConsumption(ctx context.Context, c Consumption) error

	// Close закрывает хранилище.
	Close() error
}

// Consumption итог поглощения, который нужно записать одной атомарной операцией:
// обновить поглотителя и удалить еду либо записать мёртвого игрока.
type Consumption struct {
	Consumer game.Player
	Target   game.Target
	// Victim обновлённое (мёртвое) состояние цели, если Target.Kind == game.TargetPlayer
	Victim *game.Player
}
