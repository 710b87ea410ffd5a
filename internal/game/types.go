package game

import (
	"fmt"
	"time"
)

// Значения по умолчанию для нового мира
const (
	DefaultConfigID      = "default"
	DefaultMapWidth      = 2000.0
	DefaultMapHeight     = 2000.0
	DefaultMaxPlayers    = 50
	DefaultFoodSpawnRate = 0.5
	DefaultStartMass     = 10.0
	DefaultFoodMass      = 1.0

	// Ограничения на имя игрока (в символах, не в байтах)
	MinNameLength = 1
	MaxNameLength = 20

	// PlayerMassGainRatio доля массы съеденного игрока, которую получает победитель
	PlayerMassGainRatio = 0.5
)

// Vec2 позиция на карте
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Player представляет игрока, управляющего одной круглой сущностью.
// Масса живого игрока никогда не уменьшается.
type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Mass      float64   `json:"mass"`
	Color     string    `json:"color"`
	IsAlive   bool      `json:"is_alive"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Position возвращает позицию игрока
func (p Player) Position() Vec2 {
	return Vec2{X: p.X, Y: p.Y}
}

// Food частица еды. Уничтожается ровно один раз, вместе с ростом массы съевшего её игрока.
type Food struct {
	ID        string    `json:"id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Mass      float64   `json:"mass"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// GameConfig единственная запись конфигурации мира.
type GameConfig struct {
	ID            string    `json:"id"`
	MapWidth      float64   `json:"map_width"`
	MapHeight     float64   `json:"map_height"`
	MaxPlayers    int       `json:"max_players"`
	FoodSpawnRate float64   `json:"food_spawn_rate"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultGameConfig возвращает конфигурацию мира со стандартными значениями
func DefaultGameConfig() GameConfig {
	return GameConfig{
		ID:            DefaultConfigID,
		MapWidth:      DefaultMapWidth,
		MapHeight:     DefaultMapHeight,
		MaxPlayers:    DefaultMaxPlayers,
		FoodSpawnRate: DefaultFoodSpawnRate,
	}
}

// LeaderboardEntry строка таблицы лидеров. Вычисляется на каждый запрос и нигде не хранится.
type LeaderboardEntry struct {
	PlayerID   string  `json:"player_id"`
	PlayerName string  `json:"player_name"`
	Mass       float64 `json:"mass"`
	Rank       int     `json:"rank"`
}

// TargetKind тип цели поглощения
type TargetKind string

const (
	TargetPlayer TargetKind = "player"
	TargetFood   TargetKind = "food"
)

// ParseTargetKind разбирает тип цели из строки протокола
func ParseTargetKind(s string) (TargetKind, error) {
	switch TargetKind(s) {
	case TargetPlayer:
		return TargetPlayer, nil
	case TargetFood:
		return TargetFood, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTargetKind, s)
	}
}

// Target цель поглощения: тип плюс идентификатор
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// PlayerTarget создаёт цель-игрока
func PlayerTarget(id string) Target {
	return Target{Kind: TargetPlayer, ID: id}
}

// FoodTarget создаёт цель-еду
func FoodTarget(id string) Target {
	return Target{Kind: TargetFood, ID: id}
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%s", t.Kind, t.ID)
}

// ConsumeResult итог успешного поглощения
type ConsumeResult struct {
	Consumer   Player  // состояние поглотителя после поглощения
	Target     Target  // что было поглощено
	MassGained float64 // прирост массы
}

// Snapshot полная копия мира на момент чтения
type Snapshot struct {
	Players []Player   `json:"players"`
	Food    []Food     `json:"food"`
	Config  GameConfig `json:"gameState"`
}

// DeadPlayerIDs возвращает идентификаторы мёртвых игроков, попавших в снимок
func (s Snapshot) DeadPlayerIDs() []string {
	var ids []string
	for _, p := range s.Players {
		if !p.IsAlive {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
