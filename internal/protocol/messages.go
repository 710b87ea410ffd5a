package protocol

import (
	"encoding/json"

	"github.com/annel0/arena/internal/game"
)

// MsgType тип сообщения протокола (поле "type" конверта)
type MsgType string

// Входящие сообщения клиента
const (
	MsgMove    MsgType = "move"
	MsgConsume MsgType = "consume"
	MsgPing    MsgType = "ping"
)

// Исходящие сообщения сервера
const (
	MsgGameState      MsgType = "game_state"
	MsgPlayerConsumed MsgType = "player_consumed"
	MsgPlayerDied     MsgType = "player_died"
	MsgFoodSpawned    MsgType = "food_spawned"
	MsgError          MsgType = "error"
	MsgPong           MsgType = "pong"
)

// Envelope конверт любого сообщения: {"type": "...", "data": {...}}
type Envelope struct {
	Type MsgType         `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientMessage разобранное входящее сообщение
type ClientMessage interface {
	Type() MsgType
}

// Move перемещает игрока в точку (без проверки скорости)
type Move struct {
	PlayerID string
	TargetX  float64
	TargetY  float64
}

func (Move) Type() MsgType { return MsgMove }

// Consume запрос на поглощение цели
type Consume struct {
	PlayerID string
	Target   game.Target
}

func (Consume) Type() MsgType { return MsgConsume }

// Ping проверка связи. Timestamp возвращается в pong без изменений.
type Ping struct {
	Timestamp json.RawMessage
}

func (Ping) Type() MsgType { return MsgPing }

// PlayerConsumed рассылается всем после успешного поглощения
type PlayerConsumed struct {
	ConsumerID string          `json:"consumerId"`
	ConsumedID string          `json:"consumedId"`
	NewMass    float64         `json:"newMass"`
	TargetType game.TargetKind `json:"targetType"`
}

// PlayerDied рассылается, когда соединение игрока закрылось
type PlayerDied struct {
	PlayerID string `json:"playerId"`
}

// FoodSpawned несёт весь текущий список еды и только что созданную пачку
type FoodSpawned struct {
	Food    []game.Food `json:"food"`
	Spawned []game.Food `json:"spawned"`
}

// Error ответ отправителю при ошибке
type Error struct {
	Message string `json:"message"`
}

// Pong ответ на ping
type Pong struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

// NewPlayerConsumed собирает событие из результата поглощения
func NewPlayerConsumed(res game.ConsumeResult) PlayerConsumed {
	return PlayerConsumed{
		ConsumerID: res.Consumer.ID,
		ConsumedID: res.Target.ID,
		NewMass:    res.Consumer.Mass,
		TargetType: res.Target.Kind,
	}
}
