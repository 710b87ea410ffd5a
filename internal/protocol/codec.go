package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/annel0/arena/internal/game"
)

// ErrMalformedMessage входящее сообщение не прошло проверку схемы
var ErrMalformedMessage = errors.New("malformed message")

// Поля входящих сообщений. Указатели отличают отсутствующее поле от нулевого.
type moveData struct {
	PlayerID *string  `json:"playerId"`
	TargetX  *float64 `json:"targetX"`
	TargetY  *float64 `json:"targetY"`
}

type consumeData struct {
	PlayerID   *string `json:"playerId"`
	TargetID   *string `json:"targetId"`
	TargetType *string `json:"targetType"`
}

type pingData struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

// Parse разбирает входящий кадр в типизированное сообщение.
// Любая ошибка оборачивает ErrMalformedMessage.
func Parse(frame []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case MsgMove:
		var d moveData
		if err := decodeData(env.Data, &d); err != nil {
			return nil, err
		}
		if d.PlayerID == nil || *d.PlayerID == "" || d.TargetX == nil || d.TargetY == nil {
			return nil, fmt.Errorf("%w: move requires playerId, targetX, targetY", ErrMalformedMessage)
		}
		return Move{PlayerID: *d.PlayerID, TargetX: *d.TargetX, TargetY: *d.TargetY}, nil

	case MsgConsume:
		var d consumeData
		if err := decodeData(env.Data, &d); err != nil {
			return nil, err
		}
		if d.PlayerID == nil || *d.PlayerID == "" || d.TargetID == nil || *d.TargetID == "" || d.TargetType == nil {
			return nil, fmt.Errorf("%w: consume requires playerId, targetId, targetType", ErrMalformedMessage)
		}
		kind, err := game.ParseTargetKind(*d.TargetType)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		return Consume{PlayerID: *d.PlayerID, Target: game.Target{Kind: kind, ID: *d.TargetID}}, nil

	case MsgPing:
		var d pingData
		if err := decodeData(env.Data, &d); err != nil {
			return nil, err
		}
		if len(d.Timestamp) == 0 || bytes.Equal(d.Timestamp, []byte("null")) {
			return nil, fmt.Errorf("%w: ping requires timestamp", ErrMalformedMessage)
		}
		return Ping{Timestamp: d.Timestamp}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, env.Type)
	}
}

func decodeData(data json.RawMessage, out interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformedMessage)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

// Encode упаковывает полезную нагрузку в конверт и сериализует его
func Encode(t MsgType, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации %s: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}

// EncodeGameState сериализует полный снимок мира
func EncodeGameState(snap game.Snapshot) ([]byte, error) {
	return Encode(MsgGameState, snap)
}

// EncodeError сериализует ошибку для отправителя
func EncodeError(message string) ([]byte, error) {
	return Encode(MsgError, Error{Message: message})
}

// ErrorMessage возвращает сообщение для клиента по ошибке разбора или игровой ошибке
func ErrorMessage(err error) string {
	if errors.Is(err, ErrMalformedMessage) {
		return "Invalid message format"
	}
	return game.ErrorMessage(err)
}

// EncodeMove сериализует move со стороны клиента
func EncodeMove(playerID string, x, y float64) ([]byte, error) {
	return Encode(MsgMove, moveData{PlayerID: &playerID, TargetX: &x, TargetY: &y})
}

// EncodeConsume сериализует consume со стороны клиента
func EncodeConsume(playerID string, target game.Target) ([]byte, error) {
	kind := string(target.Kind)
	return Encode(MsgConsume, consumeData{PlayerID: &playerID, TargetID: &target.ID, TargetType: &kind})
}

// EncodePing сериализует ping с произвольной меткой времени
func EncodePing(timestamp interface{}) ([]byte, error) {
	ts, err := json.Marshal(timestamp)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации timestamp: %w", err)
	}
	return Encode(MsgPing, pingData{Timestamp: ts})
}
