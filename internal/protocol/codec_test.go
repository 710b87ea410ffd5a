package protocol

import (
	"encoding/json"
	"testing"

	"github.com/annel0/arena/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMove(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"move","data":{"playerId":"player_1","targetX":0,"targetY":-12.5}}`))
	require.NoError(t, err)

	move, ok := msg.(Move)
	require.True(t, ok)
	assert.Equal(t, MsgMove, move.Type())
	assert.Equal(t, "player_1", move.PlayerID)
	assert.Equal(t, 0.0, move.TargetX)
	assert.Equal(t, -12.5, move.TargetY)
}

func TestParseConsume(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"consume","data":{"playerId":"player_1","targetId":"food_2","targetType":"food"}}`))
	require.NoError(t, err)

	consume, ok := msg.(Consume)
	require.True(t, ok)
	assert.Equal(t, "player_1", consume.PlayerID)
	assert.Equal(t, game.FoodTarget("food_2"), consume.Target)
}

func TestParsePingKeepsTimestamp(t *testing.T) {
	for _, ts := range []string{`1712345678901`, `1.5e3`, `"2024-01-01T00:00:00Z"`} {
		msg, err := Parse([]byte(`{"type":"ping","data":{"timestamp":` + ts + `}}`))
		require.NoError(t, err, ts)

		ping, ok := msg.(Ping)
		require.True(t, ok)

		frame, err := Encode(MsgPong, Pong{Timestamp: ping.Timestamp})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"pong","data":{"timestamp":`+ts+`}}`, string(frame))
		assert.Contains(t, string(frame), ts, "timestamp возвращается байт в байт")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	frames := map[string]string{
		"not json":         `{"type":`,
		"no type":          `{"data":{}}`,
		"unknown type":     `{"type":"teleport","data":{}}`,
		"move no data":     `{"type":"move"}`,
		"move no target":   `{"type":"move","data":{"playerId":"p"}}`,
		"move bad x":       `{"type":"move","data":{"playerId":"p","targetX":"left","targetY":1}}`,
		"consume bad kind": `{"type":"consume","data":{"playerId":"p","targetId":"t","targetType":"wall"}}`,
		"consume no id":    `{"type":"consume","data":{"playerId":"p","targetType":"food"}}`,
		"ping no ts":       `{"type":"ping","data":{}}`,
		"ping null ts":     `{"type":"ping","data":{"timestamp":null}}`,
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(frame))
			assert.ErrorIs(t, err, ErrMalformedMessage)
			assert.Equal(t, "Invalid message format", ErrorMessage(err))
		})
	}
}

func TestParseConsumeBadKindKeepsCause(t *testing.T) {
	_, err := Parse([]byte(`{"type":"consume","data":{"playerId":"p","targetId":"t","targetType":"wall"}}`))
	assert.ErrorIs(t, err, game.ErrInvalidTargetKind)
}

func TestEncodeGameState(t *testing.T) {
	snap := game.Snapshot{
		Players: []game.Player{{ID: "player_1", Name: "a", Mass: 10, IsAlive: true}},
		Food:    []game.Food{},
		Config:  game.DefaultGameConfig(),
	}

	frame, err := EncodeGameState(snap)
	require.NoError(t, err)

	var env struct {
		Type string `json:"type"`
		Data struct {
			Players   []map[string]interface{} `json:"players"`
			Food      []interface{}            `json:"food"`
			GameState map[string]interface{}   `json:"gameState"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "game_state", env.Type)
	require.Len(t, env.Data.Players, 1)
	assert.Equal(t, true, env.Data.Players[0]["is_alive"])
	assert.NotNil(t, env.Data.Food)
	assert.Equal(t, 2000.0, env.Data.GameState["map_width"])
}

func TestNewPlayerConsumed(t *testing.T) {
	res := game.ConsumeResult{
		Consumer:   game.Player{ID: "player_a", Mass: 25},
		Target:     game.PlayerTarget("player_b"),
		MassGained: 5,
	}

	frame, err := Encode(MsgPlayerConsumed, NewPlayerConsumed(res))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"player_consumed","data":{"consumerId":"player_a","consumedId":"player_b","newMass":25,"targetType":"player"}}`, string(frame))
}

func TestErrorMessage(t *testing.T) {
	frame, err := EncodeError(ErrorMessage(game.ErrInsufficientMass))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","data":{"message":"Player not large enough to consume target"}}`, string(frame))
}

func TestClientEncodersRoundTrip(t *testing.T) {
	frame, err := EncodeMove("player_1", 12.5, 40)
	require.NoError(t, err)
	msg, err := Parse(frame)
	require.NoError(t, err)
	assert.Equal(t, Move{PlayerID: "player_1", TargetX: 12.5, TargetY: 40}, msg)

	frame, err = EncodeConsume("player_1", game.PlayerTarget("player_2"))
	require.NoError(t, err)
	msg, err = Parse(frame)
	require.NoError(t, err)
	assert.Equal(t, Consume{PlayerID: "player_1", Target: game.PlayerTarget("player_2")}, msg)

	frame, err = EncodePing(int64(1712345678901))
	require.NoError(t, err)
	msg, err = Parse(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `1712345678901`, string(msg.(Ping).Timestamp))
}
