package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/annel0/arena/internal/client"
	"github.com/annel0/arena/internal/game"
	"github.com/annel0/arena/internal/logging"
	"github.com/annel0/arena/internal/protocol"
)

// bot простой игрок: идёт к ближайшей еде и съедает её, когда дошёл
type bot struct {
	playerID string
	reach    float64

	mu   sync.Mutex
	self game.Player
	food []game.Food
}

func main() {
	wsURL := flag.String("ws", "ws://localhost:7777/ws", "WebSocket адрес сервера")
	restURL := flag.String("rest", "http://localhost:8088", "REST адрес сервера")
	name := flag.String("name", "bot", "имя игрока")
	step := flag.Duration("step", 200*time.Millisecond, "период хода бота")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	player, err := createPlayer(ctx, *restURL, *name)
	if err != nil {
		log.Fatalf("❌ Не удалось создать игрока: %v", err)
	}
	logging.Info("🤖 Бот %s играет за %s", *name, player.ID)

	b := &bot{playerID: player.ID, reach: 15, self: player}
	c := client.New(client.Options{URL: *wsURL}, b.onMessage)

	go b.play(ctx, c, *step)
	if err := c.Run(ctx); err != nil {
		log.Fatalf("❌ %v", err)
	}
	logging.Info("👋 Бот остановлен")
}

func createPlayer(ctx context.Context, restURL, name string) (game.Player, error) {
	body, _ := json.Marshal(map[string]string{"name": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, restURL+"/api/players", bytes.NewReader(body))
	if err != nil {
		return game.Player{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return game.Player{}, err
	}
	defer resp.Body.Close()

	var out struct {
		Success bool        `json:"success"`
		Message string      `json:"message"`
		Data    game.Player `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return game.Player{}, err
	}
	if !out.Success {
		return game.Player{}, fmt.Errorf("%d: %s", resp.StatusCode, out.Message)
	}
	return out.Data, nil
}

func (b *bot) onMessage(env protocol.Envelope) {
	switch env.Type {
	case protocol.MsgGameState:
		var snap game.Snapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return
		}
		b.mu.Lock()
		b.food = snap.Food
		for _, p := range snap.Players {
			if p.ID == b.playerID {
				b.self = p
			}
		}
		b.mu.Unlock()

	case protocol.MsgPlayerDied:
		var d protocol.PlayerDied
		if err := json.Unmarshal(env.Data, &d); err == nil && d.PlayerID == b.playerID {
			logging.Warn("💀 Бот объявлен выбывшим")
		}

	case protocol.MsgError:
		var e protocol.Error
		if err := json.Unmarshal(env.Data, &e); err == nil {
			logging.Debug("Сервер отклонил ход: %s", e.Message)
		}
	}
}

// play каждые step шагает к ближайшей еде
func (b *bot) play(ctx context.Context, c *client.Client, step time.Duration) {
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if c.State() != client.StateConnected {
			continue
		}

		b.mu.Lock()
		self, target, dist, ok := b.nearestFood()
		b.mu.Unlock()
		if !ok || !self.IsAlive {
			continue
		}

		if dist <= b.reach {
			_ = c.Consume(b.playerID, game.FoodTarget(target.ID))
			continue
		}

		// Шаг не длиннее 20 единиц в сторону цели
		k := math.Min(1, 20/dist)
		_ = c.Move(b.playerID, self.X+(target.X-self.X)*k, self.Y+(target.Y-self.Y)*k)
	}
}

func (b *bot) nearestFood() (game.Player, game.Food, float64, bool) {
	best, bestDist := game.Food{}, math.Inf(1)
	for _, f := range b.food {
		if d := math.Hypot(f.X-b.self.X, f.Y-b.self.Y); d < bestDist {
			best, bestDist = f, d
		}
	}
	return b.self, best, bestDist, !math.IsInf(bestDist, 1)
}
