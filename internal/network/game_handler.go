package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/arena/internal/eventbus"
	"github.com/annel0/arena/internal/game"
	"github.com/annel0/arena/internal/logging"
	"github.com/annel0/arena/internal/protocol"
	"github.com/annel0/arena/internal/world"
)

// MessageHandler определяет интерфейс обработки соединений для транспортов.
// ctx: контекст сервера, а не соединения: операции, начатые клиентом,
// завершаются даже если он успел отключиться.
type MessageHandler interface {
	OnClientConnect(ctx context.Context, c Conn) error
	HandleMessage(ctx context.Context, c Conn, frame []byte)
	OnClientDisconnect(ctx context.Context, c Conn)
}

// GameHandler маршрутизирует сообщения клиентов в EntityStore и Arbiter
// и рассылает результаты через Registry.
type GameHandler struct {
	store    *world.EntityStore
	arbiter  *world.Arbiter
	registry *Registry
	metrics  *Metrics
	log      *logging.Logger
}

// NewGameHandler создаёт обработчик игровых сообщений
func NewGameHandler(store *world.EntityStore, arbiter *world.Arbiter, registry *Registry, metrics *Metrics) *GameHandler {
	return &GameHandler{
		store:    store,
		arbiter:  arbiter,
		registry: registry,
		metrics:  metrics,
		log:      logging.GetNetworkLogger(),
	}
}

// Registry возвращает реестр соединений
func (gh *GameHandler) Registry() *Registry {
	return gh.registry
}

// OnClientConnect регистрирует соединение и сразу отправляет ему полный снимок мира
func (gh *GameHandler) OnClientConnect(ctx context.Context, c Conn) error {
	if err := gh.registry.Add(c); err != nil {
		return err
	}

	snap, err := gh.store.Snapshot(ctx)
	if err != nil {
		gh.registry.Remove(c.ID())
		return fmt.Errorf("initial snapshot: %w", err)
	}
	frame, err := protocol.EncodeGameState(snap)
	if err != nil {
		gh.registry.Remove(c.ID())
		return err
	}
	if err := gh.registry.Send(c.ID(), frame); err != nil {
		gh.log.Warn("⚠️ Не удалось отправить начальный снимок %s: %v", c.ID(), err)
	}

	gh.registry.MarkOpen(c.ID())
	gh.log.Info("🔗 Клиент подключен: %s (%s)", c.ID(), c.RemoteAddr())
	return nil
}

// OnClientDisconnect удаляет соединение и сообщает остальным об уходе игрока.
// Игрок в хранилище не помечается мёртвым: закрытие сокета не игровая смерть.
func (gh *GameHandler) OnClientDisconnect(ctx context.Context, c Conn) {
	info, ok := gh.registry.Remove(c.ID())
	if !ok {
		return
	}
	gh.log.Info("👋 Клиент отключен: %s", c.ID())

	if info.PlayerID == "" {
		return
	}

	frame, err := protocol.Encode(protocol.MsgPlayerDied, protocol.PlayerDied{PlayerID: info.PlayerID})
	if err != nil {
		gh.log.Error("❌ %v", err)
		return
	}
	gh.broadcast(protocol.MsgPlayerDied, frame)
	eventbus.Emit(ctx, eventbus.EventPlayerLeft, 1, map[string]string{"playerId": info.PlayerID, "connectionId": c.ID()})
}

// HandleMessage разбирает кадр и выполняет команду.
// Ошибки разбора и игровых правил возвращаются только отправителю.
func (gh *GameHandler) HandleMessage(ctx context.Context, c Conn, frame []byte) {
	msg, err := protocol.Parse(frame)
	if err != nil {
		gh.metrics.reject("malformed")
		gh.log.Warn("⚠️ Некорректное сообщение от %s: %v", c.ID(), err)
		gh.replyError(c, err)
		return
	}
	gh.metrics.message(string(msg.Type()))

	switch m := msg.(type) {
	case protocol.Move:
		gh.handleMove(ctx, c, m)
	case protocol.Consume:
		gh.handleConsume(ctx, c, m)
	case protocol.Ping:
		gh.handlePing(c, m)
	}
}

// Соединение привязывается к игроку только после того, как хранилище подтвердило его id
func (gh *GameHandler) handleMove(ctx context.Context, c Conn, m protocol.Move) {
	if _, err := gh.store.UpdatePosition(ctx, m.PlayerID, m.TargetX, m.TargetY); err != nil {
		gh.metrics.reject("move")
		gh.log.Warn("⚠️ move от %s отклонён: %v", c.ID(), err)
		gh.replyError(c, err)
		return
	}
	gh.registry.Bind(c.ID(), m.PlayerID)
}

func (gh *GameHandler) handleConsume(ctx context.Context, c Conn, m protocol.Consume) {
	res, err := gh.arbiter.Consume(ctx, m.PlayerID, m.Target)
	if !errors.Is(err, game.ErrConsumerNotFound) && !errors.Is(err, game.ErrInvalidTargetKind) {
		// Поглотитель существует и жив, даже если цель не подошла
		gh.registry.Bind(c.ID(), m.PlayerID)
	}
	if err != nil {
		gh.metrics.consumption(string(m.Target.Kind), consumeOutcome(err))
		gh.log.Warn("⚠️ consume %s → %s отклонён: %v", m.PlayerID, m.Target, err)
		gh.replyError(c, err)
		return
	}

	gh.metrics.consumption(string(m.Target.Kind), "ok")
	gh.AnnounceConsumption(res)
}

func (gh *GameHandler) handlePing(c Conn, m protocol.Ping) {
	gh.registry.Touch(c.ID())
	gh.reply(c, protocol.MsgPong, protocol.Pong{Timestamp: m.Timestamp})
}

// AnnounceConsumption рассылает player_consumed всем соединениям
func (gh *GameHandler) AnnounceConsumption(res game.ConsumeResult) {
	frame, err := protocol.Encode(protocol.MsgPlayerConsumed, protocol.NewPlayerConsumed(res))
	if err != nil {
		gh.log.Error("❌ %v", err)
		return
	}
	gh.broadcast(protocol.MsgPlayerConsumed, frame)
}

// AnnounceFoodSpawned рассылает food_spawned с полным списком еды и новой пачкой
func (gh *GameHandler) AnnounceFoodSpawned(ctx context.Context, batch []game.Food) error {
	gh.metrics.spawned(len(batch))

	all, err := gh.store.ListFood(ctx)
	if err != nil {
		return err
	}
	frame, err := protocol.Encode(protocol.MsgFoodSpawned, protocol.FoodSpawned{Food: all, Spawned: batch})
	if err != nil {
		return err
	}
	gh.broadcast(protocol.MsgFoodSpawned, frame)
	return nil
}

// BroadcastSnapshot читает снимок мира и рассылает его как game_state
func (gh *GameHandler) BroadcastSnapshot(ctx context.Context) (game.Snapshot, error) {
	snap, err := gh.store.Snapshot(ctx)
	if err != nil {
		return game.Snapshot{}, err
	}
	frame, err := protocol.EncodeGameState(snap)
	if err != nil {
		return game.Snapshot{}, err
	}
	gh.broadcast(protocol.MsgGameState, frame)
	return snap, nil
}

func (gh *GameHandler) broadcast(t protocol.MsgType, frame []byte) {
	started := time.Now()
	gh.registry.Broadcast(frame)
	gh.metrics.observeBroadcast(string(t), started)
}

func (gh *GameHandler) reply(c Conn, t protocol.MsgType, payload interface{}) {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		gh.log.Error("❌ %v", err)
		return
	}
	if err := gh.registry.Send(c.ID(), frame); err != nil {
		gh.log.Debug("Ответ %s для %s не доставлен: %v", t, c.ID(), err)
	}
}

func (gh *GameHandler) replyError(c Conn, err error) {
	gh.reply(c, protocol.MsgError, protocol.Error{Message: protocol.ErrorMessage(err)})
}

func consumeOutcome(err error) string {
	switch {
	case errors.Is(err, game.ErrConsumerNotFound):
		return "consumer_not_found"
	case errors.Is(err, game.ErrTargetNotFound):
		return "target_not_found"
	case errors.Is(err, game.ErrTargetNotAlive):
		return "target_not_alive"
	case errors.Is(err, game.ErrInsufficientMass):
		return "insufficient_mass"
	default:
		return "error"
	}
}
