package world

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/arena/internal/eventbus"
	"github.com/annel0/arena/internal/game"
	"github.com/annel0/arena/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Arbiter решает исход поглощения одной сущности другой.
// Проверка условий и запись результата выполняются под блокировками
// поглотителя и цели, так что для одной цели поглощения идут строго по очереди.
type Arbiter struct {
	store  *EntityStore
	tracer trace.Tracer
}

// NewArbiter создаёт арбитра поверх хранилища
func NewArbiter(store *EntityStore) *Arbiter {
	return &Arbiter{
		store:  store,
		tracer: otel.Tracer("github.com/annel0/arena/internal/world"),
	}
}

// Consume пытается поглотить target игроком consumerID.
// Условия проверяются по порядку, первая неудача возвращается:
// ErrConsumerNotFound, ErrTargetNotFound, ErrTargetNotAlive, ErrInsufficientMass.
func (a *Arbiter) Consume(ctx context.Context, consumerID string, target game.Target) (game.ConsumeResult, error) {
	ctx, span := a.tracer.Start(ctx, "Arbiter.Consume", trace.WithAttributes(
		attribute.String("arena.consumer_id", consumerID),
		attribute.String("arena.target_id", target.ID),
		attribute.String("arena.target_type", string(target.Kind)),
	))
	defer span.End()

	result, err := a.consume(ctx, consumerID, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return game.ConsumeResult{}, err
	}

	span.SetAttributes(attribute.Float64("arena.new_mass", result.Consumer.Mass))

	// События публикуются после снятия блокировок: медленная шина не должна держать сущности
	eventbus.Emit(ctx, eventbus.EventPlayerConsumed, 5, result)
	if target.Kind == game.TargetPlayer {
		eventbus.Emit(ctx, eventbus.EventPlayerDied, 5, map[string]string{"playerId": target.ID, "consumerId": consumerID})
	}
	return result, nil
}

func (a *Arbiter) consume(ctx context.Context, consumerID string, target game.Target) (game.ConsumeResult, error) {
	s := a.store

	var targetKey string
	switch target.Kind {
	case game.TargetFood:
		targetKey = foodLockKey(target.ID)
	case game.TargetPlayer:
		targetKey = playerLockKey(target.ID)
	default:
		return game.ConsumeResult{}, fmt.Errorf("%w: %q", game.ErrInvalidTargetKind, target.Kind)
	}

	unlock := s.locks.Lock(playerLockKey(consumerID), targetKey)
	defer unlock()

	consumer, found, err := s.repo.GetPlayer(ctx, consumerID)
	if err != nil {
		return game.ConsumeResult{}, fmt.Errorf("read consumer %s: %w", consumerID, err)
	}
	if !found || !consumer.IsAlive {
		return game.ConsumeResult{}, game.ErrConsumerNotFound
	}

	now := s.now()
	commit := storage.Consumption{Target: target}
	var gained float64

	switch target.Kind {
	case game.TargetFood:
		food, found, err := s.repo.GetFood(ctx, target.ID)
		if err != nil {
			return game.ConsumeResult{}, fmt.Errorf("read food %s: %w", target.ID, err)
		}
		if !found {
			return game.ConsumeResult{}, game.ErrTargetNotFound
		}
		gained = food.Mass

	case game.TargetPlayer:
		victim, found, err := s.repo.GetPlayer(ctx, target.ID)
		if err != nil {
			return game.ConsumeResult{}, fmt.Errorf("read target %s: %w", target.ID, err)
		}
		if !found {
			return game.ConsumeResult{}, game.ErrTargetNotFound
		}
		if !victim.IsAlive {
			return game.ConsumeResult{}, game.ErrTargetNotAlive
		}
		// Равной массы недостаточно; самопоглощение отсекается здесь же
		if consumer.Mass <= victim.Mass {
			return game.ConsumeResult{}, game.ErrInsufficientMass
		}
		gained = victim.Mass * game.PlayerMassGainRatio

		victim.IsAlive = false
		victim.UpdatedAt = now
		commit.Victim = &victim
	}

	consumer.Mass += gained
	consumer.UpdatedAt = now
	commit.Consumer = consumer

	if err := s.repo.CommitConsumption(ctx, commit); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Цель изменил кто-то вне этого процесса
			if target.Kind == game.TargetFood {
				return game.ConsumeResult{}, game.ErrTargetNotFound
			}
			return game.ConsumeResult{}, game.ErrTargetNotAlive
		}
		return game.ConsumeResult{}, fmt.Errorf("commit consumption: %w", err)
	}

	result := game.ConsumeResult{Consumer: consumer, Target: target, MassGained: gained}

	s.log.Debug("🍽️ %s поглотил %s: +%.1f → %.1f", consumer.ID, target, gained, consumer.Mass)
	return result, nil
}
