package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/annel0/arena/internal/game"
	"github.com/annel0/arena/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisRepository хранит сущности арены в Redis.
// Каждая сущность хранится JSON под своим ключом, порядок создания держит ZSET-индекс
// со счётом CreatedAt в микросекундах.
type RedisRepository struct {
	client    *redis.Client
	keyPrefix string
}

// RedisOptions содержит настройки подключения к Redis
type RedisOptions struct {
	Addr      string // Адрес Redis сервера
	Password  string // Пароль (пустой если не требуется)
	DB        int    // Номер базы данных
	KeyPrefix string // Префикс для ключей
}

// DefaultRedisOptions возвращает настройки по умолчанию
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Addr:      "localhost:6379",
		KeyPrefix: "arena:",
	}
}

// NewRedisRepository подключается к Redis и проверяет соединение
func NewRedisRepository(ctx context.Context, opts RedisOptions) (*RedisRepository, error) {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "arena:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("🔴 Connected to Redis at %s (prefix=%s)", opts.Addr, opts.KeyPrefix)
	return &RedisRepository{client: client, keyPrefix: opts.KeyPrefix}, nil
}

func (r *RedisRepository) playerKey(id string) string { return r.keyPrefix + "player:" + id }
func (r *RedisRepository) foodKey(id string) string   { return r.keyPrefix + "food:" + id }
func (r *RedisRepository) playerIndex() string        { return r.keyPrefix + "players" }
func (r *RedisRepository) foodIndex() string          { return r.keyPrefix + "food" }
func (r *RedisRepository) configKey() string          { return r.keyPrefix + "config" }

func (r *RedisRepository) PutPlayer(ctx context.Context, p game.Player) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal player: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.playerKey(p.ID), data, 0)
		pipe.ZAddNX(ctx, r.playerIndex(), &redis.Z{Score: float64(p.CreatedAt.UnixMicro()), Member: p.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save player: %w", err)
	}
	return nil
}

func (r *RedisRepository) GetPlayer(ctx context.Context, id string) (game.Player, bool, error) {
	var p game.Player
	ok, err := r.getJSON(ctx, r.playerKey(id), &p)
	return p, ok, err
}

func (r *RedisRepository) DeletePlayer(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.playerKey(id))
		pipe.ZRem(ctx, r.playerIndex(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	return nil
}

func (r *RedisRepository) ListPlayers(ctx context.Context) ([]game.Player, error) {
	values, err := r.listJSON(ctx, r.playerIndex(), r.playerKey)
	if err != nil {
		return nil, err
	}

	players := make([]game.Player, 0, len(values))
	for _, raw := range values {
		var p game.Player
		if err := json.Unmarshal(raw, &p); err != nil {
			logging.Warn("⚠️ Failed to unmarshal player: %v", err)
			continue
		}
		players = append(players, p)
	}
	return players, nil
}

func (r *RedisRepository) PutFood(ctx context.Context, food ...game.Food) error {
	if len(food) == 0 {
		return nil
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, f := range food {
			data, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("failed to marshal food %s: %w", f.ID, err)
			}
			pipe.Set(ctx, r.foodKey(f.ID), data, 0)
			pipe.ZAddNX(ctx, r.foodIndex(), &redis.Z{Score: float64(f.CreatedAt.UnixMicro()), Member: f.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save food batch: %w", err)
	}
	return nil
}

func (r *RedisRepository) GetFood(ctx context.Context, id string) (game.Food, bool, error) {
	var f game.Food
	ok, err := r.getJSON(ctx, r.foodKey(id), &f)
	return f, ok, err
}

func (r *RedisRepository) ListFood(ctx context.Context) ([]game.Food, error) {
	values, err := r.listJSON(ctx, r.foodIndex(), r.foodKey)
	if err != nil {
		return nil, err
	}

	food := make([]game.Food, 0, len(values))
	for _, raw := range values {
		var f game.Food
		if err := json.Unmarshal(raw, &f); err != nil {
			logging.Warn("⚠️ Failed to unmarshal food: %v", err)
			continue
		}
		food = append(food, f)
	}
	return food, nil
}

func (r *RedisRepository) GetConfig(ctx context.Context) (game.GameConfig, bool, error) {
	var cfg game.GameConfig
	ok, err := r.getJSON(ctx, r.configKey(), &cfg)
	return cfg, ok, err
}

func (r *RedisRepository) PutConfigIfAbsent(ctx context.Context, cfg game.GameConfig) (game.GameConfig, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return game.GameConfig{}, fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := r.client.SetNX(ctx, r.configKey(), data, 0).Err(); err != nil {
		return game.GameConfig{}, fmt.Errorf("failed to save config: %w", err)
	}

	stored, ok, err := r.GetConfig(ctx)
	if err != nil {
		return game.GameConfig{}, err
	}
	if !ok {
		return game.GameConfig{}, fmt.Errorf("config disappeared after SETNX")
	}
	return stored, nil
}

// CommitConsumption проверяет цель под WATCH и пишет итог в MULTI/EXEC
func (r *RedisRepository) CommitConsumption(ctx context.Context, c Consumption) error {
	consumerData, err := json.Marshal(c.Consumer)
	if err != nil {
		return fmt.Errorf("failed to marshal consumer: %w", err)
	}

	var targetKey string
	var victimData []byte
	switch c.Target.Kind {
	case game.TargetFood:
		targetKey = r.foodKey(c.Target.ID)
	case game.TargetPlayer:
		if c.Victim == nil {
			return fmt.Errorf("missing victim state for %s", c.Target)
		}
		targetKey = r.playerKey(c.Target.ID)
		if victimData, err = json.Marshal(c.Victim); err != nil {
			return fmt.Errorf("failed to marshal victim: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", game.ErrInvalidTargetKind, c.Target.Kind)
	}

	consumerKey := r.playerKey(c.Consumer.ID)

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, consumerKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConflict
		}

		raw, err := tx.Get(ctx, targetKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrConflict
		} else if err != nil {
			return err
		}

		if c.Target.Kind == game.TargetPlayer {
			var current game.Player
			if err := json.Unmarshal(raw, &current); err != nil {
				return fmt.Errorf("failed to unmarshal target: %w", err)
			}
			if !current.IsAlive {
				return ErrConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, consumerKey, consumerData, 0)
			if c.Target.Kind == game.TargetFood {
				pipe.Del(ctx, targetKey)
				pipe.ZRem(ctx, r.foodIndex(), c.Target.ID)
			} else {
				pipe.Set(ctx, targetKey, victimData, 0)
			}
			return nil
		})
		return err
	}

	err = r.client.Watch(ctx, txf, consumerKey, targetKey)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

// Close закрывает соединение с Redis
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// getJSON читает и декодирует значение; false если ключа нет
func (r *RedisRepository) getJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// listJSON читает все значения из индекса в порядке счёта
func (r *RedisRepository) listJSON(ctx context.Context, index string, keyFn func(string) string) ([][]byte, error) {
	ids, err := r.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", index, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyFn(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read values: %w", err)
	}

	result := make([][]byte, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // ключ удалён между ZRANGE и MGET
		}
		result = append(result, []byte(s))
	}
	return result, nil
}
