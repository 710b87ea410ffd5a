package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/annel0/arena/internal/game"
	"github.com/dgraph-io/badger/v3"
)

const (
	badgerPlayerPrefix = "player/"
	badgerFoodPrefix   = "food/"
	badgerConfigKey    = "config"
)

// BadgerRepository хранит сущности арены во встроенной BadgerDB.
type BadgerRepository struct {
	db *badger.DB
}

// BadgerOptions настройки встроенного хранилища
type BadgerOptions struct {
	Dir      string // каталог базы
	InMemory bool   // без диска (для тестов и одноразовых миров)
}

// NewBadgerRepository открывает (или создаёт) базу
func NewBadgerRepository(opts BadgerOptions) (*BadgerRepository, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, fmt.Errorf("не задан каталог BadgerDB")
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerRepository{db: db}, nil
}

func (r *BadgerRepository) PutPlayer(ctx context.Context, p game.Player) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, badgerPlayerPrefix+p.ID, p)
	})
}

func (r *BadgerRepository) GetPlayer(ctx context.Context, id string) (game.Player, bool, error) {
	var p game.Player
	if err := checkCtx(ctx); err != nil {
		return p, false, err
	}

	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, badgerPlayerPrefix+id, &p)
		return err
	})
	return p, found, err
}

func (r *BadgerRepository) DeletePlayer(ctx context.Context, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerPlayerPrefix + id))
	})
}

func (r *BadgerRepository) ListPlayers(ctx context.Context) ([]game.Player, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	var players []game.Player
	err := r.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, badgerPlayerPrefix, func(val []byte) error {
			var p game.Player
			if err := json.Unmarshal(val, &p); err != nil {
				return fmt.Errorf("ошибка десериализации игрока: %w", err)
			}
			players = append(players, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Ключи отсортированы по id, а нужен порядок создания
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].CreatedAt.Equal(players[j].CreatedAt) {
			return players[i].ID < players[j].ID
		}
		return players[i].CreatedAt.Before(players[j].CreatedAt)
	})
	return players, nil
}

func (r *BadgerRepository) PutFood(ctx context.Context, food ...game.Food) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		for _, f := range food {
			if err := setJSON(txn, badgerFoodPrefix+f.ID, f); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *BadgerRepository) GetFood(ctx context.Context, id string) (game.Food, bool, error) {
	var f game.Food
	if err := checkCtx(ctx); err != nil {
		return f, false, err
	}

	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, badgerFoodPrefix+id, &f)
		return err
	})
	return f, found, err
}

func (r *BadgerRepository) ListFood(ctx context.Context) ([]game.Food, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	var food []game.Food
	err := r.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, badgerFoodPrefix, func(val []byte) error {
			var f game.Food
			if err := json.Unmarshal(val, &f); err != nil {
				return fmt.Errorf("ошибка десериализации еды: %w", err)
			}
			food = append(food, f)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(food, func(i, j int) bool {
		if food[i].CreatedAt.Equal(food[j].CreatedAt) {
			return food[i].ID < food[j].ID
		}
		return food[i].CreatedAt.Before(food[j].CreatedAt)
	})
	return food, nil
}

func (r *BadgerRepository) GetConfig(ctx context.Context) (game.GameConfig, bool, error) {
	var cfg game.GameConfig
	if err := checkCtx(ctx); err != nil {
		return cfg, false, err
	}

	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, badgerConfigKey, &cfg)
		return err
	})
	return cfg, found, err
}

func (r *BadgerRepository) PutConfigIfAbsent(ctx context.Context, cfg game.GameConfig) (game.GameConfig, error) {
	if err := checkCtx(ctx); err != nil {
		return game.GameConfig{}, err
	}

	stored := cfg
	err := r.db.Update(func(txn *badger.Txn) error {
		found, err := getJSON(txn, badgerConfigKey, &stored)
		if err != nil || found {
			return err
		}
		return setJSON(txn, badgerConfigKey, cfg)
	})
	if err != nil {
		return game.GameConfig{}, err
	}
	return stored, nil
}

// CommitConsumption выполняет проверку и запись в одной транзакции Badger
func (r *BadgerRepository) CommitConsumption(ctx context.Context, c Consumption) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		var consumer game.Player
		found, err := getJSON(txn, badgerPlayerPrefix+c.Consumer.ID, &consumer)
		if err != nil {
			return err
		}
		if !found {
			return ErrConflict
		}

		switch c.Target.Kind {
		case game.TargetFood:
			key := badgerFoodPrefix + c.Target.ID
			if _, err := txn.Get([]byte(key)); errors.Is(err, badger.ErrKeyNotFound) {
				return ErrConflict
			} else if err != nil {
				return err
			}
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		case game.TargetPlayer:
			if c.Victim == nil {
				return fmt.Errorf("отсутствует состояние цели для %s", c.Target)
			}
			var current game.Player
			found, err := getJSON(txn, badgerPlayerPrefix+c.Target.ID, &current)
			if err != nil {
				return err
			}
			if !found || !current.IsAlive {
				return ErrConflict
			}
			if err := setJSON(txn, badgerPlayerPrefix+c.Target.ID, *c.Victim); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %q", game.ErrInvalidTargetKind, c.Target.Kind)
		}

		return setJSON(txn, badgerPlayerPrefix+c.Consumer.ID, c.Consumer)
	})

	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	return err
}

// Close закрывает базу
func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

func setJSON(txn *badger.Txn, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ошибка сериализации %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

func getJSON(txn *badger.Txn, key string, out interface{}) (bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка чтения %s из BadgerDB: %w", key, err)
	}

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
	if err != nil {
		return false, fmt.Errorf("ошибка десериализации %s: %w", key, err)
	}
	return true, nil
}

func scanPrefix(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}
