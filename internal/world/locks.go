package world

import (
	"sort"
	"sync"
)

// KeyedLocker выдаёт мьютекс на каждый ключ (id сущности).
// Записи создаются по требованию и удаляются, когда их никто не держит.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocker создаёт пустой набор блокировок
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

// Lock захватывает блокировки всех ключей и возвращает функцию освобождения.
// Ключи захватываются в отсортированном порядке без повторов, поэтому два
// вызова с пересекающимися наборами не могут взаимно заблокироваться.
func (kl *KeyedLocker) Lock(keys ...string) (unlock func()) {
	ordered := uniqueSorted(keys)

	held := make([]*keyedLock, 0, len(ordered))
	for _, key := range ordered {
		l := kl.acquire(key)
		l.mu.Lock()
		held = append(held, l)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				kl.release(ordered[i])
			}
		})
	}
}

// Len возвращает количество ключей, по которым сейчас кто-то ждёт или держит блокировку
func (kl *KeyedLocker) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}

func (kl *KeyedLocker) acquire(key string) *keyedLock {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	l, ok := kl.locks[key]
	if !ok {
		l = &keyedLock{}
		kl.locks[key] = l
	}
	l.refs++
	return l
}

func (kl *KeyedLocker) release(key string) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	l, ok := kl.locks[key]
	if !ok {
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(kl.locks, key)
	}
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func playerLockKey(id string) string { return "player:" + id }
func foodLockKey(id string) string   { return "food:" + id }
