package network

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/arena/internal/logging"
)

// ConnInfo копия записи о соединении
type ConnInfo struct {
	ID          string
	PlayerID    string
	RemoteAddr  string
	State       ConnState
	ConnectedAt time.Time
	LastPing    time.Time
}

type connRecord struct {
	conn Conn

	mu          sync.Mutex
	playerID    string // слабая ссылка на игрока, привязывается лениво
	state       ConnState
	connectedAt time.Time
	lastPing    time.Time
}

func (r *connRecord) info() ConnInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ConnInfo{
		ID:          r.conn.ID(),
		PlayerID:    r.playerID,
		RemoteAddr:  r.conn.RemoteAddr(),
		State:       r.state,
		ConnectedAt: r.connectedAt,
		LastPing:    r.lastPing,
	}
}

// Registry потокобезопасный реестр живых соединений по id соединения.
// Рассылка идёт по копии списка, поэтому медленный клиент не держит блокировку.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*connRecord
	metrics *Metrics
	log     *logging.Logger
	now     func() time.Time
}

// NewRegistry создаёт пустой реестр
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		conns:   make(map[string]*connRecord),
		metrics: metrics,
		log:     logging.GetNetworkLogger(),
		now:     time.Now,
	}
}

// Add добавляет соединение в состоянии Connecting
func (r *Registry) Add(c Conn) error {
	now := r.now()
	rec := &connRecord{conn: c, state: StateConnecting, connectedAt: now, lastPing: now}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[c.ID()]; exists {
		return fmt.Errorf("connection %s already registered", c.ID())
	}
	r.conns[c.ID()] = rec
	r.metrics.connOpened()
	return nil
}

// MarkOpen переводит соединение в Open после рукопожатия
func (r *Registry) MarkOpen(id string) bool {
	rec := r.get(id)
	if rec == nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state != StateConnecting {
		return false
	}
	rec.state = StateOpen
	return true
}

// Remove удаляет соединение и возвращает его последнее состояние
func (r *Registry) Remove(id string) (ConnInfo, bool) {
	r.mu.Lock()
	rec, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		r.metrics.connClosed()
	}
	r.mu.Unlock()

	if !ok {
		return ConnInfo{}, false
	}

	rec.mu.Lock()
	rec.state = StateClosed
	rec.mu.Unlock()
	return rec.info(), true
}

// Bind привязывает игрока к соединению, если привязки ещё нет.
// Возвращает true, если привязка произошла этим вызовом.
func (r *Registry) Bind(id, playerID string) bool {
	rec := r.get(id)
	if rec == nil || playerID == "" {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.playerID != "" {
		return false
	}
	rec.playerID = playerID
	return true
}

// Touch обновляет время последнего ping
func (r *Registry) Touch(id string) {
	rec := r.get(id)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	rec.lastPing = r.now()
	rec.mu.Unlock()
}

// Info возвращает копию записи о соединении
func (r *Registry) Info(id string) (ConnInfo, bool) {
	rec := r.get(id)
	if rec == nil {
		return ConnInfo{}, false
	}
	return rec.info(), true
}

// List возвращает копии всех записей
func (r *Registry) List() []ConnInfo {
	recs := r.snapshot("")
	out := make([]ConnInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.info())
	}
	return out
}

// Count возвращает количество соединений
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send отправляет кадр одному соединению
func (r *Registry) Send(id string, frame []byte) error {
	rec := r.get(id)
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConn, id)
	}
	if err := rec.conn.Send(frame); err != nil {
		r.metrics.sendFailed()
		return fmt.Errorf("send to %s: %w", id, wrapTransport(err))
	}
	return nil
}

// Broadcast рассылает кадр всем соединениям и возвращает число успешных отправок.
// Ошибка отдельного соединения логируется и не прерывает рассылку.
func (r *Registry) Broadcast(frame []byte) int {
	return r.fanOut(r.snapshot(""), frame)
}

// BroadcastExcept рассылает кадр всем, кроме exceptID
func (r *Registry) BroadcastExcept(exceptID string, frame []byte) int {
	return r.fanOut(r.snapshot(exceptID), frame)
}

// CloseAll закрывает все соединения (при остановке сервера)
func (r *Registry) CloseAll() {
	for _, rec := range r.snapshot("") {
		if err := rec.conn.Close(); err != nil {
			r.log.Debug("Ошибка закрытия соединения %s: %v", rec.conn.ID(), err)
		}
	}
}

func (r *Registry) fanOut(recs []*connRecord, frame []byte) int {
	delivered := 0
	for _, rec := range recs {
		if err := rec.conn.Send(frame); err != nil {
			r.metrics.sendFailed()
			r.log.Warn("⚠️ Не удалось отправить кадр %s: %v", rec.conn.ID(), wrapTransport(err))
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) snapshot(exceptID string) []*connRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*connRecord, 0, len(r.conns))
	for id, rec := range r.conns {
		if id != exceptID {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Registry) get(id string) *connRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// wrapTransport гарантирует, что ошибка отправки распознаётся как ErrTransport
func wrapTransport(err error) error {
	if err == nil || errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
