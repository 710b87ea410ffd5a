package network

import (
	"errors"
	"fmt"
	"sync"
)

// ErrTransport отправка конкретному соединению не удалась
var ErrTransport = errors.New("transport error")

var (
	ErrConnClosed     = fmt.Errorf("%w: connection closed", ErrTransport)
	ErrSendBufferFull = fmt.Errorf("%w: send buffer full", ErrTransport)
	ErrUnknownConn    = fmt.Errorf("%w: unknown connection", ErrTransport)
)

const defaultSendBuffer = 256

// Conn одно транспортное соединение с клиентом (WebSocket, KCP).
// Send не блокируется: кадр ставится в очередь записи соединения.
type Conn interface {
	ID() string
	Send(frame []byte) error
	Close() error
	RemoteAddr() string
}

// ConnState состояние соединения
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// outbox очередь исходящих кадров одного соединения
type outbox struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newOutbox(size int) *outbox {
	if size <= 0 {
		size = defaultSendBuffer
	}
	return &outbox{
		frames: make(chan []byte, size),
		closed: make(chan struct{}),
	}
}

// push ставит кадр в очередь; при переполнении кадр отбрасывается
func (o *outbox) push(frame []byte) error {
	select {
	case <-o.closed:
		return ErrConnClosed
	default:
	}

	select {
	case o.frames <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close закрывает очередь; повторные вызовы безопасны
func (o *outbox) close() {
	o.once.Do(func() { close(o.closed) })
}
