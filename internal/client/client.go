package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/arena/internal/game"
	"github.com/annel0/arena/internal/logging"
	"github.com/annel0/arena/internal/protocol"
	"github.com/gorilla/websocket"
)

// State состояние клиента
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNotConnected = errors.New("client is not connected")
	ErrSendBuffer   = errors.New("client send buffer full")
	ErrRunning      = errors.New("client already running")
)

// Options параметры клиента
type Options struct {
	URL            string
	PingInterval   time.Duration // 0: 30 секунд
	InitialBackoff time.Duration // первая пауза перед переподключением
	MaxBackoff     time.Duration
	SendBuffer     int
	Dialer         *websocket.Dialer
}

func (o *Options) withDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = 30 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// Handler получает каждое сообщение сервера. Вызывается из горутины чтения.
type Handler func(env protocol.Envelope)

// Client WebSocket-клиент арены с автоматическим переподключением.
// Переходы: Disconnected → Connecting → Connected, а после обрыва
// пауза с экспоненциальным ростом и снова Connecting.
type Client struct {
	opts      Options
	onMessage Handler
	log       *logging.Logger

	mu       sync.Mutex
	state    State
	out      chan []byte
	running  bool
	attempts int
	watchers []chan State
}

// New создаёт клиента. onMessage может быть nil.
func New(opts Options, onMessage Handler) *Client {
	opts.withDefaults()
	if onMessage == nil {
		onMessage = func(protocol.Envelope) {}
	}
	return &Client{
		opts:      opts,
		onMessage: onMessage,
		log:       logging.GetClientLogger(),
	}
}

// State возвращает текущее состояние
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watch возвращает канал переходов состояния. Медленный читатель пропускает переходы.
func (c *Client) Watch() <-chan State {
	ch := make(chan State, 8)
	c.mu.Lock()
	c.watchers = append(c.watchers, ch)
	c.mu.Unlock()
	return ch
}

// Run подключается и держит соединение до отмены ctx
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrRunning
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.setState(StateDisconnected, nil)
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	for {
		c.setState(StateConnecting, nil)
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("⚠️ Не удалось подключиться к %s: %v", c.opts.URL, err)
			c.setState(StateDisconnected, nil)
		} else {
			out := make(chan []byte, c.opts.SendBuffer)
			c.mu.Lock()
			c.attempts = 0
			c.mu.Unlock()
			c.setState(StateConnected, out)
			c.log.Info("🔗 Подключен к %s", c.opts.URL)

			err = c.session(ctx, conn, out)
			c.setState(StateDisconnected, nil)
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("⚠️ Соединение потеряно: %v", err)
		}

		delay := c.nextBackoff()
		c.log.Info("🔄 Переподключение через %v", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Move отправляет move
func (c *Client) Move(playerID string, x, y float64) error {
	frame, err := protocol.EncodeMove(playerID, x, y)
	if err != nil {
		return err
	}
	return c.send(frame)
}

// Consume отправляет consume
func (c *Client) Consume(playerID string, target game.Target) error {
	frame, err := protocol.EncodeConsume(playerID, target)
	if err != nil {
		return err
	}
	return c.send(frame)
}

// Ping отправляет ping с текущим временем в миллисекундах
func (c *Client) Ping() error {
	frame, err := protocol.EncodePing(time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return c.send(frame)
}

func (c *Client) send(frame []byte) error {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		return ErrNotConnected
	}
	select {
	case out <- frame:
		return nil
	default:
		return ErrSendBuffer
	}
}

// session обслуживает одно соединение; возвращается при обрыве или отмене ctx
func (c *Client) session(ctx context.Context, conn *websocket.Conn, out chan []byte) error {
	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(conn)
	}()

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
			<-readErr
			return ctx.Err()

		case err := <-readErr:
			_ = conn.Close()
			return err

		case frame := <-out:
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = conn.Close()
				<-readErr
				return err
			}

		case <-ticker.C:
			frame, err := protocol.EncodePing(time.Now().UnixMilli())
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = conn.Close()
				<-readErr
				return err
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("⚠️ Некорректный кадр сервера: %v", err)
			continue
		}
		c.onMessage(env)
	}
}

// nextBackoff удваивает паузу до MaxBackoff
func (c *Client) nextBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	delay := c.opts.InitialBackoff << c.attempts
	if delay <= 0 || delay > c.opts.MaxBackoff {
		delay = c.opts.MaxBackoff
	} else {
		c.attempts++
	}
	return delay
}

func (c *Client) setState(s State, out chan []byte) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.out = out
	watchers := c.watchers
	c.mu.Unlock()

	if !changed {
		return
	}
	c.log.Debug("Состояние клиента: %s", s)
	for _, ch := range watchers {
		select {
		case ch <- s:
		default:
		}
	}
}
