package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/arena/internal/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSOptions настройки WebSocket-транспорта
type WSOptions struct {
	SendBuffer   int           // размер очереди исходящих кадров на соединение
	IdleTimeout  time.Duration // 0: без таймаута бездействия
	ReadLimit    int64         // максимальный размер входящего кадра
	PingInterval time.Duration // интервал служебных ping WebSocket
	WriteTimeout time.Duration
}

// DefaultWSOptions возвращает настройки по умолчанию
func DefaultWSOptions() WSOptions {
	return WSOptions{
		SendBuffer:   defaultSendBuffer,
		ReadLimit:    4096,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// WSServer принимает WebSocket-соединения и передаёт их MessageHandler.
// Для каждого соединения работают две горутины: readPump и writePump.
type WSServer struct {
	handler  MessageHandler
	opts     WSOptions
	upgrader websocket.Upgrader
	ctx      context.Context
	log      *logging.Logger
	wg       sync.WaitGroup
}

// NewWSServer создаёт WebSocket-сервер. ctx: контекст жизни сервера.
func NewWSServer(ctx context.Context, handler MessageHandler, opts WSOptions) *WSServer {
	defaults := DefaultWSOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaults.ReadLimit
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}

	return &WSServer{
		handler: handler,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Клиенты подключаются с любых origin
			},
		},
		ctx: ctx,
		log: logging.GetNetworkLogger(),
	}
}

// wsConn WebSocket-соединение
type wsConn struct {
	id     string
	ws     *websocket.Conn
	out    *outbox
	remote string
}

func (c *wsConn) ID() string { return c.id }
func (c *wsConn) RemoteAddr() string { return c.remote }
func (c *wsConn) Send(frame []byte) error { return c.out.push(frame) }
func (c *wsConn) Close() error { c.out.close(); return nil }

// ServeHTTP выполняет upgrade и запускает горутины соединения
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("⚠️ Ошибка upgrade WebSocket: %v", err)
		return
	}

	c := &wsConn{
		id:     "conn_" + uuid.NewString(),
		ws:     ws,
		out:    newOutbox(s.opts.SendBuffer),
		remote: r.RemoteAddr,
	}

	if err := s.handler.OnClientConnect(s.ctx, c); err != nil {
		s.log.Error("❌ Не удалось зарегистрировать %s: %v", c.id, err)
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "registration failed"))
		_ = ws.Close()
		return
	}

	s.wg.Add(2)
	go s.writePump(c)
	go s.readPump(c)
}

// Wait дожидается завершения всех горутин соединений
func (s *WSServer) Wait() {
	s.wg.Wait()
}

// readPump читает кадры клиента до ошибки или закрытия
func (s *WSServer) readPump(c *wsConn) {
	defer func() {
		s.handler.OnClientDisconnect(s.ctx, c)
		_ = c.Close()
		s.wg.Done()
	}()

	c.ws.SetReadLimit(s.opts.ReadLimit)
	s.extendDeadline(c)
	c.ws.SetPongHandler(func(string) error {
		s.extendDeadline(c)
		return nil
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("⚠️ Ошибка чтения %s: %v", c.id, err)
			}
			return
		}
		s.extendDeadline(c)
		s.handler.HandleMessage(s.ctx, c, frame)
	}
}

// writePump отправляет кадры из очереди и служебные ping
func (s *WSServer) writePump(c *wsConn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		s.wg.Done()
	}()

	for {
		select {
		case frame := <-c.out.frames:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("Ошибка записи %s: %v", c.id, err)
				c.out.close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.out.close()
				return
			}

		case <-c.out.closed:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *WSServer) extendDeadline(c *wsConn) {
	if s.opts.IdleTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
	}
}
