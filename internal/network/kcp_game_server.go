package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/annel0/arena/internal/logging"
	"github.com/google/uuid"
	"github.com/xtaci/kcp-go/v5"
)

// maxStreamFrame максимальный размер одного кадра (строки JSON) в потоковом транспорте
const maxStreamFrame = 64 * 1024

// StreamServer обслуживает потоковые соединения (KCP или любой net.Conn):
// каждый кадр: одна строка JSON, завершённая '\n', в том же формате, что и WebSocket.
type StreamServer struct {
	handler MessageHandler
	opts    WSOptions
	ctx     context.Context
	cancel  context.CancelFunc
	log     *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewStreamServer создаёт сервер. Используются SendBuffer, IdleTimeout и WriteTimeout из opts.
func NewStreamServer(ctx context.Context, handler MessageHandler, opts WSOptions) *StreamServer {
	defaults := DefaultWSOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	return &StreamServer{
		handler: handler,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		log:     logging.GetNetworkLogger(),
	}
}

// ListenKCP открывает KCP-listener на addr и начинает принимать соединения
func (s *StreamServer) ListenKCP(addr string) error {
	listener, err := kcp.ListenWithOptions(addr, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to start KCP listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptKCP(listener)

	s.log.Info("🚀 KCP сервер слушает %s", listener.Addr())
	return nil
}

// Addr возвращает адрес listener'а (nil, если не запущен)
func (s *StreamServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop закрывает listener и все соединения, дожидаясь их горутин
func (s *StreamServer) Stop() {
	s.cancel()

	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *StreamServer) acceptKCP(listener *kcp.Listener) {
	defer s.wg.Done()

	for {
		sess, err := listener.AcceptKCP()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("⚠️ Ошибка принятия KCP соединения: %v", err)
			continue
		}

		// Настройки KCP для игр
		sess.SetStreamMode(true)
		sess.SetWriteDelay(false)
		sess.SetNoDelay(1, 20, 2, 1)
		sess.SetWindowSize(512, 512)
		sess.SetMtu(1400)

		s.Serve(sess)
	}
}

// Serve запускает обслуживание уже установленного соединения
func (s *StreamServer) Serve(conn net.Conn) {
	c := &streamConn{
		id:   "conn_" + uuid.NewString(),
		conn: conn,
		out:  newOutbox(s.opts.SendBuffer),
	}

	if err := s.handler.OnClientConnect(s.ctx, c); err != nil {
		s.log.Error("❌ Не удалось зарегистрировать %s: %v", c.id, err)
		_ = conn.Close()
		return
	}

	s.wg.Add(2)
	go s.writeLoop(c)
	go s.readLoop(c)
}

// streamConn соединение с построчным JSON
type streamConn struct {
	id   string
	conn net.Conn
	out  *outbox
}

func (c *streamConn) ID() string { return c.id }
func (c *streamConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }
func (c *streamConn) Send(frame []byte) error { return c.out.push(frame) }
func (c *streamConn) Close() error { c.out.close(); return nil }

func (s *StreamServer) readLoop(c *streamConn) {
	defer func() {
		s.handler.OnClientDisconnect(s.ctx, c)
		_ = c.Close()
		s.wg.Done()
	}()

	// Закрытие сервера прерывает блокирующее чтение
	stop := context.AfterFunc(s.ctx, func() { _ = c.conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxStreamFrame)

	for {
		if s.opts.IdleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && s.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("Чтение %s завершено: %v", c.id, err)
			}
			return
		}

		frame := scanner.Bytes()
		if len(frame) == 0 {
			continue
		}
		// Scanner переиспользует буфер
		s.handler.HandleMessage(s.ctx, c, append([]byte(nil), frame...))
	}
}

func (s *StreamServer) writeLoop(c *streamConn) {
	defer func() {
		_ = c.conn.Close()
		s.wg.Done()
	}()

	w := bufio.NewWriter(c.conn)
	for {
		select {
		case frame := <-c.out.frames:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if _, err := w.Write(frame); err != nil {
				c.out.close()
				return
			}
			if err := w.WriteByte('\n'); err != nil {
				c.out.close()
				return
			}
			if err := w.Flush(); err != nil {
				s.log.Debug("Ошибка записи %s: %v", c.id, err)
				c.out.close()
				return
			}

		case <-c.out.closed:
			return

		case <-s.ctx.Done():
			c.out.close()
			return
		}
	}
}
