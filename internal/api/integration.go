package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/annel0/arena/internal/logging"
)

// ServerIntegration управляет жизненным циклом HTTP-сервера REST API
type ServerIntegration struct {
	restServer *RestServer
	addr       string
	httpServer *http.Server
	listener   net.Listener
	log        *logging.Logger
	done       chan struct{}
}

// NewServerIntegration создаёт REST сервер, который будет слушать addr
func NewServerIntegration(addr string, cfg Config) *ServerIntegration {
	if addr == "" {
		addr = ":8080"
	}
	return &ServerIntegration{
		restServer: NewRestServer(cfg),
		addr:       addr,
		log:        logging.GetAPILogger(),
	}
}

// Start открывает порт и запускает REST API сервер в отдельной горутине
func (si *ServerIntegration) Start() error {
	ln, err := net.Listen("tcp", si.addr)
	if err != nil {
		return fmt.Errorf("не удалось открыть порт REST API %s: %w", si.addr, err)
	}
	si.listener = ln

	// Создаем HTTP сервер для graceful shutdown
	si.httpServer = &http.Server{
		Handler:           si.restServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	si.done = make(chan struct{})

	go func() {
		defer close(si.done)
		if err := si.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			si.log.Error("❌ Ошибка REST API сервера: %v", err)
		}
	}()

	si.log.Info("✅ REST API сервер запущен на http://%s", ln.Addr())
	si.log.Info("📋 Доступные эндпоинты:")
	si.log.Info("   GET  /health, /metrics, /api/stats")
	si.log.Info("   GET  /api/game         POST /api/game/init (admin)")
	si.log.Info("   GET  /api/players      POST /api/players")
	si.log.Info("   GET  /api/players/:id  PUT /api/players/:id/position  DELETE /api/players/:id (admin)")
	si.log.Info("   GET  /api/food         POST /api/food/spawn (admin)")
	si.log.Info("   POST /api/consume      GET /api/leaderboard?limit=N")
	return nil
}

// Addr возвращает фактический адрес сервера (nil до Start)
func (si *ServerIntegration) Addr() net.Addr {
	if si.listener == nil {
		return nil
	}
	return si.listener.Addr()
}

// Stop останавливает REST API сервер
func (si *ServerIntegration) Stop(ctx context.Context) error {
	if si.httpServer == nil {
		return nil
	}
	si.log.Info("🛑 Остановка REST API сервера...")

	if err := si.httpServer.Shutdown(ctx); err != nil {
		si.log.Error("❌ Ошибка при остановке HTTP сервера: %v", err)
		return err
	}
	<-si.done

	si.log.Info("✅ REST API сервер остановлен")
	return nil
}

// GetRestServer возвращает REST сервер
func (si *ServerIntegration) GetRestServer() *RestServer {
	return si.restServer
}
