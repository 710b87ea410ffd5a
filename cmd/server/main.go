package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/arena/internal/api"
	"github.com/annel0/arena/internal/auth"
	"github.com/annel0/arena/internal/config"
	"github.com/annel0/arena/internal/eventbus"
	"github.com/annel0/arena/internal/game"
	"github.com/annel0/arena/internal/logging"
	"github.com/annel0/arena/internal/network"
	"github.com/annel0/arena/internal/observability"
	"github.com/annel0/arena/internal/storage"
	"github.com/annel0/arena/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию ARENA_CONFIG)")
	adminToken := flag.Bool("admin-token", false, "выпустить админский JWT по api.admin_secret и выйти")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if *adminToken {
		if err := printAdminToken(cfg); err != nil {
			log.Fatalf("❌ %v", err)
		}
		return
	}

	if err := setupLogging(cfg.Logging); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
}

func printAdminToken(cfg *config.Config) error {
	if cfg.API.AdminSecret == "" {
		return errors.New("api.admin_secret не задан (ARENA_ADMIN_SECRET)")
	}
	issuer, err := auth.NewIssuer(cfg.API.AdminSecret)
	if err != nil {
		return err
	}
	token, err := issuer.Issue("admin", true, auth.DefaultTokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func setupLogging(cfg config.LoggingConfig) error {
	consoleLevel, err := logging.ParseLevel(cfg.ConsoleLevel)
	if err != nil {
		return err
	}
	fileLevel, err := logging.ParseLevel(cfg.FileLevel)
	if err != nil {
		return err
	}
	logging.Configure(logging.Options{
		ConsoleLevel: consoleLevel,
		FileLevel:    fileLevel,
		ToFile:       cfg.ToFile,
		Dir:          cfg.Dir,
	})
	if err := logging.GetLoggerManager().ApplyLevels(cfg.Components); err != nil {
		return err
	}
	if err := logging.InitDefaultLogger("server"); err != nil {
		return err
	}
	if len(cfg.Components) > 0 {
		logging.Info("🪵 Уровни компонентов: %s", logging.GetLoggerManager())
	}
	return nil
}

func run(cfg *config.Config) error {
	logging.Info("🎮 Запуск сервера арены...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("ошибка инициализации OpenTelemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("⚠️ Ошибка остановки OpenTelemetry: %v", err)
		}
	}()

	// === ХРАНИЛИЩЕ ===
	repo, err := openRepository(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("хранилище недоступно: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logging.Error("❌ Ошибка закрытия хранилища: %v", err)
		}
	}()

	// === ШИНА СОБЫТИЙ ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bus, err := openEventBus(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("шина событий недоступна: %w", err)
	}
	eventbus.Init(bus)
	defer func() {
		eventbus.Init(nil)
		if err := bus.Close(); err != nil {
			logging.Warn("⚠️ Ошибка закрытия шины событий: %v", err)
		}
	}()

	if _, err := eventbus.StartLoggingListener(bus); err != nil {
		return fmt.Errorf("ошибка подписки логгера событий: %w", err)
	}
	exporter := eventbus.NewMetricsExporter(bus, reg)
	exporter.Start(5 * time.Second)
	defer exporter.Stop()

	// === ИГРОВОЕ ЯДРО ===
	store := world.NewEntityStore(repo, rulesFromConfig(cfg.Game))
	if _, err := store.InitConfig(ctx); err != nil {
		return fmt.Errorf("ошибка инициализации мира: %w", err)
	}
	arbiter := world.NewArbiter(store)

	metrics := network.NewMetrics(reg)
	registry := network.NewRegistry(metrics)
	handler := network.NewGameHandler(store, arbiter, registry, metrics)

	// serverCtx переживает сигнал до окончания graceful shutdown
	serverCtx, cancelServer := context.WithCancel(context.Background())
	defer cancelServer()

	wsOpts := network.WSOptions{
		SendBuffer:  cfg.Server.SendBuffer,
		IdleTimeout: cfg.Server.IdleTimeout(),
	}

	// === ТРАНСПОРТЫ ===
	wsServer := network.NewWSServer(serverCtx, handler, wsOpts)
	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	wsHTTP := &http.Server{Addr: cfg.Server.WSAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go serveHTTP("WebSocket", wsHTTP)

	var kcpServer *network.StreamServer
	if cfg.Server.KCPAddr != "" {
		kcpServer = network.NewStreamServer(serverCtx, handler, wsOpts)
		if err := kcpServer.ListenKCP(cfg.Server.KCPAddr); err != nil {
			return err
		}
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsHTTP := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	go serveHTTP("метрик", metricsHTTP)

	// === REST API ===
	var issuer *auth.Issuer
	if cfg.API.AdminSecret != "" {
		issuer, err = auth.NewIssuer(cfg.API.AdminSecret)
		if err != nil {
			return fmt.Errorf("api.admin_secret: %w", err)
		}
		logging.Info("🔐 Админские маршруты защищены JWT")
	} else {
		logging.Warn("⚠️ api.admin_secret не задан, админские маршруты открыты")
	}

	rest := api.NewServerIntegration(cfg.Server.RESTAddr, api.Config{
		Store:       store,
		Arbiter:     arbiter,
		Announcer:   handler,
		Issuer:      issuer,
		Connections: registry,
		Registry:    reg,
		ServiceName: "arena_rest",
	})
	if err := rest.Start(); err != nil {
		return err
	}

	// === ЦИКЛЫ ===
	broadcaster := network.NewTickBroadcaster(handler, store, cfg.Loops.TickInterval())
	spawner := network.NewSpawnScheduler(handler, store, cfg.Loops.SpawnInterval(), cfg.Loops.SpawnBatch)
	if err := broadcaster.Start(serverCtx); err != nil {
		return err
	}
	if err := spawner.Start(serverCtx); err != nil {
		return err
	}

	logging.Info("✅ Все сервисы запущены и готовы принимать соединения")
	logging.Info("   🎮 WebSocket: ws://localhost%s/ws", cfg.Server.WSAddr)
	if kcpServer != nil {
		logging.Info("   🎮 KCP: %s", kcpServer.Addr())
	}
	logging.Info("   🌐 REST API: http://localhost%s", cfg.Server.RESTAddr)
	logging.Info("   📈 Метрики: http://localhost%s/metrics", cfg.Server.MetricsAddr)

	<-ctx.Done()
	logging.Info("📡 Получен сигнал завершения, остановка...")

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	spawner.Stop()
	broadcaster.Stop()

	if err := rest.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if err := wsHTTP.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки WebSocket сервера: %v", err)
	}
	if kcpServer != nil {
		kcpServer.Stop()
	}
	registry.CloseAll()
	cancelServer()
	wsServer.Wait()

	if err := metricsHTTP.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки сервера метрик: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
	return nil
}

func serveHTTP(name string, srv *http.Server) {
	logging.Info("🚀 Сервер %s слушает %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Error("❌ Ошибка сервера %s: %v", name, err)
	}
}

func openRepository(ctx context.Context, cfg config.StorageConfig) (storage.Repository, error) {
	switch cfg.Backend {
	case "redis":
		repo, err := storage.NewRedisRepository(ctx, storage.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		logging.Info("🗄️ Хранилище: Redis %s", cfg.Redis.Addr)
		return repo, nil

	case "badger":
		repo, err := storage.NewBadgerRepository(storage.BadgerOptions{
			Dir:      cfg.Badger.Dir,
			InMemory: cfg.Badger.InMemory,
		})
		if err != nil {
			return nil, err
		}
		logging.Info("🗄️ Хранилище: BadgerDB %s", cfg.Badger.Dir)
		return repo, nil

	default:
		logging.Info("🗄️ Хранилище: память процесса")
		return storage.NewMemoryRepository(), nil
	}
}

func openEventBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.Backend == "nats" {
		retention := time.Duration(cfg.Retention) * time.Hour
		bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, retention)
		if err != nil {
			return nil, err
		}
		logging.Info("📨 Шина событий: NATS JetStream %s", cfg.URL)
		return bus, nil
	}
	return eventbus.NewMemoryBus(cfg.Buffer), nil
}

func rulesFromConfig(cfg config.GameConfig) world.Rules {
	rules := world.DefaultRules()
	rules.StartMass = cfg.StartMass
	rules.FoodMass = cfg.FoodMass
	rules.Defaults = game.GameConfig{
		ID:            game.DefaultConfigID,
		MapWidth:      cfg.MapWidth,
		MapHeight:     cfg.MapHeight,
		MaxPlayers:    cfg.MaxPlayers,
		FoodSpawnRate: cfg.FoodSpawnRate,
	}
	return rules
}
