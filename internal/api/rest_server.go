package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/annel0/arena/internal/auth"
	"github.com/annel0/arena/internal/game"
	"github.com/annel0/arena/internal/logging"
	"github.com/annel0/arena/internal/middleware"
	"github.com/annel0/arena/internal/network"
	"github.com/annel0/arena/internal/world"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Announcer рассылает результаты REST-операций подключённым клиентам
type Announcer interface {
	AnnounceConsumption(res game.ConsumeResult)
	AnnounceFoodSpawned(ctx context.Context, batch []game.Food) error
}

// ConnectionLister источник сведений о соединениях, обычно network.Registry
type ConnectionLister interface {
	Count() int
	List() []network.ConnInfo
}

type noConnections struct{}

func (noConnections) Count() int               { return 0 }
func (noConnections) List() []network.ConnInfo { return nil }

// ConnectionView запись GET /api/connections
type ConnectionView struct {
	ID          string    `json:"id"`
	PlayerID    string    `json:"playerId,omitempty"`
	RemoteAddr  string    `json:"remoteAddr"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastPing    time.Time `json:"lastPing"` // до первого ping совпадает с connectedAt
}

// RestServer представляет REST API сервер
type RestServer struct {
	router      *gin.Engine
	store       *world.EntityStore
	arbiter     *world.Arbiter
	announcer   Announcer
	issuer      *auth.Issuer
	connections ConnectionLister
	metrics     *ServerMetrics
	log         *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Store     *world.EntityStore
	Arbiter   *world.Arbiter
	Announcer Announcer // nil: без рассылки по соединениям

	// Issuer проверяет админские токены; nil: админские маршруты открыты
	Issuer *auth.Issuer

	// Connections соединения для /api/stats и /api/connections; nil: соединений нет
	Connections ConnectionLister

	// Registry регистр HTTP-метрик; nil: дефолтный регистр
	Registry    *prometheus.Registry
	ServiceName string
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data"`
}

// CreatePlayerRequest тело POST /api/players
type CreatePlayerRequest struct {
	Name string   `json:"name"`
	X    *float64 `json:"x"`
	Y    *float64 `json:"y"`
}

// PositionRequest тело PUT /api/players/:id/position
type PositionRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// SpawnFoodRequest тело POST /api/food/spawn
type SpawnFoodRequest struct {
	Count *int `json:"count"`
}

// ConsumeRequest тело POST /api/consume
type ConsumeRequest struct {
	PlayerID   string `json:"playerId"`
	TargetID   string `json:"targetId"`
	TargetType string `json:"targetType"`
}

// ConsumeResponse данные успешного поглощения
type ConsumeResponse struct {
	Player     game.Player     `json:"player"`
	ConsumedID string          `json:"consumedId"`
	TargetType game.TargetKind `json:"targetType"`
	MassGained float64         `json:"massGained"`
}

var errBadRequest = errors.New("invalid request body")

// NewRestServer создает новый REST API сервер
func NewRestServer(cfg Config) *RestServer {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "arena_rest"
	}
	if cfg.Connections == nil {
		cfg.Connections = noConnections{}
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.NewRequestLogger().Handler())

	promMw := middleware.NewPrometheusMiddleware(cfg.ServiceName, cfg.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:      router,
		store:       cfg.Store,
		arbiter:     cfg.Arbiter,
		announcer:   cfg.Announcer,
		issuer:      cfg.Issuer,
		connections: cfg.Connections,
		metrics:     NewServerMetrics(),
		log:         logging.GetAPILogger(),
	}
	rs.setupRoutes()
	return rs
}

// Handler возвращает http.Handler роутера
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/stats", rs.handleStats)

		api.GET("/game", rs.handleGetGame)
		api.GET("/players", rs.handleListPlayers)
		api.POST("/players", rs.handleCreatePlayer)
		api.GET("/players/:id", rs.handleGetPlayer)
		api.PUT("/players/:id/position", rs.handleUpdatePosition)
		api.GET("/food", rs.handleListFood)
		api.POST("/consume", rs.handleConsume)
		api.GET("/leaderboard", rs.handleLeaderboard)
	}

	// Административные эндпоинты
	admin := api.Group("/")
	admin.Use(rs.adminMiddleware())
	{
		admin.POST("/game/init", rs.handleInitGame)
		admin.DELETE("/players/:id", rs.handleDeletePlayer)
		admin.POST("/food/spawn", rs.handleSpawnFood)
		admin.GET("/connections", rs.handleListConnections)
	}
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (rs *RestServer) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	players, err := rs.store.ListPlayers(ctx)
	if err != nil {
		rs.writeError(c, err)
		return
	}
	food, err := rs.store.ListFood(ctx)
	if err != nil {
		rs.writeError(c, err)
		return
	}

	alive := 0
	for _, p := range players {
		if p.IsAlive {
			alive++
		}
	}

	cpuUsage, err := rs.metrics.GetCPUUsage()
	if err != nil {
		rs.log.Debug("Не удалось получить CPU: %v", err)
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Data: gin.H{
			"uptime":        rs.metrics.GetUptime(),
			"cpu_percent":   cpuUsage,
			"memory":        rs.metrics.GetDetailedMemoryStats(),
			"connections":   rs.connections.Count(),
			"players":       len(players),
			"alive_players": alive,
			"food":          len(food),
		},
	})
}

// handleListConnections показывает соединения с временем последнего ping
func (rs *RestServer) handleListConnections(c *gin.Context) {
	infos := rs.connections.List()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	views := make([]ConnectionView, 0, len(infos))
	for _, info := range infos {
		views = append(views, ConnectionView{
			ID:          info.ID,
			PlayerID:    info.PlayerID,
			RemoteAddr:  info.RemoteAddr,
			State:       info.State.String(),
			ConnectedAt: info.ConnectedAt,
			LastPing:    info.LastPing,
		})
	}
	rs.ok(c, http.StatusOK, views)
}

func (rs *RestServer) handleGetGame(c *gin.Context) {
	cfg, err := rs.store.Config(c.Request.Context())
	if err != nil {
		rs.writeError(c, err)
		return
	}
	rs.ok(c, http.StatusOK, cfg)
}

// handleInitGame повторный вызов возвращает уже существующую конфигурацию
func (rs *RestServer) handleInitGame(c *gin.Context) {
	cfg, err := rs.store.InitConfig(c.Request.Context())
	if err != nil {
		rs.writeError(c, err)
		return
	}
	rs.ok(c, http.StatusOK, cfg)
}

func (rs *RestServer) handleListPlayers(c *gin.Context) {
	players, err := rs.store.ListPlayers(c.Request.Context())
	if err != nil {
		rs.writeError(c, err)
		return
	}
	rs.ok(c, http.StatusOK, players)
}

func (rs *RestServer) handleCreatePlayer(c *gin.Context) {
	var req CreatePlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.writeError(c, errBadRequest)
		return
	}

	var pos *game.Vec2
	if req.X != nil && req.Y != nil {
		pos = &game.Vec2{X: *req.X, Y: *req.Y}
	}

	p, err := rs.store.CreatePlayer(c.Request.Context(), req.Name, pos)
	if err != nil {
		rs.writeError(c, err)
		return
	}
	rs.ok(c, http.StatusCreated, p)
}

// handleGetPlayer для неизвестного id отвечает 200 с data: null
func (rs *RestServer) handleGetPlayer(c *gin.Context) {
	p, err := rs.store.GetPlayer(c.Request.Context(), c.Param("id"))
	if errors.Is(err, game.ErrNotFound) {
		rs.ok(c, http.StatusOK, nil)
		return
	}
	if err != nil {
		rs.writeError(c, err)
		return
	}
	rs.ok(c, http.StatusOK, p)
}

func (rs *RestServer) handleUpdatePosition(c *gin.Context) {
	var req PositionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.X == nil || req.Y == nil {
		rs.writeError(c, errBadRequest)
		return
	}

	p, err := rs.store.UpdatePosition(c.Request.Context(), c.Param("id"), *req.X, *req.Y)
	if err != nil {
		rs.writeError(c, err)
		return
	}
	rs.ok(c, http.StatusOK, p)
}

func (rs *RestServer) handleDeletePlayer(c *gin.Context) {
	if err := rs.store.DeletePlayer(c.Request.Context(), c.Param("id")); err != nil {
		rs.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Player deleted"})
}

func (rs *RestServer) handleListFood(c *gin.Context) {
	food, err := rs.store.ListFood(c.Request.Context())
	if err != nil {
		rs.writeError(c, err)
		return
	}
	rs.ok(c, http.StatusOK, food)
}

func (rs *RestServer) handleSpawnFood(c *gin.Context) {
	req := SpawnFoodRequest{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			rs.writeError(c, errBadRequest)
			return
		}
	}
	count := 1
	if req.Count != nil {
		count = *req.Count
	}

	ctx := c.Request.Context()
	batch, err := rs.store.SpawnFood(ctx, count)
	if err != nil {
		rs.writeError(c, err)
		return
	}

	if rs.announcer != nil {
		// Рассылка идёт вне контекста запроса: клиент мог уже отключиться
		if err := rs.announcer.AnnounceFoodSpawned(context.WithoutCancel(ctx), batch); err != nil {
			rs.log.Warn("⚠️ Не удалось разослать food_spawned: %v", err)
		}
	}
	rs.ok(c, http.StatusCreated, batch)
}

func (rs *RestServer) handleConsume(c *gin.Context) {
	var req ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PlayerID == "" || req.TargetID == "" {
		rs.writeError(c, errBadRequest)
		return
	}
	kind, err := game.ParseTargetKind(req.TargetType)
	if err != nil {
		rs.writeError(c, err)
		return
	}

	res, err := rs.arbiter.Consume(c.Request.Context(), req.PlayerID, game.Target{Kind: kind, ID: req.TargetID})
	if err != nil {
		rs.writeError(c, err)
		return
	}

	if rs.announcer != nil {
		rs.announcer.AnnounceConsumption(res)
	}
	rs.ok(c, http.StatusOK, ConsumeResponse{
		Player:     res.Consumer,
		ConsumedID: res.Target.ID,
		TargetType: res.Target.Kind,
		MassGained: res.MassGained,
	})
}

func (rs *RestServer) handleLeaderboard(c *gin.Context) {
	limit := world.DefaultLeaderboardLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			rs.writeError(c, errBadRequest)
			return
		}
		limit = n
	}

	entries, err := rs.store.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		rs.writeError(c, err)
		return
	}
	rs.ok(c, http.StatusOK, entries)
}

func (rs *RestServer) ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, GenericResponse{Success: true, Data: data})
}

// writeError переводит ошибку ядра в HTTP-статус
func (rs *RestServer) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	message := game.ErrorMessage(err)
	if errors.Is(err, errBadRequest) {
		message = "Invalid request body"
	}
	if status >= http.StatusInternalServerError {
		rs.log.Error("❌ %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, GenericResponse{Success: false, Message: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, game.ErrInvalidName),
		errors.Is(err, game.ErrInvalidTargetKind),
		errors.Is(err, game.ErrInvalidCount):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrNotAlive),
		errors.Is(err, game.ErrInsufficientMass),
		errors.Is(err, game.ErrWorldFull):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
