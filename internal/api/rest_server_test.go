package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/annel0/arena/internal/auth"
	"github.com/annel0/arena/internal/game"
	"github.com/annel0/arena/internal/network"
	"github.com/annel0/arena/internal/storage"
	"github.com/annel0/arena/internal/world"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingAnnouncer struct {
	mu       sync.Mutex
	consumed []game.ConsumeResult
	spawned  [][]game.Food
}

func (a *recordingAnnouncer) AnnounceConsumption(res game.ConsumeResult) {
	a.mu.Lock()
	a.consumed = append(a.consumed, res)
	a.mu.Unlock()
}

func (a *recordingAnnouncer) AnnounceFoodSpawned(_ context.Context, batch []game.Food) error {
	a.mu.Lock()
	a.spawned = append(a.spawned, batch)
	a.mu.Unlock()
	return nil
}

// stubConn соединение без транспорта для реестра
type stubConn struct{ id string }

func (c stubConn) ID() string              { return c.id }
func (c stubConn) RemoteAddr() string      { return "test:" + c.id }
func (c stubConn) Send(frame []byte) error { return nil }
func (c stubConn) Close() error            { return nil }

type testServer struct {
	rs        *RestServer
	store     *world.EntityStore
	announcer *recordingAnnouncer
	conns     *network.Registry
}

func newTestServer(t *testing.T, issuer *auth.Issuer) *testServer {
	t.Helper()
	store := world.NewEntityStore(storage.NewMemoryRepository(), world.DefaultRules())
	announcer := &recordingAnnouncer{}
	conns := network.NewRegistry(nil)
	for _, id := range []string{"c3", "c1", "c2"} {
		require.NoError(t, conns.Add(stubConn{id: id}))
		conns.MarkOpen(id)
	}
	rs := NewRestServer(Config{
		Store:       store,
		Arbiter:     world.NewArbiter(store),
		Announcer:   announcer,
		Issuer:      issuer,
		Connections: conns,
		Registry:    prometheus.NewRegistry(),
	})
	return &testServer{rs: rs, store: store, announcer: announcer, conns: conns}
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	ts.rs.Handler().ServeHTTP(w, req)

	var resp response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

func (ts *testServer) createPlayer(t *testing.T, name string, x, y float64) game.Player {
	t.Helper()
	code, resp := ts.do(t, http.MethodPost, "/api/players", gin.H{"name": name, "x": x, "y": y})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var p game.Player
	require.NoError(t, json.Unmarshal(resp.Data, &p))
	return p
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	w := httptest.NewRecorder()
	ts.rs.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	_, err := time.Parse(time.RFC3339, body["timestamp"])
	assert.NoError(t, err)
}

func TestGameInitIdempotent(t *testing.T) {
	ts := newTestServer(t, nil)

	code, first := ts.do(t, http.MethodPost, "/api/game/init", nil)
	require.Equal(t, http.StatusOK, code)
	code, second := ts.do(t, http.MethodPost, "/api/game/init", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, string(first.Data), string(second.Data))

	var cfg game.GameConfig
	require.NoError(t, json.Unmarshal(first.Data, &cfg))
	assert.Equal(t, game.DefaultMaxPlayers, cfg.MaxPlayers)
	assert.Equal(t, game.DefaultMapWidth, cfg.MapWidth)

	code, got := ts.do(t, http.MethodGet, "/api/game", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, string(first.Data), string(got.Data))
}

func TestPlayerLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	p := ts.createPlayer(t, "alice", 100, 200)
	assert.Equal(t, 10.0, p.Mass)
	assert.Equal(t, 100.0, p.X)
	assert.True(t, p.IsAlive)

	code, resp := ts.do(t, http.MethodGet, "/api/players/"+p.ID, nil)
	require.Equal(t, http.StatusOK, code)
	var got game.Player
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, p.ID, got.ID)

	code, resp = ts.do(t, http.MethodPut, "/api/players/"+p.ID+"/position", gin.H{"x": 5, "y": 6})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, 5.0, got.X)
	assert.Equal(t, 6.0, got.Y)

	code, resp = ts.do(t, http.MethodGet, "/api/players", nil)
	require.Equal(t, http.StatusOK, code)
	var list []game.Player
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 1)

	code, _ = ts.do(t, http.MethodDelete, "/api/players/"+p.ID, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodDelete, "/api/players/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, code, "удаление идемпотентно")
}

func TestGetUnknownPlayerReturnsNull(t *testing.T) {
	ts := newTestServer(t, nil)
	code, resp := ts.do(t, http.MethodGet, "/api/players/player_missing", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, "null", string(resp.Data))
}

func TestCreatePlayerValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"пустое имя", gin.H{"name": ""}, http.StatusBadRequest},
		{"длинное имя", gin.H{"name": "abcdefghijklmnopqrstu"}, http.StatusBadRequest},
		{"не JSON", "oops", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := ts.do(t, http.MethodPost, "/api/players", tt.body)
			assert.Equal(t, tt.code, code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestUpdatePositionErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	code, _ := ts.do(t, http.MethodPut, "/api/players/player_missing/position", gin.H{"x": 1, "y": 1})
	assert.Equal(t, http.StatusNotFound, code)

	p := ts.createPlayer(t, "bob", 1, 1)
	code, _ = ts.do(t, http.MethodPut, "/api/players/"+p.ID+"/position", gin.H{"x": 1})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSpawnFoodAndAnnounce(t *testing.T) {
	ts := newTestServer(t, nil)

	code, resp := ts.do(t, http.MethodPost, "/api/food/spawn", gin.H{"count": 4})
	require.Equal(t, http.StatusCreated, code)
	var batch []game.Food
	require.NoError(t, json.Unmarshal(resp.Data, &batch))
	assert.Len(t, batch, 4)

	code, resp = ts.do(t, http.MethodPost, "/api/food/spawn", nil)
	require.Equal(t, http.StatusCreated, code)
	require.NoError(t, json.Unmarshal(resp.Data, &batch))
	assert.Len(t, batch, 1, "по умолчанию одна частица")

	code, _ = ts.do(t, http.MethodPost, "/api/food/spawn", gin.H{"count": 0})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = ts.do(t, http.MethodGet, "/api/food", nil)
	require.Equal(t, http.StatusOK, code)
	var all []game.Food
	require.NoError(t, json.Unmarshal(resp.Data, &all))
	assert.Len(t, all, 5)

	assert.Len(t, ts.announcer.spawned, 2)
}

func TestConsumeEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	a := ts.createPlayer(t, "a", 50, 50)
	food, err := ts.store.SpawnFood(ctx, 1)
	require.NoError(t, err)

	code, resp := ts.do(t, http.MethodPost, "/api/consume", gin.H{
		"playerId": a.ID, "targetId": food[0].ID, "targetType": "food",
	})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var res ConsumeResponse
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, 11.0, res.Player.Mass)
	assert.Equal(t, 1.0, res.MassGained)
	assert.Equal(t, game.TargetFood, res.TargetType)
	require.Len(t, ts.announcer.consumed, 1)

	// Повторное поглощение той же еды
	code, resp = ts.do(t, http.MethodPost, "/api/consume", gin.H{
		"playerId": a.ID, "targetId": food[0].ID, "targetType": "food",
	})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Target not found", resp.Message)

	b := ts.createPlayer(t, "b", 50, 50)
	code, resp = ts.do(t, http.MethodPost, "/api/consume", gin.H{
		"playerId": b.ID, "targetId": a.ID, "targetType": "player",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Player not large enough to consume target", resp.Message)

	code, _ = ts.do(t, http.MethodPost, "/api/consume", gin.H{
		"playerId": a.ID, "targetId": b.ID, "targetType": "planet",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Len(t, ts.announcer.consumed, 1)
}

func TestLeaderboardEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, name := range []string{"p1", "p2", "p3"} {
		ts.createPlayer(t, name, 0, 0)
	}

	code, resp := ts.do(t, http.MethodGet, "/api/leaderboard?limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	var entries []game.LeaderboardEntry
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 2, entries[1].Rank)

	code, resp = ts.do(t, http.MethodGet, "/api/leaderboard", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	assert.Len(t, entries, 3)

	for _, bad := range []string{"abc", "0", "-3"} {
		code, _ = ts.do(t, http.MethodGet, "/api/leaderboard?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, code, bad)
	}
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createPlayer(t, "s", 0, 0)

	code, resp := ts.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, code)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.EqualValues(t, 3, data["connections"])
	assert.EqualValues(t, 1, data["players"])
	assert.EqualValues(t, 1, data["alive_players"])
	assert.Contains(t, data, "memory")
}

func TestListConnectionsShowsLastPing(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.conns.Bind("c2", "player_x")
	time.Sleep(5 * time.Millisecond)
	ts.conns.Touch("c2")

	code, resp := ts.do(t, http.MethodGet, "/api/connections", nil)
	require.Equal(t, http.StatusOK, code)

	var views []ConnectionView
	require.NoError(t, json.Unmarshal(resp.Data, &views))
	require.Len(t, views, 3)
	assert.Equal(t, []string{"c1", "c2", "c3"}, []string{views[0].ID, views[1].ID, views[2].ID})

	assert.True(t, views[0].LastPing.Equal(views[0].ConnectedAt), "ping ещё не приходил")
	assert.True(t, views[1].LastPing.After(views[1].ConnectedAt), "ping обновил время")
	assert.Equal(t, "player_x", views[1].PlayerID)
	assert.Equal(t, network.StateOpen.String(), views[1].State)
}

func TestListConnectionsIsAdminOnly(t *testing.T) {
	iss, err := auth.NewIssuer("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	ts := newTestServer(t, iss)

	code, _ := ts.do(t, http.MethodGet, "/api/connections", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	iss, err := auth.NewIssuer("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	ts := newTestServer(t, iss)

	code, resp := ts.do(t, http.MethodPost, "/api/food/spawn", gin.H{"count": 1})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)

	code, _ = ts.do(t, http.MethodPost, "/api/food/spawn", gin.H{"count": 1}, "Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.do(t, http.MethodPost, "/api/food/spawn", gin.H{"count": 1}, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, code)

	userToken, err := iss.Issue("player", false, time.Hour)
	require.NoError(t, err)
	code, _ = ts.do(t, http.MethodPost, "/api/food/spawn", gin.H{"count": 1}, "Authorization", "Bearer "+userToken)
	assert.Equal(t, http.StatusForbidden, code)

	adminToken, err := iss.Issue("ops", true, time.Hour)
	require.NoError(t, err)
	code, _ = ts.do(t, http.MethodPost, "/api/food/spawn", gin.H{"count": 1}, "Authorization", "Bearer "+adminToken)
	assert.Equal(t, http.StatusCreated, code)

	// Открытые маршруты токен не требуют
	code, _ = ts.do(t, http.MethodGet, "/api/food", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodGet, "/api/players", nil)

	w := httptest.NewRecorder()
	ts.rs.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "arena_rest_http_request_duration_seconds")
}

func TestServerIntegrationStartStop(t *testing.T) {
	store := world.NewEntityStore(storage.NewMemoryRepository(), world.DefaultRules())
	si := NewServerIntegration("127.0.0.1:0", Config{
		Store:    store,
		Arbiter:  world.NewArbiter(store),
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, si.Start())

	resp, err := http.Get("http://" + si.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, si.Stop(ctx))
}
