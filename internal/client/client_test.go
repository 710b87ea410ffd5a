package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/arena/internal/network"
	"github.com/annel0/arena/internal/protocol"
	"github.com/annel0/arena/internal/storage"
	"github.com/annel0/arena/internal/world"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArena(t *testing.T, ctx context.Context) *httptest.Server {
	t.Helper()
	store := world.NewEntityStore(storage.NewMemoryRepository(), world.DefaultRules())
	handler := network.NewGameHandler(store, world.NewArbiter(store), network.NewRegistry(nil), nil)
	srv := httptest.NewServer(network.NewWSServer(ctx, handler, network.DefaultWSOptions()))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type inbox struct {
	mu   sync.Mutex
	msgs []protocol.Envelope
}

func (in *inbox) handle(env protocol.Envelope) {
	in.mu.Lock()
	in.msgs = append(in.msgs, env)
	in.mu.Unlock()
}

func (in *inbox) has(t protocol.MsgType) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, m := range in.msgs {
		if m.Type == t {
			return true
		}
	}
	return false
}

func TestClientConnectsAndPings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := newArena(t, ctx)

	in := &inbox{}
	c := New(Options{URL: wsURL(srv)}, in.handle)

	assert.ErrorIs(t, c.Ping(), ErrNotConnected)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return in.has(protocol.MsgGameState) }, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, c.Run(ctx), ErrRunning)

	require.NoError(t, c.Ping())
	require.Eventually(t, func() bool { return in.has(protocol.MsgPong) }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run не завершился после отмены")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClientReconnectsAfterServerClose(t *testing.T) {
	var accepted atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if accepted.Add(1) == 1 {
			// Первое соединение сразу обрываем
			_ = conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(Options{URL: wsURL(srv), InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}, nil)
	states := c.Watch()
	go func() { _ = c.Run(ctx) }()

	var seen []State
	timeout := time.After(3 * time.Second)
	for len(seen) < 5 {
		select {
		case s := <-states:
			seen = append(seen, s)
		case <-timeout:
			t.Fatalf("переходы: %v", seen)
		}
	}

	assert.Equal(t, []State{
		StateConnecting, StateConnected,
		StateDisconnected,
		StateConnecting, StateConnected,
	}, seen)
	assert.EqualValues(t, 2, accepted.Load())
}

func TestClientRetriesUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	c := New(Options{URL: url, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond}, nil)
	states := c.Watch()
	require.NoError(t, c.Run(ctx))

	connecting := 0
	for {
		select {
		case s := <-states:
			if s == StateConnecting {
				connecting++
			}
			continue
		default:
		}
		break
	}
	assert.GreaterOrEqual(t, connecting, 2, "клиент повторяет попытки")
	assert.Equal(t, StateDisconnected, c.State())
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	c := New(Options{URL: "ws://unused", InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}, nil)

	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, c.nextBackoff())
	}
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
		50 * time.Millisecond,
	}, got)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
}
