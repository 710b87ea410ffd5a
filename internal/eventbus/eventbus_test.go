package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type consumedPayload struct {
	ConsumerID string  `json:"consumerId"`
	NewMass    float64 `json:"newMass"`
}

func TestMemoryBusDeliversFilteredEvents(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	got := make(chan *Envelope, 4)
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{EventPlayerConsumed}}, func(ctx context.Context, ev *Envelope) {
		got <- ev
	})
	require.NoError(t, err)

	spawned, err := NewEnvelope(EventFoodSpawned, 1, map[string]int{"count": 3})
	require.NoError(t, err)
	consumed, err := NewEnvelope(EventPlayerConsumed, 5, consumedPayload{ConsumerID: "player_a", NewMass: 11})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), spawned))
	require.NoError(t, bus.Publish(context.Background(), consumed))

	select {
	case ev := <-got:
		assert.Equal(t, EventPlayerConsumed, ev.EventType)
		assert.Equal(t, DefaultSource, ev.Source)
		var p consumedPayload
		require.NoError(t, ev.Decode(&p))
		assert.Equal(t, "player_a", p.ConsumerID)
		assert.Equal(t, 11.0, p.NewMass)
	case <-time.After(time.Second):
		t.Fatal("событие не доставлено")
	}

	select {
	case ev := <-got:
		t.Fatalf("получено лишнее событие %s", ev.EventType)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(16)

	got := make(chan struct{}, 4)
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		got <- struct{}{}
	})
	require.NoError(t, err)
	sub.Unsubscribe()

	ev, err := NewEnvelope(EventPlayerLeft, 1, nil)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Close())

	assert.Len(t, got, 0)
	assert.Equal(t, uint64(1), bus.Metrics().Published)
	assert.Equal(t, uint64(0), bus.Metrics().Consumed)
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus(1)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	ev, err := NewEnvelope(EventPlayerDied, 5, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, bus.Publish(context.Background(), ev), ErrClosed)

	_, err = bus.Subscribe(context.Background(), Filter{}, func(context.Context, *Envelope) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEmitWithoutBusIsNoop(t *testing.T) {
	Init(nil)
	assert.NotPanics(t, func() {
		Emit(context.Background(), EventFoodSpawned, 1, []int{1, 2})
	})
}

func TestEmitPublishesToGlobalBus(t *testing.T) {
	bus := NewMemoryBus(4)
	Init(bus)
	defer Init(nil)

	got := make(chan *Envelope, 1)
	_, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		got <- ev
	})
	require.NoError(t, err)

	Emit(context.Background(), EventPlayerJoined, 1, map[string]string{"playerId": "player_x"})
	require.NoError(t, bus.Close())

	select {
	case ev := <-got:
		assert.Equal(t, EventPlayerJoined, ev.EventType)
		assert.JSONEq(t, `{"playerId":"player_x"}`, string(ev.Payload))
	default:
		t.Fatal("Emit не дошёл до шины")
	}
}

func TestEmitIsBoundedOnFullBus(t *testing.T) {
	prev := PublishTimeout
	PublishTimeout = 100 * time.Millisecond
	defer func() { PublishTimeout = prev }()

	bus := NewMemoryBus(1)
	Init(bus)
	defer Init(nil)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	_, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})
	require.NoError(t, err)

	Emit(context.Background(), EventPlayerConsumed, 5, "first")
	<-entered
	Emit(context.Background(), EventPlayerConsumed, 5, "buffered")

	start := time.Now()
	Emit(context.Background(), EventPlayerConsumed, 5, "blocked")
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, PublishTimeout)
	assert.Less(t, elapsed, time.Second)

	close(release)
	require.NoError(t, bus.Close())
	assert.EqualValues(t, 2, bus.Metrics().Published)
}

func TestMetricsExporterCollect(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()

	reg := prometheus.NewRegistry()
	exporter := NewMetricsExporter(bus, reg)

	for i := 0; i < 3; i++ {
		ev, err := NewEnvelope(EventFoodSpawned, 1, i)
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}

	prev := exporter.Collect(Stats{})
	assert.Equal(t, 3.0, counterValue(t, reg, "arena_eventbus_messages_published_total"))

	// Повторный сбор без новых событий не увеличивает счётчик
	exporter.Collect(prev)
	assert.Equal(t, 3.0, counterValue(t, reg, "arena_eventbus_messages_published_total"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("метрика %s не найдена", name)
	return 0
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "arena.player_consumed", Subject(EventPlayerConsumed))
}
