package network

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики реального времени арены.
// Nil *Metrics допустим: все методы становятся no-op.
type Metrics struct {
	connections       prometheus.Gauge
	messages          *prometheus.CounterVec
	rejected          *prometheus.CounterVec
	consumptions      *prometheus.CounterVec
	sendFailures      prometheus.Counter
	broadcastDuration *prometheus.HistogramVec
	foodSpawned       prometheus.Counter
}

// NewMetrics создаёт метрики и регистрирует их в reg (nil: глобальный регистр)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arena",
			Name:      "connections",
			Help:      "Количество открытых соединений.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "messages_total",
			Help:      "Входящие сообщения по типам.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "messages_rejected_total",
			Help:      "Отклонённые входящие сообщения по причине.",
		}, []string{"reason"}),
		consumptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "consumptions_total",
			Help:      "Попытки поглощения по типу цели и исходу.",
		}, []string{"target_type", "outcome"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "send_failures_total",
			Help:      "Неудачные отправки отдельному соединению.",
		}),
		broadcastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arena",
			Name:      "broadcast_duration_seconds",
			Help:      "Длительность рассылки одного сообщения всем соединениям.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"type"}),
		foodSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "food_spawned_total",
			Help:      "Всего создано частиц еды.",
		}),
	}

	reg.MustRegister(m.connections, m.messages, m.rejected, m.consumptions,
		m.sendFailures, m.broadcastDuration, m.foodSpawned)
	return m
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) message(msgType string) {
	if m != nil {
		m.messages.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) reject(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) consumption(targetType, outcome string) {
	if m != nil {
		m.consumptions.WithLabelValues(targetType, outcome).Inc()
	}
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

func (m *Metrics) observeBroadcast(msgType string, started time.Time) {
	if m != nil {
		m.broadcastDuration.WithLabelValues(msgType).Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) spawned(n int) {
	if m != nil {
		m.foodSpawned.Add(float64(n))
	}
}
