// Package metrics - счетчики prometheus игрового сервиса.
package metrics

import (
	"context"
	"net/http"
	"time"

	"summit-server/internal/events"
	"summit-server/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Результаты операций для метки result.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

var _ events.Sink = (*Metrics)(nil)

// Metrics регистрирует метрики в собственном реестре.
type Metrics struct {
	registry *prometheus.Registry

	opsTotal     *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	eventsTotal  *prometheus.CounterVec
	retriesTotal *prometheus.CounterVec
}

// New создает реестр с метриками сервиса и стандартными коллекторами процесса.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		opsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "summit_operations_total",
			Help: "Total number of game service operations by name and result.",
		}, []string{"op", "result"}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "summit_operation_duration_seconds",
			Help:    "Duration of game service operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		eventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "summit_game_events_total",
			Help: "Total number of committed game events by type.",
		}, []string{"type"}),
		retriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "summit_persistence_retries_total",
			Help: "Total number of operations retried after a persistence error.",
		}, []string{"op"}),
	}
}

// ObserveOp учитывает завершенную операцию.
func (m *Metrics) ObserveOp(op, result string, started time.Time) {
	if m == nil {
		return
	}
	m.opsTotal.WithLabelValues(op, result).Inc()
	m.opDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// ObserveRetry учитывает повтор операции.
func (m *Metrics) ObserveRetry(op string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(op).Inc()
}

// PublishEvents считает закоммиченные события по типам.
func (m *Metrics) PublishEvents(_ context.Context, evs []models.GameEvent) error {
	for _, ev := range evs {
		m.eventsTotal.WithLabelValues(string(ev.Type)).Inc()
	}
	return nil
}

// Registry возвращает реестр (тесты, дополнительные коллекторы).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler отдает метрики в формате prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
