package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: полный цикл предсказания (валидация + роутинг + модель)
	PredictDuration *prometheus.HistogramVec

	// Traffic: прогнозы по моделям и сторонам A/B-тестов
	PredictionsTotal *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Throttling — не ошибка, а штатный ответ; считаем отдельно по окнам
	ThrottledTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker перед моделью (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Незакрытые дрифт-алерты (backlog оператора)
	UnackedAlerts prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		PredictDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "diana_predict_duration_seconds",
			Help:    "Histogram of prediction latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"model", "status"}),

		PredictionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "diana_predictions_total",
			Help: "Total number of served predictions.",
		}, []string{"model", "arm"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "diana_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: validation, model_unavailable, storage, internal

		ThrottledTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "diana_throttled_total",
			Help: "Total number of rate-limited requests by window.",
		}, []string{"window"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "diana_circuit_breaker_state",
			Help: "Current state of the model circuit breaker (0=closed, 1=open).",
		}, []string{"model"}),

		UnackedAlerts: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "diana_drift_alerts_unacknowledged",
			Help: "Current number of unacknowledged drift alerts.",
		}),
	}
}
