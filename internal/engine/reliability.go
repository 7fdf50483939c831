package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/Skufu/DianaV2/internal/domain"
	"github.com/Skufu/DianaV2/internal/model"
)

// ReliabilityWrapper оборачивает предиктор в предохранитель, ретраи и
// ограничитель совокупной нагрузки на модель. Локальный артефакт это почти
// не тормозит, а удаленный model runner перестает получать шквал запросов
// после первых таймаутов.
type ReliabilityWrapper struct {
	next    model.Predictor
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
	metrics *Metrics
	name    string
}

func NewReliabilityWrapper(name string, next model.Predictor, timeout time.Duration, metrics *Metrics) *ReliabilityWrapper {
	w := &ReliabilityWrapper{
		next:    next,
		timeout: timeout,
		metrics: metrics,
		name:    name,
	}

	// Настройка предохранителя
	w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "model-" + name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if metrics == nil {
				return
			}
			state := 0.0
			if to == gobreaker.StateOpen {
				state = 1.0
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(state)
		},
	})

	// Совокупный потолок нагрузки на модель, поверх пер-клиентских лимитов
	w.limiter = rate.NewLimiter(rate.Limit(100), 20)
	return w
}

func (w *ReliabilityWrapper) Predict(ctx context.Context, features domain.FeatureVector) (domain.Prediction, error) {
	var zero domain.Prediction

	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("model load limit: %w", err)
	}

	var result domain.Prediction

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(retry.BackOffDelay),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()

			var callErr error
			result, callErr = w.next.Predict(tCtx, features)
			return callErr
		})

		return result, retryErr
	})

	if err != nil {
		return zero, &domain.ModelUnavailableError{Model: w.name, Cause: err}
	}
	return cbResult.(domain.Prediction), nil
}

func (w *ReliabilityWrapper) PredictClass(ctx context.Context, features domain.FeatureVector) (string, error) {
	pred, err := w.Predict(ctx, features)
	if err != nil {
		return "", err
	}
	return pred.PredictedStatus, nil
}

func (w *ReliabilityWrapper) Contract() domain.FeatureContract { return w.next.Contract() }
func (w *ReliabilityWrapper) Version() string                  { return w.next.Version() }
