package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Skufu/DianaV2/internal/abtest"
	"github.com/Skufu/DianaV2/internal/domain"
	"github.com/Skufu/DianaV2/internal/drift"
	"github.com/Skufu/DianaV2/internal/infra"
	"github.com/Skufu/DianaV2/internal/model"
	"github.com/Skufu/DianaV2/internal/ratelimit"
	"github.com/Skufu/DianaV2/internal/registry"
)

// PredictRequest — один запрос на прогноз.
// PatientID нужен для детерминированного A/B-роутинга и записи в лог
// эксперимента; наружу он не персистится (только усеченный дайджест).
type PredictRequest struct {
	PatientID string               `json:"patient_id"`
	ModelType string               `json:"model_type,omitempty"` // clinical (дефолт) или ada
	ABTest    string               `json:"ab_test,omitempty"`    // имя активного теста
	Features  domain.FeatureVector `json:"features"`
}

// BatchItem — результат одного элемента батча. Ошибка элемента не валит
// остальные: клиника шлет выгрузку целиком и разбирает отказы по индексам.
type BatchItem struct {
	Index      int                `json:"index"`
	Prediction *domain.Prediction `json:"prediction,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// MaxBatchSize ограничивает размер батча: выше — это уже не онлайн-скоринг,
// а офлайн-джоба, и ей не место в serving-процессе
const MaxBatchSize = 1000

// Engine — фасад serving-пайплайна: лимиты, валидация, роутинг, модель,
// телеметрия эксперимента. HTTP-слой выше только декодирует и маппит ошибки.
type Engine struct {
	limiter  *ratelimit.Limiter
	registry *registry.Registry
	abtests  *abtest.Manager
	monitor  *drift.Monitor
	metrics  *Metrics
	logger   *zap.Logger

	predictTimeout time.Duration

	// Обертки надежности кэшируются на модель: у предохранителя есть
	// состояние, новая обертка на каждый запрос обнуляла бы его
	wrapMu   sync.Mutex
	wrappers map[string]*ReliabilityWrapper
}

func New(
	limiter *ratelimit.Limiter,
	reg *registry.Registry,
	abtests *abtest.Manager,
	monitor *drift.Monitor,
	cfg infra.ModelsConfig,
	metrics *Metrics,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		limiter:        limiter,
		registry:       reg,
		abtests:        abtests,
		monitor:        monitor,
		metrics:        metrics,
		logger:         logger.Named("engine"),
		predictTimeout: cfg.PredictTimeout,
		wrappers:       make(map[string]*ReliabilityWrapper),
	}
}

// Predict прогоняет полный пайплайн для одного пациента.
// clientID — идентификатор вызывающей стороны для rate limiting (не пациента).
func (e *Engine) Predict(ctx context.Context, clientID string, req PredictRequest) (*domain.Prediction, error) {
	started := time.Now()

	if ok, terr := e.limiter.Allow(clientID); !ok {
		// Троттлинг — не ошибка сервиса: метрика вместо error-лога
		e.metrics.ThrottledTotal.WithLabelValues(terr.Window).Inc()
		return nil, terr
	}

	pred, err := e.predict(ctx, req)

	status := "ok"
	if err != nil {
		status = "error"
		e.countError(err)
	}
	modelLabel := req.ModelType
	if modelLabel == "" {
		modelLabel = "default"
	}
	e.metrics.PredictDuration.WithLabelValues(modelLabel, status).Observe(time.Since(started).Seconds())
	return pred, err
}

func (e *Engine) predict(ctx context.Context, req PredictRequest) (*domain.Prediction, error) {
	if req.PatientID == "" {
		return nil, &domain.ValidationError{
			ModelType: req.ModelType, Problems: []string{"patient_id is required"}}
	}

	modelName := req.ModelType
	arm := domain.ArmBaseline
	var routing *domain.RoutingDecision

	// A/B-роутинг перекрывает явно запрошенную модель: смысл эксперимента
	// именно в том, что выбор версии делает не клиент
	if req.ABTest != "" {
		decision := e.abtests.Route(req.ABTest, req.PatientID)
		if decision.ModelVersion != "" {
			modelName = decision.ModelVersion
			arm = decision.Arm
			routing = &decision
		}
	}

	var handle *registry.Handle
	var err error
	if modelName == "" {
		handle, err = e.registry.Default()
	} else {
		handle, err = e.registry.Get(modelName)
	}
	if err != nil {
		return nil, err
	}

	wrapped := e.wrapped(handle)

	if err := model.Validate(handle.Name, wrapped.Contract(), req.Features); err != nil {
		return nil, err
	}

	pred, err := wrapped.Predict(ctx, req.Features)
	if err != nil {
		return nil, err
	}
	pred.Routing = routing

	e.metrics.PredictionsTotal.WithLabelValues(handle.Name, string(arm)).Inc()

	if routing != nil {
		// Телеметрия эксперимента — best effort: её сбой не должен
		// задержать или завалить ответ пациенту
		rec := pred
		go func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			e.abtests.RecordPrediction(rctx, routing.TestName, routing.ModelVersion, req.PatientID, req.Features, rec)
		}()
	}

	return &pred, nil
}

// PredictBatch обрабатывает до MaxBatchSize запросов. Лимитер списывает
// один вызов на весь батч: клиника с выгрузкой — это один клиентский запрос.
func (e *Engine) PredictBatch(ctx context.Context, clientID string, reqs []PredictRequest) ([]BatchItem, error) {
	if len(reqs) == 0 {
		return nil, &domain.ValidationError{Problems: []string{"batch is empty"}}
	}
	if len(reqs) > MaxBatchSize {
		return nil, &domain.ValidationError{Problems: []string{
			fmt.Sprintf("batch size %d exceeds limit %d", len(reqs), MaxBatchSize)}}
	}

	if ok, terr := e.limiter.Allow(clientID); !ok {
		e.metrics.ThrottledTotal.WithLabelValues(terr.Window).Inc()
		return nil, terr
	}

	items := make([]BatchItem, len(reqs))
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		item := BatchItem{Index: i}
		pred, err := e.predict(ctx, req)
		if err != nil {
			item.Error = err.Error()
			e.countError(err)
		} else {
			item.Prediction = pred
		}
		items[i] = item
	}
	return items, nil
}

// wrapped возвращает кэшированную обертку надежности для хэндла
func (e *Engine) wrapped(h *registry.Handle) *ReliabilityWrapper {
	e.wrapMu.Lock()
	defer e.wrapMu.Unlock()
	if w, ok := e.wrappers[h.Name]; ok {
		return w
	}
	w := NewReliabilityWrapper(h.Name, h.Predictor, e.predictTimeout, e.metrics)
	e.wrappers[h.Name] = w
	return w
}

func (e *Engine) countError(err error) {
	e.metrics.ErrorTotal.WithLabelValues(errorKind(err)).Inc()
}

// ModelInfo описывает один сконфигурированный слот реестра
type ModelInfo struct {
	Name     string                 `json:"name"`
	Loaded   bool                   `json:"loaded"`
	Contract domain.FeatureContract `json:"contract"`
}

// Models возвращает сводку по слотам без провокации ленивой загрузки
func (e *Engine) Models() []ModelInfo {
	names := e.registry.Names()
	out := make([]ModelInfo, 0, len(names))
	for _, name := range names {
		out = append(out, ModelInfo{
			Name:     name,
			Loaded:   e.registry.Loaded(name),
			Contract: model.ContractFor(name),
		})
	}
	return out
}

// ABTests открывает менеджер экспериментов операторским ручкам
func (e *Engine) ABTests() *abtest.Manager { return e.abtests }

// Drift открывает дрифт-монитор операторским ручкам
func (e *Engine) Drift() *drift.Monitor { return e.monitor }

// SyncAlertGauge обновляет метрику незакрытых алертов из состояния монитора
func (e *Engine) SyncAlertGauge() {
	e.metrics.UnackedAlerts.Set(float64(e.monitor.Status().UnacknowledgedAlerts))
}
