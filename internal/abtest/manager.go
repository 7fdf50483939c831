package abtest

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/Skufu/DianaV2/internal/domain"
	"github.com/Skufu/DianaV2/internal/infra"
	"github.com/Skufu/DianaV2/internal/storage"
)

// ErrNotFound возвращается (обернутым) для операций над несуществующим тестом
var ErrNotFound = errors.New("test not found")

// Manager ведет реестр A/B-тестов и append-only лог прогнозов.
// Все мутации сериализуются на mu; конфиги тестов персистятся сразу,
// лог прогнозов — батчами (каждые flushEvery записей и на Close).
type Manager struct {
	store      storage.Store
	logger     *zap.Logger
	flushEvery int

	mu          sync.Mutex
	tests       map[string]*domain.ABTestConfig
	predictions []domain.PredictionRecord
	unflushed   int

	now func() time.Time
}

func NewManager(ctx context.Context, store storage.Store, cfg infra.ABTestConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		store:      store,
		logger:     logger.Named("abtest"),
		flushEvery: cfg.FlushEvery,
		tests:      make(map[string]*domain.ABTestConfig),
		now:        time.Now,
	}
	if err := m.restore(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// restore поднимает состояние из хранилища. Отсутствие документов — не
// ошибка (первый запуск), битый JSON — ошибка: лучше не стартовать, чем
// молча затереть историю теста при первом же Save.
func (m *Manager) restore(ctx context.Context) error {
	raw, err := m.store.Load(ctx, infra.KeyABTests)
	if err != nil {
		return &domain.PersistenceError{Op: "load", Key: infra.KeyABTests, Cause: err}
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &m.tests); err != nil {
			return &domain.PersistenceError{Op: "decode", Key: infra.KeyABTests, Cause: err}
		}
	}

	raw, err = m.store.Load(ctx, infra.KeyABPredictions)
	if err != nil {
		return &domain.PersistenceError{Op: "load", Key: infra.KeyABPredictions, Cause: err}
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &m.predictions); err != nil {
			return &domain.PersistenceError{Op: "decode", Key: infra.KeyABPredictions, Cause: err}
		}
	}

	m.logger.Info("state restored",
		zap.Int("tests", len(m.tests)),
		zap.Int("predictions", len(m.predictions)))
	return nil
}

// Create регистрирует новый тест. Имя уникально, дубликат — ошибка вызова,
// а не тихая перезапись работающего эксперимента.
func (m *Manager) Create(ctx context.Context, cfg domain.ABTestConfig) (*domain.ABTestConfig, error) {
	if cfg.TestName == "" {
		return nil, fmt.Errorf("abtest: test_name is required")
	}
	if cfg.TrafficSplit < 0 || cfg.TrafficSplit > 1 {
		return nil, fmt.Errorf("abtest: traffic_split must be in [0, 1], got %g", cfg.TrafficSplit)
	}
	if cfg.BaselineVersion == "" || cfg.ChallengerVersion == "" {
		return nil, fmt.Errorf("abtest: baseline_version and challenger_version are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tests[cfg.TestName]; exists {
		return nil, fmt.Errorf("abtest: test %q already exists", cfg.TestName)
	}

	cfg.CreatedAt = m.now().UTC()
	cfg.Status = domain.TestActive
	cfg.EndAt = nil
	m.tests[cfg.TestName] = &cfg

	if err := m.saveTestsLocked(ctx); err != nil {
		delete(m.tests, cfg.TestName)
		return nil, err
	}
	m.logger.Info("test created",
		zap.String("test", cfg.TestName),
		zap.Float64("traffic_split", cfg.TrafficSplit))
	out := cfg
	return &out, nil
}

// UpdateStatus переводит тест между active/paused/completed.
// Завершение фиксирует EndAt; лог прогнозов не трогаем — он нужен для отчета.
func (m *Manager) UpdateStatus(ctx context.Context, testName string, status domain.TestStatus) (*domain.ABTestConfig, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("abtest: invalid status %q", status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[testName]
	if !ok {
		return nil, fmt.Errorf("abtest: test %q: %w", testName, ErrNotFound)
	}

	prev, prevEnd := t.Status, t.EndAt
	t.Status = status
	if status == domain.TestCompleted && t.EndAt == nil {
		end := m.now().UTC()
		t.EndAt = &end
	}

	if err := m.saveTestsLocked(ctx); err != nil {
		t.Status, t.EndAt = prev, prevEnd
		return nil, err
	}
	m.logger.Info("test status changed",
		zap.String("test", testName),
		zap.String("status", string(status)))
	out := *t
	return &out, nil
}

// Delete удаляет конфигурацию теста. purgeLog=true дополнительно вычищает
// его записи из лога прогнозов.
func (m *Manager) Delete(ctx context.Context, testName string, purgeLog bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed, ok := m.tests[testName]
	if !ok {
		return fmt.Errorf("abtest: test %q: %w", testName, ErrNotFound)
	}
	delete(m.tests, testName)

	// Откат при неудачном Save, как в Create/UpdateStatus: память и
	// хранилище не должны разъезжаться
	prevLog := m.predictions
	rollback := func() {
		m.tests[testName] = removed
		m.predictions = prevLog
	}

	if purgeLog {
		kept := make([]domain.PredictionRecord, 0, len(m.predictions))
		for _, rec := range m.predictions {
			if rec.TestName != testName {
				kept = append(kept, rec)
			}
		}
		m.predictions = kept
		if err := m.savePredictionsLocked(ctx); err != nil {
			rollback()
			return err
		}
	}
	if err := m.saveTestsLocked(ctx); err != nil {
		rollback()
		return err
	}
	return nil
}

// Get возвращает копию конфигурации теста
func (m *Manager) Get(testName string) (*domain.ABTestConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[testName]
	if !ok {
		return nil, false
	}
	out := *t
	return &out, true
}

// List перечисляет тесты, новые первыми. status="" — без фильтра.
func (m *Manager) List(status domain.TestStatus) []domain.ABTestConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.ABTestConfig, 0, len(m.tests))
	for _, t := range m.tests {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Route детерминированно выбирает версию модели для пациента.
// Бакет считается от MD5 идентификатора: один и тот же пациент всегда
// попадает в одну и ту же сторону, пока не поменяется traffic_split.
// Неизвестный или неактивный тест — fail-safe на baseline.
func (m *Manager) Route(testName, patientID string) domain.RoutingDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[testName]
	if !ok || t.Status != domain.TestActive {
		version := ""
		if ok {
			version = t.BaselineVersion
		}
		return domain.RoutingDecision{
			TestName:     testName,
			ModelVersion: version,
			Arm:          domain.ArmBaseline,
		}
	}

	if bucket(patientID) < t.TrafficSplit {
		return domain.RoutingDecision{
			TestName:     testName,
			ModelVersion: t.ChallengerVersion,
			Arm:          domain.ArmChallenger,
		}
	}
	return domain.RoutingDecision{
		TestName:     testName,
		ModelVersion: t.BaselineVersion,
		Arm:          domain.ArmBaseline,
	}
}

// bucket переводит идентификатор в равномерную точку [0, 1)
func bucket(patientID string) float64 {
	sum := md5.Sum([]byte(patientID))
	// Старшие 8 байт дайджеста как целое; распределение по mod 100 равномерное
	v := binary.BigEndian.Uint64(sum[:8])
	return float64(v%100) / 100.0
}

// PatientHash — усеченный односторонний дайджест для хранения вместо сырого ID
func PatientHash(patientID string) string {
	sum := sha256.Sum256([]byte(patientID))
	return hex.EncodeToString(sum[:])[:16]
}

// RecordPrediction дописывает запись в лог под версией, которую выбрал
// роутинг (не той, что модель сообщает о себе). Сброс в хранилище — каждые
// flushEvery записей; ошибка сброса логируется, но не валит прогноз:
// предсказание пациенту важнее телеметрии эксперимента.
func (m *Manager) RecordPrediction(ctx context.Context, testName, modelVersion, patientID string, features domain.FeatureVector, pred domain.Prediction) {
	rec := domain.PredictionRecord{
		TestName:     testName,
		ModelVersion: modelVersion,
		PatientHash:  PatientHash(patientID),
		Features:     features,
		Prediction:   pred,
		Timestamp:    m.now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.predictions = append(m.predictions, rec)
	m.unflushed++
	if m.unflushed < m.flushEvery {
		return
	}
	if err := m.savePredictionsLocked(ctx); err != nil {
		m.logger.Error("prediction log flush failed",
			zap.String("test", testName), zap.Error(err))
		return
	}
	m.unflushed = 0
}

// RecordOutcome проставляет фактический исход всем еще не закрытым записям
// этого пациента в тесте. Возвращает число обновленных записей.
func (m *Manager) RecordOutcome(ctx context.Context, testName, patientID, outcome string) (int, error) {
	hash := PatientHash(patientID)

	m.mu.Lock()
	defer m.mu.Unlock()

	updated := 0
	for i := range m.predictions {
		rec := &m.predictions[i]
		if rec.TestName == testName && rec.PatientHash == hash && rec.ActualOutcome == nil {
			v := outcome
			rec.ActualOutcome = &v
			updated++
		}
	}
	if updated == 0 {
		return 0, nil
	}
	if err := m.savePredictionsLocked(ctx); err != nil {
		return updated, err
	}
	m.unflushed = 0
	return updated, nil
}

// GetComparison строит сравнительный отчет baseline против challenger.
// Стороны без записей отдаются с нулевым count, без статистики — отчет
// по молодому тесту тоже валиден.
func (m *Manager) GetComparison(testName string) (*domain.Comparison, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[testName]
	if !ok {
		return nil, fmt.Errorf("abtest: test %q: %w", testName, ErrNotFound)
	}

	byVersion := map[string][]domain.PredictionRecord{}
	for _, rec := range m.predictions {
		if rec.TestName == testName {
			byVersion[rec.ModelVersion] = append(byVersion[rec.ModelVersion], rec)
		}
	}

	cmp := &domain.Comparison{
		TestName:     t.TestName,
		Status:       t.Status,
		TrafficSplit: t.TrafficSplit,
		CreatedAt:    t.CreatedAt,
		Baseline: domain.ArmReport{
			Version: t.BaselineVersion,
			Metrics: armMetrics(byVersion[t.BaselineVersion]),
		},
		Challenger: domain.ArmReport{
			Version: t.ChallengerVersion,
			Metrics: armMetrics(byVersion[t.ChallengerVersion]),
		},
	}
	cmp.TotalPredictions = cmp.Baseline.Metrics.Count + cmp.Challenger.Metrics.Count
	return cmp, nil
}

func armMetrics(records []domain.PredictionRecord) domain.ArmMetrics {
	metrics := domain.ArmMetrics{Count: len(records)}
	if len(records) == 0 {
		return metrics
	}

	probs := make([]float64, 0, len(records))
	dist := map[string]int{}
	validated, correct := 0, 0
	for _, rec := range records {
		probs = append(probs, rec.Prediction.Probability)
		dist[rec.Prediction.PredictedStatus]++
		if rec.ActualOutcome != nil {
			validated++
			if *rec.ActualOutcome == rec.Prediction.PredictedStatus {
				correct++
			}
		}
	}

	metrics.AvgProbability = stat.Mean(probs, nil)
	metrics.StdProbability = stat.PopStdDev(probs, nil)
	metrics.PredictionDistribution = dist
	metrics.ValidatedCount = validated
	if validated > 0 {
		acc := float64(correct) / float64(validated)
		metrics.Accuracy = &acc
	}
	return metrics
}

// Close сбрасывает несохраненный хвост лога прогнозов
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unflushed == 0 {
		return nil
	}
	if err := m.savePredictionsLocked(ctx); err != nil {
		return err
	}
	m.unflushed = 0
	return nil
}

func (m *Manager) saveTestsLocked(ctx context.Context) error {
	raw, err := json.Marshal(m.tests)
	if err != nil {
		return &domain.PersistenceError{Op: "encode", Key: infra.KeyABTests, Cause: err}
	}
	if err := m.store.Save(ctx, infra.KeyABTests, raw); err != nil {
		return &domain.PersistenceError{Op: "save", Key: infra.KeyABTests, Cause: err}
	}
	return nil
}

func (m *Manager) savePredictionsLocked(ctx context.Context) error {
	raw, err := json.Marshal(m.predictions)
	if err != nil {
		return &domain.PersistenceError{Op: "encode", Key: infra.KeyABPredictions, Cause: err}
	}
	if err := m.store.Save(ctx, infra.KeyABPredictions, raw); err != nil {
		return &domain.PersistenceError{Op: "save", Key: infra.KeyABPredictions, Cause: err}
	}
	return nil
}
