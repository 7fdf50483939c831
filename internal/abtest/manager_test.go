package abtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Skufu/DianaV2/internal/domain"
	"github.com/Skufu/DianaV2/internal/infra"
	"github.com/Skufu/DianaV2/internal/storage"
)

func newTestManager(t *testing.T, flushEvery int) (*Manager, storage.Store) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	m, err := NewManager(context.Background(), store, infra.ABTestConfig{FlushEvery: flushEvery}, zap.NewNop())
	require.NoError(t, err)
	return m, store
}

func activeTest(name string, split float64) domain.ABTestConfig {
	return domain.ABTestConfig{
		TestName:          name,
		BaselineVersion:   "clinical-v1",
		ChallengerVersion: "clinical-v2",
		TrafficSplit:      split,
	}
}

func TestCreateAndGet(t *testing.T) {
	m, _ := newTestManager(t, 10)

	created, err := m.Create(context.Background(), activeTest("exp-1", 0.3))
	require.NoError(t, err)
	assert.Equal(t, domain.TestActive, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	got, ok := m.Get("exp-1")
	require.True(t, ok)
	assert.Equal(t, 0.3, got.TrafficSplit)
}

func TestCreateRejectsDuplicate(t *testing.T) {
	m, _ := newTestManager(t, 10)

	_, err := m.Create(context.Background(), activeTest("exp-1", 0.5))
	require.NoError(t, err)

	_, err = m.Create(context.Background(), activeTest("exp-1", 0.1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCreateValidatesSplit(t *testing.T) {
	m, _ := newTestManager(t, 10)

	for _, split := range []float64{-0.1, 1.5} {
		_, err := m.Create(context.Background(), activeTest("exp-bad", split))
		require.Error(t, err, "split %g must be rejected", split)
	}
}

func TestRouteDeterministic(t *testing.T) {
	m, _ := newTestManager(t, 10)
	_, err := m.Create(context.Background(), activeTest("exp-1", 0.5))
	require.NoError(t, err)

	first := m.Route("exp-1", "patient-42")
	for i := 0; i < 100; i++ {
		again := m.Route("exp-1", "patient-42")
		require.Equal(t, first.ModelVersion, again.ModelVersion)
		require.Equal(t, first.Arm, again.Arm)
	}
}

func TestRouteSplitBoundaries(t *testing.T) {
	m, _ := newTestManager(t, 10)
	_, err := m.Create(context.Background(), activeTest("all-baseline", 0))
	require.NoError(t, err)
	_, err = m.Create(context.Background(), domain.ABTestConfig{
		TestName:          "all-challenger",
		BaselineVersion:   "clinical-v1",
		ChallengerVersion: "clinical-v2",
		TrafficSplit:      1,
	})
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("patient-%d", i)
		require.Equal(t, domain.ArmBaseline, m.Route("all-baseline", id).Arm)
		require.Equal(t, domain.ArmChallenger, m.Route("all-challenger", id).Arm)
	}
}

func TestRouteFairness(t *testing.T) {
	m, _ := newTestManager(t, 10)
	_, err := m.Create(context.Background(), activeTest("exp-1", 0.2))
	require.NoError(t, err)

	challenger := 0
	const total = 10000
	for i := 0; i < total; i++ {
		if m.Route("exp-1", fmt.Sprintf("patient-%d", i)).Arm == domain.ArmChallenger {
			challenger++
		}
	}

	frac := float64(challenger) / total
	assert.InDelta(t, 0.2, frac, 0.05, "challenger share should track traffic split")
}

func TestRouteFailSafe(t *testing.T) {
	m, _ := newTestManager(t, 10)

	// Неизвестный тест — baseline без версии
	d := m.Route("ghost", "patient-1")
	assert.Equal(t, domain.ArmBaseline, d.Arm)
	assert.Empty(t, d.ModelVersion)

	// Приостановленный тест — baseline его конфигурации
	_, err := m.Create(context.Background(), activeTest("exp-1", 1))
	require.NoError(t, err)
	_, err = m.UpdateStatus(context.Background(), "exp-1", domain.TestPaused)
	require.NoError(t, err)

	d = m.Route("exp-1", "patient-1")
	assert.Equal(t, domain.ArmBaseline, d.Arm)
	assert.Equal(t, "clinical-v1", d.ModelVersion)
}

func TestUpdateStatusCompletedSetsEndAt(t *testing.T) {
	m, _ := newTestManager(t, 10)
	_, err := m.Create(context.Background(), activeTest("exp-1", 0.5))
	require.NoError(t, err)

	updated, err := m.UpdateStatus(context.Background(), "exp-1", domain.TestCompleted)
	require.NoError(t, err)
	require.NotNil(t, updated.EndAt)

	_, err = m.UpdateStatus(context.Background(), "ghost", domain.TestActive)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPatientHashTruncated(t *testing.T) {
	h := PatientHash("patient-secret-7")
	assert.Len(t, h, 16)
	assert.NotContains(t, h, "patient")
	assert.Equal(t, h, PatientHash("patient-secret-7"))
	assert.NotEqual(t, h, PatientHash("patient-secret-8"))
}

func TestOutcomeBackfill(t *testing.T) {
	m, _ := newTestManager(t, 100)
	_, err := m.Create(context.Background(), activeTest("exp-1", 0.5))
	require.NoError(t, err)

	pred := domain.Prediction{ModelVersion: "clinical-v1", PredictedStatus: "Diabetic", Probability: 0.8}
	m.RecordPrediction(context.Background(), "exp-1", "clinical-v1", "patient-1", nil, pred)
	m.RecordPrediction(context.Background(), "exp-1", "clinical-v1", "patient-1", nil, pred)
	m.RecordPrediction(context.Background(), "exp-1", "clinical-v1", "patient-2", nil, pred)

	// Оба незакрытых прогноза пациента получают исход
	updated, err := m.RecordOutcome(context.Background(), "exp-1", "patient-1", "Diabetic")
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	// Повторный исход не перезаписывает уже закрытые записи
	updated, err = m.RecordOutcome(context.Background(), "exp-1", "patient-1", "Normal")
	require.NoError(t, err)
	assert.Zero(t, updated)

	updated, err = m.RecordOutcome(context.Background(), "exp-1", "patient-ghost", "Normal")
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func TestFlushAndRestore(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	m, err := NewManager(context.Background(), store, infra.ABTestConfig{FlushEvery: 2}, zap.NewNop())
	require.NoError(t, err)

	_, err = m.Create(context.Background(), activeTest("exp-1", 0.5))
	require.NoError(t, err)

	pred := domain.Prediction{ModelVersion: "clinical-v1", PredictedStatus: "Normal", Probability: 0.2}
	m.RecordPrediction(context.Background(), "exp-1", "clinical-v1", "patient-1", nil, pred)
	m.RecordPrediction(context.Background(), "exp-1", "clinical-v1", "patient-2", nil, pred)
	m.RecordPrediction(context.Background(), "exp-1", "clinical-v1", "patient-3", nil, pred) // хвост, не сброшен

	// До Close персистнуты только первые две записи
	reopened, err := NewManager(context.Background(), store, infra.ABTestConfig{FlushEvery: 2}, zap.NewNop())
	require.NoError(t, err)
	cmp, err := reopened.GetComparison("exp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, cmp.TotalPredictions)

	// Close добирает хвост
	require.NoError(t, m.Close(context.Background()))
	reopened, err = NewManager(context.Background(), store, infra.ABTestConfig{FlushEvery: 2}, zap.NewNop())
	require.NoError(t, err)
	cmp, err = reopened.GetComparison("exp-1")
	require.NoError(t, err)
	assert.Equal(t, 3, cmp.TotalPredictions)
}

func TestComparison(t *testing.T) {
	m, _ := newTestManager(t, 100)
	_, err := m.Create(context.Background(), activeTest("exp-1", 0.5))
	require.NoError(t, err)

	base := domain.Prediction{ModelVersion: "clinical-v1", PredictedStatus: "Normal", Probability: 0.2}
	chal := domain.Prediction{ModelVersion: "clinical-v2", PredictedStatus: "Diabetic", Probability: 0.8}

	m.RecordPrediction(context.Background(), "exp-1", "clinical-v1", "patient-1", nil, base)
	m.RecordPrediction(context.Background(), "exp-1", "clinical-v1", "patient-2", nil, base)
	m.RecordPrediction(context.Background(), "exp-1", "clinical-v2", "patient-3", nil, chal)

	// Исходы: baseline угадал пациента 1, промахнулся на пациенте 2
	_, err = m.RecordOutcome(context.Background(), "exp-1", "patient-1", "Normal")
	require.NoError(t, err)
	_, err = m.RecordOutcome(context.Background(), "exp-1", "patient-2", "Diabetic")
	require.NoError(t, err)

	cmp, err := m.GetComparison("exp-1")
	require.NoError(t, err)

	assert.Equal(t, 3, cmp.TotalPredictions)
	assert.Equal(t, 2, cmp.Baseline.Metrics.Count)
	assert.Equal(t, 1, cmp.Challenger.Metrics.Count)
	assert.InDelta(t, 0.2, cmp.Baseline.Metrics.AvgProbability, 1e-9)
	assert.Equal(t, 2, cmp.Baseline.Metrics.ValidatedCount)
	require.NotNil(t, cmp.Baseline.Metrics.Accuracy)
	assert.InDelta(t, 0.5, *cmp.Baseline.Metrics.Accuracy, 1e-9)
	assert.Nil(t, cmp.Challenger.Metrics.Accuracy, "no validated records yet")
	assert.Equal(t, map[string]int{"Normal": 2}, cmp.Baseline.Metrics.PredictionDistribution)
}

func TestComparisonEmptyArms(t *testing.T) {
	m, _ := newTestManager(t, 100)
	_, err := m.Create(context.Background(), activeTest("exp-1", 0.5))
	require.NoError(t, err)

	cmp, err := m.GetComparison("exp-1")
	require.NoError(t, err)
	assert.Zero(t, cmp.Baseline.Metrics.Count)
	assert.Zero(t, cmp.Challenger.Metrics.Count)
	assert.Zero(t, cmp.TotalPredictions)

	_, err = m.GetComparison("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteWithPurge(t *testing.T) {
	m, store := newTestManager(t, 1)
	_, err := m.Create(context.Background(), activeTest("exp-1", 0.5))
	require.NoError(t, err)

	pred := domain.Prediction{ModelVersion: "clinical-v1", PredictedStatus: "Normal"}
	m.RecordPrediction(context.Background(), "exp-1", "clinical-v1", "patient-1", nil, pred)

	require.NoError(t, m.Delete(context.Background(), "exp-1", true))
	_, ok := m.Get("exp-1")
	assert.False(t, ok)

	// Лог вычищен и на диске тоже
	reopened, err := NewManager(context.Background(), store, infra.ABTestConfig{FlushEvery: 1}, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, reopened.List(""))

	assert.ErrorIs(t, m.Delete(context.Background(), "ghost", false), ErrNotFound)
}

// flakyStore имитирует отказ записи в нужный момент теста
type flakyStore struct {
	storage.Store
	failSaves bool
}

func (s *flakyStore) Save(ctx context.Context, key string, value []byte) error {
	if s.failSaves {
		return fmt.Errorf("disk full")
	}
	return s.Store.Save(ctx, key, value)
}

func TestDeleteRollsBackOnSaveFailure(t *testing.T) {
	fileStore, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := &flakyStore{Store: fileStore}

	m, err := NewManager(context.Background(), store, infra.ABTestConfig{FlushEvery: 1}, zap.NewNop())
	require.NoError(t, err)
	_, err = m.Create(context.Background(), activeTest("exp-1", 0.5))
	require.NoError(t, err)

	pred := domain.Prediction{ModelVersion: "clinical-v1", PredictedStatus: "Normal"}
	m.RecordPrediction(context.Background(), "exp-1", "clinical-v1", "patient-1", nil, pred)

	store.failSaves = true
	require.Error(t, m.Delete(context.Background(), "exp-1", true))

	// Память не разъехалась с хранилищем: тест и его записи на месте
	_, ok := m.Get("exp-1")
	assert.True(t, ok)
	cmp, err := m.GetComparison("exp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cmp.Baseline.Metrics.Count)

	store.failSaves = false
	require.NoError(t, m.Delete(context.Background(), "exp-1", true))
	_, ok = m.Get("exp-1")
	assert.False(t, ok)
}

func TestListFiltersByStatus(t *testing.T) {
	m, _ := newTestManager(t, 10)

	now := time.Now()
	m.now = func() time.Time { now = now.Add(time.Second); return now }

	_, err := m.Create(context.Background(), activeTest("exp-1", 0.5))
	require.NoError(t, err)
	_, err = m.Create(context.Background(), activeTest("exp-2", 0.5))
	require.NoError(t, err)
	_, err = m.UpdateStatus(context.Background(), "exp-1", domain.TestPaused)
	require.NoError(t, err)

	all := m.List("")
	require.Len(t, all, 2)
	assert.Equal(t, "exp-2", all[0].TestName, "newest first")

	paused := m.List(domain.TestPaused)
	require.Len(t, paused, 1)
	assert.Equal(t, "exp-1", paused[0].TestName)
}
