package drift

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Skufu/DianaV2/internal/domain"
	"github.com/Skufu/DianaV2/internal/infra"
	"github.com/Skufu/DianaV2/internal/storage"
)

func newTestMonitor(t *testing.T) (*Monitor, storage.Store) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	m, err := NewMonitor(context.Background(), store, infra.DriftConfig{Bins: 10, KSAlpha: 0.05}, zap.NewNop())
	require.NoError(t, err)
	return m, store
}

func shifted(values []float64, delta float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v + delta
	}
	return out
}

func TestCheckRequiresReference(t *testing.T) {
	m, _ := newTestMonitor(t)

	_, err := m.CheckFeatureDrift(map[string][]float64{"bmi": uniformSamples(100)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference")
}

func TestSetReferenceValidates(t *testing.T) {
	m, _ := newTestMonitor(t)

	assert.Error(t, m.SetReference(context.Background(), nil))
	assert.Error(t, m.SetReference(context.Background(), map[string][]float64{"bmi": {}}))
}

func TestNoDriftOnIdenticalData(t *testing.T) {
	m, _ := newTestMonitor(t)
	ref := uniformSamples(1000)
	require.NoError(t, m.SetReference(context.Background(), map[string][]float64{"bmi": ref}))

	report, err := m.CheckFeatureDrift(map[string][]float64{"bmi": ref})
	require.NoError(t, err)

	assert.False(t, report.HasDrift)
	assert.Equal(t, domain.SeverityNone, report.Severity)
	fd := report.FeatureDrifts["bmi"]
	assert.False(t, fd.Drifted)
	assert.InDelta(t, 0, fd.PSI, 1e-3)
	assert.Empty(t, report.Recommendations)
}

func TestDriftDetectedOnShiftedData(t *testing.T) {
	m, _ := newTestMonitor(t)
	ref := uniformSamples(1000)
	require.NoError(t, m.SetReference(context.Background(), map[string][]float64{"bmi": ref}))

	report, err := m.CheckFeatureDrift(map[string][]float64{"bmi": shifted(ref, 50)})
	require.NoError(t, err)

	assert.True(t, report.HasDrift)
	assert.Equal(t, domain.SeverityHigh, report.Severity)

	fd := report.FeatureDrifts["bmi"]
	assert.True(t, fd.Drifted)
	assert.Greater(t, fd.PSI, 0.25)
	assert.Less(t, fd.KSPValue, 0.05)
	assert.InDelta(t, fd.ReferenceMean+50, fd.CurrentMean, 1e-6)

	// Ретрейн за high severity, сдвиг среднего > 20% — обе рекомендации
	assert.NotEmpty(t, report.Recommendations)
}

func TestUnmatchedFeaturesSkipped(t *testing.T) {
	m, _ := newTestMonitor(t)
	ref := uniformSamples(500)
	require.NoError(t, m.SetReference(context.Background(), map[string][]float64{"bmi": ref}))

	report, err := m.CheckFeatureDrift(map[string][]float64{
		"bmi":     ref,
		"unknown": uniformSamples(500),
	})
	require.NoError(t, err)

	assert.Contains(t, report.FeatureDrifts, "bmi")
	assert.NotContains(t, report.FeatureDrifts, "unknown")
}

func TestSeverityGradesByPSI(t *testing.T) {
	m, _ := newTestMonitor(t)
	ref := uniformSamples(1000)

	// Сдвиги по нарастающей дают монотонно неубывающую тяжесть
	prev := 0
	for _, delta := range []float64{0, 5, 15, 30, 60} {
		fd := m.featureDrift(ref, shifted(ref, delta))
		rank := fd.Severity.Rank()
		assert.GreaterOrEqual(t, rank, prev, "delta %g", delta)
		prev = rank
	}

	assert.Equal(t, domain.SeverityNone, m.featureDrift(ref, ref).Severity)
	assert.Equal(t, domain.SeverityHigh, m.featureDrift(ref, shifted(ref, 60)).Severity)
}

func TestAlertLifecycle(t *testing.T) {
	m, _ := newTestMonitor(t)
	ref := uniformSamples(1000)
	require.NoError(t, m.SetReference(context.Background(), map[string][]float64{"bmi": ref}))

	report, err := m.CheckFeatureDrift(map[string][]float64{"bmi": shifted(ref, 50)})
	require.NoError(t, err)

	alert, err := m.CreateAlert(context.Background(), report)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "drift", alert.AlertType)
	assert.Contains(t, alert.Details.Features, "bmi")

	unacked := m.GetAlerts(true, 0)
	require.Len(t, unacked, 1)

	ok, err := m.AcknowledgeAlert(context.Background(), alert.Timestamp)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, m.GetAlerts(true, 0))
	assert.Len(t, m.GetAlerts(false, 0), 1)

	// Повторное квитирование и несуществующий timestamp
	ok, err = m.AcknowledgeAlert(context.Background(), alert.Timestamp)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = m.AcknowledgeAlert(context.Background(), time.Unix(0, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNoAlertWithoutDrift(t *testing.T) {
	m, _ := newTestMonitor(t)
	ref := uniformSamples(1000)
	require.NoError(t, m.SetReference(context.Background(), map[string][]float64{"bmi": ref}))

	report, err := m.CheckFeatureDrift(map[string][]float64{"bmi": ref})
	require.NoError(t, err)

	alert, err := m.CreateAlert(context.Background(), report)
	require.NoError(t, err)
	assert.Nil(t, alert)
	assert.Empty(t, m.GetAlerts(false, 0))
}

func TestAlertsNewestFirstWithLimit(t *testing.T) {
	m, _ := newTestMonitor(t)
	ref := uniformSamples(1000)
	require.NoError(t, m.SetReference(context.Background(), map[string][]float64{"bmi": ref}))

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		m.now = func() time.Time { return tick }

		report, err := m.CheckFeatureDrift(map[string][]float64{"bmi": shifted(ref, 50)})
		require.NoError(t, err)
		_, err = m.CreateAlert(context.Background(), report)
		require.NoError(t, err)
	}

	alerts := m.GetAlerts(false, 2)
	require.Len(t, alerts, 2)
	assert.True(t, alerts[0].Timestamp.After(alerts[1].Timestamp))
	assert.Equal(t, base.Add(2*time.Minute), alerts[0].Timestamp)
}

func TestStateRestoredFromStore(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	cfg := infra.DriftConfig{Bins: 10, KSAlpha: 0.05}

	m, err := NewMonitor(context.Background(), store, cfg, zap.NewNop())
	require.NoError(t, err)

	ref := uniformSamples(1000)
	require.NoError(t, m.SetReference(context.Background(), map[string][]float64{"bmi": ref}))
	report, err := m.CheckFeatureDrift(map[string][]float64{"bmi": shifted(ref, 50)})
	require.NoError(t, err)
	_, err = m.CreateAlert(context.Background(), report)
	require.NoError(t, err)

	// Новый процесс видит и референс, и журнал алертов
	reopened, err := NewMonitor(context.Background(), store, cfg, zap.NewNop())
	require.NoError(t, err)

	status := reopened.Status()
	assert.True(t, status.ReferenceSet)
	assert.Equal(t, []string{"bmi"}, status.ReferenceFeatures)
	assert.Equal(t, 1, status.TotalAlerts)
	assert.Equal(t, 1, status.UnacknowledgedAlerts)
	require.NotNil(t, status.LastAlertAt)
}
